// Command simulate runs one initialization pass against the configured ledger
// and prints the resulting state. Without PRIVATE_KEY an ephemeral key is used,
// which is enough for reads.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/leadfive/ledgerview/internal/config"
	"github.com/leadfive/ledgerview/internal/logger"
	"github.com/leadfive/ledgerview/pkg/aggregate"
	"github.com/leadfive/ledgerview/pkg/ledger"
	"github.com/leadfive/ledgerview/pkg/pipeline"
	"github.com/leadfive/ledgerview/pkg/store"
	"github.com/leadfive/ledgerview/pkg/types"
	"github.com/leadfive/ledgerview/pkg/wallet"
)

func main() {
	domainFlag := flag.String("domain", "", "Print a single domain (dashboard, earnings, referrals)")
	follow := flag.Duration("follow", 0, "Keep listening for ledger events for this long before printing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true, Output: os.Stderr})

	gw, err := ledger.New(ledger.Config{
		Endpoint:        cfg.RPCEndpoint,
		ContractAddress: common.HexToAddress(cfg.ContractAddress),
		ChainID:         cfg.ChainID,
		Retry: ledger.RetryPolicy{
			MaxAttempts: cfg.ReadMaxAttempts,
			BaseDelay:   cfg.ReadBaseDelay,
			MaxDelay:    cfg.ReadMaxDelay,
		},
	}, ledger.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ledger gateway")
	}

	aggCfg := aggregate.Config{TTL: cfg.CacheTTL, Logger: log}
	st, err := store.New(store.Deps{
		Gateway:   gw,
		Dashboard: aggregate.NewDashboard(gw, aggCfg),
		Earnings:  aggregate.NewEarnings(gw, aggCfg),
		Referrals: aggregate.NewReferrals(gw, aggCfg),
		Pipeline:  pipeline.New(gw, log),
	}, store.Config{InitTimeout: cfg.InitTimeout, ActivityLimit: cfg.ActivityLimit, Logger: log})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create store")
	}

	key := cfg.PrivateKey
	if key == "" {
		ephemeral, err := crypto.GenerateKey()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to generate key")
		}
		key = hex.EncodeToString(crypto.FromECDSA(ephemeral))
		log.Info().Msg("PRIVATE_KEY not set, using an ephemeral read-only key")
	}
	provider, err := wallet.NewKeyProvider(cfg.ChainID, key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load wallet")
	}
	defer provider.Close()

	ctx := context.Background()
	if err := st.Initialize(ctx, provider); err != nil {
		log.Fatal().Err(err).Msg("Initialization failed")
	}
	defer st.Teardown()

	if *follow > 0 {
		log.Info().Dur("for", *follow).Msg("Listening for ledger events")
		time.Sleep(*follow)
	}

	snap := st.Snapshot()
	var out interface{} = map[string]interface{}{
		"overview":   store.SelectOverview(snap),
		"breakdown":  store.SelectBreakdown(snap),
		"team":       store.SelectTeamStats(snap),
		"connection": store.SelectConnection(snap),
		"errors":     store.ErrorList(snap),
		"activity":   snap.RecentActivity,
	}
	if *domainFlag != "" {
		d, err := types.ParseDomain(*domainFlag)
		if err != nil {
			log.Fatal().Err(err).Str("domain", *domainFlag).Msg("Unknown domain")
		}
		switch d {
		case types.DomainDashboard:
			out = snap.Dashboard
		case types.DomainEarnings:
			out = snap.Earnings
		case types.DomainReferrals:
			out = snap.Referrals
		}
	}

	output, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(output))
}
