package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/leadfive/ledgerview/internal/config"
	"github.com/leadfive/ledgerview/internal/logger"
	"github.com/leadfive/ledgerview/internal/server"
	"github.com/leadfive/ledgerview/pkg/aggregate"
	"github.com/leadfive/ledgerview/pkg/journal"
	"github.com/leadfive/ledgerview/pkg/ledger"
	"github.com/leadfive/ledgerview/pkg/metrics"
	"github.com/leadfive/ledgerview/pkg/pipeline"
	"github.com/leadfive/ledgerview/pkg/session"
	"github.com/leadfive/ledgerview/pkg/store"
	"github.com/leadfive/ledgerview/pkg/version"
	"github.com/leadfive/ledgerview/pkg/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)
	log.Info().Msg(version.GetFullVersionString())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New("ledgerview")

	gw, err := ledger.New(ledger.Config{
		Endpoint:        cfg.RPCEndpoint,
		ContractAddress: common.HexToAddress(cfg.ContractAddress),
		ChainID:         cfg.ChainID,
		Retry: ledger.RetryPolicy{
			MaxAttempts: cfg.ReadMaxAttempts,
			BaseDelay:   cfg.ReadBaseDelay,
			MaxDelay:    cfg.ReadMaxDelay,
		},
	}, ledger.WithLogger(log), ledger.WithMetrics(m))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ledger gateway")
	}

	aggCfg := aggregate.Config{TTL: cfg.CacheTTL, Logger: log, Metrics: m}
	if cfg.RedisAddr != "" {
		client, err := aggregate.NewRedisClient(ctx, aggregate.RedisConfig{Address: cfg.RedisAddr})
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unavailable, using in-process cache")
		} else {
			defer client.Close()
			aggCfg.Redis = client
			log.Info().Str("addr", cfg.RedisAddr).Msg("Sharing view-model cache through Redis")
		}
	}

	pending := journal.New(cfg.JournalDir)
	if n, err := pending.CleanupOld(7 * 24 * time.Hour); err != nil {
		log.Warn().Err(err).Msg("Failed to prune write journal")
	} else if n > 0 {
		log.Info().Int("removed", n).Msg("Pruned stale journal entries")
	}

	events := pipeline.New(gw, log)
	st, err := store.New(store.Deps{
		Gateway:   gw,
		Dashboard: aggregate.NewDashboard(gw, aggCfg),
		Earnings:  aggregate.NewEarnings(gw, aggCfg),
		Referrals: aggregate.NewReferrals(gw, aggCfg),
		Pipeline:  events,
	}, store.Config{
		InitTimeout:   cfg.InitTimeout,
		LiveInterval:  cfg.LiveInterval,
		ActivityLimit: cfg.ActivityLimit,
		Journal:       pending,
		Logger:        log,
		Metrics:       m,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create store")
	}

	provider, err := newProvider(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load wallet")
	}

	conn := &connector{
		store:    st,
		provider: provider,
		sessions: openSessions(cfg, log),
		log:      log,
	}
	go func() {
		if err := conn.Connect(ctx); err != nil {
			log.Error().Err(err).Msg("Wallet connection failed, waiting for reconnect")
		}
	}()

	srv := server.New(server.Config{
		Port:     cfg.Port,
		Log:      log,
		Store:    st,
		Metrics:  m,
		CacheTTL: cfg.CacheTTL,
		Connect:  conn.Connect,
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	st.Teardown()
	st.Wait()
	if provider != nil {
		provider.Close()
	}
}

// newProvider loads the signing wallet. Without PRIVATE_KEY the service
// starts unconnected and reports a no-provider connection error.
func newProvider(cfg *config.Config) (*wallet.KeyProvider, error) {
	if cfg.PrivateKey == "" {
		return nil, nil
	}
	keys := strings.Split(cfg.PrivateKey, ",")
	return wallet.NewKeyProvider(cfg.ChainID, keys...)
}

func openSessions(cfg *config.Config, log zerolog.Logger) *session.Manager {
	if cfg.SessionSecret == "" {
		return nil
	}
	mgr, err := session.NewManager(cfg.SessionFile, []byte(cfg.SessionSecret))
	if err != nil {
		log.Warn().Err(err).Msg("Session persistence disabled")
		return nil
	}
	return mgr
}

// connector runs wallet connection at startup and on POST /api/connect.
// Attempts are serialized.
type connector struct {
	mu       sync.Mutex
	store    *store.Store
	provider *wallet.KeyProvider
	sessions *session.Manager
	log      zerolog.Logger
}

func (c *connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var p wallet.Provider
	if c.provider != nil {
		p = c.provider
	}

	if c.sessions != nil {
		desc, err := c.sessions.Load()
		switch {
		case err != nil:
			c.log.Warn().Err(err).Msg("Ignoring unreadable session")
		case desc != nil:
			c.log.Info().Str("account", desc.AccountAddress).Time("since", desc.Timestamp).Msg("Resuming session")
			if c.provider != nil && !strings.EqualFold(desc.AccountAddress, c.provider.Active().Hex()) {
				if err := c.provider.Switch(common.HexToAddress(desc.AccountAddress)); err != nil {
					c.log.Warn().Err(err).Msg("Stored account not available in wallet")
				}
			}
		}
	}

	if err := c.store.Initialize(ctx, p); err != nil {
		return err
	}

	if c.sessions != nil && c.provider != nil {
		snap := c.store.Snapshot()
		if err := c.sessions.Save(&session.Descriptor{
			AccountAddress: snap.Account.Address.Hex(),
			ChainID:        snap.Account.ChainID,
			WalletType:     c.provider.Type(),
		}); err != nil {
			c.log.Warn().Err(err).Msg("Failed to persist session")
		}
	}
	return nil
}
