package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/leadfive/ledgerview/pkg/types"
)

// EventHandler receives decoded events in emission order
type EventHandler func(types.LedgerEvent)

// Unsubscribe stops a subscription. Safe to call more than once.
type Unsubscribe func()

// EventFilter narrows a subscription to the first indexed address
// (user for most events, sponsor for NewReferral)
type EventFilter struct {
	Account common.Address
}

// Subscribe registers handler for one contract event. Logs removed by a
// reorg are dropped; logs that cannot be decoded are logged and skipped.
// Endpoints without push support are polled instead.
func (g *Gateway) Subscribe(ctx context.Context, name types.EventName, filter EventFilter, handler EventHandler) (Unsubscribe, error) {
	event, ok := g.abi.Events[string(name)]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", name)
	}
	backend := g.currentBackend()
	if backend == nil {
		return nil, types.ErrNotConnected
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{g.cfg.ContractAddress},
		Topics:    [][]common.Hash{{event.ID}},
	}
	if filter.Account != (common.Address{}) {
		query.Topics = append(query.Topics, []common.Hash{common.BytesToHash(filter.Account.Bytes())})
	}

	subCtx, cancel := context.WithCancel(ctx)
	log := g.log.With().Str("event", string(name)).Logger()

	logs := make(chan ethtypes.Log, 64)
	sub, err := backend.SubscribeFilterLogs(subCtx, query, logs)
	switch {
	case err == nil:
		go g.consume(subCtx, sub, logs, handler)
	case errors.Is(err, rpc.ErrNotificationsUnsupported):
		log.Debug().Msg("Push unsupported, polling logs")
		go g.poll(subCtx, backend, query, handler)
	default:
		cancel()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", name, err)
	}

	log.Info().Str("account", filter.Account.Hex()).Msg("Subscribed to ledger event")

	var once sync.Once
	return func() {
		once.Do(cancel)
	}, nil
}

func (g *Gateway) consume(ctx context.Context, sub ethereum.Subscription, logs <-chan ethtypes.Log, handler EventHandler) {
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				g.log.Error().Err(err).Msg("Event subscription dropped")
			}
			return
		case lg := <-logs:
			g.dispatch(ctx, lg, handler)
		}
	}
}

// poll starts after the head seen on the first successful BlockNumber call.
// Until then no range is queried, so history is never replayed.
func (g *Gateway) poll(ctx context.Context, backend Backend, query ethereum.FilterQuery, handler EventHandler) {
	var next uint64
	if head, err := backend.BlockNumber(ctx); err != nil {
		g.log.Warn().Err(err).Msg("Failed to read head block, waiting for next poll")
	} else {
		next = head + 1
	}

	ticker := time.NewTicker(g.cfg.LogPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			head, err := backend.BlockNumber(ctx)
			if err != nil {
				g.log.Debug().Err(err).Msg("Log poll failed")
				continue
			}
			if next == 0 {
				g.log.Debug().Uint64("head", head).Msg("Polling logs from head")
				next = head + 1
				continue
			}
			if head < next {
				continue
			}
			q := query
			q.FromBlock = new(big.Int).SetUint64(next)
			q.ToBlock = new(big.Int).SetUint64(head)
			found, err := backend.FilterLogs(ctx, q)
			if err != nil {
				g.log.Debug().Err(err).Msg("Log poll failed")
				continue
			}
			for _, lg := range found {
				g.dispatch(ctx, lg, handler)
			}
			next = head + 1
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, lg ethtypes.Log, handler EventHandler) {
	if ctx.Err() != nil {
		return
	}
	if lg.Removed {
		g.log.Debug().Str("tx_hash", lg.TxHash.Hex()).Msg("Dropping reorged log")
		return
	}
	event, err := g.DecodeLog(lg)
	if err != nil {
		g.log.Error().Err(err).Str("tx_hash", lg.TxHash.Hex()).Uint("log_index", lg.Index).Msg("Undecodable ledger event")
		return
	}
	handler(event)
}

// DecodeLog turns a contract log into its typed event
func (g *Gateway) DecodeLog(lg ethtypes.Log) (types.LedgerEvent, error) {
	if len(lg.Topics) < 2 {
		return nil, fmt.Errorf("log has %d topics", len(lg.Topics))
	}
	event, err := g.abi.EventByID(lg.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("unknown event signature: %w", err)
	}

	meta := types.EventMeta{
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		ObservedAt:  g.now(),
	}
	first := common.BytesToAddress(lg.Topics[1].Bytes())

	switch types.EventName(event.Name) {
	case types.EventEarningsUpdated:
		var data struct {
			Amount       *big.Int
			EarningsType uint8
		}
		if err := g.abi.UnpackIntoInterface(&data, event.Name, lg.Data); err != nil {
			return nil, fmt.Errorf("failed to unpack %s: %w", event.Name, err)
		}
		return types.EarningsUpdated{
			Meta:   meta,
			User:   first.Hex(),
			Amount: FromWei(data.Amount),
			Stream: types.StreamFromCode(data.EarningsType),
		}, nil

	case types.EventNewReferral:
		if len(lg.Topics) < 3 {
			return nil, fmt.Errorf("%s log missing referral topic", event.Name)
		}
		var data struct {
			PackageValue *big.Int
		}
		if err := g.abi.UnpackIntoInterface(&data, event.Name, lg.Data); err != nil {
			return nil, fmt.Errorf("failed to unpack %s: %w", event.Name, err)
		}
		return types.NewReferral{
			Meta:         meta,
			Sponsor:      first.Hex(),
			Referral:     common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
			PackageValue: FromWei(data.PackageValue),
		}, nil

	case types.EventWithdrawalProcessed:
		var data struct {
			Amount *big.Int
			Fee    *big.Int
		}
		if err := g.abi.UnpackIntoInterface(&data, event.Name, lg.Data); err != nil {
			return nil, fmt.Errorf("failed to unpack %s: %w", event.Name, err)
		}
		return types.WithdrawalProcessed{
			Meta:   meta,
			User:   first.Hex(),
			Amount: FromWei(data.Amount),
			Fee:    FromWei(data.Fee),
		}, nil

	case types.EventPackageUpgraded:
		var data struct {
			OldPackage uint8
			NewPackage uint8
			AmountPaid *big.Int
		}
		if err := g.abi.UnpackIntoInterface(&data, event.Name, lg.Data); err != nil {
			return nil, fmt.Errorf("failed to unpack %s: %w", event.Name, err)
		}
		return types.PackageUpgraded{
			Meta:       meta,
			User:       first.Hex(),
			OldLevel:   data.OldPackage,
			NewLevel:   data.NewPackage,
			AmountPaid: FromWei(data.AmountPaid),
		}, nil
	}

	return nil, fmt.Errorf("unhandled event %s", event.Name)
}
