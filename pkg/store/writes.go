package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/leadfive/ledgerview/pkg/journal"
	"github.com/leadfive/ledgerview/pkg/ledger"
	"github.com/leadfive/ledgerview/pkg/types"
)

// Withdraw submits a withdrawal, guarded by the available balance when it
// was read from the ledger. Errors are returned unchanged and leave the
// state untouched.
func (s *Store) Withdraw(ctx context.Context, amount decimal.Decimal) (*ledger.PendingTransaction, error) {
	_, st := s.current()
	if st.phase != PhaseReady {
		return nil, types.ErrNotInitialized
	}
	var opts []ledger.WriteOption
	if st.earnings.BalanceKnown {
		opts = append(opts, ledger.WithAvailableBalance(st.earnings.Available))
	}
	pending, err := s.deps.Gateway.Withdraw(ctx, amount, opts...)
	if err != nil {
		return nil, err
	}
	s.confirmThenRefresh(pending, types.DomainEarnings, types.DomainDashboard)
	return pending, nil
}

// Register joins the ledger under referrer with the given package level
func (s *Store) Register(ctx context.Context, referrer common.Address, level uint8) (*ledger.PendingTransaction, error) {
	_, st := s.current()
	if st.phase != PhaseReady {
		return nil, types.ErrNotInitialized
	}
	pending, err := s.deps.Gateway.Register(ctx, referrer, level)
	if err != nil {
		return nil, err
	}
	s.confirmThenRefresh(pending)
	return pending, nil
}

// UpgradePackage moves the account to a higher package level
func (s *Store) UpgradePackage(ctx context.Context, level uint8) (*ledger.PendingTransaction, error) {
	_, st := s.current()
	if st.phase != PhaseReady {
		return nil, types.ErrNotInitialized
	}
	pending, err := s.deps.Gateway.UpgradePackage(ctx, level)
	if err != nil {
		return nil, err
	}
	s.confirmThenRefresh(pending, types.DomainDashboard, types.DomainEarnings)
	return pending, nil
}

// PendingJournal persists submitted writes until their receipt is seen.
// Implemented by journal.Journal.
type PendingJournal interface {
	Record(pending *ledger.PendingTransaction, chainID int64) error
	Resolve(hash common.Hash) error
	Pending(account common.Address, chainID int64) ([]journal.Entry, error)
}

// confirmThenRefresh journals the write, waits for the receipt in the
// background and refreshes the affected domains once it succeeded
func (s *Store) confirmThenRefresh(pending *ledger.PendingTransaction, domains ...types.Domain) {
	if s.cfg.Journal != nil {
		_, st := s.current()
		if err := s.cfg.Journal.Record(pending, st.account.ChainID); err != nil {
			s.log.Warn().Err(err).Str("tx", pending.Hash.Hex()).Msg("Failed to journal pending write")
		}
	}
	s.awaitConfirmation(pending.Hash, pending.Method, domains...)
}

func (s *Store) awaitConfirmation(hash common.Hash, method string, domains ...types.Domain) {
	log := s.log.With().Str("method", method).Str("tx", hash.Hex()).Logger()
	s.background(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.MineTimeout)
		defer cancel()

		_, err := s.deps.Gateway.WaitMined(ctx, hash)
		if err != nil && ctx.Err() != nil {
			log.Warn().Err(err).Msg("Stopped waiting for confirmation")
			return
		}
		s.resolve(hash)
		if err != nil {
			log.Warn().Err(err).Msg("Transaction not confirmed")
			return
		}
		log.Info().Msg("Transaction confirmed, refreshing")
		s.refreshLogged(ctx, domains...)
	})
}

func (s *Store) resolve(hash common.Hash) {
	if s.cfg.Journal == nil {
		return
	}
	if err := s.cfg.Journal.Resolve(hash); err != nil {
		s.log.Warn().Err(err).Str("tx", hash.Hex()).Msg("Failed to clear journal entry")
	}
}

// resumePending waits again for writes journaled by a previous run
func (s *Store) resumePending(account types.Account) {
	if s.cfg.Journal == nil {
		return
	}
	entries, err := s.cfg.Journal.Pending(account.Address, account.ChainID)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read write journal")
		return
	}
	for _, e := range entries {
		s.log.Info().Str("tx", e.TxHash).Str("method", e.Method).Msg("Resuming confirmation of journaled write")
		s.awaitConfirmation(e.Hash(), e.Method)
	}
}
