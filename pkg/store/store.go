package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/leadfive/ledgerview/pkg/ledger"
	"github.com/leadfive/ledgerview/pkg/metrics"
	"github.com/leadfive/ledgerview/pkg/types"
	"github.com/leadfive/ledgerview/pkg/wallet"
)

const (
	DefaultInitTimeout   = 10 * time.Second
	DefaultLiveInterval  = 30 * time.Second
	DefaultActivityLimit = 10
	DefaultMineTimeout   = 5 * time.Minute
)

// ViewSource produces one domain's view model. Implemented by aggregate.Aggregator.
type ViewSource[T any] interface {
	GetViewModel(ctx context.Context, account types.Account) (T, error)
	Invalidate(ctx context.Context, account types.Account)
	Clear(ctx context.Context)
}

// Gateway is the subset of ledger.Gateway the store drives
type Gateway interface {
	Connect(ctx context.Context, provider wallet.Provider) (types.Account, error)
	Disconnect()
	OnChange(fn func(wallet.Change))
	Withdraw(ctx context.Context, amount decimal.Decimal, opts ...ledger.WriteOption) (*ledger.PendingTransaction, error)
	Register(ctx context.Context, referrer common.Address, level uint8) (*ledger.PendingTransaction, error)
	UpgradePackage(ctx context.Context, level uint8) (*ledger.PendingTransaction, error)
	WaitMined(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
}

var _ Gateway = (*ledger.Gateway)(nil)

// Pipeline delivers ledger events for one account to a sink
type Pipeline interface {
	Start(ctx context.Context, account types.Account, sink func(types.LedgerEvent)) error
	Stop()
}

// Deps wires the store to its collaborators. Pipeline may be nil.
type Deps struct {
	Gateway   Gateway
	Dashboard ViewSource[types.Dashboard]
	Earnings  ViewSource[types.Earnings]
	Referrals ViewSource[types.Referrals]
	Pipeline  Pipeline
}

// Config tunes the store
type Config struct {
	InitTimeout   time.Duration
	LiveInterval  time.Duration
	ActivityLimit int
	MineTimeout   time.Duration
	Journal       PendingJournal
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
	Now           func() time.Time
}

func (c *Config) applyDefaults() {
	if c.InitTimeout <= 0 {
		c.InitTimeout = DefaultInitTimeout
	}
	if c.LiveInterval <= 0 {
		c.LiveInterval = DefaultLiveInterval
	}
	if c.ActivityLimit <= 0 {
		c.ActivityLimit = DefaultActivityLimit
	}
	if c.MineTimeout <= 0 {
		c.MineTimeout = DefaultMineTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Store is the single owner of presentation state
type Store struct {
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics
	deps    Deps

	mu         sync.RWMutex
	state      state
	generation uint64
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	flights singleflight.Group

	liveMu      sync.Mutex
	cron        *cron.Cron
	liveRunning sync.Mutex

	subMu       sync.RWMutex
	subscribers map[int]func(Snapshot)
	nextSub     int

	bg sync.WaitGroup
}

// New creates a store in the Uninitialized phase
func New(deps Deps, cfg Config) (*Store, error) {
	if deps.Gateway == nil || deps.Dashboard == nil || deps.Earnings == nil || deps.Referrals == nil {
		return nil, fmt.Errorf("%w: store requires a gateway and all three view sources", types.ErrInvalidConfig)
	}
	cfg.applyDefaults()
	lifeCtx, cancel := context.WithCancel(context.Background())
	return &Store{
		cfg:         cfg,
		log:         cfg.Logger.With().Str("component", "store").Logger(),
		metrics:     cfg.Metrics,
		deps:        deps,
		state:       emptyState(),
		lifeCtx:     lifeCtx,
		lifeCancel:  cancel,
		subscribers: make(map[int]func(Snapshot)),
	}, nil
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.snapshot(s.generation)
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn runs on the mutating goroutine and must not block.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	n := len(s.subscribers)
	s.subMu.Unlock()
	s.metrics.SetSubscribers(n)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			n := len(s.subscribers)
			s.subMu.Unlock()
			s.metrics.SetSubscribers(n)
		})
	}
}

func (s *Store) notify() {
	snap := s.Snapshot()
	s.subMu.RLock()
	fns := make([]func(Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// update mutates state under the lock when gen is still current.
// It reports whether the mutation was applied.
func (s *Store) update(gen uint64, fn func(st *state)) bool {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	fn(&s.state)
	s.mu.Unlock()
	s.notify()
	return true
}

func (s *Store) current() (uint64, state) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation, s.state
}

// Initialize connects the wallet and runs the first aggregation pass
func (s *Store) Initialize(ctx context.Context, provider wallet.Provider) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.state = emptyState()
	s.state.phase = PhaseInitializing
	s.state.initialLoad = true
	s.mu.Unlock()
	s.notify()

	account, err := s.deps.Gateway.Connect(ctx, provider)
	if err != nil {
		s.log.Warn().Err(err).Msg("Wallet connection failed")
		s.update(gen, func(st *state) {
			st.phase = PhaseUninitialized
			st.initialLoad = false
			st.connErr = err
		})
		return err
	}
	s.deps.Gateway.OnChange(s.handleWalletChange)

	applied := s.update(gen, func(st *state) {
		st.connected = true
		st.account = account
		for _, d := range types.AllDomains() {
			st.domains[d] = DomainState{Phase: DomainLoading, Loading: true}
		}
	})
	if !applied {
		return types.ErrNotInitialized
	}

	passCtx, cancel := context.WithTimeout(ctx, s.cfg.InitTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.fetchAll(passCtx, gen, account, types.AllDomains(), false)
	}()
	select {
	case <-done:
	case <-passCtx.Done():
		s.log.Warn().Dur("timeout", s.cfg.InitTimeout).Msg("Initial load timed out, clearing loading state")
	}

	s.update(gen, func(st *state) {
		st.phase = PhaseReady
		st.initialLoad = false
		st.lastRefresh = s.cfg.Now()
	})

	s.startPipeline(gen, account)
	s.resumePending(account)

	s.log.Info().
		Str("account", account.Address.Hex()).
		Int64("chain_id", account.ChainID).
		Msg("Store initialized")
	return nil
}

func (s *Store) startPipeline(gen uint64, account types.Account) {
	if s.deps.Pipeline == nil {
		return
	}
	s.mu.RLock()
	ctx := s.lifeCtx
	current := gen == s.generation
	s.mu.RUnlock()
	if !current {
		return
	}
	if err := s.deps.Pipeline.Start(ctx, account, s.OnLedgerEvent); err != nil {
		s.log.Warn().Err(err).Msg("Event pipeline unavailable, relying on refresh")
	}
}

// Refresh invalidates and re-fetches the named domains, or all of them
func (s *Store) Refresh(ctx context.Context, domains ...types.Domain) error {
	gen, st := s.current()
	if st.phase == PhaseUninitialized || !st.connected {
		return types.ErrNotInitialized
	}
	if len(domains) == 0 {
		domains = types.AllDomains()
	}
	s.fetchAll(ctx, gen, st.account, domains, true)
	s.update(gen, func(st *state) {
		st.lastRefresh = s.cfg.Now()
	})
	return nil
}

func (s *Store) fetchAll(ctx context.Context, gen uint64, account types.Account, domains []types.Domain, invalidate bool) {
	var g errgroup.Group
	for _, d := range domains {
		d := d
		g.Go(func() error {
			s.fetchDomain(ctx, gen, account, d, invalidate)
			return nil
		})
	}
	_ = g.Wait()
}

// fetchDomain runs at most one fetch per generation and domain at a time.
// Callers arriving while a fetch is in flight share its result.
func (s *Store) fetchDomain(ctx context.Context, gen uint64, account types.Account, d types.Domain, invalidate bool) {
	key := fmt.Sprintf("%d:%s", gen, d)
	_, _, _ = s.flights.Do(key, func() (interface{}, error) {
		s.update(gen, func(st *state) {
			ds := st.domains[d]
			ds.Loading = true
			if ds.Phase == DomainIdle {
				ds.Phase = DomainLoading
			}
			st.domains[d] = ds
		})

		switch d {
		case types.DomainDashboard:
			if invalidate {
				s.deps.Dashboard.Invalidate(ctx, account)
			}
			vm, err := s.deps.Dashboard.GetViewModel(ctx, account)
			s.applyDomain(gen, d, err, func(st *state) { st.dashboard = vm })
		case types.DomainEarnings:
			if invalidate {
				s.deps.Earnings.Invalidate(ctx, account)
			}
			vm, err := s.deps.Earnings.GetViewModel(ctx, account)
			s.applyDomain(gen, d, err, func(st *state) { st.earnings = vm })
		case types.DomainReferrals:
			if invalidate {
				s.deps.Referrals.Invalidate(ctx, account)
			}
			vm, err := s.deps.Referrals.GetViewModel(ctx, account)
			s.applyDomain(gen, d, err, func(st *state) { st.referrals = vm })
		}
		return nil, nil
	})
}

func (s *Store) applyDomain(gen uint64, d types.Domain, err error, set func(st *state)) {
	applied := s.update(gen, func(st *state) {
		set(st)
		ds := DomainState{Phase: DomainReady}
		if err != nil {
			ds = DomainState{Phase: DomainErrored, Error: err.Error()}
		}
		st.domains[d] = ds
	})
	if !applied {
		s.log.Debug().Str("domain", string(d)).Uint64("generation", gen).Msg("Discarding stale completion")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("domain", string(d)).Msg("Aggregation failed, serving fallback")
	}
}

// OnLedgerEvent folds a pushed event into the state without reading the ledger
func (s *Store) OnLedgerEvent(ev types.LedgerEvent) {
	s.mu.Lock()
	if s.state.phase == PhaseUninitialized {
		s.mu.Unlock()
		s.log.Debug().Str("event", string(ev.Name())).Msg("Dropping event, store not initialized")
		return
	}
	account := s.state.account.Address.Hex()
	meta := ev.Metadata()
	act := types.Activity{
		Event:       ev.Name(),
		TxHash:      meta.TxHash,
		BlockNumber: meta.BlockNumber,
		At:          meta.ObservedAt,
	}
	if act.At.IsZero() {
		act.At = s.cfg.Now()
	}

	switch e := ev.(type) {
	case types.EarningsUpdated:
		act.Account, act.Amount, act.Detail = e.User, e.Amount, string(e.Stream)
		if sameAddress(e.User, account) {
			s.state.applyEarnings(e)
		}
	case types.NewReferral:
		act.Account, act.Counterpart, act.Amount = e.Sponsor, e.Referral, e.PackageValue
		if sameAddress(e.Sponsor, account) {
			s.state.applyReferral(e)
		}
	case types.WithdrawalProcessed:
		act.Account, act.Amount, act.Detail = e.User, e.Amount, "fee "+e.Fee.String()
		if sameAddress(e.User, account) {
			s.state.applyWithdrawal(e)
		}
	case types.PackageUpgraded:
		act.Account, act.Amount = e.User, e.AmountPaid
		act.Detail = fmt.Sprintf("level %d -> %d", e.OldLevel, e.NewLevel)
		if sameAddress(e.User, account) {
			s.state.applyUpgrade(e)
		}
	default:
		s.mu.Unlock()
		s.log.Error().Str("event", string(ev.Name())).Msg("Unhandled ledger event")
		return
	}

	s.state.pushActivity(act, s.cfg.ActivityLimit)
	s.mu.Unlock()

	s.metrics.ObserveEvent(string(ev.Name()))
	s.log.Debug().Str("event", string(ev.Name())).Str("tx", meta.TxHash).Msg("Applied ledger event")
	s.notify()
}

// ToggleLiveMode starts or stops periodic refreshes and returns the new mode
func (s *Store) ToggleLiveMode() (bool, error) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	if s.cron != nil {
		s.stopLiveLocked()
		s.setLiveMode(false)
		s.log.Info().Msg("Live mode disabled")
		return false, nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: s.log})))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.LiveInterval), func() { s.liveTick() }); err != nil {
		return false, fmt.Errorf("schedule live refresh: %w", err)
	}
	c.Start()
	s.cron = c
	s.setLiveMode(true)
	s.log.Info().Dur("interval", s.cfg.LiveInterval).Msg("Live mode enabled")
	return true, nil
}

func (s *Store) setLiveMode(on bool) {
	s.mu.Lock()
	s.state.liveMode = on
	s.mu.Unlock()
	s.notify()
}

func (s *Store) stopLiveLocked() {
	if s.cron == nil {
		return
	}
	s.cron.Stop()
	s.cron = nil
}

// liveTick refreshes every domain unless the previous tick is still running.
// It reports whether a refresh ran.
func (s *Store) liveTick() bool {
	if !s.liveRunning.TryLock() {
		s.metrics.ObserveLiveTick("skipped")
		s.log.Debug().Msg("Live tick skipped, previous refresh in flight")
		return false
	}
	defer s.liveRunning.Unlock()

	s.mu.RLock()
	parent := s.lifeCtx
	s.mu.RUnlock()
	ctx, cancel := context.WithTimeout(parent, s.cfg.LiveInterval)
	defer cancel()

	if err := s.Refresh(ctx); err != nil {
		s.metrics.ObserveLiveTick("error")
		s.log.Warn().Err(err).Msg("Live refresh failed")
		return true
	}
	s.metrics.ObserveLiveTick("ok")
	return true
}

// Teardown releases subscriptions and returns the store to Uninitialized
func (s *Store) Teardown() {
	s.liveMu.Lock()
	s.stopLiveLocked()
	s.liveMu.Unlock()

	if s.deps.Pipeline != nil {
		s.deps.Pipeline.Stop()
	}

	s.mu.Lock()
	s.generation++
	s.state = emptyState()
	s.lifeCancel()
	s.lifeCtx, s.lifeCancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	ctx := context.Background()
	s.deps.Dashboard.Clear(ctx)
	s.deps.Earnings.Clear(ctx)
	s.deps.Referrals.Clear(ctx)
	s.deps.Gateway.Disconnect()

	s.log.Info().Msg("Store torn down")
	s.notify()
}

// Wait blocks until background post-write refreshes have finished
func (s *Store) Wait() {
	s.bg.Wait()
}

func (s *Store) handleWalletChange(change wallet.Change) {
	gen, st := s.current()
	if st.phase == PhaseUninitialized {
		return
	}
	s.log.Info().Str("change", change.Kind.String()).Msg("Wallet changed")

	switch change.Kind {
	case wallet.AccountChanged:
		s.switchAccount(gen, change.Address)
	case wallet.ChainChanged:
		s.update(gen, func(st *state) {
			if change.ChainID != st.account.ChainID {
				st.connErr = &ledger.ConnectionError{
					Kind: ledger.WrongNetwork,
					Err:  fmt.Errorf("wallet switched to chain %d, expected %d", change.ChainID, st.account.ChainID),
				}
				return
			}
			st.connErr = nil
		})
		s.background(func(ctx context.Context) { s.refreshLogged(ctx) })
	case wallet.Disconnected:
		go s.Teardown()
	}
}

// switchAccount starts a new generation for addr so fetches still running
// for the previous account can no longer write. Views reset to loading
// until the forced refresh lands.
func (s *Store) switchAccount(gen uint64, addr common.Address) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.generation++
	next := s.generation
	account := types.Account{Address: addr, ChainID: prev.account.ChainID}

	st := emptyState()
	st.phase = PhaseReady
	st.connected = prev.connected
	st.connErr = prev.connErr
	st.liveMode = prev.liveMode
	st.account = account
	for _, d := range types.AllDomains() {
		st.domains[d] = DomainState{Phase: DomainLoading, Loading: true}
	}
	s.state = st
	s.mu.Unlock()
	s.notify()

	if s.deps.Pipeline != nil {
		s.deps.Pipeline.Stop()
		s.startPipeline(next, account)
	}
	s.background(func(ctx context.Context) { s.refreshLogged(ctx) })
	s.resumePending(account)
}

func (s *Store) refreshLogged(ctx context.Context, domains ...types.Domain) {
	if err := s.Refresh(ctx, domains...); err != nil && !errors.Is(err, types.ErrNotInitialized) {
		s.log.Warn().Err(err).Msg("Background refresh failed")
	}
}

func (s *Store) background(fn func(ctx context.Context)) {
	s.mu.RLock()
	ctx := s.lifeCtx
	s.mu.RUnlock()
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(ctx)
	}()
}

func sameAddress(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}
