package aggregate

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/leadfive/ledgerview/pkg/metrics"
	"github.com/leadfive/ledgerview/pkg/types"
)

// AggregationError is an internal fault while composing a view model.
// Ledger read failures never produce one.
type AggregationError struct {
	Domain types.Domain
	Cause  interface{}
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregate %s: internal fault: %v", e.Domain, e.Cause)
}

// BuildFunc runs one aggregation pass for addr
type BuildFunc[T any] func(ctx context.Context, p *Pass, r LedgerReader, addr common.Address) T

// FallbackFunc returns the all-defaults view model for addr
type FallbackFunc[T any] func(addr common.Address, now time.Time) T

// Config is shared by every domain aggregator
type Config struct {
	TTL     time.Duration
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
	// Redis, when set, replaces the in-process cache
	Redis       redis.Cmdable
	RedisPrefix string
}

func (c Config) now() func() time.Time {
	if c.Now == nil {
		return time.Now
	}
	return c.Now
}

// Aggregator composes ledger reads into one cached view model per account
type Aggregator[T any] struct {
	domain   types.Domain
	reader   LedgerReader
	cache    Cache[T]
	build    BuildFunc[T]
	fallback FallbackFunc[T]
	log      zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	// evictions counts Invalidate and Clear calls. A pass that overlapped
	// one does not write its result back.
	evictions atomic.Uint64
}

// New creates an aggregator for one domain
func New[T any](domain types.Domain, reader LedgerReader, build BuildFunc[T], fallback FallbackFunc[T], cfg Config) *Aggregator[T] {
	log := cfg.Logger.With().Str("component", "aggregate").Str("domain", string(domain)).Logger()

	var cache Cache[T]
	if cfg.Redis != nil {
		prefix := cfg.RedisPrefix
		if prefix == "" {
			prefix = "ledgerview:"
		}
		cache = NewRedisCache[T](cfg.Redis, prefix+string(domain)+":", cfg.TTL, cfg.now(), log)
	} else {
		cache = NewMemoryCache[T](cfg.TTL, cfg.now())
	}

	return &Aggregator[T]{
		domain:   domain,
		reader:   reader,
		cache:    cache,
		build:    build,
		fallback: fallback,
		log:      log,
		metrics:  cfg.Metrics,
		now:      cfg.now(),
	}
}

// Domain returns the aggregator's domain
func (a *Aggregator[T]) Domain() types.Domain {
	return a.domain
}

// GetViewModel returns a complete view model for the account. The error is
// non-nil only for an *AggregationError, in which case the returned value
// is the full fallback.
func (a *Aggregator[T]) GetViewModel(ctx context.Context, account types.Account) (vm T, err error) {
	key := account.Key()

	if cached, ok := a.cache.Get(ctx, key); ok {
		a.metrics.ObserveCache(string(a.domain), true)
		return cached, nil
	}
	a.metrics.ObserveCache(string(a.domain), false)

	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Str("account", account.Address.Hex()).Msg("Aggregation failed")
			vm = a.fallback(account.Address, a.now())
			err = &AggregationError{Domain: a.domain, Cause: r}
		}
	}()

	epoch := a.evictions.Load()
	start := a.now()
	p := newPass(a.domain, a.log, a.metrics, start)
	vm = a.build(ctx, p, a.reader, account.Address)

	// written only after every read settled
	switch {
	case a.evictions.Load() != epoch:
		a.log.Debug().Str("account", account.Address.Hex()).Msg("Cache evicted during pass, not storing result")
	case ctx.Err() != nil:
		a.log.Debug().Str("account", account.Address.Hex()).Msg("Pass cancelled, not storing result")
	default:
		a.cache.Put(ctx, key, vm)
	}

	source := p.Source()
	a.metrics.ObserveAggregation(string(a.domain), string(source))
	a.log.Debug().
		Str("account", account.Address.Hex()).
		Str("source", string(source)).
		Int("failed_reads", p.FailedCount()).
		Msg("View model aggregated")

	return vm, nil
}

// Invalidate evicts the account's cached view model
func (a *Aggregator[T]) Invalidate(ctx context.Context, account types.Account) {
	a.evictions.Add(1)
	a.cache.Invalidate(ctx, account.Key())
}

// Clear evicts every cached view model
func (a *Aggregator[T]) Clear(ctx context.Context) {
	a.evictions.Add(1)
	a.cache.Clear(ctx)
}

// Fallback returns the all-defaults view model
func (a *Aggregator[T]) Fallback(addr common.Address) T {
	return a.fallback(addr, a.now())
}
