package aggregate

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/leadfive/ledgerview/pkg/metrics"
	"github.com/leadfive/ledgerview/pkg/types"
)

// Read is one named ledger read of an aggregation pass
type Read struct {
	Name string
	Run  func(ctx context.Context) error
}

// ReadInto builds a Read storing its result in dst. dst is untouched on failure.
func ReadInto[T any](name string, dst *T, fn func(ctx context.Context) (T, error)) Read {
	return Read{
		Name: name,
		Run: func(ctx context.Context) error {
			v, err := fn(ctx)
			if err != nil {
				return err
			}
			*dst = v
			return nil
		},
	}
}

// Pass tracks which reads of one aggregation failed
type Pass struct {
	domain  types.Domain
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     time.Time

	mu     sync.Mutex
	total  int
	failed map[string]error
}

func newPass(domain types.Domain, log zerolog.Logger, m *metrics.Metrics, now time.Time) *Pass {
	return &Pass{
		domain:  domain,
		log:     log,
		metrics: m,
		now:     now,
		failed:  make(map[string]error),
	}
}

// Settle issues every read concurrently and returns once all of them
// finished. A failing read never cancels its siblings. A panic inside a
// read is re-raised on the caller's goroutine after the others settle.
func (p *Pass) Settle(ctx context.Context, reads ...Read) {
	var (
		g         errgroup.Group
		panicOnce sync.Once
		panicked  interface{}
	)
	for _, rd := range reads {
		rd := rd
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() { panicked = r })
				}
			}()
			if err := rd.Run(ctx); err != nil {
				p.fail(rd.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if panicked != nil {
		panic(panicked)
	}

	p.mu.Lock()
	p.total += len(reads)
	p.mu.Unlock()
}

func (p *Pass) fail(name string, err error) {
	p.mu.Lock()
	p.failed[name] = err
	p.mu.Unlock()

	p.metrics.ObserveFallback(string(p.domain), name)
	p.log.Warn().
		Err(err).
		Str("domain", string(p.domain)).
		Str("read", name).
		Msg("Using fallback fragment")
}

// Failed reports whether the named read failed
func (p *Pass) Failed(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.failed[name]
	return ok
}

// FailedCount returns how many reads failed
func (p *Pass) FailedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.failed)
}

// Source is fallback when every read failed, blockchain otherwise
func (p *Pass) Source() types.Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total > 0 && len(p.failed) >= p.total {
		return types.SourceFallback
	}
	return types.SourceBlockchain
}

// Now is the timestamp the pass started at
func (p *Pass) Now() time.Time {
	return p.now
}
