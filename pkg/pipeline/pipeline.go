// Package pipeline forwards pushed ledger events for the connected account
// into a single sink.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/leadfive/ledgerview/pkg/ledger"
	"github.com/leadfive/ledgerview/pkg/types"
)

// Subscriber is the event side of ledger.Gateway
type Subscriber interface {
	Subscribe(ctx context.Context, name types.EventName, filter ledger.EventFilter, handler ledger.EventHandler) (ledger.Unsubscribe, error)
}

var _ Subscriber = (*ledger.Gateway)(nil)

// Pipeline holds one subscription per contract event
type Pipeline struct {
	source Subscriber
	log    zerolog.Logger

	mu     sync.Mutex
	subs   []ledger.Unsubscribe
	epoch  uint64
	sinkMu sync.Mutex
}

// New creates a stopped pipeline
func New(source Subscriber, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		source: source,
		log:    log.With().Str("component", "pipeline").Logger(),
	}
}

// Start subscribes to every event for account. Any previous subscriptions
// are released first. If one subscription fails, none are kept.
func (p *Pipeline) Start(ctx context.Context, account types.Account, sink func(types.LedgerEvent)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	epoch := p.epoch

	filter := ledger.EventFilter{Account: account.Address}
	subs := make([]ledger.Unsubscribe, 0, len(types.EventNames()))
	for _, name := range types.EventNames() {
		unsub, err := p.source.Subscribe(ctx, name, filter, p.forward(epoch, sink))
		if err != nil {
			for _, u := range subs {
				u()
			}
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
		subs = append(subs, unsub)
	}
	p.subs = subs

	p.log.Info().
		Str("account", account.Address.Hex()).
		Int("subscriptions", len(subs)).
		Msg("Event pipeline started")
	return nil
}

// forward serializes delivery into sink and drops events from a stopped epoch
func (p *Pipeline) forward(epoch uint64, sink func(types.LedgerEvent)) ledger.EventHandler {
	return func(ev types.LedgerEvent) {
		p.mu.Lock()
		live := epoch == p.epoch && p.subs != nil
		p.mu.Unlock()
		if !live {
			p.log.Debug().Str("event", string(ev.Name())).Msg("Dropping event from stopped subscription")
			return
		}

		p.sinkMu.Lock()
		defer p.sinkMu.Unlock()
		sink(ev)
	}
}

// Stop releases every subscription. Safe to call when not started.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subs != nil {
		p.log.Info().Msg("Event pipeline stopped")
	}
	p.stopLocked()
}

func (p *Pipeline) stopLocked() {
	for _, unsub := range p.subs {
		unsub()
	}
	p.subs = nil
	p.epoch++
}

// Active reports whether subscriptions are held
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subs != nil
}
