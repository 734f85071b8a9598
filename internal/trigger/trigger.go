// Package trigger coalesces sync wake-up requests by logical tag, standing
// in for the platform's background-sync registration: registering a tag is
// best-effort and idempotent, and only ever means "try now".
package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TagSyncCaptures is the logical tag for draining the capture queue.
const TagSyncCaptures = "sync-captures"

// Trigger holds one pending wake per tag. Registering a tag that already
// has a pending wake coalesces into it rather than duplicating work.
type Trigger struct {
	mu   sync.Mutex
	tags map[string]chan struct{}
}

// New creates an empty trigger.
func New() *Trigger {
	return &Trigger{tags: make(map[string]chan struct{})}
}

func (t *Trigger) channel(tag string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.tags[tag]
	if !ok {
		ch = make(chan struct{}, 1)
		t.tags[tag] = ch
	}
	return ch
}

// Register requests a wake for the tag. Never blocks; a wake already
// pending for the same tag absorbs the request.
func (t *Trigger) Register(tag string) {
	select {
	case t.channel(tag) <- struct{}{}:
	default:
	}
}

// Wake returns the channel that fires when the tag has a pending wake.
// Receiving consumes the wake.
func (t *Trigger) Wake(tag string) <-chan struct{} {
	return t.channel(tag)
}

// Prober watches backend reachability and registers the tag when
// connectivity returns after an outage.
type Prober struct {
	Check    func(ctx context.Context) error
	Trigger  *Trigger
	Tag      string
	Interval time.Duration
}

// Run probes until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	online := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		err := p.Check(ctx)
		healthy := err == nil
		if healthy && !online {
			slog.Info("connectivity restored", "tag", p.Tag)
			p.Trigger.Register(p.Tag)
		}
		if !healthy && online {
			slog.Info("connectivity lost", "err", err)
		}
		online = healthy
	}
}
