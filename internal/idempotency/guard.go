// Package idempotency collapses repeated submissions of the same request
// into a single execution.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/cassiomorais/pos-payments/pkg/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Lock is a held cross-instance lock.
type Lock interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker acquires a lock per idempotency key, blocking while another owner
// holds it.
type Locker interface {
	Lock(ctx context.Context, key string) (Lock, error)
	TTL() time.Duration
}

// Func performs the guarded work. existed reports that the work had already
// been done by an earlier request, for example one served by another
// instance.
type Func func(ctx context.Context) (id uuid.UUID, existed bool, err error)

type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{TTL: 24 * time.Hour, SweepInterval: time.Minute}
}

type cached struct {
	id      uuid.UUID
	expires time.Time
}

type outcome struct {
	id      uuid.UUID
	existed bool
}

// Guard runs at most one execution per key at a time and remembers the
// resulting record ID for Config.TTL. Failed executions are not
// remembered, so a later call with the same key runs again.
type Guard struct {
	cfg    Config
	clock  clock.Clock
	locker Locker
	logger zerolog.Logger

	group singleflight.Group

	mu      sync.Mutex
	results map[string]cached
}

type Option func(*Guard)

// WithLocker adds a cross-instance lock around each execution.
func WithLocker(l Locker) Option {
	return func(g *Guard) { g.locker = l }
}

func WithLogger(l zerolog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

func NewGuard(cfg Config, clk clock.Clock, opts ...Option) *Guard {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	g := &Guard{
		cfg:     cfg,
		clock:   clk,
		logger:  zerolog.Nop(),
		results: make(map[string]cached),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Do returns the record ID produced for key, running fn only if no
// execution for key has completed within the TTL. Concurrent callers with
// the same key wait for the one in flight. replayed is true for every
// caller that did not itself produce the record.
//
// fn runs detached from the caller's cancellation so that a disconnecting
// client cannot abandon a charge half way.
func (g *Guard) Do(ctx context.Context, key string, fn Func) (id uuid.UUID, replayed bool, err error) {
	if id, ok := g.lookup(key); ok {
		return id, true, nil
	}

	leader := false
	v, err, _ := g.group.Do(key, func() (any, error) {
		leader = true
		if id, ok := g.lookup(key); ok {
			return outcome{id: id, existed: true}, nil
		}

		runCtx := context.WithoutCancel(ctx)
		if g.locker != nil {
			lock, err := g.locker.Lock(runCtx, key)
			if err != nil {
				return nil, err
			}
			stop := g.keepAlive(runCtx, key, lock)
			defer func() {
				stop()
				if err := lock.Release(runCtx); err != nil {
					g.logger.Warn().Err(err).Str("idempotency_key", key).Msg("Failed to release idempotency lock")
				}
			}()
		}

		id, existed, err := fn(runCtx)
		if err != nil {
			return nil, err
		}
		g.store(key, id)
		return outcome{id: id, existed: existed}, nil
	})
	if err != nil {
		return uuid.Nil, false, err
	}

	o := v.(outcome)
	return o.id, !leader || o.existed, nil
}

// Forget drops a remembered key.
func (g *Guard) Forget(key string) {
	g.mu.Lock()
	delete(g.results, key)
	g.mu.Unlock()
}

// Len returns the number of remembered keys, expired or not.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.results)
}

// Sweep drops expired keys and returns how many were removed.
func (g *Guard) Sweep() int {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for k, c := range g.results {
		if !now.Before(c.expires) {
			delete(g.results, k)
			removed++
		}
	}
	return removed
}

// Run sweeps expired keys every SweepInterval until ctx is done.
func (g *Guard) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := g.Sweep(); n > 0 {
				g.logger.Debug().Int("removed", n).Msg("Swept expired idempotency keys")
			}
		}
	}
}

func (g *Guard) lookup(key string) (uuid.UUID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.results[key]
	if !ok {
		return uuid.Nil, false
	}
	if !g.clock.Now().Before(c.expires) {
		delete(g.results, key)
		return uuid.Nil, false
	}
	return c.id, true
}

func (g *Guard) store(key string, id uuid.UUID) {
	g.mu.Lock()
	g.results[key] = cached{id: id, expires: g.clock.Now().Add(g.cfg.TTL)}
	g.mu.Unlock()
}

// keepAlive extends the lock at a third of its TTL until stop is called.
func (g *Guard) keepAlive(ctx context.Context, key string, lock Lock) (stop func()) {
	ttl := g.locker.TTL()
	if ttl <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := lock.Extend(ctx, ttl); err != nil {
					g.logger.Warn().Err(err).Str("idempotency_key", key).Msg("Failed to extend idempotency lock")
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
