package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cassiomorais/pos-payments/pkg/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestGuard_SameKeyRunsOnce(t *testing.T) {
	g := NewGuard(DefaultConfig(), clock.NewFake(start))
	want := uuid.New()

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context) (uuid.UUID, bool, error) {
		calls.Add(1)
		<-release
		return want, false, nil
	}

	const n = 10
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, n)
	replays := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, replayed, err := g.Do(context.Background(), "k1", fn)
			assert.NoError(t, err)
			ids[i], replays[i] = id, replayed
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	fresh := 0
	for i := range ids {
		assert.Equal(t, want, ids[i])
		if !replays[i] {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one caller produced the record")
}

func TestGuard_CompletedKeyIsReplayed(t *testing.T) {
	g := NewGuard(DefaultConfig(), clock.NewFake(start))
	first := uuid.New()

	id, replayed, err := g.Do(context.Background(), "k", func(context.Context) (uuid.UUID, bool, error) {
		return first, false, nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, first, id)

	id, replayed, err = g.Do(context.Background(), "k", func(context.Context) (uuid.UUID, bool, error) {
		t.Fatal("must not run again")
		return uuid.Nil, false, nil
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first, id)
}

func TestGuard_DifferentKeysRunInParallel(t *testing.T) {
	g := NewGuard(DefaultConfig(), clock.NewFake(start))

	var running atomic.Int32
	var peak atomic.Int32
	fn := func(context.Context) (uuid.UUID, bool, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
		return uuid.New(), false, nil
	}

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _, err := g.Do(context.Background(), key, fn)
			assert.NoError(t, err)
		}(key)
	}
	wg.Wait()

	assert.Greater(t, peak.Load(), int32(1))
}

func TestGuard_ErrorsAreNotCached(t *testing.T) {
	g := NewGuard(DefaultConfig(), clock.NewFake(start))
	boom := errors.New("no gateway")

	_, _, err := g.Do(context.Background(), "k", func(context.Context) (uuid.UUID, bool, error) {
		return uuid.Nil, false, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, g.Len())

	want := uuid.New()
	id, replayed, err := g.Do(context.Background(), "k", func(context.Context) (uuid.UUID, bool, error) {
		return want, false, nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, want, id)
}

func TestGuard_ExistedCountsAsReplay(t *testing.T) {
	g := NewGuard(DefaultConfig(), clock.NewFake(start))

	_, replayed, err := g.Do(context.Background(), "k", func(context.Context) (uuid.UUID, bool, error) {
		return uuid.New(), true, nil
	})
	require.NoError(t, err)
	assert.True(t, replayed)
}

func TestGuard_ExpiresAfterTTL(t *testing.T) {
	clk := clock.NewFake(start)
	g := NewGuard(Config{TTL: time.Hour}, clk)

	var calls int
	fn := func(context.Context) (uuid.UUID, bool, error) {
		calls++
		return uuid.New(), false, nil
	}

	_, _, err := g.Do(context.Background(), "k", fn)
	require.NoError(t, err)
	clk.Advance(59 * time.Minute)
	_, replayed, err := g.Do(context.Background(), "k", fn)
	require.NoError(t, err)
	assert.True(t, replayed)

	clk.Advance(time.Minute)
	_, replayed, err = g.Do(context.Background(), "k", fn)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 2, calls)
}

func TestGuard_Sweep(t *testing.T) {
	clk := clock.NewFake(start)
	g := NewGuard(Config{TTL: time.Minute}, clk)
	for _, k := range []string{"a", "b"} {
		_, _, err := g.Do(context.Background(), k, func(context.Context) (uuid.UUID, bool, error) {
			return uuid.New(), false, nil
		})
		require.NoError(t, err)
	}
	clk.Advance(30 * time.Second)
	_, _, err := g.Do(context.Background(), "c", func(context.Context) (uuid.UUID, bool, error) {
		return uuid.New(), false, nil
	})
	require.NoError(t, err)

	clk.Advance(31 * time.Second)
	assert.Equal(t, 2, g.Sweep())
	assert.Equal(t, 1, g.Len())
}

func TestGuard_RunStopsWithContext(t *testing.T) {
	g := NewGuard(Config{SweepInterval: time.Millisecond}, clock.NewFake(start))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestGuard_CallerCancellationDoesNotAbortWork(t *testing.T) {
	g := NewGuard(DefaultConfig(), clock.NewFake(start))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := g.Do(ctx, "k", func(runCtx context.Context) (uuid.UUID, bool, error) {
		return uuid.New(), false, runCtx.Err()
	})
	assert.NoError(t, err)
}

type fakeLock struct {
	extended atomic.Int32
	released atomic.Bool
}

func (l *fakeLock) Extend(context.Context, time.Duration) error {
	l.extended.Add(1)
	return nil
}

func (l *fakeLock) Release(context.Context) error {
	l.released.Store(true)
	return nil
}

type fakeLocker struct {
	ttl  time.Duration
	err  error
	lock *fakeLock
	keys []string
}

func (f *fakeLocker) Lock(_ context.Context, key string) (Lock, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	return f.lock, nil
}

func (f *fakeLocker) TTL() time.Duration { return f.ttl }

func TestGuard_LockerWrapsExecution(t *testing.T) {
	locker := &fakeLocker{ttl: 30 * time.Millisecond, lock: &fakeLock{}}
	g := NewGuard(DefaultConfig(), clock.NewFake(start), WithLocker(locker))

	_, _, err := g.Do(context.Background(), "k", func(context.Context) (uuid.UUID, bool, error) {
		time.Sleep(50 * time.Millisecond)
		return uuid.New(), false, nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"k"}, locker.keys)
	assert.True(t, locker.lock.released.Load())
	assert.Positive(t, locker.lock.extended.Load())
}

func TestGuard_LockFailureIsReturned(t *testing.T) {
	boom := errors.New("lock busy")
	g := NewGuard(DefaultConfig(), clock.NewFake(start), WithLocker(&fakeLocker{err: boom}))

	_, _, err := g.Do(context.Background(), "k", func(context.Context) (uuid.UUID, bool, error) {
		t.Fatal("must not run without the lock")
		return uuid.Nil, false, nil
	})
	assert.ErrorIs(t, err, boom)
}
