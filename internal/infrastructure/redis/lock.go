package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/pos-payments/internal/domain/errors"
	"github.com/cassiomorais/pos-payments/internal/idempotency"
	"github.com/cassiomorais/pos-payments/pkg/retry"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "pos-payments:lock:"

// Both scripts act only while the caller's token still owns the key, so an
// expired holder can neither release nor extend a lock taken over by
// someone else.
var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)

	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
)

var errLockHeld = errors.New("lock held by another owner")

// Locker serializes idempotency keys across service instances.
type Locker struct {
	client  *redis.Client
	ttl     time.Duration
	backoff retry.Config
}

// NewLocker returns a Locker whose locks expire after ttl unless extended.
// Waiters poll every retryDelay for up to wait.
func NewLocker(client *redis.Client, ttl, wait, retryDelay time.Duration) *Locker {
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}
	attempts := uint(wait / retryDelay)
	if attempts < 1 {
		attempts = 1
	}
	return &Locker{
		client: client,
		ttl:    ttl,
		backoff: retry.Config{
			MaxAttempts:  attempts,
			InitialDelay: retryDelay,
			MaxDelay:     retryDelay,
		},
	}
}

// Lock blocks until key is free or the wait is exhausted, in which case it
// returns ErrLockAcquisitionFailed.
func (l *Locker) Lock(ctx context.Context, key string) (idempotency.Lock, error) {
	lock := &lease{client: l.client, key: lockPrefix + key, token: uuid.NewString()}

	err := retry.Do(ctx, l.backoff, func() error {
		ok, err := l.client.SetNX(ctx, lock.key, lock.token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return errLockHeld
		}
		return nil
	}, retry.If(func(err error) bool { return errors.Is(err, errLockHeld) }))

	if errors.Is(err, errLockHeld) {
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrLockAcquisitionFailed, key)
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}

func (l *Locker) TTL() time.Duration { return l.ttl }

// lease is one held lock, identified by a random token.
type lease struct {
	client *redis.Client
	key    string
	token  string
}

func (l *lease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock: %w", err)
	}
	if n == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}

func (l *lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if n == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}
