package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrAccountBusy is returned when another worker holds the account lock.
var ErrAccountBusy = errors.New("bank account is locked by another import")

// Unlock releases an account lock.
type Unlock func(ctx context.Context) error

// Locker serializes the insert and dedup sequence per bank account.
type Locker interface {
	LockAccount(ctx context.Context, bankAccountID uuid.UUID) (Unlock, error)
}

// NoopLocker is used without Redis. Concurrent imports on one account may then
// race past the strict tier; the fuzzy tier still flags the result for review.
type NoopLocker struct{}

func (NoopLocker) LockAccount(context.Context, uuid.UUID) (Unlock, error) {
	return func(context.Context) error { return nil }, nil
}

// RedisLocker holds a per-account lock in Redis.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
	retries int
}

// NewRedisLocker creates a locker on rdb. ttl bounds how long a crashed
// worker can keep an account locked.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		client:  redislock.New(rdb),
		ttl:     ttl,
		backoff: 250 * time.Millisecond,
		retries: int(ttl / (250 * time.Millisecond)),
	}
}

func lockKey(bankAccountID uuid.UUID) string {
	return "dedup:account:" + bankAccountID.String()
}

// LockAccount waits up to one TTL for the account lock. A background refresh
// keeps the lock alive while a long statement is persisted.
func (l *RedisLocker) LockAccount(ctx context.Context, bankAccountID uuid.UUID) (Unlock, error) {
	lock, err := l.client.Obtain(ctx, lockKey(bankAccountID), l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.backoff), l.retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrAccountBusy, bankAccountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain account lock: %w", err)
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(l.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := lock.Refresh(context.Background(), l.ttl, nil); err != nil {
					return
				}
			}
		}
	}()

	return func(ctx context.Context) error {
		close(stop)
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("failed to release account lock: %w", err)
		}
		return nil
	}, nil
}
