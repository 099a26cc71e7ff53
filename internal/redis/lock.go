package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("practitioner lock not acquired")

	// ErrLockUnavailable means Redis could not be asked for the lock at
	// all. fn has not run when it is returned.
	ErrLockUnavailable = errors.New("practitioner lock unavailable")
)

// Locker is used by the booking coordinator to serialise schedule changes
// per practitioner across API replicas.
type Locker interface {
	WithPractitionerLock(ctx context.Context, practitionerID string, fn func(ctx context.Context) error) error
}

type redisPractitionerLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisPractitionerLocker creates a locker that uses a per practitioner
// Redis key. Acquisition is retried until wait has elapsed.
func NewRedisPractitionerLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisPractitionerLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		retry:  25 * time.Millisecond,
	}
}

func lockKey(practitionerID string) string {
	return fmt.Sprintf("lock:practitioner:%s", practitionerID)
}

func (l *redisPractitionerLocker) WithPractitionerLock(ctx context.Context, practitionerID string, fn func(ctx context.Context) error) error {
	key := lockKey(practitionerID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// release even if the caller's context was cancelled
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(relCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisPractitionerLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrLockUnavailable, err)
		}
		if ok {
			return nil
		}
		if time.Now().Add(l.retry).After(deadline) {
			return ErrLockNotAcquired
		}

		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisPractitionerLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release practitioner lock: %w", err)
	}
	return nil
}
