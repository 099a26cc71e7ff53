package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLockKey(t *testing.T) {
	if got := lockKey("doc-a"); got != "lock:practitioner:doc-a" {
		t.Errorf("unexpected lock key %q", got)
	}
}

func TestWithPractitionerLock_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	l := NewRedisPractitionerLocker(client, time.Second, 100*time.Millisecond)

	called := false
	err := l.WithPractitionerLock(context.Background(), "doc-a", func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrLockUnavailable) {
		t.Fatalf("err = %v, want ErrLockUnavailable", err)
	}
	if errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("outage reported as contention: %v", err)
	}
	if called {
		t.Fatal("fn ran without the lock")
	}
}
