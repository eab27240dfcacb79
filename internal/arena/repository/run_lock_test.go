package repository_test

import (
	"context"
	"testing"
	"time"

	"pdarena/internal/arena/repository"
)

func TestRunLockExcludesConcurrentRuns(t *testing.T) {
	t.Parallel()
	c, mr := newMiniredisCache(t)
	lock := repository.NewRunLock(c, time.Minute)
	ctx := context.Background()

	token, err := lock.Acquire(ctx, 1)
	if err != nil || token == "" {
		t.Fatalf("expected lock acquired, token=%q err=%v", token, err)
	}
	second, err := lock.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if second != "" {
		t.Fatalf("expected second acquire to fail")
	}
	other, err := lock.Acquire(ctx, 2)
	if err != nil || other == "" {
		t.Fatalf("expected independent tournament lock, err=%v", err)
	}

	if err := lock.Release(ctx, 1, "not-the-holder"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if !mr.Exists("arena:resolve:1") {
		t.Fatalf("foreign token must not release the lock")
	}
	if err := lock.Release(ctx, 1, token); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if mr.Exists("arena:resolve:1") {
		t.Fatalf("expected lock released")
	}
}

func TestRunLockExtend(t *testing.T) {
	t.Parallel()
	c, mr := newMiniredisCache(t)
	lock := repository.NewRunLock(c, time.Minute)
	ctx := context.Background()

	token, err := lock.Acquire(ctx, 3)
	if err != nil || token == "" {
		t.Fatalf("acquire failed: %v", err)
	}
	mr.FastForward(50 * time.Second)
	ok, err := lock.Extend(ctx, 3, token)
	if err != nil || !ok {
		t.Fatalf("expected extend ok, err=%v", err)
	}
	if ttl := mr.TTL("arena:resolve:3"); ttl < 50*time.Second {
		t.Fatalf("expected ttl refreshed, got %s", ttl)
	}
	ok, err = lock.Extend(ctx, 3, "stale")
	if err != nil {
		t.Fatalf("extend failed: %v", err)
	}
	if ok {
		t.Fatalf("stale token must not extend")
	}
}
