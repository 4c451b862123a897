package redis

import (
	"context"
	"testing"
	"time"
)

func TestLocker_AcquireRelease(t *testing.T) {
	rcli, _ := newTestClient(t)
	locker := NewLocker(rcli)
	ctx := context.Background()

	token, ok, err := locker.Acquire(ctx, "expiry-sweep", time.Minute)
	if err != nil || !ok || token == "" {
		t.Fatalf("expected lock, got %q %v %v", token, ok, err)
	}

	_, ok, err = locker.Acquire(ctx, "expiry-sweep", time.Minute)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if ok {
		t.Fatal("expected second acquire to fail while held")
	}

	// A stale token must not free someone else's lock.
	if err := locker.Release(ctx, "expiry-sweep", "not-the-token"); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if _, ok, _ := locker.Acquire(ctx, "expiry-sweep", time.Minute); ok {
		t.Fatal("expected lock to survive foreign release")
	}

	if err := locker.Release(ctx, "expiry-sweep", token); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if _, ok, _ := locker.Acquire(ctx, "expiry-sweep", time.Minute); !ok {
		t.Fatal("expected lock to be free after release")
	}
}

func TestLocker_ExpiresWithTTL(t *testing.T) {
	rcli, s := newTestClient(t)
	locker := NewLocker(rcli)
	ctx := context.Background()

	if _, ok, _ := locker.Acquire(ctx, "expiry-sweep", 2*time.Second); !ok {
		t.Fatal("expected lock")
	}
	s.FastForward(3 * time.Second)
	if _, ok, _ := locker.Acquire(ctx, "expiry-sweep", 2*time.Second); !ok {
		t.Fatal("expected lock after TTL")
	}
}

func TestLocker_Heartbeat(t *testing.T) {
	rcli, _ := newTestClient(t)
	locker := NewLocker(rcli)
	ctx := context.Background()

	last, err := locker.LastBeat(ctx, "expiry-sweep")
	if err != nil || !last.IsZero() {
		t.Fatalf("expected no heartbeat, got %v %v", last, err)
	}

	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := locker.Beat(ctx, "expiry-sweep", ts, time.Minute); err != nil {
		t.Fatalf("Beat error: %v", err)
	}
	last, err = locker.LastBeat(ctx, "expiry-sweep")
	if err != nil || !last.Equal(ts) {
		t.Fatalf("expected %v, got %v %v", ts, last, err)
	}
}
