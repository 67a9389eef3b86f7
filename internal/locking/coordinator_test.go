package locking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pixil98/go-testutil"
)

func TestCoordinator_AcquireRelease(t *testing.T) {
	c := NewCoordinator()

	h, err := c.Acquire(context.Background(), "wylding-woods", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "holder", c.Holder("wylding-woods"), h.HolderId)

	c.Release(h)
	testutil.AssertEqual(t, "holder after release", c.Holder("wylding-woods"), "")

	// Lock is immediately reacquirable.
	h2, err := c.Acquire(context.Background(), "wylding-woods", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Release(h2)
}

func TestCoordinator_SecondAcquirerTimesOut(t *testing.T) {
	c := NewCoordinator(WithLease(time.Minute))

	h, err := c.Acquire(context.Background(), "exp", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Release(h)

	timeout := 50 * time.Millisecond
	start := time.Now()
	_, err = c.Acquire(context.Background(), "exp", timeout)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if elapsed < timeout {
		t.Errorf("timed out after %v, before the %v deadline", elapsed, timeout)
	}
}

func TestCoordinator_IndependentExperiences(t *testing.T) {
	c := NewCoordinator()

	h1, err := c.Acquire(context.Background(), "exp-a", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Release(h1)

	// A held lock on exp-a must not block exp-b.
	h2, err := c.Acquire(context.Background(), "exp-b", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Release(h2)
}

func TestCoordinator_LeaseExpiryFreesLock(t *testing.T) {
	c := NewCoordinator(WithLease(20 * time.Millisecond))

	// Acquire and never release: the lease watchdog must free the lock.
	_, err := c.Acquire(context.Background(), "exp", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h2, err := c.Acquire(context.Background(), "exp", time.Second)
	if err != nil {
		t.Fatalf("expected lock after lease expiry, got %v", err)
	}
	c.Release(h2)
}

func TestCoordinator_StaleReleaseIsNoOp(t *testing.T) {
	c := NewCoordinator(WithLease(20 * time.Millisecond))

	h1, err := c.Acquire(context.Background(), "exp", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Let the lease expire and a second holder take over.
	h2, err := c.Acquire(context.Background(), "exp", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The first holder's late release must not free the second holder's lock.
	c.Release(h1)
	testutil.AssertEqual(t, "holder", c.Holder("exp"), h2.HolderId)

	c.Release(h2)
}

func TestCoordinator_ContextCancellation(t *testing.T) {
	c := NewCoordinator(WithLease(time.Minute))

	h, err := c.Acquire(context.Background(), "exp", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Release(h)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = c.Acquire(ctx, "exp", time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
