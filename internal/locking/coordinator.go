package locking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLockTimeout is returned when a lock could not be acquired within the
// caller's timeout. No partial effect has occurred.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// DefaultLease bounds how long a holder may keep a lock before it is
// forcibly reclaimed, so a crashed holder cannot wedge an experience.
const DefaultLease = 5 * time.Second

// Handle is a transient mutual-exclusion token over one experience's world
// document. It is never persisted.
type Handle struct {
	Experience string
	HolderId   string
	AcquiredAt time.Time
	Expiry     time.Time
}

type entry struct {
	tokens chan struct{}

	mu      sync.Mutex
	current *Handle
}

// Coordinator hands out advisory locks keyed by experience id. Locks carry
// a bounded lease; optimistic version checks at the record store remain the
// real correctness guard, so these locks only reduce conflict churn.
type Coordinator struct {
	lease time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

type CoordinatorOpt func(*Coordinator)

// WithLease overrides the default lease duration.
func WithLease(d time.Duration) CoordinatorOpt {
	return func(c *Coordinator) {
		c.lease = d
	}
}

func NewCoordinator(opts ...CoordinatorOpt) *Coordinator {
	c := &Coordinator{
		lease:   DefaultLease,
		entries: make(map[string]*entry),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Coordinator) entryFor(experience string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[experience]
	if !ok {
		e = &entry{tokens: make(chan struct{}, 1)}
		e.tokens <- struct{}{}
		c.entries[experience] = e
	}
	return e
}

// Acquire blocks until the experience lock is free, the timeout elapses, or
// ctx is cancelled. The returned handle's lease is the coordinator default.
func (c *Coordinator) Acquire(ctx context.Context, experience string, timeout time.Duration) (*Handle, error) {
	return c.AcquireWithLease(ctx, experience, timeout, c.lease)
}

// AcquireWithLease is Acquire with an explicit lease duration.
func (c *Coordinator) AcquireWithLease(ctx context.Context, experience string, timeout time.Duration, lease time.Duration) (*Handle, error) {
	if lease <= 0 {
		lease = c.lease
	}

	e := c.entryFor(experience)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.tokens:
	case <-timer.C:
		return nil, ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	now := time.Now()
	h := &Handle{
		Experience: experience,
		HolderId:   uuid.NewString(),
		AcquiredAt: now,
		Expiry:     now.Add(lease),
	}

	e.mu.Lock()
	e.current = h
	e.mu.Unlock()

	// Reclaim the lock when the lease runs out and the holder never released.
	time.AfterFunc(lease, func() {
		if c.reclaim(e, h) {
			slog.Warn("lock lease expired", "experience", experience, "holder", h.HolderId)
		}
	})

	return h, nil
}

// Release returns the lock. Releasing a stale or foreign handle is a no-op.
func (c *Coordinator) Release(h *Handle) {
	if h == nil {
		return
	}

	e := c.entryFor(h.Experience)
	if !c.reclaim(e, h) {
		slog.Debug("ignoring release of stale lock handle", "experience", h.Experience, "holder", h.HolderId)
	}
}

// reclaim frees the lock if h is still the current holder.
func (c *Coordinator) reclaim(e *entry, h *Handle) bool {
	e.mu.Lock()
	if e.current == nil || e.current.HolderId != h.HolderId {
		e.mu.Unlock()
		return false
	}
	e.current = nil
	e.mu.Unlock()

	e.tokens <- struct{}{}
	return true
}

// Holder returns the current holder id for an experience, empty if unheld.
func (c *Coordinator) Holder(experience string) string {
	e := c.entryFor(experience)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return ""
	}
	return e.current.HolderId
}
