package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftline/worldcore/internal/display"
	"github.com/driftline/worldcore/internal/experience"
	"github.com/driftline/worldcore/internal/storage"
	"github.com/driftline/worldcore/internal/world"
)

// Notifier delivers an event to one player.
type Notifier interface {
	NotifyPlayer(player string, data []byte) error
}

// Reaper returns temporarily-owned entities to their worlds once the
// ownership TTL lapses. Each restore removes the instance from the owner's
// inventory first, then commits the world-side restore; if the second half
// fails the pending-restore entry survives, so the next tick picks the
// entity up again.
type Reaper struct {
	views   *Store
	worlds  *world.Store
	configs *experience.Resolver

	now      func() time.Time
	notifier Notifier
}

type ReaperOpt func(*Reaper)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) ReaperOpt {
	return func(r *Reaper) {
		r.now = now
	}
}

// WithNotifier makes the reaper tell players when an item is reclaimed.
func WithNotifier(n Notifier) ReaperOpt {
	return func(r *Reaper) {
		r.notifier = n
	}
}

func NewReaper(views *Store, worlds *world.Store, configs *experience.Resolver, opts ...ReaperOpt) *Reaper {
	r := &Reaper{
		views:   views,
		worlds:  worlds,
		configs: configs,
		now:     func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Tick scans every temporary-ownership experience for due restores.
// Satisfies the tick driver's Manager interface.
func (r *Reaper) Tick(ctx context.Context) error {
	for _, exp := range r.configs.Ids() {
		cfg, err := r.configs.Resolve(exp)
		if err != nil {
			slog.WarnContext(ctx, "skipping experience with unresolvable config", "experience", exp, "error", err)
			continue
		}
		if cfg.State.Model != experience.StateModelShared ||
			cfg.OwnershipModeOrDefault() != experience.OwnershipTemporary {
			continue
		}

		if err := r.reapExperience(ctx, exp); err != nil {
			slog.ErrorContext(ctx, "restoring expired ownerships", "experience", exp, "error", err)
		}
	}
	return nil
}

func (r *Reaper) reapExperience(ctx context.Context, exp string) error {
	state, err := r.worlds.Read(ctx, exp)
	if err != nil {
		return err
	}

	for _, pr := range state.DueRestores(r.now()) {
		if err := r.restore(ctx, exp, pr); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reaper) restore(ctx context.Context, exp string, pr world.PendingRestore) error {
	id := pr.Instance.InstanceId

	// Inventory first. If this succeeds and the world commit below fails,
	// the pending entry keeps the entity recoverable on a later tick.
	_, err := r.views.Update(ctx, pr.Player, exp, func(v *PlayerView) error {
		if !v.Holds(id) {
			return nil
		}
		_, err := v.RemoveItem(id)
		return err
	})
	if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		return err
	}

	_, err = r.worlds.Commit(ctx, exp, func(st *world.State) error {
		err := st.Restore(id)
		if errors.Is(err, world.ErrEntityNotFound) {
			// Another tick or a compensation already handled it.
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	if r.notifier != nil {
		msg := display.Line(fmt.Sprintf("%s has returned to the world", id))
		if err := r.notifier.NotifyPlayer(pr.Player, []byte(msg)); err != nil {
			slog.WarnContext(ctx, "notifying player of reclaimed item",
				"player", pr.Player, "instance", id, "error", err)
		}
	}

	slog.InfoContext(ctx, "restored temporarily owned entity",
		"experience", exp, "instance", id, "player", pr.Player)
	return nil
}
