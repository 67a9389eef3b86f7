package view

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftline/worldcore/internal/experience"
	"github.com/driftline/worldcore/internal/storage"
	"github.com/driftline/worldcore/internal/world"
)

// DefaultUpdateRetries bounds automatic retries when a view write races a
// concurrent update to the same record.
const DefaultUpdateRetries = 3

// Store persists player views with optimistic versioning. Views are
// per-player records, so updates need no advisory lock; a compare-and-swap
// with bounded retry is enough.
//
// Collect and Drop are the cross-document operations: they move an instance
// between a shared world and a player's inventory, mutating the world first
// and compensating it if the view half fails.
type Store struct {
	records storage.RecordStore
	worlds  *world.Store
	configs *experience.Resolver

	retries int
}

type StoreOpt func(*Store)

// WithUpdateRetries overrides the bounded retry count for view write races.
func WithUpdateRetries(n int) StoreOpt {
	return func(s *Store) {
		s.retries = n
	}
}

func NewStore(records storage.RecordStore, worlds *world.Store, configs *experience.Resolver, opts ...StoreOpt) *Store {
	s := &Store{
		records: records,
		worlds:  worlds,
		configs: configs,
		retries: DefaultUpdateRetries,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Get returns the player's view for an experience. Missing views surface
// storage.ErrRecordNotFound; creation is the bootstrap manager's job.
func (s *Store) Get(ctx context.Context, player, exp string) (*PlayerView, error) {
	rec, err := s.records.GetRecord(ctx, storage.KindPlayerView, viewId(exp, player))
	if err != nil {
		return nil, err
	}
	return decodeView(rec)
}

// Create persists a new view. It is idempotent: losing a creation race
// returns the already-existing view instead of an error.
func (s *Store) Create(ctx context.Context, v *PlayerView) (*PlayerView, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshalling view: %w", err)
	}

	version, err := s.records.PutRecord(ctx, storage.KindPlayerView, viewId(v.Experience, v.PlayerId), 0, data)
	if errors.Is(err, storage.ErrVersionConflict) {
		return s.Get(ctx, v.PlayerId, v.Experience)
	}
	if err != nil {
		return nil, err
	}

	v.Version = version
	return v, nil
}

// Update applies mutate to the latest view and persists it with a
// compare-and-swap, retrying on write races up to the configured bound.
func (s *Store) Update(ctx context.Context, player, exp string, mutate func(*PlayerView) error) (*PlayerView, error) {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		v, err := s.Get(ctx, player, exp)
		if err != nil {
			return nil, err
		}
		readVersion := v.Version

		if err := mutate(v); err != nil {
			return nil, err
		}
		v.Touch()
		v.Version = readVersion + 1

		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshalling view: %w", err)
		}

		_, err = s.records.PutRecord(ctx, storage.KindPlayerView, viewId(exp, player), readVersion, data)
		if errors.Is(err, storage.ErrVersionConflict) {
			lastErr = err
			slog.Debug("view update conflict, retrying", "player", player, "experience", exp, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}

		return v, nil
	}

	return nil, lastErr
}

// Collect moves an entity into the player's inventory. In shared
// experiences the world mutation commits first under the experience lock;
// if the inventory write then fails, the world change is rolled back so the
// entity is never lost. Ownership follows the experience's configured mode.
func (s *Store) Collect(ctx context.Context, player, exp, instanceId string) (*PlayerView, error) {
	cfg, err := s.configs.Resolve(exp)
	if err != nil {
		return nil, err
	}

	if cfg.State.Model == experience.StateModelIsolated {
		return s.collectIsolated(ctx, player, exp, instanceId)
	}

	mode := cfg.OwnershipModeOrDefault()
	var taken *world.Instance

	_, err = s.worlds.Commit(ctx, exp, func(st *world.State) error {
		inst, err := takeOwnership(st, player, instanceId, mode, cfg.OwnershipTTL())
		if err != nil {
			return err
		}
		taken = inst
		return nil
	})
	if err != nil {
		return nil, err
	}

	v, err := s.Update(ctx, player, exp, func(v *PlayerView) error {
		return v.AddItem(taken)
	})
	if err != nil {
		s.compensateCollect(ctx, exp, taken, instanceId, mode)
		return nil, err
	}

	return v, nil
}

// Drop returns an inventory item to the world at a location. The inventory
// write happens first; if the world commit then fails, the item is put back
// in the inventory.
func (s *Store) Drop(ctx context.Context, player, exp, instanceId, location string) (*PlayerView, error) {
	cfg, err := s.configs.Resolve(exp)
	if err != nil {
		return nil, err
	}

	if cfg.State.Model == experience.StateModelIsolated {
		return s.dropIsolated(ctx, player, exp, instanceId, location)
	}

	var dropped *world.Instance
	v, err := s.Update(ctx, player, exp, func(v *PlayerView) error {
		inst, err := v.RemoveItem(instanceId)
		if err != nil {
			return err
		}
		dropped = inst
		return nil
	})
	if err != nil {
		return nil, err
	}

	_, err = s.worlds.Commit(ctx, exp, func(st *world.State) error {
		return placeInstance(st, dropped, location)
	})
	if err != nil {
		if _, cerr := s.Update(ctx, player, exp, func(v *PlayerView) error {
			return v.AddItem(dropped)
		}); cerr != nil {
			slog.Error("restoring inventory after failed drop",
				"player", player, "experience", exp, "instance", instanceId, "error", cerr)
		}
		return nil, err
	}

	return v, nil
}

// collectIsolated moves the entity within the player's private record: out
// of the world copy, into the inventory, in one versioned write.
func (s *Store) collectIsolated(ctx context.Context, player, exp, instanceId string) (*PlayerView, error) {
	return s.Update(ctx, player, exp, func(v *PlayerView) error {
		if v.World == nil {
			return fmt.Errorf("%w: %q", ErrNoWorldCopy, exp)
		}
		inst, err := v.World.RemoveEntity(instanceId)
		if err != nil {
			return err
		}
		return v.AddItem(inst)
	})
}

func (s *Store) dropIsolated(ctx context.Context, player, exp, instanceId, location string) (*PlayerView, error) {
	return s.Update(ctx, player, exp, func(v *PlayerView) error {
		if v.World == nil {
			return fmt.Errorf("%w: %q", ErrNoWorldCopy, exp)
		}
		inst, err := v.RemoveItem(instanceId)
		if err != nil {
			return err
		}
		return placeInstance(v.World, inst, location)
	})
}

// compensateCollect undoes a committed ownership change after the inventory
// half of a collect failed. A failed compensation is logged loudly; the
// restore reaper cannot repair it because the ownership record is gone.
func (s *Store) compensateCollect(ctx context.Context, exp string, taken *world.Instance, instanceId string, mode experience.OwnershipMode) {
	_, err := s.worlds.Commit(ctx, exp, func(st *world.State) error {
		delete(st.Owners, instanceId)

		if mode == experience.OwnershipFirstInteraction {
			return nil
		}

		for i, pr := range st.PendingRestores {
			if pr.Instance.InstanceId == instanceId {
				st.PendingRestores = append(st.PendingRestores[:i], st.PendingRestores[i+1:]...)
				break
			}
		}
		if st.Entity(instanceId) != nil {
			return nil
		}
		return st.AddEntity(taken)
	})
	if err != nil {
		slog.Error("rolling back collect after failed inventory write",
			"experience", exp, "instance", instanceId, "error", err)
	}
}

// takeOwnership applies one ownership mode to a live entity and returns the
// instance that should enter the inventory.
func takeOwnership(st *world.State, player, instanceId string, mode experience.OwnershipMode, ttl time.Duration) (*world.Instance, error) {
	if owner, ok := st.Owners[instanceId]; ok {
		return nil, fmt.Errorf("%w: %q held by %q", ErrAlreadyOwned, instanceId, owner)
	}

	inst := st.Entity(instanceId)
	if inst == nil {
		return nil, fmt.Errorf("%w: %q", world.ErrEntityNotFound, instanceId)
	}

	if st.Owners == nil {
		st.Owners = make(map[string]string)
	}
	st.Owners[instanceId] = player

	switch mode {
	case experience.OwnershipFirstInteraction:
		// The world keeps its copy; the player gets a snapshot.
		return inst.Clone(), nil

	case experience.OwnershipTemporary:
		removed, err := st.RemoveEntity(instanceId)
		if err != nil {
			return nil, err
		}
		st.PendingRestores = append(st.PendingRestores, world.PendingRestore{
			Instance:  removed.Clone(),
			Player:    player,
			RestoreAt: time.Now().UTC().Add(ttl),
		})
		return removed, nil

	default: // permanent
		return st.RemoveEntity(instanceId)
	}
}

// placeInstance puts an instance into a state at a named location.
func placeInstance(st *world.State, inst *world.Instance, location string) error {
	loc, err := st.Location(location)
	if err != nil {
		return err
	}
	inst.Location = loc
	if st.Owners != nil {
		delete(st.Owners, inst.InstanceId)
	}
	return st.AddEntity(inst)
}

func viewId(exp, player string) string {
	return fmt.Sprintf("%s:%s", exp, player)
}

func decodeView(rec *storage.Record) (*PlayerView, error) {
	var v PlayerView
	if err := json.Unmarshal(rec.Data, &v); err != nil {
		return nil, fmt.Errorf("unmarshalling view: %w", err)
	}
	v.Version = rec.Version
	return &v, nil
}
