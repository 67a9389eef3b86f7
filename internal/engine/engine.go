package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/driftline/worldcore/internal/catalog"
	"github.com/driftline/worldcore/internal/experience"
	"github.com/driftline/worldcore/internal/index"
	"github.com/driftline/worldcore/internal/resolve"
	"github.com/driftline/worldcore/internal/view"
	"github.com/driftline/worldcore/internal/world"
)

// DefaultNearbyRadius bounds how far "nearby" reaches in world units.
const DefaultNearbyRadius = 50.0

// ErrUnknownIntent means the mutation named an intent the engine has no
// handler for.
var ErrUnknownIntent = errors.New("unknown intent")

// Context is everything an external interpreter needs to ground a player
// turn: the player's own state, the entities within reach, and the world's
// flags. Instances are snapshots; mutating them changes nothing.
type Context struct {
	View       *view.PlayerView
	Location   world.Location
	Nearby     []*world.Instance
	WorldFlags map[string]any
}

// Mutation is one interpreter-proposed change. Target carries a semantic
// label, never an instance id; the engine resolves it against the player's
// surroundings and fails closed on ambiguity.
type Mutation struct {
	Intent   string `json:"intent"`
	Target   string `json:"target,omitempty"`
	Location string `json:"location,omitempty"`
	Key      string `json:"key,omitempty"`
	Value    any    `json:"value,omitempty"`

	// TemplateId names the blueprint for spawn intents.
	TemplateId string `json:"template_id,omitempty"`
}

// Result reports a committed mutation.
type Result struct {
	View *view.PlayerView

	// WorldVersion is the shared world's version after the commit, zero for
	// mutations that only touched the player's record.
	WorldVersion uint64
}

// Engine is the boundary between the natural-language interpreter and the
// state stores. Reads return grounded snapshots; writes go through intent
// handlers that validate against live state.
type Engine struct {
	views   *view.Store
	worlds  *world.Store
	configs *experience.Resolver
	catalog *catalog.Catalog
	index   *index.Index
	labels  *resolve.Resolver

	radius float64
}

type Opt func(*Engine)

// WithNearbyRadius overrides the reach of nearby-entity queries.
func WithNearbyRadius(r float64) Opt {
	return func(e *Engine) {
		e.radius = r
	}
}

func New(views *view.Store, worlds *world.Store, configs *experience.Resolver, cat *catalog.Catalog, idx *index.Index, labels *resolve.Resolver, opts ...Opt) *Engine {
	e := &Engine{
		views:   views,
		worlds:  worlds,
		configs: configs,
		catalog: cat,
		index:   idx,
		labels:  labels,
		radius:  DefaultNearbyRadius,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// ReadContext assembles the grounding snapshot for one player turn.
func (e *Engine) ReadContext(ctx context.Context, player, exp string) (*Context, error) {
	cfg, err := e.configs.Resolve(exp)
	if err != nil {
		return nil, err
	}

	v, err := e.views.Get(ctx, player, exp)
	if err != nil {
		return nil, err
	}

	if cfg.State.Model == experience.StateModelIsolated {
		return e.isolatedContext(v)
	}

	state, err := e.worlds.Read(ctx, exp)
	if err != nil {
		return nil, err
	}
	// Keep the spatial index warm even when this process never committed.
	e.index.ApplyCommit(exp, state)

	locName := state.Players[player]
	if locName == "" {
		locName = v.Location
	}
	loc, err := state.Location(locName)
	if err != nil {
		return nil, err
	}

	return &Context{
		View:       v,
		Location:   loc,
		Nearby:     e.index.QueryRadius(exp, loc.X, loc.Y, e.radius),
		WorldFlags: state.Flags,
	}, nil
}

func (e *Engine) isolatedContext(v *view.PlayerView) (*Context, error) {
	if v.World == nil {
		return nil, fmt.Errorf("%w: %q", view.ErrNoWorldCopy, v.Experience)
	}

	loc, err := v.World.Location(v.Location)
	if err != nil {
		return nil, err
	}

	var nearby []*world.Instance
	for _, inst := range v.World.Entities {
		if withinRadius(inst.Location, loc, e.radius) {
			nearby = append(nearby, inst.Clone())
		}
	}

	return &Context{
		View:       v,
		Location:   loc,
		Nearby:     nearby,
		WorldFlags: v.World.Flags,
	}, nil
}

// ProposeMutation validates and applies one interpreter-proposed change.
// Targets are resolved against the player's current surroundings, so a
// label the player cannot see never resolves.
func (e *Engine) ProposeMutation(ctx context.Context, player, exp string, m Mutation) (*Result, error) {
	switch m.Intent {
	case "move":
		return e.move(ctx, player, exp, m)
	case "collect":
		return e.collect(ctx, player, exp, m)
	case "drop":
		return e.drop(ctx, player, exp, m)
	case "set_flag":
		return e.setFlag(ctx, player, exp, m)
	case "set_progress":
		return e.setProgress(ctx, player, exp, m)
	case "spawn":
		return e.spawn(ctx, player, exp, m)
	case "despawn":
		return e.despawn(ctx, player, exp, m)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, m.Intent)
	}
}

func (e *Engine) move(ctx context.Context, player, exp string, m Mutation) (*Result, error) {
	cfg, err := e.configs.Resolve(exp)
	if err != nil {
		return nil, err
	}

	if cfg.State.Model == experience.StateModelIsolated {
		v, err := e.views.Update(ctx, player, exp, func(v *view.PlayerView) error {
			if v.World == nil {
				return fmt.Errorf("%w: %q", view.ErrNoWorldCopy, exp)
			}
			if _, err := v.World.Location(m.Location); err != nil {
				return err
			}
			v.Location = m.Location
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &Result{View: v}, nil
	}

	version, err := e.worlds.Commit(ctx, exp, func(st *world.State) error {
		return st.SetPlayerLocation(player, m.Location)
	})
	if err != nil {
		return nil, err
	}

	v, err := e.views.Update(ctx, player, exp, func(v *view.PlayerView) error {
		v.Location = m.Location
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Result{View: v, WorldVersion: version}, nil
}

func (e *Engine) collect(ctx context.Context, player, exp string, m Mutation) (*Result, error) {
	rc, err := e.ReadContext(ctx, player, exp)
	if err != nil {
		return nil, err
	}

	id, err := e.labels.Resolve(m.Target, rc.Nearby)
	if err != nil {
		return nil, err
	}

	v, err := e.views.Collect(ctx, player, exp, id)
	if err != nil {
		return nil, err
	}
	return &Result{View: v}, nil
}

func (e *Engine) drop(ctx context.Context, player, exp string, m Mutation) (*Result, error) {
	v, err := e.views.Get(ctx, player, exp)
	if err != nil {
		return nil, err
	}

	held := make([]*world.Instance, 0, len(v.Inventory))
	for _, inst := range v.Inventory {
		held = append(held, inst)
	}

	id, err := e.labels.Resolve(m.Target, held)
	if err != nil {
		return nil, err
	}

	location := m.Location
	if location == "" {
		location = v.Location
	}

	updated, err := e.views.Drop(ctx, player, exp, id, location)
	if err != nil {
		return nil, err
	}
	return &Result{View: updated}, nil
}

func (e *Engine) setFlag(ctx context.Context, player, exp string, m Mutation) (*Result, error) {
	if m.Key == "" {
		return nil, fmt.Errorf("set_flag requires a key")
	}

	cfg, err := e.configs.Resolve(exp)
	if err != nil {
		return nil, err
	}

	if cfg.State.Model == experience.StateModelIsolated {
		v, err := e.views.Update(ctx, player, exp, func(v *view.PlayerView) error {
			if v.World == nil {
				return fmt.Errorf("%w: %q", view.ErrNoWorldCopy, exp)
			}
			if v.World.Flags == nil {
				v.World.Flags = make(map[string]any)
			}
			v.World.Flags[m.Key] = m.Value
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &Result{View: v}, nil
	}

	version, err := e.worlds.Commit(ctx, exp, func(st *world.State) error {
		if st.Flags == nil {
			st.Flags = make(map[string]any)
		}
		st.Flags[m.Key] = m.Value
		return nil
	})
	if err != nil {
		return nil, err
	}

	v, err := e.views.Get(ctx, player, exp)
	if err != nil {
		return nil, err
	}
	return &Result{View: v, WorldVersion: version}, nil
}

func (e *Engine) setProgress(ctx context.Context, player, exp string, m Mutation) (*Result, error) {
	if m.Key == "" {
		return nil, fmt.Errorf("set_progress requires a key")
	}

	v, err := e.views.Update(ctx, player, exp, func(v *view.PlayerView) error {
		return v.Progress.Set(m.Key, m.Value)
	})
	if err != nil {
		return nil, err
	}
	return &Result{View: v}, nil
}

func (e *Engine) spawn(ctx context.Context, player, exp string, m Mutation) (*Result, error) {
	cfg, err := e.configs.Resolve(exp)
	if err != nil {
		return nil, err
	}

	tmpl, err := e.catalog.Snapshot(m.TemplateId)
	if err != nil {
		return nil, err
	}

	if cfg.State.Model == experience.StateModelIsolated {
		v, err := e.views.Update(ctx, player, exp, func(v *view.PlayerView) error {
			if v.World == nil {
				return fmt.Errorf("%w: %q", view.ErrNoWorldCopy, exp)
			}
			return spawnInto(v.World, m.TemplateId, tmpl, m.Location)
		})
		if err != nil {
			return nil, err
		}
		return &Result{View: v}, nil
	}

	version, err := e.worlds.Commit(ctx, exp, func(st *world.State) error {
		return spawnInto(st, m.TemplateId, tmpl, m.Location)
	})
	if err != nil {
		return nil, err
	}

	v, err := e.views.Get(ctx, player, exp)
	if err != nil {
		return nil, err
	}
	return &Result{View: v, WorldVersion: version}, nil
}

func (e *Engine) despawn(ctx context.Context, player, exp string, m Mutation) (*Result, error) {
	rc, err := e.ReadContext(ctx, player, exp)
	if err != nil {
		return nil, err
	}

	id, err := e.labels.Resolve(m.Target, rc.Nearby)
	if err != nil {
		return nil, err
	}

	cfg, err := e.configs.Resolve(exp)
	if err != nil {
		return nil, err
	}

	if cfg.State.Model == experience.StateModelIsolated {
		v, err := e.views.Update(ctx, player, exp, func(v *view.PlayerView) error {
			if v.World == nil {
				return fmt.Errorf("%w: %q", view.ErrNoWorldCopy, exp)
			}
			_, err := v.World.RemoveEntity(id)
			return err
		})
		if err != nil {
			return nil, err
		}
		return &Result{View: v}, nil
	}

	version, err := e.worlds.Commit(ctx, exp, func(st *world.State) error {
		_, err := st.RemoveEntity(id)
		return err
	})
	if err != nil {
		return nil, err
	}

	v, err := e.views.Get(ctx, player, exp)
	if err != nil {
		return nil, err
	}
	return &Result{View: v, WorldVersion: version}, nil
}

func spawnInto(st *world.State, templateId string, tmpl *catalog.Template, location string) error {
	loc, err := st.Location(location)
	if err != nil {
		return err
	}
	inst, err := world.SpawnInstance("", templateId, tmpl, loc)
	if err != nil {
		return err
	}
	return st.AddEntity(inst)
}

func withinRadius(a, b world.Location, r float64) bool {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx+dy*dy <= r*r
}
