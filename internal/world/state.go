package world

import (
	"errors"
	"fmt"
	"time"

	"github.com/driftline/worldcore/internal/catalog"
)

var (
	ErrEntityNotFound   = errors.New("entity not found")
	ErrEntityExists     = errors.New("entity already exists")
	ErrLocationNotFound = errors.New("location not found")
)

// PendingRestore schedules a temporarily-owned entity to reappear in the
// world after its ownership TTL.
type PendingRestore struct {
	Instance  *Instance `json:"instance"`
	Player    string    `json:"player"`
	RestoreAt time.Time `json:"restore_at"`
}

// State is the canonical container of live entities and flags for one
// experience (shared mode) or one materialized player copy (isolated mode).
// It is a plain value: concurrency control lives in Store.
type State struct {
	// Version mirrors the record store's version counter and strictly
	// increases on every committed mutation.
	Version uint64 `json:"version"`

	Locations map[string]Location  `json:"locations,omitempty"`
	Entities  map[string]*Instance `json:"entities"`
	Flags     map[string]any       `json:"flags,omitempty"`

	// Players maps each present player to the name of their location.
	// (Shared mode presence; a player is at most at one location.)
	Players map[string]string `json:"players,omitempty"`

	// Owners maps collected instance ids to the collecting player.
	Owners map[string]string `json:"owners,omitempty"`

	// PendingRestores holds temporarily-owned entities awaiting restore.
	PendingRestores []PendingRestore `json:"pending_restores,omitempty"`

	LastModified time.Time `json:"last_modified"`
}

// NewState returns an empty world state.
func NewState() *State {
	return &State{
		Locations: make(map[string]Location),
		Entities:  make(map[string]*Instance),
		Flags:     make(map[string]any),
		Players:   make(map[string]string),
		Owners:    make(map[string]string),
	}
}

// NewStateFromTemplate materializes a world template: locations become
// named points, placements become instances with template defaults applied.
func NewStateFromTemplate(tmpl *catalog.Template, cat *catalog.Catalog) (*State, error) {
	if tmpl.Type != catalog.TemplateTypeWorld {
		return nil, fmt.Errorf("template %q is not a world template", tmpl.Name)
	}

	s := NewState()

	for name, def := range tmpl.Locations {
		s.Locations[name] = Location{Name: name, X: def.X, Y: def.Y}
	}

	for _, p := range tmpl.Entities {
		entityTmpl, err := cat.Snapshot(p.TemplateId)
		if err != nil {
			return nil, fmt.Errorf("placement %q: %w", p.InstanceId, err)
		}

		loc, ok := s.Locations[p.Location]
		if !ok {
			return nil, fmt.Errorf("placement %q: %w: %q", p.InstanceId, ErrLocationNotFound, p.Location)
		}

		inst, err := SpawnInstance(p.InstanceId, p.TemplateId, entityTmpl, loc)
		if err != nil {
			return nil, err
		}
		for k, v := range p.State {
			if err := inst.State.Set(k, v); err != nil {
				return nil, fmt.Errorf("placement %q: %w", p.InstanceId, err)
			}
		}

		if err := s.AddEntity(inst); err != nil {
			return nil, err
		}
	}

	for k, v := range tmpl.Flags {
		s.Flags[k] = v
	}

	return s, nil
}

// Entity returns the instance, or nil if absent.
func (s *State) Entity(id string) *Instance {
	return s.Entities[id]
}

// AddEntity inserts an instance, failing on duplicate ids.
func (s *State) AddEntity(inst *Instance) error {
	if _, ok := s.Entities[inst.InstanceId]; ok {
		return fmt.Errorf("%w: %q", ErrEntityExists, inst.InstanceId)
	}
	if s.Entities == nil {
		s.Entities = make(map[string]*Instance)
	}
	s.Entities[inst.InstanceId] = inst
	return nil
}

// RemoveEntity deletes and returns an instance.
func (s *State) RemoveEntity(id string) (*Instance, error) {
	inst, ok := s.Entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEntityNotFound, id)
	}
	delete(s.Entities, id)
	return inst, nil
}

// Location resolves a named location.
func (s *State) Location(name string) (Location, error) {
	loc, ok := s.Locations[name]
	if !ok {
		return Location{}, fmt.Errorf("%w: %q", ErrLocationNotFound, name)
	}
	return loc, nil
}

// SetPlayerLocation records a player's presence at a location.
func (s *State) SetPlayerLocation(player, location string) error {
	if _, ok := s.Locations[location]; !ok {
		return fmt.Errorf("%w: %q", ErrLocationNotFound, location)
	}
	if s.Players == nil {
		s.Players = make(map[string]string)
	}
	s.Players[player] = location
	return nil
}

// PlayersAt returns the ids of players present at a location.
func (s *State) PlayersAt(location string) []string {
	var ids []string
	for p, loc := range s.Players {
		if loc == location {
			ids = append(ids, p)
		}
	}
	return ids
}

// DueRestores returns pending restores whose time has come.
func (s *State) DueRestores(now time.Time) []PendingRestore {
	var due []PendingRestore
	for _, pr := range s.PendingRestores {
		if !pr.RestoreAt.After(now) {
			due = append(due, pr)
		}
	}
	return due
}

// Restore puts a pending entity back into the world and clears its
// ownership record.
func (s *State) Restore(instanceId string) error {
	for i, pr := range s.PendingRestores {
		if pr.Instance.InstanceId != instanceId {
			continue
		}
		if err := s.AddEntity(pr.Instance); err != nil {
			return err
		}
		delete(s.Owners, instanceId)
		s.PendingRestores = append(s.PendingRestores[:i], s.PendingRestores[i+1:]...)
		return nil
	}
	return fmt.Errorf("%w: no pending restore for %q", ErrEntityNotFound, instanceId)
}

// Clone deep-copies the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}

	out := &State{
		Version:      s.Version,
		LastModified: s.LastModified,
	}

	if s.Locations != nil {
		out.Locations = make(map[string]Location, len(s.Locations))
		for k, v := range s.Locations {
			out.Locations[k] = v
		}
	}
	if s.Entities != nil {
		out.Entities = make(map[string]*Instance, len(s.Entities))
		for k, v := range s.Entities {
			out.Entities[k] = v.Clone()
		}
	}
	if s.Flags != nil {
		out.Flags = make(map[string]any, len(s.Flags))
		for k, v := range s.Flags {
			out.Flags[k] = v
		}
	}
	if s.Players != nil {
		out.Players = make(map[string]string, len(s.Players))
		for k, v := range s.Players {
			out.Players[k] = v
		}
	}
	if s.Owners != nil {
		out.Owners = make(map[string]string, len(s.Owners))
		for k, v := range s.Owners {
			out.Owners[k] = v
		}
	}
	if s.PendingRestores != nil {
		out.PendingRestores = make([]PendingRestore, len(s.PendingRestores))
		for i, pr := range s.PendingRestores {
			out.PendingRestores[i] = PendingRestore{
				Instance:  pr.Instance.Clone(),
				Player:    pr.Player,
				RestoreAt: pr.RestoreAt,
			}
		}
	}

	return out
}
