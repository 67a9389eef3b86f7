package view

import (
	"errors"
	"fmt"
	"time"

	"github.com/driftline/worldcore/internal/storage"
	"github.com/driftline/worldcore/internal/world"
)

var (
	// ErrItemNotHeld means the player's inventory has no such instance.
	ErrItemNotHeld = errors.New("item is not in inventory")

	// ErrAlreadyOwned means another player collected the entity first.
	ErrAlreadyOwned = errors.New("entity is already owned")

	// ErrNoWorldCopy means an isolated-world operation ran against a view
	// that was never materialized with a template copy.
	ErrNoWorldCopy = errors.New("view has no world copy")
)

// PlayerView is one player's private state within one experience: their
// location, inventory, and free-form progress. For isolated experiences it
// also carries the player's private copy of the world.
type PlayerView struct {
	PlayerId   string `json:"player_id"`
	Experience string `json:"experience"`

	// Location names where the player is. For shared experiences the world
	// document's presence map is authoritative; this is the session's view.
	Location string `json:"location,omitempty"`

	// Inventory holds collected instances keyed by instance id.
	Inventory map[string]*world.Instance `json:"inventory,omitempty"`

	// Progress is free-form per-player state the engine stores but does not
	// interpret (quest steps, dialogue markers).
	Progress storage.ExtensionState `json:"progress,omitempty"`

	// World is the player's private world copy. Only set for isolated
	// experiences configured to copy their template.
	World *world.State `json:"world,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`

	// Version mirrors the record store's version counter.
	Version uint64 `json:"version"`
}

func NewPlayerView(player, experience string) *PlayerView {
	now := time.Now().UTC()
	return &PlayerView{
		PlayerId:   player,
		Experience: experience,
		Inventory:  make(map[string]*world.Instance),
		CreatedAt:  now,
		LastActive: now,
	}
}

// AddItem puts an instance into the inventory, failing on duplicates.
func (v *PlayerView) AddItem(inst *world.Instance) error {
	if v.Inventory == nil {
		v.Inventory = make(map[string]*world.Instance)
	}
	if _, ok := v.Inventory[inst.InstanceId]; ok {
		return fmt.Errorf("%w: %q", world.ErrEntityExists, inst.InstanceId)
	}
	v.Inventory[inst.InstanceId] = inst
	return nil
}

// RemoveItem deletes and returns an inventory instance.
func (v *PlayerView) RemoveItem(id string) (*world.Instance, error) {
	inst, ok := v.Inventory[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrItemNotHeld, id)
	}
	delete(v.Inventory, id)
	return inst, nil
}

// Holds reports whether the inventory contains the instance.
func (v *PlayerView) Holds(id string) bool {
	_, ok := v.Inventory[id]
	return ok
}

// Touch updates the activity timestamp.
func (v *PlayerView) Touch() {
	v.LastActive = time.Now().UTC()
}

// Clone deep-copies the view.
func (v *PlayerView) Clone() *PlayerView {
	if v == nil {
		return nil
	}

	out := *v
	out.World = v.World.Clone()
	out.Progress = v.Progress.Clone()

	if v.Inventory != nil {
		out.Inventory = make(map[string]*world.Instance, len(v.Inventory))
		for k, item := range v.Inventory {
			out.Inventory[k] = item.Clone()
		}
	}

	return &out
}
