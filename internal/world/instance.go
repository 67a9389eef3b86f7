package world

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/driftline/worldcore/internal/catalog"
	"github.com/driftline/worldcore/internal/storage"
)

// Location is a named point in a world. Entities and players are always at
// exactly one location.
type Location struct {
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Instance is a live, addressable entity. All relationships to other
// entities are expressed as id references, never embedded ownership.
type Instance struct {
	// InstanceId is stable and opaque: designer-issued for placed entities,
	// uuid-issued for runtime spawns.
	InstanceId string `json:"instance_id"`

	// TemplateId references the blueprint this instance was spawned from.
	TemplateId string `json:"template_id"`

	Location Location `json:"location"`

	// State is free-form gameplay state the engine stores but does not
	// interpret.
	State storage.ExtensionState `json:"state,omitempty"`
}

// SpawnInstance creates an Instance from a template snapshot, copying the
// template's default attributes into the instance state. An empty id means
// the engine issues one.
func SpawnInstance(id string, templateId string, tmpl *catalog.Template, loc Location) (*Instance, error) {
	if id == "" {
		id = uuid.NewString()
	}

	inst := &Instance{
		InstanceId: id,
		TemplateId: templateId,
		Location:   loc,
	}

	for k, v := range tmpl.Attributes {
		if err := inst.State.Set(k, v); err != nil {
			return nil, fmt.Errorf("copying template attribute: %w", err)
		}
	}

	return inst, nil
}

// Clone returns a deep copy.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	out := *i
	out.State = i.State.Clone()
	return &out
}
