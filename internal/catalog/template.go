package catalog

import (
	"fmt"

	"github.com/pixil98/go-errors"
)

// TemplateType categorizes what a template describes.
type TemplateType string

const (
	TemplateTypeItem  TemplateType = "item"
	TemplateTypeNPC   TemplateType = "npc"
	TemplateTypeQuest TemplateType = "quest"
	// TemplateTypeWorld describes a whole world snapshot: locations, entity
	// placements, and starting flags. Isolated experiences copy one of these
	// per player; shared experiences seed their world document from one.
	TemplateTypeWorld TemplateType = "world"
)

// Template is an immutable blueprint for an entity class or a world
// snapshot. Templates are authored externally and read-only to the engine.
type Template struct {
	Type TemplateType `json:"type" yaml:"type"`
	Name string       `json:"name" yaml:"name"`

	// Aliases are extra labels players may use to refer to instances of
	// this template.
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`

	// Attributes are default values copied onto newly spawned instances.
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`

	// World-template fields.
	Locations map[string]*LocationDef `json:"locations,omitempty" yaml:"locations,omitempty"`
	Entities  []*Placement            `json:"entities,omitempty" yaml:"entities,omitempty"`
	Flags     map[string]any          `json:"flags,omitempty" yaml:"flags,omitempty"`
}

// LocationDef is a named point in a world template.
type LocationDef struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	X           float64           `json:"x" yaml:"x"`
	Y           float64           `json:"y" yaml:"y"`
	Exits       map[string]string `json:"exits,omitempty" yaml:"exits,omitempty"`
}

// Placement seeds one entity instance into a world built from this template.
type Placement struct {
	// InstanceId is the designer-issued id. Empty means the engine issues
	// one at spawn time.
	InstanceId string         `json:"instance_id,omitempty" yaml:"instance_id,omitempty"`
	TemplateId string         `json:"template_id" yaml:"template_id"`
	Location   string         `json:"location" yaml:"location"`
	State      map[string]any `json:"state,omitempty" yaml:"state,omitempty"`
}

// Validate satisfies storage.ValidatingSpec.
func (t *Template) Validate() error {
	el := errors.NewErrorList()

	if t.Name == "" {
		el.Add(fmt.Errorf("template name is required"))
	}

	switch t.Type {
	case TemplateTypeItem, TemplateTypeNPC, TemplateTypeQuest:
		if len(t.Locations) > 0 || len(t.Entities) > 0 {
			el.Add(fmt.Errorf("locations and entities are only valid on world templates"))
		}
	case TemplateTypeWorld:
		if len(t.Locations) == 0 {
			el.Add(fmt.Errorf("world template requires at least one location"))
		}
		for i, p := range t.Entities {
			if p.TemplateId == "" {
				el.Add(fmt.Errorf("entity %d: template_id is required", i))
			}
			if _, ok := t.Locations[p.Location]; !ok {
				el.Add(fmt.Errorf("entity %d: location %q is not defined", i, p.Location))
			}
		}
		for name, loc := range t.Locations {
			for dir, dest := range loc.Exits {
				if _, ok := t.Locations[dest]; !ok {
					el.Add(fmt.Errorf("location %q: exit %q leads to undefined location %q", name, dir, dest))
				}
			}
		}
	case "":
		el.Add(fmt.Errorf("template type is required"))
	default:
		el.Add(fmt.Errorf("template type %q is invalid", t.Type))
	}

	return el.Err()
}

// Clone returns a deep copy so callers can never mutate catalog defaults.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}

	out := &Template{
		Type:       t.Type,
		Name:       t.Name,
		Aliases:    append([]string(nil), t.Aliases...),
		Attributes: cloneValueMap(t.Attributes),
		Flags:      cloneValueMap(t.Flags),
	}

	if t.Locations != nil {
		out.Locations = make(map[string]*LocationDef, len(t.Locations))
		for k, v := range t.Locations {
			loc := *v
			loc.Exits = cloneStringMap(v.Exits)
			out.Locations[k] = &loc
		}
	}

	if t.Entities != nil {
		out.Entities = make([]*Placement, len(t.Entities))
		for i, p := range t.Entities {
			pc := *p
			pc.State = cloneValueMap(p.State)
			out.Entities[i] = &pc
		}
	}

	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneValueMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return cloneValueMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
