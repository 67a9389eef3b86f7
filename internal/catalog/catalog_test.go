package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pixil98/go-testutil"
)

// mapStorer is a storage.Storer backed by a plain map.
type mapStorer struct {
	templates map[string]*Template
	reloaded  []string
}

func (s *mapStorer) Save(id string, t *Template) error {
	s.templates[id] = t
	return nil
}

func (s *mapStorer) Get(id string) *Template {
	return s.templates[id]
}

func (s *mapStorer) GetAll() map[string]*Template {
	return s.templates
}

func (s *mapStorer) Reload(id string) error {
	s.reloaded = append(s.reloaded, id)
	return nil
}

func itemTemplate(name string, aliases ...string) *Template {
	return &Template{
		Type:    TemplateTypeItem,
		Name:    name,
		Aliases: aliases,
		Attributes: map[string]any{
			"collected": false,
		},
	}
}

func worldTemplate() *Template {
	return &Template{
		Type: TemplateTypeWorld,
		Name: "West of House",
		Locations: map[string]*LocationDef{
			"west_of_house": {
				Name:        "West of House",
				Description: "You are standing in an open field west of a white house.",
				X:           0, Y: 0,
				Exits: map[string]string{"north": "north_of_house"},
			},
			"north_of_house": {
				Name: "North of House",
				X:    0, Y: 10,
				Exits: map[string]string{"south": "west_of_house"},
			},
		},
		Entities: []*Placement{
			{InstanceId: "mailbox", TemplateId: "small-mailbox", Location: "west_of_house"},
		},
		Flags: map[string]any{"door_open": false},
	}
}

func TestTemplate_Validate(t *testing.T) {
	tests := map[string]struct {
		tmpl    *Template
		expErrs []string
	}{
		"valid item": {
			tmpl:    itemTemplate("brass lantern", "lantern"),
			expErrs: nil,
		},
		"valid world": {
			tmpl:    worldTemplate(),
			expErrs: nil,
		},
		"missing name and type": {
			tmpl:    &Template{},
			expErrs: []string{"template name is required", "template type is required"},
		},
		"invalid type": {
			tmpl:    &Template{Type: "spell", Name: "fireball"},
			expErrs: []string{`template type "spell" is invalid`},
		},
		"item with locations": {
			tmpl: &Template{
				Type:      TemplateTypeItem,
				Name:      "sword",
				Locations: map[string]*LocationDef{"armory": {Name: "Armory"}},
			},
			expErrs: []string{"only valid on world templates"},
		},
		"world without locations": {
			tmpl:    &Template{Type: TemplateTypeWorld, Name: "Nowhere"},
			expErrs: []string{"at least one location"},
		},
		"placement at undefined location": {
			tmpl: &Template{
				Type: TemplateTypeWorld,
				Name: "Woods",
				Locations: map[string]*LocationDef{
					"clearing": {Name: "Clearing"},
				},
				Entities: []*Placement{
					{TemplateId: "dream_bottle", Location: "canyon"},
				},
			},
			expErrs: []string{`location "canyon" is not defined`},
		},
		"exit to undefined location": {
			tmpl: &Template{
				Type: TemplateTypeWorld,
				Name: "Woods",
				Locations: map[string]*LocationDef{
					"clearing": {Name: "Clearing", Exits: map[string]string{"east": "void"}},
				},
			},
			expErrs: []string{`leads to undefined location "void"`},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := tt.tmpl.Validate()

			if len(tt.expErrs) == 0 {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}

			if err == nil {
				t.Fatalf("expected errors %v, got nil", tt.expErrs)
			}
			for _, e := range tt.expErrs {
				if !strings.Contains(err.Error(), e) {
					t.Errorf("error %q does not contain %q", err.Error(), e)
				}
			}
		})
	}
}

func TestTemplate_CloneDoesNotAlias(t *testing.T) {
	orig := worldTemplate()
	clone := orig.Clone()

	clone.Locations["west_of_house"].Exits["down"] = "cellar"
	clone.Entities[0].State = map[string]any{"opened": true}
	clone.Flags["door_open"] = true

	testutil.AssertEqual(t, "original exits", len(orig.Locations["west_of_house"].Exits), 1)
	if orig.Entities[0].State != nil {
		t.Errorf("original placement state mutated: %v", orig.Entities[0].State)
	}
	testutil.AssertEqual(t, "original flag", orig.Flags["door_open"], false)
}

func TestCatalog_Snapshot(t *testing.T) {
	store := &mapStorer{templates: map[string]*Template{
		"dream_bottle": itemTemplate("dream bottle", "bottle"),
	}}
	c := New(store)

	snap, err := c.Snapshot("dream_bottle")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap.Attributes["collected"] = true

	testutil.AssertEqual(t, "catalog attribute untouched",
		store.templates["dream_bottle"].Attributes["collected"], false)

	_, err = c.Snapshot("unicorn")
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestCatalog_YAMLShadowsJSON(t *testing.T) {
	dir := t.TempDir()
	doc := `
version: 1
id: dream_bottle
spec:
  type: item
  name: dream bottle (revised)
  aliases: [bottle]
`
	if err := os.WriteFile(filepath.Join(dir, "dream_bottle.yaml"), []byte(doc), 0644); err != nil {
		t.Fatalf("writing yaml: %v", err)
	}

	store := &mapStorer{templates: map[string]*Template{
		"dream_bottle": itemTemplate("dream bottle"),
	}}
	c := New(store)
	if err := c.LoadYAMLDir(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := c.Get("dream_bottle")
	testutil.AssertEqual(t, "yaml name wins", got.Name, "dream bottle (revised)")
}

func TestCatalog_LoadYAMLDir_InvalidSpec(t *testing.T) {
	dir := t.TempDir()
	doc := `
version: 1
id: broken
spec:
  type: spell
  name: ""
`
	if err := os.WriteFile(filepath.Join(dir, "broken.yml"), []byte(doc), 0644); err != nil {
		t.Fatalf("writing yaml: %v", err)
	}

	c := New(&mapStorer{templates: map[string]*Template{}})
	err := c.LoadYAMLDir(dir)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "validating template") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCatalog_InvalidateReloadsStore(t *testing.T) {
	store := &mapStorer{templates: map[string]*Template{
		"dream_bottle": itemTemplate("dream bottle"),
	}}
	c := New(store)

	if err := c.Invalidate("dream_bottle"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "reload count", len(store.reloaded), 1)
	testutil.AssertEqual(t, "reloaded id", store.reloaded[0], "dream_bottle")
}

// fakeSubscriber captures the subscription and lets tests push events.
type fakeSubscriber struct {
	handlers map[string]func([]byte)
}

func (s *fakeSubscriber) Subscribe(subject string, handler func(data []byte)) (func(), error) {
	if s.handlers == nil {
		s.handlers = make(map[string]func([]byte))
	}
	s.handlers[subject] = handler
	return func() { delete(s.handlers, subject) }, nil
}

func TestCatalog_WatchUpdates(t *testing.T) {
	store := &mapStorer{templates: map[string]*Template{
		"dream_bottle": itemTemplate("dream bottle"),
	}}
	c := New(store)

	sub := &fakeSubscriber{}
	if err := c.WatchUpdates(sub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub.handlers[UpdateSubject]([]byte("dream_bottle"))
	testutil.AssertEqual(t, "reloaded id", store.reloaded[0], "dream_bottle")

	c.Close()
	testutil.AssertEqual(t, "unsubscribed", len(sub.handlers), 0)
}
