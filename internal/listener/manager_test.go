package listener

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pixil98/go-testutil"

	"github.com/driftline/worldcore/internal/bootstrap"
	"github.com/driftline/worldcore/internal/catalog"
	"github.com/driftline/worldcore/internal/engine"
	"github.com/driftline/worldcore/internal/experience"
	"github.com/driftline/worldcore/internal/index"
	"github.com/driftline/worldcore/internal/locking"
	"github.com/driftline/worldcore/internal/resolve"
	"github.com/driftline/worldcore/internal/storage"
	"github.com/driftline/worldcore/internal/view"
	"github.com/driftline/worldcore/internal/world"
)

type templateStorer struct {
	templates map[string]*catalog.Template
}

func (s *templateStorer) Save(id string, t *catalog.Template) error {
	s.templates[id] = t
	return nil
}

func (s *templateStorer) Get(id string) *catalog.Template {
	return s.templates[id]
}

func (s *templateStorer) GetAll() map[string]*catalog.Template {
	return s.templates
}

type configStorer struct {
	configs map[string]*experience.Config
}

func (s *configStorer) Save(id string, c *experience.Config) error {
	s.configs[id] = c
	return nil
}

func (s *configStorer) Get(id string) *experience.Config {
	return s.configs[id]
}

func (s *configStorer) GetAll() map[string]*experience.Config {
	return s.configs
}

// fakeBus registers handlers synchronously for direct invocation.
type fakeBus struct {
	handlers map[string]func([]byte) []byte
}

func (b *fakeBus) Serve(subject string, handler func(data []byte) []byte) (func(), error) {
	b.handlers[subject] = handler
	return func() {}, nil
}

func testManager(t *testing.T) (*Manager, *fakeBus) {
	t.Helper()

	records, err := storage.NewFileRecordStore(t.TempDir())
	if err != nil {
		t.Fatalf("creating record store: %v", err)
	}

	cat := catalog.New(&templateStorer{templates: map[string]*catalog.Template{
		"dream_bottle": {
			Type:    catalog.TemplateTypeItem,
			Name:    "dream bottle",
			Aliases: []string{"bottle"},
		},
		"wylding-woods-world": {
			Type: catalog.TemplateTypeWorld,
			Name: "Wylding Woods",
			Locations: map[string]*catalog.LocationDef{
				"glade": {Name: "Glade", X: 0, Y: 0},
			},
			Entities: []*catalog.Placement{
				{InstanceId: "dream_bottle_1", TemplateId: "dream_bottle", Location: "glade"},
			},
		},
	}})

	configs := experience.NewResolver(&configStorer{configs: map[string]*experience.Config{
		"wylding-woods": {
			Name:    "Wylding Woods",
			Version: "1.0.0",
			State: experience.StateConfig{
				Model:      experience.StateModelShared,
				TemplateId: "wylding-woods-world",
			},
			Locking:   experience.LockingConfig{Enabled: true},
			Bootstrap: experience.BootstrapConfig{StartingLocation: "glade"},
		},
	}})

	idx := index.New()
	worlds := world.NewStore(records, records, locking.NewCoordinator(), configs, cat,
		world.WithObserver(idx))
	views := view.NewStore(records, worlds, configs)
	eng := engine.New(views, worlds, configs, cat, idx, resolve.NewResolver(cat))
	boot := bootstrap.NewManager(views, worlds, configs, cat)

	bus := &fakeBus{handlers: make(map[string]func([]byte) []byte)}
	return NewManager(eng, boot, bus), bus
}

func call(t *testing.T, bus *fakeBus, subject string, req any) response {
	t.Helper()

	handler, ok := bus.handlers[subject]
	if !ok {
		t.Fatalf("no handler registered for %s", subject)
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshalling request: %v", err)
	}

	var resp response
	if err := json.Unmarshal(handler(data), &resp); err != nil {
		t.Fatalf("unmarshalling response: %v", err)
	}
	return resp
}

func TestManager_ServesEngineOperations(t *testing.T) {
	m, bus := testManager(t)
	if err := m.register(context.Background()); err != nil {
		t.Fatalf("registering handlers: %v", err)
	}

	resp := call(t, bus, SubjectBootstrap, bootstrapRequest{
		Player:     "alice",
		Experience: "wylding-woods",
	})
	if !resp.OK {
		t.Fatalf("bootstrap failed: %s", resp.Error)
	}

	resp = call(t, bus, SubjectReadContext, contextRequest{
		Player:     "alice",
		Experience: "wylding-woods",
	})
	if !resp.OK {
		t.Fatalf("read context failed: %s", resp.Error)
	}
	var rc engine.Context
	if err := json.Unmarshal(resp.Data, &rc); err != nil {
		t.Fatalf("decoding context: %v", err)
	}
	testutil.AssertEqual(t, "nearby", len(rc.Nearby), 1)

	resp = call(t, bus, SubjectPropose, proposeRequest{
		Player:     "alice",
		Experience: "wylding-woods",
		Mutation:   engine.Mutation{Intent: "collect", Target: "dream bottle"},
	})
	if !resp.OK {
		t.Fatalf("propose failed: %s", resp.Error)
	}
	var res engine.Result
	if err := json.Unmarshal(resp.Data, &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	testutil.AssertEqual(t, "holds bottle", res.View.Holds("dream_bottle_1"), true)
}

func TestManager_ReportsErrors(t *testing.T) {
	m, bus := testManager(t)
	if err := m.register(context.Background()); err != nil {
		t.Fatalf("registering handlers: %v", err)
	}

	resp := call(t, bus, SubjectPropose, proposeRequest{
		Player:     "ghost",
		Experience: "wylding-woods",
		Mutation:   engine.Mutation{Intent: "teleport"},
	})
	if resp.OK {
		t.Fatal("expected an error response")
	}
	if resp.Error == "" {
		t.Error("expected an error message")
	}

	resp = call(t, bus, SubjectBootstrap, bootstrapRequest{
		Player:     "alice",
		Experience: "no-such-experience",
	})
	if resp.OK {
		t.Fatal("expected an error response")
	}
}
