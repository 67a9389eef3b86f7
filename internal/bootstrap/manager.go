package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/driftline/worldcore/internal/catalog"
	"github.com/driftline/worldcore/internal/display"
	"github.com/driftline/worldcore/internal/experience"
	"github.com/driftline/worldcore/internal/storage"
	"github.com/driftline/worldcore/internal/view"
	"github.com/driftline/worldcore/internal/world"
)

// ErrStartingLocationRequired means neither the experience config nor the
// caller named a location to start the player at.
var ErrStartingLocationRequired = errors.New("a starting location is required")

var templateFuncs = sprig.TxtFuncMap()

// Session is the result of a bootstrap: the player's view plus the rendered
// entry message.
type Session struct {
	View *view.PlayerView

	// Entry is the experience's rendered, word-wrapped entry message.
	Entry string

	// Created reports whether this bootstrap created the view. Repeat
	// bootstraps find the existing one and grant nothing twice.
	Created bool
}

// Manager performs first-contact setup for a player entering an experience.
// Bootstrap is idempotent: running it again returns the existing session
// state without re-granting inventory or re-copying templates.
type Manager struct {
	views   *view.Store
	worlds  *world.Store
	configs *experience.Resolver
	catalog *catalog.Catalog
}

func NewManager(views *view.Store, worlds *world.Store, configs *experience.Resolver, cat *catalog.Catalog) *Manager {
	return &Manager{
		views:   views,
		worlds:  worlds,
		configs: configs,
		catalog: cat,
	}
}

// Bootstrap enters a player into an experience. location overrides the
// config's starting location when non-empty.
func (m *Manager) Bootstrap(ctx context.Context, player, exp, location string) (*Session, error) {
	cfg, err := m.configs.Resolve(exp)
	if err != nil {
		return nil, err
	}

	if location == "" {
		location = cfg.Bootstrap.StartingLocation
	}
	if location == "" {
		return nil, fmt.Errorf("%w: experience %q configures none", ErrStartingLocationRequired, exp)
	}

	v, created, err := m.findOrCreateView(ctx, player, exp, cfg, location)
	if err != nil {
		return nil, err
	}

	if cfg.State.Model == experience.StateModelShared {
		if err := m.registerPresence(ctx, player, exp, location); err != nil {
			return nil, err
		}
	}

	entry, err := m.renderEntry(cfg, player, v.Location)
	if err != nil {
		// A broken entry template should not keep the player out.
		slog.WarnContext(ctx, "rendering entry message", "experience", exp, "error", err)
		entry = ""
	}

	return &Session{View: v, Entry: entry, Created: created}, nil
}

func (m *Manager) findOrCreateView(ctx context.Context, player, exp string, cfg *experience.Config, location string) (*view.PlayerView, bool, error) {
	existing, err := m.views.Get(ctx, player, exp)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrRecordNotFound) {
		return nil, false, err
	}

	v := view.NewPlayerView(player, exp)
	v.Location = location

	if cfg.State.Model == experience.StateModelIsolated && cfg.State.CopyTemplateForIsolated {
		copy, err := m.materializeCopy(cfg.State.TemplateId)
		if err != nil {
			return nil, false, err
		}
		if _, err := copy.Location(location); err != nil {
			return nil, false, err
		}
		v.World = copy
	}

	for _, templateId := range cfg.Bootstrap.StartingInventory {
		inst, err := m.spawnGrant(templateId)
		if err != nil {
			return nil, false, err
		}
		if err := v.AddItem(inst); err != nil {
			return nil, false, err
		}
	}

	created, err := m.views.Create(ctx, v)
	if err != nil {
		return nil, false, err
	}

	// A lost creation race returns the other writer's view; nothing was
	// granted twice because only the stored version counts.
	won := created.CreatedAt.Equal(v.CreatedAt)
	return created, won, nil
}

func (m *Manager) materializeCopy(templateId string) (*world.State, error) {
	tmpl, err := m.catalog.Snapshot(templateId)
	if err != nil {
		return nil, err
	}
	return world.NewStateFromTemplate(tmpl, m.catalog)
}

// spawnGrant creates a starting-inventory instance with an engine-issued id.
func (m *Manager) spawnGrant(templateId string) (*world.Instance, error) {
	tmpl, err := m.catalog.Snapshot(templateId)
	if err != nil {
		return nil, fmt.Errorf("starting inventory: %w", err)
	}
	return world.SpawnInstance("", templateId, tmpl, world.Location{})
}

// registerPresence records the player's location in the shared world. It
// also validates the location against the world's actual map.
func (m *Manager) registerPresence(ctx context.Context, player, exp, location string) error {
	_, err := m.worlds.Commit(ctx, exp, func(st *world.State) error {
		return st.SetPlayerLocation(player, location)
	})
	return err
}

func (m *Manager) renderEntry(cfg *experience.Config, player, location string) (string, error) {
	if cfg.EntryMessage == "" {
		return "", nil
	}

	tmpl, err := template.New("").Funcs(templateFuncs).Parse(cfg.EntryMessage)
	if err != nil {
		return "", fmt.Errorf("parsing entry message: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, struct {
		PlayerId   string
		Experience string
		Location   string
	}{player, cfg.Name, location})
	if err != nil {
		return "", fmt.Errorf("executing entry message: %w", err)
	}

	return display.Wrap(buf.String()), nil
}
