package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/driftline/worldcore/internal/storage"
)

// UpdateSubject is the messaging subject carrying content-update events.
// The payload is the id of the changed template.
const UpdateSubject = "catalog.update"

var ErrTemplateNotFound = errors.New("template not found")

// Reloader is satisfied by stores that can re-read a single asset from disk.
type Reloader interface {
	Reload(id string) error
}

// Subscriber provides the ability to subscribe to message subjects.
type Subscriber interface {
	Subscribe(subject string, handler func(data []byte)) (unsubscribe func(), err error)
}

// yamlDoc mirrors the storage.Asset envelope for YAML-authored templates.
type yamlDoc struct {
	Version    uint      `yaml:"version"`
	Identifier string    `yaml:"id"`
	Spec       *Template `yaml:"spec"`
}

// Catalog is the read-only template store. JSON assets come from a
// storage.Storer; YAML documents can be layered in from a directory.
// Entries are cached until a content-update event names them.
type Catalog struct {
	store storage.Storer[*Template]

	mu    sync.RWMutex
	yaml  map[string]*Template
	paths map[string]string // yaml id -> file path, for reloads

	unsubscribe func()
}

func New(store storage.Storer[*Template]) *Catalog {
	return &Catalog{
		store: store,
		yaml:  make(map[string]*Template),
		paths: make(map[string]string),
	}
}

// LoadYAMLDir loads every .yaml/.yml template document under path.
// YAML entries shadow JSON assets with the same id.
func (c *Catalog) LoadYAMLDir(path string) error {
	return filepath.Walk(path, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		ext := filepath.Ext(p)
		if info.IsDir() || (ext != ".yaml" && ext != ".yml") {
			return nil
		}
		return c.loadYAMLFile(p)
	})
}

func (c *Catalog) loadYAMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading template %s: %w", path, err)
	}

	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshalling template %s: %w", path, err)
	}

	if doc.Identifier == "" || doc.Spec == nil {
		return fmt.Errorf("template %s: id and spec are required", path)
	}
	if err := doc.Spec.Validate(); err != nil {
		return fmt.Errorf("validating template %q: %w", doc.Identifier, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.yaml[doc.Identifier]; ok {
		return fmt.Errorf("duplicate template id: %s", doc.Identifier)
	}
	c.yaml[doc.Identifier] = doc.Spec
	c.paths[doc.Identifier] = path
	return nil
}

// Get returns the template, or nil if unknown. Callers must treat the
// result as read-only; use Snapshot for a mutable copy.
func (c *Catalog) Get(id string) *Template {
	c.mu.RLock()
	tmpl, ok := c.yaml[id]
	c.mu.RUnlock()
	if ok {
		return tmpl
	}
	return c.store.Get(id)
}

// Has reports whether a template with this id exists.
func (c *Catalog) Has(id string) bool {
	return c.Get(id) != nil
}

// Snapshot returns a deep copy of the template.
func (c *Catalog) Snapshot(id string) (*Template, error) {
	tmpl := c.Get(id)
	if tmpl == nil {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, id)
	}
	return tmpl.Clone(), nil
}

// Invalidate re-reads one template after a content update.
func (c *Catalog) Invalidate(id string) error {
	c.mu.Lock()
	path, isYAML := c.paths[id]
	if isYAML {
		delete(c.yaml, id)
		delete(c.paths, id)
	}
	c.mu.Unlock()

	if isYAML {
		return c.loadYAMLFile(path)
	}

	if r, ok := c.store.(Reloader); ok {
		return r.Reload(id)
	}
	return nil
}

// WatchUpdates subscribes to content-update events and invalidates the
// named template on each one.
func (c *Catalog) WatchUpdates(sub Subscriber) error {
	unsub, err := sub.Subscribe(UpdateSubject, func(data []byte) {
		id := string(data)
		if err := c.Invalidate(id); err != nil {
			slog.Warn("reloading template after update event", "template", id, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", UpdateSubject, err)
	}
	c.unsubscribe = unsub
	return nil
}

// Close drops the update subscription, if any.
func (c *Catalog) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}
