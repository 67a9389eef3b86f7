package experience

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/driftline/worldcore/internal/storage"
)

var (
	ErrNotFound = errors.New("experience not found")

	// ErrConfigInvalid wraps the full rule list from Config.Validate.
	ErrConfigInvalid = errors.New("experience config invalid")
)

// Resolver loads experience configs from a store, validates them, and
// caches the validated result. Resolved configs are immutable; Invalidate
// swaps in a freshly loaded copy atomically.
type Resolver struct {
	store storage.Storer[*Config]

	mu    sync.RWMutex
	cache map[string]*Config
}

func NewResolver(store storage.Storer[*Config]) *Resolver {
	return &Resolver{
		store: store,
		cache: make(map[string]*Config),
	}
}

// Resolve returns the validated config for an experience.
func (r *Resolver) Resolve(id string) (*Config, error) {
	r.mu.RLock()
	cfg, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	cfg = r.store.Get(id)
	if cfg == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrConfigInvalid, id, err)
	}

	warnRiskySettings(id, cfg)

	r.mu.Lock()
	r.cache[id] = cfg
	r.mu.Unlock()

	return cfg, nil
}

// Ids lists every experience known to the backing store, sorted.
func (r *Resolver) Ids() []string {
	all := r.store.GetAll()
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Invalidate drops the cached config so the next Resolve re-reads the store.
func (r *Resolver) Invalidate(id string) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}

// warnRiskySettings logs non-fatal warnings for legal-but-risky values.
func warnRiskySettings(id string, cfg *Config) {
	if cfg.AutoSave() < time.Second {
		slog.Warn("sub-second auto-save interval", "experience", id, "interval", cfg.AutoSave())
	}
	if cfg.Locking.Enabled && cfg.LeaseTTL() < cfg.LockTimeout() {
		slog.Warn("lock lease shorter than acquisition timeout", "experience", id,
			"lease", cfg.LeaseTTL(), "timeout", cfg.LockTimeout())
	}
}
