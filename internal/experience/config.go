package experience

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
)

// StateModel selects the persistence topology for an experience.
type StateModel string

const (
	// StateModelShared is one world document visited by many players.
	StateModelShared StateModel = "shared"
	// StateModelIsolated gives each player an independent copy of a template.
	StateModelIsolated StateModel = "isolated"
)

// OwnershipMode controls what happens to a shared-world entity when a
// player collects it.
type OwnershipMode string

const (
	// OwnershipFirstInteraction marks the entity as collected but leaves it
	// visible in the world for other players.
	OwnershipFirstInteraction OwnershipMode = "first_interaction"
	// OwnershipPermanent removes the entity from the world.
	OwnershipPermanent OwnershipMode = "permanent"
	// OwnershipTemporary removes the entity and restores it after TemporaryTTL.
	OwnershipTemporary OwnershipMode = "temporary"
)

// VisibilityMode controls whether players see each other in shared worlds.
type VisibilityMode string

const (
	VisibilityAll      VisibilityMode = "all"
	VisibilityLocation VisibilityMode = "location"
	VisibilityNone     VisibilityMode = "none"
)

const (
	DefaultLockTimeout = 5 * time.Second
	DefaultLeaseTTL    = 5 * time.Second
	DefaultAutoSave    = 30 * time.Second
)

// Config is the authored policy for one experience. Values are immutable
// once resolved; hot reloads replace the whole object.
type Config struct {
	Name    string `json:"name"`
	Version string `json:"version"`

	State     StateConfig     `json:"state"`
	Locking   LockingConfig   `json:"locking"`
	Bootstrap BootstrapConfig `json:"bootstrap"`
	Ownership OwnershipConfig `json:"ownership"`

	// AutoSaveInterval is a duration string; empty means the default.
	AutoSaveInterval string `json:"auto_save_interval,omitempty"`

	Visibility VisibilityMode `json:"visibility,omitempty"`

	// Capabilities gates optional engine features per experience.
	Capabilities map[string]bool `json:"capabilities,omitempty"`

	// EntryMessage is an optional template shown to the player after
	// bootstrap. It may reference {{.PlayerId}}, {{.Experience}}, and
	// {{.Location}}.
	EntryMessage string `json:"entry_message,omitempty"`
}

type StateConfig struct {
	Model StateModel `json:"model"`

	// CopyTemplateForIsolated materializes a full copy of the world template
	// into each player's view on first access.
	CopyTemplateForIsolated bool `json:"copy_template_for_isolated,omitempty"`

	// TemplateId names the world template to copy for isolated experiences.
	TemplateId string `json:"template_id,omitempty"`
}

type LockingConfig struct {
	Enabled bool `json:"enabled"`

	// Timeout and LeaseTTL are duration strings; empty means defaults.
	Timeout  string `json:"timeout,omitempty"`
	LeaseTTL string `json:"lease_ttl,omitempty"`
}

type BootstrapConfig struct {
	// StartingLocation is the location new players spawn at. Empty means
	// the caller must supply one.
	StartingLocation string `json:"starting_location,omitempty"`

	// StartingInventory lists template ids granted once at bootstrap.
	StartingInventory []string `json:"starting_inventory,omitempty"`
}

type OwnershipConfig struct {
	Mode OwnershipMode `json:"mode,omitempty"`

	// TemporaryTTL is a duration string, required when Mode is temporary.
	TemporaryTTL string `json:"temporary_ttl,omitempty"`
}

// Validate satisfies storage.ValidatingSpec. It reports every violated
// rule, not just the first.
func (c *Config) Validate() error {
	el := errors.NewErrorList()

	if c.Name == "" {
		el.Add(fmt.Errorf("name is required"))
	}
	if c.Version == "" {
		el.Add(fmt.Errorf("version is required"))
	}

	switch c.State.Model {
	case StateModelShared, StateModelIsolated:
	case "":
		el.Add(fmt.Errorf("state.model is required"))
	default:
		el.Add(fmt.Errorf("state.model %q is invalid (must be shared or isolated)", c.State.Model))
	}

	if c.State.Model == StateModelShared && !c.Locking.Enabled {
		el.Add(fmt.Errorf("shared state model requires locking to be enabled"))
	}
	if c.State.Model == StateModelIsolated && c.State.CopyTemplateForIsolated && c.State.TemplateId == "" {
		el.Add(fmt.Errorf("state.template_id is required when copy_template_for_isolated is set"))
	}

	if c.Locking.Timeout != "" {
		if _, err := time.ParseDuration(c.Locking.Timeout); err != nil {
			el.Add(fmt.Errorf("parsing locking.timeout: %w", err))
		}
	}
	if c.Locking.LeaseTTL != "" {
		if _, err := time.ParseDuration(c.Locking.LeaseTTL); err != nil {
			el.Add(fmt.Errorf("parsing locking.lease_ttl: %w", err))
		}
	}
	if c.AutoSaveInterval != "" {
		if _, err := time.ParseDuration(c.AutoSaveInterval); err != nil {
			el.Add(fmt.Errorf("parsing auto_save_interval: %w", err))
		}
	}

	switch c.Visibility {
	case "", VisibilityAll, VisibilityLocation, VisibilityNone:
	default:
		el.Add(fmt.Errorf("visibility %q is invalid (must be all, location, or none)", c.Visibility))
	}

	switch c.Ownership.Mode {
	case "", OwnershipFirstInteraction, OwnershipPermanent:
	case OwnershipTemporary:
		d, err := time.ParseDuration(c.Ownership.TemporaryTTL)
		if err != nil {
			el.Add(fmt.Errorf("parsing ownership.temporary_ttl: %w", err))
		} else if d <= 0 {
			el.Add(fmt.Errorf("ownership.temporary_ttl must be positive"))
		}
	default:
		el.Add(fmt.Errorf("ownership.mode %q is invalid", c.Ownership.Mode))
	}

	return el.Err()
}

// LockTimeout returns the configured lock acquisition timeout or the default.
// Validate guarantees the string parses.
func (c *Config) LockTimeout() time.Duration {
	if c.Locking.Timeout == "" {
		return DefaultLockTimeout
	}
	d, _ := time.ParseDuration(c.Locking.Timeout)
	return d
}

// LeaseTTL returns the configured lock lease or the default.
func (c *Config) LeaseTTL() time.Duration {
	if c.Locking.LeaseTTL == "" {
		return DefaultLeaseTTL
	}
	d, _ := time.ParseDuration(c.Locking.LeaseTTL)
	return d
}

// AutoSave returns the configured auto-save interval or the default.
func (c *Config) AutoSave() time.Duration {
	if c.AutoSaveInterval == "" {
		return DefaultAutoSave
	}
	d, _ := time.ParseDuration(c.AutoSaveInterval)
	return d
}

// OwnershipTTL returns the temporary-ownership duration, zero unless the
// mode is temporary.
func (c *Config) OwnershipTTL() time.Duration {
	if c.Ownership.Mode != OwnershipTemporary {
		return 0
	}
	d, _ := time.ParseDuration(c.Ownership.TemporaryTTL)
	return d
}

// OwnershipModeOrDefault returns the configured ownership mode, defaulting
// to permanent removal.
func (c *Config) OwnershipModeOrDefault() OwnershipMode {
	if c.Ownership.Mode == "" {
		return OwnershipPermanent
	}
	return c.Ownership.Mode
}

// VisibilityOrDefault returns the configured visibility, defaulting to
// location-scoped.
func (c *Config) VisibilityOrDefault() VisibilityMode {
	if c.Visibility == "" {
		return VisibilityLocation
	}
	return c.Visibility
}

// Capability reports whether a named capability flag is enabled.
func (c *Config) Capability(name string) bool {
	return c.Capabilities[name]
}
