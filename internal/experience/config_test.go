package experience

import (
	"strings"
	"testing"
	"time"

	"github.com/pixil98/go-testutil"
)

func validSharedConfig() *Config {
	return &Config{
		Name:    "Wylding Woods",
		Version: "1.0.0",
		State:   StateConfig{Model: StateModelShared},
		Locking: LockingConfig{Enabled: true},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := map[string]struct {
		mutate  func(*Config)
		expErrs []string
	}{
		"valid shared config": {
			mutate:  func(c *Config) {},
			expErrs: nil,
		},
		"valid isolated config": {
			mutate: func(c *Config) {
				c.State = StateConfig{
					Model:                   StateModelIsolated,
					CopyTemplateForIsolated: true,
					TemplateId:              "west-of-house",
				}
				c.Locking = LockingConfig{}
			},
			expErrs: nil,
		},
		"missing name": {
			mutate:  func(c *Config) { c.Name = "" },
			expErrs: []string{"name is required"},
		},
		"missing state model": {
			mutate:  func(c *Config) { c.State.Model = "" },
			expErrs: []string{"state.model is required"},
		},
		"invalid state model": {
			mutate:  func(c *Config) { c.State.Model = "hybrid" },
			expErrs: []string{`state.model "hybrid" is invalid`},
		},
		"shared without locking": {
			mutate:  func(c *Config) { c.Locking.Enabled = false },
			expErrs: []string{"shared state model requires locking"},
		},
		"isolated copy without template": {
			mutate: func(c *Config) {
				c.State = StateConfig{Model: StateModelIsolated, CopyTemplateForIsolated: true}
				c.Locking = LockingConfig{}
			},
			expErrs: []string{"state.template_id is required"},
		},
		"bad lock timeout": {
			mutate:  func(c *Config) { c.Locking.Timeout = "fast" },
			expErrs: []string{"parsing locking.timeout"},
		},
		"bad visibility": {
			mutate:  func(c *Config) { c.Visibility = "friends" },
			expErrs: []string{`visibility "friends" is invalid`},
		},
		"temporary ownership without ttl": {
			mutate:  func(c *Config) { c.Ownership.Mode = OwnershipTemporary },
			expErrs: []string{"parsing ownership.temporary_ttl"},
		},
		"temporary ownership with negative ttl": {
			mutate: func(c *Config) {
				c.Ownership = OwnershipConfig{Mode: OwnershipTemporary, TemporaryTTL: "-5s"}
			},
			expErrs: []string{"ownership.temporary_ttl must be positive"},
		},
		"invalid ownership mode": {
			mutate:  func(c *Config) { c.Ownership.Mode = "finders_keepers" },
			expErrs: []string{`ownership.mode "finders_keepers" is invalid`},
		},
		"all violations reported together": {
			mutate: func(c *Config) {
				c.Name = ""
				c.Version = ""
				c.Locking.Enabled = false
				c.AutoSaveInterval = "sometimes"
			},
			expErrs: []string{
				"name is required",
				"version is required",
				"shared state model requires locking",
				"parsing auto_save_interval",
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := validSharedConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

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

func TestConfig_Defaults(t *testing.T) {
	cfg := validSharedConfig()

	testutil.AssertEqual(t, "lock timeout", cfg.LockTimeout(), DefaultLockTimeout)
	testutil.AssertEqual(t, "lease ttl", cfg.LeaseTTL(), DefaultLeaseTTL)
	testutil.AssertEqual(t, "auto save", cfg.AutoSave(), DefaultAutoSave)
	testutil.AssertEqual(t, "ownership mode", cfg.OwnershipModeOrDefault(), OwnershipPermanent)
	testutil.AssertEqual(t, "visibility", cfg.VisibilityOrDefault(), VisibilityLocation)
	testutil.AssertEqual(t, "ownership ttl", cfg.OwnershipTTL(), time.Duration(0))
}

func TestConfig_ConfiguredValues(t *testing.T) {
	cfg := validSharedConfig()
	cfg.Locking.Timeout = "2s"
	cfg.Locking.LeaseTTL = "10s"
	cfg.AutoSaveInterval = "1m"
	cfg.Ownership = OwnershipConfig{Mode: OwnershipTemporary, TemporaryTTL: "90s"}
	cfg.Visibility = VisibilityAll
	cfg.Capabilities = map[string]bool{"npc_dialogue": true}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testutil.AssertEqual(t, "lock timeout", cfg.LockTimeout(), 2*time.Second)
	testutil.AssertEqual(t, "lease ttl", cfg.LeaseTTL(), 10*time.Second)
	testutil.AssertEqual(t, "auto save", cfg.AutoSave(), time.Minute)
	testutil.AssertEqual(t, "ownership ttl", cfg.OwnershipTTL(), 90*time.Second)
	testutil.AssertEqual(t, "visibility", cfg.VisibilityOrDefault(), VisibilityAll)
	testutil.AssertEqual(t, "capability on", cfg.Capability("npc_dialogue"), true)
	testutil.AssertEqual(t, "capability off", cfg.Capability("weather"), false)
}
