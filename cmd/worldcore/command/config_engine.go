package command

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
)

type EngineConfig struct {
	// CommitRetries bounds automatic retries on world version conflicts.
	CommitRetries int `json:"commit_retries,omitempty"`

	// NearbyRadius is the reach of nearby-entity queries, in world units.
	NearbyRadius float64 `json:"nearby_radius,omitempty"`

	// WorldCacheTTL and ViewCacheTTL are duration strings tuning the fast
	// tier; empty means package defaults.
	WorldCacheTTL string `json:"world_cache_ttl,omitempty"`
	ViewCacheTTL  string `json:"view_cache_ttl,omitempty"`
}

func (c *EngineConfig) validate() error {
	el := errors.NewErrorList()

	if c.CommitRetries < 0 {
		el.Add(fmt.Errorf("commit_retries must not be negative"))
	}
	if c.NearbyRadius < 0 {
		el.Add(fmt.Errorf("nearby_radius must not be negative"))
	}
	if c.WorldCacheTTL != "" {
		if _, err := time.ParseDuration(c.WorldCacheTTL); err != nil {
			el.Add(fmt.Errorf("parsing world_cache_ttl: %w", err))
		}
	}
	if c.ViewCacheTTL != "" {
		if _, err := time.ParseDuration(c.ViewCacheTTL); err != nil {
			el.Add(fmt.Errorf("parsing view_cache_ttl: %w", err))
		}
	}

	return el.Err()
}

func (c *EngineConfig) worldCacheTTL() (time.Duration, bool) {
	if c.WorldCacheTTL == "" {
		return 0, false
	}
	d, _ := time.ParseDuration(c.WorldCacheTTL)
	return d, true
}

func (c *EngineConfig) viewCacheTTL() (time.Duration, bool) {
	if c.ViewCacheTTL == "" {
		return 0, false
	}
	d, _ := time.ParseDuration(c.ViewCacheTTL)
	return d, true
}
