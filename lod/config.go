package lod

import "github.com/aukilabs/quicklod/featureflag"

const (
	DefaultName                     = "default"
	DefaultTierCount                = 4
	DefaultUpdatesPerFrame          = 256
	DefaultClassifyInterval         = 30
	DefaultObjectCheckInterval      = 10
	DefaultMaxDeactivationsPerFrame = 4
)

// Config is the configuration of a scheduler. Zero values are replaced by
// defaults.
type Config struct {
	// The name used to label logs and metrics.
	Name string

	Grid GridConfig

	// The number of priority tiers (K).
	TierCount int

	// The number of object updates a tick aims for (B).
	UpdatesPerFrame int

	// The number of ticks between two classifications when no source moves
	// across a cell boundary.
	ClassifyInterval int

	// The number of ticks between two checks of moved objects.
	ObjectCheckInterval int

	// The maximum number of cells hidden per tick.
	MaxDeactivationsPerFrame int

	FeatureFlags featureflag.FeatureFlag
}

// normalized returns a copy of the configuration with defaults applied and
// degenerate values clamped, together with a description of every clamped
// value.
func (c Config) normalized() (Config, []string) {
	var warnings []string

	positive := func(name string, v, def int) int {
		switch {
		case v == 0:
			return def
		case v < 0:
			warnings = append(warnings, name+" is negative")
			return def
		}
		return v
	}

	if c.Name == "" {
		c.Name = DefaultName
	}
	c.TierCount = positive("tier count", c.TierCount, DefaultTierCount)
	c.UpdatesPerFrame = positive("updates per frame", c.UpdatesPerFrame, DefaultUpdatesPerFrame)
	c.ClassifyInterval = positive("classify interval", c.ClassifyInterval, DefaultClassifyInterval)
	c.ObjectCheckInterval = positive("object check interval", c.ObjectCheckInterval, DefaultObjectCheckInterval)
	c.MaxDeactivationsPerFrame = positive("max deactivations per frame", c.MaxDeactivationsPerFrame, DefaultMaxDeactivationsPerFrame)

	grid, gridWarnings := c.Grid.normalized()
	c.Grid = grid
	warnings = append(warnings, gridWarnings...)

	if c.FeatureFlags == nil {
		c.FeatureFlags = featureflag.New(nil)
	}

	return c, warnings
}
