package lod

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	DefaultMaxUpdateDistance = 100.0
	DefaultSmoothFalloff     = 2.0
)

// SourceHandle identifies a registered source.
type SourceHandle uint32

// ViewAngleMode selects how the angle between a source forward direction and
// a target modifies the target distance.
type ViewAngleMode int

const (
	// The angle is ignored.
	ViewAngleNone ViewAngleMode = iota

	// Targets beyond the margin angle are out of range.
	ViewAngleHard

	// Targets beyond the margin angle get their distance stretched within the
	// border band and are out of range past it.
	ViewAngleHardBorder

	// Targets beyond the margin angle get their distance stretched
	// proportionally to how far behind the source they are.
	ViewAngleSmooth
)

func (m ViewAngleMode) String() string {
	switch m {
	case ViewAngleHard:
		return "hard"
	case ViewAngleHardBorder:
		return "hard-border"
	case ViewAngleSmooth:
		return "smooth"
	default:
		return "none"
	}
}

// ParseViewAngleMode returns the mode with the given name. Unknown names
// return ViewAngleNone.
func ParseViewAngleMode(s string) ViewAngleMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hard":
		return ViewAngleHard
	case "hard-border", "hardborder":
		return ViewAngleHardBorder
	case "smooth":
		return ViewAngleSmooth
	default:
		return ViewAngleNone
	}
}

// ViewAngleConfig configures the view-angle falloff of a source. Angles are
// in degrees and measured from the source forward direction.
type ViewAngleConfig struct {
	Mode    ViewAngleMode
	Margin  float64
	Border  float64
	Falloff float64
}

// SourceConfig configures how a source measures distances.
type SourceConfig struct {
	// Effective distances at or beyond this value are out of range.
	MaxUpdateDistance float64

	// Real distances are divided by the multiplier. A multiplier of 2 doubles
	// the source reach.
	DistanceMultiplier float64

	// One threshold per tier. A distance below TierDistances[i] and not below
	// TierDistances[i-1] maps to tier i. The last threshold is the range limit.
	TierDistances []float64

	ViewAngle ViewAngleConfig
}

// normalized returns a copy of the configuration with exactly tierCount
// increasing thresholds and sane view-angle values.
func (c SourceConfig) normalized(tierCount int) SourceConfig {
	given := make([]float64, 0, len(c.TierDistances))
	for _, d := range c.TierDistances {
		if d > 0 && !math.IsNaN(d) {
			given = append(given, d)
		}
	}
	sort.Float64s(given)

	if c.MaxUpdateDistance <= 0 || math.IsNaN(c.MaxUpdateDistance) {
		c.MaxUpdateDistance = DefaultMaxUpdateDistance
		if len(given) != 0 {
			c.MaxUpdateDistance = given[len(given)-1]
		}
	}

	if c.DistanceMultiplier <= 0 || math.IsNaN(c.DistanceMultiplier) {
		c.DistanceMultiplier = 1
	}

	n := min(len(given), tierCount)
	distances := make([]float64, tierCount)
	copy(distances, given[:n])

	if n < tierCount {
		last := 0.0
		if n > 0 {
			last = distances[n-1]
		}

		step := (math.Max(c.MaxUpdateDistance, last) - last) / float64(tierCount-n)
		for i := n; i < tierCount; i++ {
			last += step
			distances[i] = last
		}
	}
	c.TierDistances = distances

	va := &c.ViewAngle
	va.Margin = math.Max(0, math.Min(180, va.Margin))
	va.Border = math.Max(0, va.Border)
	if va.Falloff <= 0 {
		va.Falloff = DefaultSmoothFalloff
	}

	return c
}

// Source is a moving point of reference, such as a camera, against which
// object priority is measured.
type Source struct {
	handle   SourceHandle
	id       string
	position r3.Vec
	forward  r3.Vec
	config   SourceConfig

	coord      Coord
	coordKnown bool
	removed    bool
}

// Handle returns the source handle.
func (s *Source) Handle() SourceHandle {
	return s.handle
}

// ID returns the identifier given at registration.
func (s *Source) ID() string {
	return s.id
}

// Position returns the last known source position.
func (s *Source) Position() r3.Vec {
	return s.position
}

// Forward returns the last known source forward direction.
func (s *Source) Forward() r3.Vec {
	return s.forward
}

// Config returns the normalized source configuration.
func (s *Source) Config() SourceConfig {
	return s.config
}

// reach returns the real distance beyond which nothing is in range.
func (s *Source) reach() float64 {
	return s.config.MaxUpdateDistance * s.config.DistanceMultiplier
}

// effectiveDistance returns the distance from the source to target, divided
// by the distance multiplier and stretched by the view-angle falloff. The
// boolean is false when the view angle puts the target out of range.
// Targets closer than innerRadius are never affected by the view angle.
func (s *Source) effectiveDistance(target r3.Vec, useViewAngle bool, innerRadius float64) (float64, bool) {
	offset := r3.Sub(target, s.position)
	dist := r3.Norm(offset)
	d := dist / s.config.DistanceMultiplier

	va := s.config.ViewAngle
	if !useViewAngle || va.Mode == ViewAngleNone || dist <= innerRadius {
		return d, true
	}

	angle := angleBetween(s.forward, offset)
	if angle <= va.Margin {
		return d, true
	}

	switch va.Mode {
	case ViewAngleHard:
		return 0, false

	case ViewAngleHardBorder:
		if angle >= va.Margin+va.Border {
			return 0, false
		}
		t := (angle - va.Margin) / va.Border
		return d / (1 - t), true

	case ViewAngleSmooth:
		span := 180 - va.Margin
		if span <= 0 {
			return d, true
		}
		return d * (1 + va.Falloff*(angle-va.Margin)/span), true
	}

	return d, true
}

// tierFor maps an effective distance to a tier, TierInactive when out of
// range.
func (s *Source) tierFor(d float64) int {
	if d >= s.config.MaxUpdateDistance {
		return TierInactive
	}

	for i, t := range s.config.TierDistances {
		if d < t {
			return i
		}
	}
	return TierInactive
}
