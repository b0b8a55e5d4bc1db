// Package sim drives a LOD scheduler with a deterministic simulated world:
// objects wandering in the grid and sources orbiting its center.
package sim

import (
	"math"
	"math/rand/v2"
	"strconv"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quicklod/lod"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	DefaultObjectCount = 2000
	DefaultSourceCount = 2
	DefaultWalkSpeed   = 0.5
	DefaultOrbitSpeed  = 0.01
)

// WorldConfig configures a simulated world.
type WorldConfig struct {
	// The seed of the random generator. Worlds with the same seed and
	// configuration evolve identically.
	Seed uint64

	ObjectCount int

	// The share of objects that never move, between 0 and 1.
	StaticShare float64

	// The probability, per step, that a random static object is relocated.
	RelocateRate float64

	// The distance walkers travel per step.
	WalkSpeed float64

	SourceCount int

	// The orbit radius of sources. Defaults to a third of the smallest grid
	// extent.
	OrbitRadius float64

	// The angle, in radians, sources travel per step.
	OrbitSpeed float64

	Source lod.SourceConfig
}

func (c WorldConfig) normalized(grid lod.GridConfig) WorldConfig {
	if c.ObjectCount <= 0 {
		c.ObjectCount = DefaultObjectCount
	}
	c.StaticShare = math.Max(0, math.Min(1, c.StaticShare))
	c.RelocateRate = math.Max(0, math.Min(1, c.RelocateRate))
	if c.WalkSpeed <= 0 {
		c.WalkSpeed = DefaultWalkSpeed
	}
	if c.SourceCount <= 0 {
		c.SourceCount = DefaultSourceCount
	}
	if c.OrbitRadius <= 0 {
		c.OrbitRadius = math.Min(grid.Extent.X, grid.Extent.Z) / 3
	}
	if c.OrbitSpeed == 0 {
		c.OrbitSpeed = DefaultOrbitSpeed
	}
	return c
}

type walker struct {
	handle   lod.ObjectHandle
	position r3.Vec
	velocity r3.Vec
}

type orbiter struct {
	handle lod.SourceHandle
	phase  float64
	height float64
}

// World owns a scheduler and moves its objects and sources at every step.
type World struct {
	config    WorldConfig
	scheduler *lod.Scheduler
	rng       *rand.Rand

	min    r3.Vec
	max    r3.Vec
	center r3.Vec

	walkers  []walker
	statics  []lod.ObjectHandle
	orbiters []orbiter

	steps        uint64
	levelChanges map[int]int
}

// NewWorld creates a scheduler with the given configuration and populates it.
func NewWorld(cfg WorldConfig, schedulerConfig lod.Config) *World {
	w := &World{
		rng:          rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		levelChanges: make(map[int]int),
	}
	w.scheduler = lod.NewScheduler(schedulerConfig, w.HandleLodChange)

	grid := w.scheduler.Grid().Config()
	w.config = cfg.normalized(grid)
	w.min = grid.Origin
	w.max = r3.Add(grid.Origin, grid.Extent)
	w.center = r3.Add(grid.Origin, r3.Scale(0.5, grid.Extent))

	staticCount := int(math.Round(float64(w.config.ObjectCount) * w.config.StaticShare))
	for i := 0; i < w.config.ObjectCount; i++ {
		id := "object-" + strconv.Itoa(i)
		pos := w.randomPosition()

		if i < staticCount {
			h := w.scheduler.RegisterObject(id, pos, lod.ObjectOptions{Static: true})
			w.statics = append(w.statics, h)
			continue
		}

		h := w.scheduler.RegisterObject(id, pos, lod.ObjectOptions{})
		w.walkers = append(w.walkers, walker{
			handle:   h,
			position: pos,
			velocity: r3.Scale(w.config.WalkSpeed, w.randomDirection()),
		})
	}

	for i := 0; i < w.config.SourceCount; i++ {
		o := orbiter{
			phase:  2 * math.Pi * float64(i) / float64(w.config.SourceCount),
			height: w.center.Y,
		}
		pos, fwd := w.orbit(o)
		o.handle = w.scheduler.RegisterSource("source-"+strconv.Itoa(i), pos, fwd, w.config.Source)
		w.orbiters = append(w.orbiters, o)
	}

	logs.WithTag("scheduler", schedulerConfig.Name).
		WithTag("seed", cfg.Seed).
		WithTag("walkers", len(w.walkers)).
		WithTag("statics", len(w.statics)).
		WithTag("sources", len(w.orbiters)).
		Info("world created")

	return w
}

// Scheduler returns the scheduler driven by the world.
func (w *World) Scheduler() *lod.Scheduler {
	return w.scheduler
}

// Steps returns the number of steps run so far.
func (w *World) Steps() uint64 {
	return w.steps
}

// Step moves every walker and source, then ticks the scheduler with the given
// budget.
func (w *World) Step(budget int) lod.TickStats {
	w.steps++

	for i := range w.walkers {
		wk := &w.walkers[i]
		wk.position, wk.velocity = bounce(r3.Add(wk.position, wk.velocity), wk.velocity, w.min, w.max)
		w.scheduler.UpdateObjectPosition(wk.handle, wk.position)
	}

	if len(w.statics) != 0 && w.rng.Float64() < w.config.RelocateRate {
		h := w.statics[w.rng.IntN(len(w.statics))]
		w.scheduler.RelocateObject(h, w.randomPosition())
	}

	for _, o := range w.orbiters {
		pos, fwd := w.orbit(o)
		w.scheduler.UpdateSourcePosition(o.handle, pos, fwd)
	}

	w.scheduler.Tick(budget)
	return w.scheduler.Stats()
}

// HandleLodChange counts the level changes reported by the scheduler.
func (w *World) HandleLodChange(h lod.ObjectHandle, level int) {
	w.levelChanges[level]++
}

// LevelChanges returns how many times objects switched to each level.
func (w *World) LevelChanges() map[int]int {
	changes := make(map[int]int, len(w.levelChanges))
	for level, n := range w.levelChanges {
		changes[level] = n
	}
	return changes
}

func (w *World) orbit(o orbiter) (position, forward r3.Vec) {
	a := o.phase + w.config.OrbitSpeed*float64(w.steps)
	sin, cos := math.Sincos(a)

	position = r3.Add(
		r3.Vec{X: w.center.X, Y: o.height, Z: w.center.Z},
		r3.Scale(w.config.OrbitRadius, r3.Vec{X: cos, Z: sin}),
	)
	forward = r3.Vec{X: -sin, Z: cos}
	if w.config.OrbitSpeed < 0 {
		forward = r3.Scale(-1, forward)
	}
	return position, forward
}

func (w *World) randomPosition() r3.Vec {
	return r3.Vec{
		X: w.min.X + w.rng.Float64()*(w.max.X-w.min.X),
		Y: w.min.Y + w.rng.Float64()*(w.max.Y-w.min.Y),
		Z: w.min.Z + w.rng.Float64()*(w.max.Z-w.min.Z),
	}
}

func (w *World) randomDirection() r3.Vec {
	for {
		v := r3.Vec{
			X: w.rng.Float64()*2 - 1,
			Y: w.rng.Float64()*2 - 1,
			Z: w.rng.Float64()*2 - 1,
		}
		if n := r3.Norm(v); n > 1e-3 && n <= 1 {
			return r3.Scale(1/n, v)
		}
	}
}

// bounce reflects a position that left the [min, max] box back inside and
// flips the matching velocity components.
func bounce(p, v, min, max r3.Vec) (r3.Vec, r3.Vec) {
	p.X, v.X = bounceAxis(p.X, v.X, min.X, max.X)
	p.Y, v.Y = bounceAxis(p.Y, v.Y, min.Y, max.Y)
	p.Z, v.Z = bounceAxis(p.Z, v.Z, min.Z, max.Z)
	return p, v
}

func bounceAxis(p, v, min, max float64) (float64, float64) {
	switch {
	case p < min:
		return math.Min(2*min-p, max), -v
	case p >= max:
		return math.Max(math.Min(2*max-p, math.Nextafter(max, min)), min), -v
	}
	return p, v
}
