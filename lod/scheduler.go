// Package lod implements a level of detail scheduler.
//
// Objects are bucketed in a sparse uniform grid. Occupied cells get a
// priority tier from their distance to the registered sources, and a fixed
// per-tick update budget is shared between tiers so that near cells refresh
// their objects more often than far ones. Cells that lose all their sources
// are hidden at a capped rate.
//
// A Scheduler is not safe for concurrent use. Registrations, deregistrations,
// relocations and resizes are queued and applied at the start of the next
// tick, which makes them safe to call from a LodChangeHandler.
package lod

import (
	"sort"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quicklod/featureflag"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// The error type of the panics raised when an unknown or deregistered
	// handle is used.
	ErrTypeUnknownHandle = "unknown-handle"

	// The error type returned by CheckInvariants.
	ErrTypeInvariant = "invariant-violation"
)

// LodChangeHandler is called when the LOD level of an object changes. Level
// is a tier index or LevelHidden.
type LodChangeHandler func(h ObjectHandle, level int)

// TickStats describes what happened during a tick.
type TickStats struct {
	Tick                 uint64        `json:"tick"`
	Classified           bool          `json:"classified"`
	ObjectUpdates        int           `json:"object_updates"`
	LevelChanges         int           `json:"level_changes"`
	Deactivations        int           `json:"deactivations"`
	PendingDeactivations int           `json:"pending_deactivations"`
	ActiveCells          int           `json:"active_cells"`
	UsedCells            int           `json:"used_cells"`
	Objects              int           `json:"objects"`
	Sources              int           `json:"sources"`
	Duration             time.Duration `json:"duration"`
}

type opKind uint8

const (
	opRegisterObject opKind = iota
	opDeregisterObject
	opRelocateObject
	opRegisterSource
	opDeregisterSource
	opResize
)

type op struct {
	kind   opKind
	object *Object
	source *Source
	grid   GridConfig
}

// Scheduler distributes LOD updates of tracked objects over ticks.
type Scheduler struct {
	config     Config
	instanceID string
	handler    LodChangeHandler

	grid       *Grid
	tiers      *TierSet
	queue      DeactivationQueue
	classifier classifier

	objects       map[ObjectHandle]*Object
	objectHandles handleAllocator
	moved         []*Object

	sources       map[SourceHandle]*Source
	sourceList    []*Source
	sourceHandles handleAllocator

	ops   []op
	dirty bool
	tick  uint64
	stats TickStats
}

// NewScheduler creates a scheduler. The handler is called from Tick each time
// an object LOD level changes; it may be nil.
func NewScheduler(cfg Config, handler LodChangeHandler) *Scheduler {
	cfg, warnings := cfg.normalized()

	s := &Scheduler{
		config:     cfg,
		instanceID: uuid.NewString(),
		handler:    handler,
		grid:       NewGrid(cfg.Grid),
		tiers:      newTierSet(cfg.TierCount),
		objects:    make(map[ObjectHandle]*Object),
		sources:    make(map[SourceHandle]*Source),
		dirty:      true,
	}
	s.classifier = classifier{
		grid:         s.grid,
		useViewAngle: !cfg.FeatureFlags.IsSet(featureflag.FlagDisableViewAngle),
	}

	for _, w := range warnings {
		s.logs().Warn(errors.New("configuration clamped").WithTag("reason", w))
	}

	counts := s.grid.CellCounts()
	s.logs().
		WithTag("tier_count", cfg.TierCount).
		WithTag("updates_per_frame", cfg.UpdatesPerFrame).
		WithTag("grid_cells", []int{counts.X, counts.Y, counts.Z}).
		WithTag("feature_flags", cfg.FeatureFlags.Strings()).
		Info("scheduler created")

	return s
}

func (s *Scheduler) logs() logs.Entry {
	return logs.WithTag("scheduler", s.config.Name).
		WithTag("instance_id", s.instanceID)
}

// Config returns the normalized scheduler configuration.
func (s *Scheduler) Config() Config {
	return s.config
}

// InstanceID returns a unique identifier of the scheduler.
func (s *Scheduler) InstanceID() string {
	return s.instanceID
}

// Grid returns the grid owned by the scheduler. It must not be modified.
func (s *Scheduler) Grid() *Grid {
	return s.grid
}

// Tiers returns the current tier sets.
func (s *Scheduler) Tiers() *TierSet {
	return s.tiers
}

// PendingDeactivations returns the number of cells waiting to be hidden.
func (s *Scheduler) PendingDeactivations() int {
	return s.queue.Len()
}

// CurrentTick returns the number of ticks run so far.
func (s *Scheduler) CurrentTick() uint64 {
	return s.tick
}

// Stats returns the statistics of the last tick.
func (s *Scheduler) Stats() TickStats {
	return s.stats
}

// RegisterObject registers an object at the given position. It is placed in
// the grid on the next tick and stays hidden until a source has it in range.
func (s *Scheduler) RegisterObject(id string, position r3.Vec, opts ObjectOptions) ObjectHandle {
	o := &Object{
		handle:    ObjectHandle(s.objectHandles.next()),
		id:        id,
		position:  position,
		static:    opts.Static,
		cellIndex: -1,
		level:     LevelHidden,
	}

	s.objects[o.handle] = o
	s.ops = append(s.ops, op{kind: opRegisterObject, object: o})
	return o.handle
}

// DeregisterObject removes an object on the next tick. The handle becomes
// invalid immediately.
func (s *Scheduler) DeregisterObject(h ObjectHandle) {
	o := s.mustObject(h)
	o.removed = true
	s.ops = append(s.ops, op{kind: opDeregisterObject, object: o})
}

// UpdateObjectPosition records a new object position. Distances use it from
// the next update on, while the cell only changes at the next periodic
// movement check and only when a cell boundary was crossed. Static objects
// are not re-bucketed.
func (s *Scheduler) UpdateObjectPosition(h ObjectHandle, position r3.Vec) {
	o := s.mustObject(h)
	o.position = position

	if o.static || o.moved {
		return
	}
	o.moved = true
	s.moved = append(s.moved, o)
}

// RelocateObject moves an object and re-buckets it on the next tick,
// regardless of whether it is static.
func (s *Scheduler) RelocateObject(h ObjectHandle, position r3.Vec) {
	o := s.mustObject(h)
	o.position = position
	s.ops = append(s.ops, op{kind: opRelocateObject, object: o})
}

// Object returns the object registered with the given handle.
func (s *Scheduler) Object(h ObjectHandle) (*Object, bool) {
	o, ok := s.objects[h]
	if !ok || o.removed {
		return nil, false
	}
	return o, true
}

// ObjectLevel returns the LOD level assigned to an object.
func (s *Scheduler) ObjectLevel(h ObjectHandle) int {
	return s.mustObject(h).level
}

// RegisterSource registers a source. It is taken into account from the next
// tick.
func (s *Scheduler) RegisterSource(id string, position, forward r3.Vec, cfg SourceConfig) SourceHandle {
	src := &Source{
		handle:   SourceHandle(s.sourceHandles.next()),
		id:       id,
		position: position,
		forward:  forward,
		config:   cfg.normalized(s.config.TierCount),
	}

	s.sources[src.handle] = src
	s.ops = append(s.ops, op{kind: opRegisterSource, source: src})
	return src.handle
}

// DeregisterSource removes a source on the next tick. The handle becomes
// invalid immediately.
func (s *Scheduler) DeregisterSource(h SourceHandle) {
	src := s.mustSource(h)
	src.removed = true
	s.ops = append(s.ops, op{kind: opDeregisterSource, source: src})
}

// UpdateSourcePosition records a new source position and direction. A
// source crossing a cell boundary triggers a classification on the next
// tick.
func (s *Scheduler) UpdateSourcePosition(h SourceHandle, position, forward r3.Vec) {
	src := s.mustSource(h)
	src.position = position
	src.forward = forward
}

// Source returns the source registered with the given handle.
func (s *Scheduler) Source(h SourceHandle) (*Source, bool) {
	src, ok := s.sources[h]
	if !ok || src.removed {
		return nil, false
	}
	return src, true
}

// Resize changes the grid configuration on the next tick. Every cell is
// dropped and every object re-bucketed.
func (s *Scheduler) Resize(cfg GridConfig) {
	s.ops = append(s.ops, op{kind: opResize, grid: cfg})
}

func (s *Scheduler) mustObject(h ObjectHandle) *Object {
	o, ok := s.objects[h]
	if !ok || o.removed {
		panic(errors.New("unknown object handle").
			WithType(ErrTypeUnknownHandle).
			WithTag("handle", h))
	}
	return o
}

func (s *Scheduler) mustSource(h SourceHandle) *Source {
	src, ok := s.sources[h]
	if !ok || src.removed {
		panic(errors.New("unknown source handle").
			WithType(ErrTypeUnknownHandle).
			WithTag("handle", h))
	}
	return src
}

// Tick runs one scheduling pass with the given object update budget. A
// budget of zero or less uses the configured updates per frame.
func (s *Scheduler) Tick(budget int) {
	start := time.Now()

	s.tick++
	s.stats = TickStats{Tick: s.tick}
	if budget <= 0 {
		budget = s.config.UpdatesPerFrame
	}

	s.applyOps()

	if s.tick%uint64(s.config.ObjectCheckInterval) == 0 {
		s.checkMovedObjects()
	}

	s.detectSourceMovement()

	if s.dirty || s.grid.changed || s.tick%uint64(s.config.ClassifyInterval) == 0 {
		s.classify()
	}

	s.stats.ObjectUpdates = s.schedule(budget)
	s.stats.Deactivations += s.queue.drain(s.config.MaxDeactivationsPerFrame, s.hideCell)

	tierCounts := s.tiers.Counts()
	s.stats.PendingDeactivations = s.queue.Len()
	s.stats.ActiveCells = s.tiers.ActiveCount()
	s.stats.UsedCells = s.grid.UsedCellCount()
	s.stats.Objects = len(s.objects)
	s.stats.Sources = len(s.sourceList)
	s.stats.Duration = time.Since(start)

	instrumentTick(s.config.Name, s.stats, tierCounts, start)
}

func (s *Scheduler) applyOps() {
	// Handlers called while applying may queue more operations. They are
	// applied on the next tick.
	ops := s.ops
	s.ops = nil

	for _, op := range ops {
		switch op.kind {
		case opRegisterObject:
			if !op.object.removed {
				s.placeObject(op.object)
			}

		case opDeregisterObject:
			s.removeObject(op.object)

		case opRelocateObject:
			if !op.object.removed {
				s.placeObject(op.object)
			}

		case opRegisterSource:
			if !op.source.removed {
				s.sourceList = append(s.sourceList, op.source)
				s.dirty = true
			}

		case opDeregisterSource:
			s.removeSource(op.source)

		case opResize:
			s.resize(op.grid)
		}
	}
}

func (s *Scheduler) placeObject(o *Object) {
	target, deleted := s.grid.place(o)
	if deleted != nil {
		s.dropCell(deleted)
	}

	if target == nil || target.hidden {
		s.setLevel(o, LevelHidden)
	}
}

func (s *Scheduler) removeObject(o *Object) {
	if deleted := s.grid.removeObject(o); deleted != nil {
		s.dropCell(deleted)
	}

	if s.objects[o.handle] == o {
		delete(s.objects, o.handle)
		s.objectHandles.release(uint32(o.handle))
	}
}

func (s *Scheduler) removeSource(src *Source) {
	for i, v := range s.sourceList {
		if v == src {
			s.sourceList = append(s.sourceList[:i], s.sourceList[i+1:]...)
			break
		}
	}

	if s.sources[src.handle] == src {
		delete(s.sources, src.handle)
		s.sourceHandles.release(uint32(src.handle))
	}
	s.dirty = true
}

// dropCell removes every reference to a cell deleted from the grid.
func (s *Scheduler) dropCell(cell *Cell) {
	s.tiers.remove(cell)
	s.queue.cancel(cell)
	cell.sources = nil
}

func (s *Scheduler) resize(cfg GridConfig) {
	cfg, warnings := cfg.normalized()
	for _, w := range warnings {
		s.logs().Warn(errors.New("grid configuration clamped").WithTag("reason", w))
	}

	s.tiers.reset()
	s.queue.reset()
	s.grid.reset(cfg)

	handles := make([]ObjectHandle, 0, len(s.objects))
	for h, o := range s.objects {
		if !o.removed {
			handles = append(handles, h)
		}
	}
	sort.Slice(handles, func(i, j int) bool {
		return handles[i] < handles[j]
	})

	for _, h := range handles {
		s.placeObject(s.objects[h])
	}

	for _, src := range s.sourceList {
		src.coordKnown = false
	}
	s.dirty = true

	counts := s.grid.CellCounts()
	s.logs().
		WithTag("grid_cells", []int{counts.X, counts.Y, counts.Z}).
		WithTag("objects", len(handles)).
		Info("grid resized")
}

func (s *Scheduler) checkMovedObjects() {
	moved := s.moved
	s.moved = nil

	for _, o := range moved {
		o.moved = false
		if o.removed || o.static {
			continue
		}
		s.placeObject(o)
	}
}

func (s *Scheduler) detectSourceMovement() {
	for _, src := range s.sourceList {
		c := s.grid.CellCoordinateOf(src.position)
		if src.coordKnown && src.coord == c {
			continue
		}

		src.coord = c
		src.coordKnown = true
		s.config.FeatureFlags.IfNotSet(featureflag.FlagDisableMovementReclassify, func() {
			s.dirty = true
		})
	}
}

func (s *Scheduler) classify() {
	results := s.classifier.classify(s.sourceList)
	immediate := s.config.FeatureFlags.IsSet(featureflag.FlagDisableDeactivationQueue)

	s.grid.Cells(func(cell *Cell) bool {
		if res, ok := results[cell]; ok {
			s.activateCell(cell, res.tier, res.sources)
		} else {
			s.deactivateCell(cell, immediate)
		}
		return true
	})

	s.dirty = false
	s.grid.changed = false
	s.stats.Classified = true

	s.logs().
		WithTag("tick", s.tick).
		WithTag("used_cells", s.grid.UsedCellCount()).
		WithTag("active_cells", s.tiers.ActiveCount()).
		WithTag("pending_deactivations", s.queue.Len()).
		Debug("cells classified")
}

func (s *Scheduler) activateCell(cell *Cell, tier int, sources []*Source) {
	s.queue.cancel(cell)
	s.tiers.set(cell, tier)
	cell.sources = sources
	cell.hidden = false
}

func (s *Scheduler) deactivateCell(cell *Cell, immediate bool) {
	cell.sources = nil
	if cell.tier == TierInactive {
		return
	}

	s.tiers.remove(cell)
	if immediate {
		s.hideCell(cell)
		s.stats.Deactivations++
		return
	}
	s.queue.push(cell)
}

func (s *Scheduler) hideCell(cell *Cell) {
	cell.hidden = true
	for _, o := range cell.objects {
		s.setLevel(o, LevelHidden)
	}
}

// schedule walks the tiers from the highest priority and updates a budget
// limited number of objects in every active cell.
func (s *Scheduler) schedule(budget int) int {
	allotments := Allotments(budget, s.tiers.Len(), s.tiers.Counts())

	updates := 0
	for tier, allotment := range allotments {
		for _, cell := range s.tiers.Cells(tier) {
			updates += s.updateCell(cell, allotment)
		}
	}
	return updates
}

// updateCell updates up to allotment objects of a cell, continuing where the
// previous pass stopped. It stops early when every object was visited.
func (s *Scheduler) updateCell(cell *Cell, allotment int) int {
	n := len(cell.objects)
	if n == 0 {
		return 0
	}
	if cell.previousIndex >= n {
		cell.previousIndex = 0
	}

	start := cell.previousIndex
	i := start
	count := 0
	for count < allotment {
		s.updateObject(cell, cell.objects[i])
		count++

		i = (i + 1) % n
		if i == start {
			break
		}
	}

	cell.previousIndex = i
	return count
}

// updateObject recomputes the distance of an object to the nearest in-range
// source of its cell and applies the level given by that source thresholds.
func (s *Scheduler) updateObject(cell *Cell, o *Object) {
	innerRadius := s.grid.halfDiagonal()
	level := LevelHidden
	distance := -1.0

	for _, src := range cell.sources {
		d, ok := src.effectiveDistance(o.position, s.classifier.useViewAngle, innerRadius)
		if !ok {
			continue
		}

		tier := src.tierFor(d)
		if tier == TierInactive {
			continue
		}

		if level == LevelHidden || d < distance {
			level = tier
			distance = d
		}
	}

	o.distance = distance
	o.lastUpdate = s.tick
	s.setLevel(o, level)
}

func (s *Scheduler) setLevel(o *Object, level int) {
	if o.level == level {
		return
	}

	o.level = level
	s.stats.LevelChanges++
	if s.handler != nil {
		s.handler(o.handle, level)
	}
}
