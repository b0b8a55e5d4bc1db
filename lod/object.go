package lod

import "gonum.org/v1/gonum/spatial/r3"

// LevelHidden is the level of an object that no source has in range.
const LevelHidden = -1

// ObjectHandle identifies a registered object.
type ObjectHandle uint32

// ObjectOptions are the options of a registered object.
type ObjectOptions struct {
	// Static objects skip the periodic movement check. They only change cell
	// when relocated with Scheduler.RelocateObject.
	Static bool
}

// Object is an object tracked by a scheduler.
type Object struct {
	handle   ObjectHandle
	id       string
	position r3.Vec
	static   bool

	cell      *Cell
	cellIndex int

	level      int
	distance   float64
	lastUpdate uint64

	moved   bool
	removed bool
}

// Handle returns the object handle.
func (o *Object) Handle() ObjectHandle {
	return o.handle
}

// ID returns the identifier given at registration.
func (o *Object) ID() string {
	return o.id
}

// Position returns the last known object position.
func (o *Object) Position() r3.Vec {
	return o.position
}

// Static reports whether the object is static.
func (o *Object) Static() bool {
	return o.static
}

// Level returns the current LOD level of the object.
func (o *Object) Level() int {
	return o.level
}

// Distance returns the effective distance computed at the last update.
func (o *Object) Distance() float64 {
	return o.distance
}

// LastUpdate returns the tick of the last update, zero if never updated.
func (o *Object) LastUpdate() uint64 {
	return o.lastUpdate
}

// Cell returns the cell containing the object, nil when the object is not
// in the grid.
func (o *Object) Cell() *Cell {
	return o.cell
}
