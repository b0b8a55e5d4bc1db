package lod

// TierInactive is the tier of a cell that no source has in range.
const TierInactive = -1

// Cell is a unit of the grid that owns the objects positioned inside it.
type Cell struct {
	coord   Coord
	objects []*Object

	tier      int
	tierIndex int
	sources   []*Source

	// Round-robin cursor for budget limited updates.
	previousIndex int

	pendingIndex int
	hidden       bool
}

func newCell(c Coord) *Cell {
	return &Cell{
		coord:        c,
		tier:         TierInactive,
		tierIndex:    -1,
		pendingIndex: -1,
		hidden:       true,
	}
}

// Coord returns the cell coordinate.
func (c *Cell) Coord() Coord {
	return c.coord
}

// Tier returns the cell priority tier, or TierInactive.
func (c *Cell) Tier() int {
	return c.tier
}

// Len returns the number of objects in the cell.
func (c *Cell) Len() int {
	return len(c.objects)
}

// Objects returns the objects contained by the cell. The returned slice must
// not be modified.
func (c *Cell) Objects() []*Object {
	return c.objects
}

// SourceCount returns the number of sources that have the cell in range.
func (c *Cell) SourceCount() int {
	return len(c.sources)
}

// Pending reports whether the cell waits in the deactivation queue.
func (c *Cell) Pending() bool {
	return c.pendingIndex >= 0
}

// Hidden reports whether the cell contents are hidden.
func (c *Cell) Hidden() bool {
	return c.hidden
}

func (c *Cell) add(o *Object) {
	o.cell = c
	o.cellIndex = len(c.objects)
	c.objects = append(c.objects, o)
}

func (c *Cell) remove(o *Object) {
	i := o.cellIndex
	last := len(c.objects) - 1

	if i != last {
		moved := c.objects[last]
		c.objects[i] = moved
		moved.cellIndex = i
	}
	c.objects[last] = nil
	c.objects = c.objects[:last]

	if c.previousIndex >= len(c.objects) {
		c.previousIndex = 0
	}

	o.cell = nil
	o.cellIndex = -1
}
