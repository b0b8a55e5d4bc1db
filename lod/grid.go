package lod

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// MinCellSize is the smallest accepted cell size on any axis.
	MinCellSize = 0.01

	DefaultCellSize = 10.0
	DefaultExtent   = 1000.0
)

// GridConfig describes the volume covered by a grid and how it is subdivided.
// Every axis is sized independently.
type GridConfig struct {
	Origin   r3.Vec
	Extent   r3.Vec
	CellSize r3.Vec

	// When set, objects outside the grid are put in the nearest edge cell.
	// Otherwise they are removed from the grid until they come back.
	ClampToGrid bool
}

// normalized returns a copy of the configuration with degenerate values
// clamped, together with a description of every clamped value.
func (c GridConfig) normalized() (GridConfig, []string) {
	var warnings []string

	cellSize := func(axis string, v float64) float64 {
		switch {
		case v == 0:
			return DefaultCellSize
		case v < MinCellSize || math.IsNaN(v):
			warnings = append(warnings, "grid cell size "+axis+" below minimum")
			return MinCellSize
		}
		return v
	}
	c.CellSize.X = cellSize("x", c.CellSize.X)
	c.CellSize.Y = cellSize("y", c.CellSize.Y)
	c.CellSize.Z = cellSize("z", c.CellSize.Z)

	extent := func(axis string, v, size float64) float64 {
		switch {
		case v == 0:
			return math.Max(DefaultExtent, size)
		case v < 0 || math.IsNaN(v):
			warnings = append(warnings, "grid extent "+axis+" is not positive")
			return size
		}
		return v
	}
	c.Extent.X = extent("x", c.Extent.X, c.CellSize.X)
	c.Extent.Y = extent("y", c.Extent.Y, c.CellSize.Y)
	c.Extent.Z = extent("z", c.Extent.Z, c.CellSize.Z)

	cellCount := func(axis string, v, size float64) float64 {
		if v/size > maxAxisCells {
			warnings = append(warnings, "grid cell count "+axis+" above maximum")
			return size * maxAxisCells
		}
		return v
	}
	c.Extent.X = cellCount("x", c.Extent.X, c.CellSize.X)
	c.Extent.Y = cellCount("y", c.Extent.Y, c.CellSize.Y)
	c.Extent.Z = cellCount("z", c.Extent.Z, c.CellSize.Z)

	return c, warnings
}

// Grid is a sparse uniform 3D grid. Cells only exist where objects are, they
// are stored in nested column, row and depth maps so that memory is bound to
// the occupied space.
type Grid struct {
	config  GridConfig
	counts  Coord
	columns map[int]map[int]map[int]*Cell

	usedCellCount int

	// Set when a cell is created. Cleared by the owner once it reacted to the
	// new topology.
	changed bool
}

// NewGrid creates a grid. The configuration is expected to be normalized.
func NewGrid(cfg GridConfig) *Grid {
	g := &Grid{}
	g.reset(cfg)
	return g
}

func (g *Grid) reset(cfg GridConfig) {
	for _, rows := range g.columns {
		for _, cells := range rows {
			for _, cell := range cells {
				for _, o := range cell.objects {
					o.cell = nil
					o.cellIndex = -1
				}
			}
		}
	}

	g.config = cfg
	g.counts = Coord{
		X: axisCellCount(cfg.Extent.X, cfg.CellSize.X),
		Y: axisCellCount(cfg.Extent.Y, cfg.CellSize.Y),
		Z: axisCellCount(cfg.Extent.Z, cfg.CellSize.Z),
	}
	g.columns = make(map[int]map[int]map[int]*Cell)
	g.usedCellCount = 0
	g.changed = true
}

func axisCellCount(extent, size float64) int {
	n := math.Ceil(extent/size - 1e-9)
	switch {
	case !(n >= 1):
		return 1
	case n > maxAxisCells:
		return maxAxisCells
	}
	return int(n)
}

// Config returns the grid configuration.
func (g *Grid) Config() GridConfig {
	return g.config
}

// CellCounts returns the number of cells on each axis.
func (g *Grid) CellCounts() Coord {
	return g.counts
}

// MaxCellCount returns how many cells the grid holds when fully occupied.
func (g *Grid) MaxCellCount() int {
	return boxCellCount(Coord{}, Coord{X: g.counts.X - 1, Y: g.counts.Y - 1, Z: g.counts.Z - 1})
}

// UsedCellCount returns the number of existing cells.
func (g *Grid) UsedCellCount() int {
	return g.usedCellCount
}

// CellCoordinateOf returns the coordinate of the cell containing the given
// position. The result may be out of the grid bounds.
func (g *Grid) CellCoordinateOf(p r3.Vec) Coord {
	o := g.config.Origin
	s := g.config.CellSize

	return Coord{
		X: floorDiv(p.X-o.X, s.X),
		Y: floorDiv(p.Y-o.Y, s.Y),
		Z: floorDiv(p.Z-o.Z, s.Z),
	}
}

// InBounds reports whether c is a coordinate of the grid.
func (g *Grid) InBounds(c Coord) bool {
	return c.X >= 0 && c.X < g.counts.X &&
		c.Y >= 0 && c.Y < g.counts.Y &&
		c.Z >= 0 && c.Z < g.counts.Z
}

// Clamp clamps every axis of c to the grid bounds.
func (g *Grid) Clamp(c Coord) Coord {
	return Coord{
		X: clampInt(c.X, 0, g.counts.X-1),
		Y: clampInt(c.Y, 0, g.counts.Y-1),
		Z: clampInt(c.Z, 0, g.counts.Z-1),
	}
}

// CellCenter returns the world position of the center of the cell at c.
func (g *Grid) CellCenter(c Coord) r3.Vec {
	o := g.config.Origin
	s := g.config.CellSize

	return r3.Vec{
		X: o.X + (float64(c.X)+0.5)*s.X,
		Y: o.Y + (float64(c.Y)+0.5)*s.Y,
		Z: o.Z + (float64(c.Z)+0.5)*s.Z,
	}
}

// halfDiagonal returns half the length of a cell diagonal.
func (g *Grid) halfDiagonal() float64 {
	return r3.Norm(g.config.CellSize) / 2
}

// Cell returns the cell at c if it exists.
func (g *Grid) Cell(c Coord) (*Cell, bool) {
	rows, ok := g.columns[c.X]
	if !ok {
		return nil, false
	}

	cells, ok := rows[c.Y]
	if !ok {
		return nil, false
	}

	cell, ok := cells[c.Z]
	return cell, ok
}

func (g *Grid) cellOrCreate(c Coord) *Cell {
	if cell, ok := g.Cell(c); ok {
		return cell
	}

	rows, ok := g.columns[c.X]
	if !ok {
		rows = make(map[int]map[int]*Cell)
		g.columns[c.X] = rows
	}

	cells, ok := rows[c.Y]
	if !ok {
		cells = make(map[int]*Cell)
		rows[c.Y] = cells
	}

	cell := newCell(c)
	cells[c.Z] = cell
	g.usedCellCount++
	g.changed = true
	return cell
}

// Cells calls fn for every existing cell until fn returns false.
func (g *Grid) Cells(fn func(*Cell) bool) {
	for _, rows := range g.columns {
		for _, cells := range rows {
			for _, cell := range cells {
				if !fn(cell) {
					return
				}
			}
		}
	}
}

// place puts o in the cell matching its current position. It returns the
// cell o ends up in, nil when o left the grid, and the cell that got deleted
// because o was its last object.
func (g *Grid) place(o *Object) (target *Cell, deleted *Cell) {
	c := g.CellCoordinateOf(o.position)
	if !g.InBounds(c) {
		if !g.config.ClampToGrid {
			if o.cell != nil {
				deleted = g.removeObject(o)
			}
			return nil, deleted
		}
		c = g.Clamp(c)
	}

	if o.cell != nil {
		if o.cell.coord == c {
			return o.cell, nil
		}
		deleted = g.removeObject(o)
	}

	target = g.cellOrCreate(c)
	target.add(o)
	return target, deleted
}

// removeObject removes o from its cell. When the cell becomes empty it is
// deleted, along with its row and column when they become empty too, and
// returned.
func (g *Grid) removeObject(o *Object) *Cell {
	cell := o.cell
	if cell == nil {
		return nil
	}

	cell.remove(o)
	if cell.Len() != 0 {
		return nil
	}

	g.deleteCell(cell)
	return cell
}

func (g *Grid) deleteCell(cell *Cell) {
	c := cell.coord

	rows := g.columns[c.X]
	cells := rows[c.Y]
	if _, ok := cells[c.Z]; !ok {
		return
	}

	delete(cells, c.Z)
	g.usedCellCount--

	if len(cells) == 0 {
		delete(rows, c.Y)
	}
	if len(rows) == 0 {
		delete(g.columns, c.X)
	}
}

// ColumnCount returns the number of non-empty columns.
func (g *Grid) ColumnCount() int {
	return len(g.columns)
}

// RowCount returns the number of non-empty rows across all columns.
func (g *Grid) RowCount() int {
	n := 0
	for _, rows := range g.columns {
		n += len(rows)
	}
	return n
}
