package lod

import "gonum.org/v1/gonum/spatial/r3"

// cellClass is the classification of a cell in range of at least one source.
type cellClass struct {
	tier    int
	sources []*Source
}

// classifier assigns tiers to occupied cells from the source positions.
type classifier struct {
	grid         *Grid
	useViewAngle bool
	results      map[*Cell]*cellClass
}

// classify returns the classification of every cell in range of at least
// one source. Cells absent from the result are out of range. The result is
// reused by the next call.
func (c *classifier) classify(sources []*Source) map[*Cell]*cellClass {
	if c.results == nil {
		c.results = make(map[*Cell]*cellClass)
	}
	for cell := range c.results {
		delete(c.results, cell)
	}

	innerRadius := c.grid.halfDiagonal()

	for _, src := range sources {
		lo, hi := c.candidateBox(src)
		visit := func(cell *Cell) {
			c.visit(src, cell, innerRadius)
		}

		if boxCellCount(lo, hi) <= c.grid.UsedCellCount() {
			for x := lo.X; x <= hi.X; x++ {
				for y := lo.Y; y <= hi.Y; y++ {
					for z := lo.Z; z <= hi.Z; z++ {
						if cell, ok := c.grid.Cell(Coord{X: x, Y: y, Z: z}); ok {
							visit(cell)
						}
					}
				}
			}
			continue
		}

		c.grid.Cells(func(cell *Cell) bool {
			p := cell.coord
			if p.X >= lo.X && p.X <= hi.X &&
				p.Y >= lo.Y && p.Y <= hi.Y &&
				p.Z >= lo.Z && p.Z <= hi.Z {
				visit(cell)
			}
			return true
		})
	}

	return c.results
}

// candidateBox returns the clamped bounds of the cells a source can reach.
func (c *classifier) candidateBox(src *Source) (Coord, Coord) {
	r := src.reach()
	extent := r3.Vec{X: r, Y: r, Z: r}

	lo := c.grid.Clamp(c.grid.CellCoordinateOf(r3.Sub(src.position, extent)))
	hi := c.grid.Clamp(c.grid.CellCoordinateOf(r3.Add(src.position, extent)))
	return lo, hi
}

func (c *classifier) visit(src *Source, cell *Cell, innerRadius float64) {
	d, ok := src.effectiveDistance(c.grid.CellCenter(cell.coord), c.useViewAngle, innerRadius)
	if !ok {
		return
	}

	tier := src.tierFor(d)
	if tier == TierInactive {
		return
	}

	res, ok := c.results[cell]
	if !ok {
		c.results[cell] = &cellClass{
			tier:    tier,
			sources: []*Source{src},
		}
		return
	}

	res.tier = min(res.tier, tier)
	res.sources = append(res.sources, src)
}
