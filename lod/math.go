package lod

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Coord is the integer coordinate of a grid cell: column (X), row (Y) and
// depth (Z).
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// maxAxisCells bounds the cell count of a grid axis and the magnitude of
// cell coordinates so that coordinate arithmetic cannot overflow.
const maxAxisCells = 1 << 30

func floorDiv(v, size float64) int {
	f := math.Floor(v / size)
	switch {
	case math.IsNaN(f):
		return 0
	case f > maxAxisCells:
		return maxAxisCells
	case f < -maxAxisCells:
		return -maxAxisCells
	}
	return int(f)
}

// mulSat returns a*b for positive factors, saturated at math.MaxInt.
func mulSat(a, b int) int {
	if a > math.MaxInt/b {
		return math.MaxInt
	}
	return a * b
}

// boxCellCount returns the number of cells between lo and hi inclusive,
// saturated at math.MaxInt.
func boxCellCount(lo, hi Coord) int {
	return mulSat(mulSat(hi.X-lo.X+1, hi.Y-lo.Y+1), hi.Z-lo.Z+1)
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// angleBetween returns the angle between a and b in degrees. Zero vectors
// have no direction and are treated as aligned.
func angleBetween(a, b r3.Vec) float64 {
	if r3.Norm(a) == 0 || r3.Norm(b) == 0 {
		return 0
	}

	cos := math.Max(-1, math.Min(1, r3.Cos(a, b)))
	return math.Acos(cos) * 180 / math.Pi
}
