package lod

import (
	"sort"
	"strconv"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

// Snapshot is a point in time copy of the scheduler state.
type Snapshot struct {
	Scheduler            string         `json:"scheduler"`
	InstanceID           string         `json:"instance_id"`
	Tick                 uint64         `json:"tick"`
	UsedCellCount        int            `json:"used_cell_count"`
	ActiveCellCount      int            `json:"active_cell_count"`
	PendingDeactivations int            `json:"pending_deactivations"`
	ObjectCount          int            `json:"object_count"`
	SourceCount          int            `json:"source_count"`
	TierCellCounts       []int          `json:"tier_cell_counts"`
	LevelCounts          map[string]int `json:"level_counts"`
	Cells                []CellSnapshot `json:"cells"`
}

// CellSnapshot describes an occupied cell.
type CellSnapshot struct {
	Coord
	Tier    int  `json:"tier"`
	Objects int  `json:"objects"`
	Pending bool `json:"pending"`
	Hidden  bool `json:"hidden"`
}

// LevelName returns the key used for a level in Snapshot.LevelCounts.
func LevelName(level int) string {
	if level == LevelHidden {
		return "hidden"
	}
	return strconv.Itoa(level)
}

// Snapshot returns a copy of the scheduler state. Cells are sorted by
// coordinate.
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{
		Scheduler:            s.config.Name,
		InstanceID:           s.instanceID,
		Tick:                 s.tick,
		UsedCellCount:        s.grid.UsedCellCount(),
		ActiveCellCount:      s.tiers.ActiveCount(),
		PendingDeactivations: s.queue.Len(),
		SourceCount:          len(s.sourceList),
		TierCellCounts:       s.tiers.Counts(),
		LevelCounts:          make(map[string]int),
		Cells:                make([]CellSnapshot, 0, s.grid.UsedCellCount()),
	}

	for _, o := range s.objects {
		if o.removed {
			continue
		}
		snap.ObjectCount++
		snap.LevelCounts[LevelName(o.level)]++
	}

	s.grid.Cells(func(cell *Cell) bool {
		snap.Cells = append(snap.Cells, CellSnapshot{
			Coord:   cell.coord,
			Tier:    cell.tier,
			Objects: len(cell.objects),
			Pending: cell.Pending(),
			Hidden:  cell.hidden,
		})
		return true
	})

	sort.Slice(snap.Cells, func(i, j int) bool {
		a, b := snap.Cells[i].Coord, snap.Cells[j].Coord
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})

	return snap
}

// CheckInvariants verifies the consistency between objects, cells, tiers and
// the deactivation queue. It is meant to be called between ticks.
func (s *Scheduler) CheckInvariants() error {
	violation := func(msg string, tags ...any) error {
		err := errors.New(msg).
			WithType(ErrTypeInvariant).
			WithTag("scheduler", s.config.Name).
			WithTag("tick", s.tick)
		for i := 0; i+1 < len(tags); i += 2 {
			err = err.WithTag(tags[i].(string), tags[i+1])
		}
		return err
	}

	cells := 0
	var err error
	s.grid.Cells(func(cell *Cell) bool {
		cells++

		if len(cell.objects) == 0 {
			err = violation("empty cell", "cell", cell.coord)
			return false
		}

		for i, o := range cell.objects {
			if o.cell != cell || o.cellIndex != i {
				err = violation("object back-reference mismatch", "cell", cell.coord, "object", o.handle)
				return false
			}
		}

		if cell.tier != TierInactive {
			if cell.tier < 0 || cell.tier >= s.tiers.Len() ||
				cell.tierIndex < 0 || cell.tierIndex >= len(s.tiers.tiers[cell.tier]) ||
				s.tiers.tiers[cell.tier][cell.tierIndex] != cell {
				err = violation("cell missing from its tier", "cell", cell.coord, "tier", cell.tier)
				return false
			}
			if cell.Pending() {
				err = violation("active cell pending deactivation", "cell", cell.coord)
				return false
			}
		}

		if cell.Pending() {
			i := cell.pendingIndex
			if i >= len(s.queue.cells) || s.queue.cells[i] != cell {
				err = violation("cell missing from deactivation queue", "cell", cell.coord)
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}

	if cells != s.grid.UsedCellCount() {
		return violation("used cell count mismatch", "counted", cells, "used_cell_count", s.grid.UsedCellCount())
	}

	for _, rows := range s.grid.columns {
		if len(rows) == 0 {
			return violation("empty column")
		}
		for _, row := range rows {
			if len(row) == 0 {
				return violation("empty row")
			}
		}
	}

	for tier, tierCells := range s.tiers.tiers {
		for i, cell := range tierCells {
			if cell.tier != tier || cell.tierIndex != i {
				return violation("tier entry mismatch", "cell", cell.coord, "tier", tier)
			}
			if c, ok := s.grid.Cell(cell.coord); !ok || c != cell {
				return violation("deleted cell in tier", "cell", cell.coord, "tier", tier)
			}
		}
	}

	for _, cell := range s.queue.cells {
		if c, ok := s.grid.Cell(cell.coord); !ok || c != cell {
			return violation("deleted cell in deactivation queue", "cell", cell.coord)
		}
	}

	for h, o := range s.objects {
		if o.handle != h {
			return violation("object handle mismatch", "object", h)
		}
		if o.cell == nil {
			continue
		}
		if c, ok := s.grid.Cell(o.cell.coord); !ok || c != o.cell {
			return violation("object in deleted cell", "object", h)
		}
	}

	return nil
}
