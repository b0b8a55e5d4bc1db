package lod

// TierSet holds the active cells grouped by priority tier. Every active cell
// is in exactly one tier.
type TierSet struct {
	tiers [][]*Cell
}

func newTierSet(tierCount int) *TierSet {
	return &TierSet{
		tiers: make([][]*Cell, tierCount),
	}
}

// Len returns the number of tiers.
func (t *TierSet) Len() int {
	return len(t.tiers)
}

// Cells returns the cells of the given tier. The returned slice must not be
// modified.
func (t *TierSet) Cells(tier int) []*Cell {
	return t.tiers[tier]
}

// Counts returns the number of cells in each tier.
func (t *TierSet) Counts() []int {
	counts := make([]int, len(t.tiers))
	for i, cells := range t.tiers {
		counts[i] = len(cells)
	}
	return counts
}

// ActiveCount returns the number of cells across all tiers.
func (t *TierSet) ActiveCount() int {
	n := 0
	for _, cells := range t.tiers {
		n += len(cells)
	}
	return n
}

func (t *TierSet) set(cell *Cell, tier int) {
	if cell.tier == tier {
		return
	}

	t.remove(cell)
	cell.tier = tier
	cell.tierIndex = len(t.tiers[tier])
	t.tiers[tier] = append(t.tiers[tier], cell)
}

func (t *TierSet) remove(cell *Cell) {
	if cell.tier == TierInactive {
		return
	}

	cells := t.tiers[cell.tier]
	i := cell.tierIndex
	last := len(cells) - 1

	if i != last {
		moved := cells[last]
		cells[i] = moved
		moved.tierIndex = i
	}
	cells[last] = nil
	t.tiers[cell.tier] = cells[:last]

	cell.tier = TierInactive
	cell.tierIndex = -1
}

func (t *TierSet) reset() {
	for i := range t.tiers {
		t.tiers[i] = nil
	}
}
