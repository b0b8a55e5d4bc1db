package lod

import "math"

// TierWeightExponent shapes how fast the update budget falls off with the
// tier index. The value approximates the density falloff of a perspective
// projection and can be tuned.
var TierWeightExponent = 1.414

// TierWeight returns the budget weight of a tier: (tierCount - tier) raised to
// TierWeightExponent.
func TierWeight(tier, tierCount int) float64 {
	return math.Pow(float64(tierCount-tier), TierWeightExponent)
}

// Allotments returns, for each tier, how many objects every cell of that tier
// updates during a pass given a global budget and the number of cells per
// tier. Every cell gets at least one update so that no cell starves.
func Allotments(budget, tierCount int, cellCounts []int) []int {
	activeCells := 0
	weighted := 0.0
	for tier, n := range cellCounts {
		activeCells += n
		weighted += TierWeight(tier, tierCount) * float64(n)
	}

	averagePerCell := 0.0
	if weighted > 0 {
		averagePerCell = math.Max(0, float64(budget-activeCells)/weighted)
	}

	allotments := make([]int, len(cellCounts))
	for tier := range cellCounts {
		allotments[tier] = max(1, int(math.Floor(TierWeight(tier, tierCount)*averagePerCell+1.5)))
	}
	return allotments
}
