package lod

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTierWeight(t *testing.T) {
	require.InDelta(t, math.Pow(2, 1.414), TierWeight(0, 2), 1e-12)
	require.Equal(t, 1.0, TierWeight(1, 2))
	require.Greater(t, TierWeight(0, 4), TierWeight(1, 4))
	require.Greater(t, TierWeight(2, 4), TierWeight(3, 4))
}

func TestAllotments(t *testing.T) {
	t.Run("two tiers", func(t *testing.T) {
		allotments := Allotments(10, 2, []int{1, 1})
		require.Equal(t, []int{7, 3}, allotments)
	})

	t.Run("budget smaller than active cells", func(t *testing.T) {
		allotments := Allotments(2, 4, []int{3, 3, 3, 3})
		require.Equal(t, []int{1, 1, 1, 1}, allotments)
	})

	t.Run("no active cells", func(t *testing.T) {
		allotments := Allotments(100, 3, []int{0, 0, 0})
		require.Equal(t, []int{1, 1, 1}, allotments)
	})

	t.Run("near tiers get more", func(t *testing.T) {
		allotments := Allotments(1000, 4, []int{2, 5, 10, 20})
		for i := 1; i < len(allotments); i++ {
			require.GreaterOrEqual(t, allotments[i-1], allotments[i])
		}
		require.Greater(t, allotments[0], allotments[3])
	})

	t.Run("exponent", func(t *testing.T) {
		defer func(v float64) {
			TierWeightExponent = v
		}(TierWeightExponent)

		TierWeightExponent = 0
		allotments := Allotments(10, 2, []int{1, 1})
		require.Equal(t, allotments[0], allotments[1])
	})
}
