package featureflag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeatureFlag(t *testing.T) {
	f := New([]string{"feature1", " ", "disable_view_angle "})

	t.Run("run if enabled", func(t *testing.T) {
		var runFeature1 bool
		f.IfSet("FEATURE1", func() {
			runFeature1 = true
		})
		require.True(t, runFeature1)

		var runFeature2 bool
		f.IfSet("FEATURE2", func() {
			runFeature2 = true
		})
		require.False(t, runFeature2)
	})

	t.Run("run if disabled", func(t *testing.T) {
		var runFeature1 bool
		f.IfNotSet("FEATURE1", func() {
			runFeature1 = true
		})
		require.False(t, runFeature1)

		var runFeature2 bool
		f.IfNotSet("FEATURE2", func() {
			runFeature2 = true
		})
		require.True(t, runFeature2)
	})

	t.Run("names are normalized", func(t *testing.T) {
		require.True(t, f.IsSet(FlagDisableViewAngle))
		require.Equal(t, []string{"DISABLE_VIEW_ANGLE", "FEATURE1"}, f.Strings())
	})

	t.Run("nil flags", func(t *testing.T) {
		var nilFlags FeatureFlag
		require.False(t, nilFlags.IsSet(FlagDisableDeactivationQueue))
		require.Empty(t, nilFlags.Strings())
	})
}
