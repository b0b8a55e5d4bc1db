package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aukilabs/quicklod/lod"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ticks.db")

	r, err := Open(path, "test")
	require.NoError(t, err)
	defer r.Close()

	t.Run("empty summary", func(t *testing.T) {
		summary, err := r.Summary(ctx)
		require.NoError(t, err)
		require.Equal(t, Summary{Scheduler: "test"}, summary)
	})

	t.Run("single tick", func(t *testing.T) {
		err := r.Record(ctx, lod.TickStats{
			Tick:          1,
			Classified:    true,
			ObjectUpdates: 10,
			LevelChanges:  4,
			ActiveCells:   2,
			Duration:      time.Millisecond,
		})
		require.NoError(t, err)

		summary, err := r.Summary(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, summary.Ticks)
		require.Equal(t, 1, summary.Classifications)
		require.Equal(t, time.Millisecond, summary.LatencyMean)
		require.Zero(t, summary.LatencyStdDev)
		require.Equal(t, 10.0, summary.UpdatesMean)
		require.Zero(t, summary.UpdatesStdDev)
	})

	t.Run("aggregates", func(t *testing.T) {
		err := r.Record(ctx, lod.TickStats{
			Tick:          2,
			ObjectUpdates: 20,
			LevelChanges:  1,
			Deactivations: 3,
			ActiveCells:   4,
			Duration:      3 * time.Millisecond,
		})
		require.NoError(t, err)

		summary, err := r.Summary(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, summary.Ticks)
		require.Equal(t, 1, summary.Classifications)
		require.Equal(t, 5, summary.LevelChanges)
		require.Equal(t, 3, summary.Deactivations)
		require.Equal(t, 2*time.Millisecond, summary.LatencyMean)
		require.Equal(t, 15.0, summary.UpdatesMean)
		require.InDelta(t, 7.0710678, summary.UpdatesStdDev, 1e-6)
		require.Equal(t, 3.0, summary.ActiveCellsMean)
	})

	t.Run("records are scoped by scheduler", func(t *testing.T) {
		other, err := Open(path, "other")
		require.NoError(t, err)
		defer other.Close()

		summary, err := other.Summary(ctx)
		require.NoError(t, err)
		require.Zero(t, summary.Ticks)
	})
}

func TestOpenInvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "ticks.db"), "test")
	require.Error(t, err)
}
