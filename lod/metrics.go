package lod

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	schedulerLabel = "scheduler"
	tierLabel      = "tier"
)

var (
	lodUsedCells = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lod_used_cells",
		Help: "The number of occupied grid cells.",
	}, []string{schedulerLabel})

	lodActiveCells = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lod_active_cells",
		Help: "The number of cells in range of a source, by tier.",
	}, []string{schedulerLabel, tierLabel})

	lodTrackedObjects = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lod_tracked_objects",
		Help: "The number of registered objects.",
	}, []string{schedulerLabel})

	lodSources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lod_sources",
		Help: "The number of registered sources.",
	}, []string{schedulerLabel})

	lodPendingDeactivations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lod_pending_deactivations",
		Help: "The number of cells waiting to be hidden.",
	}, []string{schedulerLabel})

	lodObjectUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lod_object_updates",
		Help: "The number of object distance updates.",
	}, []string{schedulerLabel})

	lodLevelChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lod_level_changes",
		Help: "The number of object LOD level changes.",
	}, []string{schedulerLabel})

	lodClassifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lod_classifications",
		Help: "The number of cell classification passes.",
	}, []string{schedulerLabel})

	lodDeactivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lod_deactivations",
		Help: "The number of hidden cells.",
	}, []string{schedulerLabel})

	lodTickLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lod_tick_latency",
		Help:    "The time to run a scheduler tick.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	}, []string{schedulerLabel})
)

func instrumentTick(name string, stats TickStats, tierCounts []int, start time.Time) {
	labels := prometheus.Labels{schedulerLabel: name}

	lodUsedCells.With(labels).Set(float64(stats.UsedCells))
	lodTrackedObjects.With(labels).Set(float64(stats.Objects))
	lodSources.With(labels).Set(float64(stats.Sources))
	lodPendingDeactivations.With(labels).Set(float64(stats.PendingDeactivations))

	lodObjectUpdates.With(labels).Add(float64(stats.ObjectUpdates))
	lodLevelChanges.With(labels).Add(float64(stats.LevelChanges))
	lodDeactivations.With(labels).Add(float64(stats.Deactivations))
	if stats.Classified {
		lodClassifications.With(labels).Inc()
	}

	for tier, n := range tierCounts {
		lodActiveCells.
			With(prometheus.Labels{
				schedulerLabel: name,
				tierLabel:      strconv.Itoa(tier),
			}).
			Set(float64(n))
	}

	lodTickLatency.With(labels).Observe(time.Since(start).Seconds())
}
