// Package recorder persists scheduler tick statistics in a SQLite database.
package recorder

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quicklod/lod"
	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS ticks (
		scheduler TEXT NOT NULL,
		tick BIGINT NOT NULL,
		classified BOOLEAN NOT NULL,
		object_updates INTEGER NOT NULL,
		level_changes INTEGER NOT NULL,
		deactivations INTEGER NOT NULL,
		pending_deactivations INTEGER NOT NULL,
		active_cells INTEGER NOT NULL,
		used_cells INTEGER NOT NULL,
		objects INTEGER NOT NULL,
		sources INTEGER NOT NULL,
		duration_ns BIGINT NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS ticks_scheduler ON ticks (scheduler, tick);
`

// Recorder stores the statistics of the ticks of a scheduler.
type Recorder struct {
	db        *sql.DB
	scheduler string
}

// Open opens or creates the database at path. Records are labelled with the
// given scheduler name.
func Open(path, scheduler string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New("opening record database failed").
			WithTag("path", path).
			Wrap(err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.New("creating record schema failed").
			WithTag("path", path).
			Wrap(err)
	}

	logs.WithTag("path", path).
		WithTag("scheduler", scheduler).
		Info("recording tick statistics")

	return &Recorder{
		db:        db,
		scheduler: scheduler,
	}, nil
}

// Record stores the statistics of a tick.
func (r *Recorder) Record(ctx context.Context, stats lod.TickStats) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ticks (
			scheduler, tick, classified, object_updates, level_changes,
			deactivations, pending_deactivations, active_cells, used_cells,
			objects, sources, duration_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.scheduler,
		int64(stats.Tick),
		stats.Classified,
		stats.ObjectUpdates,
		stats.LevelChanges,
		stats.Deactivations,
		stats.PendingDeactivations,
		stats.ActiveCells,
		stats.UsedCells,
		stats.Objects,
		stats.Sources,
		stats.Duration.Nanoseconds(),
	)
	if err != nil {
		return errors.New("inserting tick statistics failed").
			WithTag("scheduler", r.scheduler).
			WithTag("tick", stats.Tick).
			Wrap(err)
	}
	return nil
}

// Summary aggregates the recorded ticks of a scheduler.
type Summary struct {
	Scheduler       string        `json:"scheduler"`
	Ticks           int           `json:"ticks"`
	Classifications int           `json:"classifications"`
	LevelChanges    int           `json:"level_changes"`
	Deactivations   int           `json:"deactivations"`
	LatencyMean     time.Duration `json:"latency_mean"`
	LatencyStdDev   time.Duration `json:"latency_stddev"`
	UpdatesMean     float64       `json:"updates_mean"`
	UpdatesStdDev   float64       `json:"updates_stddev"`
	ActiveCellsMean float64       `json:"active_cells_mean"`
}

// Summary returns the aggregated statistics of every recorded tick.
func (r *Recorder) Summary(ctx context.Context) (Summary, error) {
	summary := Summary{Scheduler: r.scheduler}

	rows, err := r.db.QueryContext(ctx, `
		SELECT classified, object_updates, level_changes, deactivations,
			active_cells, duration_ns
		FROM ticks
		WHERE scheduler = ?
		ORDER BY tick`,
		r.scheduler,
	)
	if err != nil {
		return Summary{}, errors.New("querying tick statistics failed").
			WithTag("scheduler", r.scheduler).
			Wrap(err)
	}
	defer rows.Close()

	var latencies, updates, activeCells []float64
	for rows.Next() {
		var classified bool
		var objectUpdates, levelChanges, deactivations, active int
		var durationNs int64

		if err := rows.Scan(&classified, &objectUpdates, &levelChanges, &deactivations, &active, &durationNs); err != nil {
			return Summary{}, errors.New("scanning tick statistics failed").
				WithTag("scheduler", r.scheduler).
				Wrap(err)
		}

		summary.Ticks++
		if classified {
			summary.Classifications++
		}
		summary.LevelChanges += levelChanges
		summary.Deactivations += deactivations

		latencies = append(latencies, float64(durationNs))
		updates = append(updates, float64(objectUpdates))
		activeCells = append(activeCells, float64(active))
	}
	if err := rows.Err(); err != nil {
		return Summary{}, errors.New("reading tick statistics failed").
			WithTag("scheduler", r.scheduler).
			Wrap(err)
	}

	if summary.Ticks == 0 {
		return summary, nil
	}

	latencyMean, latencyStdDev := meanStdDev(latencies)
	summary.LatencyMean = time.Duration(latencyMean)
	summary.LatencyStdDev = time.Duration(latencyStdDev)
	summary.UpdatesMean, summary.UpdatesStdDev = meanStdDev(updates)
	summary.ActiveCellsMean = stat.Mean(activeCells, nil)
	return summary, nil
}

// meanStdDev returns the mean and the sample standard deviation of x. The
// deviation of a single value is zero.
func meanStdDev(x []float64) (float64, float64) {
	mean, std := stat.MeanStdDev(x, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std
}

// Close closes the database.
func (r *Recorder) Close() error {
	if err := r.db.Close(); err != nil {
		return errors.New("closing record database failed").Wrap(err)
	}
	return nil
}
