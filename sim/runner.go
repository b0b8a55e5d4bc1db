package sim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quicklod/lod"
)

// Recorder persists tick statistics.
type Recorder interface {
	Record(ctx context.Context, stats lod.TickStats) error
}

// Runner steps a world at a fixed frame rate and publishes a snapshot of its
// scheduler after every step.
type Runner struct {
	// The world to step. It must only be accessed by the runner once Run is
	// called.
	World *World

	// The duration of a frame.
	FrameDuration time.Duration

	// The object update budget of a frame. Zero or less uses the scheduler
	// configuration.
	Budget int

	// An optional recorder that receives the statistics of every
	// RecordInterval-th frame.
	Recorder       Recorder
	RecordInterval int

	snapshot atomic.Pointer[lod.Snapshot]

	frameMutex      sync.RWMutex
	frameHandlerIDs uint32
	frameHandlers   map[uint32]func(*lod.Snapshot)
}

// Run steps the world until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	if r.World == nil {
		return errors.New("runner has no world")
	}

	frameDuration := r.FrameDuration
	if frameDuration <= 0 {
		frameDuration = time.Second / 60
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	logs.WithTag("frame_duration", frameDuration).
		WithTag("budget", r.Budget).
		Info("simulation started")
	defer func() {
		logs.WithTag("steps", r.World.Steps()).Info("simulation stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			r.Step(ctx)
		}
	}
}

// Step runs a single frame.
func (r *Runner) Step(ctx context.Context) lod.TickStats {
	stats := r.World.Step(r.Budget)

	snapshot := r.World.Scheduler().Snapshot()
	r.snapshot.Store(&snapshot)

	r.frameMutex.RLock()
	for _, h := range r.frameHandlers {
		h(&snapshot)
	}
	r.frameMutex.RUnlock()

	if r.Recorder != nil && r.RecordInterval > 0 && stats.Tick%uint64(r.RecordInterval) == 0 {
		if err := r.Recorder.Record(ctx, stats); err != nil {
			logs.Warn(errors.New("recording tick statistics failed").
				WithTag("tick", stats.Tick).
				Wrap(err))
		}
	}

	return stats
}

// Snapshot returns the snapshot published by the last frame. It is safe for
// concurrent use.
func (r *Runner) Snapshot() (*lod.Snapshot, bool) {
	s := r.snapshot.Load()
	return s, s != nil
}

// Ready reports whether at least one frame ran.
func (r *Runner) Ready() bool {
	return r.snapshot.Load() != nil
}

// HandleFrame registers a function called with the snapshot of every frame,
// from the runner goroutine. It must not block and must not modify the
// snapshot.
func (r *Runner) HandleFrame(h func(*lod.Snapshot)) (cancel func()) {
	r.frameMutex.Lock()
	defer r.frameMutex.Unlock()

	if r.frameHandlers == nil {
		r.frameHandlers = make(map[uint32]func(*lod.Snapshot))
	}
	r.frameHandlerIDs++
	id := r.frameHandlerIDs
	r.frameHandlers[id] = h

	return func() {
		r.frameMutex.Lock()
		defer r.frameMutex.Unlock()

		delete(r.frameHandlers, id)
	}
}
