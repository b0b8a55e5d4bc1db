package http

import (
	"context"
	"net/http"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quicklod/lod"
	"github.com/aukilabs/quicklod/recorder"
	"github.com/segmentio/encoding/json"
)

func HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func HandleReadyCheck(readinessCheck func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readinessCheck() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func HandleVersion(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(version))
	}
}

// HandleSnapshot writes the latest scheduler snapshot as JSON. It responds
// with 503 until a snapshot is published.
func HandleSnapshot(snapshot func() (*lod.Snapshot, bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := snapshot()
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, s)
	}
}

// Summarizer aggregates recorded tick statistics.
type Summarizer interface {
	Summary(ctx context.Context) (recorder.Summary, error)
}

// HandleSummary writes the summary of the recorded ticks as JSON.
func HandleSummary(s Summarizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := s.Summary(r.Context())
		if err != nil {
			logs.Warn(errors.New("summarizing recorded ticks failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, summary)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logs.Warn(errors.New("encoding response failed").Wrap(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}
