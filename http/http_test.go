package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quicklod/lod"
	"github.com/aukilabs/quicklod/recorder"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func TestMetricsPathFormatter(t *testing.T) {
	tests := []struct {
		statusCode int
		path       string
		expected   string
	}{
		{statusCode: http.StatusOK, path: "/snapshot", expected: "/snapshot"},
		{statusCode: http.StatusOK, path: "/snapshot/", expected: "/snapshot"},
		{statusCode: http.StatusOK, path: "/", expected: "/"},
		{statusCode: http.StatusServiceUnavailable, path: "/ready", expected: "/ready"},
		{statusCode: http.StatusMovedPermanently, path: "/old", expected: ""},
		{statusCode: http.StatusBadRequest, path: "/stream", expected: ""},
		{statusCode: http.StatusNotFound, path: "/unknown", expected: ""},
		{statusCode: http.StatusMethodNotAllowed, path: "/snapshot", expected: ""},
	}

	for _, test := range tests {
		t.Run(test.path, func(t *testing.T) {
			require.Equal(t, test.expected, MetricsPathFormatter(test.statusCode, test.path))
		})
	}
}

func TestHandleReadyCheck(t *testing.T) {
	ready := false
	h := HandleReadyCheck(func() bool { return ready })

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	ready = true
	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleVersion(t *testing.T) {
	w := httptest.NewRecorder()
	HandleVersion("v1.2.3")(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "v1.2.3", w.Body.String())
}

func TestHandleSnapshot(t *testing.T) {
	t.Run("not published", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleSnapshot(func() (*lod.Snapshot, bool) {
			return nil, false
		})(w, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("published", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleSnapshot(func() (*lod.Snapshot, bool) {
			return &lod.Snapshot{Scheduler: "test", Tick: 5, ObjectCount: 2}, true
		})(w, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var s lod.Snapshot
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
		require.Equal(t, uint64(5), s.Tick)
		require.Equal(t, 2, s.ObjectCount)
	})
}

type summarizerFunc func(context.Context) (recorder.Summary, error)

func (f summarizerFunc) Summary(ctx context.Context) (recorder.Summary, error) {
	return f(ctx)
}

func TestHandleSummary(t *testing.T) {
	t.Run("summary", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleSummary(summarizerFunc(func(context.Context) (recorder.Summary, error) {
			return recorder.Summary{Scheduler: "test", Ticks: 3}, nil
		}))(w, httptest.NewRequest(http.MethodGet, "/summary", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var s recorder.Summary
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
		require.Equal(t, "test", s.Scheduler)
		require.Equal(t, 3, s.Ticks)
	})

	t.Run("error", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleSummary(summarizerFunc(func(context.Context) (recorder.Summary, error) {
			return recorder.Summary{}, errors.New("database is gone")
		}))(w, httptest.NewRequest(http.MethodGet, "/summary", nil))
		require.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestListenAndServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer("127.0.0.1:0", http.HandlerFunc(HandleHealthCheck))

	done := make(chan struct{})
	go func() {
		defer close(done)
		ListenAndServe(ctx, s)
	}()

	cancel()
	<-done
}
