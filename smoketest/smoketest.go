package smoketest

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	qwebsocket "github.com/aukilabs/quicklod/websocket"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	defaultTimeout = 5 * time.Second
	streamPath     = "/stream"
)

// Request is the body of a smoke test request.
type Request struct {
	// The endpoint of the server to test.
	Endpoint string `json:"endpoint"`

	// The time to wait for the first snapshot.
	Timeout time.Duration `json:"timeout"`
}

// Results describes the outcome of a smoke test.
type Results struct {
	FromEndpoint    string  `json:"from_endpoint"`
	ToEndpoint      string  `json:"to_endpoint"`
	LatencyMilliSec float64 `json:"latency_ms"`
	Status          string  `json:"status"`
	Tick            uint64  `json:"tick,omitempty"`
}

type Options struct {
	Endpoint   string
	UserAgent  string
	SendResult func(context.Context, Results) error
}

type testCtxKey string

var testCtxKeyValue testCtxKey = "test-context"

type testContext struct {
	context.Context
	Cancel func()
}

// HandleSmokeTest starts a smoke test against the endpoint in the request
// body. The results are delivered to opts.SendResult once the test is over.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			logs.Warn(errors.New("reading body failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req Request
		if err := json.Unmarshal(b, &req); err != nil || req.Endpoint == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		go func() {
			defer func() {
				// Tests wait for the goroutine through the context.
				if tctx := ctx.Value(testCtxKeyValue); tctx != nil {
					testCtx := tctx.(testContext)
					if testCtx.Cancel != nil {
						testCtx.Cancel()
					}
				}
			}()

			res, err := Run(ctx, RunOptions{
				FromEndpoint: opts.Endpoint,
				ToEndpoint:   req.Endpoint,
				UserAgent:    opts.UserAgent,
				Timeout:      req.Timeout,
			})
			if err != nil {
				logs.Warn(err)
			}

			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("from_endpoint", opts.Endpoint).
					WithTag("to_endpoint", req.Endpoint).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusOK)
	}
}

type RunOptions struct {
	FromEndpoint string
	ToEndpoint   string
	UserAgent    string
	Timeout      time.Duration
}

// Run connects to the snapshot stream of the tested endpoint and waits for a
// snapshot. Results are returned with a failed status when an error occurs.
func Run(ctx context.Context, opts RunOptions) (Results, error) {
	res := Results{
		FromEndpoint: opts.FromEndpoint,
		ToEndpoint:   opts.ToEndpoint,
		Status:       StatusFailed,
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	config, err := websocket.NewConfig(streamURL(opts.ToEndpoint), opts.FromEndpoint)
	if err != nil {
		return res, errors.New("creating smoke test config failed").
			WithTag("to_endpoint", opts.ToEndpoint).
			Wrap(err)
	}
	if opts.UserAgent != "" {
		config.Header.Set("User-Agent", opts.UserAgent)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	config.Dialer = &net.Dialer{Timeout: timeout}

	conn, err := websocket.DialConfig(config)
	if err != nil {
		return res, errors.New("dialing smoke test endpoint failed").
			WithTag("to_endpoint", opts.ToEndpoint).
			Wrap(err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	req, err := qwebsocket.NewMsg(qwebsocket.MsgTypeSnapshotRequest, nil)
	if err != nil {
		return res, err
	}
	req.RequestID = 1
	if _, err := qwebsocket.NewSender(conn)(req); err != nil {
		return res, errors.New("sending snapshot request failed").
			WithTag("to_endpoint", opts.ToEndpoint).
			Wrap(err)
	}

	receive := qwebsocket.NewReceiver(conn)
	for {
		msg, _, err := receive()
		if err != nil {
			return res, errors.New("receiving snapshot failed").
				WithTag("to_endpoint", opts.ToEndpoint).
				Wrap(err)
		}

		// Snapshots streamed before the response prove the server is
		// alive as well.
		if msg.Type != qwebsocket.MsgTypeSnapshot {
			continue
		}

		var snapshot struct {
			Tick uint64 `json:"tick"`
		}
		if err := msg.DataTo(&snapshot); err != nil {
			return res, err
		}

		res.LatencyMilliSec = float64(time.Since(start).Microseconds()) / 1000
		res.Tick = snapshot.Tick
		res.Status = StatusSuccess
		return res, nil
	}
}

func streamURL(endpoint string) string {
	endpoint = strings.TrimSuffix(endpoint, "/")

	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint + streamPath
}
