package smoketest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aukilabs/quicklod/lod"
	qwebsocket "github.com/aukilabs/quicklod/websocket"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func newTestServer(t *testing.T, respond bool) *httptest.Server {
	mux := http.NewServeMux()
	mux.Handle(streamPath, websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			msg, _, err := qwebsocket.NewReceiver(conn)()
			if err != nil {
				return
			}
			require.Equal(t, qwebsocket.MsgTypeSnapshotRequest, msg.Type)

			if !respond {
				time.Sleep(200 * time.Millisecond)
				return
			}

			time.Sleep(time.Millisecond)
			res, err := qwebsocket.NewMsg(qwebsocket.MsgTypeSnapshot, lod.Snapshot{Tick: 21})
			require.NoError(t, err)
			res.RequestID = msg.RequestID
			qwebsocket.NewSender(conn)(res)
		},
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestRun(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := newTestServer(t, true)

		res, err := Run(context.Background(), RunOptions{
			FromEndpoint: "http://localquicklod",
			ToEndpoint:   server.URL,
			Timeout:      time.Second,
		})
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, res.Status)
		require.Equal(t, "http://localquicklod", res.FromEndpoint)
		require.Equal(t, server.URL, res.ToEndpoint)
		require.Equal(t, uint64(21), res.Tick)
		require.GreaterOrEqual(t, res.LatencyMilliSec, float64(1))
	})

	t.Run("timeout", func(t *testing.T) {
		server := newTestServer(t, false)

		res, err := Run(context.Background(), RunOptions{
			FromEndpoint: "http://localquicklod",
			ToEndpoint:   server.URL,
			Timeout:      50 * time.Millisecond,
		})
		require.Error(t, err)
		require.Equal(t, StatusFailed, res.Status)
	})

	t.Run("offline", func(t *testing.T) {
		res, err := Run(context.Background(), RunOptions{
			FromEndpoint: "http://localquicklod",
			ToEndpoint:   "http://127.0.0.1:1",
			Timeout:      time.Second,
		})
		require.Error(t, err)
		require.Equal(t, StatusFailed, res.Status)
	})
}

func TestHandleSmokeTest(t *testing.T) {
	t.Run("results are sent", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		server := newTestServer(t, true)

		ctx = context.WithValue(ctx, testCtxKeyValue, testContext{
			Context: ctx,
			Cancel:  cancel,
		})

		var gotResult bool
		smokeTest := HandleSmokeTest(ctx, Options{
			Endpoint: "http://localquicklod",
			SendResult: func(_ context.Context, res Results) error {
				require.Equal(t, "http://localquicklod", res.FromEndpoint)
				require.Equal(t, server.URL, res.ToEndpoint)
				require.Equal(t, StatusSuccess, res.Status)
				gotResult = true
				return nil
			},
		})

		body, err := json.Marshal(Request{
			Endpoint: server.URL,
			Timeout:  time.Second,
		})
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "http://localquicklod", bytes.NewBuffer(body))
		smokeTest.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		<-ctx.Done()
		require.True(t, gotResult)
	})

	t.Run("bad request", func(t *testing.T) {
		smokeTest := HandleSmokeTest(context.Background(), Options{
			SendResult: func(context.Context, Results) error {
				t.Fatal("no smoke test should run")
				return nil
			},
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "http://localquicklod", bytes.NewBufferString("{"))
		smokeTest.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStreamURL(t *testing.T) {
	require.Equal(t, "ws://localhost:4100/stream", streamURL("http://localhost:4100/"))
	require.Equal(t, "wss://lod.example.com/stream", streamURL("https://lod.example.com"))
	require.Equal(t, "ws://localhost/stream", streamURL("ws://localhost"))
}
