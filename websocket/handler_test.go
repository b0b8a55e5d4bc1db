package websocket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/quicklod/lod"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

type testFrames struct {
	mutex    sync.Mutex
	latest   *lod.Snapshot
	handlers map[int]func(*lod.Snapshot)
	nextID   int
}

func (f *testFrames) HandleFrame(h func(*lod.Snapshot)) func() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.handlers == nil {
		f.handlers = make(map[int]func(*lod.Snapshot))
	}
	f.nextID++
	id := f.nextID
	f.handlers[id] = h

	return func() {
		f.mutex.Lock()
		defer f.mutex.Unlock()
		delete(f.handlers, id)
	}
}

func (f *testFrames) Snapshot() (*lod.Snapshot, bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.latest, f.latest != nil
}

func (f *testFrames) publish(s *lod.Snapshot) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.latest = s
	for _, h := range f.handlers {
		h(s)
	}
}

// startPublishing publishes snapshots with increasing ticks until the test
// ends.
func (f *testFrames) startPublishing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()

		var tick uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick++
				f.publish(&lod.Snapshot{
					Scheduler:   "test",
					Tick:        tick,
					ObjectCount: 3,
					LevelCounts: map[string]int{"0": 2, "hidden": 1},
				})
			}
		}
	}()
}

func newTestHandler(frames FrameSource, idleTimeout time.Duration) func() Handler {
	return func() Handler {
		var h Handler = &StreamHandler{
			ClientIdleTimeout: idleTimeout,
			Frames:            frames,
		}

		h = HandlerWithLogs(h, time.Millisecond*100)
		h = HandlerWithMetrics(h, "http://quicklod-test.local")
		return h
	}
}

func sendTestMsg(t *testing.T, conn *websocket.Conn, msg Msg) {
	_, err := NewSender(conn)(msg)
	require.NoError(t, err)
}

// receiveTestMsg returns the first received message with the given type.
func receiveTestMsg(t *testing.T, conn *websocket.Conn, msgType string) Msg {
	receive := NewReceiver(conn)

	for {
		msg, _, err := receive()
		require.NoError(t, err)

		if msg.Type == msgType {
			return msg
		}
	}
}

func TestStreamHandler(t *testing.T) {
	t.Run("ping", func(t *testing.T) {
		client, close := NewTestingEnv(t, newTestHandler(&testFrames{}, time.Minute))
		defer close()

		sendTestMsg(t, client, Msg{
			Type:      MsgTypePing,
			RequestID: 42,
			Data:      json.RawMessage(`{"hello":"world"}`),
		})

		res := receiveTestMsg(t, client, MsgTypePong)
		require.Equal(t, uint32(42), res.RequestID)
		require.JSONEq(t, `{"hello":"world"}`, string(res.Data))
		require.False(t, res.Timestamp.IsZero())
	})

	t.Run("snapshot request before the first frame", func(t *testing.T) {
		client, close := NewTestingEnv(t, newTestHandler(&testFrames{}, time.Minute))
		defer close()

		sendTestMsg(t, client, Msg{
			Type:      MsgTypeSnapshotRequest,
			RequestID: 7,
		})

		res := receiveTestMsg(t, client, MsgTypeError)
		require.Equal(t, uint32(7), res.RequestID)

		var data ErrorData
		require.NoError(t, res.DataTo(&data))
		require.Equal(t, "not-ready", data.Code)
	})

	t.Run("snapshot request", func(t *testing.T) {
		frames := &testFrames{}
		frames.publish(&lod.Snapshot{Scheduler: "test", Tick: 12})

		client, close := NewTestingEnv(t, newTestHandler(frames, time.Minute))
		defer close()

		sendTestMsg(t, client, Msg{
			Type:      MsgTypeSnapshotRequest,
			RequestID: 8,
		})

		for {
			res := receiveTestMsg(t, client, MsgTypeSnapshot)
			if res.RequestID != 8 {
				continue
			}

			var snapshot lod.Snapshot
			require.NoError(t, res.DataTo(&snapshot))
			require.Equal(t, uint64(12), snapshot.Tick)
			require.Equal(t, "test", snapshot.Scheduler)
			return
		}
	})

	t.Run("snapshots are streamed", func(t *testing.T) {
		frames := &testFrames{}
		frames.startPublishing(t)

		client, close := NewTestingEnv(t, newTestHandler(frames, time.Minute))
		defer close()

		var lastTick uint64
		for range 3 {
			res := receiveTestMsg(t, client, MsgTypeSnapshot)

			var snapshot lod.Snapshot
			require.NoError(t, res.DataTo(&snapshot))
			require.Greater(t, snapshot.Tick, lastTick)
			require.Equal(t, 2, snapshot.LevelCounts["0"])
			require.Equal(t, 1, snapshot.LevelCounts["hidden"])
			lastTick = snapshot.Tick
		}
	})

	t.Run("unsupported message type", func(t *testing.T) {
		client, close := NewTestingEnv(t, newTestHandler(&testFrames{}, time.Minute))
		defer close()

		sendTestMsg(t, client, Msg{
			Type:      "teleport",
			RequestID: 3,
		})

		res := receiveTestMsg(t, client, MsgTypeError)
		require.Equal(t, uint32(3), res.RequestID)

		var data ErrorData
		require.NoError(t, res.DataTo(&data))
		require.Equal(t, ErrTypeMsgUnsupported, data.Code)
	})

	t.Run("malformed message disconnects", func(t *testing.T) {
		client, close := NewTestingEnv(t, newTestHandler(&testFrames{}, time.Minute))
		defer close()

		require.NoError(t, websocket.Message.Send(client, "{not json"))

		var b []byte
		err := websocket.Message.Receive(client, &b)
		require.Error(t, err)
	})

	t.Run("idle viewer is disconnected", func(t *testing.T) {
		client, close := NewTestingEnv(t, newTestHandler(&testFrames{}, 50*time.Millisecond))
		defer close()

		var b []byte
		err := websocket.Message.Receive(client, &b)
		require.Error(t, err)
	})
}

func TestStreamHandlerFrameStride(t *testing.T) {
	frames := &testFrames{}
	h := &StreamHandler{
		Frames:      frames,
		FrameStride: 3,
	}

	var ticks []uint64
	cancel := h.HandleFrame(func(s *lod.Snapshot) {
		ticks = append(ticks, s.Tick)
	})

	for tick := uint64(1); tick <= 7; tick++ {
		frames.publish(&lod.Snapshot{Tick: tick})
	}
	cancel()
	frames.publish(&lod.Snapshot{Tick: 9})

	require.Equal(t, []uint64{3, 6}, ticks)
}

func TestStreamHandlerClientID(t *testing.T) {
	t.Run("generated when missing", func(t *testing.T) {
		h := &StreamHandler{}
		h.HandleConnect(&websocket.Conn{})
		require.NotEmpty(t, h.GetClientID())
	})
}
