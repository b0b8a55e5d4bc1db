package websocket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quicklod/lod"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// HeaderClientID is the HTTP header a viewer can use to identify itself.
const HeaderClientID = "X-Client-Id"

// FrameSource publishes scheduler snapshots.
type FrameSource interface {
	// Registers a function called with the snapshot of every frame.
	HandleFrame(h func(*lod.Snapshot)) (cancel func())

	// Returns the latest published snapshot.
	Snapshot() (*lod.Snapshot, bool)
}

// StreamHandler streams the scheduler snapshots of a frame source to a
// connected viewer.
type StreamHandler struct {
	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The source of the streamed snapshots.
	Frames FrameSource

	// Only every FrameStride-th snapshot is streamed. Zero or one streams
	// every snapshot.
	FrameStride int

	conn     *websocket.Conn
	clientID string
	frames   atomic.Uint64
}

func (h *StreamHandler) HandleConnect(conn *websocket.Conn) {
	h.conn = conn

	if req := conn.Request(); req != nil {
		h.clientID = req.Header.Get(HeaderClientID)
	}
	if h.clientID == "" {
		h.clientID = uuid.NewString()
	}
}

func (h *StreamHandler) HandleDisconnect(_ error) {
}

func (h *StreamHandler) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	respond.SendMsg(Msg{
		Type:      MsgTypePong,
		Timestamp: time.Now(),
		RequestID: msg.RequestID,
		Data:      msg.Data,
	})
	return nil
}

func (h *StreamHandler) HandleSnapshotRequest(ctx context.Context, respond ResponseSender, msg Msg) error {
	snapshot, ok := h.Frames.Snapshot()
	if !ok {
		res, err := NewMsg(MsgTypeError, ErrorData{
			Code:    "not-ready",
			Message: "no snapshot published yet",
		})
		if err != nil {
			return err
		}
		res.RequestID = msg.RequestID
		respond.SendMsg(res)
		return nil
	}

	res, err := NewMsg(MsgTypeSnapshot, snapshot)
	if err != nil {
		return err
	}
	res.RequestID = msg.RequestID
	respond.SendMsg(res)
	return nil
}

func (h *StreamHandler) HandleFrame(f func(*lod.Snapshot)) (cancel func()) {
	stride := uint64(max(h.FrameStride, 1))

	return h.Frames.HandleFrame(func(s *lod.Snapshot) {
		if h.frames.Add(1)%stride != 0 {
			return
		}
		f(s)
	})
}

func (h *StreamHandler) SendSnapshot(ctx context.Context, respond ResponseSender, snapshot *lod.Snapshot) error {
	if snapshot == nil {
		return errors.New("nil snapshot")
	}

	msg, err := NewMsg(MsgTypeSnapshot, snapshot)
	if err != nil {
		return err
	}
	respond.SendMsg(msg)
	return nil
}

func (h *StreamHandler) Receiver() Receiver {
	return NewReceiver(h.conn)
}

func (h *StreamHandler) Sender() Sender {
	return NewSender(h.conn)
}

func (h *StreamHandler) Close() {
}

func (h *StreamHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *StreamHandler) GetClientID() string {
	return h.clientID
}
