package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quicklod/lod"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize    = 64
	receiveChanSize = 16
)

// Handler represents a snapshot stream handler.
type Handler interface {
	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Handles a ping request.
	HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request for the latest snapshot.
	HandleSnapshotRequest(ctx context.Context, respond ResponseSender, msg Msg) error

	// Registers a function called for every published snapshot that should be
	// streamed to the client.
	HandleFrame(h func(*lod.Snapshot)) (cancel func())

	// Sends a snapshot to the client.
	SendSnapshot(ctx context.Context, respond ResponseSender, snapshot *lod.Snapshot) error

	// Creates a message receiver used to receive incoming messages.
	Receiver() Receiver

	// Creates a message sender used to send messages.
	Sender() Sender

	// Closes the handler and releases its allocated resources.
	Close()

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// Get ClientID
	GetClientID() string
}

// Handle handles the given connection until it is closed or the context is
// canceled.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The stream handler.
	Handler Handler

	sendChan       chan Msg
	receiveChan    chan Msg
	frameChan      chan *lod.Snapshot
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.sendChan = make(chan Msg, sendChanSize)
	sender := h.Handler.Sender()
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx, sender)
	}()

	h.receiveChan = make(chan Msg, receiveChanSize)
	receiver := h.Handler.Receiver()
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx, receiver)
	}()

	// Only the latest snapshot matters. Older ones are dropped when the
	// client is slower than the simulation.
	h.frameChan = make(chan *lod.Snapshot, 1)
	stopFrames := h.Handler.HandleFrame(func(s *lod.Snapshot) {
		select {
		case h.frameChan <- s:
		default:
		}
	})
	defer stopFrames()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	responder := responseSender(h.sendMsg)

	var disconnectErr error

loop:
	for {
		select {
		case <-ctx.Done():
			disconnectErr = ctx.Err()
			break loop

		case err := <-h.disconnectChan:
			disconnectErr = err
			break loop

		case <-idleTimer.C:
			h.disconnect(errors.New("idle connection").WithTag("duration", idleTimeout))

		case s := <-h.frameChan:
			if err := h.Handler.SendSnapshot(ctx, responder, s); err != nil {
				h.disconnect(errors.New("sending snapshot failed").Wrap(err))
			}

		case msg := <-h.receiveChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handleMessage(ctx, msg, responder); err != nil {
				h.disconnect(errors.New("handling message failed").Wrap(err))
			}
		}
	}

	// Closing the connection unblocks the receiving goroutine.
	h.handleDisconnect(disconnectErr)
	cancel()
	wg.Wait()
}

func (h *handler) sendMsg(msg Msg) {
	select {
	case h.sendChan <- msg:
	default:
		h.disconnect(errors.New("send buffer full").WithTag("msg_type", msg.Type))
	}
}

func (h *handler) startSending(ctx context.Context, send Sender) {
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := send(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context, receive Receiver) {
	for {
		msg, _, err := receive()
		if err != nil {
			h.disconnect(errors.New("receiving message failed").Wrap(err))
			return
		}

		select {
		case <-ctx.Done():
			return
		case h.receiveChan <- msg:
		}
	}
}

func (h *handler) handleMessage(ctx context.Context, msg Msg, respond ResponseSender) error {
	switch msg.Type {
	case MsgTypePing:
		return h.Handler.HandlePing(ctx, respond, msg)

	case MsgTypeSnapshotRequest:
		return h.Handler.HandleSnapshotRequest(ctx, respond, msg)

	default:
		res, err := NewMsg(MsgTypeError, ErrorData{
			Code:    ErrTypeMsgUnsupported,
			Message: "unsupported message type: " + msg.Type,
		})
		if err != nil {
			return err
		}
		res.RequestID = msg.RequestID
		respond.SendMsg(res)
		return nil
	}
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender func(Msg)

func (r responseSender) SendMsg(msg Msg) {
	r(msg)
}
