package websocket

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	MsgTypeSnapshot        = "snapshot"
	MsgTypeSnapshotRequest = "snapshot_request"
	MsgTypePing            = "ping"
	MsgTypePong            = "pong"
	MsgTypeError           = "error"

	ErrTypeMsgDecode      = "msg-decode"
	ErrTypeMsgUnsupported = "msg-unsupported"
)

// Msg is a message exchanged with a viewer. Messages are JSON text frames.
type Msg struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID uint32          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMsg creates a message with the given type and JSON encoded data.
func NewMsg(msgType string, data any) (Msg, error) {
	msg := Msg{
		Type:      msgType,
		Timestamp: time.Now(),
	}

	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Msg{}, errors.New("encoding message data failed").
				WithTag("msg_type", msgType).
				Wrap(err)
		}
		msg.Data = b
	}
	return msg, nil
}

// DataTo decodes the message data into v.
func (m Msg) DataTo(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.New("decoding message data failed").
			WithType(ErrTypeMsgDecode).
			WithTag("msg_type", m.Type).
			Wrap(err)
	}
	return nil
}

// ErrorData is the data of an error message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Receiver receives a message. It returns the number of bytes read.
type Receiver func() (Msg, int, error)

// Sender sends a message. It returns the number of bytes written.
type Sender func(Msg) (int, error)

// ResponseSender queues messages to send to the connected viewer.
type ResponseSender interface {
	SendMsg(Msg)
}

// NewReceiver returns a receiver that reads JSON text frames from conn.
func NewReceiver(conn *websocket.Conn) Receiver {
	return func() (Msg, int, error) {
		var b []byte
		if err := websocket.Message.Receive(conn, &b); err != nil {
			return Msg{}, 0, err
		}

		var msg Msg
		if err := json.Unmarshal(b, &msg); err != nil {
			return Msg{}, len(b), errors.New("decoding message failed").
				WithType(ErrTypeMsgDecode).
				Wrap(err)
		}
		return msg, len(b), nil
	}
}

// NewSender returns a sender that writes messages to conn as JSON text
// frames.
func NewSender(conn *websocket.Conn) Sender {
	return func(msg Msg) (int, error) {
		b, err := json.Marshal(msg)
		if err != nil {
			return 0, errors.New("encoding message failed").
				WithTag("msg_type", msg.Type).
				Wrap(err)
		}

		if err := websocket.Message.Send(conn, string(b)); err != nil {
			return 0, err
		}
		return len(b), nil
	}
}
