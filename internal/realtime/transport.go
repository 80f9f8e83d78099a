package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout    = 10 * time.Second
	defaultMaxMessageBytes = 64 * 1024
)

// ErrTransportClosed is returned by transports after Close.
var ErrTransportClosed = errors.New("realtime: transport closed")

// Transport is the framing-agnostic connection the core reads from and
// writes to. Receive and Send are each called from a single task; Close may
// be called concurrently with both and must unblock them.
type Transport interface {
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, payload []byte) error
	Close(code int, reason string) error
}

// WebsocketConfig tunes a WebsocketTransport.
type WebsocketConfig struct {
	WriteTimeout    time.Duration
	MaxMessageBytes int64
}

// WebsocketTransport adapts a gorilla websocket connection to Transport.
type WebsocketTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
}

// NewWebsocketTransport wraps an upgraded websocket connection.
func NewWebsocketTransport(conn *websocket.Conn, cfg WebsocketConfig) *WebsocketTransport {
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	limit := cfg.MaxMessageBytes
	if limit <= 0 {
		limit = defaultMaxMessageBytes
	}
	conn.SetReadLimit(limit)
	return &WebsocketTransport{conn: conn, writeTimeout: writeTimeout}
}

// Receive returns the next text or binary frame.
func (t *WebsocketTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		messageType, message, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			return message, nil
		}
	}
}

// Send writes one text frame. A deadline failure is not recoverable.
func (t *WebsocketTransport) Send(ctx context.Context, payload []byte) error {
	deadline := time.Now().Add(t.writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame carrying code and reason, then closes the
// underlying connection. Only the first call has an effect.
func (t *WebsocketTransport) Close(code int, reason string) error {
	var err error
	t.closeOnce.Do(func() {
		if code == 0 {
			code = websocket.CloseNormalClosure
		}
		message := websocket.FormatCloseMessage(code, reason)
		_ = t.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(t.writeTimeout))
		err = t.conn.Close()
	})
	return err
}
