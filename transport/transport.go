// Package transport owns the physical streaming socket for a single task:
// connect, send, receive, close, and bounded fixed-delay reconnection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// Phase is the connection lifecycle state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseOpen       Phase = "open"
	PhaseClosed     Phase = "closed"
	PhaseFailed     Phase = "failed"
)

// ErrNotConnected is returned by Send when the connection is not open.
// Callers must not buffer or queue sends themselves.
var ErrNotConnected = errors.New("transport: not connected")

// Socket is one open streaming socket. The zero point of the abstraction:
// tests substitute scripted sockets, production uses websockets.
type Socket interface {
	// ReadMessage blocks until the next inbound message or a read error.
	ReadMessage() ([]byte, error)

	// WriteJSON sends v as a single JSON message.
	WriteJSON(v any) error

	// Close closes the socket; a blocked ReadMessage returns an error.
	Close() error
}

// Dialer opens a Socket for a stream URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// Status is the externally observable connection state, surfaced to UI
// consumers as feedback signals.
type Status struct {
	Phase             Phase
	ReconnectAttempts int
	LastError         string
}

// Options configures a Conn.
type Options struct {
	// AutoReconnect enables reconnection after an unexpected close.
	AutoReconnect bool

	// ReconnectDelay is the fixed delay between reconnect attempts. The
	// delay is deliberately not exponential: predictable timing for a
	// human-facing progress UI.
	ReconnectDelay time.Duration

	// MaxReconnectAttempts bounds consecutive failed attempts before the
	// connection transitions to failed.
	MaxReconnectAttempts int

	Dialer Dialer
	Logger *slog.Logger

	// OnMessage receives each inbound message in delivery order.
	OnMessage func(data []byte)

	// OnStatus observes every phase change.
	OnStatus func(st Status)
}

// DefaultOptions returns reconnect settings suitable for interactive use.
func DefaultOptions() Options {
	return Options{
		AutoReconnect:        true,
		ReconnectDelay:       3 * time.Second,
		MaxReconnectAttempts: 5,
		Dialer:               NewWebSocketDialer(),
	}
}

// NewWebSocketDialer returns the production Dialer backed by
// gorilla/websocket.
func NewWebSocketDialer() Dialer {
	return &wsDialer{d: &websocket.Dialer{HandshakeTimeout: 15 * time.Second}}
}

type wsDialer struct {
	d *websocket.Dialer
}

func (w *wsDialer) Dial(ctx context.Context, url string) (Socket, error) {
	c, resp, err := w.d.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsSocket{c: c}, nil
}

type wsSocket struct {
	c *websocket.Conn
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.c.ReadMessage()
	return data, err
}

func (s *wsSocket) WriteJSON(v any) error { return s.c.WriteJSON(v) }

func (s *wsSocket) Close() error { return s.c.Close() }
