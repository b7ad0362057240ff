package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Conn is the streaming connection for one task. At most one Conn exists
// per task id (enforced by the pool); phase changes and inbound messages
// are delivered through the Options callbacks.
//
// Ordering: messages for the task are delivered to OnMessage in the order
// the socket produced them, by a single reader goroutine. A message already
// in flight when Disconnect returns is discarded, never delivered.
type Conn struct {
	taskID string
	url    string
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	phase    Phase
	attempts int
	lastErr  error
	sock     Socket
	timer    *time.Timer
	gen      int // bumped by Disconnect; stale dials, timers, and reads bail out
}

// New creates an idle Conn for taskID. Connect must be called to open it.
func New(taskID, url string, opts Options) *Conn {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = NewWebSocketDialer()
	}
	return &Conn{
		taskID: taskID,
		url:    url,
		opts:   opts,
		logger: logger,
		phase:  PhaseIdle,
	}
}

// TaskID returns the task this connection serves.
func (c *Conn) TaskID() string { return c.taskID }

// Status returns a snapshot of the observable connection state.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Conn) statusLocked() Status {
	st := Status{Phase: c.phase, ReconnectAttempts: c.attempts}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Connect opens the socket. It is idempotent: calling it while already
// connecting or open is a no-op. The context is retained for reconnect
// attempts; cancel it or call Disconnect to stop them.
func (c *Conn) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.phase == PhaseConnecting || c.phase == PhaseOpen {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseConnecting
	c.attempts = 0
	c.lastErr = nil
	gen := c.gen
	c.mu.Unlock()

	c.notifyStatus()
	go c.dial(ctx, gen)
}

// Send writes v as one JSON message. It fails with ErrNotConnected unless
// the connection is open.
func (c *Conn) Send(v any) error {
	c.mu.Lock()
	if c.phase != PhaseOpen || c.sock == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	sock := c.sock
	c.mu.Unlock()
	return sock.WriteJSON(v)
}

// Disconnect closes the socket and transitions to closed, cancelling any
// pending reconnect timer. Messages still in flight are discarded.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	sock := c.sock
	c.sock = nil
	changed := c.phase != PhaseClosed
	c.phase = PhaseClosed
	c.mu.Unlock()

	if sock != nil {
		sock.Close()
	}
	if changed {
		c.notifyStatus()
	}
}

func (c *Conn) dial(ctx context.Context, gen int) {
	sock, err := c.opts.Dialer.Dial(ctx, c.url)

	c.mu.Lock()
	if gen != c.gen || c.phase != PhaseConnecting {
		c.mu.Unlock()
		if err == nil {
			sock.Close()
		}
		return
	}
	if err != nil {
		c.lastErr = err
		c.failLocked(ctx, gen, "open failed", err)
		return
	}
	c.sock = sock
	c.phase = PhaseOpen
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Debug("stream open", "task_id", c.taskID)
	c.notifyStatus()
	go c.readLoop(ctx, gen, sock)
}

func (c *Conn) readLoop(ctx context.Context, gen int, sock Socket) {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if gen != c.gen || c.phase != PhaseOpen {
				// Explicit disconnect; nothing to recover.
				c.mu.Unlock()
				return
			}
			c.sock = nil
			c.lastErr = err
			c.failLocked(ctx, gen, "stream closed unexpectedly", err)
			return
		}

		c.mu.Lock()
		stale := gen != c.gen
		c.mu.Unlock()
		if stale {
			return
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(data)
		}
	}
}

// failLocked handles a failed open or an unexpected close. Called with the
// lock held; releases it. Schedules a fixed-delay reconnect while the
// attempt counter is below the ceiling, otherwise transitions to failed.
func (c *Conn) failLocked(ctx context.Context, gen int, msg string, err error) {
	if c.opts.AutoReconnect && c.attempts < c.opts.MaxReconnectAttempts {
		c.attempts++
		attempt := c.attempts
		c.phase = PhaseConnecting
		c.timer = time.AfterFunc(c.opts.ReconnectDelay, func() {
			c.mu.Lock()
			if gen != c.gen || c.phase != PhaseConnecting {
				c.mu.Unlock()
				return
			}
			c.timer = nil
			c.mu.Unlock()
			c.dial(ctx, gen)
		})
		c.mu.Unlock()

		c.logger.Warn(msg, "task_id", c.taskID, "err", err,
			"attempt", attempt, "max", c.opts.MaxReconnectAttempts)
		c.notifyStatus()
		return
	}

	c.phase = PhaseFailed
	c.mu.Unlock()

	c.logger.Error("stream failed permanently", "task_id", c.taskID, "err", err,
		"attempts", c.opts.MaxReconnectAttempts)
	c.notifyStatus()
}

func (c *Conn) notifyStatus() {
	if c.opts.OnStatus == nil {
		return
	}
	c.mu.Lock()
	st := c.statusLocked()
	c.mu.Unlock()
	c.opts.OnStatus(st)
}
