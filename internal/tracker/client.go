// Package tracker owns the persistent connection to the remote session
// tracker: dialing, the authentication handshake, reconnect with
// backoff, and the single serialized path for outbound commands.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/m1ndfucker/autotracker/internal/resilience"
	"github.com/m1ndfucker/autotracker/internal/state"
)

// ConnState is the client's position in the connection state machine.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected // transport up, unauthenticated
	StateAuthenticated
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// Conn is the minimal transport surface the client needs. Read and
// Write honor their context's deadline and cancellation.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens one connection to the target URL.
type Dialer func(ctx context.Context, target string) (Conn, error)

const (
	defaultSendTimeout   = 5 * time.Second
	defaultDialTimeout   = 10 * time.Second
	defaultCommandBuffer = 16
)

// Config wires a Client.
type Config struct {
	ServerURL    string // base websocket endpoint, e.g. wss://host/ws
	Profile      string
	Password     string // empty means view-only
	Store        *state.Store
	OnDisconnect func() // invoked on unexpected transport loss
	Dialer       Dialer // nil selects the websocket dialer
	Backoff      resilience.Backoff
	SendTimeout  time.Duration
	DialTimeout  time.Duration
}

// Client maintains exactly one logical connection at a time.
type Client struct {
	target       string
	password     string
	store        *state.Store
	onDisconnect func()
	dial         Dialer
	backoff      resilience.Backoff
	sendTimeout  time.Duration
	dialTimeout  time.Duration

	cmds      chan Command
	connState atomic.Int32

	closed    chan struct{}
	closeOnce sync.Once
}

// New builds a client. The profile rides in a query parameter on the
// connection target; reconnects reuse the same target.
func New(cfg Config) (*Client, error) {
	target, err := endpointURL(cfg.ServerURL, cfg.Profile)
	if err != nil {
		return nil, err
	}
	dial := cfg.Dialer
	if dial == nil {
		dial = dialWebsocket
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	return &Client{
		target:       target,
		password:     cfg.Password,
		store:        cfg.Store,
		onDisconnect: cfg.OnDisconnect,
		dial:         dial,
		backoff:      cfg.Backoff,
		sendTimeout:  sendTimeout,
		dialTimeout:  dialTimeout,
		cmds:         make(chan Command, defaultCommandBuffer),
		closed:       make(chan struct{}),
	}, nil
}

func endpointURL(base, profile string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("bloodborne", "true")
	q.Set("profile", profile)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	return ConnState(c.connState.Load())
}

func (c *Client) setState(s ConnState) {
	c.connState.Store(int32(s))
}

// Dispatch queues a command for sending. Never blocks. Commands issued
// while not authenticated are dropped, not queued; the caller decides
// whether dropping matters.
func (c *Client) Dispatch(cmd Command) bool {
	if c.State() != StateAuthenticated {
		slog.Debug("dropping command, not authenticated", "type", cmd.Type, "state", c.State())
		return false
	}
	select {
	case c.cmds <- cmd:
		return true
	default:
		slog.Warn("command queue full, dropping", "type", cmd.Type)
		return false
	}
}

// Close requests a deliberate, terminal disconnect. Idempotent; cancels
// any pending reconnect backoff.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Run drives the connect/serve/reconnect loop until the context is
// cancelled or Close is called. Handshake failures and transport drops
// both land back here and reschedule with backoff.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		if c.isClosed() || ctx.Err() != nil {
			return ctx.Err()
		}

		c.setState(StateConnecting)
		dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
		conn, err := c.dial(dialCtx, c.target)
		cancel()
		if err != nil {
			c.setState(StateDisconnected)
			slog.Warn("connect failed", "error", err)
			if !c.waitRetry(ctx, attempt) {
				return ctx.Err()
			}
			attempt++
			continue
		}
		attempt = 0

		c.setState(StateConnected)
		_ = c.store.Set(state.KeyConnected, true)
		slog.Info("tracker connected", "target", c.target)

		serveErr := c.serve(ctx, conn)
		_ = conn.Close()

		deliberate := c.isClosed() || ctx.Err() != nil
		c.setState(StateDisconnected)
		_ = c.store.Merge(map[state.Key]any{
			state.KeyConnected: false,
			state.KeyCanEdit:   false,
		})
		c.drainCommands()

		if deliberate {
			return ctx.Err()
		}

		slog.Warn("tracker disconnected", "error", serveErr)
		if c.onDisconnect != nil {
			c.onDisconnect()
		}
		if !c.waitRetry(ctx, 0) {
			return ctx.Err()
		}
	}
}

// waitRetry sleeps the backoff delay, returning false when the client
// should stop retrying.
func (c *Client) waitRetry(ctx context.Context, attempt int) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.closed:
		return false
	case <-time.After(c.backoff.Delay(attempt)):
		return true
	}
}

// serve pumps one live connection: inbound messages, outbound commands,
// and the at-most-once auth request. Returns on transport error or on a
// deliberate stop.
func (c *Client) serve(ctx context.Context, conn Conn) error {
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			data, err := conn.Read(readCtx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- data:
			case <-readCtx.Done():
				return
			}
		}
	}()

	authSent := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		case err := <-readErr:
			return err
		case data := <-inbound:
			if c.handleMessage(data, authSent) {
				authSent = true
				if err := c.send(ctx, conn, authMessage{Type: msgAuth, Password: c.password}); err != nil {
					return err
				}
			}
		case cmd := <-c.cmds:
			if c.State() != StateAuthenticated {
				slog.Debug("dropping queued command, not authenticated", "type", cmd.Type)
				continue
			}
			if err := c.send(ctx, conn, cmd.payload()); err != nil {
				return err
			}
		}
	}
}

// handleMessage processes one inbound frame and reports whether an auth
// request should go out. Malformed frames are discarded individually;
// they never terminate the connection.
func (c *Client) handleMessage(data []byte, authSent bool) (wantAuth bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Debug("discarding malformed message", "error", err)
		return false
	}

	switch env.Type {
	case msgState:
		var m stateMessage
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Debug("discarding malformed state snapshot", "error", err)
			return false
		}
		// Snapshots merge regardless of auth state. The viewer always
		// sees live counters; only mutation needs edit rights.
		if err := c.store.Merge(m.patch()); err != nil {
			slog.Warn("state merge failed", "error", err)
		}
		if m.CanEdit != nil && *m.CanEdit {
			c.setState(StateAuthenticated)
			return false
		}
		// Auth once per connection, never re-sent spontaneously.
		return c.password != "" && !authSent && c.State() != StateAuthenticated

	case msgAuthResult:
		var m authResultMessage
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Debug("discarding malformed auth result", "error", err)
			return false
		}
		if m.Success {
			c.setState(StateAuthenticated)
			_ = c.store.Set(state.KeyCanEdit, true)
			slog.Info("authenticated")
		} else {
			slog.Warn("authentication failed", "error", m.Error)
		}

	case msgError:
		var m errorMessage
		if err := json.Unmarshal(data, &m); err == nil {
			slog.Warn("tracker error", "error", m.Error, "code", m.Code)
		}

	default:
		slog.Debug("ignoring unknown message type", "type", env.Type)
	}
	return false
}

// send writes one frame with a short timeout so a stalled peer cannot
// hold up the caller.
func (c *Client) send(ctx context.Context, conn Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()
	return conn.Write(sendCtx, data)
}

// drainCommands discards anything queued; commands never survive a
// disconnect.
func (c *Client) drainCommands() {
	for {
		select {
		case <-c.cmds:
		default:
			return
		}
	}
}

// wsConn adapts a coder/websocket connection to Conn.
type wsConn struct {
	ws *websocket.Conn
}

func dialWebsocket(ctx context.Context, target string) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
