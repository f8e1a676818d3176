// Package realtime maintains the single WebSocket connection between the
// console and the OLT Manager server. It authenticates with the session's
// access token, reconnects with bounded exponential backoff after abnormal
// closures and fans inbound events out to built-in handlers and dynamic
// subscribers.
//
// Each physical connection has one read goroutine, so frames are dispatched
// sequentially in the order the server sent them. Subscriber callbacks run
// outside internal locks and may call back into the Channel.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aussiebroadwan/oltmanager/pkg/idx"
	"github.com/aussiebroadwan/oltmanager/pkg/notify"
	"github.com/aussiebroadwan/oltmanager/pkg/slogx"
	"github.com/gorilla/websocket"
)

// CloseAuthFailed is the close code the server sends when it rejects the
// connection's credentials.
const CloseAuthFailed = 4001

// ErrNoToken is returned by Connect when no access token is available.
var ErrNoToken = errors.New("realtime: no access token")

const writeTimeout = 10 * time.Second

// TokenSource yields the current access token. *session.Manager satisfies it.
type TokenSource interface {
	AccessToken() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) AccessToken() string { return f() }

// Config configures a Channel. URL and Tokens are required.
type Config struct {
	// URL is the ws:// or wss:// endpoint, e.g. wss://host/api/v1/ws/connect.
	URL    string
	Tokens TokenSource

	Notifier notify.Notifier
	Logger   *slog.Logger

	// BaseDelay and MaxAttempts shape the reconnect schedule; zero values
	// take DefaultBaseDelay and DefaultMaxAttempts.
	BaseDelay   time.Duration
	MaxAttempts int

	// PingInterval enables {"type":"ping"} keepalives. Zero disables them.
	PingInterval time.Duration

	// Dialer defaults to a copy of websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// timer is the part of *time.Timer the reconnect scheduler needs.
type timer interface {
	Stop() bool
}

// Channel is one reconnecting realtime connection and its subscribers.
type Channel struct {
	url      string
	tokens   TokenSource
	notifier notify.Notifier
	logger   *slog.Logger
	backoff  Backoff
	ping     time.Duration
	dialer   *websocket.Dialer

	afterFunc func(time.Duration, func()) timer

	mu         sync.Mutex
	state      State
	attempts   int
	gen        uint64
	conn       *websocket.Conn
	connID     idx.ID
	cancelDial context.CancelFunc
	retry      timer
	last       *Message
	topics     []string

	// wmu serialises writes; gorilla allows one concurrent writer.
	wmu sync.Mutex

	handlers      *registry
	stateWatchers observers[State]
	authWatchers  observers[struct{}]
}

// New builds a disconnected Channel. Config.URL and Config.Tokens are
// required.
func New(cfg Config) *Channel {
	if cfg.Tokens == nil {
		panic("realtime: Config.Tokens is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Dialer == nil {
		d := *websocket.DefaultDialer
		cfg.Dialer = &d
	}

	return &Channel{
		url:      cfg.URL,
		tokens:   cfg.Tokens,
		notifier: cfg.Notifier,
		logger:   slogx.OrDefault(cfg.Logger).With("component", "realtime"),
		backoff:  Backoff{Base: cfg.BaseDelay, MaxAttempts: cfg.MaxAttempts},
		ping:     cfg.PingInterval,
		dialer:   cfg.Dialer,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
		state:    StateDisconnected,
		handlers: newRegistry(),
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of reconnect attempts since the last
// successful open.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// LastMessage returns the most recently dispatched message.
func (c *Channel) LastMessage() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Message{}, false
	}
	return *c.last, true
}

// Subscribe registers fn for events of type typ. The returned function
// removes this registration only; calling it again is a no-op.
func (c *Channel) Subscribe(typ string, fn Handler) func() {
	return c.handlers.subscribe([]string{typ}, fn)
}

// SubscribeMultiple registers fn for each of types and returns a single
// function undoing all of them.
func (c *Channel) SubscribeMultiple(types []string, fn Handler) func() {
	return c.handlers.subscribe(append([]string(nil), types...), fn)
}

// OnStateChange registers fn for every state transition.
func (c *Channel) OnStateChange(fn func(State)) func() {
	return c.stateWatchers.add(fn)
}

// OnAuthError registers fn to run when the server rejects the connection's
// credentials.
func (c *Channel) OnAuthError(fn func()) func() {
	return c.authWatchers.add(func(struct{}) { fn() })
}

// Connect starts a connection attempt in the background. It is a no-op
// while a connection is open or an attempt is in flight. Calling it while a
// reconnect is pending replaces the pending attempt; calling it after the
// attempt budget is spent starts a fresh budget.
func (c *Channel) Connect() error {
	return c.connect(false, 0)
}

// connect dials when allowed. A scheduled call only proceeds if the reconnect
// armed for generation gen is still the pending one.
func (c *Channel) connect(scheduled bool, gen uint64) error {
	c.mu.Lock()
	if scheduled && (gen != c.gen || c.state != StateReconnecting) {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}

	token := c.tokens.AccessToken()
	if token == "" {
		var changed bool
		if scheduled {
			c.attempts = 0
			changed = c.setStateLocked(StateDisconnected)
		}
		c.mu.Unlock()
		if changed {
			c.fireState(StateDisconnected)
		}
		return ErrNoToken
	}

	target, err := withToken(c.url, token)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	if !scheduled && (c.state == StateError || c.state == StateDisconnected) {
		c.attempts = 0
	}
	c.stopRetryLocked()
	c.gen++
	gen = c.gen
	c.connID = idx.New(idx.PrefixConn)
	connCtx := slogx.WithConnID(slogx.WithContext(context.Background(), c.logger), c.connID.String())
	logger := slogx.FromContext(connCtx)
	ctx, cancel := context.WithCancel(connCtx)
	c.cancelDial = cancel
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.fireState(StateConnecting)
	logger.Debug("dialing realtime endpoint", "attempt", c.Attempts())

	go c.dial(ctx, gen, target, token, logger)
	return nil
}

func (c *Channel) dial(ctx context.Context, gen uint64, target, token string, logger *slog.Logger) {
	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	c.cancelDial = nil

	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			c.mu.Unlock()
			logger.Warn("realtime handshake rejected", "status", resp.StatusCode)
			c.authFailed(context.WithoutCancel(ctx), "")
			return
		}

		logger.Warn("realtime dial failed", "error", err)
		next := c.scheduleReconnectLocked(gen)
		c.mu.Unlock()
		c.fireState(next)
		return
	}

	c.conn = conn
	c.attempts = 0
	c.stopRetryLocked()
	c.setStateLocked(StateConnected)
	topics := append([]string(nil), c.topics...)
	c.mu.Unlock()

	logger.Info("realtime connected")
	c.fireState(StateConnected)

	if err := c.writeJSON(conn, authMessage{Type: TypeAuth, Token: token}); err != nil {
		logger.Warn("failed to send auth message", "error", err)
	}
	if len(topics) > 0 {
		if err := c.writeJSON(conn, controlMessage{Type: TypeSubscribe, Data: topicsData{Topics: topics}}); err != nil {
			logger.Warn("failed to restore topic subscriptions", "error", err)
		}
	}

	done := make(chan struct{})
	if c.ping > 0 {
		go c.pingLoop(conn, gen, done, logger)
	}
	go c.readLoop(context.WithoutCancel(ctx), conn, gen, done)
}

// readLoop dispatches frames for connection gen. ctx carries the
// connection's logger through to notices.
func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.closed(ctx, gen, err)
			return
		}
		if !c.current(gen) {
			return
		}
		c.dispatch(ctx, data)
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn, gen uint64, done <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(c.ping)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !c.current(gen) {
				return
			}
			if err := c.writeJSON(conn, controlMessage{Type: TypePing}); err != nil {
				logger.Debug("keepalive ping failed", "error", err)
				return
			}
		}
	}
}

// closed handles the end of the read loop for connection gen.
func (c *Channel) closed(ctx context.Context, gen uint64, err error) {
	logger := slogx.FromContext(ctx)
	code := websocket.CloseAbnormalClosure
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
	}

	c.mu.Lock()
	if gen != c.gen || c.conn == nil {
		// Torn down locally; Disconnect already settled the state.
		c.mu.Unlock()
		return
	}
	_ = c.conn.Close()
	c.conn = nil

	switch code {
	case CloseAuthFailed:
		c.mu.Unlock()
		logger.Warn("realtime connection closed: authentication failed")
		c.authFailed(ctx, "")
		return
	case websocket.CloseNormalClosure:
		c.attempts = 0
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		logger.Info("realtime connection closed normally")
		c.fireState(StateDisconnected)
		return
	}

	logger.Warn("realtime connection lost", "code", code, "error", err)
	next := c.scheduleReconnectLocked(gen)
	c.mu.Unlock()
	c.fireState(next)
}

// scheduleReconnectLocked arms the next attempt or gives up, returning the
// resulting state.
func (c *Channel) scheduleReconnectLocked(gen uint64) State {
	if c.backoff.Exhausted(c.attempts) {
		c.logger.Error("realtime reconnect attempts exhausted", "attempts", c.attempts)
		c.setStateLocked(StateError)
		return StateError
	}

	c.attempts++
	delay := c.backoff.Delay(c.attempts)
	c.setStateLocked(StateReconnecting)
	c.logger.Info("realtime reconnect scheduled", "attempt", c.attempts, "delay", delay)

	c.retry = c.afterFunc(delay, func() {
		if err := c.connect(true, gen); err != nil {
			c.logger.Warn("realtime reconnect not attempted", "error", err)
		}
	})
	return StateReconnecting
}

// Disconnect cancels any pending reconnect, closes the connection with a
// normal closure and resets the attempt counter. It is idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.stopRetryLocked()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	conn := c.conn
	c.conn = nil
	c.attempts = 0
	changed := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		c.wmu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.wmu.Unlock()
		_ = conn.Close()
	}
	if changed {
		c.logger.Info("realtime disconnected")
		c.fireState(StateDisconnected)
	}
}

// Send JSON-encodes msg and writes it when connected. It never queues: the
// result is false when disconnected or when the write fails.
func (c *Channel) Send(msg any) bool {
	c.mu.Lock()
	conn := c.conn
	ok := c.state == StateConnected && conn != nil
	c.mu.Unlock()

	if !ok {
		return false
	}
	if err := c.writeJSON(conn, msg); err != nil {
		c.logger.Debug("realtime send failed", "error", err)
		return false
	}
	return true
}

// SubscribeTopics asks the server for the given topics and remembers them so
// they are requested again after every reconnect. The result reports whether
// the request went out now.
func (c *Channel) SubscribeTopics(topics ...string) bool {
	c.mu.Lock()
	for _, t := range topics {
		if !containsString(c.topics, t) {
			c.topics = append(c.topics, t)
		}
	}
	c.mu.Unlock()

	return c.Send(controlMessage{Type: TypeSubscribe, Data: topicsData{Topics: topics}})
}

// UnsubscribeTopics forgets topics and tells the server when connected.
func (c *Channel) UnsubscribeTopics(topics ...string) bool {
	c.mu.Lock()
	kept := c.topics[:0]
	for _, t := range c.topics {
		if !containsString(topics, t) {
			kept = append(kept, t)
		}
	}
	c.topics = kept
	c.mu.Unlock()

	return c.Send(controlMessage{Type: TypeUnsubscribe, Data: topicsData{Topics: topics}})
}

// Topics returns the remembered topic subscriptions.
func (c *Channel) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...)
}

func (c *Channel) writeJSON(conn *websocket.Conn, v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (c *Channel) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Channel) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Channel) setStateLocked(s State) bool {
	if c.state == s {
		return false
	}
	c.state = s
	return true
}

func (c *Channel) fireState(s State) {
	for _, fn := range c.stateWatchers.snapshot() {
		c.safely("state watcher", func() { fn(s) })
	}
}

func (c *Channel) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(what+" panicked", "panic", r)
		}
	}()
	fn()
}

func withToken(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("realtime: invalid url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func containsString(list []string, s string) bool {
	for _, have := range list {
		if have == s {
			return true
		}
	}
	return false
}
