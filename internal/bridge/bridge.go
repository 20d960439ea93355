// Package bridge connects the native host process to the hotkey pipeline
// over a WebSocket.
//
// Messages are JSON objects. The host sends events and acknowledges
// invokes; the bridge sends invokes:
//
//	host → bridge  {"type":"event","event":"correct-clipboard-text","payload":"text"}
//	bridge → host  {"type":"invoke","id":"<uuid>","command":"handle_corrected_text","args":{...}}
//	host → bridge  {"type":"result","id":"<uuid>","error":""}
//
// At most one host is connected at a time; a new connection replaces the
// old one. [Bridge] implements [hotkey.Host].
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/MrWong99/correctify/internal/hotkey"
	"github.com/MrWong99/correctify/internal/observe"
)

// ErrHostDisconnected is returned by every invoke while no host is
// connected, and to invokes still waiting when the host goes away.
var ErrHostDisconnected = errors.New("bridge: native host not connected")

// ErrClosed is returned after [Bridge.Close].
var ErrClosed = errors.New("bridge: closed")

// Invoke command names understood by the host.
const (
	CmdSetSoundEnabled     = "set_sound_enabled"
	CmdSetAutoPasteEnabled = "set_auto_paste_enabled"
	CmdUpdateShortcut      = "update_shortcut"
	CmdHandleCorrectedText = "handle_corrected_text"
	CmdPlaySoundInApp      = "play_sound_in_app"
	CmdSendNotification    = "send_notification"
)

const (
	typeEvent  = "event"
	typeInvoke = "invoke"
	typeResult = "result"

	defaultAckTimeout = 5 * time.Second
	captureBuffer     = 16
)

// message is the single wire envelope for both directions.
type message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Command string          `json:"command,omitempty"`
	Args    any             `json:"args,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Bridge is an [http.Handler] that accepts the host connection and a
// [hotkey.Host] that talks to it. Safe for concurrent use.
type Bridge struct {
	ackTimeout     time.Duration
	originPatterns []string
	metrics        *observe.Metrics
	onConnect      func(ctx context.Context)

	captures chan string
	done     chan struct{}

	mu        sync.Mutex
	conn      *websocket.Conn
	pending   map[string]chan error
	closed    bool
	closeOnce sync.Once
}

var _ hotkey.Host = (*Bridge)(nil)

// Option configures a [Bridge].
type Option func(*Bridge)

// WithAckTimeout bounds how long an invoke waits for the host's result.
// Default: 5s.
func WithAckTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.ackTimeout = d
		}
	}
}

// WithOriginPatterns allows cross-origin host connections from the given
// host patterns (see [websocket.AcceptOptions]).
func WithOriginPatterns(patterns ...string) Option {
	return func(b *Bridge) {
		b.originPatterns = append(b.originPatterns, patterns...)
	}
}

// WithOnConnect registers fn to run in its own goroutine each time a host
// attaches. ctx ends when that host disconnects.
func WithOnConnect(fn func(ctx context.Context)) Option {
	return func(b *Bridge) {
		b.onConnect = fn
	}
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// New creates a Bridge with no host connected.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		ackTimeout: defaultAckTimeout,
		captures:   make(chan string, captureBuffer),
		done:       make(chan struct{}),
		pending:    make(map[string]chan error),
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// ServeHTTP upgrades the request and serves the host until it disconnects.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: b.originPatterns,
	})
	if err != nil {
		slog.Warn("bridge: accept failed", "err", err)
		return
	}

	if err := b.attach(conn); err != nil {
		conn.Close(websocket.StatusGoingAway, "bridge closed")
		return
	}
	slog.Info("bridge: native host connected", "remote", r.RemoteAddr)
	if b.onConnect != nil {
		go b.onConnect(r.Context())
	}

	err = b.readLoop(r.Context(), conn)
	b.detach(conn)
	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
		slog.Warn("bridge: native host connection lost", "err", err)
	} else {
		slog.Info("bridge: native host disconnected")
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (b *Bridge) attach(conn *websocket.Conn) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	old := b.conn
	b.conn = conn
	b.mu.Unlock()

	if old != nil {
		slog.Info("bridge: replacing previous host connection")
		old.Close(websocket.StatusNormalClosure, "replaced by new host connection")
	} else {
		b.metrics.BridgeConnected.Add(context.Background(), 1)
	}
	return nil
}

// detach forgets conn if it is still current and fails its waiting invokes.
func (b *Bridge) detach(conn *websocket.Conn) {
	b.mu.Lock()
	if b.conn != conn {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	pending := b.pending
	b.pending = make(map[string]chan error)
	b.mu.Unlock()

	b.metrics.BridgeConnected.Add(context.Background(), -1)
	for _, ch := range pending {
		ch <- ErrHostDisconnected
	}
}

func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var m message
		if err := wsjson.Read(ctx, conn, &m); err != nil {
			return err
		}
		switch m.Type {
		case typeEvent:
			b.handleEvent(ctx, m)
		case typeResult:
			b.resolve(m)
		default:
			slog.Debug("bridge: ignoring message", "type", m.Type)
		}
	}
}

func (b *Bridge) handleEvent(ctx context.Context, m message) {
	if m.Event != hotkey.EventCorrectClipboardText {
		slog.Debug("bridge: ignoring event", "event", m.Event)
		return
	}
	var text string
	if err := json.Unmarshal(m.Payload, &text); err != nil {
		slog.Warn("bridge: malformed capture payload", "err", err)
		return
	}
	select {
	case b.captures <- text:
	case <-ctx.Done():
	case <-b.done:
	}
}

func (b *Bridge) resolve(m message) {
	b.mu.Lock()
	ch, ok := b.pending[m.ID]
	delete(b.pending, m.ID)
	b.mu.Unlock()
	if !ok {
		return
	}
	if m.Error != "" {
		ch <- fmt.Errorf("bridge: host error: %s", m.Error)
		return
	}
	ch <- nil
}

// Connected reports whether a host is currently attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Captures implements [hotkey.Host]. Captures arriving while no subscriber
// reads are buffered up to a small bound; the read loop then blocks.
func (b *Bridge) Captures(ctx context.Context) (<-chan string, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case text := <-b.captures:
				select {
				case out <- text:
				case <-ctx.Done():
					return
				case <-b.done:
					return
				}
			}
		}
	}()
	return out, nil
}

// invoke sends one command and waits for the host's result.
func (b *Bridge) invoke(ctx context.Context, command string, args any) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return ErrHostDisconnected
	}
	id := uuid.NewString()
	ch := make(chan error, 1)
	b.pending[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, b.ackTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, conn, message{Type: typeInvoke, ID: id, Command: command, Args: args}); err != nil {
		return fmt.Errorf("bridge: invoke %s: %w", command, err)
	}
	select {
	case err := <-ch:
		if err != nil {
			return fmt.Errorf("bridge: invoke %s: %w", command, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bridge: invoke %s: %w", command, ctx.Err())
	}
}

// SetSoundEnabled implements [hotkey.Host].
func (b *Bridge) SetSoundEnabled(ctx context.Context, enabled bool) error {
	return b.invoke(ctx, CmdSetSoundEnabled, map[string]any{"enabled": enabled})
}

// SetAutoPasteEnabled implements [hotkey.Host].
func (b *Bridge) SetAutoPasteEnabled(ctx context.Context, enabled bool) error {
	return b.invoke(ctx, CmdSetAutoPasteEnabled, map[string]any{"enabled": enabled})
}

// UpdateShortcut implements [hotkey.Host].
func (b *Bridge) UpdateShortcut(ctx context.Context, key, modifier string) error {
	return b.invoke(ctx, CmdUpdateShortcut, map[string]any{"newKey": key, "newModifier": modifier})
}

// HandleCorrectedText implements [hotkey.Host].
func (b *Bridge) HandleCorrectedText(ctx context.Context, d hotkey.Delivery) error {
	return b.invoke(ctx, CmdHandleCorrectedText, d)
}

// PlaySoundInApp implements [hotkey.Host].
func (b *Bridge) PlaySoundInApp(ctx context.Context, s hotkey.Sound) error {
	return b.invoke(ctx, CmdPlaySoundInApp, map[string]any{"soundType": s})
}

// Notify implements [hotkey.Host].
func (b *Bridge) Notify(ctx context.Context, title, body string) error {
	return b.invoke(ctx, CmdSendNotification, map[string]any{"title": title, "body": body})
}

// Close disconnects the host, fails waiting invokes and ends every
// [Bridge.Captures] channel. Idempotent.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		conn := b.conn
		b.mu.Unlock()

		close(b.done)
		if conn != nil {
			conn.Close(websocket.StatusGoingAway, "bridge closed")
		}
	})
	return nil
}
