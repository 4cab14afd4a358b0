// Package bridge is a WebSocket client for the browser-automation sidecar that
// hosts provider sessions. One WebSocket carries one session: the sidecar pushes
// lifecycle frames and answers commands sent by the client.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Inbound frame types.
const (
	FrameQR            = "qr"
	FrameAuthenticated = "authenticated"
	FrameAuthFailure   = "auth_failure"
	FrameReady         = "ready"
	FrameMessage       = "message"
	FrameMessageAck    = "message_ack"
	FrameDisconnected  = "disconnected"
	FrameState         = "state"
)

// Outbound commands.
const (
	CmdGetState = "getState"
	CmdDestroy  = "destroy"
)

var (
	// ErrSessionClosed is returned by commands issued after Close or after the socket dropped.
	ErrSessionClosed = errors.New("bridge session closed")
	// ErrHandshake is returned when the sidecar refuses the upgrade.
	ErrHandshake = errors.New("bridge handshake rejected")
)

// Config configures the sidecar client.
type Config struct {
	URL              string
	Token            string
	ProxyURL         string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	EventBuffer      int
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 32
	}
	return c
}

// Event is an inbound lifecycle frame.
type Event struct {
	Type       string          `json:"type"`
	Code       string          `json:"code,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"-"`
}

type frame struct {
	Event
	ID    string `json:"id,omitempty"`
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

type command struct {
	ID  string `json:"id,omitempty"`
	Cmd string `json:"cmd"`
}

type stateReply struct {
	state string
	err   string
}

// Client dials sessions on the sidecar.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *log.Helper
}

// NewClient builds a client. A malformed proxy URL is reported here rather than on every dial.
func NewClient(cfg Config, logger log.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("bridge url is required")
	}
	cfg = cfg.withDefaults()
	dialer, err := NewDialer(cfg.ProxyURL, cfg.HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:    cfg,
		dialer: dialer,
		log:    log.NewHelper(log.With(logger, "module", "bridge")),
	}, nil
}

// SessionURL is the WebSocket endpoint for key.
func (c *Client) SessionURL(key string) string {
	return strings.TrimRight(c.cfg.URL, "/") + "/sessions/" + key
}

// Dial opens a session for key. The returned session starts emitting events immediately.
func (c *Client) Dial(ctx context.Context, key string) (*Session, error) {
	id := uuid.NewString()

	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("X-Bridge-Session", id)
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.SessionURL(key), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: status %d", ErrHandshake, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial bridge: %w", err)
	}

	s := &Session{
		id:      id,
		key:     key,
		cfg:     c.cfg,
		conn:    conn,
		log:     c.log,
		events:  make(chan Event, c.cfg.EventBuffer),
		done:    make(chan struct{}),
		pending: make(map[string]chan stateReply),
	}

	conn.SetPingHandler(func(data string) error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	go s.readLoop()
	go s.heartbeatLoop()

	c.log.Debugw("msg", "bridge session opened", "key", key, "session_id", id)
	return s, nil
}

// Session is one sidecar session bound to a WebSocket.
type Session struct {
	id   string
	key  string
	cfg  Config
	conn *websocket.Conn
	log  *log.Helper

	events chan Event
	done   chan struct{}

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan stateReply
	closed  bool
}

// ID is unique per dial.
func (s *Session) ID() string { return s.id }

// Events is closed after the read loop exits.
func (s *Session) Events() <-chan Event { return s.events }

// State asks the sidecar for the provider-side session state.
func (s *Session) State(ctx context.Context) (string, error) {
	reqID := uuid.NewString()
	reply := make(chan stateReply, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	s.pending[reqID] = reply
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, reqID)
		s.mu.Unlock()
	}()

	if err := s.send(command{ID: reqID, Cmd: CmdGetState}); err != nil {
		return "", err
	}

	select {
	case r := <-reply:
		if r.err != "" {
			return r.state, errors.New(r.err)
		}
		return r.state, nil
	case <-s.done:
		return "", ErrSessionClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close asks the sidecar to destroy the session and closes the socket. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.send(command{Cmd: CmdDestroy}); err != nil {
		s.log.Debugw("msg", "destroy command not delivered", "key", s.key, "error", err)
	}

	close(s.done)

	deadline := time.Now().Add(time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	s.writeMu.Unlock()

	return s.conn.Close()
}

func (s *Session) send(cmd command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", cmd.Cmd, err)
	}
	return nil
}

func (s *Session) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			reason := err.Error()
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Text != "" {
				reason = ce.Text
			}
			s.emit(Event{Type: FrameDisconnected, Reason: reason, ReceivedAt: receivedAt})
			s.markClosed()
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Warnw("msg", "dropping malformed bridge frame", "key", s.key, "error", err)
			continue
		}

		if f.Type == FrameState {
			s.deliverState(f)
			continue
		}

		f.Event.ReceivedAt = receivedAt
		if !s.emit(f.Event) {
			return
		}
		if f.Type == FrameDisconnected {
			s.markClosed()
			return
		}
	}
}

func (s *Session) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) deliverState(f frame) {
	s.mu.Lock()
	reply, ok := s.pending[f.ID]
	s.mu.Unlock()
	if !ok {
		s.log.Debugw("msg", "unsolicited state frame", "key", s.key, "request_id", f.ID)
		return
	}
	select {
	case reply <- stateReply{state: f.State, err: f.Error}:
	default:
	}
}

// markClosed fails future commands once the sidecar side is gone.
func (s *Session) markClosed() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()
	_ = s.conn.Close()
}

func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(s.cfg.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				s.log.Debugw("msg", "failed to send ping", "key", s.key, "error", err)
			}
		}
	}
}
