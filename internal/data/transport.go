package data

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"ConnGuard/internal/conf"
	"ConnGuard/internal/model"
	"ConnGuard/pkg/bridge"
	pkglog "ConnGuard/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// BridgeTransport creates provider sessions on the browser-automation sidecar.
type BridgeTransport struct {
	client *bridge.Client
	buffer int
	logger *pkglog.LogHelper
}

// NewBridgeTransport creates the sidecar-backed session transport.
func NewBridgeTransport(c *conf.Transport, logger log.Logger) (*BridgeTransport, error) {
	if c == nil || c.Bridge == nil {
		return nil, errors.New("transport.bridge configuration is required")
	}
	b := c.Bridge
	client, err := bridge.NewClient(bridge.Config{
		URL:              b.URL,
		Token:            b.Token,
		ProxyURL:         b.ProxyURL,
		HandshakeTimeout: b.HandshakeTimeout,
		WriteTimeout:     b.WriteTimeout,
		PingInterval:     b.PingInterval,
		EventBuffer:      b.EventBuffer,
	}, logger)
	if err != nil {
		return nil, err
	}
	buffer := b.EventBuffer
	if buffer <= 0 {
		buffer = 32
	}
	return &BridgeTransport{
		client: client,
		buffer: buffer,
		logger: pkglog.NewLogHelper(logger),
	}, nil
}

// CreateSession dials a sidecar session for id.
func (t *BridgeTransport) CreateSession(ctx context.Context, id model.ConnectionID) (model.Session, error) {
	key := strconv.FormatInt(int64(id), 10)
	s, err := t.client.Dial(ctx, key)
	if err != nil {
		t.logger.Transport("bridge dial failed", "connection_id", id, "error", err)
		return nil, err
	}

	bs := &bridgeSession{
		conn:   s,
		id:     id,
		events: make(chan model.SessionEvent, t.buffer),
		done:   make(chan struct{}),
		logger: t.logger,
	}
	go bs.pump()

	t.logger.Transport("bridge session dialed", "connection_id", id, "session_id", s.ID())
	return bs, nil
}

// bridgeSession adapts a bridge.Session to model.Session.
type bridgeSession struct {
	conn   *bridge.Session
	id     model.ConnectionID
	events chan model.SessionEvent
	done   chan struct{}
	once   sync.Once
	logger *pkglog.LogHelper
}

func (s *bridgeSession) ID() string { return s.conn.ID() }

func (s *bridgeSession) Events() <-chan model.SessionEvent { return s.events }

func (s *bridgeSession) Probe(ctx context.Context) (string, error) {
	return s.conn.State(ctx)
}

func (s *bridgeSession) Teardown(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close(ctx)
	})
	return err
}

func (s *bridgeSession) pump() {
	defer close(s.events)

	for ev := range s.conn.Events() {
		converted, ok := toSessionEvent(ev)
		if !ok {
			s.logger.Debugw("msg", "ignoring unknown bridge frame", "connection_id", s.id, "type", ev.Type)
			continue
		}
		select {
		case s.events <- converted:
		case <-s.done:
			return
		}
	}
}

func toSessionEvent(ev bridge.Event) (model.SessionEvent, bool) {
	out := model.SessionEvent{
		Code:    ev.Code,
		Reason:  ev.Reason,
		Payload: ev.Payload,
		At:      ev.ReceivedAt,
	}
	switch ev.Type {
	case bridge.FrameQR:
		out.Kind = model.EventCodeIssued
	case bridge.FrameAuthenticated:
		out.Kind = model.EventAuthenticated
	case bridge.FrameAuthFailure:
		out.Kind = model.EventAuthFailed
	case bridge.FrameReady:
		out.Kind = model.EventReady
	case bridge.FrameMessage:
		out.Kind = model.EventMessage
	case bridge.FrameMessageAck:
		out.Kind = model.EventMessageAck
	case bridge.FrameDisconnected:
		out.Kind = model.EventDisconnected
	default:
		return model.SessionEvent{}, false
	}
	return out, true
}
