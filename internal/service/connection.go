package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"ConnGuard/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
)

// DefaultOpenWait is how long open and restart wait for a session to become ready
// before replying with a pending result.
const DefaultOpenWait = 3 * time.Second

// ConnectionView is the API view of a live connection.
type ConnectionView struct {
	ID          biz.ConnectionID     `json:"id"`
	SessionID   string               `json:"sessionId"`
	Status      biz.ConnectionStatus `json:"status"`
	ConnectedAt time.Time            `json:"connectedAt"`
}

// ListConnectionsReply lists live connections.
type ListConnectionsReply struct {
	Connections []ConnectionView `json:"connections"`
	Total       int              `json:"total"`
}

// OpenConnectionRequest asks for a connection to be opened or restarted.
type OpenConnectionRequest struct {
	ID   biz.ConnectionID
	Wait time.Duration
}

// OpenConnectionReply carries the live connection, or Pending when the session is
// still initializing (for example waiting for the pairing code to be scanned).
type OpenConnectionReply struct {
	Connection *ConnectionView         `json:"connection,omitempty"`
	Pending    bool                    `json:"pending"`
	Snapshot   *biz.ConnectionSnapshot `json:"snapshot,omitempty"`
}

// ReconnectReply reports a forced reconnect.
type ReconnectReply struct {
	Scheduled bool `json:"scheduled"`
}

// RemoveConnectionReply reports a removal.
type RemoveConnectionReply struct {
	Removed bool `json:"removed"`
}

// HealthReply is the liveness report of the process.
type HealthReply struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Redis       string `json:"redis"`
	Connections int    `json:"connections"`
}

// DependencyChecker reports the reachability of the data layer.
type DependencyChecker interface {
	Ping(ctx context.Context) error
	PingRedis(ctx context.Context) (configured bool, err error)
}

// ConnectionService exposes registry administration over HTTP.
type ConnectionService struct {
	registry *biz.ConnectionRegistry
	deps     DependencyChecker
	logger   *log.Helper
}

// NewConnectionService creates a new ConnectionService instance.
func NewConnectionService(registry *biz.ConnectionRegistry, deps DependencyChecker, logger log.Logger) *ConnectionService {
	return &ConnectionService{
		registry: registry,
		deps:     deps,
		logger:   log.NewHelper(logger),
	}
}

func toView(lc *biz.LiveConnection) *ConnectionView {
	return &ConnectionView{
		ID:          lc.ID,
		SessionID:   lc.SessionID,
		Status:      lc.Status,
		ConnectedAt: lc.ConnectedAt,
	}
}

// ListConnections returns the live connections of this process.
func (s *ConnectionService) ListConnections(ctx context.Context) (*ListConnectionsReply, error) {
	live := s.registry.List()
	reply := &ListConnectionsReply{
		Connections: make([]ConnectionView, 0, len(live)),
		Total:       len(live),
	}
	for _, lc := range live {
		reply.Connections = append(reply.Connections, *toView(lc))
	}
	return reply, nil
}

// GetConnection returns everything known about one connection.
func (s *ConnectionService) GetConnection(ctx context.Context, id biz.ConnectionID) (*biz.ConnectionSnapshot, error) {
	snap := s.registry.Snapshot(ctx, id)
	if !snap.Live && !snap.Pending && snap.Persisted == nil {
		return nil, biz.ErrConnectionNotFound.WithMetadata(map[string]string{
			"connection_id": strconv.FormatInt(int64(id), 10),
		})
	}
	return &snap, nil
}

// OpenConnection opens id, waiting up to req.Wait for it to become ready.
func (s *ConnectionService) OpenConnection(ctx context.Context, req *OpenConnectionRequest) (*OpenConnectionReply, error) {
	s.logger.Infow("msg", "OpenConnection called", "connection_id", req.ID)
	return s.await(ctx, req, s.registry.Open)
}

// RestartConnection tears id down and opens it again.
func (s *ConnectionService) RestartConnection(ctx context.Context, req *OpenConnectionRequest) (*OpenConnectionReply, error) {
	s.logger.Infow("msg", "RestartConnection called", "connection_id", req.ID)
	return s.await(ctx, req, s.registry.Restart)
}

func (s *ConnectionService) await(ctx context.Context, req *OpenConnectionRequest,
	fn func(context.Context, biz.ConnectionID) (*biz.LiveConnection, error)) (*OpenConnectionReply, error) {
	wait := req.Wait
	if wait <= 0 {
		wait = DefaultOpenWait
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	lc, err := fn(waitCtx, req.ID)
	switch {
	case err == nil:
		return &OpenConnectionReply{Connection: toView(lc)}, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		// the attempt keeps running in the registry
		snap := s.registry.Snapshot(ctx, req.ID)
		return &OpenConnectionReply{Pending: true, Snapshot: &snap}, nil
	default:
		s.logger.Warnw("msg", "open connection failed", "connection_id", req.ID, "error", err)
		return nil, err
	}
}

// ForceReconnect resets backoff and breaker for id and reconnects immediately.
func (s *ConnectionService) ForceReconnect(ctx context.Context, id biz.ConnectionID) (*ReconnectReply, error) {
	s.logger.Infow("msg", "ForceReconnect called", "connection_id", id)
	if !s.registry.ForceReconnect(ctx, id) {
		return nil, biz.ErrReconnectInProgress
	}
	return &ReconnectReply{Scheduled: true}, nil
}

// ResetBreaker closes the circuit breaker of id.
func (s *ConnectionService) ResetBreaker(ctx context.Context, id biz.ConnectionID) (*biz.BreakerStatus, error) {
	s.logger.Infow("msg", "ResetBreaker called", "connection_id", id)
	st := s.registry.ResetBreaker(id)
	return &st, nil
}

// RemoveConnection tears id down and forgets its in-memory state.
func (s *ConnectionService) RemoveConnection(ctx context.Context, id biz.ConnectionID) (*RemoveConnectionReply, error) {
	s.logger.Infow("msg", "RemoveConnection called", "connection_id", id)
	s.registry.Remove(ctx, id)
	return &RemoveConnectionReply{Removed: true}, nil
}

// Health reports database and Redis reachability.
func (s *ConnectionService) Health(ctx context.Context) (*HealthReply, error) {
	reply := &HealthReply{
		Status:      "ok",
		Database:    "ok",
		Redis:       "disabled",
		Connections: len(s.registry.List()),
	}
	if err := s.deps.Ping(ctx); err != nil {
		s.logger.Errorw("msg", "database health check failed", "error", err)
		return nil, ErrDependencyUnavailable.WithCause(err)
	}
	configured, err := s.deps.PingRedis(ctx)
	switch {
	case !configured:
	case err != nil:
		reply.Redis = "unavailable"
		reply.Status = "degraded"
	default:
		reply.Redis = "ok"
	}
	return reply, nil
}
