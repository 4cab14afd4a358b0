package biz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ConnGuard/internal/model"
	pkglog "ConnGuard/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// disconnect reason after which no reconnect is attempted
const reasonLogout = "LOGOUT"

// persistence and teardown calls made from background goroutines
const sideEffectTimeout = 5 * time.Second

// RegistryConfig configures the ConnectionRegistry.
type RegistryConfig struct {
	InitTimeout  time.Duration
	RestartDelay time.Duration
}

// DefaultRegistryConfig returns the default registry settings.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		InitTimeout:  90 * time.Second,
		RestartDelay: 2 * time.Second,
	}
}

// LiveConnection is a connection whose session reached ready.
type LiveConnection struct {
	ID          ConnectionID
	SessionID   string
	Session     Session
	Breaker     *CircuitBreaker
	Status      ConnectionStatus
	ConnectedAt time.Time

	handle *sessionHandle
}

// ConnectionSnapshot aggregates everything known about one connection.
type ConnectionSnapshot struct {
	ID          ConnectionID        `json:"id"`
	Live        bool                `json:"live"`
	Pending     bool                `json:"pending"`
	SessionID   string              `json:"sessionId,omitempty"`
	ConnectedAt *time.Time          `json:"connectedAt,omitempty"`
	Breaker     BreakerStatus       `json:"breaker"`
	Reconnect   ReconnectState      `json:"reconnect"`
	Health      HealthStatus        `json:"health"`
	Persisted   *model.StatusRecord `json:"persisted,omitempty"`
}

// openAttempt is an in-flight open. Concurrent callers for the same ID join it.
type openAttempt struct {
	id ConnectionID
	// breaker outcomes are recorded by the ReconnectScheduler for scheduled attempts
	scheduled bool
	cancelled bool
	handle    *sessionHandle

	once sync.Once
	done chan struct{}
	conn *LiveConnection
	err  error
}

func newOpenAttempt(id ConnectionID, scheduled bool) *openAttempt {
	return &openAttempt{id: id, scheduled: scheduled, done: make(chan struct{})}
}

func (a *openAttempt) resolve(conn *LiveConnection, err error) {
	a.once.Do(func() {
		a.conn = conn
		a.err = err
		close(a.done)
	})
}

// sessionHandle tracks one transport session. Events of a retired handle are ignored.
type sessionHandle struct {
	id      ConnectionID
	session Session
	attempt *openAttempt
	retired bool
}

// ConnectionRegistry owns the live connections of this process and wires their
// lifecycle events to the breaker, health monitor and reconnect scheduler.
type ConnectionRegistry struct {
	cfg       RegistryConfig
	transport Transport
	repo      StatusRepo
	notifier  Notifier
	breakers  *BreakerSet
	monitor   *HealthMonitor
	scheduler *ReconnectScheduler
	log       *pkglog.LogHelper

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	live    map[ConnectionID]*LiveConnection
	pending map[ConnectionID]*openAttempt
}

// NewConnectionRegistry creates a registry and subscribes it to breaker,
// health and reconnect events.
func NewConnectionRegistry(
	cfg RegistryConfig,
	transport Transport,
	repo StatusRepo,
	notifier Notifier,
	breakers *BreakerSet,
	monitor *HealthMonitor,
	scheduler *ReconnectScheduler,
	logger log.Logger,
) *ConnectionRegistry {
	def := DefaultRegistryConfig()
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = def.InitTimeout
	}
	if cfg.RestartDelay < 0 {
		cfg.RestartDelay = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &ConnectionRegistry{
		cfg:       cfg,
		transport: transport,
		repo:      repo,
		notifier:  notifier,
		breakers:  breakers,
		monitor:   monitor,
		scheduler: scheduler,
		log:       pkglog.NewLogHelper(logger),
		baseCtx:   ctx,
		cancel:    cancel,
		live:      make(map[ConnectionID]*LiveConnection),
		pending:   make(map[ConnectionID]*openAttempt),
	}

	breakers.OnStateChange(r.onBreakerChange)
	monitor.OnTransition(r.onHealthTransition)
	scheduler.OnStatus(r.onReconnectStatus)
	return r
}

// Open returns the live connection for id, joining an in-flight open or starting
// a new one. It fails fast with ErrCircuitOpen when the breaker rejects attempts.
func (r *ConnectionRegistry) Open(ctx context.Context, id ConnectionID) (*LiveConnection, error) {
	return r.open(ctx, id, false)
}

func (r *ConnectionRegistry) open(ctx context.Context, id ConnectionID, scheduled bool) (*LiveConnection, error) {
	r.mu.Lock()
	if lc, ok := r.live[id]; ok {
		r.mu.Unlock()
		return lc, nil
	}
	if a, ok := r.pending[id]; ok {
		r.mu.Unlock()
		r.log.Connection("joining in-flight open", "connection_id", id)
		return r.wait(ctx, a)
	}

	// 先占位再问熔断器：CanAttempt 可能触发状态变更通知，不能持锁调用
	a := newOpenAttempt(id, scheduled)
	r.pending[id] = a
	r.mu.Unlock()

	cb := r.breakers.Get(id)
	if !cb.CanAttempt() {
		retryIn := cb.Status().TimeUntilRecovery
		err := newCircuitOpenError(id, retryIn)
		r.mu.Lock()
		if r.pending[id] == a {
			delete(r.pending, id)
		}
		r.mu.Unlock()
		a.resolve(nil, err)
		r.log.Breaker("open rejected by circuit breaker", "connection_id", id, "retry_in", retryIn)
		return nil, err
	}

	go r.runOpen(a)
	return r.wait(ctx, a)
}

func (r *ConnectionRegistry) wait(ctx context.Context, a *openAttempt) (*LiveConnection, error) {
	select {
	case <-a.done:
		return a.conn, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runOpen creates the transport session for a and hands it to a dispatch loop.
func (r *ConnectionRegistry) runOpen(a *openAttempt) {
	id := a.id
	deadline := time.Now().Add(r.cfg.InitTimeout)

	r.mu.Lock()
	cancelled := a.cancelled
	r.mu.Unlock()
	if cancelled {
		return
	}

	r.log.Connection("opening connection", "connection_id", id, "scheduled", a.scheduled)
	r.persist(id, model.StatusUpdate{Status: model.StatusInitializing})
	r.notifyStatus(id, model.StatusInitializing, nil)

	ctx, cancel := context.WithDeadline(r.baseCtx, deadline)
	session, err := r.transport.CreateSession(ctx, id)
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		r.mu.Lock()
		cancelled = a.cancelled
		if r.pending[id] == a {
			delete(r.pending, id)
		}
		r.mu.Unlock()
		if cancelled {
			a.resolve(nil, ErrConnectionRemoved)
			return
		}

		openErr := newTransportError(id, err)
		if timedOut {
			openErr = newInitializationTimeoutError(id, r.cfg.InitTimeout)
		}
		r.recordOpenFailure(a, openErr)
		r.log.Transport("session creation failed", "connection_id", id, "error", err)
		a.resolve(nil, openErr)
		return
	}

	h := &sessionHandle{id: id, session: session, attempt: a}

	// 创建期间连接可能已被移除
	r.mu.Lock()
	cancelled = a.cancelled
	if !cancelled {
		a.handle = h
	}
	r.mu.Unlock()
	if cancelled {
		r.teardown(h)
		a.resolve(nil, ErrConnectionRemoved)
		return
	}

	go r.dispatch(h, time.Until(deadline))
}

// dispatch consumes the events of one session in order.
func (r *ConnectionRegistry) dispatch(h *sessionHandle, initTimeout time.Duration) {
	if initTimeout <= 0 {
		initTimeout = time.Millisecond
	}
	timer := time.NewTimer(initTimeout)
	defer timer.Stop()
	initC := timer.C

	events := h.session.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				r.handleDisconnected(h, "transport closed")
				return
			}
			if ev.Kind == model.EventReady {
				// 就绪后取消初始化超时
				timer.Stop()
				initC = nil
			}
			if !r.handleEvent(h, ev) {
				return
			}
		case <-initC:
			r.failSession(h, newInitializationTimeoutError(h.id, r.cfg.InitTimeout))
			return
		}
	}
}

// handleEvent applies ev and reports whether the dispatch loop should continue.
func (r *ConnectionRegistry) handleEvent(h *sessionHandle, ev SessionEvent) bool {
	if !r.isCurrent(h) {
		return false
	}
	id := h.id

	switch ev.Kind {
	case model.EventCodeIssued:
		r.scheduler.CancelReconnect(id)
		code := ev.Code
		r.log.Connection("pairing code issued", "connection_id", id)
		r.persist(id, model.StatusUpdate{Status: model.StatusAwaitingCode, Code: &code})
		r.notifyStatus(id, model.StatusAwaitingCode, map[string]any{"code": code})
	case model.EventAuthenticated:
		empty := ""
		r.log.Connection("session authenticated", "connection_id", id)
		r.persist(id, model.StatusUpdate{Status: model.StatusAuthenticating, Code: &empty})
		r.notifyStatus(id, model.StatusAuthenticating, nil)
	case model.EventAuthFailed:
		r.failSession(h, newAuthenticationError(id, ev.Reason))
		return false
	case model.EventReady:
		r.handleReady(h)
	case model.EventMessage, model.EventMessageAck:
		r.notify(id, model.ActionMessage, map[string]any{
			"kind":    ev.Kind.String(),
			"payload": ev.Payload,
		})
	case model.EventDisconnected:
		r.handleDisconnected(h, ev.Reason)
		return false
	default:
		r.log.Warnw("msg", "unknown session event", "connection_id", id, "kind", int(ev.Kind))
	}
	return true
}

func (r *ConnectionRegistry) handleReady(h *sessionHandle) {
	id := h.id
	cb := r.breakers.Get(id)
	lc := &LiveConnection{
		ID:          id,
		SessionID:   h.session.ID(),
		Session:     h.session,
		Breaker:     cb,
		Status:      model.StatusConnected,
		ConnectedAt: time.Now(),
		handle:      h,
	}

	r.mu.Lock()
	if h.retired {
		r.mu.Unlock()
		return
	}
	a := h.attempt
	h.attempt = nil
	var replaced *sessionHandle
	if old, ok := r.live[id]; ok && old.handle != h {
		old.handle.retired = true
		replaced = old.handle
	}
	r.live[id] = lc
	if a != nil && r.pending[id] == a {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if replaced != nil {
		r.teardown(replaced)
	}
	if a == nil || !a.scheduled {
		cb.RecordSuccess()
	}
	r.scheduler.ClearBackoff(id)
	r.monitor.StartMonitoring(id, h.session.Probe, r.onUnhealthy)

	retries := 0
	empty := ""
	r.persist(id, model.StatusUpdate{Status: model.StatusConnected, Retries: &retries, LastError: &empty, Code: &empty})
	r.notifyStatus(id, model.StatusConnected, map[string]any{"sessionId": lc.SessionID})
	r.log.Success("connection ready", "connection_id", id, "session_id", lc.SessionID)

	if a != nil {
		a.resolve(lc, nil)
	}
}

func (r *ConnectionRegistry) handleDisconnected(h *sessionHandle, reason string) {
	id := h.id

	r.mu.Lock()
	if h.retired {
		r.mu.Unlock()
		return
	}
	h.retired = true
	a := h.attempt
	h.attempt = nil
	wasLive := false
	if lc, ok := r.live[id]; ok && lc.handle == h {
		delete(r.live, id)
		wasLive = true
	}
	if a != nil && r.pending[id] == a {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if wasLive {
		r.monitor.StopMonitoring(id)
	}
	r.teardown(h)

	if a != nil {
		err := newTransportError(id, fmt.Errorf("disconnected before ready: %s", reason))
		r.recordOpenFailure(a, err)
		a.resolve(nil, err)
		return
	}
	if !wasLive {
		return
	}

	r.breakers.Get(id).RecordFailure(fmt.Errorf("disconnected: %s", reason))
	r.log.Connection("connection lost", "connection_id", id, "reason", reason)
	lastErr := reason
	r.persist(id, model.StatusUpdate{Status: model.StatusDisconnected, LastError: &lastErr})
	r.notifyStatus(id, model.StatusDisconnected, map[string]any{"reason": reason})

	if strings.EqualFold(reason, reasonLogout) {
		r.log.Connection("session logged out, not reconnecting", "connection_id", id)
		return
	}
	r.scheduler.ScheduleReconnect(id, r.reconnectAction(id), reason)
}

// failSession ends h after an authentication failure or initialization timeout.
func (r *ConnectionRegistry) failSession(h *sessionHandle, err error) {
	id := h.id

	r.mu.Lock()
	if h.retired {
		r.mu.Unlock()
		return
	}
	h.retired = true
	a := h.attempt
	h.attempt = nil
	wasLive := false
	if lc, ok := r.live[id]; ok && lc.handle == h {
		delete(r.live, id)
		wasLive = true
	}
	if a != nil && r.pending[id] == a {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if wasLive {
		r.monitor.StopMonitoring(id)
	}
	r.teardown(h)

	if a != nil {
		r.recordOpenFailure(a, err)
		a.resolve(nil, err)
	} else {
		r.breakers.Get(id).RecordFailure(err)
		msg := err.Error()
		r.persist(id, model.StatusUpdate{Status: model.StatusFailed, LastError: &msg})
		r.notifyStatus(id, model.StatusFailed, map[string]any{"error": msg})
	}
}

// recordOpenFailure records a failed open on the breaker (unless the scheduler
// owns the outcome) and persists FAILED.
func (r *ConnectionRegistry) recordOpenFailure(a *openAttempt, err error) {
	if !a.scheduled {
		r.breakers.Get(a.id).RecordFailure(err)
	}
	msg := err.Error()
	r.log.Connection("open failed", "connection_id", a.id, "error", msg)
	r.persist(a.id, model.StatusUpdate{Status: model.StatusFailed, LastError: &msg})
	r.notifyStatus(a.id, model.StatusFailed, map[string]any{"error": msg})
}

// reconnectAction tears down any current session of id and opens a new one.
// Breaker bookkeeping for the attempt is left to the scheduler.
func (r *ConnectionRegistry) reconnectAction(id ConnectionID) ReconnectAction {
	return func(ctx context.Context) error {
		r.retireLive(id)
		_, err := r.open(ctx, id, true)
		return err
	}
}

func (r *ConnectionRegistry) retireLive(id ConnectionID) {
	r.mu.Lock()
	lc, ok := r.live[id]
	if ok {
		lc.handle.retired = true
		delete(r.live, id)
	}
	r.mu.Unlock()

	if ok {
		r.monitor.StopMonitoring(id)
		r.teardown(lc.handle)
	}
}

func (r *ConnectionRegistry) onUnhealthy(id ConnectionID, result HealthCheckResult) {
	reason := "health check failed"
	if result.Error != "" {
		reason = fmt.Sprintf("health check failed: %s", result.Error)
	}
	r.scheduler.ScheduleReconnect(id, r.reconnectAction(id), reason)
}

// Get returns the live connection for id.
func (r *ConnectionRegistry) Get(id ConnectionID) (*LiveConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lc, ok := r.live[id]; ok {
		return lc, nil
	}
	if _, ok := r.pending[id]; ok {
		return nil, ErrConnectionPending
	}
	return nil, newNotFoundError(id)
}

// List returns the live connections ordered by ID.
func (r *ConnectionRegistry) List() []*LiveConnection {
	r.mu.Lock()
	out := make([]*LiveConnection, 0, len(r.live))
	for _, lc := range r.live {
		out = append(out, lc)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Remove tears down id completely: monitor, pending reconnects, breaker, session
// and registry entry. It is idempotent and never fails.
func (r *ConnectionRegistry) Remove(ctx context.Context, id ConnectionID) {
	handles, a := r.detach(id)

	r.discardState(id)
	for _, h := range handles {
		r.teardown(h)
	}
	if a != nil {
		a.resolve(nil, ErrConnectionRemoved)
	}

	r.log.Connection("connection removed", "connection_id", id)
	r.persistCtx(ctx, id, model.StatusUpdate{Status: model.StatusDisconnected})
	r.notifyStatus(id, model.StatusDisconnected, map[string]any{"reason": "removed"})
}

// detach removes id from both maps and retires its sessions.
func (r *ConnectionRegistry) detach(id ConnectionID) ([]*sessionHandle, *openAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var handles []*sessionHandle
	if lc, ok := r.live[id]; ok {
		lc.handle.retired = true
		handles = append(handles, lc.handle)
		delete(r.live, id)
	}
	a, ok := r.pending[id]
	if ok {
		a.cancelled = true
		if a.handle != nil && !a.handle.retired {
			a.handle.retired = true
			handles = append(handles, a.handle)
		}
		delete(r.pending, id)
	}
	return handles, a
}

func (r *ConnectionRegistry) discardState(id ConnectionID) {
	r.monitor.StopMonitoring(id)
	r.scheduler.Forget(id)
	r.breakers.Remove(id)
	r.monitor.ClearHistory(id)
}

// Restart removes id and opens it again after the restart delay. The in-flight
// slot is reserved first, so concurrent Open calls join the restart and Get
// reports ErrConnectionPending instead of not-found.
func (r *ConnectionRegistry) Restart(ctx context.Context, id ConnectionID) (*LiveConnection, error) {
	r.mu.Lock()
	if a, ok := r.pending[id]; ok {
		r.mu.Unlock()
		return r.wait(ctx, a)
	}
	a := newOpenAttempt(id, false)
	var old *sessionHandle
	if lc, ok := r.live[id]; ok {
		lc.handle.retired = true
		old = lc.handle
		delete(r.live, id)
	}
	r.pending[id] = a
	r.mu.Unlock()

	r.log.Connection("restarting connection", "connection_id", id, "delay", r.cfg.RestartDelay)
	r.discardState(id)
	if old != nil {
		r.teardown(old)
	}

	go func() {
		select {
		case <-time.After(r.cfg.RestartDelay):
		case <-r.baseCtx.Done():
			r.mu.Lock()
			if r.pending[id] == a {
				delete(r.pending, id)
			}
			r.mu.Unlock()
			a.resolve(nil, ErrConnectionRemoved)
			return
		}
		r.runOpen(a)
	}()

	return r.wait(ctx, a)
}

// ForceReconnect resets backoff and breaker for id and reconnects immediately.
func (r *ConnectionRegistry) ForceReconnect(ctx context.Context, id ConnectionID) bool {
	return r.scheduler.ForceReconnect(ctx, id, r.reconnectAction(id))
}

// ResetBreaker closes the breaker of id.
func (r *ConnectionRegistry) ResetBreaker(id ConnectionID) BreakerStatus {
	cb := r.breakers.Get(id)
	cb.Reset()
	return cb.Status()
}

// Snapshot reports live, breaker, reconnect, health and persisted state for id.
func (r *ConnectionRegistry) Snapshot(ctx context.Context, id ConnectionID) ConnectionSnapshot {
	snap := ConnectionSnapshot{ID: id}

	r.mu.Lock()
	if lc, ok := r.live[id]; ok {
		snap.Live = true
		snap.SessionID = lc.SessionID
		connectedAt := lc.ConnectedAt
		snap.ConnectedAt = &connectedAt
	}
	_, snap.Pending = r.pending[id]
	r.mu.Unlock()

	if cb, ok := r.breakers.Peek(id); ok {
		snap.Breaker = cb.Status()
	} else {
		snap.Breaker = BreakerStatus{State: BreakerClosed, CanAttempt: true}
	}
	snap.Reconnect, _ = r.scheduler.State(id)
	snap.Health = r.monitor.GetHealthStatus(id)

	rec, err := r.repo.LoadStatus(ctx, id)
	if err != nil {
		r.log.Debugw("msg", "persisted status unavailable", "connection_id", id, "error", err)
	} else {
		snap.Persisted = rec
	}
	return snap
}

// IsActive reports whether id has a live or in-flight session in this process.
func (r *ConnectionRegistry) IsActive(id ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, live := r.live[id]
	_, pending := r.pending[id]
	return live || pending
}

// StartAll opens every persisted connection that has not failed permanently.
// Opens run in the background; it returns how many were started.
func (r *ConnectionRegistry) StartAll(ctx context.Context) (int, error) {
	statuses := append([]ConnectionStatus{model.StatusDisconnected}, model.LiveStatuses...)
	ids, err := r.repo.ListConnectionIDs(ctx, statuses...)
	if err != nil {
		return 0, fmt.Errorf("list connections: %w", err)
	}

	for _, id := range ids {
		go func(id ConnectionID) {
			if _, err := r.Open(r.baseCtx, id); err != nil {
				r.log.Warnw("msg", "startup open failed", "connection_id", id, "error", err)
			}
		}(id)
	}
	r.log.Startup("starting persisted connections", "count", len(ids))
	return len(ids), nil
}

// Shutdown stops all timers and monitors and tears down every session.
func (r *ConnectionRegistry) Shutdown(ctx context.Context) {
	r.scheduler.Stop()
	r.monitor.StopAll()

	r.mu.Lock()
	var handles []*sessionHandle
	var attempts []*openAttempt
	var ids []ConnectionID
	for id, lc := range r.live {
		lc.handle.retired = true
		handles = append(handles, lc.handle)
		ids = append(ids, id)
	}
	for _, a := range r.pending {
		a.cancelled = true
		if a.handle != nil && !a.handle.retired {
			a.handle.retired = true
			handles = append(handles, a.handle)
		}
		attempts = append(attempts, a)
	}
	r.live = make(map[ConnectionID]*LiveConnection)
	r.pending = make(map[ConnectionID]*openAttempt)
	r.mu.Unlock()

	r.cancel()
	for _, a := range attempts {
		a.resolve(nil, ErrConnectionRemoved)
	}
	for _, h := range handles {
		r.teardown(h)
	}
	for _, id := range ids {
		r.persistCtx(ctx, id, model.StatusUpdate{Status: model.StatusDisconnected})
	}
	r.log.Connection("registry shut down", "sessions", len(handles))
}

func (r *ConnectionRegistry) isCurrent(h *sessionHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !h.retired
}

// teardown releases a session, best effort.
func (r *ConnectionRegistry) teardown(h *sessionHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := h.session.Teardown(ctx); err != nil {
		r.log.Warnw("msg", "session teardown failed", "connection_id", h.id, "session_id", h.session.ID(), "error", err)
	}
}

func (r *ConnectionRegistry) persist(id ConnectionID, update model.StatusUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	r.persistCtx(ctx, id, update)
}

func (r *ConnectionRegistry) persistCtx(ctx context.Context, id ConnectionID, update model.StatusUpdate) {
	if err := r.repo.UpdateStatus(ctx, id, update); err != nil {
		r.log.Warnw("msg", "failed to persist connection status",
			"connection_id", id,
			"status", update.Status,
			"error", err)
	}
}

func (r *ConnectionRegistry) notifyStatus(id ConnectionID, status ConnectionStatus, extra map[string]any) {
	payload := map[string]any{"id": id, "status": status}
	for k, v := range extra {
		payload[k] = v
	}
	r.notify(id, model.ActionUpdate, payload)
}

func (r *ConnectionRegistry) notify(id ConnectionID, action string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	r.notifier.Publish(ctx, model.Notification{
		ID:           uuid.NewString(),
		ConnectionID: id,
		Action:       action,
		Payload:      payload,
		At:           time.Now(),
	})
}

func (r *ConnectionRegistry) onBreakerChange(id ConnectionID, from, to BreakerState, st BreakerStatus) {
	payload := map[string]any{
		"breaker": st,
		"from":    from,
	}
	if to == BreakerOpen {
		payload["message"] = circuitOpenMessage(st.TimeUntilRecovery)
	}
	r.notify(id, model.ActionReconnectStatus, payload)
}

func (r *ConnectionRegistry) onHealthTransition(id ConnectionID, result HealthCheckResult, consecutive int) {
	r.log.Health("health changed", "connection_id", id, "healthy", result.Healthy, "consecutive_failures", consecutive)
	r.notify(id, model.ActionHealthCheck, map[string]any{
		"result":              result,
		"consecutiveFailures": consecutive,
	})
}

func (r *ConnectionRegistry) onReconnectStatus(st ReconnectStatus) {
	r.log.Reconnect(st.Message, "connection_id", st.ConnectionID, "phase", string(st.Phase), "attempt", st.Attempt)

	switch st.Phase {
	case ReconnectScheduled, ReconnectRunning:
		attempt := st.Attempt
		r.persist(st.ConnectionID, model.StatusUpdate{Status: model.StatusReconnecting, Retries: &attempt})
	case ReconnectFailed:
		msg := st.Message
		attempt := st.Attempt
		r.persist(st.ConnectionID, model.StatusUpdate{Status: model.StatusFailed, Retries: &attempt, LastError: &msg})
	}
	r.notify(st.ConnectionID, model.ActionReconnectStatus, st)
}
