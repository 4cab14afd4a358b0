package biz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ConnGuard/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id        string
	events    chan SessionEvent
	teardowns atomic.Int32
	unhealthy atomic.Bool
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Events() <-chan SessionEvent { return s.events }

func (s *fakeSession) Teardown(ctx context.Context) error {
	s.teardowns.Add(1)
	return nil
}

func (s *fakeSession) Probe(ctx context.Context) (string, error) {
	if s.unhealthy.Load() {
		return "", errors.New("page unresponsive")
	}
	return "CONNECTED", nil
}

func (s *fakeSession) push(kind model.SessionEventKind) {
	s.events <- SessionEvent{Kind: kind, At: time.Now()}
}

type fakeTransport struct {
	mu        sync.Mutex
	sessions  map[ConnectionID][]*fakeSession
	createErr error
	calls     atomic.Int32
	// when set, new sessions report ready on their own
	autoReady atomic.Bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sessions: make(map[ConnectionID][]*fakeSession)}
}

func (t *fakeTransport) CreateSession(ctx context.Context, id ConnectionID) (Session, error) {
	t.calls.Add(1)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.createErr != nil {
		return nil, t.createErr
	}
	s := &fakeSession{
		id:     fmt.Sprintf("sess-%d-%d", id, len(t.sessions[id])+1),
		events: make(chan SessionEvent, 16),
	}
	t.sessions[id] = append(t.sessions[id], s)
	if t.autoReady.Load() {
		s.push(model.EventReady)
	}
	return s, nil
}

func (t *fakeTransport) setCreateErr(err error) {
	t.mu.Lock()
	t.createErr = err
	t.mu.Unlock()
}

func (t *fakeTransport) count(id ConnectionID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions[id])
}

// await returns the nth session created for id (1-based).
func (t *fakeTransport) await(tb testing.TB, id ConnectionID, n int) *fakeSession {
	tb.Helper()
	require.Eventually(tb, func() bool { return t.count(id) >= n }, 2*time.Second, time.Millisecond)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[id][n-1]
}

type fakeRepo struct {
	mu      sync.Mutex
	records map[ConnectionID]*model.StatusRecord
	history map[ConnectionID][]ConnectionStatus
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		records: make(map[ConnectionID]*model.StatusRecord),
		history: make(map[ConnectionID][]ConnectionStatus),
	}
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, id ConnectionID, u model.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		rec = &model.StatusRecord{ID: id}
		r.records[id] = rec
	}
	rec.Status = u.Status
	if u.Retries != nil {
		rec.Retries = *u.Retries
	}
	if u.LastError != nil {
		rec.LastError = *u.LastError
	}
	if u.Code != nil {
		rec.Code = *u.Code
	}
	rec.UpdatedAt = time.Now()
	r.history[id] = append(r.history[id], u.Status)
	return nil
}

func (r *fakeRepo) LoadStatus(ctx context.Context, id ConnectionID) (*model.StatusRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeRepo) ListConnectionIDs(ctx context.Context, statuses ...ConnectionStatus) ([]ConnectionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[ConnectionStatus]bool)
	for _, s := range statuses {
		want[s] = true
	}
	var ids []ConnectionID
	for id, rec := range r.records {
		if len(want) == 0 || want[rec.Status] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *fakeRepo) seed(id ConnectionID, status ConnectionStatus) {
	r.mu.Lock()
	r.records[id] = &model.StatusRecord{ID: id, Status: status}
	r.mu.Unlock()
}

func (r *fakeRepo) statuses(id ConnectionID) []ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionStatus(nil), r.history[id]...)
}

func (r *fakeRepo) current(id ConnectionID) ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		return rec.Status
	}
	return ""
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
}

func (n *recordingNotifier) Publish(ctx context.Context, note model.Notification) {
	n.mu.Lock()
	n.sent = append(n.sent, note)
	n.mu.Unlock()
}

func (n *recordingNotifier) actions(id ConnectionID, action string) []model.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.Notification
	for _, note := range n.sent {
		if note.ConnectionID == id && note.Action == action {
			out = append(out, note)
		}
	}
	return out
}

type registryEnv struct {
	reg       *ConnectionRegistry
	transport *fakeTransport
	repo      *fakeRepo
	notifier  *recordingNotifier
	breakers  *BreakerSet
	monitor   *HealthMonitor
	scheduler *ReconnectScheduler
}

type registryOpts struct {
	registry  RegistryConfig
	breaker   BreakerConfig
	health    HealthConfig
	reconnect ReconnectConfig
}

func defaultRegistryOpts() registryOpts {
	return registryOpts{
		registry:  RegistryConfig{InitTimeout: 2 * time.Second, RestartDelay: 10 * time.Millisecond},
		breaker:   DefaultBreakerConfig(),
		health:    HealthConfig{Interval: time.Hour, Timeout: time.Second, MaxConsecutiveFailures: 3},
		reconnect: ReconnectConfig{RetryDelay: 5 * time.Millisecond, BackoffMultiplier: 2, MaxRetryDelay: 20 * time.Millisecond, MaxAttempts: 3},
	}
}

func newRegistryEnv(t *testing.T, opts registryOpts) *registryEnv {
	t.Helper()
	logger := testLogger()
	env := &registryEnv{
		transport: newFakeTransport(),
		repo:      newFakeRepo(),
		notifier:  &recordingNotifier{},
		breakers:  NewBreakerSet(opts.breaker, logger),
		monitor:   NewHealthMonitor(opts.health, logger),
	}
	env.scheduler = NewReconnectScheduler(opts.reconnect, env.breakers, logger)
	env.reg = NewConnectionRegistry(opts.registry, env.transport, env.repo, env.notifier,
		env.breakers, env.monitor, env.scheduler, logger)
	t.Cleanup(func() { env.reg.Shutdown(context.Background()) })
	return env
}

type openResult struct {
	conn *LiveConnection
	err  error
}

func (e *registryEnv) openAsync(id ConnectionID) <-chan openResult {
	ch := make(chan openResult, 1)
	go func() {
		conn, err := e.reg.Open(context.Background(), id)
		ch <- openResult{conn, err}
	}()
	return ch
}

func (e *registryEnv) openReady(t *testing.T, id ConnectionID) (*LiveConnection, *fakeSession) {
	t.Helper()
	n := e.transport.count(id) + 1
	res := e.openAsync(id)
	s := e.transport.await(t, id, n)
	s.push(model.EventReady)
	r := <-res
	require.NoError(t, r.err)
	return r.conn, s
}

func TestConnectionRegistry_OpenLifecycle(t *testing.T) {
	env := newRegistryEnv(t, defaultRegistryOpts())

	res := env.openAsync(1)
	s := env.transport.await(t, 1, 1)

	s.events <- SessionEvent{Kind: model.EventCodeIssued, Code: "2@pairing"}
	assert.Eventually(t, func() bool { return env.repo.current(1) == model.StatusAwaitingCode }, time.Second, time.Millisecond)
	_, err := env.reg.Get(1)
	assert.True(t, errors.Is(err, ErrConnectionPending))

	s.push(model.EventAuthenticated)
	s.push(model.EventReady)

	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, ConnectionID(1), r.conn.ID)
	assert.Equal(t, "sess-1-1", r.conn.SessionID)
	assert.Equal(t, model.StatusConnected, r.conn.Status)

	assert.Equal(t, []ConnectionStatus{
		model.StatusInitializing,
		model.StatusAwaitingCode,
		model.StatusAuthenticating,
		model.StatusConnected,
	}, env.repo.statuses(1))

	got, err := env.reg.Get(1)
	require.NoError(t, err)
	assert.Same(t, r.conn, got)
	assert.True(t, env.monitor.IsMonitoring(1))
	assert.Equal(t, BreakerClosed, env.breakers.Get(1).State())

	updates := env.notifier.actions(1, model.ActionUpdate)
	require.NotEmpty(t, updates)
	assert.NotEmpty(t, updates[0].ID)

	// opening a live connection returns the existing handle
	again, err := env.reg.Open(context.Background(), 1)
	require.NoError(t, err)
	assert.Same(t, r.conn, again)
	assert.Equal(t, int32(1), env.transport.calls.Load())
}

func TestConnectionRegistry_ConcurrentOpenJoinsInFlightAttempt(t *testing.T) {
	env := newRegistryEnv(t, defaultRegistryOpts())

	const callers = 5
	results := make([]<-chan openResult, callers)
	for i := range results {
		results[i] = env.openAsync(1)
	}

	s := env.transport.await(t, 1, 1)
	time.Sleep(10 * time.Millisecond)
	s.push(model.EventReady)

	var first *LiveConnection
	for _, ch := range results {
		r := <-ch
		require.NoError(t, r.err)
		if first == nil {
			first = r.conn
		}
		assert.Same(t, first, r.conn)
	}
	assert.Equal(t, int32(1), env.transport.calls.Load())
	assert.Len(t, env.reg.List(), 1)
}

func TestConnectionRegistry_ConcurrentOpenDuringHalfOpenTrial(t *testing.T) {
	opts := defaultRegistryOpts()
	opts.breaker = BreakerConfig{FailureThreshold: 1, RecoveryTime: 30 * time.Millisecond, MonitorWindow: time.Minute}
	env := newRegistryEnv(t, opts)

	env.breakers.Get(1).RecordFailure(errBoom)
	time.Sleep(40 * time.Millisecond)

	trial := env.openAsync(1)
	s := env.transport.await(t, 1, 1)
	assert.Equal(t, BreakerHalfOpen, env.breakers.Get(1).State())

	// callers arriving during the trial join it instead of being rejected or dialing again
	joiners := []<-chan openResult{env.openAsync(1), env.openAsync(1)}
	time.Sleep(10 * time.Millisecond)
	s.push(model.EventReady)

	first := <-trial
	require.NoError(t, first.err)
	for _, ch := range joiners {
		r := <-ch
		require.NoError(t, r.err)
		assert.Same(t, first.conn, r.conn)
	}
	assert.Equal(t, int32(1), env.transport.calls.Load())
	assert.Equal(t, BreakerClosed, env.breakers.Get(1).State())
}

// gatedNotifier blocks breaker notifications while armed until release is closed.
type gatedNotifier struct {
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (n *gatedNotifier) Publish(ctx context.Context, note model.Notification) {
	if note.Action != model.ActionReconnectStatus || !n.armed.Load() {
		return
	}
	n.once.Do(func() { close(n.entered) })
	<-n.release
}

func TestConnectionRegistry_BreakerNotificationDoesNotHoldRegistry(t *testing.T) {
	opts := defaultRegistryOpts()
	opts.breaker = BreakerConfig{FailureThreshold: 1, RecoveryTime: 30 * time.Millisecond, MonitorWindow: time.Minute}
	logger := testLogger()
	transport := newFakeTransport()
	notifier := &gatedNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	breakers := NewBreakerSet(opts.breaker, logger)
	monitor := NewHealthMonitor(opts.health, logger)
	scheduler := NewReconnectScheduler(opts.reconnect, breakers, logger)
	reg := NewConnectionRegistry(opts.registry, transport, newFakeRepo(), notifier, breakers, monitor, scheduler, logger)
	t.Cleanup(func() { reg.Shutdown(context.Background()) })

	breakers.Get(1).RecordFailure(errBoom)
	time.Sleep(40 * time.Millisecond)
	notifier.armed.Store(true)

	opened := make(chan error, 1)
	go func() {
		_, err := reg.Open(context.Background(), 1)
		opened <- err
	}()

	select {
	case <-notifier.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("half-open transition was not published")
	}

	// the OPEN -> HALF_OPEN publish is stuck; unrelated lookups must still proceed
	got := make(chan error, 1)
	go func() {
		_, err := reg.Get(2)
		got <- err
	}()
	select {
	case err := <-got:
		assert.True(t, errors.Is(err, ErrConnectionNotFound))
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Get blocked behind a breaker notification")
	}
	_, err := reg.Get(1)
	assert.True(t, errors.Is(err, ErrConnectionPending))

	close(notifier.release)
	transport.await(t, 1, 1).push(model.EventReady)
	require.NoError(t, <-opened)
}

func TestConnectionRegistry_OpenRejectedByOpenCircuit(t *testing.T) {
	opts := defaultRegistryOpts()
	opts.breaker = BreakerConfig{FailureThreshold: 1, RecoveryTime: time.Minute, MonitorWindow: time.Minute}
	env := newRegistryEnv(t, opts)

	env.breakers.Get(1).RecordFailure(errBoom)

	_, err := env.reg.Open(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Contains(t, err.Error(), "Circuit breaker open, retry in")
	assert.Equal(t, int32(0), env.transport.calls.Load())
}

func TestConnectionRegistry_CreateSessionFailure(t *testing.T) {
	env := newRegistryEnv(t, defaultRegistryOpts())
	env.transport.setCreateErr(errors.New("dial tcp: connection refused"))

	_, err := env.reg.Open(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Contains(t, err.Error(), "connection refused")

	assert.Equal(t, 1, env.breakers.Get(1).Status().Failures)
	assert.Equal(t, model.StatusFailed, env.repo.current(1))
	_, err = env.reg.Get(1)
	assert.True(t, errors.Is(err, ErrConnectionNotFound))
}

func TestConnectionRegistry_AuthenticationFailure(t *testing.T) {
	env := newRegistryEnv(t, defaultRegistryOpts())

	res := env.openAsync(1)
	s := env.transport.await(t, 1, 1)
	s.events <- SessionEvent{Kind: model.EventAuthFailed, Reason: "restore session failed"}

	r := <-res
	require.Error(t, r.err)
	assert.True(t, errors.Is(r.err, ErrAuthenticationFailure))
	assert.Contains(t, r.err.Error(), "restore session failed")

	assert.Equal(t, int32(1), s.teardowns.Load())
	assert.Equal(t, model.StatusFailed, env.repo.current(1))
	assert.Equal(t, 1, env.breakers.Get(1).Status().Failures)
	assert.Empty(t, env.reg.List())
}

func TestConnectionRegistry_InitializationTimeout(t *testing.T) {
	opts := defaultRegistryOpts()
	opts.registry.InitTimeout = 30 * time.Millisecond
	env := newRegistryEnv(t, opts)

	res := env.openAsync(1)
	s := env.transport.await(t, 1, 1)

	r := <-res
	require.Error(t, r.err)
	assert.True(t, errors.Is(r.err, ErrInitializationTimeout))
	assert.Equal(t, int32(1), s.teardowns.Load())

	// late ready from the abandoned session is ignored
	s.push(model.EventReady)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, env.reg.List())
}

func TestConnectionRegistry_DisconnectSchedulesReconnect(t *testing.T) {
	env := newRegistryEnv(t, defaultRegistryOpts())

	_, first := env.openReady(t, 1)
	env.transport.autoReady.Store(true)

	first.events <- SessionEvent{Kind: model.EventDisconnected, Reason: "NAVIGATION"}

	assert.Eventually(t, func() bool {
		lc, err := env.reg.Get(1)
		return err == nil && lc.SessionID == "sess-1-2" && env.repo.current(1) == model.StatusConnected
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, int32(1), first.teardowns.Load())
	statuses := env.repo.statuses(1)
	assert.Contains(t, statuses, model.StatusDisconnected)
	assert.Contains(t, statuses, model.StatusReconnecting)
	assert.Equal(t, model.StatusConnected, statuses[len(statuses)-1])
	assert.NotEmpty(t, env.notifier.actions(1, model.ActionReconnectStatus))

	// a single disconnect stays below the threshold
	assert.Equal(t, BreakerClosed, env.breakers.Get(1).State())
	assert.True(t, env.monitor.IsMonitoring(1))
}

func TestConnectionRegistry_LogoutDoesNotReconnect(t *testing.T) {
	env := newRegistryEnv(t, defaultRegistryOpts())

	_, s := env.openReady(t, 1)
	s.events <- SessionEvent{Kind: model.EventDisconnected, Reason: "LOGOUT"}

	assert.Eventually(t, func() bool { return env.repo.current(1) == model.StatusDisconnected }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), env.transport.calls.Load())
	assert.False(t, env.monitor.IsMonitoring(1))
}

func TestConnectionRegistry_ScheduledAttemptsRecordBreakerOnce(t *testing.T) {
	opts := defaultRegistryOpts()
	opts.reconnect.MaxAttempts = 1
	env := newRegistryEnv(t, opts)

	_, s := env.openReady(t, 1)
	env.transport.setCreateErr(errors.New("bridge unavailable"))
	s.events <- SessionEvent{Kind: model.EventDisconnected, Reason: "CONFLICT"}

	assert.Eventually(t, func() bool { return env.transport.calls.Load() == 2 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool {
		notes := env.notifier.actions(1, model.ActionReconnectStatus)
		for _, n := range notes {
			if st, ok := n.Payload.(ReconnectStatus); ok && st.Phase == ReconnectFailed {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	// disconnect + failed reconnect attempt
	assert.Equal(t, 2, env.breakers.Get(1).Status().Failures)
}

func TestConnectionRegistry_UnhealthyConnectionIsReplaced(t *testing.T) {
	opts := defaultRegistryOpts()
	opts.health = HealthConfig{Interval: 5 * time.Millisecond, Timeout: 50 * time.Millisecond, MaxConsecutiveFailures: 2}
	env := newRegistryEnv(t, opts)

	_, first := env.openReady(t, 1)
	env.transport.autoReady.Store(true)
	first.unhealthy.Store(true)

	assert.Eventually(t, func() bool {
		lc, err := env.reg.Get(1)
		return err == nil && lc.SessionID == "sess-1-2"
	}, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, int32(1), first.teardowns.Load())
	assert.NotEmpty(t, env.notifier.actions(1, model.ActionHealthCheck))
}

func TestConnectionRegistry_Remove(t *testing.T) {
	env := newRegistryEnv(t, defaultRegistryOpts())

	_, s := env.openReady(t, 1)
	env.reg.Remove(context.Background(), 1)
	env.reg.Remove(context.Background(), 1)

	_, err := env.reg.Get(1)
	assert.True(t, errors.Is(err, ErrConnectionNotFound))
	assert.False(t, env.monitor.IsMonitoring(1))
	assert.Empty(t, env.monitor.GetHealthStatus(1).History)
	assert.Equal(t, int32(1), s.teardowns.Load())
	assert.Equal(t, model.StatusDisconnected, env.repo.current(1))
	_, ok := env.breakers.Peek(1)
	assert.False(t, ok)

	// events from the removed session are ignored
	s.events <- SessionEvent{Kind: model.EventDisconnected, Reason: "NAVIGATION"}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), env.transport.calls.Load())
}

func TestConnectionRegistry_RemoveRejectsPendingOpen(t *testing.T) {
	env := newRegistryEnv(t, defaultRegistryOpts())

	res := env.openAsync(1)
	s := env.transport.await(t, 1, 1)

	env.reg.Remove(context.Background(), 1)

	r := <-res
	assert.True(t, errors.Is(r.err, ErrConnectionRemoved))
	assert.Eventually(t, func() bool { return s.teardowns.Load() == 1 }, time.Second, time.Millisecond)

	s.push(model.EventReady)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, env.reg.List())
}

func TestConnectionRegistry_Restart(t *testing.T) {
	env := newRegistryEnv(t, defaultRegistryOpts())

	_, first := env.openReady(t, 1)

	res := make(chan openResult, 1)
	go func() {
		conn, err := env.reg.Restart(context.Background(), 1)
		res <- openResult{conn, err}
	}()

	assert.Eventually(t, func() bool {
		_, err := env.reg.Get(1)
		return errors.Is(err, ErrConnectionPending)
	}, time.Second, time.Millisecond)

	second := env.transport.await(t, 1, 2)
	second.push(model.EventReady)

	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, "sess-1-2", r.conn.SessionID)
	assert.Equal(t, int32(1), first.teardowns.Load())
	assert.Len(t, env.reg.List(), 1)
}

func TestConnectionRegistry_ForceReconnectAndResetBreaker(t *testing.T) {
	opts := defaultRegistryOpts()
	opts.breaker = BreakerConfig{FailureThreshold: 1, RecoveryTime: time.Hour, MonitorWindow: time.Hour}
	env := newRegistryEnv(t, opts)

	env.breakers.Get(1).RecordFailure(errBoom)
	_, err := env.reg.Open(context.Background(), 1)
	require.True(t, errors.Is(err, ErrCircuitOpen))

	st := env.reg.ResetBreaker(1)
	assert.Equal(t, BreakerClosed, st.State)
	assert.True(t, st.CanAttempt)

	env.breakers.Get(1).RecordFailure(errBoom)
	env.transport.autoReady.Store(true)
	assert.True(t, env.reg.ForceReconnect(context.Background(), 1))

	lc, err := env.reg.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "sess-1-1", lc.SessionID)
}

func TestConnectionRegistry_MessagesAreForwarded(t *testing.T) {
	env := newRegistryEnv(t, defaultRegistryOpts())

	_, s := env.openReady(t, 1)
	s.events <- SessionEvent{Kind: model.EventMessage, Payload: []byte(`{"body":"hi"}`)}

	assert.Eventually(t, func() bool { return len(env.notifier.actions(1, model.ActionMessage)) == 1 }, time.Second, time.Millisecond)
}

func TestConnectionRegistry_Snapshot(t *testing.T) {
	env := newRegistryEnv(t, defaultRegistryOpts())

	snap := env.reg.Snapshot(context.Background(), 9)
	assert.False(t, snap.Live)
	assert.Equal(t, BreakerClosed, snap.Breaker.State)
	assert.Nil(t, snap.Persisted)

	env.openReady(t, 1)
	snap = env.reg.Snapshot(context.Background(), 1)
	assert.True(t, snap.Live)
	assert.False(t, snap.Pending)
	assert.Equal(t, "sess-1-1", snap.SessionID)
	require.NotNil(t, snap.Persisted)
	assert.Equal(t, model.StatusConnected, snap.Persisted.Status)
	assert.True(t, snap.Health.Monitoring)
}

func TestConnectionRegistry_StartAllSkipsFailed(t *testing.T) {
	env := newRegistryEnv(t, defaultRegistryOpts())
	env.repo.seed(1, model.StatusConnected)
	env.repo.seed(2, model.StatusFailed)
	env.repo.seed(3, model.StatusDisconnected)
	env.transport.autoReady.Store(true)

	n, err := env.reg.StartAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Eventually(t, func() bool { return len(env.reg.List()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, env.transport.count(2))
}

func TestConnectionRegistry_Shutdown(t *testing.T) {
	env := newRegistryEnv(t, defaultRegistryOpts())

	_, s := env.openReady(t, 1)
	pending := env.openAsync(2)
	env.transport.await(t, 2, 1)

	env.reg.Shutdown(context.Background())

	assert.True(t, errors.Is((<-pending).err, ErrConnectionRemoved))
	assert.Equal(t, int32(1), s.teardowns.Load())
	assert.Empty(t, env.reg.List())
	assert.False(t, env.monitor.IsMonitoring(1))
	assert.Equal(t, model.StatusDisconnected, env.repo.current(1))
}
