package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// ReconnectConfig configures exponential backoff.
type ReconnectConfig struct {
	RetryDelay        time.Duration
	BackoffMultiplier float64
	MaxRetryDelay     time.Duration
	MaxAttempts       int
}

// DefaultReconnectConfig returns the default backoff settings.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		RetryDelay:        2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxRetryDelay:     5 * time.Minute,
		MaxAttempts:       5,
	}
}

// ReconnectPhase is the phase reported in a ReconnectStatus.
type ReconnectPhase string

const (
	ReconnectScheduled ReconnectPhase = "scheduled"
	ReconnectRunning   ReconnectPhase = "reconnecting"
	ReconnectSucceeded ReconnectPhase = "connected"
	ReconnectFailed    ReconnectPhase = "failed"
	ReconnectBlocked   ReconnectPhase = "blocked"
)

// ReconnectStatus is emitted on every scheduler decision.
type ReconnectStatus struct {
	ConnectionID ConnectionID   `json:"connectionId"`
	Phase        ReconnectPhase `json:"status"`
	Attempt      int            `json:"attempt"`
	MaxAttempts  int            `json:"maxAttempts"`
	Delay        time.Duration  `json:"delay,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Message      string         `json:"message"`
	Error        string         `json:"error,omitempty"`
}

// ReconnectState is a snapshot of the scheduler state for one connection.
type ReconnectState struct {
	Attempts         int           `json:"attempts"`
	LastAttempt      *time.Time    `json:"lastAttempt,omitempty"`
	NextAttemptDelay time.Duration `json:"nextAttemptDelay"`
	IsReconnecting   bool          `json:"isReconnecting"`
	Pending          bool          `json:"pending"`
	BlockedByCircuit bool          `json:"blockedByCircuit"`
}

// ReconnectAction performs one reconnect attempt.
type ReconnectAction func(ctx context.Context) error

type reconnectEntry struct {
	attempts     int
	lastAttempt  time.Time
	nextDelay    time.Duration
	reconnecting bool
	blocked      bool

	timer    *time.Timer
	timerSeq uint64

	action    ReconnectAction
	reason    string
	cancelRun context.CancelFunc
}

// ReconnectScheduler retries failed connections with exponential backoff,
// gated by the connection's CircuitBreaker and a bounded attempt budget.
type ReconnectScheduler struct {
	cfg      ReconnectConfig
	breakers *BreakerSet
	logger   *log.Helper
	now      func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	states   map[ConnectionID]*reconnectEntry
	listener func(ReconnectStatus)
}

// NewReconnectScheduler creates a scheduler sharing breakers with the registry.
func NewReconnectScheduler(cfg ReconnectConfig, breakers *BreakerSet, logger log.Logger) *ReconnectScheduler {
	def := DefaultReconnectConfig()
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = def.BackoffMultiplier
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ReconnectScheduler{
		cfg:      cfg,
		breakers: breakers,
		logger:   log.NewHelper(logger),
		now:      time.Now,
		baseCtx:  ctx,
		cancel:   cancel,
		states:   make(map[ConnectionID]*reconnectEntry),
	}
}

// OnStatus registers the observer for reconnect status events.
func (s *ReconnectScheduler) OnStatus(fn func(ReconnectStatus)) {
	s.mu.Lock()
	s.listener = fn
	s.mu.Unlock()
}

// ScheduleReconnect arms a delayed attempt for id. It returns false without
// scheduling when the circuit is open or the attempt budget is spent.
// A pending timer for id is replaced.
func (s *ReconnectScheduler) ScheduleReconnect(id ConnectionID, action ReconnectAction, reason string) bool {
	cb := s.breakers.Get(id)
	if !cb.CanAttempt() {
		retryIn := cb.Status().TimeUntilRecovery
		s.mu.Lock()
		e := s.entryLocked(id)
		e.blocked = true
		e.action = action
		e.reason = reason
		attempts := e.attempts
		s.mu.Unlock()

		s.logger.Warnw("msg", "reconnect blocked by circuit breaker",
			"connection_id", id,
			"reason", reason,
			"retry_in", retryIn)
		s.emit(ReconnectStatus{
			ConnectionID: id,
			Phase:        ReconnectBlocked,
			Attempt:      attempts,
			MaxAttempts:  s.cfg.MaxAttempts,
			Reason:       reason,
			Message:      circuitOpenMessage(retryIn),
		})
		return false
	}

	s.mu.Lock()
	e := s.entryLocked(id)
	if e.attempts >= s.cfg.MaxAttempts {
		attempts := e.attempts
		s.mu.Unlock()
		s.emitExhausted(id, attempts, reason, nil)
		return false
	}

	s.stopTimerLocked(e)
	seq := e.timerSeq
	delay := e.nextDelay
	if delay > s.cfg.MaxRetryDelay {
		delay = s.cfg.MaxRetryDelay
	}
	e.blocked = false
	e.action = action
	e.reason = reason
	e.timer = time.AfterFunc(delay, func() { s.fire(id, seq) })
	attempt := e.attempts + 1
	s.mu.Unlock()

	s.logger.Infow("msg", "reconnect scheduled",
		"connection_id", id,
		"reason", reason,
		"delay", delay,
		"attempt", attempt,
		"max_attempts", s.cfg.MaxAttempts)
	s.emit(ReconnectStatus{
		ConnectionID: id,
		Phase:        ReconnectScheduled,
		Attempt:      attempt,
		MaxAttempts:  s.cfg.MaxAttempts,
		Delay:        delay,
		Reason:       reason,
		Message:      fmt.Sprintf("Reconnecting in %s (attempt %d/%d)", delay, attempt, s.cfg.MaxAttempts),
	})
	return true
}

// ExecuteReconnect runs one attempt now. It returns ErrReconnectInProgress when an
// attempt for id is already running. On failure a follow-up attempt is scheduled
// while budget and breaker allow it.
func (s *ReconnectScheduler) ExecuteReconnect(ctx context.Context, id ConnectionID, action ReconnectAction) error {
	s.mu.Lock()
	e := s.entryLocked(id)
	runCtx, ok := s.beginLocked(ctx, e, action)
	s.mu.Unlock()
	if !ok {
		s.logger.Debugw("msg", "reconnect already in progress", "connection_id", id)
		return ErrReconnectInProgress
	}
	return s.run(runCtx, id, e, action)
}

// CancelReconnect stops a pending timer for id. Attempt counts are kept.
func (s *ReconnectScheduler) CancelReconnect(id ConnectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.states[id]; ok {
		s.stopTimerLocked(e)
	}
}

// ResetState cancels any pending timer, restores the initial backoff and resets the
// breaker of id. A running attempt keeps its in-progress guard.
func (s *ReconnectScheduler) ResetState(id ConnectionID) {
	s.mu.Lock()
	if e, ok := s.states[id]; ok {
		s.stopTimerLocked(e)
		e.attempts = 0
		e.lastAttempt = time.Time{}
		e.nextDelay = s.cfg.RetryDelay
		e.blocked = false
	}
	s.mu.Unlock()

	if cb, ok := s.breakers.Peek(id); ok {
		cb.Reset()
	}
}

// ClearBackoff cancels any pending timer and restores the initial backoff for id
// without touching its breaker. Used when a session comes up on its own.
func (s *ReconnectScheduler) ClearBackoff(id ConnectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.states[id]; ok {
		s.stopTimerLocked(e)
		e.attempts = 0
		e.lastAttempt = time.Time{}
		e.nextDelay = s.cfg.RetryDelay
		e.blocked = false
	}
}

// Forget resets id and drops its state. A running attempt is cancelled and
// will not schedule a follow-up.
func (s *ReconnectScheduler) Forget(id ConnectionID) {
	s.ResetState(id)

	s.mu.Lock()
	e, ok := s.states[id]
	delete(s.states, id)
	s.mu.Unlock()

	if ok && e.cancelRun != nil {
		e.cancelRun()
	}
}

// ForceReconnect resets state and runs an attempt immediately. It reports success.
func (s *ReconnectScheduler) ForceReconnect(ctx context.Context, id ConnectionID, action ReconnectAction) bool {
	s.ResetState(id)
	return s.ExecuteReconnect(ctx, id, action) == nil
}

// ResumeBlocked reschedules connections whose retries stopped on an open circuit,
// once their breaker admits attempts again. It returns how many were rescheduled.
func (s *ReconnectScheduler) ResumeBlocked(ctx context.Context) int {
	type candidate struct {
		id     ConnectionID
		action ReconnectAction
		reason string
	}

	s.mu.Lock()
	var candidates []candidate
	for id, e := range s.states {
		if e.blocked && !e.reconnecting && e.timer == nil && e.action != nil && e.attempts < s.cfg.MaxAttempts {
			candidates = append(candidates, candidate{id: id, action: e.action, reason: e.reason})
		}
	}
	s.mu.Unlock()

	resumed := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		if !s.breakers.Get(c.id).Status().CanAttempt {
			continue
		}
		if s.ScheduleReconnect(c.id, c.action, c.reason) {
			resumed++
		}
	}
	return resumed
}

// State returns a snapshot of the scheduler state for id.
func (s *ReconnectScheduler) State(id ConnectionID) (ReconnectState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.states[id]
	if !ok {
		return ReconnectState{NextAttemptDelay: s.cfg.RetryDelay}, false
	}
	st := ReconnectState{
		Attempts:         e.attempts,
		NextAttemptDelay: e.nextDelay,
		IsReconnecting:   e.reconnecting,
		Pending:          e.timer != nil,
		BlockedByCircuit: e.blocked,
	}
	if !e.lastAttempt.IsZero() {
		last := e.lastAttempt
		st.LastAttempt = &last
	}
	return st, true
}

// Stop cancels every pending timer and running attempt.
func (s *ReconnectScheduler) Stop() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.states {
		s.stopTimerLocked(e)
	}
}

func (s *ReconnectScheduler) fire(id ConnectionID, seq uint64) {
	s.mu.Lock()
	e, ok := s.states[id]
	if !ok || e.timerSeq != seq || e.timer == nil {
		s.mu.Unlock()
		return
	}
	e.timer = nil
	action := e.action
	runCtx, started := s.beginLocked(s.baseCtx, e, action)
	s.mu.Unlock()

	if !started {
		return
	}
	_ = s.run(runCtx, id, e, action)
}

// beginLocked claims the in-progress guard for e.
func (s *ReconnectScheduler) beginLocked(ctx context.Context, e *reconnectEntry, action ReconnectAction) (context.Context, bool) {
	if e.reconnecting {
		return nil, false
	}
	s.stopTimerLocked(e)
	e.attempts++
	e.lastAttempt = s.now()
	e.reconnecting = true
	e.blocked = false
	e.action = action

	runCtx, cancel := context.WithCancel(ctx)
	e.cancelRun = cancel
	return runCtx, true
}

func (s *ReconnectScheduler) run(ctx context.Context, id ConnectionID, e *reconnectEntry, action ReconnectAction) (err error) {
	s.mu.Lock()
	attempt := e.attempts
	reason := e.reason
	s.mu.Unlock()

	s.logger.Infow("msg", "reconnecting",
		"connection_id", id,
		"attempt", attempt,
		"max_attempts", s.cfg.MaxAttempts)
	s.emit(ReconnectStatus{
		ConnectionID: id,
		Phase:        ReconnectRunning,
		Attempt:      attempt,
		MaxAttempts:  s.cfg.MaxAttempts,
		Reason:       reason,
		Message:      fmt.Sprintf("Reconnecting (attempt %d/%d)", attempt, s.cfg.MaxAttempts),
	})

	err = invokeAction(ctx, action)
	// 先判断是否被外部取消（Forget/Stop），再释放自己的 cancel
	cancelled := ctx.Err() != nil

	s.mu.Lock()
	e.reconnecting = false
	if e.cancelRun != nil {
		e.cancelRun()
		e.cancelRun = nil
	}
	current := s.states[id] == e
	if !current {
		// 状态已被 Forget 丢弃，熔断器也已移除，不再记录
		s.mu.Unlock()
		return err
	}
	if err == nil {
		e.attempts = 0
		e.nextDelay = s.cfg.RetryDelay
		e.blocked = false
		s.mu.Unlock()

		s.breakers.Get(id).RecordSuccess()
		s.logger.Infow("msg", "reconnect succeeded", "connection_id", id, "attempt", attempt)
		s.emit(ReconnectStatus{
			ConnectionID: id,
			Phase:        ReconnectSucceeded,
			Attempt:      attempt,
			MaxAttempts:  s.cfg.MaxAttempts,
			Reason:       reason,
			Message:      "Reconnected",
		})
		return nil
	}

	// 指数退避，封顶 MaxRetryDelay
	next := time.Duration(float64(e.nextDelay) * s.cfg.BackoffMultiplier)
	if next > s.cfg.MaxRetryDelay || next <= 0 {
		next = s.cfg.MaxRetryDelay
	}
	e.nextDelay = next
	attempts := e.attempts
	s.mu.Unlock()

	cb := s.breakers.Get(id)
	cb.RecordFailure(err)
	s.logger.Warnw("msg", "reconnect attempt failed",
		"connection_id", id,
		"attempt", attempt,
		"error", err)

	if cancelled {
		return err
	}
	if attempts >= s.cfg.MaxAttempts {
		s.emitExhausted(id, attempts, reason, err)
		return err
	}
	if !cb.CanAttempt() {
		// 熔断期间停止重试，由巡检在恢复后续上
		retryIn := cb.Status().TimeUntilRecovery
		s.mu.Lock()
		e.blocked = true
		s.mu.Unlock()
		s.emit(ReconnectStatus{
			ConnectionID: id,
			Phase:        ReconnectFailed,
			Attempt:      attempts,
			MaxAttempts:  s.cfg.MaxAttempts,
			Reason:       reason,
			Message:      circuitOpenMessage(retryIn),
			Error:        newCircuitOpenError(id, retryIn).Error(),
		})
		return err
	}

	s.ScheduleReconnect(id, action, reason)
	return err
}

// invokeAction runs action and turns a panic into an error.
func invokeAction(ctx context.Context, action ReconnectAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reconnect action panicked: %v", r)
		}
	}()
	return action(ctx)
}

func (s *ReconnectScheduler) emitExhausted(id ConnectionID, attempts int, reason string, cause error) {
	exhausted := newBudgetExhaustedError(id, attempts)
	s.logger.Errorw("msg", "reconnect attempts exhausted",
		"connection_id", id,
		"attempts", attempts,
		"error", cause)
	st := ReconnectStatus{
		ConnectionID: id,
		Phase:        ReconnectFailed,
		Attempt:      attempts,
		MaxAttempts:  s.cfg.MaxAttempts,
		Reason:       reason,
		Message:      fmt.Sprintf("Gave up after %d attempts", attempts),
		Error:        exhausted.Error(),
	}
	s.emit(st)
}

func (s *ReconnectScheduler) emit(st ReconnectStatus) {
	s.mu.Lock()
	fn := s.listener
	s.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (s *ReconnectScheduler) entryLocked(id ConnectionID) *reconnectEntry {
	e, ok := s.states[id]
	if !ok {
		e = &reconnectEntry{nextDelay: s.cfg.RetryDelay}
		s.states[id] = e
	}
	return e
}

func (s *ReconnectScheduler) stopTimerLocked(e *reconnectEntry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.timerSeq++
}
