package biz

import (
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// consecutive successes in CLOSED that wipe the failure history
const successesToClear = 3

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTime     time.Duration
	MonitorWindow    time.Duration
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTime:     60 * time.Second,
		MonitorWindow:    120 * time.Second,
	}
}

// FailureRecord is one failure inside the monitoring window.
type FailureRecord struct {
	Timestamp time.Time
	Message   string
}

// BreakerStatus is a point-in-time view of a breaker.
type BreakerStatus struct {
	State             BreakerState  `json:"state"`
	Failures          int           `json:"failures"`
	LastStateChange   time.Time     `json:"lastStateChange"`
	CanAttempt        bool          `json:"canAttempt"`
	TimeUntilRecovery time.Duration `json:"timeUntilRecovery"`
}

// StateChangeFunc observes breaker transitions. It is called outside the breaker lock.
type StateChangeFunc func(id ConnectionID, from, to BreakerState, status BreakerStatus)

// BreakerOption customizes a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithStateChange registers a transition observer.
func WithStateChange(fn StateChangeFunc) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onChange = fn }
}

// CircuitBreaker guards connection attempts for one connection ID.
//
// CLOSED counts failures inside MonitorWindow and opens once FailureThreshold is reached.
// OPEN rejects attempts until RecoveryTime has passed, then lets the next CanAttempt
// through as a HALF_OPEN trial. A success in HALF_OPEN closes the breaker and a failure
// re-opens it with a fresh recovery timer.
type CircuitBreaker struct {
	id       ConnectionID
	cfg      BreakerConfig
	now      func() time.Time
	onChange StateChangeFunc
	logger   *log.Helper

	mu              sync.Mutex
	state           BreakerState
	failures        []FailureRecord
	successCount    int
	lastStateChange time.Time
}

type breakerTransition struct {
	from, to BreakerState
	status   BreakerStatus
}

// NewCircuitBreaker creates a CLOSED breaker for id.
func NewCircuitBreaker(id ConnectionID, cfg BreakerConfig, logger log.Logger, opts ...BreakerOption) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTime <= 0 {
		cfg.RecoveryTime = def.RecoveryTime
	}
	if cfg.MonitorWindow <= 0 {
		cfg.MonitorWindow = def.MonitorWindow
	}

	cb := &CircuitBreaker{
		id:     id,
		cfg:    cfg,
		now:    time.Now,
		logger: log.NewHelper(logger),
		state:  BreakerClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.lastStateChange = cb.now()
	return cb
}

// CanAttempt reports whether a connection attempt is allowed.
// An OPEN breaker whose recovery time has elapsed moves to HALF_OPEN and allows the attempt.
func (cb *CircuitBreaker) CanAttempt() bool {
	cb.mu.Lock()
	var tr *breakerTransition
	allowed := true
	if cb.state == BreakerOpen {
		if cb.now().Sub(cb.lastStateChange) >= cb.cfg.RecoveryTime {
			tr = cb.transitionLocked(BreakerHalfOpen)
		} else {
			allowed = false
		}
	}
	cb.mu.Unlock()

	cb.emit(tr)
	return allowed
}

// RecordFailure records a failed attempt or a runtime failure of the connection.
func (cb *CircuitBreaker) RecordFailure(err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}

	cb.mu.Lock()
	now := cb.now()
	cb.failures = append(cb.failures, FailureRecord{Timestamp: now, Message: msg})
	cb.pruneLocked(now)
	cb.successCount = 0

	var tr *breakerTransition
	switch cb.state {
	case BreakerHalfOpen:
		// 半开试探失败，直接重新熔断
		tr = cb.transitionLocked(BreakerOpen)
	case BreakerClosed:
		if len(cb.failures) >= cb.cfg.FailureThreshold {
			tr = cb.transitionLocked(BreakerOpen)
		}
	}
	failures := len(cb.failures)
	cb.mu.Unlock()

	cb.logger.Debugw("msg", "breaker failure recorded",
		"connection_id", cb.id,
		"failures", failures,
		"error", msg)
	cb.emit(tr)
}

// RecordSuccess records a successful attempt.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var tr *breakerTransition
	switch cb.state {
	case BreakerHalfOpen, BreakerOpen:
		cb.failures = nil
		cb.successCount = 0
		tr = cb.transitionLocked(BreakerClosed)
	case BreakerClosed:
		// 连续成功足够次数才清空失败记录
		cb.successCount++
		if cb.successCount >= successesToClear {
			cb.failures = nil
			cb.successCount = 0
		}
	}
	cb.mu.Unlock()

	cb.emit(tr)
}

// Status returns the current breaker view without changing state.
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.pruneLocked(cb.now())
	return cb.statusLocked()
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker to CLOSED and clears its history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.failures = nil
	cb.successCount = 0
	var tr *breakerTransition
	if cb.state != BreakerClosed {
		tr = cb.transitionLocked(BreakerClosed)
	} else {
		cb.lastStateChange = cb.now()
	}
	cb.mu.Unlock()

	cb.emit(tr)
}

func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	// 只保留监控窗口内的失败
	cutoff := now.Add(-cb.cfg.MonitorWindow)
	i := 0
	for i < len(cb.failures) && cb.failures[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		cb.failures = append(cb.failures[:0], cb.failures[i:]...)
	}
}

func (cb *CircuitBreaker) statusLocked() BreakerStatus {
	st := BreakerStatus{
		State:           cb.state,
		Failures:        len(cb.failures),
		LastStateChange: cb.lastStateChange,
		CanAttempt:      true,
	}
	if cb.state == BreakerOpen {
		remaining := cb.cfg.RecoveryTime - cb.now().Sub(cb.lastStateChange)
		if remaining > 0 {
			st.CanAttempt = false
			st.TimeUntilRecovery = remaining
		}
	}
	return st
}

func (cb *CircuitBreaker) transitionLocked(to BreakerState) *breakerTransition {
	from := cb.state
	cb.state = to
	cb.lastStateChange = cb.now()
	return &breakerTransition{from: from, to: to, status: cb.statusLocked()}
}

func (cb *CircuitBreaker) emit(tr *breakerTransition) {
	if tr == nil {
		return
	}
	switch tr.to {
	case BreakerOpen:
		cb.logger.Warnw("msg", "circuit breaker opened",
			"connection_id", cb.id,
			"from", tr.from,
			"failures", tr.status.Failures,
			"retry_in", tr.status.TimeUntilRecovery)
	default:
		cb.logger.Infow("msg", "circuit breaker state changed",
			"connection_id", cb.id,
			"from", tr.from,
			"to", tr.to)
	}
	if cb.onChange != nil {
		cb.onChange(cb.id, tr.from, tr.to, tr.status)
	}
}

// BreakerSet owns one CircuitBreaker per connection ID.
type BreakerSet struct {
	cfg    BreakerConfig
	logger log.Logger
	opts   []BreakerOption

	mu       sync.RWMutex
	breakers map[ConnectionID]*CircuitBreaker
	listener StateChangeFunc
}

// NewBreakerSet creates an empty breaker set. opts apply to every breaker it creates.
func NewBreakerSet(cfg BreakerConfig, logger log.Logger, opts ...BreakerOption) *BreakerSet {
	return &BreakerSet{
		cfg:      cfg,
		logger:   logger,
		opts:     opts,
		breakers: make(map[ConnectionID]*CircuitBreaker),
	}
}

// OnStateChange registers the observer for transitions of every breaker in the set.
func (s *BreakerSet) OnStateChange(fn StateChangeFunc) {
	s.mu.Lock()
	s.listener = fn
	s.mu.Unlock()
}

// Get returns the breaker for id, creating it on first use.
func (s *BreakerSet) Get(id ConnectionID) *CircuitBreaker {
	s.mu.RLock()
	cb, ok := s.breakers[id]
	s.mu.RUnlock()
	if ok {
		return cb
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[id]; ok {
		return cb
	}
	opts := append([]BreakerOption{WithStateChange(s.dispatch)}, s.opts...)
	cb = NewCircuitBreaker(id, s.cfg, s.logger, opts...)
	s.breakers[id] = cb
	return cb
}

// Peek returns the breaker for id without creating one.
func (s *BreakerSet) Peek(id ConnectionID) (*CircuitBreaker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cb, ok := s.breakers[id]
	return cb, ok
}

// Remove drops the breaker for id. A later Get starts from CLOSED.
func (s *BreakerSet) Remove(id ConnectionID) {
	s.mu.Lock()
	delete(s.breakers, id)
	s.mu.Unlock()
}

func (s *BreakerSet) dispatch(id ConnectionID, from, to BreakerState, status BreakerStatus) {
	s.mu.RLock()
	fn := s.listener
	s.mu.RUnlock()
	if fn != nil {
		fn(id, from, to, status)
	}
}
