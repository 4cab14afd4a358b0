package biz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// HealthConfig configures the HealthMonitor.
type HealthConfig struct {
	Interval               time.Duration
	Timeout                time.Duration
	HistorySize            int
	MaxConsecutiveFailures int
}

// DefaultHealthConfig returns the default health monitor settings.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Interval:               30 * time.Second,
		Timeout:                10 * time.Second,
		HistorySize:            20,
		MaxConsecutiveFailures: 3,
	}
}

// HealthCheckResult is the outcome of one probe.
type HealthCheckResult struct {
	Healthy   bool          `json:"healthy"`
	State     string        `json:"state,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

// HealthStatus summarizes the recorded health of a connection.
type HealthStatus struct {
	Connected           bool                `json:"connected"`
	LastCheck           *time.Time          `json:"lastCheck,omitempty"`
	LastSuccessfulCheck *time.Time          `json:"lastSuccessfulCheck,omitempty"`
	ConsecutiveFailures int                 `json:"consecutiveFailures"`
	AverageLatency      time.Duration       `json:"averageLatency"`
	Monitoring          bool                `json:"monitoring"`
	History             []HealthCheckResult `json:"history"`
}

// ProbeFunc queries the provider-side state of a session.
type ProbeFunc func(ctx context.Context) (string, error)

// UnhealthyFunc is called once when a monitored connection reaches the failure limit.
type UnhealthyFunc func(id ConnectionID, result HealthCheckResult)

// HealthTransitionFunc is called when a connection flips between healthy and unhealthy.
type HealthTransitionFunc func(id ConnectionID, result HealthCheckResult, consecutiveFailures int)

// states reported by the provider that count as healthy
var healthyStates = map[string]bool{
	"CONNECTED": true,
}

type healthRecord struct {
	history             []HealthCheckResult
	consecutiveFailures int
	lastSuccess         time.Time
}

type monitorHandle struct {
	cancel context.CancelFunc

	// cbMu serializes result handling with StopMonitoring
	cbMu    sync.Mutex
	stopped bool
}

// HealthMonitor periodically probes live connections and escalates persistent failures.
//
// Callbacks run on the monitor goroutine and must not call StopMonitoring for the
// same ID synchronously.
type HealthMonitor struct {
	cfg    HealthConfig
	now    func() time.Time
	logger *log.Helper

	mu           sync.Mutex
	records      map[ConnectionID]*healthRecord
	monitors     map[ConnectionID]*monitorHandle
	onTransition HealthTransitionFunc
}

// NewHealthMonitor creates a HealthMonitor. Zero config fields fall back to defaults.
func NewHealthMonitor(cfg HealthConfig, logger log.Logger) *HealthMonitor {
	def := DefaultHealthConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	return &HealthMonitor{
		cfg:      cfg,
		now:      time.Now,
		logger:   log.NewHelper(logger),
		records:  make(map[ConnectionID]*healthRecord),
		monitors: make(map[ConnectionID]*monitorHandle),
	}
}

// OnTransition registers an observer for healthy/unhealthy flips.
func (m *HealthMonitor) OnTransition(fn HealthTransitionFunc) {
	m.mu.Lock()
	m.onTransition = fn
	m.mu.Unlock()
}

// CheckHealth runs one probe and records the result in the history of id.
// Probe errors and timeouts produce an unhealthy result, never an error.
func (m *HealthMonitor) CheckHealth(ctx context.Context, id ConnectionID, probe ProbeFunc) HealthCheckResult {
	result := m.probe(ctx, probe)

	m.mu.Lock()
	flipped := m.recordLocked(id, result)
	consecutive := trailingFailures(m.records[id].history)
	fn := m.onTransition
	m.mu.Unlock()

	if flipped && fn != nil {
		fn(id, result, consecutive)
	}
	return result
}

// StartMonitoring begins periodic checks for id, replacing any existing monitor.
// The first check runs immediately.
func (m *HealthMonitor) StartMonitoring(id ConnectionID, probe ProbeFunc, onUnhealthy UnhealthyFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &monitorHandle{cancel: cancel}

	m.mu.Lock()
	prev := m.monitors[id]
	m.monitors[id] = h
	m.mu.Unlock()

	if prev != nil {
		prev.stop()
	}

	m.mu.Lock()
	m.recordFor(id).consecutiveFailures = 0
	m.mu.Unlock()

	m.logger.Infow("msg", "health monitoring started",
		"connection_id", id,
		"interval", m.cfg.Interval,
		"timeout", m.cfg.Timeout)

	go m.loop(ctx, id, h, probe, onUnhealthy)
}

// StopMonitoring cancels the monitor for id. No callback for id runs after it returns.
func (m *HealthMonitor) StopMonitoring(id ConnectionID) {
	m.mu.Lock()
	h := m.monitors[id]
	delete(m.monitors, id)
	m.mu.Unlock()

	if h != nil {
		h.stop()
		m.logger.Infow("msg", "health monitoring stopped", "connection_id", id)
	}
}

// StopAll cancels every monitor.
func (m *HealthMonitor) StopAll() {
	m.mu.Lock()
	handles := m.monitors
	m.monitors = make(map[ConnectionID]*monitorHandle)
	m.mu.Unlock()

	for _, h := range handles {
		h.stop()
	}
}

// IsMonitoring reports whether a monitor is active for id.
func (m *HealthMonitor) IsMonitoring(id ConnectionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.monitors[id]
	return ok
}

// GetHealthStatus summarizes the recorded history of id.
func (m *HealthMonitor) GetHealthStatus(id ConnectionID) HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, monitoring := m.monitors[id]
	st := HealthStatus{Monitoring: monitoring, History: []HealthCheckResult{}}
	rec, ok := m.records[id]
	if !ok || len(rec.history) == 0 {
		return st
	}

	st.History = append(st.History, rec.history...)
	last := rec.history[len(rec.history)-1]
	lastCheck := last.Timestamp
	st.LastCheck = &lastCheck
	st.Connected = last.Healthy
	if !rec.lastSuccess.IsZero() {
		lastSuccess := rec.lastSuccess
		st.LastSuccessfulCheck = &lastSuccess
	}
	st.ConsecutiveFailures = trailingFailures(rec.history)

	// 平均延迟只统计健康的检查
	var total time.Duration
	healthy := 0
	for _, r := range rec.history {
		if r.Healthy {
			total += r.Latency
			healthy++
		}
	}
	if healthy > 0 {
		st.AverageLatency = total / time.Duration(healthy)
	}
	return st
}

// ClearHistory forgets all recorded results for id.
func (m *HealthMonitor) ClearHistory(id ConnectionID) {
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
}

func (m *HealthMonitor) loop(ctx context.Context, id ConnectionID, h *monitorHandle, probe ProbeFunc, onUnhealthy UnhealthyFunc) {
	m.runCheck(ctx, id, h, probe, onUnhealthy)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runCheck(ctx, id, h, probe, onUnhealthy)
		}
	}
}

func (m *HealthMonitor) runCheck(ctx context.Context, id ConnectionID, h *monitorHandle, probe ProbeFunc, onUnhealthy UnhealthyFunc) {
	result := m.probe(ctx, probe)

	// 停止监控后不再回调
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	if h.stopped {
		return
	}

	m.mu.Lock()
	flipped := m.recordLocked(id, result)
	rec := m.records[id]
	escalate := false
	if result.Healthy {
		rec.consecutiveFailures = 0
	} else {
		rec.consecutiveFailures++
		// 恰好达到阈值时上报一次，健康后重新计数
		escalate = rec.consecutiveFailures == m.cfg.MaxConsecutiveFailures
	}
	consecutive := rec.consecutiveFailures
	fn := m.onTransition
	m.mu.Unlock()

	if !result.Healthy {
		m.logger.Warnw("msg", "health check failed",
			"connection_id", id,
			"state", result.State,
			"error", result.Error,
			"consecutive_failures", consecutive)
	}
	if flipped && fn != nil {
		fn(id, result, consecutive)
	}
	if escalate && onUnhealthy != nil {
		m.logger.Errorw("msg", "connection unhealthy, escalating",
			"connection_id", id,
			"consecutive_failures", consecutive)
		onUnhealthy(id, result)
	}
}

// probe runs fn with the configured timeout. A probe that ignores its context
// is abandoned once the timeout passes.
func (m *HealthMonitor) probe(ctx context.Context, fn ProbeFunc) HealthCheckResult {
	start := m.now()
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	type outcome struct {
		state string
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("probe panicked: %v", r)}
			}
		}()
		state, err := fn(ctx)
		done <- outcome{state: state, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			out.err = fmt.Errorf("health check timed out after %s", m.cfg.Timeout)
		} else {
			out.err = ctx.Err()
		}
	}

	result := HealthCheckResult{
		State:     out.state,
		Timestamp: start,
		Latency:   m.now().Sub(start),
	}
	switch {
	case out.err != nil:
		result.Error = out.err.Error()
	case !healthyStates[strings.ToUpper(out.state)]:
		result.Error = fmt.Sprintf("unexpected state %q", out.state)
	default:
		result.Healthy = true
	}
	return result
}

func (m *HealthMonitor) recordFor(id ConnectionID) *healthRecord {
	rec, ok := m.records[id]
	if !ok {
		rec = &healthRecord{}
		m.records[id] = rec
	}
	return rec
}

// recordLocked appends result to the ring buffer of id and reports whether
// the healthy flag flipped. A first result counts as a flip only when unhealthy.
func (m *HealthMonitor) recordLocked(id ConnectionID, result HealthCheckResult) bool {
	rec := m.recordFor(id)

	flipped := !result.Healthy
	if n := len(rec.history); n > 0 {
		flipped = rec.history[n-1].Healthy != result.Healthy
	}

	rec.history = append(rec.history, result)
	if over := len(rec.history) - m.cfg.HistorySize; over > 0 {
		rec.history = append(rec.history[:0], rec.history[over:]...)
	}
	if result.Healthy {
		rec.lastSuccess = result.Timestamp
	}
	return flipped
}

func trailingFailures(history []HealthCheckResult) int {
	n := 0
	for i := len(history) - 1; i >= 0 && !history[i].Healthy; i-- {
		n++
	}
	return n
}

func (h *monitorHandle) stop() {
	h.cancel()
	h.cbMu.Lock()
	h.stopped = true
	h.cbMu.Unlock()
}
