package biz

import (
	"context"
	"fmt"

	"ConnGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// SweepResult reports what one sweep changed.
type SweepResult struct {
	Scanned int
	Stale   int
	Resumed int
}

// StatusSweeper reconciles persisted status with the registry and resumes
// reconnects that stopped on an open circuit.
type StatusSweeper struct {
	registry  *ConnectionRegistry
	scheduler *ReconnectScheduler
	repo      StatusRepo
	logger    *log.Helper
}

// NewStatusSweeper 创建状态巡检任务
func NewStatusSweeper(registry *ConnectionRegistry, scheduler *ReconnectScheduler, repo StatusRepo, logger log.Logger) *StatusSweeper {
	return &StatusSweeper{
		registry:  registry,
		scheduler: scheduler,
		repo:      repo,
		logger:    log.NewHelper(logger),
	}
}

// RunOnce marks rows that claim a live session this process does not hold as
// DISCONNECTED, then resumes circuit-blocked reconnects whose breaker recovered.
func (s *StatusSweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	ids, err := s.repo.ListConnectionIDs(ctx, model.LiveStatuses...)
	if err != nil {
		return res, fmt.Errorf("failed to list live connections: %w", err)
	}
	res.Scanned = len(ids)

	lastErr := "no active session"
	for _, id := range ids {
		if s.registry.IsActive(id) {
			continue
		}
		// 重连计时器挂起中的连接仍由调度器负责
		if st, ok := s.scheduler.State(id); ok && (st.Pending || st.IsReconnecting || st.BlockedByCircuit) {
			continue
		}
		if err := s.repo.UpdateStatus(ctx, id, model.StatusUpdate{Status: model.StatusDisconnected, LastError: &lastErr}); err != nil {
			s.logger.Warnw("msg", "failed to mark stale connection",
				"connection_id", id,
				"error", err)
			continue
		}
		res.Stale++
	}

	res.Resumed = s.scheduler.ResumeBlocked(ctx)

	if res.Stale > 0 || res.Resumed > 0 {
		s.logger.Infow("msg", "status sweep completed",
			"scanned", res.Scanned,
			"stale", res.Stale,
			"resumed", res.Resumed)
	}
	return res, nil
}
