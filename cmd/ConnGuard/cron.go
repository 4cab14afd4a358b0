package main

import (
	"context"
	"fmt"
	"time"

	"ConnGuard/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSpec runs the status sweeper every 30 seconds.
const DefaultSweepSpec = "@every 30s"

// StartStatusSweepCron 启动连接状态巡检定时任务
// 巡检内容：修正无活跃会话的持久化状态，恢复熔断恢复后的重连
func StartStatusSweepCron(sweeper *biz.StatusSweeper, spec string, logger log.Logger) (*cron.Cron, error) {
	helper := log.NewHelper(logger)
	if spec == "" {
		spec = DefaultSweepSpec
	}

	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if _, err := sweeper.RunOnce(ctx); err != nil {
			helper.Errorw("msg", "status sweep failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep spec %q: %w", spec, err)
	}

	c.Start()
	helper.Infow("msg", "status sweep cron started", "spec", spec)

	return c, nil
}
