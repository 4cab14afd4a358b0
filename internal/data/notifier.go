package data

import (
	"context"
	"encoding/json"
	"time"

	"ConnGuard/internal/conf"
	"ConnGuard/internal/model"
	pkglog "ConnGuard/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// DefaultEventChannel is the pub/sub channel used when none is configured.
const DefaultEventChannel = "connguard:events"

const publishTimeout = 2 * time.Second

// RedisNotifier publishes notifications as JSON on a Redis channel.
// Without a Redis client it only logs, so the core keeps running.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
	logger  *pkglog.LogHelper
}

// NewRedisNotifier creates a notifier. rdb may be nil.
func NewRedisNotifier(c *conf.Data, rdb *redis.Client, logger log.Logger) *RedisNotifier {
	channel := DefaultEventChannel
	if c != nil && c.Redis != nil && c.Redis.Channel != "" {
		channel = c.Redis.Channel
	}
	return &RedisNotifier{
		rdb:     rdb,
		channel: channel,
		logger:  pkglog.NewLogHelper(logger),
	}
}

// Channel returns the pub/sub channel notifications are published on.
func (n *RedisNotifier) Channel() string {
	return n.channel
}

// Publish sends n to subscribers. Failures are logged and never returned.
func (n *RedisNotifier) Publish(ctx context.Context, msg model.Notification) {
	if msg.At.IsZero() {
		msg.At = time.Now()
	}

	if n.rdb == nil {
		n.logger.Notification("notification (no redis)",
			"connection_id", msg.ConnectionID,
			"action", msg.Action)
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		n.logger.Warnw("msg", "failed to encode notification",
			"connection_id", msg.ConnectionID,
			"action", msg.Action,
			"error", err)
		return
	}

	// 通知不应受调用方取消影响
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := n.rdb.Publish(pubCtx, n.channel, payload).Err(); err != nil {
		n.logger.Warnw("msg", "failed to publish notification",
			"channel", n.channel,
			"connection_id", msg.ConnectionID,
			"action", msg.Action,
			"error", err)
		return
	}

	n.logger.Redis("notification published",
		"channel", n.channel,
		"connection_id", msg.ConnectionID,
		"action", msg.Action)
}
