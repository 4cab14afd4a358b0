// Package biz contains the connection resilience core: circuit breakers, health
// monitoring, reconnect scheduling and the connection registry that ties them together.
package biz

import (
	"ConnGuard/internal/conf"
	"ConnGuard/internal/data"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewBreakerConfig,
	NewHealthConfig,
	NewReconnectConfig,
	NewRegistryConfig,
	ProvideBreakerSet,
	NewHealthMonitor,
	NewReconnectScheduler,
	NewConnectionRegistry,
	NewStatusSweeper,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(StatusRepo), new(*data.ConnectionRepo)),
	wire.Bind(new(Notifier), new(*data.RedisNotifier)),
	wire.Bind(new(Transport), new(*data.BridgeTransport)),
)

var (
	_ StatusRepo = (*data.ConnectionRepo)(nil)
	_ Notifier   = (*data.RedisNotifier)(nil)
	_ Transport  = (*data.BridgeTransport)(nil)
)

// ProvideBreakerSet builds the shared breaker set without options.
func ProvideBreakerSet(cfg BreakerConfig, logger log.Logger) *BreakerSet {
	return NewBreakerSet(cfg, logger)
}

// NewBreakerConfig 从配置构建熔断器参数，未设置的字段使用默认值
func NewBreakerConfig(c *conf.Resilience) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if c == nil || c.Breaker == nil {
		return cfg
	}
	if c.Breaker.FailureThreshold > 0 {
		cfg.FailureThreshold = c.Breaker.FailureThreshold
	}
	if c.Breaker.RecoveryTime > 0 {
		cfg.RecoveryTime = c.Breaker.RecoveryTime
	}
	if c.Breaker.MonitorWindow > 0 {
		cfg.MonitorWindow = c.Breaker.MonitorWindow
	}
	return cfg
}

// NewHealthConfig 从配置构建健康检查参数
func NewHealthConfig(c *conf.Resilience) HealthConfig {
	cfg := DefaultHealthConfig()
	if c == nil || c.Health == nil {
		return cfg
	}
	if c.Health.Interval > 0 {
		cfg.Interval = c.Health.Interval
	}
	if c.Health.Timeout > 0 {
		cfg.Timeout = c.Health.Timeout
	}
	if c.Health.HistorySize > 0 {
		cfg.HistorySize = c.Health.HistorySize
	}
	if c.Health.MaxConsecutiveFailures > 0 {
		cfg.MaxConsecutiveFailures = c.Health.MaxConsecutiveFailures
	}
	return cfg
}

// NewReconnectConfig 从配置构建重连退避参数
func NewReconnectConfig(c *conf.Resilience) ReconnectConfig {
	cfg := DefaultReconnectConfig()
	if c == nil || c.Reconnect == nil {
		return cfg
	}
	if c.Reconnect.RetryDelay > 0 {
		cfg.RetryDelay = c.Reconnect.RetryDelay
	}
	if c.Reconnect.BackoffMultiplier >= 1 {
		cfg.BackoffMultiplier = c.Reconnect.BackoffMultiplier
	}
	if c.Reconnect.MaxRetryDelay > 0 {
		cfg.MaxRetryDelay = c.Reconnect.MaxRetryDelay
	}
	if c.Reconnect.MaxAttempts > 0 {
		cfg.MaxAttempts = c.Reconnect.MaxAttempts
	}
	return cfg
}

// NewRegistryConfig 从配置构建连接注册表参数
func NewRegistryConfig(c *conf.Resilience) RegistryConfig {
	cfg := DefaultRegistryConfig()
	if c == nil || c.Registry == nil {
		return cfg
	}
	if c.Registry.InitTimeout > 0 {
		cfg.InitTimeout = c.Registry.InitTimeout
	}
	if c.Registry.RestartDelay > 0 {
		cfg.RestartDelay = c.Registry.RestartDelay
	}
	return cfg
}
