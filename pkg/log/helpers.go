package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// LogHelper 扩展 Kratos log.Helper，提供便捷的日志方法
// 通过在日志调用时自动添加 "type" 字段，触发 EmojiConsoleEncoder 的表情符号映射
type LogHelper struct {
	*log.Helper
}

// NewLogHelper 创建增强的日志辅助器
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

func withType(msg, logType string, kvs []interface{}) []interface{} {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	return append(allKvs, "type", logType)
}

// Connection 记录连接生命周期日志（表情符号: 🔌）
func (h *LogHelper) Connection(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "connection", kvs)...)
}

// Breaker 记录熔断器日志（表情符号: 🧯）
func (h *LogHelper) Breaker(msg string, kvs ...interface{}) {
	h.Warnw(withType(msg, "breaker", kvs)...)
}

// Health 记录健康检查日志（表情符号: 💓）
func (h *LogHelper) Health(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "health", kvs)...)
}

// Reconnect 记录重连调度日志（表情符号: 🔁）
func (h *LogHelper) Reconnect(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "reconnect", kvs)...)
}

// Transport 记录会话传输层日志（表情符号: 📡）
func (h *LogHelper) Transport(msg string, kvs ...interface{}) {
	h.Warnw(withType(msg, "transport", kvs)...)
}

// Notification 记录事件推送日志（表情符号: 📣）
func (h *LogHelper) Notification(msg string, kvs ...interface{}) {
	h.Debugw(withType(msg, "notification", kvs)...)
}

// Success 记录成功操作日志（表情符号: ✅）
func (h *LogHelper) Success(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "success", kvs)...)
}

// Database 记录数据库操作日志（表情符号: 💾）
func (h *LogHelper) Database(msg string, kvs ...interface{}) {
	h.Debugw(withType(msg, "database", kvs)...)
}

// Redis 记录 Redis 操作日志（表情符号: 📦）
func (h *LogHelper) Redis(msg string, kvs ...interface{}) {
	h.Debugw(withType(msg, "redis", kvs)...)
}

// Scheduler 记录定时任务日志（表情符号: 🎯）
func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "scheduler", kvs)...)
}

// Startup 记录启动相关日志（表情符号: 🚀）
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "startup", kvs)...)
}

// Request 记录 HTTP 请求日志（表情符号根据状态码）
func (h *LogHelper) Request(method, url string, status int, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, url, status, durationMs)
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"type", "request",
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(allKvs...)
}

// SlowRequest 记录慢请求警告（表情符号: 🐌）
func (h *LogHelper) SlowRequest(ctx context.Context, method, url string, duration, threshold int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)

	msg := fmt.Sprintf("[%s] Slow request detected | %s %s | %dms (threshold: %dms)",
		reqCtx.RequestID, method, url, duration, threshold)

	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"request_id", reqCtx.RequestID,
		"method", method,
		"url", url,
		"duration_ms", duration,
		"threshold_ms", threshold,
		"type", "slow_request",
	)
	h.Warnw(allKvs...)
}

// RequestWithContext 记录带 Context 的 HTTP 请求日志
// 自动从 Context 提取 Request ID 并检测慢请求
func (h *LogHelper) RequestWithContext(ctx context.Context, method, url string, status int, durationMs int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)

	msg := fmt.Sprintf("%s %s - %d (%dms) | RequestID: %s",
		method, url, status, durationMs, reqCtx.RequestID)

	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"type", "request",
		"request_id", reqCtx.RequestID,
		"operation", reqCtx.Operation,
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(allKvs...)

	// 自动检测慢请求（阈值 1000ms）
	if durationMs > 1000 {
		h.SlowRequest(ctx, method, url, durationMs, 1000)
	}
}
