package log

import (
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// typeEmoji 日志类型到表情符号的映射，由 LogHelper 写入的 "type" 字段触发
var typeEmoji = map[string]string{
	"request":      "🌐",
	"success":      "✅",
	"database":     "💾",
	"redis":        "📦",
	"scheduler":    "🎯",
	"startup":      "🚀",
	"connection":   "🔌",
	"breaker":      "🧯",
	"health":       "💓",
	"reconnect":    "🔁",
	"transport":    "📡",
	"notification": "📣",
	"slow_request": "🐌",
}

// phaseEmoji 重连阶段
var phaseEmoji = map[string]string{
	"scheduled":    "⏳",
	"reconnecting": "🔁",
	"connected":    "🟢",
	"failed":       "🔴",
	"blocked":      "⛔",
}

func statusEmoji(status int64) string {
	switch {
	case status >= 500:
		return "🔴"
	case status >= 400:
		return "🟠"
	case status >= 300:
		return "🟡"
	}
	return "🟢"
}

func levelEmoji(l zapcore.Level) string {
	switch {
	case l >= zapcore.ErrorLevel:
		return "❌"
	case l == zapcore.WarnLevel:
		return "⚠️"
	case l == zapcore.InfoLevel:
		return "ℹ️"
	}
	return "🐛"
}

// EmojiConsoleEncoder prefixes console entries with an emoji picked from the entry's fields.
type EmojiConsoleEncoder struct {
	zapcore.Encoder
}

// NewEmojiConsoleEncoder 创建带表情符号的控制台编码器
func NewEmojiConsoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &EmojiConsoleEncoder{Encoder: zapcore.NewConsoleEncoder(cfg)}
}

// EncodeEntry 优先级: HTTP 状态码 > 健康状态 > 重连阶段 > type > 日志级别
func (enc *EmojiConsoleEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	entry.Message = pickEmoji(entry.Level, fields) + " " + entry.Message
	return enc.Encoder.EncodeEntry(entry, fields)
}

func pickEmoji(level zapcore.Level, fields []zapcore.Field) string {
	var (
		logType, phase string
		status         int64
		healthy        *bool
	)
	for _, f := range fields {
		switch {
		case f.Key == "type" && f.Type == zapcore.StringType:
			logType = f.String
		case f.Key == "phase" && f.Type == zapcore.StringType:
			phase = f.String
		case f.Key == "status" && (f.Type == zapcore.Int64Type || f.Type == zapcore.Int32Type):
			status = f.Integer
		case f.Key == "healthy" && f.Type == zapcore.BoolType:
			b := f.Integer == 1
			healthy = &b
		}
	}

	switch {
	case status > 0:
		return statusEmoji(status)
	case healthy != nil && *healthy:
		return "💚"
	case healthy != nil:
		return "💔"
	}
	if e, ok := phaseEmoji[phase]; ok {
		return e
	}
	if e, ok := typeEmoji[logType]; ok {
		return e
	}
	return levelEmoji(level)
}

// Clone 克隆编码器（Zap 内部使用）
func (enc *EmojiConsoleEncoder) Clone() zapcore.Encoder {
	return &EmojiConsoleEncoder{Encoder: enc.Encoder.Clone()}
}
