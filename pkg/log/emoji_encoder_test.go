package log

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestPickEmoji(t *testing.T) {
	tests := []struct {
		name   string
		level  zapcore.Level
		fields []zapcore.Field
		want   string
	}{
		{"http 5xx", zapcore.InfoLevel, []zapcore.Field{zap.Int("status", 503), zap.String("type", "request")}, "🔴"},
		{"http 4xx", zapcore.InfoLevel, []zapcore.Field{zap.Int("status", 404)}, "🟠"},
		{"http 2xx", zapcore.InfoLevel, []zapcore.Field{zap.Int("status", 200)}, "🟢"},
		{"healthy", zapcore.InfoLevel, []zapcore.Field{zap.Bool("healthy", true), zap.String("type", "health")}, "💚"},
		{"unhealthy", zapcore.InfoLevel, []zapcore.Field{zap.Bool("healthy", false), zap.String("type", "health")}, "💔"},
		{"reconnect gave up", zapcore.InfoLevel, []zapcore.Field{zap.String("phase", "failed"), zap.String("type", "reconnect")}, "🔴"},
		{"reconnect unknown phase", zapcore.InfoLevel, []zapcore.Field{zap.String("phase", "weird"), zap.String("type", "reconnect")}, "🔁"},
		{"breaker", zapcore.WarnLevel, []zapcore.Field{zap.String("type", "breaker")}, "🧯"},
		{"error level", zapcore.ErrorLevel, nil, "❌"},
		{"warn level", zapcore.WarnLevel, nil, "⚠️"},
		{"debug level", zapcore.DebugLevel, nil, "🐛"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickEmoji(tt.level, tt.fields))
		})
	}
}

func TestEmojiConsoleEncoder_EncodeEntry(t *testing.T) {
	enc := NewEmojiConsoleEncoder(zapcore.EncoderConfig{MessageKey: "msg", LevelKey: "level", EncodeLevel: zapcore.LowercaseLevelEncoder})

	buf, err := enc.EncodeEntry(
		zapcore.Entry{Level: zapcore.InfoLevel, Time: time.Now(), Message: "pairing code issued"},
		[]zapcore.Field{zap.String("type", "connection"), zap.Int64("connection_id", 9)},
	)
	require.NoError(t, err)
	defer buf.Free()

	out := buf.String()
	assert.True(t, strings.Contains(out, "🔌 pairing code issued"), out)
	assert.Contains(t, out, `"connection_id": 9`)

	clone := enc.Clone()
	_, ok := clone.(*EmojiConsoleEncoder)
	assert.True(t, ok)
}
