// Package log wires zap behind the Kratos log.Logger interface and adds
// typed helpers, request context and field sanitization for ConnGuard.
package log

import (
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"go.uber.org/zap"
)

// badKey is used when keyvals has an odd length.
const badKey = "!BADKEY"

// KratosAdapter adapts Zap logger to Kratos log.Logger interface.
// The "msg" pair becomes the zap entry message; every other pair becomes a typed field.
type KratosAdapter struct {
	zapLogger *zap.Logger
}

// NewKratosAdapter creates a new Kratos adapter for Zap logger
func NewKratosAdapter(zapLogger *zap.Logger) log.Logger {
	return &KratosAdapter{
		zapLogger: zapLogger,
	}
}

// Log implements Kratos log.Logger interface
func (a *KratosAdapter) Log(level log.Level, keyvals ...interface{}) error {
	if len(keyvals) == 0 {
		return nil
	}
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals[:len(keyvals)-1:len(keyvals)-1], badKey, keyvals[len(keyvals)-1])
	}

	var msg string
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if key == log.DefaultMessageKey {
			if s, ok := keyvals[i+1].(string); ok && msg == "" {
				msg = s
				continue
			}
		}
		fields = append(fields, toField(key, keyvals[i+1]))
	}

	switch level {
	case log.LevelDebug:
		a.zapLogger.Debug(msg, fields...)
	case log.LevelWarn:
		a.zapLogger.Warn(msg, fields...)
	case log.LevelError:
		a.zapLogger.Error(msg, fields...)
	case log.LevelFatal:
		a.zapLogger.Fatal(msg, fields...)
	default:
		a.zapLogger.Info(msg, fields...)
	}
	return nil
}

// toField picks a typed zap constructor. Strings and Stringers pass through SanitizeField.
func toField(key string, value interface{}) zap.Field {
	switch v := value.(type) {
	case string:
		return zap.String(key, SanitizeField(key, v))
	case error:
		return zap.String(key, SanitizeField(key, v.Error()))
	case time.Duration:
		return zap.String(key, v.String())
	case time.Time:
		return zap.Time(key, v)
	case fmt.Stringer:
		return zap.String(key, SanitizeField(key, v.String()))
	default:
		return zap.Any(key, v)
	}
}
