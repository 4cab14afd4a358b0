package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"ConnGuard/internal/conf"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// defaultZone is used when Log.TimeZone is empty or cannot be loaded.
var defaultZone = time.FixedZone("CST", 8*3600)

// NewZapLogger builds the service logger:
// info and warn go to stdout, error and above to stderr,
// and everything at the configured level to OutputFile when set.
func NewZapLogger(cfg *conf.Log) (*zap.Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("log config is nil")
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encoder := newEncoder(cfg, loadZone(cfg.TimeZone))

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= level && l < zapcore.ErrorLevel
		})),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapcore.ErrorLevel
		})),
	}
	if cfg.OutputFile != "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(newRotator(cfg)), level))
	}

	return zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service", "ConnGuard")),
	), nil
}

// environment falls back to CONNGUARD_ENV, then production.
func environment(cfg *conf.Log) string {
	if cfg.Env != "" {
		return cfg.Env
	}
	if env := os.Getenv("CONNGUARD_ENV"); env != "" {
		return env
	}
	return "production"
}

func newEncoder(cfg *conf.Log, zone *time.Location) zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		TimeKey:       "timestamp",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		FunctionKey:   zapcore.OmitKey,
		MessageKey:    "msg",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.LowercaseLevelEncoder,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.In(zone).Format("[2006-01-02 15:04:05]"))
		},
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if strings.EqualFold(cfg.Format, "console") || environment(cfg) == "development" {
		return NewEmojiConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func loadZone(name string) *time.Location {
	if name == "" {
		return defaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return defaultZone
	}
	return loc
}

func newRotator(cfg *conf.Log) io.Writer {
	r := &lumberjack.Logger{
		Filename:   cfg.OutputFile,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	if r.MaxSize <= 0 {
		r.MaxSize = 100
	}
	return r
}
