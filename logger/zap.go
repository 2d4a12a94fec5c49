package logger

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ZapLogger struct {
	log *zap.Logger
}

// ParseLevel maps a LOG_LEVEL value to a zap level. Unknown values fall
// back to info.
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewZapLogger builds a production JSON logger at the given level.
func NewZapLogger(level string) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return &ZapLogger{log: log}, nil
}

// NewFromZap wraps an existing zap logger, e.g. zaptest or zap.NewNop.
func NewFromZap(log *zap.Logger) Logger {
	return &ZapLogger{log: log}
}

func (z *ZapLogger) Debug(msg string, fields map[string]any) {
	z.log.Debug(msg, toZapFields(fields)...)
}

func (z *ZapLogger) Info(msg string, fields map[string]any) {
	z.log.Info(msg, toZapFields(fields)...)
}

func (z *ZapLogger) Warn(msg string, fields map[string]any) {
	z.log.Warn(msg, toZapFields(fields)...)
}

func (z *ZapLogger) Error(msg string, fields map[string]any) {
	z.log.Error(msg, toZapFields(fields)...)
}

func (z *ZapLogger) With(fields map[string]any) Logger {
	return &ZapLogger{log: z.log.With(toZapFields(fields)...)}
}

func (z *ZapLogger) Sync() error {
	return z.log.Sync()
}

// toZapFields sorts keys so entries are stable across runs.
func toZapFields(m map[string]any) []zap.Field {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(m))
	for _, k := range keys {
		switch v := m[k].(type) {
		case error:
			fields = append(fields, zap.NamedError(k, v))
		case fmt.Stringer:
			fields = append(fields, zap.Stringer(k, v))
		default:
			fields = append(fields, zap.Any(k, v))
		}
	}
	return fields
}
