// Package logger wraps zap with the context-field extraction convention
// used across this service: every log line carries session_id/job_id/
// correlation_id when they're present on the context.
package logger

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const (
	ctxKeySessionID     ctxKey = "session_id"
	ctxKeyJobID         ctxKey = "job_id"
	ctxKeyCorrelationID ctxKey = "correlation_id"
)

// WithSessionID returns a context carrying the session id for log fields.
func WithSessionID(ctx context.Context, id uint32) context.Context {
	return context.WithValue(ctx, ctxKeySessionID, id)
}

// WithJobID returns a context carrying the job id for log fields.
func WithJobID(ctx context.Context, id uint32) context.Context {
	return context.WithValue(ctx, ctxKeyJobID, id)
}

// WithCorrelationID returns a context carrying the correlation id for log fields.
func WithCorrelationID(ctx context.Context, id uint32) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

var global *Logger

// Config controls how the global logger is built.
type Config struct {
	Level      string `yaml:"level"`      // debug, info, warn, error
	Format     string `yaml:"format"`     // json, console
	OutputPath string `yaml:"outputPath"` // file path or "stdout"
	ErrorPath  string `yaml:"errorPath"`  // file path or "stderr"
}

// Logger wraps a zap logger.
type Logger struct {
	zap *zap.Logger
}

// Init builds and installs the global logger.
func Init(cfg Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	global = l
	return nil
}

// New builds a standalone Logger without installing it globally.
func New(cfg Config) (*Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    "func",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     rfc3339TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = "stdout"
	}

	var writeSyncer zapcore.WriteSyncer
	if outputPath == "stdout" {
		writeSyncer = zapcore.AddSync(os.Stdout)
	} else {
		file, err := os.OpenFile(outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writeSyncer = zapcore.AddSync(file)
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{zap: zapLogger}, nil
}

func rfc3339TimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format(time.RFC3339))
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// WithContext returns a zap.Logger pre-populated with fields pulled from ctx.
func (l *Logger) WithContext(ctx context.Context) *zap.Logger {
	return l.zap.With(fieldsFromContext(ctx)...)
}

func fieldsFromContext(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if v := ctx.Value(ctxKeySessionID); v != nil {
		fields = append(fields, zap.Any("session_id", v))
	}
	if v := ctx.Value(ctxKeyJobID); v != nil {
		fields = append(fields, zap.Any("job_id", v))
	}
	if v := ctx.Value(ctxKeyCorrelationID); v != nil {
		fields = append(fields, zap.Any("correlation_id", v))
	}
	return fields
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) { logAt(ctx, "debug", msg, fields) }
func Info(ctx context.Context, msg string, fields ...zap.Field)  { logAt(ctx, "info", msg, fields) }
func Warn(ctx context.Context, msg string, fields ...zap.Field)  { logAt(ctx, "warn", msg, fields) }
func Error(ctx context.Context, msg string, fields ...zap.Field) { logAt(ctx, "error", msg, fields) }
func Fatal(ctx context.Context, msg string, fields ...zap.Field) { logAt(ctx, "fatal", msg, fields) }

func logAt(ctx context.Context, level, msg string, fields []zap.Field) {
	if global == nil {
		return
	}
	l := global.WithContext(ctx)
	switch level {
	case "debug":
		l.Debug(msg, fields...)
	case "warn":
		l.Warn(msg, fields...)
	case "error":
		l.Error(msg, fields...)
	case "fatal":
		l.Fatal(msg, fields...)
	default:
		l.Info(msg, fields...)
	}
}

// Sync flushes the global logger, if installed.
func Sync() error {
	if global == nil {
		return nil
	}
	return global.Sync()
}

// Get returns the installed global logger, or nil if Init was never called.
func Get() *Logger {
	return global
}
