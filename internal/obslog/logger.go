// Package obslog provides the structured logger used across the
// orchestration core. It wraps logrus the same way the teacher's
// pkg/logger and infrastructure/logging packages do, and additionally
// threads a zap logger for the hot retry/dispatch path where allocation
// discipline matters more than logrus's convenience API.
package obslog

import (
	"context"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Config controls logger construction.
type Config struct {
	Service string
	Level   string
	Format  string // "json" or "text"
}

// Logger wraps logrus.Logger with orchestration-specific context helpers.
type Logger struct {
	*logrus.Logger
	service string
}

// New builds a Logger from cfg, defaulting unset fields the way the
// teacher's logger.New does.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.ToLower(cfg.Format) == "json" {
		l.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l, service: cfg.Service}
}

// NewDefault returns an info-level, text-formatted logger for the given service.
func NewDefault(service string) *Logger {
	return New(Config{Service: service, Level: "info", Format: "text"})
}

// WithContext attaches the trace ID carried by ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if id := TraceID(ctx); id != "" {
		entry = entry.WithField("trace_id", id)
	}
	return entry
}

// NewTraceID mints a fresh trace identifier.
func NewTraceID() string { return uuid.New().String() }

// WithTraceID attaches a trace ID to ctx.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// TraceID reads the trace ID from ctx, if present.
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}
