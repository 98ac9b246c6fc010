package rla

import (
	"context"
	"log/slog"
	"time"
)

// SyncLogEvent describes one step of the synchronisation cycle.
type SyncLogEvent struct {
	Op       string
	Actor    Actor
	Version  uint64
	Duration time.Duration
	Err      error
	Fields   map[string]any
}

// SyncLogger records synchronisation events.
type SyncLogger interface {
	LogSync(SyncLogEvent)
}

// SyncLoggerFunc adapts a function to SyncLogger.
type SyncLoggerFunc func(SyncLogEvent)

// LogSync implements SyncLogger.
func (f SyncLoggerFunc) LogSync(event SyncLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopSyncLogger struct{}

func (noopSyncLogger) LogSync(SyncLogEvent) {}

// EvaluatorLogEvent describes an evaluation attempt for logging.
type EvaluatorLogEvent struct {
	Engine   string
	Expr     string
	Scope    string
	Duration time.Duration
	Err      error
}

// EvaluatorLogger records evaluator events.
type EvaluatorLogger interface {
	LogEvaluation(EvaluatorLogEvent)
}

// EvaluatorLoggerFunc adapts a function to EvaluatorLogger.
type EvaluatorLoggerFunc func(EvaluatorLogEvent)

// LogEvaluation implements EvaluatorLogger.
func (f EvaluatorLoggerFunc) LogEvaluation(event EvaluatorLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopEvaluatorLogger struct{}

func (noopEvaluatorLogger) LogEvaluation(EvaluatorLogEvent) {}

// WithLogger attaches a synchronisation logger.
func WithLogger(logger SyncLogger) Option {
	return func(cfg *sessionConfig) {
		if logger == nil {
			cfg.logger = noopSyncLogger{}
			return
		}
		cfg.logger = logger
	}
}

// WithEvaluatorLogger attaches an evaluator logger.
func WithEvaluatorLogger(logger EvaluatorLogger) Option {
	return func(cfg *sessionConfig) {
		if logger == nil {
			cfg.evalLogger = noopEvaluatorLogger{}
			return
		}
		cfg.evalLogger = logger
	}
}

// SlogLogger writes sync and evaluator events to a structured logger. A nil
// logger falls back to slog.Default.
type SlogLogger struct {
	Logger *slog.Logger
	Module string
}

// NewSlogLogger returns a SlogLogger tagged with the rla module name.
func NewSlogLogger(logger *slog.Logger) SlogLogger {
	return SlogLogger{Logger: logger, Module: "rla"}
}

func (l SlogLogger) resolve() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l SlogLogger) module() string {
	if l.Module != "" {
		return l.Module
	}
	return "rla"
}

// LogSync implements SyncLogger. Stale snapshots log at debug level, other
// failures at warn.
func (l SlogLogger) LogSync(event SyncLogEvent) {
	attrs := []any{
		"event", "rla_" + event.Op,
		"module", l.module(),
		"layer", "sync",
		"actor", string(event.Actor),
		"version", event.Version,
		"duration", event.Duration,
	}
	for key, value := range event.Fields {
		attrs = append(attrs, key, value)
	}
	level := slog.LevelInfo
	msg := event.Op + " applied"
	if event.Err != nil {
		attrs = append(attrs, "error", event.Err.Error())
		level = slog.LevelWarn
		msg = event.Op + " failed"
		if isStale(event.Err) {
			level = slog.LevelDebug
			msg = event.Op + " discarded"
		}
	}
	l.resolve().Log(context.Background(), level, msg, attrs...)
}

// LogEvaluation implements EvaluatorLogger.
func (l SlogLogger) LogEvaluation(event EvaluatorLogEvent) {
	attrs := []any{
		"event", "rla_evaluate",
		"module", l.module(),
		"layer", "query",
		"engine", event.Engine,
		"expr", event.Expr,
		"scope", event.Scope,
		"duration", event.Duration,
	}
	if event.Err != nil {
		l.resolve().Warn("evaluation failed", append(attrs, "error", event.Err.Error())...)
		return
	}
	l.resolve().Debug("evaluation completed", attrs...)
}
