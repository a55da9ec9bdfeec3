// Package observability carries job and message identity through a context so
// log lines emitted deep in a call chain can be correlated without threading ids by hand.
package observability

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/exchangeset/internal/logfields"
)

// LogContext holds structured logging context information.
type LogContext struct {
	JobID         string
	CorrelationID string
	DataStandard  string
	Queue         string
	MessageID     string
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithJob adds job identity to the context. Empty values leave existing ones in place.
func WithJob(ctx context.Context, jobID, correlationID, dataStandard string) context.Context {
	lc := extractLogContext(ctx)
	if jobID != "" {
		lc.JobID = jobID
	}
	if correlationID != "" {
		lc.CorrelationID = correlationID
	}
	if dataStandard != "" {
		lc.DataStandard = dataStandard
	}
	return context.WithValue(ctx, logContextKey, lc)
}

// WithMessage adds the queue and message id being handled.
func WithMessage(ctx context.Context, queue, messageID string) context.Context {
	lc := extractLogContext(ctx)
	lc.Queue = queue
	lc.MessageID = messageID
	return context.WithValue(ctx, logContextKey, lc)
}

func extractLogContext(ctx context.Context) LogContext {
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{}
}

// GetContext returns the structured log context from the provided context.
func GetContext(ctx context.Context) LogContext {
	return extractLogContext(ctx)
}

// Attrs returns the context's fields as slog attributes, skipping empty ones.
func Attrs(ctx context.Context) []slog.Attr {
	lc := extractLogContext(ctx)
	attrs := make([]slog.Attr, 0, 5)
	if lc.JobID != "" {
		attrs = append(attrs, logfields.JobID(lc.JobID))
	}
	if lc.CorrelationID != "" {
		attrs = append(attrs, logfields.CorrelationID(lc.CorrelationID))
	}
	if lc.DataStandard != "" {
		attrs = append(attrs, logfields.DataStandard(lc.DataStandard))
	}
	if lc.Queue != "" {
		attrs = append(attrs, logfields.Queue(lc.Queue))
	}
	if lc.MessageID != "" {
		attrs = append(attrs, logfields.MessageID(lc.MessageID))
	}
	return attrs
}

func logAttrs(ctx context.Context, level slog.Level, msg string, attrs []slog.Attr) {
	all := append(Attrs(ctx), attrs...)
	slog.LogAttrs(ctx, level, msg, all...)
}

// InfoContext logs an info message with context information.
func InfoContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelInfo, msg, attrs)
}

// WarnContext logs a warning message with context information.
func WarnContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelWarn, msg, attrs)
}

// ErrorContext logs an error message with context information.
func ErrorContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelError, msg, attrs)
}

// DebugContext logs a debug message with context information.
func DebugContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelDebug, msg, attrs)
}
