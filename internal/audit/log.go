// Package audit writes the security event trail: one structured record per
// auth-relevant action, enriched with the request and caller identity.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"

	"authgate.org/internal/auth"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

var logger atomic.Pointer[slog.Logger]

// SetLogger installs the destination for audit records. Defaults to
// slog.Default when unset.
func SetLogger(log *slog.Logger) {
	if log != nil {
		logger.Store(log)
	}
}

func activeLogger() *slog.Logger {
	if log := logger.Load(); log != nil {
		return log
	}
	return slog.Default()
}

// WithRequestID attaches the request identifier to the context for audit
// records emitted downstream.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent records one audit event enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("audit: event name is required")
	}

	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		attrs = append(attrs, slog.String("user_id", p.UserID))
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}

	activeLogger().LogAttrs(ctx, slog.LevelInfo, "audit event", attrs...)
	return nil
}
