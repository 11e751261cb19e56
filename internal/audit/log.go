package audit

import (
	"context"
	"log/slog"
	"strings"

	"qazna.org/authcore/internal/auth"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the id attached by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger writes security events (logins, resets, logouts) as structured records.
type Logger struct {
	log *slog.Logger
}

// New returns an audit logger; a nil base discards events.
func New(base *slog.Logger) *Logger {
	if base == nil {
		base = slog.New(slog.DiscardHandler)
	}
	return &Logger{log: base.With("type", "audit")}
}

// Event records one audit entry enriched with request and caller context.
// Passwords and tokens must never be passed in attrs.
func (l *Logger) Event(ctx context.Context, event, outcome string, attrs ...any) {
	if l == nil {
		return
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return
	}
	fields := []any{"event", event, "outcome", outcome}
	if rid := RequestID(ctx); rid != "" {
		fields = append(fields, "request_id", rid)
	}
	if p, ok := auth.PrincipalFrom(ctx); ok {
		fields = append(fields, "identity_id", p.IdentityID)
	}
	if len(attrs) > 0 {
		fields = append(fields, slog.Group("fields", attrs...))
	}
	level := slog.LevelInfo
	if outcome != "success" {
		level = slog.LevelWarn
	}
	l.log.Log(ctx, level, "audit", fields...)
}
