package audit

import (
	"context"
	"errors"
	"strings"

	"edgauth.org/internal/obs"
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

// RequestIDFromContext extracts the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry. accountID 0 means the actor is unknown,
// e.g. a failed login or a reset request for an unregistered email.
func LogEvent(ctx context.Context, event string, accountID int64, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	ev := obs.Logger().Info().Str("type", "audit").Str("event", event)
	if rid := RequestIDFromContext(ctx); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	if accountID > 0 {
		ev = ev.Int64("account_id", accountID)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	ev.Interface("fields", fields).Msg("audit")
	return nil
}
