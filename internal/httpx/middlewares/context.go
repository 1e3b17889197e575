package middlewares

import (
	"context"

	"github.com/pehchan-id/pehchan/internal/session"
)

type ctxKey string

const (
	ctxRequestIDKey ctxKey = "request_id"
	ctxSessionKey   ctxKey = "session"
)

func setRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, rid)
}

// GetRequestID returns the request id, or "" outside the chain.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSession injects the authenticated session. Only the gateway calls
// this; controllers read it back with GetSession.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, ctxSessionKey, s)
}

// GetSession returns the session placed by the gateway, or nil on
// public paths.
func GetSession(ctx context.Context) *session.Session {
	if v, ok := ctx.Value(ctxSessionKey).(*session.Session); ok {
		return v
	}
	return nil
}
