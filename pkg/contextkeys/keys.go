// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains *session.View
	// Set by: middleware.Session (pkg/middleware/session.go)
	// Required by: admin handlers, data proxy
	// Type: *session.View
	SessionKey Key = "session_view"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: Logger, request tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated account id
	// Set by: middleware.Session once the session cookie parses
	// Used by: Logger
	// Type: string
	UserIDKey Key = "user_id"
)

// WithSession adds a session view to the context
func WithSession(ctx context.Context, view interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, view)
}

// Session retrieves the raw session view from the context, or nil
func Session(ctx context.Context) interface{} {
	return ctx.Value(SessionKey)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID retrieves the request ID from the context
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithUserID adds the authenticated account id to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserID retrieves the authenticated account id from the context
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}
