package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey      contextKey = "request_id"
	sessionIDKey      contextKey = "session_id"
	conversationIDKey contextKey = "conversation_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithSessionID adds a session ID to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext retrieves the session ID from context.
// Returns empty string if not present.
func SessionIDFromContext(ctx context.Context) string {
	if v := ctx.Value(sessionIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithConversationID adds a conversation ID to the context.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationIDKey, conversationID)
}

// ConversationIDFromContext retrieves the conversation ID from context.
// Returns empty string if not present.
func ConversationIDFromContext(ctx context.Context) string {
	if v := ctx.Value(conversationIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// SessionContext contains all the request-scoped identifiers for a session operation.
type SessionContext struct {
	RequestID      string
	SessionID      string
	ConversationID string
}

// WithSessionContextFull adds all session context identifiers to the context.
func WithSessionContextFull(ctx context.Context, sc SessionContext) context.Context {
	if sc.RequestID != "" {
		ctx = WithRequestID(ctx, sc.RequestID)
	}
	if sc.SessionID != "" {
		ctx = WithSessionID(ctx, sc.SessionID)
	}
	if sc.ConversationID != "" {
		ctx = WithConversationID(ctx, sc.ConversationID)
	}
	return ctx
}

// SessionContextFromContext extracts all session context identifiers from the context.
func SessionContextFromContext(ctx context.Context) SessionContext {
	return SessionContext{
		RequestID:      RequestIDFromContext(ctx),
		SessionID:      SessionIDFromContext(ctx),
		ConversationID: ConversationIDFromContext(ctx),
	}
}
