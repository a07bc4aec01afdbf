// ABOUTME: Session context for tracking identity through request handlers
// ABOUTME: Provides WithSession/FromContext for propagating identity via context

package auth

import (
	"context"
)

// Session holds the authenticated identity extracted from a request. The
// middleware populates it; handlers retrieve it with FromContext. A nil
// session means the request is anonymous.
type Session struct {
	UserID string
}

// sessionKey is the key type for storing Session in context.Context.
type sessionKey struct{}

// WithSession returns a new context with the Session attached.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext retrieves the Session from the context, returning nil if not present.
func FromContext(ctx context.Context) *Session {
	val := ctx.Value(sessionKey{})
	if val == nil {
		return nil
	}
	s, ok := val.(*Session)
	if !ok {
		return nil
	}
	return s
}

// UserID returns the session's user ID, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	if s := FromContext(ctx); s != nil {
		return s.UserID
	}
	return ""
}
