// ABOUTME: HTTP middleware for optional JWT authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header and adds the session to context

package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns "" if there is no usable token.
func extractBearerToken(authHeader string) string {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authHeader, "Bearer ")
}

// Middleware creates an HTTP middleware that resolves the caller's identity
// from a bearer token. Authentication is optional: anonymous requests and
// requests with invalid tokens proceed without a session rather than being
// rejected, since chatting does not require an account. Handlers that need
// an identity check FromContext themselves.
func Middleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	logger := slog.Default().With("component", "auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r.Header.Get("Authorization"))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("ignoring invalid token", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithSession(r.Context(), &Session{UserID: userID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
