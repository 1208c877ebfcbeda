package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/mediguard/mediguard-platform/internal/session"
)

type contextKey string

const (
	identityKey contextKey = "identity"
	tokenKey    contextKey = "session_token"
)

// IdentityResolver turns a session token into an identity.
type IdentityResolver interface {
	Authenticate(token string) (*session.Identity, error)
}

// RequireUser rejects requests without a valid session token. The token is
// read from the Authorization header, or from the access_token query
// parameter for websocket upgrades where browsers cannot set headers.
func RequireUser(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				http.Error(w, "auth disabled", http.StatusUnauthorized)
				return
			}
			token := BearerToken(r)
			if token == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			id, err := resolver.Authenticate(token)
			if err != nil || id == nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(WithIdentity(r.Context(), id), tokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole must run after RequireUser.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !id.HasRole(role) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the session token from r, or "".
func BearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// WithIdentity stores id for handlers and tells the request logger who
// made the call.
func WithIdentity(ctx context.Context, id *session.Identity) context.Context {
	if info, ok := ctx.Value(requestInfoKey).(*requestInfo); ok && id != nil {
		info.uid.Store(id.UID)
	}
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity RequireUser stored.
func IdentityFromContext(ctx context.Context) (*session.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*session.Identity)
	return id, ok && id != nil
}

// TokenFromContext returns the session token RequireUser verified, so
// outbound calls can act as the same user.
func TokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey).(string)
	return tok
}
