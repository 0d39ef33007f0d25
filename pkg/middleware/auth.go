package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/pms/pkg/auth"
	"github.com/platinummonkey/pms/pkg/contextkeys"
	"github.com/platinummonkey/pms/pkg/httputil"
)

// AuthMiddleware turns an "Authorization: Bearer <jwt>" header into an
// *auth.AuthContext on the request context
type AuthMiddleware struct {
	tokens   *auth.TokenManager
	optional bool
}

// NewAuthMiddleware creates an AuthMiddleware. With optional set, requests
// without an Authorization header pass through anonymously; a malformed or
// invalid token is still rejected.
func NewAuthMiddleware(tokens *auth.TokenManager, optional bool) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, optional: optional}
}

// Handler authenticates requests to next
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			challenge(w, "missing authorization header")
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			challenge(w, "invalid authorization header format")
			return
		}

		claims, err := m.tokens.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			challenge(w, "invalid or expired token")
			return
		}

		caller := auth.ContextFromClaims(claims)
		ctx := contextkeys.WithUserID(contextkeys.WithAuth(r.Context(), caller), caller.UserID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func challenge(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="pms"`)
	httputil.WriteUnauthorized(w, message)
}

// GetAuthContext returns the authenticated caller, or nil
func GetAuthContext(r *http.Request) *auth.AuthContext {
	caller, _ := contextkeys.Value[*auth.AuthContext](r.Context(), contextkeys.AuthKey)
	return caller
}

// RequireAdmin answers 401 for anonymous callers and 403 for callers whose
// token lacks the admin flag
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch caller := GetAuthContext(r); {
		case caller == nil:
			challenge(w, "authentication required")
		case !caller.IsAdmin():
			httputil.WriteForbidden(w, "administrator access required")
		default:
			next.ServeHTTP(w, r)
		}
	})
}
