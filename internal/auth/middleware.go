package auth

import (
	"net/http"
	"strings"
)

// Middleware enforces bearer JWT authentication on admin routes.
type Middleware struct {
	Secret []byte
}

// NewMiddleware constructs auth middleware.
func NewMiddleware(secret []byte) *Middleware {
	return &Middleware{Secret: secret}
}

// Require wraps next so it only runs for tokens holding at least role.
func (m *Middleware) Require(role Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := ParseJWT(extractBearer(r), m.Secret)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		got, _ := NormalizeRole(claims.Role)
		if !RoleAtLeast(got, role) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), got, claims.Subject)))
	})
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
