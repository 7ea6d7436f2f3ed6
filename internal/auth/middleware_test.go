package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func okHandler(t *testing.T, wantRole Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := RoleFromContext(r.Context()); got != wantRole {
			t.Errorf("expected role %q in context, got %q", wantRole, got)
		}
		if SubjectFromContext(r.Context()) != "ops" {
			t.Errorf("expected subject in context")
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequire_NoToken(t *testing.T) {
	mw := NewMiddleware([]byte("test-secret"))
	handler := mw.Require(RoleEditor, okHandler(t, RoleEditor))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/stations", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestRequire_EditorCannotImport(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueJWT(secret, "ops", RoleEditor, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	handler := NewMiddleware(secret).Require(RoleAdmin, okHandler(t, RoleAdmin))

	req := httptest.NewRequest(http.MethodPost, "/api/admin/import", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestRequire_AdminSatisfiesEditor(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueJWT(secret, "ops", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	handler := NewMiddleware(secret).Require(RoleEditor, okHandler(t, RoleAdmin))

	req := httptest.NewRequest(http.MethodPatch, "/api/admin/stations/s1", nil)
	req.Header.Set("Authorization", "bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestRequire_RejectsBadTokens(t *testing.T) {
	secret := []byte("test-secret")
	handler := NewMiddleware(secret).Require(RoleEditor, okHandler(t, RoleEditor))

	wrongSecret, _ := IssueJWT([]byte("other"), "ops", RoleAdmin, time.Hour)
	expired := mustToken(t, secret, "editor", time.Now().Add(-time.Hour))
	unknownRole := mustToken(t, secret, "viewer", time.Now().Add(time.Hour))

	for name, token := range map[string]string{
		"wrong secret": wrongSecret,
		"expired":      expired,
		"unknown role": unknownRole,
		"garbage":      "abc.def.ghi",
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/stations", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, resp.Code)
		}
	}
}

func TestIssueJWTValidation(t *testing.T) {
	if _, err := IssueJWT(nil, "ops", RoleAdmin, time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := IssueJWT([]byte("s"), "ops", Role("root"), time.Hour); err == nil {
		t.Fatal("expected error for unknown role")
	}
	if _, err := IssueJWT([]byte("s"), "ops", RoleAdmin, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func mustToken(t *testing.T, secret []byte, role string, expires time.Time) string {
	t.Helper()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			IssuedAt:  jwt.NewNumericDate(expires.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
