package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"threatwatch/internal/auth"
	"threatwatch/internal/config"
)

func newAuth(t *testing.T, enabled bool) *auth.Authenticator {
	t.Helper()
	a, err := auth.NewAuthenticator(config.AuthConfig{
		Enabled:   enabled,
		Username:  "operator",
		Password:  "hunter2",
		JWTSecret: "test",
		JWTExpiry: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func protected() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Operator", Operator(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireOperator(t *testing.T) {
	a := newAuth(t, true)
	tok, err := a.Login("operator", "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		target string
		status int
	}{
		{"no credentials", func(r *http.Request) {}, "/api/v1/threat", http.StatusUnauthorized},
		{"basic ok", func(r *http.Request) { r.SetBasicAuth("operator", "hunter2") }, "/api/v1/threat", http.StatusOK},
		{"basic wrong", func(r *http.Request) { r.SetBasicAuth("operator", "nope") }, "/api/v1/threat", http.StatusUnauthorized},
		{"bearer ok", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok.Value) }, "/api/v1/threat", http.StatusOK},
		{"bearer garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, "/api/v1/threat", http.StatusUnauthorized},
		{"bad scheme", func(r *http.Request) { r.Header.Set("Authorization", "Token abc") }, "/api/v1/threat", http.StatusUnauthorized},
		{"query token", func(r *http.Request) {}, "/ws/threat?token=" + tok.Value, http.StatusOK},
	}

	h := RequireOperator(a)(protected())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status == http.StatusOK && rec.Header().Get("X-Operator") != "operator" {
				t.Error("claims missing from context")
			}
			if tt.status == http.StatusUnauthorized && rec.Header().Get("Content-Type") != "application/json" {
				t.Error("error body should be JSON")
			}
		})
	}
}

func TestRequireOperatorDisabled(t *testing.T) {
	h := RequireOperator(newAuth(t, false))(protected())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/threat", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
