// Package middleware holds HTTP middleware shared by the API routes.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"threatwatch/internal/auth"
	"threatwatch/internal/logging"
)

type operatorKey struct{}

// RequireOperator rejects requests that carry neither valid Basic
// credentials nor a valid bearer token. The token may also come from the
// "token" query parameter, which is how browser websockets authenticate.
// With auth disabled every request passes.
func RequireOperator(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			operator, msg := identify(a, r)
			if operator == "" {
				unauthorized(w, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey{}, operator)))
		})
	}
}

func identify(a *auth.Authenticator, r *http.Request) (operator, msg string) {
	if user, pass, ok := r.BasicAuth(); ok {
		if a.Check(user, pass) != nil {
			return "", "invalid credentials"
		}
		return user, ""
	}

	raw := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", "unsupported authorization scheme"
		}
		raw = value
	}
	if raw == "" {
		return "", "credentials required"
	}

	claims, err := a.Verify(raw)
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "", "token has expired"
	case err != nil:
		return "", "invalid token"
	}
	return claims.Operator, ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Basic realm="threatwatch", charset="UTF-8"`)
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		logging.Debug().Err(err).Msg("write auth error")
	}
}

// Operator returns the authenticated operator, or "" when auth is disabled.
func Operator(ctx context.Context) string {
	op, _ := ctx.Value(operatorKey{}).(string)
	return op
}
