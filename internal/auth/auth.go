// Package auth guards the dashboard API with a single operator account.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"threatwatch/internal/config"
	"threatwatch/internal/logging"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Authenticator holds the operator credentials and the token signer.
type Authenticator struct {
	enabled  bool
	operator string
	hash     []byte
	tokens   *Tokens
}

// NewAuthenticator builds an authenticator from configuration. The password
// may be given in plaintext or as a bcrypt hash.
func NewAuthenticator(cfg config.AuthConfig) (*Authenticator, error) {
	tokens, err := NewTokens(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return nil, err
	}
	a := &Authenticator{enabled: cfg.Enabled, operator: cfg.Username, tokens: tokens}
	if !cfg.Enabled {
		logging.Warn().Msg("authentication disabled, the dashboard API is open to anyone who can reach it")
		return a, nil
	}

	if isBcrypt(cfg.Password) {
		a.hash = []byte(cfg.Password)
		return a, nil
	}
	if a.hash, err = bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost); err != nil {
		return nil, fmt.Errorf("hash operator password: %w", err)
	}
	return a, nil
}

func isBcrypt(s string) bool {
	if len(s) != 60 {
		return false
	}
	for _, p := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func (a *Authenticator) Enabled() bool { return a.enabled }

// Check validates an operator name and password.
func (a *Authenticator) Check(operator, password string) error {
	if !a.enabled {
		return ErrAuthDisabled
	}
	nameOK := subtle.ConstantTimeCompare([]byte(operator), []byte(a.operator)) == 1
	// bcrypt runs even when the name is wrong.
	pwErr := bcrypt.CompareHashAndPassword(a.hash, []byte(password))
	if !nameOK || pwErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Login checks credentials and issues a session token.
func (a *Authenticator) Login(operator, password string) (Token, error) {
	if err := a.Check(operator, password); err != nil {
		return Token{}, err
	}
	return a.tokens.Issue(operator)
}

// Verify validates a session token.
func (a *Authenticator) Verify(raw string) (*Claims, error) {
	return a.tokens.Verify(raw)
}

// HashPassword returns a bcrypt hash suitable for the auth.password setting.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
