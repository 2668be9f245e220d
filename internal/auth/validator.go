// Package auth provides token validation and an adapter that wires
// authentication onto MCP clients, with scheduled refresh ahead of token
// expiry.
package auth

import (
	"strings"
	"time"
)

// The protocol revision advertised in auth metadata.
const protocolVersion = "2025-03-26"

// AuthResult is the outcome of validating a token.
type AuthResult struct {
	IsAuthenticated bool
	Scopes          []string
	ExpiresAt       time.Time
	Error           string
}

// TokenValidator checks a token against required scopes.
type TokenValidator interface {
	// ValidateToken authenticates iff the token is known, unexpired, and
	// carries every required scope.
	ValidateToken(token string, requiredScopes []string) AuthResult
}

// APIKeyValidator validates against a static registry of API keys.
type APIKeyValidator struct {
	keys map[string]apiKey
}

type apiKey struct {
	scopes    []string
	expiresAt time.Time
}

// NewAPIKeyValidator creates an empty validator.
func NewAPIKeyValidator() *APIKeyValidator {
	return &APIKeyValidator{keys: make(map[string]apiKey)}
}

// RegisterKey adds a key with its scopes and expiry.
func (v *APIKeyValidator) RegisterKey(token string, scopes []string, expiresAt time.Time) {
	v.keys[token] = apiKey{scopes: append([]string(nil), scopes...), expiresAt: expiresAt}
}

// ValidateToken implements TokenValidator.
func (v *APIKeyValidator) ValidateToken(token string, requiredScopes []string) AuthResult {
	key, ok := v.keys[token]
	if !ok || token == "" {
		return AuthResult{Error: "Invalid token"}
	}
	if !time.Now().Before(key.expiresAt) {
		return AuthResult{Error: "Token expired"}
	}
	if !scopesSubset(requiredScopes, key.scopes) {
		return AuthResult{Error: "Insufficient scopes"}
	}
	return AuthResult{
		IsAuthenticated: true,
		Scopes:          append([]string(nil), key.scopes...),
		ExpiresAt:       key.expiresAt,
	}
}

func scopesSubset(required, granted []string) bool {
	have := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		have[strings.TrimSpace(s)] = struct{}{}
	}
	for _, s := range required {
		if _, ok := have[strings.TrimSpace(s)]; !ok {
			return false
		}
	}
	return true
}

var _ TokenValidator = (*APIKeyValidator)(nil)
