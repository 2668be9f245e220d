package auth

import (
	"log/slog"
	"sync"
	"time"

	"github.com/loomworks/loom/internal/errors"
)

// Refresh fires this long before token expiry.
const refreshLead = 60 * time.Second

// AuthCapable is the capability an MCP client must expose for the adapter
// to enable authentication on it. The validator is passed as any so client
// implementations do not depend on this package.
type AuthCapable interface {
	EnableAuthentication(validator any) error
}

// AuthContext is the per-client authentication state held by the adapter.
type AuthContext struct {
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
	Metadata  map[string]string
}

// AdapterConfig configures the McpAuthAdapter.
type AdapterConfig struct {
	// Token is validated on every authenticate and refresh.
	Token string
	// DefaultScopes are required of the token.
	DefaultScopes []string
	// AuthMethod is reported in auth metadata, e.g. "api_key".
	AuthMethod string
	// AutoRefresh schedules re-validation shortly before expiry.
	AutoRefresh bool
}

// McpAuthAdapter authenticates MCP clients against a TokenValidator and
// keeps their auth contexts fresh.
type McpAuthAdapter struct {
	mu        sync.Mutex
	validator TokenValidator
	config    AdapterConfig
	contexts  map[string]*AuthContext
	timers    map[string]*time.Timer
	logger    *slog.Logger
	disposed  bool
}

// NewMcpAuthAdapter creates an adapter over the validator.
func NewMcpAuthAdapter(validator TokenValidator, config AdapterConfig, logger *slog.Logger) *McpAuthAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	if config.AuthMethod == "" {
		config.AuthMethod = "api_key"
	}
	return &McpAuthAdapter{
		validator: validator,
		config:    config,
		contexts:  make(map[string]*AuthContext),
		timers:    make(map[string]*time.Timer),
		logger:    logger,
	}
}

// Authenticate validates the configured token against the default scopes
// and, on success, enables authentication on the client and stores its
// auth context. Clients lacking the auth capability are rejected.
func (a *McpAuthAdapter) Authenticate(clientID string, client any) (*AuthContext, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disposed {
		return nil, errors.StateError("auth adapter is disposed")
	}

	capable, ok := client.(AuthCapable)
	if !ok {
		return nil, errors.AuthenticationError("client does not support authentication: "+clientID, nil)
	}

	result := a.validator.ValidateToken(a.config.Token, a.config.DefaultScopes)
	if !result.IsAuthenticated {
		return nil, errors.AuthenticationError(result.Error, nil)
	}

	if err := capable.EnableAuthentication(a.validator); err != nil {
		return nil, errors.AuthenticationError("enabling authentication failed for "+clientID, err)
	}

	authCtx := &AuthContext{
		ClientID:  clientID,
		Scopes:    result.Scopes,
		ExpiresAt: result.ExpiresAt,
		Metadata: map[string]string{
			"protocol_version": protocolVersion,
			"auth_method":      a.config.AuthMethod,
			"client_id":        clientID,
		},
	}
	a.contexts[clientID] = authCtx
	if a.config.AutoRefresh {
		a.scheduleRefreshLocked(clientID, result.ExpiresAt)
	}
	a.logger.Info("client authenticated",
		"client_id", clientID,
		"auth_method", a.config.AuthMethod,
		"expires_at", result.ExpiresAt)
	return authCtx, nil
}

// RefreshToken re-validates the token for a known client. Success extends
// the stored context; failure removes it.
func (a *McpAuthAdapter) RefreshToken(clientID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	authCtx, ok := a.contexts[clientID]
	if !ok {
		return errors.NotFoundError("auth context", clientID)
	}

	result := a.validator.ValidateToken(a.config.Token, a.config.DefaultScopes)
	if !result.IsAuthenticated {
		a.removeLocked(clientID)
		a.logger.Warn("token refresh failed, auth removed", "client_id", clientID, "reason", result.Error)
		return errors.AuthenticationError(result.Error, nil)
	}

	authCtx.Scopes = result.Scopes
	authCtx.ExpiresAt = result.ExpiresAt
	if a.config.AutoRefresh {
		a.scheduleRefreshLocked(clientID, result.ExpiresAt)
	}
	a.logger.Debug("token refreshed", "client_id", clientID, "expires_at", result.ExpiresAt)
	return nil
}

// HasValidAuth reports whether the client holds an unexpired auth context.
func (a *McpAuthAdapter) HasValidAuth(clientID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	authCtx, ok := a.contexts[clientID]
	return ok && time.Now().Before(authCtx.ExpiresAt)
}

// GetAuthContext returns a copy of the client's auth context.
func (a *McpAuthAdapter) GetAuthContext(clientID string) (*AuthContext, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	authCtx, ok := a.contexts[clientID]
	if !ok {
		return nil, errors.NotFoundError("auth context", clientID)
	}
	copied := *authCtx
	copied.Scopes = append([]string(nil), authCtx.Scopes...)
	copied.Metadata = make(map[string]string, len(authCtx.Metadata))
	for k, v := range authCtx.Metadata {
		copied.Metadata[k] = v
	}
	return &copied, nil
}

// RemoveAuth drops the client's auth context and cancels its refresh timer.
func (a *McpAuthAdapter) RemoveAuth(clientID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removeLocked(clientID)
}

// CheckOAuth21Compliance reports whether the client exposes the
// auth-enablement capability required by the protocol revision.
func (a *McpAuthAdapter) CheckOAuth21Compliance(client any) bool {
	_, ok := client.(AuthCapable)
	return ok
}

// Dispose cancels all refresh timers and clears every auth context. The
// adapter rejects further authentication afterwards.
func (a *McpAuthAdapter) Dispose() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for clientID := range a.contexts {
		a.removeLocked(clientID)
	}
	a.disposed = true
}

func (a *McpAuthAdapter) removeLocked(clientID string) {
	if timer, ok := a.timers[clientID]; ok {
		timer.Stop()
		delete(a.timers, clientID)
	}
	delete(a.contexts, clientID)
}

func (a *McpAuthAdapter) scheduleRefreshLocked(clientID string, expiresAt time.Time) {
	if timer, ok := a.timers[clientID]; ok {
		timer.Stop()
	}
	delay := time.Until(expiresAt) - refreshLead
	if delay < 0 {
		delay = 0
	}
	a.timers[clientID] = time.AfterFunc(delay, func() {
		if err := a.RefreshToken(clientID); err != nil {
			a.logger.Warn("scheduled refresh failed", "client_id", clientID, "error", err)
		}
	})
}
