package errors

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Callback receives every error routed through a Handler.
type Callback func(*LoomError)

// Handler converts arbitrary errors into the Loom taxonomy, logs them,
// and dispatches to registered callbacks. Callback panics are recovered
// so one misbehaving observer cannot break the dispatch chain.
type Handler struct {
	mu        sync.RWMutex
	callbacks []Callback
	logger    *slog.Logger
}

// NewHandler creates an error handler. A nil logger uses slog.Default().
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger}
}

// OnError registers a callback invoked for every handled error.
func (h *Handler) OnError(cb Callback) {
	if cb == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, cb)
}

// Handle classifies, logs, and dispatches an error.
// Returns the classified LoomError, or nil for a nil input.
func (h *Handler) Handle(err error) *LoomError {
	if err == nil {
		return nil
	}

	le := Classify(err)

	h.logger.Error("error handled",
		slog.String("code", le.Code),
		slog.String("kind", string(le.Kind)),
		slog.String("message", le.Message))

	h.mu.RLock()
	cbs := make([]Callback, len(h.callbacks))
	copy(cbs, h.callbacks)
	h.mu.RUnlock()

	for _, cb := range cbs {
		h.dispatch(cb, le)
	}

	return le
}

// dispatch invokes a single callback, recovering from panics.
func (h *Handler) dispatch(cb Callback, le *LoomError) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("error callback panicked", slog.Any("panic", r))
		}
	}()
	cb(le)
}

// Classify converts any error into a LoomError.
// Already-classified errors pass through unchanged. Standard library
// timeout and cancellation errors map to their taxonomy kinds; everything
// else becomes KindUnknown.
func Classify(err error) *LoomError {
	if err == nil {
		return nil
	}
	if le, ok := err.(*LoomError); ok {
		return le
	}

	switch {
	case isStdTimeout(err):
		return Wrap(ErrCodeTimeout, err)
	case err == context.Canceled:
		return Wrap(ErrCodeCancelled, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid argument"), strings.Contains(msg, "invalid input"):
		return Wrap(ErrCodeInvalidInput, err)
	case strings.Contains(msg, "invalid state"):
		return Wrap(ErrCodeInvalidState, err)
	case strings.Contains(msg, "unexpected end of"), strings.Contains(msg, "invalid character"),
		strings.Contains(msg, "cannot unmarshal"):
		// Format errors from encoding/json and friends.
		return Wrap(ErrCodeInvalidInput, err)
	}

	return New(ErrCodeInternal, err.Error(), err)
}

// isStdTimeout reports whether err is a standard timeout error.
func isStdTimeout(err error) bool {
	if err == context.DeadlineExceeded {
		return true
	}
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}

// MapProviderError upgrades a generic provider failure into a specific
// taxonomy kind by inspecting the message, tagging the result with the
// provider name. Recognized substrings: "api key", "rate limit", "timeout".
func MapProviderError(provider string, err error) *LoomError {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	var le *LoomError
	switch {
	case strings.Contains(msg, "api key"):
		le = AuthenticationError(err.Error(), err)
	case strings.Contains(msg, "rate limit"):
		le = Wrap(ErrCodeRateLimited, err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		le = Wrap(ErrCodeTimeout, err)
	default:
		le = ProviderError(provider, err.Error(), err)
	}
	le.WithDetail(DetailProvider, provider)
	return le
}
