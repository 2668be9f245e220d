package errors

import (
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
// It is a dedicated error so callers can fast-fail without inspecting text.
var ErrCircuitOpen = New(ErrCodeCircuitOpen, "circuit breaker is open", nil)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is the normal state where requests are allowed.
	StateClosed State = iota
	// StateOpen is when the circuit is tripped and requests are blocked.
	StateOpen
	// StateHalfOpen is when the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerSettings configures a CircuitBreaker.
type CircuitBreakerSettings struct {
	// FailureThreshold is the number of consecutive failures in the closed
	// state before the circuit opens.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration
	// HalfOpenTimeout bounds how long the half-open probe window lasts.
	// If it elapses without enough successes, the circuit reopens.
	HalfOpenTimeout time.Duration
	// HalfOpenSuccessThreshold is the number of successes required in the
	// half-open state to close the circuit.
	HalfOpenSuccessThreshold int
}

// DefaultCircuitBreakerSettings returns the default breaker settings.
func DefaultCircuitBreakerSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		FailureThreshold:         5,
		ResetTimeout:             30 * time.Second,
		HalfOpenTimeout:          30 * time.Second,
		HalfOpenSuccessThreshold: 1,
	}
}

// StateChangeCallback is invoked after every state transition.
type StateChangeCallback func(from, to State)

// CircuitBreaker implements the circuit breaker pattern.
// It protects against cascading failures by failing fast when a service is down.
// State transitions are atomic relative to the allow-check.
type CircuitBreaker struct {
	name     string
	settings CircuitBreakerSettings

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastStateChange time.Time

	callbacks []StateChangeCallback
}

// NewCircuitBreaker creates a new circuit breaker with the given name.
// Zero-valued settings fields fall back to defaults.
func NewCircuitBreaker(name string, settings CircuitBreakerSettings) *CircuitBreaker {
	def := DefaultCircuitBreakerSettings()
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = def.FailureThreshold
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = def.ResetTimeout
	}
	if settings.HalfOpenTimeout <= 0 {
		settings.HalfOpenTimeout = def.HalfOpenTimeout
	}
	if settings.HalfOpenSuccessThreshold <= 0 {
		settings.HalfOpenSuccessThreshold = def.HalfOpenSuccessThreshold
	}

	return &CircuitBreaker{
		name:            name,
		settings:        settings,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// OnStateChange registers a callback invoked after every state transition.
// Callbacks run outside the breaker lock; panics are swallowed so a
// misbehaving observer cannot wedge the breaker.
func (cb *CircuitBreaker) OnStateChange(fn StateChangeCallback) {
	if fn == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.callbacks = append(cb.callbacks, fn)
}

// State returns the current circuit breaker state, applying any pending
// timer-driven transition first.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	notify := cb.advanceLocked()
	state := cb.state
	cb.mu.Unlock()
	notify()
	return state
}

// Counts returns the current failure and success counters.
func (cb *CircuitBreaker) Counts() (failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount, cb.successCount
}

// Allow checks if a request should be allowed through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	notify := cb.advanceLocked()
	allowed := cb.state != StateOpen
	cb.mu.Unlock()
	notify()
	return allowed
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	notify := cb.advanceLocked()
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.settings.HalfOpenSuccessThreshold {
			notify = combine(notify, cb.transitionLocked(StateClosed))
		}
	}
	cb.mu.Unlock()
	notify()
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	notify := cb.advanceLocked()
	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.settings.FailureThreshold {
			notify = combine(notify, cb.transitionLocked(StateOpen))
		}
	case StateHalfOpen:
		notify = combine(notify, cb.transitionLocked(StateOpen))
	}
	cb.mu.Unlock()
	notify()
}

// Execute runs a function through the circuit breaker.
// Returns ErrCircuitOpen if the circuit is open without invoking fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}

	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}

	cb.RecordSuccess()
	return nil
}

// ExecuteWithResult runs a function that returns a value through the breaker.
// Returns ErrCircuitOpen without invoking fn if the circuit is open.
func ExecuteWithResult[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	if !cb.Allow() {
		return zero, ErrCircuitOpen
	}

	result, err := fn()
	if err != nil {
		cb.RecordFailure()
		return result, err
	}

	cb.RecordSuccess()
	return result, nil
}

// StreamItem carries a streamed value or a terminal error.
type StreamItem[T any] struct {
	Value T
	Err   error
}

// ExecuteStream subscribes through the circuit breaker. The breaker state is
// consulted only at subscription time; each delivered value then counts as a
// success and each delivered error as a failure.
func ExecuteStream[T any](cb *CircuitBreaker, subscribe func() (<-chan StreamItem[T], error)) (<-chan StreamItem[T], error) {
	if !cb.Allow() {
		return nil, ErrCircuitOpen
	}

	in, err := subscribe()
	if err != nil {
		cb.RecordFailure()
		return nil, err
	}

	out := make(chan StreamItem[T])
	go func() {
		defer close(out)
		for item := range in {
			if item.Err != nil {
				cb.RecordFailure()
			} else {
				cb.RecordSuccess()
			}
			out <- item
		}
	}()
	return out, nil
}

// advanceLocked applies timer-driven transitions. Must hold cb.mu.
// Returns a function that fires any resulting callbacks; call it after
// releasing the lock.
func (cb *CircuitBreaker) advanceLocked() func() {
	elapsed := time.Since(cb.lastStateChange)

	switch cb.state {
	case StateOpen:
		if elapsed >= cb.settings.ResetTimeout {
			return cb.transitionLocked(StateHalfOpen)
		}
	case StateHalfOpen:
		if elapsed >= cb.settings.HalfOpenTimeout &&
			cb.successCount < cb.settings.HalfOpenSuccessThreshold {
			return cb.transitionLocked(StateOpen)
		}
	}
	return func() {}
}

// transitionLocked moves to a new state. Must hold cb.mu.
// Returns a function that fires the state-change callbacks.
func (cb *CircuitBreaker) transitionLocked(to State) func() {
	from := cb.state
	if from == to {
		return func() {}
	}

	cb.state = to
	cb.lastStateChange = time.Now()

	switch to {
	case StateClosed:
		cb.failureCount = 0
		cb.successCount = 0
	case StateHalfOpen:
		cb.successCount = 0
	}

	cbs := make([]StateChangeCallback, len(cb.callbacks))
	copy(cbs, cb.callbacks)

	return func() {
		for _, fn := range cbs {
			func() {
				defer func() { _ = recover() }()
				fn(from, to)
			}()
		}
	}
}

// combine chains two callback-firing functions in order.
func combine(a, b func()) func() {
	return func() {
		a()
		b()
	}
}
