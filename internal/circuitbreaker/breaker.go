// Package circuitbreaker keeps a provider out of rotation after it signals
// throttling or keeps failing, and lets it back in once its backoff expires.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, provider is skipped until openUntil
	StateHalfOpen              // Backoff expired, next call decides
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker tracks the backoff state of a single provider.
type CircuitBreaker struct {
	name string

	state     State
	openUntil time.Time

	// Backoff applied when a trip does not carry its own duration
	resetDelay time.Duration

	// Consecutive failures before tripping, 0 disables failure counting
	failureThreshold int
	failures         int

	mu sync.RWMutex

	onTripCallback func(name, reason string, until time.Time)
	now            func() time.Time
	log            *logrus.Logger
}

// New creates a closed circuit breaker for the named provider
func New(name string) *CircuitBreaker {
	return &CircuitBreaker{
		name:       name,
		state:      StateClosed,
		resetDelay: 30 * time.Second,
		now:        time.Now,
		log:        logrus.StandardLogger(),
	}
}

// WithResetDelay sets the default backoff and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithFailureThreshold trips the breaker after n consecutive failures
func (cb *CircuitBreaker) WithFailureThreshold(n int) *CircuitBreaker {
	cb.failureThreshold = n
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(name, reason string, until time.Time)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// WithClock replaces the time source, used by tests
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// WithLogger sets the logger used for state transitions
func (cb *CircuitBreaker) WithLogger(log *logrus.Logger) *CircuitBreaker {
	if log != nil {
		cb.log = log
	}
	return cb
}

// Until reports whether the breaker is open at now and when it reopens.
// It never changes state.
func (cb *CircuitBreaker) Until(now time.Time) (time.Time, bool) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	if cb.state == StateOpen && now.Before(cb.openUntil) {
		return cb.openUntil, true
	}
	return time.Time{}, false
}

// Allow reports whether a call may go through. An open breaker whose backoff
// has expired moves to half-open and lets the call through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return true
	}
	if cb.now().Before(cb.openUntil) {
		return false
	}
	cb.state = StateHalfOpen
	cb.log.Debugf("Circuit breaker %s half-open: probing provider", cb.name)
	return true
}

// Success closes the breaker and clears the failure count
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateClosed {
		cb.log.Infof("Circuit breaker %s closed: provider recovered", cb.name)
	}
	cb.state = StateClosed
	cb.failures = 0
}

// Failure records a failed call. A failure while half-open reopens the
// breaker, as does reaching the failure threshold.
func (cb *CircuitBreaker) Failure(reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.state == StateHalfOpen || (cb.failureThreshold > 0 && cb.failures >= cb.failureThreshold) {
		cb.trip(reason, cb.resetDelay)
	}
}

// Trip opens the breaker for d, or for the reset delay when d is not positive.
// A trip never shortens an existing backoff.
func (cb *CircuitBreaker) Trip(reason string, d time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if d <= 0 {
		d = cb.resetDelay
	}
	cb.trip(reason, d)
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.openUntil = time.Time{}
	cb.log.Infof("Circuit breaker %s manually reset to closed state", cb.name)
}

// trip must be called with the lock held
func (cb *CircuitBreaker) trip(reason string, d time.Duration) {
	until := cb.now().Add(d)
	if cb.state == StateOpen && cb.openUntil.After(until) {
		until = cb.openUntil
	}
	cb.state = StateOpen
	cb.openUntil = until
	cb.failures = 0
	cb.log.Warnf("Circuit breaker %s tripped until %s: %s", cb.name, until.Format(time.RFC3339), reason)

	if cb.onTripCallback != nil {
		go cb.onTripCallback(cb.name, reason, until)
	}
}
