package telemetry

import (
	"fmt"
	"sync"
	"time"
)

// breakerState is a circuit breaker's position in the closed -> open ->
// half-open -> closed cycle.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips after a run of consecutive failures and refuses
// calls until cooldown has elapsed, then lets exactly one probe call
// through to decide whether to close again. recursid only ever wraps a
// single outbound dependency per breaker (virustotal's submission API),
// so a consecutive-failure streak is enough signal to trip on — there is
// no fleet of callers to justify a sliding failure-rate window.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu        sync.Mutex
	state     breakerState
	failures  int
	trippedAt time.Time
	probing   bool
}

func newCircuitBreaker(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{name: name, threshold: threshold, cooldown: cooldown}
}

// Call runs fn through the breaker. While open and within cooldown, or
// while a half-open probe is already in flight, fn is not invoked at all
// and Call returns the breaker's own error instead.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.admit() {
		state := cb.State()
		RecordCircuitBreakerStatus(cb.name, "call", int(state))
		return fmt.Errorf("circuit breaker %q is %s", cb.name, state)
	}

	err := fn()
	cb.report(err)
	RecordCircuitBreakerStatus(cb.name, "call", int(cb.State()))
	return err
}

// admit decides whether the current call may reach fn, advancing the
// open -> half-open transition if cooldown has elapsed.
func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(cb.trippedAt) < cb.cooldown {
			return false
		}
		cb.state = breakerHalfOpen
		cb.probing = true
		return true
	case breakerHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return false
	}
}

// report folds a call's outcome back into the breaker's state.
func (cb *CircuitBreaker) report(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == breakerHalfOpen {
		cb.probing = false
		if err != nil {
			cb.state = breakerOpen
			cb.trippedAt = time.Now()
			return
		}
		cb.state = breakerClosed
		cb.failures = 0
		return
	}

	if err == nil {
		cb.failures = 0
		return
	}
	cb.failures++
	if cb.failures >= cb.threshold {
		cb.state = breakerOpen
		cb.trippedAt = time.Now()
	}
}

// State returns the breaker's current position.
func (cb *CircuitBreaker) State() breakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to closed, discarding any failure streak
// or in-flight probe. Used by tests to isolate cases from each other.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = breakerClosed
	cb.failures = 0
	cb.probing = false
}

var (
	registryMu sync.Mutex
	breakers   = map[string]*CircuitBreaker{}
)

// GetCircuitBreaker returns the named circuit breaker, constructing it
// with the given threshold/cooldown the first time that name is seen.
// Later calls for the same name ignore their threshold/cooldown
// arguments and return the existing breaker — matching how each adapter
// package declares its breaker once, at package init, via a package-level
// var.
func GetCircuitBreaker(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	registryMu.Lock()
	defer registryMu.Unlock()
	if cb, ok := breakers[name]; ok {
		return cb
	}
	cb := newCircuitBreaker(name, threshold, cooldown)
	breakers[name] = cb
	return cb
}
