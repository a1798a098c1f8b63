package resilience

import (
	"errors"
	"sync"
	"time"
)

// State is the circuit position.
type State int

const (
	// StateClosed passes calls through and counts consecutive failures
	StateClosed State = iota
	// StateOpen short-circuits every call until the reset timeout elapses
	StateOpen
	// StateHalfOpen lets exactly one probe call through
	StateHalfOpen
)

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

var (
	// ErrCircuitOpen is returned while the circuit is open
	ErrCircuitOpen = errors.New("circuit breaker: circuit is open")
	// ErrTooManyRequests is returned when the half-open probe slot is taken
	ErrTooManyRequests = errors.New("circuit breaker: too many requests in half-open state")
)

// CircuitBreaker guards one bridge relay endpoint. Consecutive publish
// failures open the circuit so a dead relay stops eating retry budgets;
// after resetTimeout a single probe call decides whether it closes again.
type CircuitBreaker struct {
	mu sync.Mutex

	maxFailures  int
	resetTimeout time.Duration

	state    State
	failures int
	openedAt time.Time
	probing  bool

	onStateChange func(from, to State)
}

// NewCircuitBreaker creates a closed breaker that opens after maxFailures
// consecutive failures and re-probes after resetTimeout.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
	}
}

// SetOnStateChange registers a callback invoked on every transition.
func (cb *CircuitBreaker) SetOnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn if the circuit allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// admit decides whether a call may proceed.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) <= cb.resetTimeout {
			return ErrCircuitOpen
		}
		cb.changeState(StateHalfOpen)
		cb.probing = true
		return nil
	case StateHalfOpen:
		if cb.probing {
			return ErrTooManyRequests
		}
		cb.probing = true
		return nil
	default:
		return nil
	}
}

// record folds one call outcome into the circuit position.
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		if err == nil {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.openedAt = time.Now()
			cb.changeState(StateOpen)
		}
	case StateHalfOpen:
		cb.probing = false
		if err == nil {
			cb.failures = 0
			cb.changeState(StateClosed)
			return
		}
		cb.failures = cb.maxFailures
		cb.openedAt = time.Now()
		cb.changeState(StateOpen)
	}
}

// changeState flips the circuit and notifies the callback. The callback
// runs outside the lock so it may call back into the breaker.
func (cb *CircuitBreaker) changeState(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil {
		go cb.onStateChange(from, to)
	}
}

// State returns the current circuit position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
