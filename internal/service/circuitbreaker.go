package service

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// CircuitBreaker guards the store call path so a degraded backend fails fast
// instead of stalling every request on timeouts. All state is owned by the
// instance and serialized under one mutex; instances are not coordinated
// across processes.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitState
	failureCount     int
	failureThreshold int
	timeout          time.Duration
	lastFailureTime  time.Time
	trialInFlight    bool
	now              func() time.Time
}

// NewCircuitBreaker creates a breaker that opens after failureThreshold
// failures and probes recovery once per timeout.
func NewCircuitBreaker(failureThreshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		timeout:          timeout,
		now:              time.Now,
	}
}

// Call executes fn if the circuit allows it. While open it returns
// ErrCircuitBreakerOpen without invoking fn; once the timeout since the last
// failure has elapsed, exactly one trial call is admitted and its outcome
// decides between closing and re-opening the circuit.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailureTime) > cb.timeout {
			cb.setState(StateHalfOpen)
		} else {
			cb.mu.Unlock()
			return ErrCircuitBreakerOpen
		}
	}

	trial := false
	if cb.state == StateHalfOpen {
		if cb.trialInFlight {
			cb.mu.Unlock()
			return ErrCircuitBreakerOpen
		}
		cb.trialInFlight = true
		trial = true
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if trial {
		cb.trialInFlight = false
	}
	if err != nil {
		cb.recordFailure(trial)
	} else if trial {
		// only the trial probe is proof of recovery; a success in the closed
		// state does not reset the count, failures accumulate until a trial
		// succeeds
		cb.failureCount = 0
		cb.setState(StateClosed)
	}
	return err
}

// recordFailure counts a failure and opens the circuit when the threshold is
// reached or the half-open trial fails. Callers must hold cb.mu.
func (cb *CircuitBreaker) recordFailure(trial bool) {
	cb.failureCount++
	cb.lastFailureTime = cb.now()

	if trial || cb.failureCount >= cb.failureThreshold {
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) setState(s CircuitState) {
	if cb.state == s {
		return
	}
	cb.state = s
	switch s {
	case StateOpen:
		log.Error().Int("failures", cb.failureCount).Msg("circuit breaker opened")
	case StateHalfOpen:
		log.Info().Msg("circuit breaker half-open, admitting one trial call")
	case StateClosed:
		log.Info().Msg("circuit breaker closed")
	}
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetMetrics returns a snapshot of the breaker state.
func (cb *CircuitBreaker) GetMetrics() CircuitMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitMetrics{
		State:           cb.state,
		FailureCount:    cb.failureCount,
		LastFailureTime: cb.lastFailureTime,
	}
}

// CircuitMetrics is a point-in-time view of breaker state.
type CircuitMetrics struct {
	State           CircuitState
	FailureCount    int
	LastFailureTime time.Time
}

// ErrCircuitBreakerOpen is returned for calls rejected while the circuit is
// open. The facade treats it like any other store failure.
var ErrCircuitBreakerOpen = NewError("circuit_open", "circuit breaker is open")
