// Package breaker implements a three-state per-server circuit breaker
// (C12) guarding outbound calls.
package breaker

import (
	"sync"
	"time"

	"github.com/assadsharif/fte/internal/ferrors"
)

// State is one of the three breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Breaker guards a single server's outbound calls.
type Breaker struct {
	Name               string
	FailureThreshold   int
	RecoveryTimeout    time.Duration
	HalfOpenMaxCalls   int
	SuccessThreshold   int

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	halfOpenInFlight int
}

// New returns a closed Breaker with the given thresholds.
func New(name string, failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	return &Breaker{
		Name:             name,
		FailureThreshold: failureThreshold,
		RecoveryTimeout:  recoveryTimeout,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 2,
		state:            Closed,
	}
}

// State returns the breaker's current state, transitioning open→half_open
// first if the recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecover()
	return b.state
}

func (b *Breaker) maybeRecover() {
	if b.state == Open && time.Since(b.lastFailureTime) >= b.RecoveryTimeout {
		b.state = HalfOpen
		b.successCount = 0
		b.halfOpenInFlight = 0
	}
}

// Call executes fn through the breaker, rejecting immediately when open or
// when the half-open probe quota is exhausted.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T

	b.mu.Lock()
	b.maybeRecover()
	switch b.state {
	case Open:
		retryIn := b.RecoveryTimeout - time.Since(b.lastFailureTime)
		b.mu.Unlock()
		return zero, ferrors.CircuitOpen(b.Name, retryIn.String())
	case HalfOpen:
		if b.halfOpenInFlight >= b.HalfOpenMaxCalls {
			b.mu.Unlock()
			return zero, ferrors.CircuitOpen(b.Name, "probe in flight")
		}
		b.halfOpenInFlight++
	}
	b.mu.Unlock()

	result, err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.halfOpenInFlight--
	}
	if err != nil {
		b.onFailure()
		return zero, err
	}
	b.onSuccess()
	return result, nil
}

func (b *Breaker) onFailure() {
	b.lastFailureTime = time.Now()
	b.successCount = 0
	switch b.state {
	case HalfOpen:
		b.state = Open
		b.failureCount = b.FailureThreshold
	case Closed:
		b.failureCount++
		if b.failureCount >= b.FailureThreshold {
			b.state = Open
		}
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.SuccessThreshold {
			b.state = Closed
			b.failureCount = 0
			b.successCount = 0
		}
	case Closed:
		b.failureCount = 0
	}
}
