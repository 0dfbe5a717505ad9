// Package circuitbreaker provides a circuit breaker with
// closed → open → half-open state transitions for a single upstream.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: requests flow through
	StateOpen                  // Tripped: requests are rejected
	StateHalfOpen              // Probing: one request allowed to test recovery
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "paycore",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by upstream, from-state, and to-state.",
}, []string{"upstream", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

// Breaker guards a single upstream. It counts consecutive failures and
// trips open when they exceed the threshold. After openDuration the
// circuit moves to half-open and allows one probe request.
type Breaker struct {
	mu           sync.Mutex
	name         string
	state        State
	failures     int
	lastFailure  time.Time
	threshold    int
	openDuration time.Duration
}

// New creates a circuit breaker for the named upstream that opens after
// threshold consecutive failures and stays open for openDuration before probing.
func New(name string, threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		name:         name,
		threshold:    threshold,
		openDuration: openDuration,
	}
}

// Allow returns true if a request should be allowed.
// If the circuit is open and openDuration has elapsed, it transitions to half-open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailure) >= b.openDuration {
			b.transition(StateHalfOpen)
			return true // Allow one probe
		}
		return false
	case StateHalfOpen:
		return false // Already probing — reject until probe completes
	default:
		return true
	}
}

// RecordSuccess records a successful request. Resets failure count and
// closes the circuit if it was half-open.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
	b.failures = 0
}

// RecordFailure records a failed request. If consecutive failures exceed
// the threshold, trips the circuit open.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	if b.state == StateHalfOpen {
		// Probe failed — back to open.
		b.transition(StateOpen)
		return
	}

	if b.state == StateClosed && b.failures >= b.threshold {
		b.transition(StateOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition changes state. Caller must hold b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	cbStateTransitions.WithLabelValues(b.name, from.String(), to.String()).Inc()
}
