// Package resilience holds the fault-tolerance helpers the pipeline uses: a
// circuit breaker in front of the event bus, bounded retry for index writes,
// and a deadline wrapper for OCR extraction.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling through while the circuit is
// open or its single half-open probe is in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig sets when the breaker trips and how long it stays
// open. OnStateChange runs after every transition, outside the lock.
type CircuitBreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	OnStateChange    func(name string, state State)
}

// CircuitBreaker opens after FailureThreshold consecutive failures. Once
// ResetTimeout has passed it lets one probe through: success closes it,
// failure opens it again.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
		now:    time.Now,
	}
}

// Execute calls fn when the circuit admits it and records the outcome.
// Calls that fail because ctx ended are not held against the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err, err != nil && ctx.Err() != nil)
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	var changed bool
	var err error
	switch cb.state {
	case StateOpen:
		if wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt); wait > 0 {
			err = fmt.Errorf("%w: %s, retry in %v", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
			break
		}
		changed = cb.moveTo(StateHalfOpen)
		cb.probing = true
	case StateHalfOpen:
		if cb.probing {
			err = fmt.Errorf("%w: %s, probe in flight", ErrCircuitOpen, cb.name)
			break
		}
		cb.probing = true
	}
	cb.mu.Unlock()
	if changed {
		cb.notify(StateHalfOpen)
	}
	return err
}

// record applies the result of an admitted call. An abandoned call only
// frees the probe slot.
func (cb *CircuitBreaker) record(err error, abandoned bool) {
	cb.mu.Lock()
	wasProbe := cb.state == StateHalfOpen
	if wasProbe {
		cb.probing = false
	}
	if abandoned {
		cb.mu.Unlock()
		return
	}
	var changed bool
	if err == nil {
		cb.failures = 0
		changed = cb.moveTo(StateClosed)
	} else {
		cb.failures++
		if wasProbe || cb.failures >= cb.cfg.FailureThreshold {
			cb.openedAt = cb.now()
			changed = cb.moveTo(StateOpen)
		}
	}
	state, failures := cb.state, cb.failures
	cb.mu.Unlock()

	if !changed {
		return
	}
	if state == StateOpen {
		cb.logger.Warn("circuit opened", "consecutive_failures", failures, "probe", wasProbe, "error", err)
	} else {
		cb.logger.Info("circuit closed")
	}
	cb.notify(state)
}

// moveTo must be called with mu held.
func (cb *CircuitBreaker) moveTo(s State) bool {
	if cb.state == s {
		return false
	}
	cb.state = s
	return true
}

func (cb *CircuitBreaker) notify(s State) {
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, s)
	}
}
