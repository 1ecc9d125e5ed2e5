// Package breaker provides a three-state circuit breaker used to fail fast
// when downstream persistence keeps failing.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/commercekit/channelsync/errors"
)

// State of the breaker.
type State int32

const (
	StateClosed State = iota
	StateOpen
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

// Config parameterizes a breaker. Both values are pass-in parameters, not
// global state.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// RecoveryTimeout is the minimum open duration before a half-open probe
	// is allowed.
	RecoveryTimeout time.Duration
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// Breaker implements the closed -> open -> half-open -> closed state machine.
// It is safe for concurrent use; at most one probe call passes through in the
// half-open state.
type Breaker struct {
	config Config
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock injects a clock, used by tests to control the recovery timeout.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New constructs a Breaker. Zero config fields fall back to DefaultConfig.
func New(config Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = def.RecoveryTimeout
	}
	b := &Breaker{
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current state, accounting for recovery-timeout expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.RecoveryTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Execute runs op under the breaker. In the open state it fails immediately
// with *errors.CircuitOpenError without invoking op. After the recovery
// timeout, exactly one caller is admitted as a half-open probe; its success
// closes the breaker, its failure reopens it and restarts the timeout.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	opErr := op(ctx)
	b.record(probe, opErr)
	return opErr
}

// admit decides whether a call may proceed and whether it is the half-open
// probe. The decision and the probe reservation happen under one lock so
// concurrent callers cannot both probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.config.RecoveryTimeout {
			return false, &errors.CircuitOpenError{RetryAfter: b.config.RecoveryTimeout - elapsed}
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		return true, nil
	case StateHalfOpen:
		if b.probeInFlight {
			return false, &errors.CircuitOpenError{RetryAfter: b.config.RecoveryTimeout}
		}
		b.probeInFlight = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(probe bool, opErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probeInFlight = false
		if opErr != nil {
			b.state = StateOpen
			b.openedAt = b.now()
			b.failures = b.config.FailureThreshold
			return
		}
		b.state = StateClosed
		b.failures = 0
		return
	}

	if opErr == nil {
		b.failures = 0
		return
	}

	b.failures++
	if b.failures >= b.config.FailureThreshold && b.state == StateClosed {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}
