// Package circuitbreaker protects channel providers (SES, SNS, the
// push gateway) from cascade failures: when a provider starts failing
// the circuit opens and delivery attempts fail fast, which turns into
// ordinary retry scheduling upstream.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of the breaker.
//
//	Closed -> Open:      consecutive failures reach the threshold
//	Open -> HalfOpen:    recovery timeout elapsed, one probe allowed
//	HalfOpen -> Closed:  probe succeeded
//	HalfOpen -> Open:    probe failed
type State int

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

// ErrCircuitOpen is returned while the breaker is rejecting requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config for one breaker.
type Config struct {
	// Name identifies the protected provider (e.g. "ses", "sns", "push").
	Name string

	// MaxFailures is the consecutive-failure threshold before opening.
	MaxFailures int

	// RecoveryTimeout is how long to stay open before probing.
	RecoveryTimeout time.Duration
}

// DefaultConfig returns the defaults used for every channel provider.
func DefaultConfig(name string) Config {
	return Config{
		Name:            name,
		MaxFailures:     5,
		RecoveryTimeout: 30 * time.Second,
	}
}

// CircuitBreaker tracks consecutive failures for one provider.
type CircuitBreaker struct {
	mu     sync.Mutex
	config Config
	logger *zap.Logger

	state        State
	failureCount int
	lastFailure  time.Time
	probing      bool
}

// New creates a breaker in the closed state.
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		config: cfg,
		logger: logger,
		state:  StateClosed,
	}
}

// Allow reports whether one request may pass.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastFailure) >= cb.config.RecoveryTimeout {
			cb.state = StateHalfOpen
			cb.probing = true
			cb.logger.Info("circuit breaker allowing probe request",
				zap.String("name", cb.config.Name),
			)
			return true
		}
		return false
	case StateHalfOpen:
		// One probe at a time.
		if !cb.probing {
			cb.probing = true
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess resets the failure count; a successful probe closes
// the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.probing = false
	if cb.state != StateClosed {
		cb.state = StateClosed
		cb.logger.Info("circuit breaker closed, provider recovered",
			zap.String("name", cb.config.Name),
		)
	}
}

// RecordFailure counts one failure; the threshold opens the circuit
// and a failed probe re-opens it.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailure = time.Now()
	cb.probing = false

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.MaxFailures {
			cb.state = StateOpen
			cb.logger.Warn("circuit breaker opened",
				zap.String("name", cb.config.Name),
				zap.Int("failures", cb.failureCount),
			)
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.logger.Warn("circuit breaker re-opened, probe failed",
			zap.String("name", cb.config.Name),
		)
	}
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) String() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return fmt.Sprintf("CircuitBreaker[%s] state=%s failures=%d/%d",
		cb.config.Name, cb.state, cb.failureCount, cb.config.MaxFailures)
}
