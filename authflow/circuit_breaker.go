package authflow

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Circuit states
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half_open"
)

// ErrTooManyRequests is returned while a half-open circuit is already probing.
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// CircuitStats represents circuit breaker statistics
type CircuitStats struct {
	State               string    `json:"state"`
	Requests            int64     `json:"requests"`
	TotalFailures       int64     `json:"total_failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureTime     time.Time `json:"last_failure_time,omitempty"`
	NextRetryTime       time.Time `json:"next_retry_time,omitempty"`
}

// CircuitBreakerConfig configures the circuit breaker
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in half-open before closing
	SuccessThreshold int
	// Timeout is how long to wait before trying half-open state
	Timeout time.Duration
	// OnStateChange is called when the circuit changes state
	OnStateChange func(key, from, to string)
}

// CircuitBreaker stops calling a provider host that keeps failing, so a
// dead discovery or registration endpoint fails fast on retry.
type CircuitBreaker struct {
	key    string
	config CircuitBreakerConfig

	mu                   sync.Mutex
	state                string
	requests             int64
	totalFailures        int64
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailureTime      time.Time
	nextRetryTime        time.Time
	probing              bool
}

// NewCircuitBreaker creates a closed breaker with defaults applied
func NewCircuitBreaker(key string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{key: key, config: config, state: CircuitClosed}
}

// Call runs fn if the circuit allows it. Only errors for which counts
// returns true are recorded as failures; a nil counts records every error.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error, counts func(error) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn()
	cb.record(err != nil && (counts == nil || counts(err)))
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if time.Now().Before(cb.nextRetryTime) {
			return ErrCircuitOpen
		}
		cb.setState(CircuitHalfOpen)
		cb.probing = true
	case CircuitHalfOpen:
		if cb.probing {
			return ErrTooManyRequests
		}
		cb.probing = true
	}
	cb.requests++
	return nil
}

func (cb *CircuitBreaker) record(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if failed {
		cb.totalFailures++
		cb.consecutiveFailures++
		cb.consecutiveSuccesses = 0
		cb.lastFailureTime = time.Now()
		if cb.state == CircuitHalfOpen || cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.setState(CircuitOpen)
			cb.nextRetryTime = time.Now().Add(cb.config.Timeout)
		}
		return
	}

	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses++
	if cb.state == CircuitHalfOpen && cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
		cb.setState(CircuitClosed)
	}
}

// must hold cb.mu
func (cb *CircuitBreaker) setState(to string) {
	from := cb.state
	cb.state = to
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.key, from, to)
	}
}

// State returns the current state of the circuit
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns circuit breaker statistics
func (cb *CircuitBreaker) Stats() CircuitStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := CircuitStats{
		State:               cb.state,
		Requests:            cb.requests,
		TotalFailures:       cb.totalFailures,
		ConsecutiveFailures: cb.consecutiveFailures,
		LastFailureTime:     cb.lastFailureTime,
	}
	if cb.state == CircuitOpen {
		stats.NextRetryTime = cb.nextRetryTime
	}
	return stats
}

// Reset closes the circuit and clears its counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(CircuitClosed)
	cb.requests = 0
	cb.totalFailures = 0
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.probing = false
	cb.lastFailureTime = time.Time{}
	cb.nextRetryTime = time.Time{}
}

// CircuitBreakerManager keeps one breaker per provider host
type CircuitBreakerManager struct {
	config   CircuitBreakerConfig
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerManager creates a new circuit breaker manager
func NewCircuitBreakerManager(config CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{config: config, breakers: make(map[string]*CircuitBreaker)}
}

// Breaker returns the breaker for key, creating it on first use
func (m *CircuitBreakerManager) Breaker(key string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.breakers[key]
	if !ok {
		b = NewCircuitBreaker(key, m.config)
		m.breakers[key] = b
	}
	return b
}

// Call executes fn using the circuit breaker for key
func (m *CircuitBreakerManager) Call(ctx context.Context, key string, fn func() error, counts func(error) bool) error {
	return m.Breaker(key).Call(ctx, fn, counts)
}

// Stats returns statistics for every breaker
func (m *CircuitBreakerManager) Stats() map[string]CircuitStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]CircuitStats, len(m.breakers))
	for k, b := range m.breakers {
		out[k] = b.Stats()
	}
	return out
}
