package proxy

import (
	"sync"
	"time"
)

// cbState represents the operational state of a per-upstream circuit breaker.
//
//	cbClosed   — normal operation; all requests pass through.
//	cbOpen     — upstream is failing; requests are rejected immediately.
//	cbHalfOpen — recovery probe; one request is allowed through.
type cbState int

const (
	cbClosed   cbState = 0
	cbOpen     cbState = 1
	cbHalfOpen cbState = 2
)

// Circuit breaker defaults, used when CBConfig fields are zero.
const (
	cbErrorThreshold  = 5
	cbTimeWindow      = 60 * time.Second
	cbHalfOpenTimeout = 30 * time.Second
)

// CBConfig holds circuit breaker tuning parameters. Zero values fall back to
// the package-level defaults.
type CBConfig struct {
	// ErrorThreshold is the number of failures within TimeWindow that trips
	// the breaker.
	ErrorThreshold int

	// TimeWindow is the rolling window for counting errors.
	TimeWindow time.Duration

	// HalfOpenTimeout is how long the breaker stays open before allowing a
	// single probe request.
	HalfOpenTimeout time.Duration
}

func (c *CBConfig) errorThreshold() int {
	if c.ErrorThreshold > 0 {
		return c.ErrorThreshold
	}
	return cbErrorThreshold
}

func (c *CBConfig) timeWindow() time.Duration {
	if c.TimeWindow > 0 {
		return c.TimeWindow
	}
	return cbTimeWindow
}

func (c *CBConfig) halfOpenTimeout() time.Duration {
	if c.HalfOpenTimeout > 0 {
		return c.HalfOpenTimeout
	}
	return cbHalfOpenTimeout
}

// upstreamCB holds per-upstream circuit breaker state.
type upstreamCB struct {
	mu sync.Mutex

	state         cbState
	errorCount    int
	windowStart   time.Time // start of the current error-counting window
	openedAt      time.Time // when the breaker was tripped (for half-open timer)
	probeInflight bool      // true while a half-open probe is in flight
}

// CircuitBreaker manages independent circuit breakers for each upstream the
// proxy forwards to. Breakers are created lazily the first time an upstream
// is seen. It is safe for concurrent use from multiple goroutines.
type CircuitBreaker struct {
	mu       sync.RWMutex
	breakers map[string]*upstreamCB
	cfg      CBConfig
}

// NewCircuitBreaker creates a CircuitBreaker with default settings.
func NewCircuitBreaker() *CircuitBreaker {
	return NewCircuitBreakerWithConfig(CBConfig{})
}

// NewCircuitBreakerWithConfig creates a CircuitBreaker with custom thresholds.
// Use this to apply values loaded from configuration.
func NewCircuitBreakerWithConfig(cfg CBConfig) *CircuitBreaker {
	return &CircuitBreaker{
		breakers: make(map[string]*upstreamCB),
		cfg:      cfg,
	}
}

// Allow reports whether the named upstream should receive the next request.
//
//   - Closed  → always true.
//   - Open    → false, unless the half-open timeout has elapsed, in which case
//     the breaker transitions to HalfOpen and allows one probe.
//   - HalfOpen → true only if no probe is currently in flight.
func (cb *CircuitBreaker) Allow(upstream string) bool {
	ucb := cb.get(upstream)

	ucb.mu.Lock()
	defer ucb.mu.Unlock()

	switch ucb.state {
	case cbClosed:
		return true

	case cbOpen:
		if time.Since(ucb.openedAt) >= cb.cfg.halfOpenTimeout() {
			// Transition to half-open: allow exactly one probe request.
			ucb.state = cbHalfOpen
			ucb.probeInflight = true
			return true
		}
		return false

	case cbHalfOpen:
		if ucb.probeInflight {
			// A probe is already in flight — reject other requests.
			return false
		}
		ucb.probeInflight = true
		return true
	}

	return true
}

// RecordSuccess marks a successful forward for upstream and resets the
// breaker to Closed regardless of its previous state.
func (cb *CircuitBreaker) RecordSuccess(upstream string) {
	ucb := cb.get(upstream)

	ucb.mu.Lock()
	defer ucb.mu.Unlock()

	ucb.state = cbClosed
	ucb.errorCount = 0
	ucb.probeInflight = false
	ucb.windowStart = time.Now()
}

// RecordFailure increments the error counter for upstream. When the counter
// reaches ErrorThreshold within TimeWindow the breaker opens.
func (cb *CircuitBreaker) RecordFailure(upstream string) {
	ucb := cb.get(upstream)

	ucb.mu.Lock()
	defer ucb.mu.Unlock()

	now := time.Now()

	// Reset counter when the rolling window has expired.
	if now.Sub(ucb.windowStart) > cb.cfg.timeWindow() {
		ucb.errorCount = 0
		ucb.windowStart = now
	}

	ucb.errorCount++
	ucb.probeInflight = false

	if ucb.errorCount >= cb.cfg.errorThreshold() {
		ucb.state = cbOpen
		ucb.openedAt = now
	}
}

// State returns the current cbState for upstream (useful for metrics export).
func (cb *CircuitBreaker) State(upstream string) cbState {
	ucb := cb.get(upstream)
	ucb.mu.Lock()
	defer ucb.mu.Unlock()
	return ucb.state
}

// StateLabel returns a human-readable state name: "closed", "open", or "half_open".
func (cb *CircuitBreaker) StateLabel(upstream string) string {
	switch cb.State(upstream) {
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

func (cb *CircuitBreaker) get(upstream string) *upstreamCB {
	cb.mu.RLock()
	ucb, ok := cb.breakers[upstream]
	cb.mu.RUnlock()
	if ok {
		return ucb
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if ucb, ok = cb.breakers[upstream]; ok {
		return ucb
	}
	ucb = &upstreamCB{state: cbClosed, windowStart: time.Now()}
	cb.breakers[upstream] = ucb
	return ucb
}
