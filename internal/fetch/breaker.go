package fetch

import (
	"sync"
	"time"

	"threadbot/internal/logger"
)

// CircuitState represents the state of a source circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// Circuit is the breaker state of one source.
type Circuit struct {
	State       CircuitState `json:"state"`
	Failures    int          `json:"failures"`
	LastFailure time.Time    `json:"last_failure,omitempty"`
	NextRetryAt time.Time    `json:"next_retry_at,omitempty"`
}

// Breaker skips sources that keep failing. After Threshold consecutive
// failures a source is skipped for Cooldown, then one attempt is let through.
type Breaker struct {
	Threshold int
	Cooldown  time.Duration

	mu       sync.Mutex
	circuits map[string]*Circuit
	now      func() time.Time
}

// NewBreaker returns a breaker with the given threshold and cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	return &Breaker{
		Threshold: threshold,
		Cooldown:  cooldown,
		circuits:  make(map[string]*Circuit),
		now:       time.Now,
	}
}

func (b *Breaker) get(name string) *Circuit {
	c, ok := b.circuits[name]
	if !ok {
		c = &Circuit{State: CircuitClosed}
		b.circuits[name] = c
	}
	return c
}

// Allow reports whether name may be called now.
func (b *Breaker) Allow(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(name)
	if c.State != CircuitOpen {
		return true
	}
	if b.now().After(c.NextRetryAt) {
		c.State = CircuitHalfOpen
		logger.Info("fetch: circuit half-open, attempting retry", map[string]interface{}{"source": name})
		return true
	}
	return false
}

// Success closes the circuit for name.
func (b *Breaker) Success(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(name)
	c.State = CircuitClosed
	c.Failures = 0
}

// Failure records a failed call and opens the circuit at the threshold. A
// failure while half-open reopens it immediately.
func (b *Breaker) Failure(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(name)
	c.Failures++
	c.LastFailure = b.now()
	if c.Failures >= b.Threshold || c.State == CircuitHalfOpen {
		c.State = CircuitOpen
		c.NextRetryAt = c.LastFailure.Add(b.Cooldown)
		logger.Warn("fetch: circuit opened", map[string]interface{}{
			"source": name, "failures": c.Failures,
			"retry_at": c.NextRetryAt.Format(time.RFC3339),
		})
	}
}

// Snapshot copies the state of every known circuit.
func (b *Breaker) Snapshot() map[string]Circuit {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Circuit, len(b.circuits))
	for k, v := range b.circuits {
		out[k] = *v
	}
	return out
}
