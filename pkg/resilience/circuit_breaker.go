package resilience

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/auriskit/auris/pkg/metrics"
)

// RateLimitError represents a provider rate limit response.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limit"
}

// IsRateLimit returns true when the error is a RateLimitError.
func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// CircuitBreaker suspends a provider after repeated rate-limit failures so a
// throttled vendor is not hammered mid-conversation. Open and close
// transitions are recorded against the observer under the breaker's name;
// plain errors never trip it.
type CircuitBreaker struct {
	mu        sync.Mutex
	name      string
	obs       metrics.Observer
	failures  int
	threshold int
	openUntil time.Time
	cooldown  time.Duration
}

func NewCircuitBreaker(name string, threshold int, cooldown time.Duration, obs metrics.Observer) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{name: name, threshold: threshold, cooldown: cooldown, obs: obs}
}

func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !time.Now().Before(c.openUntil)
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	wasOpen := time.Now().Before(c.openUntil)
	c.failures = 0
	c.openUntil = time.Time{}
	c.mu.Unlock()
	if wasOpen {
		metrics.Record(c.obs, metrics.EventBreakerClose, map[string]string{"breaker": c.name})
	}
}

func (c *CircuitBreaker) OnError(err error) {
	if !IsRateLimit(err) {
		return
	}
	c.mu.Lock()
	now := time.Now()
	wasOpen := now.Before(c.openUntil)
	c.failures++
	if c.failures >= c.threshold {
		c.openUntil = now.Add(c.cooldown)
	}
	opened := !wasOpen && now.Before(c.openUntil)
	failures := c.failures
	c.mu.Unlock()
	if opened {
		metrics.Record(c.obs, metrics.EventBreakerOpen, map[string]string{
			"breaker":  c.name,
			"failures": strconv.Itoa(failures),
		})
	}
}
