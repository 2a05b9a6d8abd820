// Package ratelimit meters MCP tool calls with per-key token buckets. A
// call may cost more than one token, so a tool that advances many turns
// pays for each of them.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Limiter holds one token bucket per key. It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	rate    float64 // tokens per second
	burst   float64
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens float64
	at     time.Time
}

// NewLimiter returns a limiter refilling rate tokens per second up to
// burst. A new key starts with a full bucket.
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// fill returns key's bucket topped up to now. l.mu must be held.
func (l *Limiter) fill(key string) *bucket {
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, at: now}
		l.buckets[key] = b
		return b
	}
	if dt := now.Sub(b.at).Seconds(); dt > 0 {
		b.tokens = math.Min(l.burst, b.tokens+dt*l.rate)
		b.at = now
	}
	return b
}

// Allow takes one token for key.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.Reserve(key, 1)
	return ok
}

// Reserve takes cost tokens for key if they are all available. Otherwise
// it takes nothing and returns how long until they will be. The wait is
// negative when cost can never be met.
func (l *Limiter) Reserve(key string, cost int) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	need := float64(cost)
	if need > l.burst {
		return false, -1
	}
	b := l.fill(key)
	if b.tokens >= need {
		b.tokens -= need
		return true, 0
	}
	if l.rate <= 0 {
		return false, -1
	}
	wait := time.Duration((need - b.tokens) / l.rate * float64(time.Second))
	return false, wait
}

// Limit is a refill rate and a burst size, in tokens.
type Limit struct {
	PerMinute float64
	Burst     int
}

// ToolLimiters maps tool names to their limiters.
type ToolLimiters map[string]*Limiter

// NewToolLimiters creates one limiter per entry of limits.
func NewToolLimiters(limits map[string]Limit) ToolLimiters {
	out := make(ToolLimiters, len(limits))
	for tool, l := range limits {
		out[tool] = NewLimiter(l.PerMinute/60, l.Burst)
	}
	return out
}

// LimitError is returned for a call the limiter refused.
type LimitError struct {
	Tool string
	Cost int
	// RetryAfter is zero when waiting will not help.
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	if e.RetryAfter <= 0 {
		return fmt.Sprintf("rate limit exceeded for %s (cost %d)", e.Tool, e.Cost)
	}
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Tool, e.RetryAfter.Truncate(time.Millisecond))
}

// CheckLimit charges one call to tool.
func CheckLimit(limiters ToolLimiters, tool string) error {
	return Charge(limiters, tool, 1)
}

// Charge takes cost tokens from tool's limiter. Tools without a limiter are
// free.
func Charge(limiters ToolLimiters, tool string, cost int) error {
	l, ok := limiters[tool]
	if !ok {
		return nil
	}
	if ok, wait := l.Reserve(tool, cost); !ok {
		return &LimitError{Tool: tool, Cost: cost, RetryAfter: max(wait, 0)}
	}
	return nil
}
