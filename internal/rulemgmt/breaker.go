package rulemgmt

import (
	"sync"
	"time"
)

// Breaker is a consecutive-failure circuit breaker for the rule-management
// API. Opens after `threshold` consecutive failures and allows a half-open
// probe after `cooldown`. Independent of the planner's own breaker.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openedAt  time.Time
	now       func() time.Time
}

// NewBreaker creates a breaker. Zero values fall back to the defaults of
// 5 failures and a 60 second cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may proceed: closed, or open with the
// cooldown elapsed (half-open probe).
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return true
	}
	return b.now().Sub(b.openedAt) >= b.cooldown
}

// Success closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Failure records one failure. Crossing the threshold, or failing a
// half-open probe, (re)opens the breaker for a full cooldown.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openedAt = b.now()
	}
}

// Open reports whether calls are currently rejected.
func (b *Breaker) Open() bool {
	return !b.Allow()
}
