// Package ratelimit paces calls to external enrichment providers and trips
// a circuit breaker after a failure streak. A Limiter is owned by exactly
// one enrichment run and is not safe for concurrent callers; the
// orchestrator processes messages strictly sequentially.
package ratelimit

import (
	"time"
)

const (
	DefaultMinDelay         = 1 * time.Second
	DefaultFailureThreshold = 5
	DefaultCooldown         = 60 * time.Second
)

// Limiter tracks the last gated call and the consecutive-failure streak.
// State transitions: Closed -> (streak >= threshold) -> Open ->
// (cooldown elapses) -> Closed, with the streak reset on close.
type Limiter struct {
	minDelay         time.Duration
	failureThreshold int
	cooldown         time.Duration

	// now is swappable so the breaker boundary can be tested without
	// real sleeps.
	now func() time.Time

	lastCall  time.Time
	failures  int
	openUntil time.Time
}

// New constructs a Limiter. Non-positive arguments fall back to defaults.
func New(minDelay time.Duration, failureThreshold int, cooldown time.Duration) *Limiter {
	if minDelay < 0 {
		minDelay = 0
	}
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Limiter{
		minDelay:         minDelay,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// ShouldRateLimit returns how long the caller must wait before the next
// gated call, or 0 if no wait is needed.
func (l *Limiter) ShouldRateLimit() time.Duration {
	if l.lastCall.IsZero() || l.minDelay == 0 {
		return 0
	}
	elapsed := l.now().Sub(l.lastCall)
	if elapsed >= l.minDelay {
		return 0
	}
	return l.minDelay - elapsed
}

// RecordCall marks that a gated call is being made now.
func (l *Limiter) RecordCall() {
	l.lastCall = l.now()
}

// RecordSuccess resets the consecutive-failure streak.
func (l *Limiter) RecordSuccess() {
	l.failures = 0
}

// RecordFailure bumps the streak and opens the circuit once it reaches the
// threshold.
func (l *Limiter) RecordFailure() {
	l.failures++
	if l.failures >= l.failureThreshold {
		l.openUntil = l.now().Add(l.cooldown)
	}
}

// IsCircuitOpen reports whether gated calls should be skipped. Once the
// cooldown elapses the circuit closes and the failure streak resets.
func (l *Limiter) IsCircuitOpen() bool {
	if l.openUntil.IsZero() {
		return false
	}
	if l.now().Before(l.openUntil) {
		return true
	}
	l.openUntil = time.Time{}
	l.failures = 0
	return false
}

// ConsecutiveFailures exposes the current streak for run summaries.
func (l *Limiter) ConsecutiveFailures() int {
	return l.failures
}
