package ratelimit

import (
	"context"
	"testing"
	"time"
)

// fakeClock drives a Limiter without real sleeps.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(minDelay time.Duration, threshold int, cooldown time.Duration) (*Limiter, *fakeClock) {
	l := New(minDelay, threshold, cooldown)
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	l.now = clock.now
	return l, clock
}

func TestShouldRateLimit(t *testing.T) {
	l, clock := newTestLimiter(time.Second, 5, time.Minute)

	if d := l.ShouldRateLimit(); d != 0 {
		t.Errorf("no prior call should mean no wait, got %v", d)
	}

	l.RecordCall()
	if d := l.ShouldRateLimit(); d != time.Second {
		t.Errorf("immediately after a call, expected full delay, got %v", d)
	}

	clock.advance(400 * time.Millisecond)
	if d := l.ShouldRateLimit(); d != 600*time.Millisecond {
		t.Errorf("expected remaining 600ms, got %v", d)
	}

	clock.advance(700 * time.Millisecond)
	if d := l.ShouldRateLimit(); d != 0 {
		t.Errorf("delay elapsed, expected no wait, got %v", d)
	}
}

func TestCircuitBreakerBoundary(t *testing.T) {
	l, _ := newTestLimiter(0, 5, time.Minute)

	for i := 0; i < 4; i++ {
		l.RecordFailure()
	}
	if l.IsCircuitOpen() {
		t.Fatalf("4 failures with threshold 5 must leave the circuit closed")
	}

	l.RecordFailure()
	if !l.IsCircuitOpen() {
		t.Fatalf("5th failure must open the circuit")
	}
}

func TestCircuitBreakerCooldown(t *testing.T) {
	l, clock := newTestLimiter(0, 5, time.Minute)

	for i := 0; i < 5; i++ {
		l.RecordFailure()
	}
	if !l.IsCircuitOpen() {
		t.Fatalf("circuit should be open")
	}

	clock.advance(59 * time.Second)
	if !l.IsCircuitOpen() {
		t.Errorf("circuit should still be open before cooldown elapses")
	}

	clock.advance(2 * time.Second)
	if l.IsCircuitOpen() {
		t.Errorf("circuit should close after cooldown")
	}
	if l.ConsecutiveFailures() != 0 {
		t.Errorf("failure streak should reset on close, got %d", l.ConsecutiveFailures())
	}
}

func TestSuccessResetsStreak(t *testing.T) {
	l, _ := newTestLimiter(0, 5, time.Minute)

	for i := 0; i < 4; i++ {
		l.RecordFailure()
	}
	l.RecordSuccess()
	for i := 0; i < 4; i++ {
		l.RecordFailure()
	}
	if l.IsCircuitOpen() {
		t.Errorf("success between streaks should keep the circuit closed")
	}
	l.RecordFailure()
	if !l.IsCircuitOpen() {
		t.Errorf("a full fresh streak should open the circuit")
	}
}

func TestLeakyBucketDisabled(t *testing.T) {
	b := NewLeakyBucketFromRPM(0)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := b.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("disabled bucket should not block, took %v", elapsed)
	}
}

func TestLeakyBucketPacing(t *testing.T) {
	// 6000 RPM = one slot per 10ms; three waits should take roughly 20ms.
	b := NewLeakyBucketFromRPM(6000)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := b.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("bucket admitted calls too fast: %v", elapsed)
	}
}

func TestLeakyBucketCancelled(t *testing.T) {
	b := NewLeakyBucketFromRPM(1) // one per minute
	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait should be immediate: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Wait(ctx); err == nil {
		t.Errorf("expected context error while waiting for a distant slot")
	}
}
