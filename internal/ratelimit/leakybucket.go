package ratelimit

import (
	"context"
	"sync"
	"time"
)

// LeakyBucket smooths outbound request pacing to a target RPM. Unlike
// Limiter it is safe for concurrent callers; the provider HTTP client uses
// it to spread retries evenly instead of bursting.
type LeakyBucket struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	closed   bool
}

// NewLeakyBucketFromRPM builds a bucket that admits rpm calls per minute.
func NewLeakyBucketFromRPM(rpm int) *LeakyBucket {
	b := &LeakyBucket{}
	b.SetRPM(rpm)
	return b
}

// SetRPM retargets the bucket. rpm<=0 disables pacing.
func (b *LeakyBucket) SetRPM(rpm int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rpm <= 0 {
		b.interval = 0
		return
	}
	b.interval = time.Minute / time.Duration(rpm)
}

// Wait blocks until the next slot is available or ctx is done.
func (b *LeakyBucket) Wait(ctx context.Context) error {
	b.mu.Lock()
	if b.closed || b.interval == 0 {
		b.mu.Unlock()
		return ctx.Err()
	}
	now := time.Now()
	slot := b.next
	if slot.Before(now) {
		slot = now
	}
	b.next = slot.Add(b.interval)
	b.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close disables the bucket; subsequent Waits return immediately.
func (b *LeakyBucket) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
