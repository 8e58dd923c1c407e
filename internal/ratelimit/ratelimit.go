// Package ratelimit implements the per-adapter token buckets guarding external provider calls.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Limiter decides whether one more provider call may be made right now.
// It never blocks: callers fall back when Allow reports false.
type Limiter interface {
	Allow(ctx context.Context) (bool, error)
}

// refill returns how many whole tokens have accrued for a bucket of the given
// per-minute capacity after elapsed time.
func refill(elapsed time.Duration, capacity int) int {
	if elapsed <= 0 {
		return 0
	}
	return int(math.Floor(float64(elapsed.Milliseconds()) / 60000 * float64(capacity)))
}

// TokenBucket is an in-process bucket with lazy refill. Capacity equals the
// configured requests per minute and the bucket starts full.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int
	tokens     int
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a full bucket holding capacity tokens.
func NewTokenBucket(capacity int) *TokenBucket {
	return NewTokenBucketWithClock(capacity, time.Now)
}

// NewTokenBucketWithClock creates a bucket that reads time from now.
func NewTokenBucketWithClock(capacity int, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		lastRefill: now(),
		now:        now,
	}
}

// Allow implements Limiter.
func (b *TokenBucket) Allow(_ context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if add := refill(now.Sub(b.lastRefill), b.capacity); add > 0 {
		b.tokens = min(b.capacity, b.tokens+add)
		b.lastRefill = now
	}

	if b.tokens <= 0 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Tokens returns the tokens currently available without refilling.
func (b *TokenBucket) Tokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}
