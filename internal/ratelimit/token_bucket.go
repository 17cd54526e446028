// Package ratelimit bounds how many signaling messages a single relay
// connection may inject per second.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time so refill behaviour can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// One token is stored as 1e9 nano-tokens so that a rate of N tokens/sec adds
// exactly N nano-tokens per elapsed nanosecond.
const nanoPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate using a provided Clock.
//
// A bucket with capacity <= 0 or rate <= 0 never admits anything; callers that
// want "unlimited" should not construct a bucket at all.
type TokenBucket struct {
	clock Clock

	mu       sync.Mutex
	capacity int64 // nano-tokens
	rate     int64 // tokens/sec == nano-tokens/ns
	avail    int64 // nano-tokens
	last     time.Time
}

func NewTokenBucket(clock Clock, capacityTokens, tokensPerSecond int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capacity := toNano(capacityTokens)
	if tokensPerSecond < 0 {
		tokensPerSecond = 0
	}
	return &TokenBucket{
		clock:    clock,
		capacity: capacity,
		rate:     tokensPerSecond,
		avail:    capacity,
		last:     clock.Now(),
	}
}

// Allow consumes n tokens when available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := toNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.avail < cost {
		return false
	}
	b.avail -= cost
	return true
}

func (b *TokenBucket) refill() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	if elapsed <= 0 || b.rate <= 0 || b.avail >= b.capacity {
		// Clock went backwards or nothing to add; the reference point still moves.
		return
	}

	missing := b.capacity - b.avail
	if elapsed >= missing/b.rate {
		b.avail = b.capacity
		return
	}
	b.avail += elapsed * b.rate
	if b.avail > b.capacity {
		b.avail = b.capacity
	}
}

func toNano(tokens int64) int64 {
	switch {
	case tokens <= 0:
		return 0
	case tokens > maxInt64/nanoPerToken:
		return maxInt64
	default:
		return tokens * nanoPerToken
	}
}
