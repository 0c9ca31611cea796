// Package ratelimit implements per-key token buckets with per-minute
// refill, sized for HTTP admission control.
package ratelimit

import (
	"sync"
	"time"
)

// maxKeys caps the bucket map so unauthenticated clients cycling IPs can't
// grow it without bound. At the cap, the stalest bucket is recycled.
const maxKeys = 10000

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// Limiter admits requests against per-key token buckets. A key is
// typically "endpoint|identity". Zero or negative limit means unlimited.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{
		buckets: map[string]*bucket{},
		now:     time.Now,
	}
}

// Allow consumes one token from the key's bucket when available.
// perMinute is the bucket's capacity and refill rate.
func (l *Limiter) Allow(key string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refillLocked(key, perMinute)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// WaitTime reports how long until the key has a token again, for the
// Retry-After header. Zero when a request would be admitted now.
func (l *Limiter) WaitTime(key string, perMinute int) time.Duration {
	if perMinute <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refillLocked(key, perMinute)
	if b.tokens >= 1 {
		return 0
	}
	perToken := time.Minute / time.Duration(perMinute)
	missing := 1 - b.tokens
	return time.Duration(missing * float64(perToken))
}

func (l *Limiter) refillLocked(key string, perMinute int) *bucket {
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxKeys {
			l.evictStalestLocked()
		}
		b = &bucket{tokens: float64(perMinute), lastFill: now}
		l.buckets[key] = b
		return b
	}

	elapsed := now.Sub(b.lastFill)
	b.tokens += elapsed.Minutes() * float64(perMinute)
	if capacity := float64(perMinute); b.tokens > capacity {
		b.tokens = capacity
	}
	b.lastFill = now
	return b
}

func (l *Limiter) evictStalestLocked() {
	var staleKey string
	var staleAt time.Time
	for k, b := range l.buckets {
		if staleKey == "" || b.lastFill.Before(staleAt) {
			staleKey = k
			staleAt = b.lastFill
		}
	}
	delete(l.buckets, staleKey)
}
