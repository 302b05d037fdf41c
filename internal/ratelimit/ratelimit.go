package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a refilling token bucket. Tokens accrue continuously at
// rate per interval up to capacity; Allow consumes one when available.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	rate       float64
	interval   time.Duration
	lastRefill time.Time
}

// NewTokenBucket creates a bucket that starts full.
func NewTokenBucket(rate float64, interval time.Duration, capacity float64) *TokenBucket {
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		rate:       rate,
		interval:   interval,
		lastRefill: time.Now(),
	}
}

// Allow consumes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.tokens += elapsed.Seconds() / tb.interval.Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// Limiter bounds connection attempts per source address and inbound frames
// per connection. A zero rate disables the corresponding check.
type Limiter struct {
	mu       sync.Mutex
	sources  map[string]*TokenBucket
	conns    map[uint64]*TokenBucket
	connRate int // connection attempts per minute per source
	msgRate  int // frames per second per connection
}

// New creates a limiter with the given per-source and per-connection rates.
func New(connectionsPerMinute, messagesPerSecond int) *Limiter {
	return &Limiter{
		sources:  make(map[string]*TokenBucket),
		conns:    make(map[uint64]*TokenBucket),
		connRate: connectionsPerMinute,
		msgRate:  messagesPerSecond,
	}
}

// AllowConnection checks whether a new connection from source may proceed.
func (l *Limiter) AllowConnection(source string) bool {
	if l.connRate <= 0 {
		return true
	}
	l.mu.Lock()
	bucket, ok := l.sources[source]
	if !ok {
		bucket = NewTokenBucket(float64(l.connRate), time.Minute, float64(l.connRate))
		l.sources[source] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}

// AllowMessage checks whether connection conn may deliver another frame.
func (l *Limiter) AllowMessage(conn uint64) bool {
	if l.msgRate <= 0 {
		return true
	}
	l.mu.Lock()
	bucket, ok := l.conns[conn]
	if !ok {
		bucket = NewTokenBucket(float64(l.msgRate), time.Second, float64(l.msgRate))
		l.conns[conn] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}

// DropConnection forgets a closed connection's bucket.
func (l *Limiter) DropConnection(conn uint64) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
}

// CleanupSources removes buckets for source addresses with no remaining
// connection, keeping the map bounded by the set of live sources.
func (l *Limiter) CleanupSources(active map[string]bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for source := range l.sources {
		if !active[source] {
			delete(l.sources, source)
		}
	}
}
