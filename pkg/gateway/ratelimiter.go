package gateway

import (
	"net"
	"sync"
	"time"
)

const (
	reasonConcurrent = "too many concurrent requests"
	reasonRate       = "rate limit exceeded"
)

// RateLimiter limits chat requests per minute (sliding window) and
// concurrent streams.
type RateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	requests          []time.Time
	concurrent        int
	now               func() time.Time
}

// NewRateLimiter creates a limiter. Non-positive limits fall back to 30
// requests per minute and 4 concurrent streams.
func NewRateLimiter(requestsPerMinute, maxConcurrent int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		now:               time.Now,
	}
}

// Acquire admits a request and counts it as started, or returns the reason
// it was refused. Every successful Acquire must be paired with Release.
func (r *RateLimiter) Acquire() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrent >= r.maxConcurrent {
		return false, reasonConcurrent
	}
	now := r.now()
	r.prune(now)
	if len(r.requests) >= r.requestsPerMinute {
		return false, reasonRate
	}

	r.requests = append(r.requests, now)
	r.concurrent++
	return true, ""
}

// Release marks a request as finished.
func (r *RateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.concurrent > 0 {
		r.concurrent--
	}
}

// Stats returns requests in the current window and running requests.
func (r *RateLimiter) Stats() (requestCount, concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	return len(r.requests), r.concurrent
}

func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	kept := r.requests[:0]
	for _, t := range r.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.requests = kept
}

// idle reports whether r has no running requests and none in the window.
func (r *RateLimiter) idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	return r.concurrent == 0 && len(r.requests) == 0
}

// limiterIdleTTL is how long a host's limiter is kept after its last use.
const limiterIdleTTL = 10 * time.Minute

type pooledLimiter struct {
	limiter  *RateLimiter
	lastUsed time.Time
}

// limiterPool hands out one limiter per remote host. Limiters unused for
// limiterIdleTTL and holding no requests are dropped.
type limiterPool struct {
	mu                sync.Mutex
	limiters          map[string]*pooledLimiter
	requestsPerMinute int
	maxConcurrent     int
	nextSweep         time.Time
	now               func() time.Time
}

func newLimiterPool(requestsPerMinute, maxConcurrent int) *limiterPool {
	return &limiterPool{
		limiters:          make(map[string]*pooledLimiter),
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		now:               time.Now,
	}
}

func (p *limiterPool) get(remoteAddr string) *RateLimiter {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !now.Before(p.nextSweep) {
		for h, e := range p.limiters {
			if now.Sub(e.lastUsed) >= limiterIdleTTL && e.limiter.idle() {
				delete(p.limiters, h)
			}
		}
		p.nextSweep = now.Add(limiterIdleTTL)
	}

	e, ok := p.limiters[host]
	if !ok {
		e = &pooledLimiter{limiter: NewRateLimiter(p.requestsPerMinute, p.maxConcurrent)}
		p.limiters[host] = e
	}
	e.lastUsed = now
	return e.limiter
}
