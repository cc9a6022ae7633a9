// Package ratelimit paces requests per remote host.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// errors tolerated before a host is backed off
	errorThreshold = 3
	backoffStep    = 30 * time.Second
	maxBackoff     = 5 * time.Minute
)

// HostLimiter enforces a minimum interval between requests to the same host
// and backs a host off after repeated errors.
type HostLimiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	hosts       map[string]*hostState
	now         func() time.Time
}

type hostState struct {
	next         time.Time
	backoffUntil time.Time
	requestCount int64
	errorCount   int64
}

// HostStats contains statistics for a host
type HostStats struct {
	RequestCount int64
	ErrorCount   int64
	InBackoff    bool
	BackoffUntil time.Time
}

// NewHostLimiter creates a limiter allowing one request per minInterval per
// host. A zero interval only applies error backoff.
func NewHostLimiter(minInterval time.Duration) *HostLimiter {
	return &HostLimiter{
		minInterval: minInterval,
		hosts:       make(map[string]*hostState),
		now:         time.Now,
	}
}

func (r *HostLimiter) state(host string) *hostState {
	s, ok := r.hosts[host]
	if !ok {
		s = &hostState{}
		r.hosts[host] = s
	}
	return s
}

// Wait blocks until a request to host may start. Slots are reserved in
// call order, so concurrent callers for one host are spaced out rather than
// released together.
func (r *HostLimiter) Wait(ctx context.Context, host string) error {
	r.mu.Lock()
	s := r.state(host)
	now := r.now()

	start := now
	if s.backoffUntil.After(start) {
		start = s.backoffUntil
	}
	if s.next.After(start) {
		start = s.next
	}
	s.next = start.Add(r.minInterval)
	s.requestCount++
	r.mu.Unlock()

	wait := start.Sub(now)
	if wait <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordError records a failed request and backs the host off once errors
// keep repeating.
func (r *HostLimiter) RecordError(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.state(host)
	s.errorCount++
	if s.errorCount > errorThreshold {
		backoff := time.Duration(s.errorCount) * backoffStep
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		s.backoffUntil = r.now().Add(backoff)
	}
}

// RecordSuccess resets the error count of host
func (r *HostLimiter) RecordSuccess(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.hosts[host]; ok {
		s.errorCount = 0
	}
}

// Stats returns statistics for every host seen so far
func (r *HostLimiter) Stats() map[string]HostStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	stats := make(map[string]HostStats, len(r.hosts))
	for host, s := range r.hosts {
		stats[host] = HostStats{
			RequestCount: s.requestCount,
			ErrorCount:   s.errorCount,
			InBackoff:    now.Before(s.backoffUntil),
			BackoffUntil: s.backoffUntil,
		}
	}
	return stats
}
