package service

import (
	"math"
	"sync"
	"time"
)

// RateLimiter is a per-user sliding-window counter over request timestamps.
// Admins always pass. Safe for concurrent use; window, quota and the admin
// set are reconfigurable at runtime.
type RateLimiter struct {
	mu          sync.Mutex
	window      time.Duration
	maxRequests int
	admins      map[int64]bool
	requests    map[int64][]time.Time
	now         func() time.Time
}

func NewRateLimiter(window time.Duration, maxRequests int, adminIDs []int64) *RateLimiter {
	r := &RateLimiter{
		window:      window,
		maxRequests: maxRequests,
		admins:      map[int64]bool{},
		requests:    map[int64][]time.Time{},
		now:         time.Now,
	}
	for _, id := range adminIDs {
		r.admins[id] = true
	}
	return r
}

// Check records one request attempt. It returns whether the user is
// limited, the request count inside the current window, and — when limited —
// the whole seconds until a slot frees up.
func (r *RateLimiter) Check(userID int64) (limited bool, count int, resetSeconds int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.admins[userID] {
		return false, 0, 0
	}

	now := r.now()
	cutoff := now.Add(-r.window)
	recent := r.requests[userID][:0]
	for _, ts := range r.requests[userID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) < r.maxRequests {
		recent = append(recent, now)
		r.requests[userID] = recent
		return false, len(recent), 0
	}

	r.requests[userID] = recent
	reset := int(math.Ceil(recent[0].Add(r.window).Sub(now).Seconds())) + 1
	return true, len(recent), reset
}

// Reset clears the window for one user.
func (r *RateLimiter) Reset(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, userID)
}

// ResetAll clears every window.
func (r *RateLimiter) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = map[int64][]time.Time{}
}

// Configure replaces the window and quota without dropping existing state.
func (r *RateLimiter) Configure(window time.Duration, maxRequests int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.window = window
	r.maxRequests = maxRequests
}

// SetAdmin grants or revokes the bypass for one user.
func (r *RateLimiter) SetAdmin(userID int64, admin bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if admin {
		r.admins[userID] = true
	} else {
		delete(r.admins, userID)
	}
}
