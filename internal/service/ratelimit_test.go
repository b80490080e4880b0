package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock makes the limiter deterministic by pinning its notion of now.
func fakeClock(r *RateLimiter, at *time.Time) {
	r.now = func() time.Time { return *at }
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	r := NewRateLimiter(10*time.Second, 3, nil)
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	now := base
	fakeClock(r, &now)

	// Three requests in the first seconds all pass.
	for i := 1; i <= 3; i++ {
		now = base.Add(time.Duration(i-1) * time.Second)
		limited, count, reset := r.Check(1)
		assert.False(t, limited, "request %d", i)
		assert.Equal(t, i, count)
		assert.Zero(t, reset)
	}

	// Fourth and fifth hit the quota; reset counts down toward the oldest
	// request leaving the window.
	now = base.Add(3 * time.Second)
	limited, count, reset := r.Check(1)
	assert.True(t, limited)
	assert.Equal(t, 3, count)
	assert.Equal(t, 8, reset) // oldest at t+0 frees at t+10, 7s away, +1 margin

	now = base.Add(5 * time.Second)
	limited, _, reset = r.Check(1)
	assert.True(t, limited)
	assert.Equal(t, 6, reset)

	// Once the oldest request ages out a slot frees up.
	now = base.Add(10*time.Second + time.Millisecond)
	limited, count, _ = r.Check(1)
	assert.False(t, limited)
	assert.Equal(t, 3, count)
}

func TestRateLimiterUsersIndependent(t *testing.T) {
	r := NewRateLimiter(time.Minute, 1, nil)
	now := time.Now()
	fakeClock(r, &now)

	limited, _, _ := r.Check(1)
	assert.False(t, limited)
	limited, _, _ = r.Check(2)
	assert.False(t, limited, "one user's quota never affects another")
	limited, _, _ = r.Check(1)
	assert.True(t, limited)
}

func TestRateLimiterAdminBypass(t *testing.T) {
	r := NewRateLimiter(time.Minute, 1, []int64{99})
	now := time.Now()
	fakeClock(r, &now)

	for i := 0; i < 10; i++ {
		limited, count, reset := r.Check(99)
		assert.False(t, limited)
		assert.Zero(t, count)
		assert.Zero(t, reset)
	}

	r.SetAdmin(99, false)
	limited, _, _ := r.Check(99)
	assert.False(t, limited, "first request after revoke still fits the quota")
	limited, _, _ = r.Check(99)
	assert.True(t, limited)
}

func TestRateLimiterReset(t *testing.T) {
	r := NewRateLimiter(time.Minute, 1, nil)
	now := time.Now()
	fakeClock(r, &now)

	r.Check(1)
	limited, _, _ := r.Check(1)
	assert.True(t, limited)

	r.Reset(1)
	limited, _, _ = r.Check(1)
	assert.False(t, limited)

	r.Check(2)
	r.ResetAll()
	limited, _, _ = r.Check(2)
	assert.False(t, limited)
}

func TestRateLimiterConfigure(t *testing.T) {
	r := NewRateLimiter(time.Minute, 1, nil)
	now := time.Now()
	fakeClock(r, &now)

	r.Check(1)
	limited, _, _ := r.Check(1)
	assert.True(t, limited)

	r.Configure(time.Minute, 5)
	limited, count, _ := r.Check(1)
	assert.False(t, limited, "raising the quota frees existing users")
	assert.Equal(t, 2, count)
}
