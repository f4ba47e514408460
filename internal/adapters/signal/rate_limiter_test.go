package signal

import (
	"testing"
	"time"

	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow(1))
	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1))
	assert.True(t, rl.Allow(2), "limits are per user")

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, rl.Allow(1))
}

func TestRateLimiterForget(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, time.Second)
	rl.now = func() time.Time { return now }

	rl.Allow(1)
	now = now.Add(500 * time.Millisecond)
	rl.Allow(2)
	now = now.Add(700 * time.Millisecond)
	rl.Forget()

	assert.NotContains(t, rl.history, domain.UserID(1))
	assert.Contains(t, rl.history, domain.UserID(2))
}
