package tagging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTokenBucketLimiterAllow はトークン消費と枯渇時の拒否を確認します
func TestTokenBucketLimiterAllow(t *testing.T) {
	limiter := NewTokenBucketLimiter(3)

	for i := 0; i < 3; i++ {
		ok, retryAfter := limiter.Allow()
		assert.True(t, ok, "トークンが残っている間は許可される")
		assert.Zero(t, retryAfter)
	}

	ok, retryAfter := limiter.Allow()
	assert.False(t, ok, "トークン枯渇後は拒否される")
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Minute)
}

// TestTokenBucketLimiterRefill は手動で時計を巻き戻して補充を確認します
func TestTokenBucketLimiterRefill(t *testing.T) {
	limiter := NewTokenBucketLimiter(2)

	limiter.Allow()
	limiter.Allow()
	ok, _ := limiter.Allow()
	require.False(t, ok)

	// 1分経過した状態を再現する
	limiter.mu.Lock()
	limiter.lastRefill = limiter.lastRefill.Add(-time.Minute)
	limiter.mu.Unlock()

	ok, _ = limiter.Allow()
	assert.True(t, ok, "1分経過後はトークンが補充される")

	status := limiter.Status()
	assert.Equal(t, 2, status.MaxRequestsPerMinute)
	assert.Equal(t, 1, status.AvailableTokens)
}

// TestUnlimitedLimiter は常に許可されることを確認します
func TestUnlimitedLimiter(t *testing.T) {
	limiter := UnlimitedLimiter{}
	for i := 0; i < 100; i++ {
		ok, retryAfter := limiter.Allow()
		assert.True(t, ok)
		assert.Zero(t, retryAfter)
	}
}
