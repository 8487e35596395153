package tagging

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestRateLimitError はエラー分類とerrors.Is/Asの互換性を確認します
func TestRateLimitError(t *testing.T) {
	base := errors.New("429 from provider")
	err := &RateLimitError{RetryAfter: 30 * time.Second, Err: base}

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, err, base)

	var rateLimitErr *RateLimitError
	assert.ErrorAs(t, fmt.Errorf("call failed: %w", err), &rateLimitErr)
	assert.Equal(t, 30*time.Second, rateLimitErr.RetryAfter)
}

// TestIsFatal は中断すべきエラーの分類を確認します
func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrAuth))
	assert.True(t, IsFatal(fmt.Errorf("wrapped: %w", ErrQuotaExceeded)))
	assert.False(t, IsFatal(ErrRateLimited))
	assert.False(t, IsFatal(ErrImageTooLarge))
	assert.False(t, IsFatal(errors.New("transient network error")))
}

// TestIsPerImage は画像単体で吸収すべきエラーの分類を確認します
func TestIsPerImage(t *testing.T) {
	assert.True(t, isPerImage(ErrImageTooLarge))
	assert.True(t, isPerImage(ErrUnsupportedFormat))
	assert.True(t, isPerImage(fmt.Errorf("wrapped: %w", ErrMalformedResponse)))
	assert.False(t, isPerImage(ErrAuth))
	assert.False(t, isPerImage(&RateLimitError{RetryAfter: time.Second}))
}
