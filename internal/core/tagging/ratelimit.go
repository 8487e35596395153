package tagging

import (
	"fmt"
	"sync"
	"time"
)

// TokenBucketLimiter はトークンバケットによるプロセスローカルなLimiter実装
//
// 状態はプロセス内メモリのみに保持され、再起動で失われる。
// 複数インスタンスでの正確なレート制限には共有ストア実装を使うこと。
type TokenBucketLimiter struct {
	mu sync.Mutex

	// maxRequestsPerMinute は1分あたりの最大リクエスト数
	maxRequestsPerMinute int

	// tokens は残りトークン数
	tokens int

	// lastRefill は最後にトークンを補充した時刻
	lastRefill time.Time
}

// NewTokenBucketLimiter は新しいTokenBucketLimiterを作成する
func NewTokenBucketLimiter(maxRequestsPerMinute int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		maxRequestsPerMinute: maxRequestsPerMinute,
		tokens:               maxRequestsPerMinute,
		lastRefill:           time.Now(),
	}
}

// Allow はトークンを1つ消費して呼び出しを許可する
// トークンがない場合はブロックせず、次の補充までの待機時間を返す
func (rl *TokenBucketLimiter) Allow() (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillTokens()

	if rl.tokens > 0 {
		rl.tokens--
		return true, 0
	}

	retryAfter := time.Until(rl.lastRefill.Add(time.Minute))
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter
}

// refillTokens はトークンを補充する（内部用）
// 呼び出し側でロックを取得していることを前提とする
func (rl *TokenBucketLimiter) refillTokens() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)

	if elapsed < time.Minute {
		return
	}

	minutes := int(elapsed.Minutes())
	tokensToAdd := minutes * rl.maxRequestsPerMinute

	rl.tokens = min(rl.tokens+tokensToAdd, rl.maxRequestsPerMinute)
	rl.lastRefill = rl.lastRefill.Add(time.Duration(minutes) * time.Minute)
}

// Status は現在の状態を返す（デバッグ・監視用）
func (rl *TokenBucketLimiter) Status() LimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillTokens()

	return LimiterStatus{
		MaxRequestsPerMinute: rl.maxRequestsPerMinute,
		AvailableTokens:      rl.tokens,
	}
}

// LimiterStatus はレート制限の状態
type LimiterStatus struct {
	MaxRequestsPerMinute int
	AvailableTokens      int
}

// String はステータスを文字列表現で返す
func (s LimiterStatus) String() string {
	return fmt.Sprintf(
		"RateLimiter: max=%d/min, available=%d",
		s.MaxRequestsPerMinute,
		s.AvailableTokens,
	)
}

// UnlimitedLimiter は常に許可するLimiter（テスト・開発用）
type UnlimitedLimiter struct{}

// Allow は常にtrueを返す
func (UnlimitedLimiter) Allow() (bool, time.Duration) {
	return true, 0
}
