package tagging

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAuth はVision APIキーが無効な場合のエラー。リトライ不可
	ErrAuth = errors.New("vision API authentication failed")

	// ErrQuotaExceeded は課金クォータ超過。課金設定の修正までリトライ不可
	ErrQuotaExceeded = errors.New("vision API quota exceeded")

	// ErrRateLimited はレート制限。呼び出し側が時間をおいて再試行する
	ErrRateLimited = errors.New("vision API rate limited")

	// ErrMalformedResponse はモデル応答が解釈不能。該当画像のみ空タグで完了させる
	ErrMalformedResponse = errors.New("malformed model response")

	// ErrImageTooLarge は最大圧縮後もエンコード上限を超える画像。該当画像のみ失敗
	ErrImageTooLarge = errors.New("image exceeds maximum encoded size")

	// ErrUnsupportedFormat はJPEG/PNG/GIF/WebP以外の画像。該当画像のみ失敗
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrAssetNotFound はアセットが見つからない場合のエラー
	ErrAssetNotFound = errors.New("asset not found")

	// ErrBatchNotFound はバッチジョブが見つからない場合のエラー
	ErrBatchNotFound = errors.New("batch job not found")
)

// RateLimitError はレート制限エラーに再試行までの待機時間を付与します
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

// Is はerrors.Is(err, ErrRateLimited)での判定を可能にする
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// IsFatal はバッチ全体を打ち切るべきエラーかを返す
// 認証・クォータ系は同じキーでの再試行が無意味なため即座に中断する
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrQuotaExceeded)
}

// isPerImage は該当画像だけを失敗させ、他の画像の処理を続行してよいエラーかを返す
func isPerImage(err error) bool {
	return errors.Is(err, ErrImageTooLarge) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrMalformedResponse)
}
