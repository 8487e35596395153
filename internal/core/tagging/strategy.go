package tagging

import "time"

// Strategy は画像数に応じた処理戦略
type Strategy string

const (
	// StrategyImmediate は遅延なしの全並列処理
	StrategyImmediate Strategy = "immediate"
	// StrategyChunked は固定サイズのグループに分割し、グループ間に遅延を入れる処理
	StrategyChunked Strategy = "chunked"
	// StrategyBatch はOpenAI Batch APIへの非同期投入
	StrategyBatch Strategy = "batch"
)

// 戦略選択の閾値。プロバイダのレート制限から導いたポリシーであり、
// 変更する場合はここだけを書き換えればよい。
const (
	// ImmediateMaxAssets はimmediate戦略で処理する最大画像数
	ImmediateMaxAssets = 5
	// ChunkSize はchunked戦略の1グループあたりの画像数
	ChunkSize = 5
	// BatchMinAssets はBatch APIへ切り替える最小画像数
	BatchMinAssets = 101
	// InterChunkDelay はグループ間の待機時間
	InterChunkDelay = 2 * time.Second
	// MaxTagsPerAsset は1アセットに付与するタグの上限数
	MaxTagsPerAsset = 5
)

// SelectStrategy は画像数から処理戦略を決定する純粋関数です
//
//	1〜5   → immediate
//	6〜100 → chunked
//	101〜  → batch
func SelectStrategy(count int) Strategy {
	switch {
	case count <= ImmediateMaxAssets:
		return StrategyImmediate
	case count < BatchMinAssets:
		return StrategyChunked
	default:
		return StrategyBatch
	}
}
