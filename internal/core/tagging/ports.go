package tagging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ImageResolver は任意の画像URLをVision APIが受け付けられる表現へ解決する
type ImageResolver interface {
	// Resolve は直接URL（1.5MB以下）またはbase64 data URI（20MB以下）を返す
	// 解決不能または上限超過の場合のみエラーを返す
	Resolve(ctx context.Context, assetID uuid.UUID, imageURL string) (*ResolvedImage, error)
}

// TagGenerator は1画像に対してボキャブラリ制約付きのタグを生成する
type TagGenerator interface {
	// GenerateTags は返却タグがvocabの部分集合であることを保証する
	// スキーマ違反のタグは除去され、有効なタグが残らない場合は空スライスを返す
	GenerateTags(ctx context.Context, image *ResolvedImage, vocab Vocabulary) ([]string, error)
}

// BatchJobManager は非同期バッチジョブの作成と照合を提供する
type BatchJobManager interface {
	// CreateJob は画像準備に失敗したアセットを即座にfailedへ更新し、
	// 残りを1ジョブとして投入してバッチIDを返す
	// 全アセットの準備に失敗した場合はジョブを作成せず空のバッチIDを返す
	CreateJob(ctx context.Context, workspaceID uuid.UUID, requests []AutoTagRequest, vocab Vocabulary) (batchID string, failedAssets []uuid.UUID, err error)

	// PollJob はジョブ状態を取得し、終端状態であれば結果を取り込む
	// 実行中の場合は何もしない。繰り返し呼び出しても安全（冪等）
	PollJob(ctx context.Context, batchID string) (*BatchPollResult, error)
}

// AssetRepository はアセット行の永続化操作を提供する
// 全ての更新はassetIDをキーとした冪等な書き込みであること
type AssetRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Asset, error)

	// UpdateTagResult はタグとステータスを更新する
	UpdateTagResult(ctx context.Context, id uuid.UUID, tags []string, status AutoTagStatus) error

	// MarkPendingBatch は対象アセットをpendingにし、バッチIDを記録する
	MarkPendingBatch(ctx context.Context, ids []uuid.UUID, batchID string) error

	// ListPendingByBatchID はバッチIDに紐付く処理待ちアセットを返す
	ListPendingByBatchID(ctx context.Context, batchID string) ([]*Asset, error)

	// CompleteFromBatch はバッチ結果からタグを書き込み、バッチIDをクリアする
	CompleteFromBatch(ctx context.Context, id uuid.UUID, tags []string) error

	// SweepBatchFailures はバッチIDに紐付く処理待ちアセットを一括でfailedにする
	// 更新した行数を返す
	SweepBatchFailures(ctx context.Context, batchID string) (int64, error)

	// DistinctActiveBatchIDs は照合待ちのバッチIDの一覧を返す
	DistinctActiveBatchIDs(ctx context.Context) ([]string, error)
}

// VocabularyRepository はワークスペースのタグボキャブラリを提供する
type VocabularyRepository interface {
	// GetVocabulary は未設定・無効化の場合に空のVocabularyを返す（エラーにしない）
	GetVocabulary(ctx context.Context, workspaceID uuid.UUID) (Vocabulary, error)
}

// Limiter はVision API呼び出し前の事前スロットリングを提供する
// プロセスローカル実装は単一インスタンス前提。マルチインスタンス構成では
// 共有ストアを背後に持つ実装へ差し替えること
type Limiter interface {
	// Allow は呼び出しを許可するかを即座に返す。拒否時は再試行までの目安を返す
	Allow() (ok bool, retryAfter time.Duration)
}
