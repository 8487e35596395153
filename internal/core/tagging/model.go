package tagging

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// AutoTagStatus はアセットの自動タグ付けステータス
type AutoTagStatus string

const (
	// StatusPending はタグ付け処理待ち（非同期バッチ投入済みを含む）
	StatusPending AutoTagStatus = "pending"
	// StatusCompleted はタグ付け完了
	StatusCompleted AutoTagStatus = "completed"
	// StatusFailed はタグ付け失敗
	StatusFailed AutoTagStatus = "failed"
)

// AutoTagRequest は1アセット分のタグ付けリクエスト
// HTTP呼び出しごとに構築され、処理後は破棄される
type AutoTagRequest struct {
	AssetID  uuid.UUID
	ImageURL string
}

// TagResult は1アセット分のタグ付け結果
// Tagsは必ずそのワークスペースのVocabularyの部分集合になる
type TagResult struct {
	AssetID uuid.UUID `json:"assetId"`
	Tags    []string  `json:"tags"`
}

// AutoTagResponse はAutoTag呼び出し全体の結果
// Resultsの要素数は常にリクエスト数と一致する
type AutoTagResponse struct {
	Results []TagResult `json:"results"`
	// BatchID は非同期バッチ戦略が選択された場合のみ設定される
	BatchID string `json:"batchId,omitempty"`
}

// Asset はタグ付け対象のアセット行
type Asset struct {
	ID            uuid.UUID
	WorkspaceID   uuid.UUID
	StoragePath   string
	Tags          []string
	AutoTagStatus AutoTagStatus
	OpenAIBatchID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Vocabulary はワークスペース単位の許可タグ一覧
// リクエストバッチの開始時に一度だけ読み込まれ、バッチ内では不変として扱う
type Vocabulary []string

// Contains はタグがボキャブラリに含まれるかを返す
func (v Vocabulary) Contains(tag string) bool {
	return slices.Contains(v, tag)
}

// Filter はボキャブラリ外のタグを除去し、上限件数に切り詰めます
// モデルがスキーマに違反した場合の防衛として使う
func (v Vocabulary) Filter(tags []string, limit int) []string {
	filtered := make([]string, 0, len(tags))
	for _, tag := range tags {
		if v.Contains(tag) && !slices.Contains(filtered, tag) {
			filtered = append(filtered, tag)
		}
		if limit > 0 && len(filtered) >= limit {
			break
		}
	}
	return filtered
}

// ResolvedImageKind は解決済み画像表現の種別
type ResolvedImageKind string

const (
	// ImageKindURL はVision APIが直接取得できるURL表現
	ImageKindURL ResolvedImageKind = "url"
	// ImageKindDataURI はbase64エンコード済みのdata URI表現
	ImageKindDataURI ResolvedImageKind = "data_uri"
)

// ResolvedImage はVision APIに渡せる形へ解決された画像
type ResolvedImage struct {
	Kind ResolvedImageKind
	// URL はhttp(s) URLまたはdata URI
	URL string
}

// BatchPollResult は非同期バッチジョブの照合結果
type BatchPollResult struct {
	BatchID string `json:"batchId"`
	// Status はプロバイダが報告するジョブ状態
	Status string `json:"status"`
	// Done はジョブが終端状態に達し、照合が完了したかどうか
	Done bool `json:"done"`
	// Completed / Failed は今回の照合で更新したアセット数
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
