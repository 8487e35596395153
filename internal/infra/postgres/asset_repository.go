package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/storystack/autotagd/internal/core/tagging"
)

// AssetRepository は tagging.AssetRepository インターフェースを実装する PostgreSQL リポジトリです
type AssetRepository struct {
	pool *pgxpool.Pool
}

// NewAssetRepository は新しい AssetRepository を作成します
func NewAssetRepository(pool *pgxpool.Pool) *AssetRepository {
	return &AssetRepository{pool: pool}
}

// コンパイル時の型チェック
var _ tagging.AssetRepository = (*AssetRepository)(nil)

const assetColumns = `id, workspace_id, storage_path, tags, auto_tag_status, openai_batch_id, created_at, updated_at`

func scanAsset(row pgx.Row) (*tagging.Asset, error) {
	var a tagging.Asset
	var status string
	err := row.Scan(
		&a.ID,
		&a.WorkspaceID,
		&a.StoragePath,
		&a.Tags,
		&status,
		&a.OpenAIBatchID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.AutoTagStatus = tagging.AutoTagStatus(status)
	return &a, nil
}

// GetByID はIDでアセットを取得します
func (r *AssetRepository) GetByID(ctx context.Context, id uuid.UUID) (*tagging.Asset, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id = $1`,
		id,
	)

	asset, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", tagging.ErrAssetNotFound, id)
		}
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}

	return asset, nil
}

// UpdateTagResult はタグとステータスを更新します
// タグは常に上書きされます（nilの場合は空配列として保存）
func (r *AssetRepository) UpdateTagResult(ctx context.Context, id uuid.UUID, tags []string, status tagging.AutoTagStatus) error {
	if tags == nil {
		tags = []string{}
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE assets
		 SET tags = $2, auto_tag_status = $3, updated_at = now()
		 WHERE id = $1`,
		id, tags, string(status),
	)
	if err != nil {
		return fmt.Errorf("failed to update tag result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", tagging.ErrAssetNotFound, id)
	}

	return nil
}

// MarkPendingBatch は複数アセットをバッチ処理中としてマークします
func (r *AssetRepository) MarkPendingBatch(ctx context.Context, ids []uuid.UUID, batchID string) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE assets
		 SET auto_tag_status = $2, openai_batch_id = $3, updated_at = now()
		 WHERE id = ANY($1)`,
		ids, string(tagging.StatusPending), batchID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark assets pending batch: %w", err)
	}

	return nil
}

// ListPendingByBatchID は指定バッチで処理待ちのアセットを列挙します
func (r *AssetRepository) ListPendingByBatchID(ctx context.Context, batchID string) ([]*tagging.Asset, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+assetColumns+`
		 FROM assets
		 WHERE openai_batch_id = $1 AND auto_tag_status = $2`,
		batchID, string(tagging.StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending assets: %w", err)
	}
	defer rows.Close()

	assets := make([]*tagging.Asset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending assets: %w", err)
	}

	return assets, nil
}

// CompleteFromBatch はバッチ結果の取り込み完了を記録します
// バッチIDをクリアし、ステータスをcompletedに更新します
func (r *AssetRepository) CompleteFromBatch(ctx context.Context, id uuid.UUID, tags []string) error {
	if tags == nil {
		tags = []string{}
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE assets
		 SET tags = $2, auto_tag_status = $3, openai_batch_id = NULL, updated_at = now()
		 WHERE id = $1`,
		id, tags, string(tagging.StatusCompleted),
	)
	if err != nil {
		return fmt.Errorf("failed to complete asset from batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", tagging.ErrAssetNotFound, id)
	}

	return nil
}

// SweepBatchFailures は指定バッチで未解決のまま残ったアセットを失敗状態にします
// 更新した行数を返します
func (r *AssetRepository) SweepBatchFailures(ctx context.Context, batchID string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE assets
		 SET auto_tag_status = $2, openai_batch_id = NULL, updated_at = now()
		 WHERE openai_batch_id = $1 AND auto_tag_status = $3`,
		batchID, string(tagging.StatusFailed), string(tagging.StatusPending),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep batch failures: %w", err)
	}

	return tag.RowsAffected(), nil
}

// DistinctActiveBatchIDs は処理待ちアセットが残っているバッチIDの一覧を返します
func (r *AssetRepository) DistinctActiveBatchIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT openai_batch_id
		 FROM assets
		 WHERE openai_batch_id IS NOT NULL AND auto_tag_status = $1`,
		string(tagging.StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active batch IDs: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan batch ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate batch IDs: %w", err)
	}

	return ids, nil
}
