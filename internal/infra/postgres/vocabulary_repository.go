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

// VocabularyRepository は tagging.VocabularyRepository インターフェースを実装する PostgreSQL リポジトリです
type VocabularyRepository struct {
	pool *pgxpool.Pool
}

// NewVocabularyRepository は新しい VocabularyRepository を作成します
func NewVocabularyRepository(pool *pgxpool.Pool) *VocabularyRepository {
	return &VocabularyRepository{pool: pool}
}

// コンパイル時の型チェック
var _ tagging.VocabularyRepository = (*VocabularyRepository)(nil)

// GetVocabulary はワークスペースのタグボキャブラリを取得します
// 設定が存在しない場合や自動タグ付けが無効の場合は空のボキャブラリを返します
func (r *VocabularyRepository) GetVocabulary(ctx context.Context, workspaceID uuid.UUID) (tagging.Vocabulary, error) {
	var vocab []string
	var enabled bool

	err := r.pool.QueryRow(ctx,
		`SELECT tag_vocabulary, auto_tag_enabled
		 FROM workspace_settings
		 WHERE workspace_id = $1`,
		workspaceID,
	).Scan(&vocab, &enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tagging.Vocabulary{}, nil
		}
		return nil, fmt.Errorf("failed to get vocabulary: %w", err)
	}

	if !enabled {
		return tagging.Vocabulary{}, nil
	}

	return tagging.Vocabulary(vocab), nil
}
