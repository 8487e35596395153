package tagging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service は自動タグ付けのオーケストレーションを提供する
//
// 1回の呼び出しで受け取った全アセットに対し、必ず1つずつTagResultを返す。
// 個別画像の失敗は空タグ+failedステータスとして吸収し、他の画像を妨げない。
type Service struct {
	resolver     ImageResolver
	generator    TagGenerator
	batches      BatchJobManager
	assets       AssetRepository
	vocabularies VocabularyRepository
	limiter      Limiter

	logger         *slog.Logger
	maxConcurrency int
	chunkDelay     time.Duration
}

// ServiceOption はService構築時のオプション
type ServiceOption func(*Service)

// WithLogger はロガーを差し替える
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMaxConcurrency はグループ内の最大並列数を設定する
func WithMaxConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

// WithChunkDelay はグループ間の待機時間を設定する（テスト用に0も可）
func WithChunkDelay(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d >= 0 {
			s.chunkDelay = d
		}
	}
}

// NewService は新しいServiceを作成する
func NewService(
	resolver ImageResolver,
	generator TagGenerator,
	batches BatchJobManager,
	assets AssetRepository,
	vocabularies VocabularyRepository,
	limiter Limiter,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		resolver:       resolver,
		generator:      generator,
		batches:        batches,
		assets:         assets,
		vocabularies:   vocabularies,
		limiter:        limiter,
		logger:         slog.Default(),
		maxConcurrency: ChunkSize,
		chunkDelay:     InterChunkDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AutoTag はアセット群に対するタグ付けのエントリポイント
//
// ボキャブラリが空のワークスペースは明示的なオプトアウトとして扱い、
// Vision APIを一切呼ばずに全アセットを空タグで完了させる。
func (s *Service) AutoTag(ctx context.Context, workspaceID uuid.UUID, requests []AutoTagRequest) (*AutoTagResponse, error) {
	if len(requests) == 0 {
		return &AutoTagResponse{Results: []TagResult{}}, nil
	}

	vocab, err := s.vocabularies.GetVocabulary(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tag vocabulary: %w", err)
	}

	if len(vocab) == 0 {
		return s.completeAllEmpty(ctx, requests), nil
	}

	strategy := SelectStrategy(len(requests))
	s.logger.Info("auto-tagging started",
		slog.String("workspace_id", workspaceID.String()),
		slog.Int("assets", len(requests)),
		slog.String("strategy", string(strategy)),
	)

	switch strategy {
	case StrategyImmediate:
		return s.runImmediate(ctx, requests, vocab)
	case StrategyChunked:
		return s.runChunked(ctx, requests, vocab)
	default:
		return s.runBatch(ctx, workspaceID, requests, vocab)
	}
}

// ReconcileBatch は非同期バッチジョブの照合を実行する
func (s *Service) ReconcileBatch(ctx context.Context, batchID string) (*BatchPollResult, error) {
	if batchID == "" {
		return nil, fmt.Errorf("batch ID is required")
	}
	return s.batches.PollJob(ctx, batchID)
}

// completeAllEmpty は全アセットを空タグで完了させる（ボキャブラリ無効時）
func (s *Service) completeAllEmpty(ctx context.Context, requests []AutoTagRequest) *AutoTagResponse {
	results := make([]TagResult, 0, len(requests))
	for _, req := range requests {
		s.persist(ctx, req.AssetID, []string{}, StatusCompleted)
		results = append(results, TagResult{AssetID: req.AssetID, Tags: []string{}})
	}
	return &AutoTagResponse{Results: results}
}

// runImmediate は全画像を遅延なしで並列処理する
func (s *Service) runImmediate(ctx context.Context, requests []AutoTagRequest, vocab Vocabulary) (*AutoTagResponse, error) {
	outcomes := s.runParallel(ctx, requests, vocab)
	results, err := s.settleGroup(ctx, requests, outcomes)
	if err != nil {
		return nil, err
	}
	return &AutoTagResponse{Results: results}, nil
}

// runChunked は固定サイズのグループに分割し、グループ間に遅延を入れて処理する
// 各グループの結果はその場で永続化されるため、途中経過が外部から見える
func (s *Service) runChunked(ctx context.Context, requests []AutoTagRequest, vocab Vocabulary) (*AutoTagResponse, error) {
	results := make([]TagResult, 0, len(requests))

	for start := 0; start < len(requests); start += ChunkSize {
		if start > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.chunkDelay):
			}
		}

		end := min(start+ChunkSize, len(requests))
		group := requests[start:end]

		outcomes := s.runParallel(ctx, group, vocab)
		groupResults, err := s.settleGroup(ctx, group, outcomes)
		if err != nil {
			return nil, err
		}
		results = append(results, groupResults...)

		s.logger.Info("chunk processed",
			slog.Int("done", len(results)),
			slog.Int("total", len(requests)),
		)
	}

	return &AutoTagResponse{Results: results}, nil
}

// runBatch はOpenAI Batch APIへ非同期ジョブとして投入する
// 呼び出しは即座に空タグで返り、結果は後のポーリングで照合される
func (s *Service) runBatch(ctx context.Context, workspaceID uuid.UUID, requests []AutoTagRequest, vocab Vocabulary) (*AutoTagResponse, error) {
	batchID, failedAssets, err := s.batches.CreateJob(ctx, workspaceID, requests, vocab)
	if err != nil {
		return nil, fmt.Errorf("batch job creation failed: %w", err)
	}

	if len(failedAssets) > 0 {
		s.logger.Warn("some assets excluded from batch job",
			slog.String("batch_id", batchID),
			slog.Int("excluded", len(failedAssets)),
		)
	}

	results := make([]TagResult, 0, len(requests))
	for _, req := range requests {
		results = append(results, TagResult{AssetID: req.AssetID, Tags: []string{}})
	}
	return &AutoTagResponse{Results: results, BatchID: batchID}, nil
}

// singleOutcome は1画像分の処理結果
type singleOutcome struct {
	tags []string
	err  error
}

// runParallel は各リクエストをセマフォで並列度を制限しつつ処理し、
// 入力順を保ったまま結果を返す
// 一部のリクエストが失敗しても、残りのリクエストは継続される
func (s *Service) runParallel(ctx context.Context, requests []AutoTagRequest, vocab Vocabulary) []singleOutcome {
	total := len(requests)
	outcomes := make([]singleOutcome, total)
	if total == 0 {
		return outcomes
	}

	startTime := time.Now()
	semaphore := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for i, req := range requests {
		wg.Add(1)

		go func(index int, req AutoTagRequest) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				outcomes[index] = singleOutcome{err: ctx.Err()}
				return
			}

			tags, err := s.tagOneWithFallback(ctx, req, vocab)
			outcomes[index] = singleOutcome{tags: tags, err: err}
		}(i, req)
	}

	wg.Wait()

	failed := 0
	for _, out := range outcomes {
		if out.err != nil {
			failed++
		}
	}
	s.logger.Debug("group processed",
		slog.Int("total", total),
		slog.Int("failed", failed),
		slog.Duration("elapsed", time.Since(startTime)),
	)

	return outcomes
}

// tagOneWithFallback は想定外の失敗に対して一度だけ個別リトライを行う
// 既知のエラー（認証・クォータ・レート制限・画像単体の失敗）は再試行しない
func (s *Service) tagOneWithFallback(ctx context.Context, req AutoTagRequest, vocab Vocabulary) ([]string, error) {
	tags, err := s.tagOne(ctx, req, vocab)
	if err == nil || IsFatal(err) || errors.Is(err, ErrRateLimited) || isPerImage(err) || ctx.Err() != nil {
		return tags, err
	}

	s.logger.Warn("retrying asset individually after unexpected failure",
		slog.String("asset_id", req.AssetID.String()),
		slog.String("error", err.Error()),
	)
	return s.tagOne(ctx, req, vocab)
}

// tagOne は1画像を解決してタグを生成する
func (s *Service) tagOne(ctx context.Context, req AutoTagRequest, vocab Vocabulary) ([]string, error) {
	image, err := s.resolver.Resolve(ctx, req.AssetID, req.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("image resolution failed: %w", err)
	}

	// Vision API呼び出し前の事前スロットリング
	if ok, retryAfter := s.limiter.Allow(); !ok {
		return nil, &RateLimitError{RetryAfter: retryAfter}
	}

	tags, err := s.generator.GenerateTags(ctx, image, vocab)
	if err != nil {
		return nil, err
	}
	return vocab.Filter(tags, MaxTagsPerAsset), nil
}

// settleGroup は処理結果を分類して永続化し、リクエスト順のTagResultへ変換する
//
// 分類ポリシー:
//   - 成功               → completed（タグなしでもcompleted）
//   - 解釈不能な応答     → completed + 空タグ（該当画像のみ）
//   - 画像単体の失敗     → failed + 空タグ（兄弟画像に影響なし）
//   - レート制限         → ステータス変更なし、呼び出し全体をエラーで返す
//   - 認証・クォータ超過 → failed、呼び出し全体をエラーで返す
func (s *Service) settleGroup(ctx context.Context, requests []AutoTagRequest, outcomes []singleOutcome) ([]TagResult, error) {
	results := make([]TagResult, 0, len(requests))
	var callErr error

	for i, req := range requests {
		out := outcomes[i]

		switch {
		case out.err == nil:
			tags := out.tags
			if tags == nil {
				tags = []string{}
			}
			s.persist(ctx, req.AssetID, tags, StatusCompleted)
			results = append(results, TagResult{AssetID: req.AssetID, Tags: tags})

		case errors.Is(out.err, ErrMalformedResponse):
			s.persist(ctx, req.AssetID, []string{}, StatusCompleted)
			results = append(results, TagResult{AssetID: req.AssetID, Tags: []string{}})

		case errors.Is(out.err, ErrRateLimited):
			// ステータスは変更しない。呼び出し側が時間をおいて全体を再試行する
			if callErr == nil {
				callErr = out.err
			}

		case IsFatal(out.err):
			s.persist(ctx, req.AssetID, []string{}, StatusFailed)
			if callErr == nil {
				callErr = out.err
			}

		default:
			s.logger.Warn("auto-tagging failed for asset",
				slog.String("asset_id", req.AssetID.String()),
				slog.String("error", out.err.Error()),
			)
			s.persist(ctx, req.AssetID, []string{}, StatusFailed)
			results = append(results, TagResult{AssetID: req.AssetID, Tags: []string{}})
		}
	}

	if callErr != nil {
		return nil, callErr
	}
	return results, nil
}

// persist はタグとステータスを書き込む
// 書き込みはassetIDをキーとした冪等な更新のため、失敗はログに留めて処理を続ける
func (s *Service) persist(ctx context.Context, assetID uuid.UUID, tags []string, status AutoTagStatus) {
	if err := s.assets.UpdateTagResult(ctx, assetID, tags, status); err != nil {
		s.logger.Error("failed to persist tag result",
			slog.String("asset_id", assetID.String()),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}
