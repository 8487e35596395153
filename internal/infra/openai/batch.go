package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/storystack/autotagd/internal/core/tagging"
)

const (
	// defaultPrepareConcurrency は画像準備の最大並列数
	defaultPrepareConcurrency = 10

	// maxOutputLineBytes は結果ファイル1行の最大長
	maxOutputLineBytes = 16 * 1024 * 1024
)

// BatchManager はOpenAI Batch APIによる非同期タグ付けジョブを管理する
type BatchManager struct {
	client       openai.Client
	model        string
	resolver     tagging.ImageResolver
	assets       tagging.AssetRepository
	vocabularies tagging.VocabularyRepository
	errorLog     *ErrorLog
	logger       *slog.Logger
	concurrency  int
}

// BatchOption はBatchManager構築時のオプション
type BatchOption func(*BatchManager)

// WithBatchLogger はロガーを差し替える
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(m *BatchManager) {
		m.logger = logger
	}
}

// WithBatchErrorLog は失敗呼び出しのJSONLログを設定する
func WithBatchErrorLog(log *ErrorLog) BatchOption {
	return func(m *BatchManager) {
		m.errorLog = log
	}
}

// WithPrepareConcurrency は画像準備の並列数を設定する
func WithPrepareConcurrency(n int) BatchOption {
	return func(m *BatchManager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// NewBatchManager は新しいBatchManagerを作成する
func NewBatchManager(
	apiKey, model string,
	resolver tagging.ImageResolver,
	assets tagging.AssetRepository,
	vocabularies tagging.VocabularyRepository,
	opts ...BatchOption,
) (*BatchManager, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if model == "" {
		model = DefaultModel
	}

	m := &BatchManager{
		client:       openai.NewClient(option.WithAPIKey(apiKey)),
		model:        model,
		resolver:     resolver,
		assets:       assets,
		vocabularies: vocabularies,
		logger:       slog.Default(),
		concurrency:  defaultPrepareConcurrency,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// batchRequestLine はBatch API入力ファイルの1行
type batchRequestLine struct {
	CustomID string         `json:"custom_id"`
	Method   string         `json:"method"`
	URL      string         `json:"url"`
	Body     map[string]any `json:"body"`
}

// batchOutputLine はBatch API結果ファイルの1行
type batchOutputLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int             `json:"status_code"`
		Body       json.RawMessage `json:"body"`
	} `json:"response"`
	Error json.RawMessage `json:"error"`
}

// CreateJob は画像を準備してJSONLを構築し、Batch APIへ1ジョブとして投入する
//
// 準備に失敗した画像はジョブから除外し、即座にfailedへ更新する。
// 生き残った画像にはバッチIDとpendingステータスを記録する。
func (m *BatchManager) CreateJob(ctx context.Context, workspaceID uuid.UUID, requests []tagging.AutoTagRequest, vocab tagging.Vocabulary) (string, []uuid.UUID, error) {
	resolved, failedAssets := m.prepareImages(ctx, requests)

	var (
		buf       bytes.Buffer
		survivors []uuid.UUID
	)
	for i, req := range requests {
		image := resolved[i]
		if image == nil {
			continue
		}

		line := batchRequestLine{
			CustomID: req.AssetID.String(),
			Method:   http.MethodPost,
			URL:      "/v1/chat/completions",
			Body: map[string]any{
				"model": m.model,
				"messages": []map[string]any{{
					"role": "user",
					"content": []map[string]any{
						{"type": "text", "text": buildTagPrompt(vocab)},
						{"type": "image_url", "image_url": map[string]any{"url": image.URL}},
					},
				}},
				"max_tokens": maxCompletionTokens,
				"response_format": map[string]any{
					"type": "json_schema",
					"json_schema": map[string]any{
						"name":   "asset_tags",
						"strict": true,
						"schema": tagSchema(vocab),
					},
				},
			},
		}

		encoded, err := json.Marshal(line)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode batch request line: %w", err)
		}
		buf.Write(encoded)
		buf.WriteByte('\n')
		survivors = append(survivors, req.AssetID)
	}

	if len(survivors) == 0 {
		m.logger.Warn("no assets survived image preparation, skipping batch job",
			slog.String("workspace_id", workspaceID.String()),
			slog.Int("requested", len(requests)),
		)
		return "", failedAssets, nil
	}

	file, err := m.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(bytes.NewReader(buf.Bytes()), "autotag_batch.jsonl", "application/jsonl"),
		Purpose: openai.FilePurposeBatch,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to upload batch input file: %w", mapAPIError(err))
	}

	batch, err := m.client.Batches.New(ctx, openai.BatchNewParams{
		InputFileID:      file.ID,
		Endpoint:         openai.BatchNewParamsEndpointV1ChatCompletions,
		CompletionWindow: openai.BatchNewParamsCompletionWindow24h,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create batch job: %w", mapAPIError(err))
	}

	if err := m.assets.MarkPendingBatch(ctx, survivors, batch.ID); err != nil {
		return "", nil, fmt.Errorf("failed to mark assets pending: %w", err)
	}

	m.logger.Info("batch job created",
		slog.String("batch_id", batch.ID),
		slog.String("input_file_id", file.ID),
		slog.Int("assets", len(survivors)),
		slog.Int("excluded", len(failedAssets)),
	)

	return batch.ID, failedAssets, nil
}

// prepareImages は全画像を並列に解決する。失敗した画像は即座にfailedへ更新し、
// 対応するスロットにnilを残す
func (m *BatchManager) prepareImages(ctx context.Context, requests []tagging.AutoTagRequest) ([]*tagging.ResolvedImage, []uuid.UUID) {
	resolved := make([]*tagging.ResolvedImage, len(requests))
	errs := make([]error, len(requests))

	semaphore := make(chan struct{}, m.concurrency)
	var wg sync.WaitGroup

	for i, req := range requests {
		wg.Add(1)

		go func(index int, req tagging.AutoTagRequest) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				errs[index] = ctx.Err()
				return
			}

			image, err := m.resolver.Resolve(ctx, req.AssetID, req.ImageURL)
			resolved[index] = image
			errs[index] = err
		}(i, req)
	}

	wg.Wait()

	var failedAssets []uuid.UUID
	for i, req := range requests {
		if errs[i] == nil {
			continue
		}

		m.logger.Warn("image preparation failed, excluding from batch",
			slog.String("asset_id", req.AssetID.String()),
			slog.String("error", errs[i].Error()),
		)
		_ = m.errorLog.Record(ErrorRecord{
			Timestamp:    time.Now(),
			ErrorType:    ErrorTypeUnknown,
			AssetID:      req.AssetID.String(),
			ErrorMessage: errs[i].Error(),
		})

		if err := m.assets.UpdateTagResult(ctx, req.AssetID, []string{}, tagging.StatusFailed); err != nil {
			m.logger.Error("failed to mark excluded asset",
				slog.String("asset_id", req.AssetID.String()),
				slog.String("error", err.Error()),
			)
		}
		failedAssets = append(failedAssets, req.AssetID)
	}

	return resolved, failedAssets
}

// PollJob はバッチジョブの状態を照合する
//
// 終端状態（completed/failed/cancelled/expired）に達していれば結果を取り込み、
// 実行中であれば何もしない。既に照合済みのジョブに対しても安全（冪等）。
func (m *BatchManager) PollJob(ctx context.Context, batchID string) (*tagging.BatchPollResult, error) {
	batch, err := m.client.Batches.Get(ctx, batchID)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", tagging.ErrBatchNotFound, batchID)
		}
		return nil, fmt.Errorf("failed to retrieve batch job: %w", mapAPIError(err))
	}

	switch batch.Status {
	case openai.BatchStatusCompleted:
		return m.ingestResults(ctx, batch)

	case openai.BatchStatusFailed, openai.BatchStatusCancelled, openai.BatchStatusExpired:
		swept, err := m.assets.SweepBatchFailures(ctx, batchID)
		if err != nil {
			return nil, fmt.Errorf("failed to sweep batch failures: %w", err)
		}
		m.logger.Warn("batch job ended without results",
			slog.String("batch_id", batchID),
			slog.String("status", string(batch.Status)),
			slog.Int64("swept", swept),
		)
		return &tagging.BatchPollResult{
			BatchID: batchID,
			Status:  string(batch.Status),
			Done:    true,
			Failed:  int(swept),
		}, nil

	default:
		// validating / in_progress / finalizing / cancelling
		return &tagging.BatchPollResult{
			BatchID: batchID,
			Status:  string(batch.Status),
			Done:    false,
		}, nil
	}
}

// ingestResults は完了したジョブの結果ファイルを取り込み、アセットへ書き戻す
// 結果に現れなかったpendingアセットはfailedへ掃き出す
func (m *BatchManager) ingestResults(ctx context.Context, batch *openai.Batch) (*tagging.BatchPollResult, error) {
	pending, err := m.assets.ListPendingByBatchID(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending assets: %w", err)
	}

	// 照合済みのジョブを再ポーリングした場合は何もしない
	if len(pending) == 0 {
		return &tagging.BatchPollResult{
			BatchID: batch.ID,
			Status:  string(batch.Status),
			Done:    true,
		}, nil
	}

	pendingByID := make(map[string]*tagging.Asset, len(pending))
	for _, asset := range pending {
		pendingByID[asset.ID.String()] = asset
	}

	// ワークスペースごとのボキャブラリは遅延読み込みでキャッシュする
	vocabs := make(map[uuid.UUID]tagging.Vocabulary)
	vocabFor := func(workspaceID uuid.UUID) (tagging.Vocabulary, error) {
		if vocab, ok := vocabs[workspaceID]; ok {
			return vocab, nil
		}
		vocab, err := m.vocabularies.GetVocabulary(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		vocabs[workspaceID] = vocab
		return vocab, nil
	}

	if batch.OutputFileID == "" {
		// 結果ファイルがないcompletedは全件失敗として扱う
		swept, err := m.assets.SweepBatchFailures(ctx, batch.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to sweep batch failures: %w", err)
		}
		return &tagging.BatchPollResult{
			BatchID: batch.ID,
			Status:  string(batch.Status),
			Done:    true,
			Failed:  int(swept),
		}, nil
	}

	res, err := m.client.Files.Content(ctx, batch.OutputFileID)
	if err != nil {
		return nil, fmt.Errorf("failed to download batch output file: %w", mapAPIError(err))
	}
	defer res.Body.Close()

	completed := 0
	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 64*1024), maxOutputLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var out batchOutputLine
		if err := json.Unmarshal(line, &out); err != nil {
			m.logger.Warn("skipping unparseable batch output line",
				slog.String("batch_id", batch.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		asset, ok := pendingByID[out.CustomID]
		if !ok {
			// このバッチのpendingに紐付かない行（照合済み等）は無視する
			continue
		}

		tags, ok := m.extractTags(out, asset, vocabFor)
		if !ok {
			// failedへの掃き出しは最後のSweepに任せる
			continue
		}

		if err := m.assets.CompleteFromBatch(ctx, asset.ID, tags); err != nil {
			m.logger.Error("failed to persist batch result",
				slog.String("asset_id", asset.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		completed++
		delete(pendingByID, out.CustomID)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch output file: %w", err)
	}

	// 結果に現れなかったアセットをfailedへ掃き出す
	swept, err := m.assets.SweepBatchFailures(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep missing batch results: %w", err)
	}

	m.logger.Info("batch job reconciled",
		slog.String("batch_id", batch.ID),
		slog.Int("completed", completed),
		slog.Int64("failed", swept),
	)

	return &tagging.BatchPollResult{
		BatchID:   batch.ID,
		Status:    string(batch.Status),
		Done:      true,
		Completed: completed,
		Failed:    int(swept),
	}, nil
}

// extractTags は結果行からタグを取り出し、ボキャブラリで検証する
// 取り出せない行はfalseを返す（後続のSweepでfailedになる）
func (m *BatchManager) extractTags(out batchOutputLine, asset *tagging.Asset, vocabFor func(uuid.UUID) (tagging.Vocabulary, error)) ([]string, bool) {
	if out.Response == nil || out.Response.StatusCode != http.StatusOK {
		m.logger.Warn("batch item returned an error response",
			slog.String("asset_id", asset.ID.String()),
			slog.String("error", string(out.Error)),
		)
		return nil, false
	}

	var body struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(out.Response.Body, &body); err != nil || len(body.Choices) == 0 {
		_ = m.errorLog.Record(ErrorRecord{
			Timestamp:    time.Now(),
			ErrorType:    ErrorTypeParseFailed,
			AssetID:      asset.ID.String(),
			Response:     TruncateString(string(out.Response.Body), 500),
			ErrorMessage: "unparseable batch completion body",
		})
		return nil, false
	}

	vocab, err := vocabFor(asset.WorkspaceID)
	if err != nil {
		m.logger.Error("failed to load vocabulary for batch result",
			slog.String("workspace_id", asset.WorkspaceID.String()),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	tags, err := parseTagContent(body.Choices[0].Message.Content, vocab)
	if err != nil {
		// 解釈不能な応答は空タグで完了扱い（同期パスと同じポリシー）
		return []string{}, true
	}
	return tags, true
}

// インターフェース実装の確認
var _ tagging.BatchJobManager = (*BatchManager)(nil)
