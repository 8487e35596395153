package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/storystack/autotagd/internal/core/tagging"
)

// AutoTagger はハンドラが依存するタグ付けオーケストレーションの操作
type AutoTagger interface {
	AutoTag(ctx context.Context, workspaceID uuid.UUID, requests []tagging.AutoTagRequest) (*tagging.AutoTagResponse, error)
	ReconcileBatch(ctx context.Context, batchID string) (*tagging.BatchPollResult, error)
}

// Handler は自動タグ付けAPIのHTTPハンドラ
type Handler struct {
	tagger AutoTagger
	assets tagging.AssetRepository
	logger *slog.Logger
}

// NewHandler は新しいHandlerを作成する
func NewHandler(tagger AutoTagger, assets tagging.AssetRepository, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		tagger: tagger,
		assets: assets,
		logger: logger,
	}
}

// autoTagItem はリクエスト内の1アセット分の指定
type autoTagItem struct {
	AssetID  string `json:"assetId"`
	ImageURL string `json:"imageUrl"`
}

// autoTagRequest は自動タグ付けリクエストのボディ
// 単一アセット形式とバッチ形式の両方を受け付ける
type autoTagRequest struct {
	autoTagItem
	Assets []autoTagItem `json:"assets"`
}

// errorResponse はエラー応答のボディ
type errorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// AutoTag は POST /v1/autotag を処理する
func (h *Handler) AutoTag(c echo.Context) error {
	var body autoTagRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	items := body.Assets
	if len(items) == 0 {
		if body.AssetID == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "assetId or assets is required"})
		}
		items = []autoTagItem{body.autoTagItem}
	}

	requests, err := parseItems(items)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	ctx := c.Request().Context()

	// ワークスペースは先頭アセットの所属から解決する
	workspaceID, err := h.resolveWorkspace(ctx, requests[0].AssetID)
	if err != nil {
		return h.mapError(c, err)
	}

	resp, err := h.tagger.AutoTag(ctx, workspaceID, requests)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}

// PollBatch は GET /v1/autotag を処理する（batch_idクエリ必須）
func (h *Handler) PollBatch(c echo.Context) error {
	batchID := c.QueryParam("batch_id")
	if batchID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "batch_id query parameter is required"})
	}

	result, err := h.tagger.ReconcileBatch(c.Request().Context(), batchID)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

const (
	// assetLookupRetries はアセット行のread-after-writeレースに備えた再試行回数
	assetLookupRetries = 3
	// assetLookupDelay は再試行間隔
	assetLookupDelay = 200 * time.Millisecond

	// quotaRetryAfter はクォータ超過時に返す再試行目安
	quotaRetryAfter = time.Hour
)

// resolveWorkspace はアセットの所属ワークスペースを引く
// アップロード直後の呼び出しでは行がまだ見えないことがあるため、
// 未検出の場合のみ短い間隔で数回引き直す
func (h *Handler) resolveWorkspace(ctx context.Context, assetID uuid.UUID) (uuid.UUID, error) {
	var lastErr error
	for attempt := 0; attempt < assetLookupRetries; attempt++ {
		asset, err := h.assets.GetByID(ctx, assetID)
		if err == nil {
			return asset.WorkspaceID, nil
		}
		if !errors.Is(err, tagging.ErrAssetNotFound) {
			return uuid.Nil, err
		}
		lastErr = err

		if attempt < assetLookupRetries-1 {
			select {
			case <-ctx.Done():
				return uuid.Nil, ctx.Err()
			case <-time.After(assetLookupDelay):
			}
		}
	}
	return uuid.Nil, lastErr
}

// parseItems はリクエストボディの各項目をドメインのリクエストへ変換する
func parseItems(items []autoTagItem) ([]tagging.AutoTagRequest, error) {
	requests := make([]tagging.AutoTagRequest, 0, len(items))
	for _, item := range items {
		id, err := uuid.Parse(item.AssetID)
		if err != nil {
			return nil, fmt.Errorf("invalid asset ID: %s", item.AssetID)
		}
		if item.ImageURL == "" {
			return nil, fmt.Errorf("imageUrl is required for asset %s", item.AssetID)
		}
		requests = append(requests, tagging.AutoTagRequest{
			AssetID:  id,
			ImageURL: item.ImageURL,
		})
	}
	return requests, nil
}

// mapError はドメインのエラー分類をHTTPステータスへ変換する
func (h *Handler) mapError(c echo.Context, err error) error {
	var rateLimitErr *tagging.RateLimitError
	switch {
	case errors.As(err, &rateLimitErr):
		seconds := int(rateLimitErr.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
		return c.JSON(http.StatusTooManyRequests, errorResponse{
			Error:      "rate limit exceeded, retry later",
			Code:       "RATE_LIMIT",
			RetryAfter: seconds,
		})

	case errors.Is(err, tagging.ErrAssetNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "asset not found"})

	case errors.Is(err, tagging.ErrBatchNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "batch not found"})

	case errors.Is(err, tagging.ErrQuotaExceeded):
		// クォータ超過は課金側の対応が必要なため長めの再試行目安を返す
		h.logger.Error("vision provider quota exceeded", slog.String("error", err.Error()))
		seconds := int(quotaRetryAfter.Seconds())
		c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
		return c.JSON(http.StatusTooManyRequests, errorResponse{
			Error:      "tagging provider quota exceeded, retry later",
			Code:       "RATE_LIMIT",
			RetryAfter: seconds,
		})

	case errors.Is(err, tagging.ErrAuth):
		h.logger.Error("vision provider rejected credentials", slog.String("error", err.Error()))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "tagging provider authentication failed"})

	default:
		h.logger.Error("auto-tag request failed", slog.String("error", err.Error()))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}
