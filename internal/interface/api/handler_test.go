package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storystack/autotagd/internal/core/tagging"
	testutil "github.com/storystack/autotagd/internal/core/tagging/testing"
)

// mockTagger はテスト用のAutoTagger実装
type mockTagger struct {
	AutoTagFunc        func(ctx context.Context, workspaceID uuid.UUID, requests []tagging.AutoTagRequest) (*tagging.AutoTagResponse, error)
	ReconcileBatchFunc func(ctx context.Context, batchID string) (*tagging.BatchPollResult, error)
}

func (m *mockTagger) AutoTag(ctx context.Context, workspaceID uuid.UUID, requests []tagging.AutoTagRequest) (*tagging.AutoTagResponse, error) {
	if m.AutoTagFunc != nil {
		return m.AutoTagFunc(ctx, workspaceID, requests)
	}
	results := make([]tagging.TagResult, 0, len(requests))
	for _, req := range requests {
		results = append(results, tagging.TagResult{AssetID: req.AssetID, Tags: []string{}})
	}
	return &tagging.AutoTagResponse{Results: results}, nil
}

func (m *mockTagger) ReconcileBatch(ctx context.Context, batchID string) (*tagging.BatchPollResult, error) {
	if m.ReconcileBatchFunc != nil {
		return m.ReconcileBatchFunc(ctx, batchID)
	}
	return &tagging.BatchPollResult{BatchID: batchID, Status: "in_progress"}, nil
}

// knownAssetRepo は任意のIDに対して固定ワークスペースのアセットを返す
func knownAssetRepo(workspaceID uuid.UUID) *testutil.MockAssetRepository {
	return &testutil.MockAssetRepository{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*tagging.Asset, error) {
			return &tagging.Asset{ID: id, WorkspaceID: workspaceID}, nil
		},
	}
}

func newTestServer(tagger AutoTagger, assets tagging.AssetRepository, apiToken string) *Server {
	return NewServer(NewHandler(tagger, assets, nil), apiToken)
}

func doRequest(t *testing.T, server *Server, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, req)
	return rec
}

// TestAutoTagSingleAsset は単一アセット形式のリクエストを確認します
func TestAutoTagSingleAsset(t *testing.T) {
	workspaceID := uuid.New()
	assetID := uuid.New()

	var gotWorkspace uuid.UUID
	tagger := &mockTagger{
		AutoTagFunc: func(ctx context.Context, wsID uuid.UUID, requests []tagging.AutoTagRequest) (*tagging.AutoTagResponse, error) {
			gotWorkspace = wsID
			require.Len(t, requests, 1)
			return &tagging.AutoTagResponse{Results: []tagging.TagResult{
				{AssetID: requests[0].AssetID, Tags: []string{"beach"}},
			}}, nil
		},
	}
	server := newTestServer(tagger, knownAssetRepo(workspaceID), "")

	body := `{"assetId": "` + assetID.String() + `", "imageUrl": "https://blob.example.com/assets/originals/a.jpg"}`
	rec := doRequest(t, server, http.MethodPost, "/v1/autotag", "", body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, workspaceID, gotWorkspace, "ワークスペースはアセットの所属から解決される")

	var resp tagging.AutoTagResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, []string{"beach"}, resp.Results[0].Tags)
}

// TestAutoTagBatchBody はバッチ形式のリクエストを確認します
func TestAutoTagBatchBody(t *testing.T) {
	workspaceID := uuid.New()
	server := newTestServer(&mockTagger{}, knownAssetRepo(workspaceID), "")

	id1, id2 := uuid.New(), uuid.New()
	body := `{"assets": [
		{"assetId": "` + id1.String() + `", "imageUrl": "https://blob.example.com/a.jpg"},
		{"assetId": "` + id2.String() + `", "imageUrl": "https://blob.example.com/b.jpg"}
	]}`
	rec := doRequest(t, server, http.MethodPost, "/v1/autotag", "", body)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp tagging.AutoTagResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 2)
}

// TestAutoTagValidation はリクエスト検証の400応答を確認します
func TestAutoTagValidation(t *testing.T) {
	server := newTestServer(&mockTagger{}, knownAssetRepo(uuid.New()), "")

	tests := []struct {
		name string
		body string
	}{
		{"空ボディ", `{}`},
		{"不正なアセットID", `{"assetId": "not-a-uuid", "imageUrl": "https://example.com/a.jpg"}`},
		{"imageUrlなし", `{"assetId": "` + uuid.NewString() + `"}`},
		{"壊れたJSON", `{"assetId": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, server, http.MethodPost, "/v1/autotag", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

// TestAutoTagAssetNotFound は未知のアセットに対する404応答を確認します
func TestAutoTagAssetNotFound(t *testing.T) {
	assets := &testutil.MockAssetRepository{} // GetByIDFuncなし → ErrAssetNotFound
	server := newTestServer(&mockTagger{}, assets, "")

	body := `{"assetId": "` + uuid.NewString() + `", "imageUrl": "https://example.com/a.jpg"}`
	rec := doRequest(t, server, http.MethodPost, "/v1/autotag", "", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestAutoTagLookupRetry はアセット行が遅れて見えるようになった場合に
// 引き直しで成功することを確認します
func TestAutoTagLookupRetry(t *testing.T) {
	workspaceID := uuid.New()
	var calls int
	assets := &testutil.MockAssetRepository{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*tagging.Asset, error) {
			calls++
			if calls < 2 {
				return nil, tagging.ErrAssetNotFound
			}
			return &tagging.Asset{ID: id, WorkspaceID: workspaceID}, nil
		},
	}
	server := newTestServer(&mockTagger{}, assets, "")

	body := `{"assetId": "` + uuid.NewString() + `", "imageUrl": "https://example.com/a.jpg"}`
	rec := doRequest(t, server, http.MethodPost, "/v1/autotag", "", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, calls)
}

// TestAutoTagRateLimitResponse はレート制限時の429応答と
// Retry-Afterヘッダを確認します
func TestAutoTagRateLimitResponse(t *testing.T) {
	tagger := &mockTagger{
		AutoTagFunc: func(ctx context.Context, wsID uuid.UUID, requests []tagging.AutoTagRequest) (*tagging.AutoTagResponse, error) {
			return nil, &tagging.RateLimitError{RetryAfter: 30 * time.Second}
		},
	}
	server := newTestServer(tagger, knownAssetRepo(uuid.New()), "")

	body := `{"assetId": "` + uuid.NewString() + `", "imageUrl": "https://example.com/a.jpg"}`
	rec := doRequest(t, server, http.MethodPost, "/v1/autotag", "", body)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "RATE_LIMIT", resp.Code)
	assert.Equal(t, 30, resp.RetryAfter)
}

// TestAutoTagQuotaExceededResponse はクォータ超過時も429と
// 長めの再試行目安を返すことを確認します
func TestAutoTagQuotaExceededResponse(t *testing.T) {
	tagger := &mockTagger{
		AutoTagFunc: func(ctx context.Context, wsID uuid.UUID, requests []tagging.AutoTagRequest) (*tagging.AutoTagResponse, error) {
			return nil, fmt.Errorf("vision call: %w", tagging.ErrQuotaExceeded)
		},
	}
	server := newTestServer(tagger, knownAssetRepo(uuid.New()), "")

	body := `{"assetId": "` + uuid.NewString() + `", "imageUrl": "https://example.com/a.jpg"}`
	rec := doRequest(t, server, http.MethodPost, "/v1/autotag", "", body)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "RATE_LIMIT", resp.Code)
	assert.Equal(t, 3600, resp.RetryAfter)
}

// TestPollBatch はバッチ照合エンドポイントを確認します
func TestPollBatch(t *testing.T) {
	tagger := &mockTagger{
		ReconcileBatchFunc: func(ctx context.Context, batchID string) (*tagging.BatchPollResult, error) {
			return &tagging.BatchPollResult{BatchID: batchID, Status: "completed", Done: true, Completed: 5}, nil
		},
	}
	server := newTestServer(tagger, knownAssetRepo(uuid.New()), "")

	t.Run("batch_idなしは400", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/v1/autotag", "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("照合結果が返る", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/v1/autotag?batch_id=batch_abc", "", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var result tagging.BatchPollResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.True(t, result.Done)
		assert.Equal(t, 5, result.Completed)
	})

	t.Run("未知のバッチは404", func(t *testing.T) {
		notFound := &mockTagger{
			ReconcileBatchFunc: func(ctx context.Context, batchID string) (*tagging.BatchPollResult, error) {
				return nil, tagging.ErrBatchNotFound
			},
		}
		srv := newTestServer(notFound, knownAssetRepo(uuid.New()), "")
		rec := doRequest(t, srv, http.MethodGet, "/v1/autotag?batch_id=batch_missing", "", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

// TestBearerAuth はBearerトークン認証を確認します
func TestBearerAuth(t *testing.T) {
	server := newTestServer(&mockTagger{}, knownAssetRepo(uuid.New()), "secret-token")
	body := `{"assetId": "` + uuid.NewString() + `", "imageUrl": "https://example.com/a.jpg"}`

	t.Run("トークンなしは401", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPost, "/v1/autotag", "", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("不正なトークンは401", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPost, "/v1/autotag", "wrong-token", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("正しいトークンは通過する", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPost, "/v1/autotag", "secret-token", body)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("ヘルスチェックは認証不要", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/healthz", "", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
