package testing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/storystack/autotagd/internal/core/tagging"
)

// MockImageResolver はテスト用のモックImageResolverです
type MockImageResolver struct {
	ResolveFunc func(ctx context.Context, assetID uuid.UUID, imageURL string) (*tagging.ResolvedImage, error)
}

func (m *MockImageResolver) Resolve(ctx context.Context, assetID uuid.UUID, imageURL string) (*tagging.ResolvedImage, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, assetID, imageURL)
	}
	return &tagging.ResolvedImage{Kind: tagging.ImageKindURL, URL: imageURL}, nil
}

// MockTagGenerator はテスト用のモックTagGeneratorです
type MockTagGenerator struct {
	GenerateTagsFunc func(ctx context.Context, image *tagging.ResolvedImage, vocab tagging.Vocabulary) ([]string, error)

	mu        sync.Mutex
	callCount int
}

func (m *MockTagGenerator) GenerateTags(ctx context.Context, image *tagging.ResolvedImage, vocab tagging.Vocabulary) ([]string, error) {
	m.mu.Lock()
	m.callCount++
	m.mu.Unlock()
	if m.GenerateTagsFunc != nil {
		return m.GenerateTagsFunc(ctx, image, vocab)
	}
	return []string{}, nil
}

// Calls はGenerateTagsの呼び出し回数を返す
func (m *MockTagGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// MockBatchJobManager はテスト用のモックBatchJobManagerです
type MockBatchJobManager struct {
	CreateJobFunc func(ctx context.Context, workspaceID uuid.UUID, requests []tagging.AutoTagRequest, vocab tagging.Vocabulary) (string, []uuid.UUID, error)
	PollJobFunc   func(ctx context.Context, batchID string) (*tagging.BatchPollResult, error)
}

func (m *MockBatchJobManager) CreateJob(ctx context.Context, workspaceID uuid.UUID, requests []tagging.AutoTagRequest, vocab tagging.Vocabulary) (string, []uuid.UUID, error) {
	if m.CreateJobFunc != nil {
		return m.CreateJobFunc(ctx, workspaceID, requests, vocab)
	}
	return "", nil, nil
}

func (m *MockBatchJobManager) PollJob(ctx context.Context, batchID string) (*tagging.BatchPollResult, error) {
	if m.PollJobFunc != nil {
		return m.PollJobFunc(ctx, batchID)
	}
	return &tagging.BatchPollResult{BatchID: batchID}, nil
}

// MockAssetRepository はテスト用のモックAssetRepositoryです
// Updatesには永続化呼び出しが記録される
type MockAssetRepository struct {
	GetByIDFunc                func(ctx context.Context, id uuid.UUID) (*tagging.Asset, error)
	UpdateTagResultFunc        func(ctx context.Context, id uuid.UUID, tags []string, status tagging.AutoTagStatus) error
	MarkPendingBatchFunc       func(ctx context.Context, ids []uuid.UUID, batchID string) error
	ListPendingByBatchIDFunc   func(ctx context.Context, batchID string) ([]*tagging.Asset, error)
	CompleteFromBatchFunc      func(ctx context.Context, id uuid.UUID, tags []string) error
	SweepBatchFailuresFunc     func(ctx context.Context, batchID string) (int64, error)
	DistinctActiveBatchIDsFunc func(ctx context.Context) ([]string, error)

	mu      sync.Mutex
	Updates []RecordedUpdate
}

// RecordedUpdate は記録された永続化呼び出し
type RecordedUpdate struct {
	AssetID uuid.UUID
	Tags    []string
	Status  tagging.AutoTagStatus
}

func (m *MockAssetRepository) GetByID(ctx context.Context, id uuid.UUID) (*tagging.Asset, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, tagging.ErrAssetNotFound
}

func (m *MockAssetRepository) UpdateTagResult(ctx context.Context, id uuid.UUID, tags []string, status tagging.AutoTagStatus) error {
	m.mu.Lock()
	m.Updates = append(m.Updates, RecordedUpdate{AssetID: id, Tags: tags, Status: status})
	m.mu.Unlock()
	if m.UpdateTagResultFunc != nil {
		return m.UpdateTagResultFunc(ctx, id, tags, status)
	}
	return nil
}

func (m *MockAssetRepository) MarkPendingBatch(ctx context.Context, ids []uuid.UUID, batchID string) error {
	if m.MarkPendingBatchFunc != nil {
		return m.MarkPendingBatchFunc(ctx, ids, batchID)
	}
	return nil
}

func (m *MockAssetRepository) ListPendingByBatchID(ctx context.Context, batchID string) ([]*tagging.Asset, error) {
	if m.ListPendingByBatchIDFunc != nil {
		return m.ListPendingByBatchIDFunc(ctx, batchID)
	}
	return nil, nil
}

func (m *MockAssetRepository) CompleteFromBatch(ctx context.Context, id uuid.UUID, tags []string) error {
	m.mu.Lock()
	m.Updates = append(m.Updates, RecordedUpdate{AssetID: id, Tags: tags, Status: tagging.StatusCompleted})
	m.mu.Unlock()
	if m.CompleteFromBatchFunc != nil {
		return m.CompleteFromBatchFunc(ctx, id, tags)
	}
	return nil
}

func (m *MockAssetRepository) SweepBatchFailures(ctx context.Context, batchID string) (int64, error) {
	if m.SweepBatchFailuresFunc != nil {
		return m.SweepBatchFailuresFunc(ctx, batchID)
	}
	return 0, nil
}

func (m *MockAssetRepository) DistinctActiveBatchIDs(ctx context.Context) ([]string, error) {
	if m.DistinctActiveBatchIDsFunc != nil {
		return m.DistinctActiveBatchIDsFunc(ctx)
	}
	return nil, nil
}

// MockVocabularyRepository はテスト用のモックVocabularyRepositoryです
type MockVocabularyRepository struct {
	GetVocabularyFunc func(ctx context.Context, workspaceID uuid.UUID) (tagging.Vocabulary, error)
}

func (m *MockVocabularyRepository) GetVocabulary(ctx context.Context, workspaceID uuid.UUID) (tagging.Vocabulary, error) {
	if m.GetVocabularyFunc != nil {
		return m.GetVocabularyFunc(ctx, workspaceID)
	}
	return tagging.Vocabulary{}, nil
}

// BlockedLimiter は常に拒否するLimiter（レート制限テスト用）
type BlockedLimiter struct {
	RetryAfter time.Duration
}

func (l BlockedLimiter) Allow() (bool, time.Duration) {
	retryAfter := l.RetryAfter
	if retryAfter == 0 {
		retryAfter = time.Minute
	}
	return false, retryAfter
}
