package testing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/storystack/autotagd/internal/core/tagging"
)

// TestAsset はテスト用のAssetを生成します
func TestAsset(workspaceID uuid.UUID, status tagging.AutoTagStatus) *tagging.Asset {
	id := uuid.New()
	return &tagging.Asset{
		ID:            id,
		WorkspaceID:   workspaceID,
		StoragePath:   fmt.Sprintf("originals/%s.jpg", id),
		Tags:          []string{},
		AutoTagStatus: status,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
}

// TestRequests はテスト用のAutoTagRequestをn件生成します
func TestRequests(n int) []tagging.AutoTagRequest {
	requests := make([]tagging.AutoTagRequest, 0, n)
	for i := 0; i < n; i++ {
		id := uuid.New()
		requests = append(requests, tagging.AutoTagRequest{
			AssetID:  id,
			ImageURL: fmt.Sprintf("https://blob.example.com/assets/originals/%s.jpg", id),
		})
	}
	return requests
}
