package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/storystack/autotagd/internal/core/tagging"
)

// TagRunAction は1アセットを即時タグ付けするコマンドのアクション
func TagRunAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	assetID, err := uuid.Parse(cmd.String("asset-id"))
	if err != nil {
		return fmt.Errorf("アセットIDの形式が不正です: %w", err)
	}
	imageURL := cmd.String("image-url")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	asset, err := appCtx.Container.AssetRepo.GetByID(ctx, assetID)
	if err != nil {
		return fmt.Errorf("アセットの取得に失敗: %w", err)
	}

	resp, err := appCtx.Container.TaggingService.AutoTag(ctx, asset.WorkspaceID, []tagging.AutoTagRequest{
		{AssetID: assetID, ImageURL: imageURL},
	})
	if err != nil {
		return fmt.Errorf("タグ付けに失敗: %w", err)
	}

	for _, result := range resp.Results {
		if len(result.Tags) == 0 {
			fmt.Printf("%s: タグなし\n", result.AssetID)
			continue
		}
		fmt.Printf("%s: %s\n", result.AssetID, strings.Join(result.Tags, ", "))
	}

	return nil
}
