package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"
)

// BatchPollAction は指定バッチジョブを1回照合するコマンドのアクション
func BatchPollAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	batchID := cmd.String("batch-id")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	result, err := appCtx.Container.TaggingService.ReconcileBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("バッチの照合に失敗: %w", err)
	}

	fmt.Printf("バッチID:   %s\n", result.BatchID)
	fmt.Printf("ステータス: %s\n", result.Status)
	if result.Done {
		fmt.Printf("完了:       %d件\n", result.Completed)
		fmt.Printf("失敗:       %d件\n", result.Failed)
	} else {
		fmt.Println("ジョブはまだ実行中です")
	}

	return nil
}

// BatchWatchAction は未解決の全バッチジョブを定期的に照合するコマンドのアクション
func BatchWatchAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	interval := cmd.Duration("interval")
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	logger := appCtx.Logger()
	logger.Info("バッチ監視を開始します", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		reconcileActiveBatches(ctx, appCtx)

		select {
		case <-ctx.Done():
			logger.Info("バッチ監視を停止します")
			return nil
		case <-ticker.C:
		}
	}
}

// reconcileActiveBatches は未解決の全バッチを1巡照合する
// 個別バッチの失敗はログに留めて残りを継続する
func reconcileActiveBatches(ctx context.Context, appCtx *AppContext) {
	logger := appCtx.Logger()

	batchIDs, err := appCtx.Container.AssetRepo.DistinctActiveBatchIDs(ctx)
	if err != nil {
		logger.Error("未解決バッチの取得に失敗しました", slog.String("error", err.Error()))
		return
	}
	if len(batchIDs) == 0 {
		logger.Debug("未解決のバッチはありません")
		return
	}

	for _, batchID := range batchIDs {
		result, err := appCtx.Container.TaggingService.ReconcileBatch(ctx, batchID)
		if err != nil {
			logger.Error("バッチの照合に失敗しました",
				slog.String("batch_id", batchID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if result.Done {
			logger.Info("バッチを解決しました",
				slog.String("batch_id", batchID),
				slog.String("status", result.Status),
				slog.Int("completed", result.Completed),
				slog.Int("failed", result.Failed),
			)
		}
	}
}
