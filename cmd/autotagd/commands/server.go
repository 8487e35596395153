package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"
)

// shutdownTimeout はグレースフルシャットダウンの猶予時間
const shutdownTimeout = 10 * time.Second

// ServerStartAction はHTTPサーバを起動するコマンドのアクション
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	port := appCtx.Config.Server.Port
	if p := cmd.Int("port"); p > 0 {
		port = int(p)
	}

	logger := appCtx.Logger()
	addr := fmt.Sprintf(":%d", port)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTPサーバを起動します", slog.String("addr", addr))
		if err := appCtx.Container.Server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTPサーバの起動に失敗: %w", err)
	case <-ctx.Done():
	}

	logger.Info("HTTPサーバを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := appCtx.Container.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバの停止に失敗: %w", err)
	}

	return nil
}
