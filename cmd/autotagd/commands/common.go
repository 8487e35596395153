package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/storystack/autotagd/internal/platform/config"
	"github.com/storystack/autotagd/internal/platform/container"
	"github.com/storystack/autotagd/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer
}

// NewAppContext は設定ファイルを読み込み、依存関係を初期化して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	// 設定の読み込み（platform層を使用）
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	// ロガーの初期化（platform層を使用）
	appLogger := logger.New(logger.DefaultConfig())

	// コンテナの初期化（platform層を使用）
	cont, err := container.NewContainer(ctx, cfg, container.WithContainerLogger(appLogger))
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Container: cont,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger()
	}
	return slog.Default()
}
