package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/storystack/autotagd/cmd/autotagd/commands"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "autotagd",
		Usage: "写真アセットの自動タグ付けオーケストレータ",
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "サーバ関連コマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "HTTPサーバを起動",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.IntFlag{
								Name:  "port",
								Usage: "HTTPポート（省略時は環境変数またはデフォルトの8080）",
							},
						},
						Action: commands.ServerStartAction,
					},
				},
			},
			{
				Name:  "batch",
				Usage: "非同期バッチジョブ管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "poll",
						Usage: "指定バッチジョブを1回照合",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "batch-id",
								Usage:    "OpenAIバッチジョブID",
								Required: true,
							},
						},
						Action: commands.BatchPollAction,
					},
					{
						Name:  "watch",
						Usage: "未解決の全バッチジョブを定期的に照合",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.DurationFlag{
								Name:  "interval",
								Usage: "照合間隔",
								Value: 5 * time.Minute,
							},
						},
						Action: commands.BatchWatchAction,
					},
				},
			},
			{
				Name:  "tag",
				Usage: "タグ付けコマンド",
				Commands: []*cli.Command{
					{
						Name:  "run",
						Usage: "1アセットを即時タグ付け",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "asset-id",
								Usage:    "アセットID",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "image-url",
								Usage:    "画像URL（Blobストア内または外部URL）",
								Required: true,
							},
						},
						Action: commands.TagRunAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
