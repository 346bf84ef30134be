package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/jinford/code-archaeologist/internal/interface/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 設定読み込み前のログ出力用
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "archaeologist",
		Usage: "レガシーリポジトリの履歴からビジネスロジックを掘り起こすコード考古学ツール",
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "HTTPサーバコマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "発掘APIサーバを起動",
						Flags: []cli.Flag{
							envFlag(),
							&cli.IntFlag{
								Name:  "port",
								Usage: "待ち受けポート（省略時は SERVER_PORT）",
							},
						},
						Action: appcli.ServerStartAction,
					},
				},
			},
			{
				Name:  "excavate",
				Usage: "リポジトリを発掘してレポートを出力",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:     "repo",
						Usage:    "リポジトリURLまたはローカルパス",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "max-units",
						Usage: "解析する単位数の上限（0 でデフォルト）",
					},
					&cli.StringFlag{
						Name:  "mode",
						Usage: "解析単位の種類（commits または files）",
						Value: "commits",
					},
					&cli.StringFlag{
						Name:  "ref",
						Usage: "ブランチ・タグ・コミットハッシュ（省略時は HEAD）",
					},
					&cli.StringSliceFlag{
						Name:  "exclude",
						Usage: "gitignore 形式の除外パターン（複数指定可）",
					},
					&cli.StringFlag{
						Name:  "out",
						Usage: "レポートの出力先（省略時は標準出力）",
					},
				},
				Action: appcli.ExcavateAction,
			},
			{
				Name:   "models",
				Usage:  "選択されるモデルと候補を表示",
				Flags:  []cli.Flag{envFlag()},
				Action: appcli.ModelsAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// envFlag は各コマンド共通の --env フラグを返します
func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}
