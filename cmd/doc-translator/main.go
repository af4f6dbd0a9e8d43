package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jinford/doc-translator/cmd/doc-translator/commands"
	"github.com/jinford/doc-translator/internal/platform/logger"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commonFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "設定ファイルパス（YAML）",
			Value: "config.yaml",
		},
		&cli.StringFlag{
			Name:  "env",
			Usage: "環境変数ファイルパス",
			Value: ".env",
		},
	}

	app := &cli.Command{
		Name:  "doc-translator",
		Usage: "PDF文書のバッチ翻訳パイプライン",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "デバッグログを出力",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "ログフォーマット (json/text)",
				Value: "json",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			// 構造化ログの設定
			logger.New(logger.FromFlags(cmd.Bool("verbose"), cmd.String("log-format")))
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:  "batch",
				Usage: "バッチ翻訳コマンド",
				Commands: []*cli.Command{
					{
						Name:   "run",
						Usage:  "入力ディレクトリの全PDFを翻訳（中断後の再実行は完了済みをスキップ）",
						Flags:  commonFlags,
						Action: commands.BatchRunAction,
					},
					{
						Name:   "status",
						Usage:  "各文書の処理段階を表示",
						Flags:  commonFlags,
						Action: commands.BatchStatusAction,
					},
				},
			},
			{
				Name:   "files",
				Usage:  "スキャン対象の入力PDF一覧を表示",
				Flags:  commonFlags,
				Action: commands.FilesAction,
			},
			{
				Name:  "failed",
				Usage: "失敗台帳管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "翻訳に失敗したテキストの一覧を表示",
						Flags: append([]cli.Flag{
							&cli.StringFlag{
								Name:  "document",
								Usage: "文書の相対パスで絞り込み",
							},
						}, commonFlags...),
						Action: commands.FailedListAction,
					},
					{
						Name:   "clear",
						Usage:  "失敗台帳を削除",
						Flags:  commonFlags,
						Action: commands.FailedClearAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
