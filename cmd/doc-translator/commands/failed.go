package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
)

// FailedListAction は失敗台帳のレコードを一覧表示するコマンドのアクション
func FailedListAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	envFile := cmd.String("env")
	document := cmd.String("document")

	appCtx, err := NewAppContext(configPath, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	records, err := appCtx.FailureLog.Load()
	if err != nil {
		return fmt.Errorf("失敗台帳の読み込みに失敗: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("失敗レコードはありません")
		return nil
	}

	count := 0
	for _, record := range records {
		if document != "" && record.Document != document {
			continue
		}
		count++
		failedAt := time.Unix(record.FailedAtUnix, 0).Format(time.RFC3339)
		fmt.Printf("%s\t%s\t%s\tattempts=%d\tmodel=%s\t%s\n",
			record.Document,
			record.TextID,
			record.Reason,
			record.Attempts,
			record.LastModel,
			failedAt,
		)
	}

	fmt.Printf("\n%d件の失敗レコード\n", count)
	return nil
}

// FailedClearAction は失敗台帳を削除するコマンドのアクション
// 次回のバッチ実行で全文書が成果物の有無だけで再分類される
func FailedClearAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(configPath, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	path := appCtx.Config.Logs.FailureLog
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			fmt.Println("失敗台帳は存在しません")
			return nil
		}
		return fmt.Errorf("失敗台帳の削除に失敗: %w", err)
	}

	fmt.Printf("失敗台帳を削除しました: %s\n", path)
	return nil
}
