package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// FilesAction はスキャン対象の入力PDF一覧を表示するコマンドのアクション
func FilesAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(configPath, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	docs, err := appCtx.Mapper.ScanInput()
	if err != nil {
		return fmt.Errorf("入力ディレクトリのスキャンに失敗: %w", err)
	}

	for _, doc := range docs {
		fmt.Println(doc.RelativePath)
	}
	fmt.Printf("\n%d件のPDF (%s)\n", len(docs), appCtx.Config.Paths.InputBase)
	return nil
}
