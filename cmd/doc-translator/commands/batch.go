package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-translator/pkg/lock"
	"github.com/jinford/doc-translator/pkg/models"
	"github.com/jinford/doc-translator/pkg/resume"
)

// BatchRunAction はバッチ翻訳を実行するコマンドのアクション
func BatchRunAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	envFile := cmd.String("env")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(configPath, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.BuildPipeline(); err != nil {
		return err
	}

	// 同一出力ディレクトリへの多重起動を防ぐ
	runLock, err := lock.Acquire(appCtx.Config.Paths.OutputBase)
	if err != nil {
		return err
	}
	defer runLock.Release()

	// 入力ディレクトリをスキャンし、既存の成果物から処理段階を分類する
	docs, err := appCtx.Mapper.ScanInput()
	if err != nil {
		return fmt.Errorf("入力ディレクトリのスキャンに失敗: %w", err)
	}
	if len(docs) == 0 {
		slog.Info("処理対象のPDFが見つかりません", "input", appCtx.Config.Paths.InputBase)
		return nil
	}

	// 前回までに失敗したテキストを控えておき、終了時に回復数を報告する
	previousFailures, err := appCtx.FailureLog.Load()
	if err != nil {
		return fmt.Errorf("失敗台帳の読み込みに失敗: %w", err)
	}

	categorized := resume.Categorize(docs)
	slog.Info("バッチ翻訳を開始します",
		"total", categorized.Total(),
		"completed", len(categorized.Completed),
		"needsFormats", len(categorized.NeedsFormats),
		"needsTranslation", len(categorized.NeedsTranslation),
		"needsParse", len(categorized.NeedsParse),
	)

	results := appCtx.Orchestrator.RunBatch(ctx, categorized)

	var completed, skipped, failed int
	for _, result := range results {
		switch result.Status {
		case models.ResultCompleted:
			completed++
		case models.ResultSkipped:
			skipped++
		case models.ResultFailed:
			failed++
			slog.Error("文書の処理に失敗しました",
				"document", result.RelativePath,
				"error", result.Error,
			)
		}
	}

	slog.Info("バッチ翻訳が完了しました",
		"completed", completed,
		"skipped", skipped,
		"failed", failed,
	)

	if len(previousFailures) > 0 {
		remaining, err := appCtx.FailureLog.Load()
		if err != nil {
			return fmt.Errorf("失敗台帳の読み込みに失敗: %w", err)
		}
		stillFailing := make(map[string]struct{}, len(remaining))
		for _, record := range remaining {
			stillFailing[record.TextID] = struct{}{}
		}
		recovered := 0
		for _, record := range previousFailures {
			if _, ok := stillFailing[record.TextID]; !ok {
				recovered++
			}
		}
		slog.Info("前回失敗分の再翻訳結果",
			"previouslyFailed", len(previousFailures),
			"recovered", recovered,
			"stillFailing", len(previousFailures)-recovered,
		)
	}

	if failed > 0 {
		return fmt.Errorf("%d件の文書の処理に失敗しました", failed)
	}
	return nil
}

// BatchStatusAction は各文書の処理段階を表示するコマンドのアクション
func BatchStatusAction(ctx context.Context, cmd *cli.Command) error {
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

	fmt.Printf("%-50s %s\n", "DOCUMENT", "STAGE")
	for _, doc := range docs {
		snap := resume.TakeSnapshot(doc.Outputs)
		stage := resume.Classify(snap)
		line := fmt.Sprintf("%-50s %s", doc.RelativePath, stage)
		if stage == models.StageNeedsFormats {
			line += fmt.Sprintf(" (missing: %v)", resume.MissingFormats(snap))
		}
		fmt.Println(line)
	}

	categorized := resume.Categorize(docs)
	fmt.Printf("\ntotal=%d completed=%d needs_formats=%d needs_translation=%d needs_parse=%d\n",
		categorized.Total(),
		len(categorized.Completed),
		len(categorized.NeedsFormats),
		len(categorized.NeedsTranslation),
		len(categorized.NeedsParse),
	)
	return nil
}
