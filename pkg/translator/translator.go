package translator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jinford/doc-translator/pkg/models"
)

// UnitResult は1つのWorkUnitの翻訳結果
type UnitResult struct {
	Unit models.WorkUnit
	// Text は採用されたテキスト。不合格時はソースがそのまま入る
	Text      string
	Accepted  bool
	Reason    RejectReason
	Attempts  int
	UsedModel string
}

// BatchTranslator はWorkUnitの集合を並列で品質チェック付き翻訳します
type BatchTranslator struct {
	gate       *QualityGate
	admission  *AdmissionController
	failureLog *FailureLog
	document   string
}

// NewBatchTranslator は新しいBatchTranslatorを作成します
// failureLog は nil でもよい（その場合、失敗は台帳に記録されない）
func NewBatchTranslator(gate *QualityGate, admission *AdmissionController, failureLog *FailureLog) *BatchTranslator {
	return &BatchTranslator{
		gate:       gate,
		admission:  admission,
		failureLog: failureLog,
	}
}

// ForDocument は失敗台帳に記録するドキュメント名を設定した複製を返します
func (t *BatchTranslator) ForDocument(relativePath string) *BatchTranslator {
	clone := *t
	clone.document = relativePath
	return &clone
}

// TranslateUnits は全ユニットを翻訳し、入力と同じ順序で結果を返します
// 個々のユニットの不合格はエラーにせず結果に記録する
// エラーを返すのはコンテキストのキャンセル時のみ
func (t *BatchTranslator) TranslateUnits(ctx context.Context, units []models.WorkUnit) ([]UnitResult, error) {
	if len(units) == 0 {
		return []UnitResult{}, nil
	}

	results := make([]UnitResult, len(units))
	pool := NewElasticPool(t.admission)

	var mu sync.Mutex
	var failedRecords []models.FailedTextRecord

	for i, unit := range units {
		index := i
		u := unit

		err := pool.Submit(ctx, func() {
			res, gerr := t.gate.TranslateWithQualityCheck(ctx, u)
			if gerr != nil {
				// キャンセル時はソースをそのまま残す
				results[index] = UnitResult{Unit: u, Text: u.SourceText, Reason: RejectTransport}
				return
			}

			results[index] = UnitResult{
				Unit:      u,
				Text:      res.Text,
				Accepted:  res.Accepted,
				Reason:    res.Reason,
				Attempts:  res.Attempts,
				UsedModel: res.UsedModel,
			}

			if !res.Accepted {
				mu.Lock()
				failedRecords = append(failedRecords, models.FailedTextRecord{
					TextID:       u.TextID,
					Document:     t.document,
					SourceText:   truncateString(u.SourceText, 500),
					Reason:       string(res.Reason),
					Attempts:     res.Attempts,
					LastModel:    res.UsedModel,
					FailedAtUnix: time.Now().Unix(),
				})
				mu.Unlock()
			}
		})
		if err != nil {
			return nil, err
		}
	}

	pool.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if t.failureLog != nil {
		for _, record := range failedRecords {
			if err := t.failureLog.Append(record); err != nil {
				slog.Warn("失敗台帳への追記に失敗しました",
					slog.String("text_id", record.TextID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	return results, nil
}

// FailedCount は結果のうち不合格だったユニット数を返します
func FailedCount(results []UnitResult) int {
	count := 0
	for _, r := range results {
		if !r.Accepted {
			count++
		}
	}
	return count
}

// AcceptedTextIDs は結果のうち合格したユニットのTextID集合を返します
// 失敗台帳の書き直しに使う
func AcceptedTextIDs(results []UnitResult) map[string]struct{} {
	ids := make(map[string]struct{}, len(results))
	for _, r := range results {
		if r.Accepted {
			ids[r.Unit.TextID] = struct{}{}
		}
	}
	return ids
}
