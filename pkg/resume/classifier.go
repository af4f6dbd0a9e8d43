package resume

import (
	"os"

	"github.com/jinford/doc-translator/pkg/models"
)

// Snapshot は判定時点でのアーティファクト存在集合
// 分類をI/Oから切り離すため、存在チェックの結果だけを持つ
type Snapshot struct {
	ParseArchive   bool
	HTMLTranslated bool
	PDFTranslated  bool
	DOCXTranslated bool
}

// TakeSnapshot は文書の出力パスに対する存在スナップショットを取得します
func TakeSnapshot(outputs models.OutputPaths) Snapshot {
	return Snapshot{
		ParseArchive:   fileExists(outputs.ParseArchive),
		HTMLTranslated: fileExists(outputs.HTMLTranslated),
		PDFTranslated:  fileExists(outputs.PDFTranslated),
		DOCXTranslated: fileExists(outputs.DOCXTranslated),
	}
}

// Classify はアーティファクト存在集合から処理段階を判定します
// 優先順位は完成度の高い順: Complete → NeedsFormats → NeedsTranslation → NeedsParse
func Classify(snap Snapshot) models.Stage {
	if snap.HTMLTranslated && snap.PDFTranslated && snap.DOCXTranslated {
		return models.StageComplete
	}
	if snap.HTMLTranslated {
		return models.StageNeedsFormats
	}
	if snap.ParseArchive {
		return models.StageNeedsTranslation
	}
	return models.StageNeedsParse
}

// MissingFormats は不足している最終形式の名前を返します（NeedsFormats時の表示用）
func MissingFormats(snap Snapshot) []string {
	var missing []string
	if !snap.PDFTranslated {
		missing = append(missing, "PDF")
	}
	if !snap.DOCXTranslated {
		missing = append(missing, "DOCX")
	}
	return missing
}

// Categorized は分類済み文書のバケット
type Categorized struct {
	Completed        []models.Document
	NeedsFormats     []models.Document
	NeedsTranslation []models.Document
	NeedsParse       []models.Document
}

// Total は全バケットの合計件数を返す
func (c Categorized) Total() int {
	return len(c.Completed) + len(c.NeedsFormats) + len(c.NeedsTranslation) + len(c.NeedsParse)
}

// AllCompleted は未完了文書が存在しないかを返す
func (c Categorized) AllCompleted() bool {
	return len(c.NeedsFormats) == 0 && len(c.NeedsTranslation) == 0 && len(c.NeedsParse) == 0
}

// Categorize は文書リストをスナップショットに基づいて分類します
// バッチ開始時に一度だけ呼ばれる。再実行時は完了済みがスキップされ、冪等になる
func Categorize(docs []models.Document) Categorized {
	var c Categorized
	for _, doc := range docs {
		switch Classify(TakeSnapshot(doc.Outputs)) {
		case models.StageComplete:
			c.Completed = append(c.Completed, doc)
		case models.StageNeedsFormats:
			c.NeedsFormats = append(c.NeedsFormats, doc)
		case models.StageNeedsTranslation:
			c.NeedsTranslation = append(c.NeedsTranslation, doc)
		default:
			c.NeedsParse = append(c.NeedsParse, doc)
		}
	}
	return c
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
