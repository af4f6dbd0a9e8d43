package models

// Document は1つの入力PDFとその出力先を表します
// RelativePath が文書の識別子であり、バッチ内で一意
type Document struct {
	// RelativePath は入力ベースディレクトリからの相対パス（識別子）
	RelativePath string
	// SourcePath はPDFの絶対パス
	SourcePath string
	// Outputs は出力アーティファクトのパス集合
	Outputs OutputPaths
}

// OutputPaths は1文書の全出力アーティファクトのパス
type OutputPaths struct {
	// ParseArchive は解析サービスの結果ZIP
	ParseArchive string
	// HTMLOriginal / HTMLTranslated は原文・訳文HTML
	HTMLOriginal   string
	HTMLTranslated string
	// PDFOriginal / PDFTranslated は原文・訳文PDF
	PDFOriginal   string
	PDFTranslated string
	// DOCXOriginal / DOCXTranslated は原文・訳文DOCX
	DOCXOriginal   string
	DOCXTranslated string
}

// Stage は文書の処理段階（再開分類の結果）
type Stage int

const (
	// StageNeedsParse は未処理（解析から開始）
	StageNeedsParse Stage = iota
	// StageNeedsTranslation は解析済み（翻訳から開始）
	StageNeedsTranslation
	// StageNeedsFormats は訳文HTMLあり（形式変換のみ不足）
	StageNeedsFormats
	// StageComplete は全出力あり（スキップ対象）
	StageComplete
)

// String はステージ名を返す
func (s Stage) String() string {
	switch s {
	case StageNeedsParse:
		return "needs_parse"
	case StageNeedsTranslation:
		return "needs_translation"
	case StageNeedsFormats:
		return "needs_formats"
	case StageComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// DocumentResult は1文書のバッチ処理結果
type DocumentResult struct {
	RelativePath string `json:"relativePath"`
	// Status は "completed" / "skipped" / "failed"
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	// Units は翻訳したWorkUnit数（スキップ時は0）
	Units int `json:"units"`
}

const (
	ResultCompleted = "completed"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
)
