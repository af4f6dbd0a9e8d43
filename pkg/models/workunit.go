package models

// WorkUnit は翻訳の最小単位（1テキスト断片＋文脈）
// 識別子は (文書, 文書内位置, 書き込み先フィールド) から導出した TextID
type WorkUnit struct {
	// TextID は失敗ログとの突合に使う安定ID
	// 形式: "page_<pageIdx>_task_<taskIdx>_<field>"
	TextID string
	// SourceText は翻訳対象の原文
	SourceText string
	// Field は訳文の書き込み先フィールド名（text_ja 等）
	Field string
	// PageIdx は原文書内のページ番号
	PageIdx int
	// ItemIdx はページ内の項目番号
	ItemIdx int
	// Context は翻訳プロンプトに添える文脈情報
	Context UnitContext
}

// UnitContext はWorkUnitの構造的文脈
type UnitContext struct {
	// ChapterTitle は直近の見出しテキスト
	ChapterTitle string
	// PrevText / NextText は前後テキストの抜粋（各500文字まで）
	PrevText string
	NextText string
}

// FailedTextRecord は全リトライを使い切ったWorkUnitの永続記録
// グローバル失敗ログ（JSONL）に追記され、後続バッチで成功したら書き直しで除去される
type FailedTextRecord struct {
	TextID       string `json:"text_id"`
	Document     string `json:"document"`
	SourceText   string `json:"source_text"`
	Reason       string `json:"reason"`
	Attempts     int    `json:"attempts"`
	LastModel    string `json:"last_model"`
	FailedAtUnix int64  `json:"failed_at"`
}
