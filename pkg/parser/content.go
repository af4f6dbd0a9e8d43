package parser

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/jinford/doc-translator/pkg/models"
	"github.com/jinford/doc-translator/pkg/translator"
)

// 翻訳結果を書き込むフィールド名
// WorkUnitのtext_idと失敗台帳の照合キーにも使われる
const (
	FieldText          = "text_ja"
	FieldListItems     = "list_items_ja"
	FieldTableCaption  = "table_caption_ja"
	FieldTableBody     = "table_body_ja"
	FieldImageCaption  = "image_caption_ja"
	FieldImageFootnote = "image_footnote_ja"
)

// StringList は文字列または文字列配列のどちらでも来るJSONフィールド
type StringList []string

func (s *StringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if single != "" {
		*s = []string{single}
	}
	return nil
}

// Join は要素を空白で連結して返します
func (s StringList) Join() string {
	return strings.Join(s, " ")
}

// ContentItem は解析結果のコンテンツリストの1項目
type ContentItem struct {
	Type          string     `json:"type"`
	Text          string     `json:"text,omitempty"`
	TextLevel     int        `json:"text_level,omitempty"`
	PageIdx       int        `json:"page_idx"`
	ListItems     StringList `json:"list_items,omitempty"`
	TableCaption  StringList `json:"table_caption,omitempty"`
	TableBody     string     `json:"table_body,omitempty"`
	ImageCaption  StringList `json:"image_caption,omitempty"`
	ImageFootnote StringList `json:"image_footnote,omitempty"`
	ImgPath       string     `json:"img_path,omitempty"`

	// 翻訳結果の書き込み先
	TextJa          string   `json:"text_ja,omitempty"`
	ListItemsJa     []string `json:"list_items_ja,omitempty"`
	TableCaptionJa  string   `json:"table_caption_ja,omitempty"`
	TableBodyJa     string   `json:"table_body_ja,omitempty"`
	ImageCaptionJa  string   `json:"image_caption_ja,omitempty"`
	ImageFootnoteJa string   `json:"image_footnote_ja,omitempty"`
}

// ReadContentList は解析結果zipからコンテンツリストを読み出します
func ReadContentList(zipPath string) ([]ContentItem, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if !strings.HasSuffix(f.Name, "content_list.json") {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}

		var items []ContentItem
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("failed to decode content list: %w", err)
		}
		return items, nil
	}

	return nil, fmt.Errorf("content list not found in %s", zipPath)
}

// WriteContentListArchive はコンテンツリストをzipアーカイブとして書き出します
// 分割解析した結果をマージしたあと、通常の解析結果と同じ形で保存するために使う
func WriteContentListArchive(zipPath string, items []ContentItem) error {
	if err := os.MkdirAll(filepath.Dir(zipPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal content list: %w", err)
	}

	tmpPath := zipPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	zw := zip.NewWriter(f)
	w, err := zw.Create("content_list.json")
	if err == nil {
		_, err = w.Write(data)
	}
	if err == nil {
		err = zw.Close()
	} else {
		zw.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write archive: %w", err)
	}

	return os.Rename(tmpPath, zipPath)
}

// IsGarbageText はテキストの大半が制御文字かどうかを判定します
// OCRが稀に吐く壊れたテキストを翻訳対象から外すために使う
func IsGarbageText(s string) bool {
	if s == "" {
		return false
	}
	total := 0
	garbage := 0
	for _, r := range s {
		total++
		if r == unicode.ReplacementChar {
			garbage++
		} else if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			garbage++
		}
	}
	return float64(garbage)/float64(total) > 0.8
}

// 翻訳せず読み飛ばすタイプ
func skipEntirely(itemType string) bool {
	return itemType == "" || itemType == "footer" || itemType == "header" || itemType == "page_number"
}

// 翻訳対象外だが出力には残すタイプ
func skipTranslation(itemType string) bool {
	return itemType == "ref_text" || itemType == "code"
}

const contextWindow = 500

// DecomposeUnits はコンテンツリストを翻訳単位へ分解します
// text_id は page_<ページ番号>_task_<通し番号>_<フィールド名> の形式で、
// 実行をまたいで同じ入力から同じIDが得られる
func DecomposeUnits(items []ContentItem) []models.WorkUnit {
	var units []models.WorkUnit

	appendUnit := func(itemIdx int, field, text string, ctx models.UnitContext) {
		units = append(units, models.WorkUnit{
			TextID:     fmt.Sprintf("page_%d_task_%d_%s", items[itemIdx].PageIdx, len(units), field),
			SourceText: text,
			Field:      field,
			PageIdx:    items[itemIdx].PageIdx,
			ItemIdx:    itemIdx,
			Context:    ctx,
		})
	}

	// 直近の見出しを章タイトルとして文脈に引き継ぐ
	var chapter string

	for i, item := range items {
		if skipEntirely(item.Type) || skipTranslation(item.Type) {
			continue
		}

		ctx := contextFor(items, i)
		if item.Type == "text" && item.TextLevel > 0 {
			if item.Text != "" && !IsGarbageText(item.Text) {
				chapter = item.Text
			}
		} else {
			ctx.ChapterTitle = chapter
		}

		switch item.Type {
		case "text", "page_footnote":
			if item.Text != "" && !IsGarbageText(item.Text) {
				appendUnit(i, FieldText, item.Text, ctx)
			}
		case "list":
			for _, listItem := range item.ListItems {
				if listItem != "" && !IsGarbageText(listItem) {
					appendUnit(i, FieldListItems, listItem, ctx)
				}
			}
		case "table":
			if caption := item.TableCaption.Join(); caption != "" && !IsGarbageText(caption) {
				appendUnit(i, FieldTableCaption, caption, ctx)
			}
			if item.TableBody != "" {
				appendUnit(i, FieldTableBody, item.TableBody, ctx)
			}
		case "image":
			if caption := item.ImageCaption.Join(); caption != "" && !IsGarbageText(caption) {
				appendUnit(i, FieldImageCaption, caption, ctx)
			}
			if footnote := item.ImageFootnote.Join(); footnote != "" && !IsGarbageText(footnote) {
				appendUnit(i, FieldImageFootnote, footnote, ctx)
			}
		}
	}

	return units
}

// contextFor は同一ページ内の前後テキストを文脈として切り出します
func contextFor(items []ContentItem, idx int) models.UnitContext {
	var ctx models.UnitContext

	if idx > 0 && items[idx-1].PageIdx == items[idx].PageIdx {
		ctx.PrevText = lastRunes(items[idx-1].Text, contextWindow)
	}
	if idx < len(items)-1 && items[idx+1].PageIdx == items[idx].PageIdx {
		ctx.NextText = headRunes(items[idx+1].Text, contextWindow)
	}
	return ctx
}

func headRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func lastRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

// ApplyResults は翻訳結果をコンテンツリストへ書き戻します
// 不合格ユニットもソースのまま書き戻されるため、出力に空欄は生じない
func ApplyResults(items []ContentItem, results []translator.UnitResult) {
	for _, r := range results {
		idx := r.Unit.ItemIdx
		if idx < 0 || idx >= len(items) {
			continue
		}
		item := &items[idx]

		switch r.Unit.Field {
		case FieldText:
			item.TextJa = r.Text
		case FieldListItems:
			item.ListItemsJa = append(item.ListItemsJa, r.Text)
		case FieldTableCaption:
			item.TableCaptionJa = r.Text
		case FieldTableBody:
			item.TableBodyJa = r.Text
		case FieldImageCaption:
			item.ImageCaptionJa = r.Text
		case FieldImageFootnote:
			item.ImageFootnoteJa = r.Text
		}
	}
}

// MergeChunks は分割解析された各区画のコンテンツリストを結合します
// 各区画内のページ番号は区画の開始ページ分だけ補正され、
// 結合後のページ番号は全体で一貫した値になる
func MergeChunks(chunks [][]ContentItem, pageOffsets []int) ([]ContentItem, error) {
	if len(chunks) != len(pageOffsets) {
		return nil, fmt.Errorf("chunk count mismatch: %d chunks, %d offsets", len(chunks), len(pageOffsets))
	}

	var merged []ContentItem
	for i, chunk := range chunks {
		offset := pageOffsets[i]
		for _, item := range chunk {
			item.PageIdx += offset
			merged = append(merged, item)
		}
	}
	return merged, nil
}
