package paths

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jinford/doc-translator/pkg/models"
)

// Mapper は入力スキャンと出力アーティファクトのパス導出を担当します
// 出力ツリーは入力ツリーの階層をそのまま複製する
type Mapper struct {
	inputBase  string
	outputBase string
}

// 出力サブディレクトリ名
const (
	parsedFolder = "parsed"
	htmlFolder   = "html"
	pdfFolder    = "pdf"
	docxFolder   = "docx"
)

// NewMapper は新しいMapperを作成します
func NewMapper(inputBase, outputBase string) *Mapper {
	return &Mapper{
		inputBase:  inputBase,
		outputBase: outputBase,
	}
}

// ScanInput は入力ディレクトリ以下のPDFを再帰的に列挙し、Documentのリストを返します
func (m *Mapper) ScanInput() ([]models.Document, error) {
	info, err := os.Stat(m.inputBase)
	if err != nil {
		return nil, fmt.Errorf("input directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path is not a directory: %s", m.inputBase)
	}

	var docs []models.Document
	err = filepath.WalkDir(m.inputBase, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".pdf") {
			return nil
		}
		rel, err := filepath.Rel(m.inputBase, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		docs = append(docs, models.Document{
			RelativePath: rel,
			SourcePath:   path,
			Outputs:      m.OutputPaths(rel),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan input directory: %w", err)
	}
	return docs, nil
}

// OutputPaths は相対パスから全出力アーティファクトのパスを決定的に導出します
func (m *Mapper) OutputPaths(relativePath string) models.OutputPaths {
	rel := filepath.FromSlash(relativePath)
	dir := filepath.Dir(rel)
	if dir == "." {
		dir = ""
	}
	stem := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))

	join := func(folder, name string) string {
		return filepath.Join(m.outputBase, folder, dir, name)
	}

	return models.OutputPaths{
		ParseArchive:   join(parsedFolder, stem+"_result.zip"),
		HTMLOriginal:   join(htmlFolder, stem+"_original.html"),
		HTMLTranslated: join(htmlFolder, stem+"_translated.html"),
		PDFOriginal:    join(pdfFolder, stem+"_original.pdf"),
		PDFTranslated:  join(pdfFolder, stem+"_translated.pdf"),
		DOCXOriginal:   join(docxFolder, stem+"_original.docx"),
		DOCXTranslated: join(docxFolder, stem+"_translated.docx"),
	}
}

// EnsureOutputDirs は1文書の出力先ディレクトリをまとめて作成します
func (m *Mapper) EnsureOutputDirs(outputs models.OutputPaths) error {
	for _, p := range []string{
		outputs.ParseArchive,
		outputs.HTMLOriginal,
		outputs.PDFOriginal,
		outputs.DOCXOriginal,
	} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return nil
}
