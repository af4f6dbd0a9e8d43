package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

// Converter はHTMLからPDF・DOCXを生成します
type Converter interface {
	HTMLToPDF(ctx context.Context, htmlPath, pdfPath string) error
	HTMLToDOCX(ctx context.Context, htmlPath, docxPath string) error
}

// CommandConverter は外部コマンドを使うConverter実装
// PDFはヘッドレスChromium、DOCXはpandocに委ねる
type CommandConverter struct {
	ChromiumPath string
	PandocPath   string
}

// NewCommandConverter はPATH上のコマンドを探してCommandConverterを作成します
// 見つからないコマンドのフォーマットは変換時に読み飛ばされる
func NewCommandConverter() *CommandConverter {
	c := &CommandConverter{}

	for _, name := range []string{"chromium", "chromium-browser", "google-chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			c.ChromiumPath = path
			break
		}
	}
	if path, err := exec.LookPath("pandoc"); err == nil {
		c.PandocPath = path
	}

	if c.ChromiumPath == "" {
		slog.Warn("Chromiumが見つかりません。PDF生成はスキップされます")
	}
	if c.PandocPath == "" {
		slog.Warn("pandocが見つかりません。DOCX生成はスキップされます")
	}
	return c
}

// ErrConverterUnavailable は変換コマンドが利用できない場合のエラー
var ErrConverterUnavailable = fmt.Errorf("converter command not available")

// HTMLToPDF はHTMLファイルをPDFへ変換します
func (c *CommandConverter) HTMLToPDF(ctx context.Context, htmlPath, pdfPath string) error {
	if c.ChromiumPath == "" {
		return ErrConverterUnavailable
	}

	if err := os.MkdirAll(filepath.Dir(pdfPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	absHTML, err := filepath.Abs(htmlPath)
	if err != nil {
		return fmt.Errorf("failed to resolve html path: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.ChromiumPath,
		"--headless",
		"--disable-gpu",
		"--no-sandbox",
		"--print-to-pdf="+pdfPath,
		"file://"+absHTML,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pdf conversion failed: %w: %s", err, string(out))
	}
	return nil
}

// HTMLToDOCX はHTMLファイルをDOCXへ変換します
func (c *CommandConverter) HTMLToDOCX(ctx context.Context, htmlPath, docxPath string) error {
	if c.PandocPath == "" {
		return ErrConverterUnavailable
	}

	if err := os.MkdirAll(filepath.Dir(docxPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.PandocPath, htmlPath, "-o", docxPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("docx conversion failed: %w: %s", err, string(out))
	}
	return nil
}

var _ Converter = (*CommandConverter)(nil)
