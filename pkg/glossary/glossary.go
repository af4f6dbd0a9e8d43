package glossary

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Glossary は原文に適用する用語集です
// 翻訳前に既知の用語を対訳語へ置き換えることで訳語のブレを防ぐ
type Glossary struct {
	terms map[string]string

	// 長い用語から先に適用する整列済みの置換規則
	rules []rule

	wholeWordOnly bool
	caseSensitive bool
}

type rule struct {
	re     *regexp.Regexp
	target string
}

// Option はGlossaryの挙動を調整します
type Option func(*Glossary)

// WithPartialMatch は単語境界を無視した部分一致置換を有効にします
func WithPartialMatch() Option {
	return func(g *Glossary) { g.wholeWordOnly = false }
}

// WithCaseSensitive は大文字小文字を区別した一致を有効にします
func WithCaseSensitive() Option {
	return func(g *Glossary) { g.caseSensitive = true }
}

// New は用語マップからGlossaryを作成します
func New(terms map[string]string, opts ...Option) *Glossary {
	g := &Glossary{
		terms:         make(map[string]string, len(terms)),
		wholeWordOnly: true,
		caseSensitive: false,
	}
	for _, opt := range opts {
		opt(g)
	}

	for source, target := range terms {
		source = strings.TrimSpace(source)
		target = strings.TrimSpace(target)
		if source == "" || target == "" {
			continue
		}
		g.terms[source] = target
	}

	sortedTerms := make([]string, 0, len(g.terms))
	for term := range g.terms {
		sortedTerms = append(sortedTerms, term)
	}
	// 長い用語を先に置換して短い用語による誤置換を防ぐ
	sort.Slice(sortedTerms, func(i, j int) bool {
		if len(sortedTerms[i]) != len(sortedTerms[j]) {
			return len(sortedTerms[i]) > len(sortedTerms[j])
		}
		return sortedTerms[i] < sortedTerms[j]
	})

	g.rules = make([]rule, 0, len(sortedTerms))
	for _, term := range sortedTerms {
		re, err := g.termPattern(term)
		if err != nil {
			continue
		}
		g.rules = append(g.rules, rule{re: re, target: g.terms[term]})
	}

	return g
}

// LoadDir はディレクトリ内の全Excelファイルから用語集を読み込みます
// 各シートの1列目を原語、2列目を対訳語とみなし、1行目は見出しとして読み飛ばす
// 壊れたファイルは警告を出して読み飛ばす
func LoadDir(dir string, opts ...Option) (*Glossary, error) {
	entries, err := filepath.Glob(filepath.Join(dir, "*.xlsx"))
	if err != nil {
		return nil, fmt.Errorf("failed to list glossary files: %w", err)
	}

	terms := make(map[string]string)
	for _, path := range entries {
		if err := loadFile(path, terms); err != nil {
			slog.Warn("用語集ファイルを読み飛ばします",
				slog.String("file", filepath.Base(path)),
				slog.String("error", err.Error()),
			)
		}
	}

	slog.Info("用語集を読み込みました",
		slog.Int("files", len(entries)),
		slog.Int("terms", len(terms)),
	)
	return New(terms, opts...), nil
}

func loadFile(path string, terms map[string]string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("failed to open excel file: %w", err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		if len(rows) <= 1 {
			continue
		}
		// 1行目は見出し
		for _, row := range rows[1:] {
			if len(row) < 2 {
				continue
			}
			source := strings.TrimSpace(row[0])
			target := strings.TrimSpace(row[1])
			if source == "" || target == "" {
				continue
			}
			terms[source] = target
		}
	}
	return nil
}

// Len は登録されている用語数を返します
func (g *Glossary) Len() int {
	return len(g.terms)
}

var urlProtectRe = regexp.MustCompile(`https?://[^\s<>"]+`)

// Apply はテキスト中の用語を対訳語へ置き換え、置換後のテキストと置換回数を返します
// URLはプレースホルダーで保護し、URL内の文字列が置換されないようにする
func (g *Glossary) Apply(text string) (string, int) {
	if len(g.terms) == 0 || text == "" {
		return text, 0
	}

	// URLを一時的に退避する
	urls := urlProtectRe.FindAllString(text, -1)
	sort.Slice(urls, func(i, j int) bool { return len(urls[i]) > len(urls[j]) })
	placeholders := make(map[string]string, len(urls))
	modified := text
	for i, url := range urls {
		placeholder := fmt.Sprintf("__URL_PLACEHOLDER_%d__", i)
		placeholders[placeholder] = url
		modified = strings.ReplaceAll(modified, url, placeholder)
	}

	count := 0
	for _, r := range g.rules {
		matches := r.re.FindAllStringIndex(modified, -1)
		if len(matches) == 0 {
			continue
		}
		modified = r.re.ReplaceAllLiteralString(modified, r.target)
		count += len(matches)
	}

	for placeholder, url := range placeholders {
		modified = strings.ReplaceAll(modified, placeholder, url)
	}

	return modified, count
}

func (g *Glossary) termPattern(term string) (*regexp.Regexp, error) {
	pattern := regexp.QuoteMeta(term)
	if g.wholeWordOnly {
		pattern = `\b` + pattern + `\b`
	}
	if !g.caseSensitive {
		pattern = `(?i)` + pattern
	}
	return regexp.Compile(pattern)
}
