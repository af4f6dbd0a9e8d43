package render

import (
	"fmt"
	"html/template"
	"sort"
	"strings"

	"github.com/jinford/doc-translator/pkg/parser"
)

// Language はHTMLに描画する言語面
type Language string

const (
	// LanguageOriginal は原文
	LanguageOriginal Language = "original"
	// LanguageTranslated は訳文
	LanguageTranslated Language = "translated"
)

const pageTemplate = `<!DOCTYPE html>
<html lang="{{.LangCode}}">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: "Hiragino Sans", "Noto Sans JP", sans-serif; max-width: 860px; margin: 0 auto; padding: 2rem; line-height: 1.8; }
section.page { border-bottom: 1px dashed #ccc; padding: 1rem 0; }
.page-label { color: #999; font-size: 0.8rem; text-align: right; }
h1, h2, h3, h4 { line-height: 1.4; }
table { border-collapse: collapse; margin: 1rem 0; }
table, th, td { border: 1px solid #999; padding: 0.3rem 0.6rem; }
figure { margin: 1rem 0; text-align: center; }
figcaption { color: #555; font-size: 0.9rem; }
.footnote { color: #555; font-size: 0.85rem; border-left: 3px solid #ccc; padding-left: 0.8rem; }
pre { background: #f5f5f5; padding: 0.8rem; overflow-x: auto; }
</style>
</head>
<body>
{{- range .Pages}}
<section class="page">
<div class="page-label">p. {{.Number}}</div>
{{- range .Blocks}}
{{- if eq .Kind "heading"}}
{{.HTML}}
{{- else if eq .Kind "paragraph"}}
<p>{{.Text}}</p>
{{- else if eq .Kind "footnote"}}
<p class="footnote">{{.Text}}</p>
{{- else if eq .Kind "list"}}
<ul>
{{- range .Items}}
<li>{{.}}</li>
{{- end}}
</ul>
{{- else if eq .Kind "table"}}
<figure>
{{- if .Caption}}<figcaption>{{.Caption}}</figcaption>{{end}}
{{.HTML}}
</figure>
{{- else if eq .Kind "image"}}
<figure>
{{- if .ImgPath}}<img src="{{.ImgPath}}" alt="{{.Caption}}">{{end}}
{{- if .Caption}}<figcaption>{{.Caption}}</figcaption>{{end}}
{{- if .Footnote}}<figcaption class="footnote">{{.Footnote}}</figcaption>{{end}}
</figure>
{{- else if eq .Kind "code"}}
<pre>{{.Text}}</pre>
{{- end}}
{{- end}}
</section>
{{- end}}
</body>
</html>
`

type documentView struct {
	Title    string
	LangCode string
	Pages    []pageView
}

type pageView struct {
	Number int
	Blocks []blockView
}

type blockView struct {
	Kind     string
	Level    int
	Text     string
	Items    []string
	HTML     template.HTML
	Caption  string
	Footnote string
	ImgPath  string
}

// Renderer はコンテンツリストからHTMLを生成します
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer は新しいRendererを作成します
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("page").Parse(pageTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render はコンテンツリストを指定した言語面のHTMLへ描画します
// 訳文面で訳が入っていない項目は原文で埋める
func (r *Renderer) Render(title string, items []parser.ContentItem, lang Language) (string, error) {
	view := documentView{
		Title:    title,
		LangCode: "en",
		Pages:    buildPages(items, lang),
	}
	if lang == LanguageTranslated {
		view.LangCode = "ja"
	}

	var sb strings.Builder
	if err := r.tmpl.Execute(&sb, view); err != nil {
		return "", fmt.Errorf("failed to render html: %w", err)
	}
	return sb.String(), nil
}

func buildPages(items []parser.ContentItem, lang Language) []pageView {
	grouped := make(map[int][]blockView)
	for _, item := range items {
		block, ok := buildBlock(item, lang)
		if !ok {
			continue
		}
		grouped[item.PageIdx] = append(grouped[item.PageIdx], block)
	}

	pageNumbers := make([]int, 0, len(grouped))
	for page := range grouped {
		pageNumbers = append(pageNumbers, page)
	}
	sort.Ints(pageNumbers)

	pages := make([]pageView, 0, len(pageNumbers))
	for _, page := range pageNumbers {
		pages = append(pages, pageView{
			Number: page + 1,
			Blocks: grouped[page],
		})
	}
	return pages
}

func buildBlock(item parser.ContentItem, lang Language) (blockView, bool) {
	translated := lang == LanguageTranslated

	pick := func(original, japanese string) string {
		if translated && japanese != "" {
			return japanese
		}
		return original
	}

	switch item.Type {
	case "text":
		text := pick(item.Text, item.TextJa)
		if text == "" {
			return blockView{}, false
		}
		if item.TextLevel > 0 {
			level := item.TextLevel
			if level > 4 {
				level = 4
			}
			// 見出しレベルが動的なためタグごと組み立てる
			heading := fmt.Sprintf("<h%d>%s</h%d>", level, template.HTMLEscapeString(text), level)
			return blockView{Kind: "heading", Level: level, HTML: template.HTML(heading)}, true
		}
		return blockView{Kind: "paragraph", Text: text}, true

	case "page_footnote":
		text := pick(item.Text, item.TextJa)
		if text == "" {
			return blockView{}, false
		}
		return blockView{Kind: "footnote", Text: text}, true

	case "list":
		items := item.ListItems
		if translated && len(item.ListItemsJa) == len(item.ListItems) {
			items = item.ListItemsJa
		}
		if len(items) == 0 {
			return blockView{}, false
		}
		return blockView{Kind: "list", Items: items}, true

	case "table":
		body := pick(item.TableBody, item.TableBodyJa)
		if body == "" {
			return blockView{}, false
		}
		return blockView{
			Kind:    "table",
			Caption: pick(item.TableCaption.Join(), item.TableCaptionJa),
			HTML:    template.HTML(body),
		}, true

	case "image":
		if item.ImgPath == "" && len(item.ImageCaption) == 0 {
			return blockView{}, false
		}
		return blockView{
			Kind:     "image",
			ImgPath:  item.ImgPath,
			Caption:  pick(item.ImageCaption.Join(), item.ImageCaptionJa),
			Footnote: pick(item.ImageFootnote.Join(), item.ImageFootnoteJa),
		}, true

	case "ref_text":
		if item.Text == "" {
			return blockView{}, false
		}
		// 参考文献は翻訳対象外なので常に原文のまま
		return blockView{Kind: "paragraph", Text: item.Text}, true

	case "code":
		if item.Text == "" {
			return blockView{}, false
		}
		return blockView{Kind: "code", Text: item.Text}, true
	}

	return blockView{}, false
}
