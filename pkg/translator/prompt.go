package translator

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/doc-translator/pkg/models"
)

const systemPrompt = "あなたは学術文書の翻訳を専門とするアシスタントです。"

// プロンプト組み立てに使うセクションマーカー
// 出力にこれらが混入した場合は品質チェックで却下する
const (
	sentinelContext = "【文書の文脈】"
	sentinelSource  = "【翻訳対象テキスト】"
)

var promptSentinels = []string{
	sentinelContext,
	sentinelSource,
}

// TokenCounter はテキストのトークン数を数えるインターフェース。
type TokenCounter interface {
	CountTokens(text string) int
}

// tokenCounter は tiktoken を利用した TokenCounter 実装。
type tokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter は cl100k_base エンコーディングのTokenCounterを作成します
func NewTokenCounter() (TokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding: %w", err)
	}
	return &tokenCounter{encoding: enc}, nil
}

func (t *tokenCounter) CountTokens(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}

// PromptBuilder は翻訳プロンプトを組み立てます
// 文脈情報はトークン予算に収まる範囲でのみ付加する
type PromptBuilder struct {
	counter     TokenCounter
	tokenBudget int
}

// NewPromptBuilder は新しいPromptBuilderを作成します
// tokenBudget が0以下の場合は文脈を常に付加する
func NewPromptBuilder(counter TokenCounter, tokenBudget int) *PromptBuilder {
	return &PromptBuilder{
		counter:     counter,
		tokenBudget: tokenBudget,
	}
}

// SystemPrompt はシステムプロンプトを返します
func (b *PromptBuilder) SystemPrompt() string {
	return systemPrompt
}

// Build は1つのWorkUnitに対するユーザープロンプトを組み立てます
func (b *PromptBuilder) Build(unit models.WorkUnit) string {
	var sb strings.Builder

	sb.WriteString("以下の英文を日本語に翻訳してください。\n")
	sb.WriteString("\n")
	sb.WriteString("要件:\n")
	sb.WriteString("1. 学術的な文体と専門用語の正確さを保つこと\n")
	sb.WriteString("2. 原文の段落構造と書式を保持すること\n")
	sb.WriteString("3. URL（http:// や https:// で始まるもの）は翻訳・変更せずそのまま残すこと\n")
	sb.WriteString("4. 翻訳結果のみを出力し、説明を加えないこと\n")
	sb.WriteString("5. 「訳文:」「翻訳:」などの接頭辞を付けないこと\n")

	ctx := b.renderContext(unit.Context)
	if ctx != "" && b.fitsWithin(unit.SourceText, ctx) {
		sb.WriteString("\n")
		sb.WriteString(sentinelContext)
		sb.WriteString("\n")
		sb.WriteString(ctx)
	}

	sb.WriteString("\n")
	sb.WriteString(sentinelSource)
	sb.WriteString("\n")
	sb.WriteString(unit.SourceText)

	return sb.String()
}

func (b *PromptBuilder) renderContext(ctx models.UnitContext) string {
	var parts []string
	if ctx.ChapterTitle != "" {
		parts = append(parts, "所属する章: "+ctx.ChapterTitle)
	}
	if ctx.PrevText != "" {
		parts = append(parts, "直前のテキスト: "+ctx.PrevText)
	}
	if ctx.NextText != "" {
		parts = append(parts, "直後のテキスト: "+ctx.NextText)
	}
	return strings.Join(parts, "\n")
}

func (b *PromptBuilder) fitsWithin(source, extra string) bool {
	if b.tokenBudget <= 0 || b.counter == nil {
		return true
	}
	return b.counter.CountTokens(source)+b.counter.CountTokens(extra) <= b.tokenBudget
}
