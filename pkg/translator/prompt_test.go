package translator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-translator/pkg/models"
)

// runeCounter はテスト用の簡易TokenCounter
type runeCounter struct{}

func (runeCounter) CountTokens(text string) int {
	return len([]rune(text))
}

func TestPromptBuilder_BuildContainsSourceText(t *testing.T) {
	b := NewPromptBuilder(runeCounter{}, 0)

	prompt := b.Build(models.WorkUnit{SourceText: "Attention is all you need."})

	assert.Contains(t, prompt, sentinelSource)
	assert.Contains(t, prompt, "Attention is all you need.")
	assert.NotContains(t, prompt, sentinelContext)
}

func TestPromptBuilder_BuildIncludesContextWithinBudget(t *testing.T) {
	b := NewPromptBuilder(runeCounter{}, 1000)

	prompt := b.Build(models.WorkUnit{
		SourceText: "We propose a new architecture.",
		Context: models.UnitContext{
			ChapterTitle: "Model Architecture",
			PrevText:     "Previous sentence.",
			NextText:     "Next sentence.",
		},
	})

	assert.Contains(t, prompt, sentinelContext)
	assert.Contains(t, prompt, "Model Architecture")
	assert.Contains(t, prompt, "Previous sentence.")
	assert.Contains(t, prompt, "Next sentence.")

	// 文脈セクションは翻訳対象より前に来る
	require.Less(t, strings.Index(prompt, sentinelContext), strings.Index(prompt, sentinelSource))
}

func TestPromptBuilder_ContextDroppedWhenOverBudget(t *testing.T) {
	b := NewPromptBuilder(runeCounter{}, 40)

	prompt := b.Build(models.WorkUnit{
		SourceText: "Short source.",
		Context: models.UnitContext{
			PrevText: strings.Repeat("long preceding text ", 50),
		},
	})

	// 文脈を落としても翻訳対象は必ず残る
	assert.NotContains(t, prompt, sentinelContext)
	assert.Contains(t, prompt, "Short source.")
}

func TestPromptBuilder_EmptyContextOmitsSection(t *testing.T) {
	b := NewPromptBuilder(runeCounter{}, 1000)

	prompt := b.Build(models.WorkUnit{SourceText: "Text without context."})
	assert.NotContains(t, prompt, sentinelContext)
}
