package glossary

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestGlossary_Apply(t *testing.T) {
	g := New(map[string]string{
		"neural network":      "ニューラルネットワーク",
		"network":             "ネットワーク",
		"transformer":         "トランスフォーマー",
		"attention mechanism": "注意機構",
	})

	tests := []struct {
		name      string
		input     string
		want      string
		wantCount int
	}{
		{
			name:      "単一用語の置換",
			input:     "The transformer changed everything.",
			want:      "The トランスフォーマー changed everything.",
			wantCount: 1,
		},
		{
			name:      "長い用語が短い用語より優先される",
			input:     "A neural network is a network of neurons.",
			want:      "A ニューラルネットワーク is a ネットワーク of neurons.",
			wantCount: 2,
		},
		{
			name:      "大文字小文字を区別しない",
			input:     "Transformer models and TRANSFORMER variants.",
			want:      "トランスフォーマー models and トランスフォーマー variants.",
			wantCount: 2,
		},
		{
			name:      "単語境界を尊重する",
			input:     "networking is different",
			want:      "networking is different",
			wantCount: 0,
		},
		{
			name:      "用語なしのテキストはそのまま",
			input:     "Nothing to replace here.",
			want:      "Nothing to replace here.",
			wantCount: 0,
		},
		{
			name:      "空テキスト",
			input:     "",
			want:      "",
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, count := g.Apply(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCount, count)
		})
	}
}

func TestGlossary_ApplyProtectsURLs(t *testing.T) {
	g := New(map[string]string{
		"transformer": "トランスフォーマー",
	})

	input := "See https://example.com/transformer-paper for the transformer details."
	got, count := g.Apply(input)

	// URL内の文字列は置換されない
	assert.Equal(t, "See https://example.com/transformer-paper for the トランスフォーマー details.", got)
	assert.Equal(t, 1, count)
}

func TestGlossary_EmptyTermsAreIgnored(t *testing.T) {
	g := New(map[string]string{
		"":      "無視される",
		"valid": "",
		"term":  "用語",
	})

	assert.Equal(t, 1, g.Len())
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeGlossaryFile(t, filepath.Join(dir, "terms.xlsx"), [][]string{
		{"English", "Japanese"}, // 見出し行
		{"neural network", "ニューラルネットワーク"},
		{"transformer", "トランスフォーマー"},
		{"", "空の原語は無視"},
	})

	g, err := LoadDir(dir)
	require.NoError(t, err)

	assert.Equal(t, 2, g.Len())
	got, _ := g.Apply("a neural network")
	assert.Equal(t, "a ニューラルネットワーク", got)
}

func TestLoadDir_NoFiles(t *testing.T) {
	g, err := LoadDir(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, g.Len())
}

func writeGlossaryFile(t *testing.T, path string, rows [][]string) {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		for j, cell := range row {
			cellName, err := excelize.CoordinatesToCellName(j+1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cellName, cell))
		}
	}
	require.NoError(t, f.SaveAs(path))
}
