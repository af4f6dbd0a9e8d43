package resume

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-translator/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		want models.Stage
	}{
		{
			name: "全出力あり",
			snap: Snapshot{ParseArchive: true, HTMLTranslated: true, PDFTranslated: true, DOCXTranslated: true},
			want: models.StageComplete,
		},
		{
			name: "DOCXのみ欠落",
			snap: Snapshot{ParseArchive: true, HTMLTranslated: true, PDFTranslated: true, DOCXTranslated: false},
			want: models.StageNeedsFormats,
		},
		{
			name: "PDFのみ欠落",
			snap: Snapshot{ParseArchive: true, HTMLTranslated: true, PDFTranslated: false, DOCXTranslated: true},
			want: models.StageNeedsFormats,
		},
		{
			name: "解析結果のみ",
			snap: Snapshot{ParseArchive: true},
			want: models.StageNeedsTranslation,
		},
		{
			name: "何もない",
			snap: Snapshot{},
			want: models.StageNeedsParse,
		},
		{
			// 解析結果が消えていてもHTMLがあれば形式変換だけで済む
			name: "HTMLのみ",
			snap: Snapshot{HTMLTranslated: true},
			want: models.StageNeedsFormats,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.snap))
		})
	}
}

func TestClassify_RemovingDOCXDowngradesCompleteToNeedsFormats(t *testing.T) {
	snap := Snapshot{ParseArchive: true, HTMLTranslated: true, PDFTranslated: true, DOCXTranslated: true}
	require.Equal(t, models.StageComplete, Classify(snap))

	snap.DOCXTranslated = false
	assert.Equal(t, models.StageNeedsFormats, Classify(snap))
}

func TestMissingFormats(t *testing.T) {
	snap := Snapshot{HTMLTranslated: true, PDFTranslated: true}
	assert.Equal(t, []string{"DOCX"}, MissingFormats(snap))

	snap = Snapshot{HTMLTranslated: true}
	assert.Equal(t, []string{"PDF", "DOCX"}, MissingFormats(snap))
}

func TestTakeSnapshot(t *testing.T) {
	dir := t.TempDir()

	outputs := models.OutputPaths{
		ParseArchive:   filepath.Join(dir, "doc_result.zip"),
		HTMLTranslated: filepath.Join(dir, "doc_translated.html"),
		PDFTranslated:  filepath.Join(dir, "doc_translated.pdf"),
		DOCXTranslated: filepath.Join(dir, "doc_translated.docx"),
	}

	// 解析結果だけ置く
	require.NoError(t, os.WriteFile(outputs.ParseArchive, []byte("zip"), 0644))

	snap := TakeSnapshot(outputs)
	assert.True(t, snap.ParseArchive)
	assert.False(t, snap.HTMLTranslated)
	assert.Equal(t, models.StageNeedsTranslation, Classify(snap))
}

func TestCategorize(t *testing.T) {
	dir := t.TempDir()

	mkdoc := func(name string, artifacts ...string) models.Document {
		sub := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(sub, 0755))
		outputs := models.OutputPaths{
			ParseArchive:   filepath.Join(sub, "r.zip"),
			HTMLTranslated: filepath.Join(sub, "t.html"),
			PDFTranslated:  filepath.Join(sub, "t.pdf"),
			DOCXTranslated: filepath.Join(sub, "t.docx"),
		}
		for _, a := range artifacts {
			var p string
			switch a {
			case "zip":
				p = outputs.ParseArchive
			case "html":
				p = outputs.HTMLTranslated
			case "pdf":
				p = outputs.PDFTranslated
			case "docx":
				p = outputs.DOCXTranslated
			}
			require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
		}
		return models.Document{RelativePath: name + ".pdf", Outputs: outputs}
	}

	docs := []models.Document{
		mkdoc("a", "zip", "html", "pdf", "docx"),
		mkdoc("b", "zip"),
		mkdoc("c"),
	}

	c := Categorize(docs)
	assert.Len(t, c.Completed, 1)
	assert.Len(t, c.NeedsTranslation, 1)
	assert.Len(t, c.NeedsParse, 1)
	assert.Empty(t, c.NeedsFormats)
	assert.Equal(t, 3, c.Total())
	assert.False(t, c.AllCompleted())
}
