package translator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-translator/pkg/models"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{
			name: "同一文字列は1.0",
			a:    "machine learning",
			b:    "machine learning",
			want: 1.0,
		},
		{
			name: "空白の差は無視される",
			a:    "machine learning",
			b:    "machine  learning ",
			want: 1.0,
		},
		{
			name: "両方空は1.0",
			a:    "",
			b:    "",
			want: 1.0,
		},
		{
			name: "片方だけ空は0.0",
			a:    "abc",
			b:    "",
			want: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestSimilarity_DifferentTextsScoreLow(t *testing.T) {
	got := Similarity("The quick brown fox jumps over the lazy dog", "素早い茶色の狐が怠け者の犬を飛び越える")
	assert.Less(t, got, 0.5)
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator(0.90, 0.98)

	tests := []struct {
		name       string
		source     string
		output     string
		wantReason RejectReason
		wantOK     bool
	}{
		{
			name:   "正常な翻訳は合格",
			source: "Neural networks learn hierarchical representations of data.",
			output: "ニューラルネットワークはデータの階層的な表現を学習する。",
			wantOK: true,
		},
		{
			name:       "空出力は却下",
			source:     "Some text",
			output:     "   ",
			wantReason: RejectEmpty,
		},
		{
			name:       "セクションマーカーの混入は却下",
			source:     "Some text",
			output:     "【翻訳対象テキスト】なにかの翻訳",
			wantReason: RejectPromptLeak,
		},
		{
			name:       "ソースと同一の出力は未翻訳として却下",
			source:     "Gradient descent minimizes the loss function iteratively.",
			output:     "Gradient descent  minimizes the loss function iteratively.",
			wantReason: RejectUntranslated,
		},
		{
			name:       "異常に長い出力は却下",
			source:     "This is a short source sentence for the test.",
			output:     strings.Repeat("これはとても長い訳文です。", 40),
			wantReason: RejectAnomalousLength,
		},
		{
			name:       "冒頭のメタ発言は却下",
			source:     "Another source text to translate here.",
			output:     "Here is the translation: 別のテキスト",
			wantReason: RejectMetaLeak,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := v.Validate(tt.source, tt.output)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestValidator_ExemptSourcesSkipSimilarityCheck(t *testing.T) {
	v := NewValidator(0.90, 0.98)

	tests := []struct {
		name   string
		source string
	}{
		{name: "URLのみ", source: "https://example.com/paper.pdf"},
		{name: "メールアドレスを含む連絡先", source: "Contact: john.smith@example.edu"},
		{name: "著作権表記", source: "Copyright 2024 Example Publishing. All rights reserved."},
		{name: "既に大半が日本語", source: "これは既に日本語のテキストです (with some English)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// ソースと同一の出力でも免除により合格する
			reason, ok := v.Validate(tt.source, tt.source)
			assert.True(t, ok, "reason: %s", reason)
		})
	}
}

func TestValidator_StructuredTextRelaxesThreshold(t *testing.T) {
	v := NewValidator(0.90, 0.98)

	// URLが多い表形式テキストは変化が小さくても合格する
	source := "https://a.example.com | https://b.example.com | https://c.example.com | price table"
	output := "https://a.example.com | https://b.example.com | https://c.example.com | price 表"

	// 通常しきい値なら未翻訳として却下される類似度であることを確認しておく
	require.Greater(t, Similarity(source, output), 0.90)

	reason, ok := v.Validate(source, output)
	assert.True(t, ok, "reason: %s", reason)
}

func TestHasRepetitionLoop(t *testing.T) {
	loop := strings.Repeat("この文はまったく同じ内容を繰り返す。", 10)
	assert.True(t, hasRepetitionLoop(loop))

	normal := "ニューラルネットワークはデータの階層的な表現を学習する。勾配降下法は損失関数を反復的に最小化する。正則化は過学習を抑制するために用いられる。バッチ正規化は学習を安定させる。"
	assert.False(t, hasRepetitionLoop(normal))
}

func TestCleanOutput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "接頭辞の除去",
			input: "翻訳: こんにちは",
			want:  "こんにちは",
		},
		{
			name:  "Translation接頭辞の除去",
			input: "Translation: こんにちは",
			want:  "こんにちは",
		},
		{
			name:  "全体を囲む引用符の除去",
			input: "「こんにちは」",
			want:  "こんにちは",
		},
		{
			name:  "途中の鉤括弧は残す",
			input: "彼は「こんにちは」と言った",
			want:  "彼は「こんにちは」と言った",
		},
		{
			name:  "前後の空白の除去",
			input: "  こんにちは  ",
			want:  "こんにちは",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanOutput(tt.input))
		})
	}
}

// stubClient はスクリプト化された応答を順に返すTranslationClient
type stubClient struct {
	mu        sync.Mutex
	responses []stubResponse
	calls     []string // 呼び出しごとの使用モデル
}

type stubResponse struct {
	text string
	err  error
}

func (c *stubClient) Translate(ctx context.Context, model string, unit models.WorkUnit) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, model)
	if len(c.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp.text, resp.err
}

func newTestGate(client TranslationClient, maxAttempts, breaker int, fallbackModel string) *QualityGate {
	return NewQualityGate(client, NewValidator(0.90, 0.98), maxAttempts, breaker, "primary-model", fallbackModel, nil)
}

func TestQualityGate_AcceptsGoodTranslation(t *testing.T) {
	client := &stubClient{responses: []stubResponse{
		{text: "ニューラルネットワークはデータの階層的な表現を学習する。"},
	}}
	gate := newTestGate(client, 3, 3, "")

	unit := models.WorkUnit{
		TextID:     "page_0_task_0_text",
		SourceText: "Neural networks learn hierarchical representations of data.",
	}
	res, err := gate.TranslateWithQualityCheck(context.Background(), unit)

	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "ニューラルネットワークはデータの階層的な表現を学習する。", res.Text)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "primary-model", res.UsedModel)
}

func TestQualityGate_RetriesOnRejectionAndCleansOutput(t *testing.T) {
	client := &stubClient{responses: []stubResponse{
		{text: ""}, // empty → リトライ
		{text: "翻訳: ニューラルネットワークはデータの階層的な表現を学習する。"},
	}}
	gate := newTestGate(client, 3, 3, "")

	unit := models.WorkUnit{
		TextID:     "page_0_task_0_text",
		SourceText: "Neural networks learn hierarchical representations of data.",
	}
	res, err := gate.TranslateWithQualityCheck(context.Background(), unit)

	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "ニューラルネットワークはデータの階層的な表現を学習する。", res.Text)
	assert.Equal(t, 2, res.Attempts)
}

func TestQualityGate_SwitchesToFallbackModelOnFirstRetry(t *testing.T) {
	client := &stubClient{responses: []stubResponse{
		{text: ""}, // attempt 0: primary で却下
		{text: "ニューラルネットワークはデータの階層的な表現を学習する。"},
	}}
	gate := newTestGate(client, 3, 3, "fallback-model")

	unit := models.WorkUnit{
		TextID:     "page_0_task_0_text",
		SourceText: "Neural networks learn hierarchical representations of data.",
	}
	res, err := gate.TranslateWithQualityCheck(context.Background(), unit)

	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, []string{"primary-model", "fallback-model"}, client.calls)
	assert.Equal(t, "fallback-model", res.UsedModel)
}

func TestQualityGate_ConsecutiveUntranslatedTripsBreaker(t *testing.T) {
	source := "Gradient descent minimizes the loss function iteratively."
	client := &stubClient{responses: []stubResponse{
		{text: source},
		{text: source},
		{text: source},
		{text: source}, // 4回目は呼ばれないはず
	}}
	gate := newTestGate(client, 10, 3, "")

	unit := models.WorkUnit{TextID: "page_1_task_2_text", SourceText: source}
	res, err := gate.TranslateWithQualityCheck(context.Background(), unit)

	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, RejectUntranslated, res.Reason)
	assert.Equal(t, source, res.Text)
	// 試行予算10を残していても3回で打ち切る
	assert.Len(t, client.calls, 3)
}

func TestQualityGate_ExhaustionReturnsSourceUnchanged(t *testing.T) {
	client := &stubClient{responses: []stubResponse{
		{text: ""},
		{text: ""},
		{text: ""},
	}}
	gate := newTestGate(client, 3, 3, "")

	unit := models.WorkUnit{
		TextID:     "page_2_task_0_text",
		SourceText: "Regularization mitigates overfitting in deep models.",
	}
	res, err := gate.TranslateWithQualityCheck(context.Background(), unit)

	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, RejectEmpty, res.Reason)
	assert.Equal(t, unit.SourceText, res.Text)
	assert.Equal(t, 3, res.Attempts)
}

func TestQualityGate_TransportErrorCountsAsAttempt(t *testing.T) {
	client := &stubClient{responses: []stubResponse{
		{err: &StatusError{Code: 500}},
		{text: "ニューラルネットワークはデータの階層的な表現を学習する。"},
	}}
	gate := newTestGate(client, 3, 3, "")

	unit := models.WorkUnit{
		TextID:     "page_0_task_1_text",
		SourceText: "Neural networks learn hierarchical representations of data.",
	}
	res, err := gate.TranslateWithQualityCheck(context.Background(), unit)

	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 2, res.Attempts)
}

// panicAudit は常にパニックするAuditSink
type panicAudit struct{}

func (panicAudit) RecordAttempt(string, models.WorkUnit, int, string, RejectReason, string) {
	panic("audit sink broke")
}

func (panicAudit) RecordOutcome(string, models.WorkUnit, bool, int, string, RejectReason) {
	panic("audit sink broke")
}

func TestQualityGate_AuditPanicDoesNotAffectResult(t *testing.T) {
	client := &stubClient{responses: []stubResponse{
		{text: ""},
		{text: "ニューラルネットワークはデータの階層的な表現を学習する。"},
	}}
	gate := NewQualityGate(client, NewValidator(0.90, 0.98), 3, 3, "primary-model", "", panicAudit{})

	unit := models.WorkUnit{
		TextID:     "page_0_task_0_text",
		SourceText: "Neural networks learn hierarchical representations of data.",
	}
	res, err := gate.TranslateWithQualityCheck(context.Background(), unit)

	require.NoError(t, err)
	assert.True(t, res.Accepted)
}
