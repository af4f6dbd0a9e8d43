package translator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/jinford/doc-translator/pkg/models"
)

// RejectReason は品質チェックによる却下理由
type RejectReason string

const (
	RejectEmpty           RejectReason = "empty"
	RejectPromptLeak      RejectReason = "prompt_leak"
	RejectUntranslated    RejectReason = "untranslated"
	RejectAnomalousLength RejectReason = "anomalous_length"
	RejectRepetitionLoop  RejectReason = "repetition_loop"
	RejectMetaLeak        RejectReason = "meta_leak"
	RejectTransport       RejectReason = "transport_error"
)

var (
	urlRe      = regexp.MustCompile(`https?://[^\s]+|www\.[^\s]+`)
	emailRe    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe    = regexp.MustCompile(`\+?\d[\d\-\s()]{7,}\d`)
	currencyRe = regexp.MustCompile(`[$¥€£]`)
)

// 出力の冒頭に現れたら却下するメタ発言フレーズ
var metaPhrases = []string{
	"here is the translation",
	"here's the translation",
	"sure, here",
	"certainly",
	"以下が翻訳",
	"以下は翻訳",
	"翻訳結果は",
	"翻訳します",
}

// Validator は翻訳結果に対するヒューリスティック検証を行います
type Validator struct {
	similarityThreshold       float64
	structuredSimThreshold    float64
	sentinels                 []string
	targetLanguageRatio       float64
	isTargetLanguageCharacter func(r rune) bool
}

// NewValidator は新しいValidatorを作成します
// similarityThreshold は通常テキストの未翻訳判定しきい値、
// structuredSimThreshold は表形式・構造化テキスト用の緩和しきい値
func NewValidator(similarityThreshold, structuredSimThreshold float64) *Validator {
	if similarityThreshold <= 0 {
		similarityThreshold = 0.90
	}
	if structuredSimThreshold <= 0 {
		structuredSimThreshold = 0.98
	}
	return &Validator{
		similarityThreshold:       similarityThreshold,
		structuredSimThreshold:    structuredSimThreshold,
		sentinels:                 promptSentinels,
		targetLanguageRatio:       0.3,
		isTargetLanguageCharacter: isJapaneseChar,
	}
}

// Validate はヒューリスティックを定義順に適用し、最初に失敗した理由を返します
// 2値目は合格かどうか
func (v *Validator) Validate(source, output string) (RejectReason, bool) {
	if strings.TrimSpace(output) == "" {
		return RejectEmpty, false
	}

	lowerOut := strings.ToLower(output)
	for _, s := range v.sentinels {
		if strings.Contains(lowerOut, strings.ToLower(s)) {
			return RejectPromptLeak, false
		}
	}

	if !v.isExemptSource(source) {
		threshold := v.similarityThreshold
		if isStructuredText(source) {
			threshold = v.structuredSimThreshold
		}
		if Similarity(source, output) > threshold {
			return RejectUntranslated, false
		}
	}

	srcLen := len([]rune(source))
	outLen := len([]rune(output))
	ratio := 5
	if srcLen < 20 {
		ratio = 10
	}
	if srcLen > 0 && outLen > srcLen*ratio {
		return RejectAnomalousLength, false
	}

	if !isStructuredText(source) && hasRepetitionLoop(output) {
		return RejectRepetitionLoop, false
	}

	head := firstRunes(lowerOut, 50)
	for _, phrase := range metaPhrases {
		if strings.Contains(head, phrase) {
			return RejectMetaLeak, false
		}
	}

	return "", true
}

// isExemptSource は類似度チェックを免除すべきソースかどうかを判定します
// URLのみ・連絡先・著作権表記・既に大半が対象言語のテキストが対象
func (v *Validator) isExemptSource(source string) bool {
	trimmed := strings.TrimSpace(source)

	stripped := strings.TrimSpace(urlRe.ReplaceAllString(trimmed, ""))
	if stripped == "" && trimmed != "" {
		return true
	}

	if emailRe.MatchString(trimmed) || phoneRe.MatchString(trimmed) {
		return true
	}

	lower := strings.ToLower(trimmed)
	if strings.Contains(lower, "copyright") || strings.ContainsRune(trimmed, '©') {
		return true
	}

	return v.targetLanguageCharRatio(trimmed) > v.targetLanguageRatio
}

func (v *Validator) targetLanguageCharRatio(s string) float64 {
	total := 0
	target := 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if v.isTargetLanguageCharacter(r) {
			target++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(target) / float64(total)
}

func isJapaneseChar(r rune) bool {
	return unicode.In(r, unicode.Hiragana, unicode.Katakana, unicode.Han)
}

// isStructuredText は表形式・構造化らしいテキストかどうかを判定します
// メールアドレス、URL、通貨記号が多いテキストは翻訳で変化が小さいため
// 類似度しきい値を緩和し、反復検出をスキップする
func isStructuredText(s string) bool {
	if strings.Count(s, "@") >= 3 {
		return true
	}
	if len(urlRe.FindAllString(s, 4)) >= 3 {
		return true
	}
	if len(currencyRe.FindAllString(s, 4)) >= 3 {
		return true
	}
	return false
}

// hasRepetitionLoop は先頭200文字以内で同じ部分文字列が3回以上
// 出現するかを長さ20/30/50の窓で調べます
// モデルの出力ループ検出が目的
func hasRepetitionLoop(s string) bool {
	window := firstRunes(s, 200)
	runes := []rune(window)

	for _, size := range []int{20, 30, 50} {
		if len(runes) < size*3 {
			continue
		}
		for i := 0; i+size <= len(runes); i++ {
			sub := string(runes[i : i+size])
			if strings.Count(window, sub) >= 3 {
				return true
			}
		}
	}
	return false
}

func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// TranslationClient は1回の翻訳呼び出しを行うクライアント
type TranslationClient interface {
	Translate(ctx context.Context, model string, unit models.WorkUnit) (string, error)
}

// AuditSink は品質チェックの試行と結果を記録するシンク
// 実装は決して翻訳処理を失敗させてはならない
type AuditSink interface {
	RecordAttempt(requestID string, unit models.WorkUnit, attempt int, model string, reason RejectReason, output string)
	RecordOutcome(requestID string, unit models.WorkUnit, accepted bool, attempts int, model string, reason RejectReason)
}

// GateResult は品質チェック付き翻訳の最終結果
type GateResult struct {
	// Text は採用されたテキスト。不合格時はソースをそのまま返す
	Text      string
	Accepted  bool
	Reason    RejectReason
	Attempts  int
	UsedModel string
}

// QualityGate は翻訳呼び出しをヒューリスティック検証付きの
// 有限リトライループで包みます
type QualityGate struct {
	client           TranslationClient
	validator        *Validator
	maxAttempts      int
	breakerThreshold int
	primaryModel     string
	fallbackModel    string
	audit            AuditSink
}

// NewQualityGate は新しいQualityGateを作成します
// fallbackModel が空の場合、モデル切り替えは行わない
func NewQualityGate(client TranslationClient, validator *Validator, maxAttempts, breakerThreshold int, primaryModel, fallbackModel string, audit AuditSink) *QualityGate {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if breakerThreshold < 1 {
		breakerThreshold = 3
	}
	return &QualityGate{
		client:           client,
		validator:        validator,
		maxAttempts:      maxAttempts,
		breakerThreshold: breakerThreshold,
		primaryModel:     primaryModel,
		fallbackModel:    fallbackModel,
		audit:            audit,
	}
}

// TranslateWithQualityCheck は1つのWorkUnitを品質チェック付きで翻訳します
// 試行回数を使い切るか未翻訳ブレーカーが作動した場合は
// ソーステキストをそのまま返す（呼び出し側で失敗として記録する）
// エラーを返すのはコンテキストのキャンセル時のみ
func (g *QualityGate) TranslateWithQualityCheck(ctx context.Context, unit models.WorkUnit) (GateResult, error) {
	requestID := uuid.NewString()
	model := g.primaryModel

	consecutiveUntranslated := 0
	var lastReason RejectReason

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return GateResult{}, err
		}

		// 最初のリトライでフォールバックモデルへ切り替える
		// 却下理由にかかわらず attempt 1 で切り替わる挙動を維持している
		if attempt == 1 && g.fallbackModel != "" {
			model = g.fallbackModel
			slog.Info("フォールバックモデルに切り替えます",
				slog.String("text_id", unit.TextID),
				slog.String("model", model),
			)
		}

		output, err := g.client.Translate(ctx, model, unit)
		if err != nil {
			if ctx.Err() != nil {
				return GateResult{}, ctx.Err()
			}
			lastReason = RejectTransport
			consecutiveUntranslated = 0
			g.recordAttempt(requestID, unit, attempt, model, RejectTransport, fmt.Sprintf("error: %v", err))
			continue
		}

		cleaned := CleanOutput(output)

		reason, ok := g.validator.Validate(unit.SourceText, cleaned)
		if ok {
			g.recordOutcome(requestID, unit, true, attempt+1, model, "")
			return GateResult{
				Text:      cleaned,
				Accepted:  true,
				Attempts:  attempt + 1,
				UsedModel: model,
			}, nil
		}

		lastReason = reason
		g.recordAttempt(requestID, unit, attempt, model, reason, cleaned)

		if reason == RejectUntranslated {
			consecutiveUntranslated++
			if consecutiveUntranslated >= g.breakerThreshold {
				// 同一ユニットで未翻訳が続く場合、翻訳不能なソースと
				// みなして試行予算を残していても即座に打ち切る
				slog.Warn("未翻訳が連続したため打ち切ります",
					slog.String("text_id", unit.TextID),
					slog.Int("consecutive", consecutiveUntranslated),
				)
				g.recordOutcome(requestID, unit, false, attempt+1, model, reason)
				return GateResult{
					Text:      unit.SourceText,
					Accepted:  false,
					Reason:    reason,
					Attempts:  attempt + 1,
					UsedModel: model,
				}, nil
			}
		} else {
			consecutiveUntranslated = 0
		}
	}

	g.recordOutcome(requestID, unit, false, g.maxAttempts, model, lastReason)
	return GateResult{
		Text:      unit.SourceText,
		Accepted:  false,
		Reason:    lastReason,
		Attempts:  g.maxAttempts,
		UsedModel: model,
	}, nil
}

func (g *QualityGate) recordAttempt(requestID string, unit models.WorkUnit, attempt int, model string, reason RejectReason, output string) {
	if g.audit == nil {
		return
	}
	defer func() { _ = recover() }()
	g.audit.RecordAttempt(requestID, unit, attempt, model, reason, output)
}

func (g *QualityGate) recordOutcome(requestID string, unit models.WorkUnit, accepted bool, attempts int, model string, reason RejectReason) {
	if g.audit == nil {
		return
	}
	defer func() { _ = recover() }()
	g.audit.RecordOutcome(requestID, unit, accepted, attempts, model, reason)
}
