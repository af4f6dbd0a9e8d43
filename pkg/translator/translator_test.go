package translator

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-translator/pkg/models"
)

// echoClient はソースに応じた決め打ちの訳文を返すTranslationClient
type echoClient struct {
	translations map[string]string
}

func (c *echoClient) Translate(ctx context.Context, model string, unit models.WorkUnit) (string, error) {
	if text, ok := c.translations[unit.TextID]; ok {
		return text, nil
	}
	return "", fmt.Errorf("unknown unit: %s", unit.TextID)
}

func newTestBatchTranslator(client TranslationClient, failureLog *FailureLog) *BatchTranslator {
	admission := NewAdmissionController(AdmissionConfig{
		Initial:          4,
		Min:              1,
		Max:              8,
		Backoff:          0.5,
		Growth:           1.2,
		SuccessThreshold: 0.95,
		MinSamples:       20,
		IncreaseInterval: 30 * time.Second,
	})
	gate := NewQualityGate(client, NewValidator(0.90, 0.98), 3, 3, "primary-model", "", nil)
	return NewBatchTranslator(gate, admission, failureLog)
}

func TestBatchTranslator_PreservesUnitOrder(t *testing.T) {
	client := &echoClient{translations: map[string]string{
		"page_0_task_0_text": "一つ目の訳文です。",
		"page_0_task_1_text": "二つ目の訳文です。",
		"page_1_task_0_text": "三つ目の訳文です。",
	}}
	bt := newTestBatchTranslator(client, nil)

	units := []models.WorkUnit{
		{TextID: "page_0_task_0_text", SourceText: "The first sentence of the document."},
		{TextID: "page_0_task_1_text", SourceText: "The second sentence of the document."},
		{TextID: "page_1_task_0_text", SourceText: "The third sentence of the document."},
	}
	results, err := bt.TranslateUnits(context.Background(), units)

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "一つ目の訳文です。", results[0].Text)
	assert.Equal(t, "二つ目の訳文です。", results[1].Text)
	assert.Equal(t, "三つ目の訳文です。", results[2].Text)
	for _, r := range results {
		assert.True(t, r.Accepted)
	}
}

func TestBatchTranslator_FailedUnitsPassThroughAndHitFailureLog(t *testing.T) {
	client := &echoClient{translations: map[string]string{
		"page_0_task_0_text": "正常に翻訳された文です。",
		// page_0_task_1_text は応答なし（transport error扱い）
	}}
	logPath := filepath.Join(t.TempDir(), "total_issue_files.jsonl")
	failureLog := NewFailureLog(logPath)
	bt := newTestBatchTranslator(client, failureLog).ForDocument("papers/attention.pdf")

	units := []models.WorkUnit{
		{TextID: "page_0_task_0_text", SourceText: "A sentence that translates fine."},
		{TextID: "page_0_task_1_text", SourceText: "A sentence that always fails."},
	}
	results, err := bt.TranslateUnits(context.Background(), units)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Accepted)
	assert.False(t, results[1].Accepted)
	// 不合格ユニットはソースをそのまま返す
	assert.Equal(t, "A sentence that always fails.", results[1].Text)
	assert.Equal(t, 1, FailedCount(results))

	records, err := failureLog.Load()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "page_0_task_1_text", records[0].TextID)
	assert.Equal(t, "papers/attention.pdf", records[0].Document)
	assert.Equal(t, 3, records[0].Attempts)
}

func TestBatchTranslator_EmptyInput(t *testing.T) {
	bt := newTestBatchTranslator(&echoClient{}, nil)

	results, err := bt.TranslateUnits(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAcceptedTextIDs(t *testing.T) {
	results := []UnitResult{
		{Unit: models.WorkUnit{TextID: "page_0_task_0_text"}, Accepted: true},
		{Unit: models.WorkUnit{TextID: "page_0_task_1_text"}, Accepted: false},
		{Unit: models.WorkUnit{TextID: "page_1_task_0_text"}, Accepted: true},
	}

	ids := AcceptedTextIDs(results)
	assert.Equal(t, map[string]struct{}{
		"page_0_task_0_text": {},
		"page_1_task_0_text": {},
	}, ids)
}

func TestWithAdmissionReporting(t *testing.T) {
	admission := NewAdmissionController(AdmissionConfig{
		Initial:          8,
		Min:              1,
		Max:              16,
		Backoff:          0.5,
		Growth:           1.2,
		SuccessThreshold: 0.95,
		MinSamples:       20,
		IncreaseInterval: 30 * time.Second,
	})
	client := &stubClient{responses: []stubResponse{
		{err: &StatusError{Code: 429}},
		{text: "訳文"},
	}}
	reporting := WithAdmissionReporting(client, admission)

	_, err := reporting.Translate(context.Background(), "primary-model", models.WorkUnit{TextID: "u1"})
	require.Error(t, err)
	// 429で即座に半減する
	assert.Equal(t, 4, admission.CurrentLimit())

	_, err = reporting.Translate(context.Background(), "primary-model", models.WorkUnit{TextID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 4, admission.CurrentLimit())
}
