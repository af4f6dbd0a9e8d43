package translator

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jinford/doc-translator/pkg/models"
)

// AuditRecord は品質チェックの1試行または最終結果のログレコードです
type AuditRecord struct {
	// Timestamp は記録時刻
	Timestamp time.Time `json:"timestamp"`
	// RequestID は品質チェック1回分を紐付けるID
	RequestID string `json:"request_id"`
	// TextID は対象WorkUnitのID
	TextID string `json:"text_id"`
	// Event は attempt / outcome のいずれか
	Event string `json:"event"`
	// Attempt は試行番号（0始まり、outcomeでは総試行回数）
	Attempt int `json:"attempt"`
	// Model は使用したモデル名
	Model string `json:"model"`
	// Accepted は最終結果が合格だったか（outcomeのみ）
	Accepted bool `json:"accepted"`
	// Reason は却下理由
	Reason string `json:"reason,omitempty"`
	// Output は却下された出力の先頭部分
	Output string `json:"output,omitempty"`
	// SourceText はソーステキストの先頭部分
	SourceText string `json:"source_text,omitempty"`
}

// AuditLog は品質チェックの監査ログをJSONLで記録します
// 書き込み失敗は警告を出すだけで翻訳処理には影響させない
type AuditLog struct {
	logFile  *os.File
	logMutex sync.Mutex
	enabled  bool
}

// NewAuditLog は新しいAuditLogを作成します
// logDir が空の場合、記録は無効化される
func NewAuditLog(logDir string) (*AuditLog, error) {
	if logDir == "" {
		return &AuditLog{enabled: false}, nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// 日付でローテーション
	logFileName := fmt.Sprintf("quality_audit_%s.jsonl", time.Now().Format("2006-01-02"))
	logFilePath := filepath.Join(logDir, logFileName)

	logFile, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &AuditLog{
		logFile: logFile,
		enabled: true,
	}, nil
}

// Close はログファイルを閉じます
func (a *AuditLog) Close() error {
	if a.logFile != nil {
		return a.logFile.Close()
	}
	return nil
}

// RecordAttempt は却下された1試行を記録します
func (a *AuditLog) RecordAttempt(requestID string, unit models.WorkUnit, attempt int, model string, reason RejectReason, output string) {
	a.write(AuditRecord{
		Timestamp:  time.Now(),
		RequestID:  requestID,
		TextID:     unit.TextID,
		Event:      "attempt",
		Attempt:    attempt,
		Model:      model,
		Reason:     string(reason),
		Output:     truncateString(output, 500),
		SourceText: truncateString(unit.SourceText, 200),
	})
}

// RecordOutcome は品質チェックの最終結果を記録します
func (a *AuditLog) RecordOutcome(requestID string, unit models.WorkUnit, accepted bool, attempts int, model string, reason RejectReason) {
	a.write(AuditRecord{
		Timestamp: time.Now(),
		RequestID: requestID,
		TextID:    unit.TextID,
		Event:     "outcome",
		Attempt:   attempts,
		Model:     model,
		Accepted:  accepted,
		Reason:    string(reason),
	})
}

func (a *AuditLog) write(record AuditRecord) {
	if !a.enabled {
		return
	}

	a.logMutex.Lock()
	defer a.logMutex.Unlock()

	jsonBytes, err := json.Marshal(record)
	if err != nil {
		slog.Warn("監査レコードのシリアライズに失敗しました", slog.String("error", err.Error()))
		return
	}

	if _, err := a.logFile.Write(append(jsonBytes, '\n')); err != nil {
		slog.Warn("監査ログの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}

// truncateString は文字列を指定された長さに切り詰めます（ログ記録用）
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}

// FailureLog は翻訳に失敗したテキストの台帳です
// 実行をまたいで蓄積し、後続の実行で成功したエントリは書き直しで取り除く
type FailureLog struct {
	path string
	mu   sync.Mutex
}

// NewFailureLog は新しいFailureLogを作成します
func NewFailureLog(path string) *FailureLog {
	return &FailureLog{path: path}
}

// Append は失敗レコードを追記します
func (f *FailureLog) Append(record models.FailedTextRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open failure log: %w", err)
	}
	defer file.Close()

	jsonBytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal failure record: %w", err)
	}

	if _, err := file.Write(append(jsonBytes, '\n')); err != nil {
		return fmt.Errorf("failed to write failure log: %w", err)
	}
	return nil
}

// Load は台帳の全レコードを読み込みます
// 壊れた行は警告を出して読み飛ばす
func (f *FailureLog) Load() ([]models.FailedTextRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.loadLocked()
}

func (f *FailureLog) loadLocked() ([]models.FailedTextRecord, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open failure log: %w", err)
	}
	defer file.Close()

	var records []models.FailedTextRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record models.FailedTextRecord
		if err := json.Unmarshal(line, &record); err != nil {
			slog.Warn("失敗台帳の行を読み飛ばします", slog.String("error", err.Error()))
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read failure log: %w", err)
	}
	return records, nil
}

// RemoveSucceeded は後続の実行で成功したテキストIDのレコードを取り除き、
// 台帳を書き直します
func (f *FailureLog) RemoveSucceeded(succeededTextIDs map[string]struct{}) error {
	if len(succeededTextIDs) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.loadLocked()
	if err != nil {
		return err
	}

	kept := records[:0]
	for _, record := range records {
		if _, ok := succeededTextIDs[record.TextID]; ok {
			continue
		}
		kept = append(kept, record)
	}
	if len(kept) == len(records) {
		return nil
	}

	tmpPath := f.path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp failure log: %w", err)
	}

	writer := bufio.NewWriter(file)
	for _, record := range kept {
		jsonBytes, err := json.Marshal(record)
		if err != nil {
			file.Close()
			return fmt.Errorf("failed to marshal failure record: %w", err)
		}
		if _, err := writer.Write(append(jsonBytes, '\n')); err != nil {
			file.Close()
			return fmt.Errorf("failed to write failure log: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("failed to flush failure log: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close failure log: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("failed to replace failure log: %w", err)
	}
	return nil
}
