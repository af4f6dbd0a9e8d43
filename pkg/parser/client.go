package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jinford/doc-translator/pkg/translator"
)

// TaskState は解析サービス側のタスク状態
type TaskState string

const (
	TaskStateWaitingFile TaskState = "waiting-file"
	TaskStatePending     TaskState = "pending"
	TaskStateRunning     TaskState = "running"
	TaskStateConverting  TaskState = "converting"
	TaskStateDone        TaskState = "done"
	TaskStateFailed      TaskState = "failed"
)

// Terminal は状態が終端（完了または失敗）かどうかを返します
func (s TaskState) Terminal() bool {
	return s == TaskStateDone || s == TaskStateFailed
}

// FileTask は1件のアップロード対象ファイル
type FileTask struct {
	FileName   string
	FilePath   string
	DataID     string
	PageRanges string
	IsOCR      bool
}

// TaskResult は解析タスクの状態照会結果
type TaskResult struct {
	FileName       string
	DataID         string
	State          TaskState
	FullZipURL     string
	ErrMsg         string
	ExtractedPages int
	TotalPages     int
}

// Client は非同期ドキュメント解析サービスのRESTクライアント
// 一時的なトランスポートエラーはRetryPolicyでリトライする
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiToken     string
	modelVersion string
	extraFormats []string
	language     string
	retry        *translator.RetryPolicy
}

// ClientConfig はClientの設定
type ClientConfig struct {
	BaseURL      string
	APIToken     string
	ModelVersion string
	ExtraFormats []string
	Language     string
	Timeout      time.Duration
	Retry        *translator.RetryPolicy
}

// NewClient は新しいClientを作成します
func NewClient(cfg ClientConfig) *Client {
	if cfg.ModelVersion == "" {
		cfg.ModelVersion = "vlm"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	retry := cfg.Retry
	if retry == nil {
		retry = translator.NewRetryPolicy(translator.RetryPolicyConfig{
			MaxAttempts:     3,
			InitialDelay:    2 * time.Second,
			MaxDelay:        32 * time.Second,
			Base:            2.0,
			RetryDNS:        true,
			RetryConnection: true,
			RetryTimeout:    true,
			Retry5xx:        true,
			Retry429:        true,
		})
	}

	return &Client{
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		apiToken:     cfg.APIToken,
		modelVersion: cfg.ModelVersion,
		extraFormats: cfg.ExtraFormats,
		language:     cfg.Language,
		retry:        retry,
	}
}

// APIレスポンスの共通エンベロープ
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type uploadBatchRequest struct {
	Files         []uploadFileInfo `json:"files"`
	ModelVersion  string           `json:"model_version"`
	EnableFormula bool             `json:"enable_formula"`
	EnableTable   bool             `json:"enable_table"`
	Language      string           `json:"language"`
	ExtraFormats  []string         `json:"extra_formats,omitempty"`
}

type uploadFileInfo struct {
	Name       string `json:"name"`
	DataID     string `json:"data_id,omitempty"`
	PageRanges string `json:"page_ranges,omitempty"`
	IsOCR      bool   `json:"is_ocr,omitempty"`
}

type uploadBatchData struct {
	BatchID  string   `json:"batch_id"`
	FileURLs []string `json:"file_urls"`
}

type batchStatusData struct {
	ExtractResult []extractResultItem `json:"extract_result"`
}

type extractResultItem struct {
	FileName        string           `json:"file_name"`
	DataID          string           `json:"data_id"`
	State           string           `json:"state"`
	FullZipURL      string           `json:"full_zip_url"`
	ErrMsg          string           `json:"err_msg"`
	ExtractProgress *extractProgress `json:"extract_progress"`
}

type extractProgress struct {
	ExtractedPages int `json:"extracted_pages"`
	TotalPages     int `json:"total_pages"`
}

// SubmitBatch はアップロードURLを申請し、全ファイルをアップロードして
// バッチIDを返します
// file_urls はリクエストのファイル順に対応する
func (c *Client) SubmitBatch(ctx context.Context, tasks []FileTask) (string, error) {
	files := make([]uploadFileInfo, 0, len(tasks))
	for _, task := range tasks {
		files = append(files, uploadFileInfo{
			Name:       task.FileName,
			DataID:     task.DataID,
			PageRanges: task.PageRanges,
			IsOCR:      task.IsOCR,
		})
	}

	reqBody := uploadBatchRequest{
		Files:         files,
		ModelVersion:  c.modelVersion,
		EnableFormula: true,
		EnableTable:   true,
		Language:      c.language,
		ExtraFormats:  c.extraFormats,
	}

	var data uploadBatchData
	if err := c.postJSON(ctx, c.baseURL+"/file-urls/batch", reqBody, &data); err != nil {
		return "", fmt.Errorf("failed to request upload urls: %w", err)
	}

	if len(data.FileURLs) != len(tasks) {
		return "", fmt.Errorf("upload url count mismatch: got %d, want %d", len(data.FileURLs), len(tasks))
	}

	for i, task := range tasks {
		if err := c.uploadFile(ctx, data.FileURLs[i], task.FilePath); err != nil {
			return "", fmt.Errorf("failed to upload %s: %w", task.FileName, err)
		}
	}

	return data.BatchID, nil
}

// BatchStatus はバッチ内の全タスクの状態を返します
func (c *Client) BatchStatus(ctx context.Context, batchID string) ([]TaskResult, error) {
	var data batchStatusData
	if err := c.getJSON(ctx, c.baseURL+"/extract-results/batch/"+batchID, &data); err != nil {
		return nil, fmt.Errorf("failed to get batch status: %w", err)
	}

	results := make([]TaskResult, 0, len(data.ExtractResult))
	for _, item := range data.ExtractResult {
		result := TaskResult{
			FileName:   item.FileName,
			DataID:     item.DataID,
			State:      TaskState(item.State),
			FullZipURL: item.FullZipURL,
			ErrMsg:     item.ErrMsg,
		}
		if item.ExtractProgress != nil {
			result.ExtractedPages = item.ExtractProgress.ExtractedPages
			result.TotalPages = item.ExtractProgress.TotalPages
		}
		results = append(results, result)
	}
	return results, nil
}

// DownloadResult は解析結果のzipを destPath へダウンロードします
// 書き込みは一時ファイル経由で行い、途中で失敗した場合に壊れた
// アーカイブが残らないようにする
func (c *Client) DownloadResult(ctx context.Context, zipURL, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	return c.retry.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, zipURL, nil)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return &translator.StatusError{Code: resp.StatusCode, Err: fmt.Errorf("download failed")}
		}

		tmpPath := destPath + ".tmp"
		f, err := os.Create(tmpPath)
		if err != nil {
			return fmt.Errorf("failed to create temp file: %w", err)
		}

		if _, err := io.Copy(f, resp.Body); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to write archive: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to close archive: %w", err)
		}

		return os.Rename(tmpPath, destPath)
	}, nil)
}

func (c *Client) uploadFile(ctx context.Context, uploadURL, filePath string) error {
	return c.retry.Execute(ctx, func(ctx context.Context) error {
		f, err := os.Open(filePath)
		if err != nil {
			return err
		}
		defer f.Close()

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode != http.StatusOK {
			return &translator.StatusError{Code: resp.StatusCode, Err: fmt.Errorf("upload failed")}
		}
		return nil
	}, nil)
}

func (c *Client) postJSON(ctx context.Context, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	return c.retry.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		c.setHeaders(req)
		return c.doJSON(req, out)
	}, nil)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	return c.retry.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		c.setHeaders(req)
		return c.doJSON(req, out)
	}, nil)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "*/*")
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &translator.StatusError{
			Code: resp.StatusCode,
			Err:  fmt.Errorf("%s", strings.TrimSpace(string(respBody))),
		}
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Code != 0 {
		return fmt.Errorf("parse service error (code %d): %s", env.Code, env.Msg)
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}
