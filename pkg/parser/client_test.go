package parser

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-translator/pkg/translator"
)

func newTestClient(baseURL string) *Client {
	retry := translator.NewRetryPolicy(translator.RetryPolicyConfig{
		MaxAttempts:     3,
		InitialDelay:    time.Millisecond,
		MaxDelay:        10 * time.Millisecond,
		Base:            2.0,
		RetryConnection: true,
		RetryTimeout:    true,
		Retry5xx:        true,
		Retry429:        true,
	})
	return NewClient(ClientConfig{
		BaseURL:      baseURL,
		APIToken:     "test-token",
		ModelVersion: "vlm",
		ExtraFormats: []string{"html", "docx"},
		Timeout:      5 * time.Second,
		Retry:        retry,
	})
}

func TestClient_SubmitBatch(t *testing.T) {
	var uploadedBody atomic.Value

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/file-urls/batch", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		files := req["files"].([]any)
		require.Len(t, files, 1)
		first := files[0].(map[string]any)
		assert.Equal(t, "paper.pdf", first["name"])
		assert.Equal(t, "1-600", first["page_ranges"])
		assert.Equal(t, "vlm", req["model_version"])
		assert.Equal(t, []any{"html", "docx"}, req["extra_formats"])

		json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{
				"batch_id":  "batch-123",
				"file_urls": []string{server.URL + "/upload/paper.pdf"},
			},
		})
	})
	mux.HandleFunc("/upload/paper.pdf", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		uploadedBody.Store(string(body))
		w.WriteHeader(http.StatusOK)
	})

	pdfPath := filepath.Join(t.TempDir(), "paper.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4"), 0644))

	client := newTestClient(server.URL)
	batchID, err := client.SubmitBatch(context.Background(), []FileTask{
		{FileName: "paper.pdf", FilePath: pdfPath, DataID: "abc", PageRanges: "1-600"},
	})

	require.NoError(t, err)
	assert.Equal(t, "batch-123", batchID)
	assert.Equal(t, "%PDF-1.4", uploadedBody.Load())
}

func TestClient_SubmitBatch_APIErrorCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code": -60012,
			"msg":  "quota exceeded",
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.SubmitBatch(context.Background(), []FileTask{{FileName: "a.pdf", FilePath: "/nonexistent"}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestClient_BatchStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract-results/batch/batch-123", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{
				"extract_result": []map[string]any{
					{
						"file_name":    "done.pdf",
						"data_id":      "id-1",
						"state":        "done",
						"full_zip_url": "https://cdn.example.com/done.zip",
					},
					{
						"file_name": "running.pdf",
						"state":     "running",
						"extract_progress": map[string]any{
							"extracted_pages": 12,
							"total_pages":     40,
						},
					},
					{
						"file_name": "failed.pdf",
						"state":     "failed",
						"err_msg":   "corrupted file",
					},
				},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	results, err := client.BatchStatus(context.Background(), "batch-123")

	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, TaskStateDone, results[0].State)
	assert.True(t, results[0].State.Terminal())
	assert.Equal(t, "https://cdn.example.com/done.zip", results[0].FullZipURL)

	assert.Equal(t, TaskStateRunning, results[1].State)
	assert.False(t, results[1].State.Terminal())
	assert.Equal(t, 12, results[1].ExtractedPages)
	assert.Equal(t, 40, results[1].TotalPages)

	assert.Equal(t, TaskStateFailed, results[2].State)
	assert.True(t, results[2].State.Terminal())
	assert.Equal(t, "corrupted file", results[2].ErrMsg)
}

func TestClient_BatchStatus_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{"extract_result": []map[string]any{}},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	results, err := client.BatchStatus(context.Background(), "batch-123")

	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DownloadResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("zip-bytes"))
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "parsed", "paper_result.zip")
	client := newTestClient(server.URL)

	require.NoError(t, client.DownloadResult(context.Background(), server.URL+"/done.zip", destPath))

	data, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, "zip-bytes", string(data))

	// 一時ファイルが残っていない
	_, err = os.Stat(destPath + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestClient_DownloadResult_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "paper_result.zip")
	client := newTestClient(server.URL)

	err := client.DownloadResult(context.Background(), server.URL+"/missing.zip", destPath)
	require.Error(t, err)

	var statusErr *translator.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
}
