package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/doc-translator/pkg/models"
	"github.com/jinford/doc-translator/pkg/translator"
)

const (
	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 120 * time.Second

	// DefaultTemperature は翻訳に使うデフォルトの温度
	DefaultTemperature = 0.3
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("translation API key not set: please set TRANSLATION_API_KEY environment variable")

	// ErrNoChoices はレスポンスに選択肢が含まれない場合のエラー
	ErrNoChoices = errors.New("no completion choices returned")
)

// GlossaryFunc は翻訳前にソーステキストへ用語集を適用する関数
type GlossaryFunc func(text string) (string, int)

// Client は OpenAI 互換APIを使用した翻訳クライアント実装
// トランスポート層のリトライは行わず、1回の呼び出しだけを担当する
type Client struct {
	client      openai.Client
	httpClient  *http.Client
	prompts     *translator.PromptBuilder
	glossary    GlossaryFunc
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// ClientOption は Client の挙動を調整します
type ClientOption func(*Client)

// WithGlossary は翻訳前に適用する用語集を設定する
func WithGlossary(fn GlossaryFunc) ClientOption {
	return func(c *Client) { c.glossary = fn }
}

// WithTemperature は生成温度を設定する
func WithTemperature(temperature float64) ClientOption {
	return func(c *Client) { c.temperature = temperature }
}

// WithMaxTokens は1回の応答の最大トークン数を設定する
func WithMaxTokens(maxTokens int) ClientOption {
	return func(c *Client) { c.maxTokens = maxTokens }
}

// WithTimeout はAPIコールのタイムアウトを設定する
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.timeout = timeout }
}

// WithHTTPClient はAPI呼び出しに使うHTTPクライアントを差し替える
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// NewPooledHTTPClient は並列上限に合わせてコネクションプールを広げたHTTPクライアントを作ります
// net/http の既定値 (MaxIdleConnsPerHost=2) のままでは同一ホストへの並列呼び出しのたびに
// 接続が張り直されるため、想定する最大並列数まで広げておく
func NewPooledHTTPClient(maxConns int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if maxConns > 0 {
		transport.MaxIdleConns = maxConns
		transport.MaxIdleConnsPerHost = maxConns
	}
	return &http.Client{Transport: transport}
}

// NewClient は新しい Client を作成する
// baseURL が空の場合はOpenAIの既定エンドポイントを使う
func NewClient(apiKey, baseURL string, prompts *translator.PromptBuilder, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	c := &Client{
		prompts:     prompts,
		temperature: DefaultTemperature,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	requestOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(baseURL))
	}
	if c.httpClient != nil {
		requestOpts = append(requestOpts, option.WithHTTPClient(c.httpClient))
	}
	c.client = openai.NewClient(requestOpts...)
	return c, nil
}

// CloseIdleConnections はコネクションプール内のアイドル接続を解放します
func (c *Client) CloseIdleConnections() {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}
}

// Translate は1つのWorkUnitを指定モデルで翻訳する
// HTTPエラーは分類可能なように translator.StatusError で包んで返す
func (c *Client) Translate(ctx context.Context, model string, unit models.WorkUnit) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	source := unit.SourceText
	if c.glossary != nil {
		source, _ = c.glossary(source)
	}

	prompted := unit
	prompted.SourceText = source

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(c.prompts.SystemPrompt()),
			openai.UserMessage(c.prompts.Build(prompted)),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &translator.StatusError{Code: apiErr.StatusCode, Err: err}
		}
		return "", fmt.Errorf("translation API call failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", ErrNoChoices
	}

	return completion.Choices[0].Message.Content, nil
}

// インターフェース実装の確認
var _ translator.TranslationClient = (*Client)(nil)
