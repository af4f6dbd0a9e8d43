package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jinford/doc-translator/internal/infra/openai"
	"github.com/jinford/doc-translator/pkg/config"
	"github.com/jinford/doc-translator/pkg/glossary"
	"github.com/jinford/doc-translator/pkg/parser"
	"github.com/jinford/doc-translator/pkg/paths"
	"github.com/jinford/doc-translator/pkg/pipeline"
	"github.com/jinford/doc-translator/pkg/render"
	"github.com/jinford/doc-translator/pkg/translator"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
// 翻訳パイプライン（APIクライアント以降）は BuildPipeline を呼んだときだけ組み立てられ、
// 参照系コマンドはAPIキーなしで動作する
type AppContext struct {
	Config       *config.Config
	Mapper       *paths.Mapper
	FailureLog   *translator.FailureLog
	ParseClient  *parser.Client
	Admission    *translator.AdmissionController
	Translator   *translator.BatchTranslator
	AuditLog     *translator.AuditLog
	Orchestrator *pipeline.Orchestrator

	apiClient *openai.Client
}

// NewAppContext は設定を読み込み、全コマンド共通の軽量な部品だけを組み立てる
func NewAppContext(configPath, envFile string) (*AppContext, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	return &AppContext{
		Config:     cfg,
		Mapper:     paths.NewMapper(cfg.Paths.InputBase, cfg.Paths.OutputBase),
		FailureLog: translator.NewFailureLog(cfg.Logs.FailureLog),
	}, nil
}

// BuildPipeline は翻訳パイプラインの全コンポーネントを組み立てる
// 翻訳APIキーが必要になるのはここから
func (ac *AppContext) BuildPipeline() error {
	cfg := ac.Config

	// 他の部品を組み立てる前にAPIキーの有無を確かめる
	if cfg.Translation.APIKey == "" {
		return openai.ErrAPIKeyNotSet
	}

	// 用語集（任意）。ディレクトリが空でも動作する
	terms, err := glossary.LoadDir(cfg.Paths.TerminologyDir)
	if err != nil {
		return fmt.Errorf("用語集の読み込みに失敗: %w", err)
	}
	if terms.Len() > 0 {
		slog.Info("用語集を読み込みました", slog.Int("terms", terms.Len()))
	}

	counter, err := translator.NewTokenCounter()
	if err != nil {
		return fmt.Errorf("トークンカウンタの初期化に失敗: %w", err)
	}
	prompts := translator.NewPromptBuilder(counter, cfg.Translation.MaxTokens)

	// コネクションプールは並列実行の上限に合わせて広げておく
	apiClient, err := openai.NewClient(
		cfg.Translation.APIKey,
		cfg.Translation.BaseURL,
		prompts,
		openai.WithGlossary(terms.Apply),
		openai.WithTemperature(cfg.Translation.Temperature),
		openai.WithMaxTokens(cfg.Translation.MaxTokens),
		openai.WithTimeout(time.Duration(cfg.Translation.Timeout)),
		openai.WithHTTPClient(openai.NewPooledHTTPClient(cfg.Concurrency.MaxWorkers)),
	)
	if err != nil {
		return fmt.Errorf("翻訳クライアントの初期化に失敗: %w", err)
	}
	ac.apiClient = apiClient

	admission := translator.NewAdmissionController(translator.AdmissionConfig{
		Initial:          cfg.Concurrency.InitialWorkers,
		Min:              cfg.Concurrency.MinWorkers,
		Max:              cfg.Concurrency.MaxWorkers,
		Backoff:          cfg.Concurrency.Backoff,
		Growth:           cfg.Concurrency.Growth,
		SuccessThreshold: cfg.Concurrency.SuccessThreshold,
		MinSamples:       cfg.Concurrency.MinSamples,
		IncreaseInterval: time.Duration(cfg.Concurrency.IncreaseInterval),
	})

	retryPolicy := translator.NewRetryPolicy(translator.RetryPolicyConfig{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialDelay:    time.Duration(cfg.Retry.InitialDelay),
		MaxDelay:        time.Duration(cfg.Retry.MaxDelay),
		Base:            cfg.Retry.Base,
		RetryDNS:        cfg.Retry.RetryDNS,
		RetryConnection: cfg.Retry.RetryConnection,
		RetryTimeout:    cfg.Retry.RetryTimeout,
		Retry5xx:        cfg.Retry.Retry5xx,
		Retry429:        cfg.Retry.Retry429,
	})

	auditLog, err := translator.NewAuditLog(cfg.Logs.Dir)
	if err != nil {
		return fmt.Errorf("監査ログの初期化に失敗: %w", err)
	}

	// APIコールの成否はAdmissionControllerへ報告し、その外側で
	// トランスポート障害のリトライを行う
	var client translator.TranslationClient = apiClient
	client = translator.WithAdmissionReporting(client, admission)
	client = translator.WithTransportRetry(client, retryPolicy, func(attempt int, kind translator.ErrorKind, rawMessage string) {
		slog.Warn("翻訳APIのリトライ",
			slog.Int("attempt", attempt),
			slog.String("kind", string(kind)),
			slog.String("error", rawMessage),
		)
	})

	gate := translator.NewQualityGate(
		client,
		translator.NewValidator(cfg.Quality.SimilarityThreshold, cfg.Quality.StructuredSimilarityThreshold),
		cfg.Quality.MaxAttempts,
		cfg.Quality.UntranslatedBreaker,
		cfg.Translation.Model,
		cfg.Translation.FallbackModel,
		auditLog,
	)

	batch := translator.NewBatchTranslator(gate, admission, ac.FailureLog)

	parseClient := parser.NewClient(parser.ClientConfig{
		BaseURL:  cfg.Parsing.BaseURL,
		APIToken: cfg.Parsing.APIToken,
	})

	renderer, err := render.NewRenderer()
	if err != nil {
		return fmt.Errorf("レンダラの初期化に失敗: %w", err)
	}

	ac.ParseClient = parseClient
	ac.Admission = admission
	ac.Translator = batch
	ac.AuditLog = auditLog
	ac.Orchestrator = pipeline.NewOrchestrator(pipeline.Config{
		BatchSize:     cfg.Parsing.BatchSize,
		PollInterval:  time.Duration(cfg.Parsing.PollInterval),
		MaxChunkPages: cfg.Parsing.MaxChunkPages,
	}, parseClient, batch, admission, renderer, render.NewCommandConverter(), ac.FailureLog)

	return nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.AuditLog != nil {
		ac.AuditLog.Close()
	}
	if ac.apiClient != nil {
		ac.apiClient.CloseIdleConnections()
	}
}
