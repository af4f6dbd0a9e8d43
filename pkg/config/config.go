package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持します
// YAMLファイルを読み込んだ後、APIキー等の秘匿値を環境変数で上書きする
type Config struct {
	Paths       PathsConfig       `yaml:"paths"`
	Translation TranslationConfig `yaml:"translation"`
	Parsing     ParsingConfig     `yaml:"parsing"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Quality     QualityConfig     `yaml:"quality"`
	Retry       RetryConfig       `yaml:"retry"`
	Logs        LogsConfig        `yaml:"logs"`
}

// PathsConfig は入出力ディレクトリ設定
type PathsConfig struct {
	InputBase      string `yaml:"input_base"`
	OutputBase     string `yaml:"output_base"`
	TerminologyDir string `yaml:"terminology_dir"`
}

// TranslationConfig は翻訳API設定
type TranslationConfig struct {
	// APIKey は環境変数 TRANSLATION_API_KEY からのみ読み込む
	APIKey  string `yaml:"-"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// FallbackModel は品質リトライ時に切り替える予備モデル（空なら切り替えなし）
	FallbackModel string        `yaml:"fallback_model"`
	Temperature   float64       `yaml:"temperature"`
	MaxTokens     int           `yaml:"max_tokens"`
	Timeout       Duration      `yaml:"timeout"`
}

// ParsingConfig は解析サービス設定
type ParsingConfig struct {
	// APIToken は環境変数 PARSE_API_TOKEN からのみ読み込む
	APIToken string `yaml:"-"`
	BaseURL  string `yaml:"base_url"`
	// BatchSize はプロバイダの1バッチあたり上限
	BatchSize    int           `yaml:"batch_size"`
	PollInterval Duration      `yaml:"poll_interval"`
	// MaxChunkPages を超えるPDFはページ範囲に分割して投入する
	MaxChunkPages int `yaml:"max_chunk_pages"`
}

// ConcurrencyConfig は自己調整並列度の設定
type ConcurrencyConfig struct {
	InitialWorkers int `yaml:"initial_workers"`
	MaxWorkers     int `yaml:"max_workers"`
	MinWorkers     int `yaml:"min_workers"`
	// Backoff は429受信時の即時縮小係数（<1）
	Backoff float64 `yaml:"backoff"`
	// Growth は条件成立時の拡大係数（>1）
	Growth float64 `yaml:"growth"`
	// SuccessThreshold・MinSamples・IncreaseInterval の3条件が揃ったときだけ拡大する
	SuccessThreshold float64       `yaml:"success_threshold"`
	MinSamples       int           `yaml:"min_samples"`
	IncreaseInterval Duration      `yaml:"increase_interval"`
}

// QualityConfig は品質ゲートの設定
type QualityConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	// UntranslatedBreaker は連続untranslated判定での即時中断回数
	UntranslatedBreaker int `yaml:"untranslated_breaker"`
	// SimilarityThreshold / StructuredSimilarityThreshold は未翻訳検出の閾値
	SimilarityThreshold           float64 `yaml:"similarity_threshold"`
	StructuredSimilarityThreshold float64 `yaml:"structured_similarity_threshold"`
}

// RetryConfig はトランスポート層リトライの設定
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay Duration      `yaml:"initial_delay"`
	MaxDelay     Duration      `yaml:"max_delay"`
	// Base は指数バックオフの底
	Base float64 `yaml:"base"`
	// エラー種別ごとのリトライ可否
	RetryDNS        bool `yaml:"retry_dns"`
	RetryConnection bool `yaml:"retry_connection"`
	RetryTimeout    bool `yaml:"retry_timeout"`
	Retry5xx        bool `yaml:"retry_5xx"`
	Retry429        bool `yaml:"retry_429"`
}

// LogsConfig は監査・失敗ログの出力先
type LogsConfig struct {
	Dir string `yaml:"dir"`
	// FailureLog はグローバル失敗ログ（JSONL）のパス
	FailureLog string `yaml:"failure_log"`
}

// Default はデフォルト設定を返します
func Default() Config {
	return Config{
		Paths: PathsConfig{
			InputBase:      "input",
			OutputBase:     "output",
			TerminologyDir: "terminology",
		},
		Translation: TranslationConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
			MaxTokens:   8192,
			Timeout:     Duration(120 * time.Second),
		},
		Parsing: ParsingConfig{
			BaseURL:       "https://mineru.net/api/v4",
			BatchSize:     200,
			PollInterval:  Duration(10 * time.Second),
			MaxChunkPages: 600,
		},
		Concurrency: ConcurrencyConfig{
			InitialWorkers:   20,
			MaxWorkers:       100,
			MinWorkers:       1,
			Backoff:          0.5,
			Growth:           1.2,
			SuccessThreshold: 0.95,
			MinSamples:       20,
			IncreaseInterval: Duration(30 * time.Second),
		},
		Quality: QualityConfig{
			MaxAttempts:                   3,
			UntranslatedBreaker:           3,
			SimilarityThreshold:           0.90,
			StructuredSimilarityThreshold: 0.98,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialDelay:    Duration(2 * time.Second),
			MaxDelay:        Duration(32 * time.Second),
			Base:            2.0,
			RetryDNS:        true,
			RetryConnection: true,
			RetryTimeout:    true,
			Retry5xx:        true,
			Retry429:        true,
		},
		Logs: LogsConfig{
			Dir:        "logs",
			FailureLog: "logs/total_issue_files.jsonl",
		},
	}
}

// Load はYAMLファイルと環境変数から設定を読み込みます
// envFilePath の .env は存在すれば読み込む（存在しなくてもエラーにしない）
func Load(configPath, envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if len(data) > 0 {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config yaml: %w", err)
			}
		}
	}

	// 秘匿値は環境変数からのみ取得する
	cfg.Translation.APIKey = getEnv("TRANSLATION_API_KEY", "")
	cfg.Parsing.APIToken = getEnv("PARSE_API_TOKEN", "")
	if v := getEnv("TRANSLATION_API_BASE_URL", ""); v != "" {
		cfg.Translation.BaseURL = v
	}
	if v := getEnv("TRANSLATION_API_MODEL", ""); v != "" {
		cfg.Translation.Model = v
	}
	if v := getEnvAsInt("TRANSLATION_MAX_TOKENS", 0); v > 0 {
		cfg.Translation.MaxTokens = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	cc := c.Concurrency
	if cc.MinWorkers < 1 {
		return fmt.Errorf("invalid concurrency.min_workers: %d (must be >= 1)", cc.MinWorkers)
	}
	if cc.MinWorkers > cc.InitialWorkers || cc.InitialWorkers > cc.MaxWorkers {
		return fmt.Errorf("invalid concurrency bounds: min=%d initial=%d max=%d",
			cc.MinWorkers, cc.InitialWorkers, cc.MaxWorkers)
	}
	if cc.Backoff <= 0 || cc.Backoff >= 1 {
		return fmt.Errorf("invalid concurrency.backoff: %v (must be in (0,1))", cc.Backoff)
	}
	if cc.Growth <= 1 {
		return fmt.Errorf("invalid concurrency.growth: %v (must be > 1)", cc.Growth)
	}
	if c.Parsing.BatchSize < 1 {
		return fmt.Errorf("invalid parsing.batch_size: %d", c.Parsing.BatchSize)
	}
	if c.Quality.MaxAttempts < 1 {
		return fmt.Errorf("invalid quality.max_attempts: %d", c.Quality.MaxAttempts)
	}
	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
