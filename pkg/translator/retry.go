package translator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"
)

// ErrorKind はトランスポート層エラーの分類
type ErrorKind string

const (
	ErrorKindDNS        ErrorKind = "dns"
	ErrorKindConnection ErrorKind = "connection"
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindServer     ErrorKind = "server_5xx"
	ErrorKindThrottled  ErrorKind = "throttled_429"
	ErrorKindOther      ErrorKind = "other"
)

// StatusError はHTTPステータス付きのエラー
// 外部サービスクライアントはHTTP失敗をこの型で包んで返す
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("http %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("http %d", e.Code)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// IsThrottled はエラーが429によるものかを返します
func IsThrottled(err error) bool {
	return ClassifyError(err) == ErrorKindThrottled
}

// ClassifyError はエラーをErrorKindに分類します
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrorKindOther
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Code == 429:
			return ErrorKindThrottled
		case statusErr.Code >= 500 && statusErr.Code <= 599:
			return ErrorKindServer
		}
		return ErrorKindOther
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorKindDNS
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorKindConnection
	}

	return ErrorKindOther
}

// RetryPolicy は1回のネットワーク操作に対する指数バックオフ付きリトライを提供します
// 並列度を決めるAdmissionControllerとは役割が異なり、
// こちらは「1リクエストを繰り返すかどうか」だけを決める
type RetryPolicy struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	base         float64
	retryable    map[ErrorKind]bool

	sleep func(ctx context.Context, d time.Duration) error
}

// RetryPolicyConfig はRetryPolicyの設定
type RetryPolicyConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Base            float64
	RetryDNS        bool
	RetryConnection bool
	RetryTimeout    bool
	Retry5xx        bool
	Retry429        bool
}

// OnRetryFunc はリトライのたびに呼ばれる監査用コールバック
// 制御フローには一切影響させない
type OnRetryFunc func(attempt int, kind ErrorKind, rawMessage string)

// NewRetryPolicy は新しいRetryPolicyを作成します
func NewRetryPolicy(cfg RetryPolicyConfig) *RetryPolicy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Base <= 1 {
		cfg.Base = 2.0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	return &RetryPolicy{
		maxAttempts:  cfg.MaxAttempts,
		initialDelay: cfg.InitialDelay,
		maxDelay:     cfg.MaxDelay,
		base:         cfg.Base,
		retryable: map[ErrorKind]bool{
			ErrorKindDNS:        cfg.RetryDNS,
			ErrorKindConnection: cfg.RetryConnection,
			ErrorKindTimeout:    cfg.RetryTimeout,
			ErrorKindServer:     cfg.Retry5xx,
			ErrorKindThrottled:  cfg.Retry429,
		},
		sleep: sleepContext,
	}
}

// Execute は op を最大 maxAttempts 回まで実行します
// リトライ不可と分類されたエラー、または回数超過時は最後のエラーをそのまま返す
func (p *RetryPolicy) Execute(ctx context.Context, op func(ctx context.Context) error, onRetry OnRetryFunc) error {
	var lastErr error

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.delayFor(attempt - 1)
			if err := p.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		kind := ClassifyError(err)
		if !p.retryable[kind] {
			return err
		}
		if attempt == p.maxAttempts-1 {
			break
		}

		if onRetry != nil {
			// 監査コールバックのパニックでリトライを壊さない
			func() {
				defer func() { _ = recover() }()
				onRetry(attempt+1, kind, err.Error())
			}()
		}
	}

	return lastErr
}

func (p *RetryPolicy) delayFor(attempt int) time.Duration {
	delay := time.Duration(float64(p.initialDelay) * math.Pow(p.base, float64(attempt)))
	if p.maxDelay > 0 && delay > p.maxDelay {
		delay = p.maxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
