package translator

import (
	"context"

	"github.com/jinford/doc-translator/pkg/models"
)

// reportingClient は翻訳呼び出しの成否をAdmissionControllerへ通知するラッパー
type reportingClient struct {
	inner     TranslationClient
	admission *AdmissionController
}

// WithAdmissionReporting は呼び出し結果をAdmissionControllerへ
// フィードバックするTranslationClientを返します
// 429は即時バックオフ、成功は増加判定のサンプルとして扱われる
func WithAdmissionReporting(inner TranslationClient, admission *AdmissionController) TranslationClient {
	return &reportingClient{inner: inner, admission: admission}
}

func (c *reportingClient) Translate(ctx context.Context, model string, unit models.WorkUnit) (string, error) {
	out, err := c.inner.Translate(ctx, model, unit)
	if err != nil {
		if IsThrottled(err) {
			c.admission.OnThrottled()
		} else {
			c.admission.OnFailure()
		}
		return "", err
	}
	c.admission.OnSuccess()
	return out, nil
}

// retryingClient はトランスポート層のリトライで呼び出しを包むラッパー
type retryingClient struct {
	inner   TranslationClient
	policy  *RetryPolicy
	onRetry OnRetryFunc
}

// WithTransportRetry は一時的なトランスポートエラーをRetryPolicyに従って
// リトライするTranslationClientを返します
// 品質起因の再試行とは独立に、1回の翻訳呼び出しの内側で働く
func WithTransportRetry(inner TranslationClient, policy *RetryPolicy, onRetry OnRetryFunc) TranslationClient {
	return &retryingClient{inner: inner, policy: policy, onRetry: onRetry}
}

func (c *retryingClient) Translate(ctx context.Context, model string, unit models.WorkUnit) (string, error) {
	var out string
	err := c.policy.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.inner.Translate(ctx, model, unit)
		return err
	}, c.onRetry)
	if err != nil {
		return "", err
	}
	return out, nil
}
