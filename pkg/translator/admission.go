package translator

import (
	"log/slog"
	"sync"
	"time"
)

// AdmissionController は同時実行中の翻訳リクエスト数の上限を自己調整します
//
// 429（スロットリング）は即時・無条件の縮小、回復は
// 「十分なサンプル数 + 高い成功率 + クールダウン経過」が揃ったときだけの
// 緩やかな乗算的拡大。非対称にすることで再スロットリングの振動を防ぐ
type AdmissionController struct {
	mu sync.Mutex

	current int
	min     int
	max     int

	// backoff < 1, growth > 1
	backoff float64
	growth  float64

	successThreshold float64
	minSamples       int
	increaseInterval time.Duration

	successCount     int
	totalCount       int
	lastIncreaseTime time.Time

	now func() time.Time
}

// AdmissionConfig はAdmissionControllerの設定
type AdmissionConfig struct {
	Initial          int
	Min              int
	Max              int
	Backoff          float64
	Growth           float64
	SuccessThreshold float64
	MinSamples       int
	IncreaseInterval time.Duration
}

// NewAdmissionController は新しいAdmissionControllerを作成します
func NewAdmissionController(cfg AdmissionConfig) *AdmissionController {
	if cfg.Min < 1 {
		cfg.Min = 1
	}
	if cfg.Initial < cfg.Min {
		cfg.Initial = cfg.Min
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 20
	}
	return &AdmissionController{
		current:          cfg.Initial,
		min:              cfg.Min,
		max:              cfg.Max,
		backoff:          cfg.Backoff,
		growth:           cfg.Growth,
		successThreshold: cfg.SuccessThreshold,
		minSamples:       cfg.MinSamples,
		increaseInterval: cfg.IncreaseInterval,
		lastIncreaseTime: time.Now(),
		now:              time.Now,
	}
}

// CurrentLimit は現在の並列度上限を返します
func (a *AdmissionController) CurrentLimit() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// OnThrottled は翻訳サービスの過負荷シグナル（HTTP 429）を受けて
// 並列度を即座に縮小します。平均化は行わない
func (a *AdmissionController) OnThrottled() {
	a.mu.Lock()
	defer a.mu.Unlock()

	old := a.current
	next := int(float64(a.current) * a.backoff)
	if next < a.min {
		next = a.min
	}
	a.current = next

	if old != next {
		slog.Warn("rate limited, reducing concurrency", "from", old, "to", next)
	}
}

// OnSuccess は成功1件を記録し、条件が揃えば並列度を拡大します
func (a *AdmissionController) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.totalCount++

	if a.totalCount < a.minSamples {
		return
	}

	rate := float64(a.successCount) / float64(a.totalCount)
	nowT := a.now()

	if rate >= a.successThreshold &&
		nowT.Sub(a.lastIncreaseTime) >= a.increaseInterval &&
		a.current < a.max {
		old := a.current
		next := int(float64(a.current) * a.growth)
		if next <= old {
			next = old + 1
		}
		if next > a.max {
			next = a.max
		}
		a.current = next
		a.lastIncreaseTime = nowT
		a.successCount = 0
		a.totalCount = 0

		slog.Info("increasing concurrency", "from", old, "to", next)
	}
}

// OnFailure は非スロットリング失敗を記録します
// 成功率を薄めるだけで、429のような即時縮小は行わない
func (a *AdmissionController) OnFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalCount++
}
