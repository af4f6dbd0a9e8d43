package translator

import (
	"context"
	"sync"
)

// ConcurrencyLimiter は現在許可されている並列度を返します
type ConcurrencyLimiter interface {
	CurrentLimit() int
}

// ElasticPool は投入のたびにConcurrencyLimiterを読み直すワーカープールです
// 並列度はプール生成時ではなく各投入時点の値が適用されるため、
// 実行中にリミッターが絞られると新規投入が待たされる
type ElasticPool struct {
	limiter ConcurrencyLimiter

	mu     sync.Mutex
	cond   *sync.Cond
	active int
	wg     sync.WaitGroup
}

// NewElasticPool は新しいElasticPoolを作成します
func NewElasticPool(limiter ConcurrencyLimiter) *ElasticPool {
	p := &ElasticPool{limiter: limiter}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Submit は空き枠が現在の並列度を下回るまで待ってから fn をgoroutineで実行します
// コンテキストがキャンセルされた場合は投入せずにエラーを返す
func (p *ElasticPool) Submit(ctx context.Context, fn func()) error {
	// キャンセルで待機中のSubmitを起こす
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	for p.active >= p.currentLimit() {
		if ctx.Err() != nil {
			p.mu.Unlock()
			return ctx.Err()
		}
		p.cond.Wait()
	}
	if ctx.Err() != nil {
		p.mu.Unlock()
		return ctx.Err()
	}
	p.active++
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer func() {
			p.mu.Lock()
			p.active--
			p.cond.Broadcast()
			p.mu.Unlock()
			p.wg.Done()
		}()
		fn()
	}()
	return nil
}

// Wait は投入済みの全タスクの完了を待ちます
func (p *ElasticPool) Wait() {
	p.wg.Wait()
}

func (p *ElasticPool) currentLimit() int {
	limit := p.limiter.CurrentLimit()
	if limit < 1 {
		limit = 1
	}
	return limit
}
