package progress

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Snapshot はある時点の進捗情報
type Snapshot struct {
	// Total は総ドキュメント数
	Total int
	// Completed は終端状態に達したドキュメント数（失敗も含む）
	Completed int
	// Failed は失敗したドキュメント数
	Failed int
	// Elapsed は経過時間
	Elapsed time.Duration
	// EstimatedTimeRemaining は推定残り時間
	EstimatedTimeRemaining time.Duration
}

// String は進捗を文字列表現で返す
func (s Snapshot) String() string {
	percentage := 0.0
	if s.Total > 0 {
		percentage = float64(s.Completed) / float64(s.Total) * 100
	}

	eta := "N/A"
	if s.EstimatedTimeRemaining > 0 {
		eta = s.EstimatedTimeRemaining.Round(time.Second).String()
	}

	return fmt.Sprintf(
		"Progress: %d/%d (%.1f%%) | Failed: %d | Elapsed: %s | ETA: %s",
		s.Completed,
		s.Total,
		percentage,
		s.Failed,
		s.Elapsed.Round(time.Second),
		eta,
	)
}

// Tracker はバッチ処理の進捗を追跡し、一定間隔でログに出力します
type Tracker struct {
	mu          sync.Mutex
	startTime   time.Time
	interval    time.Duration
	lastLogTime time.Time

	total     int
	completed int
	failed    int
}

// NewTracker は新しいTrackerを作成します
// interval はログ出力の最短間隔
func NewTracker(total int, interval time.Duration) *Tracker {
	now := time.Now()
	return &Tracker{
		startTime:   now,
		interval:    interval,
		lastLogTime: now,
		total:       total,
	}
}

// OnComplete は1ドキュメントが終端状態に達したときに呼びます
// インターバル内の呼び出しではログを出力しない（完了時を除く）
func (t *Tracker) OnComplete(success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completed++
	if !success {
		t.failed++
	}

	now := time.Now()
	if now.Sub(t.lastLogTime) < t.interval && t.completed != t.total {
		return
	}
	t.lastLogTime = now

	snapshot := t.snapshotLocked()
	slog.Info("バッチ進捗", slog.String("progress", snapshot.String()))
}

// Snapshot は現在の進捗を返します
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	elapsed := time.Since(t.startTime)
	var eta time.Duration

	if t.completed > 0 {
		avgTime := elapsed / time.Duration(t.completed)
		remaining := t.total - t.completed
		eta = avgTime * time.Duration(remaining)
	}

	return Snapshot{
		Total:                  t.total,
		Completed:              t.completed,
		Failed:                 t.failed,
		Elapsed:                elapsed,
		EstimatedTimeRemaining: eta,
	}
}
