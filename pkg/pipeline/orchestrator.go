package pipeline

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jinford/doc-translator/pkg/models"
	"github.com/jinford/doc-translator/pkg/parser"
	"github.com/jinford/doc-translator/pkg/progress"
	"github.com/jinford/doc-translator/pkg/render"
	"github.com/jinford/doc-translator/pkg/resume"
	"github.com/jinford/doc-translator/pkg/translator"
)

// ParseService は非同期解析サービスのクライアント
type ParseService interface {
	SubmitBatch(ctx context.Context, tasks []parser.FileTask) (string, error)
	BatchStatus(ctx context.Context, batchID string) ([]parser.TaskResult, error)
	DownloadResult(ctx context.Context, zipURL, destPath string) error
}

// Config はバッチ実行の設定
type Config struct {
	// BatchSize は解析サービスへ一度に投入できる最大ファイル数
	BatchSize int
	// PollInterval は解析状態のポーリング間隔
	PollInterval time.Duration
	// MaxChunkPages はこのページ数を超えるPDFを分割する
	MaxChunkPages int
	// QueueSize は翻訳待ちキューの容量
	QueueSize int
	// DequeueTimeout はディスパッチャの待機タイムアウト
	DequeueTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.MaxChunkPages <= 0 {
		c.MaxChunkPages = 600
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 32
	}
	if c.DequeueTimeout <= 0 {
		c.DequeueTimeout = 500 * time.Millisecond
	}
}

// Orchestrator はバッチ全体の流れを組み立てます
// モニタが解析サービスを監視して翻訳待ちキューへ文書を送り、
// ディスパッチャがワーカープールへ翻訳を投入する
type Orchestrator struct {
	cfg        Config
	parse      ParseService
	translate  *translator.BatchTranslator
	admission  *translator.AdmissionController
	renderer   *render.Renderer
	converter  render.Converter
	failureLog *translator.FailureLog

	// テストで差し替えるためのフック
	countPages func(path string) (int, error)
}

// NewOrchestrator は新しいOrchestratorを作成します
func NewOrchestrator(
	cfg Config,
	parse ParseService,
	translate *translator.BatchTranslator,
	admission *translator.AdmissionController,
	renderer *render.Renderer,
	converter render.Converter,
	failureLog *translator.FailureLog,
) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:        cfg,
		parse:      parse,
		translate:  translate,
		admission:  admission,
		renderer:   renderer,
		converter:  converter,
		failureLog: failureLog,
		countPages: parser.CountPages,
	}
}

// readyDoc は翻訳の準備が整った文書
type readyDoc struct {
	doc   models.Document
	items []parser.ContentItem

	// formatsOnly は形式変換だけが必要な文書
	formatsOnly bool
}

// RunBatch は分類済みの文書集合を終端状態まで処理します
// 個々の文書の失敗はバッチを止めず、結果のエントリとして返る
func (o *Orchestrator) RunBatch(ctx context.Context, docs resume.Categorized) []models.DocumentResult {
	total := docs.Total()
	results := make([]models.DocumentResult, 0, total)
	if total == 0 {
		return results
	}

	tracker := progress.NewTracker(total, 30*time.Second)
	resultCh := make(chan models.DocumentResult, total)
	expected := 0

	// 完了済みはサービスを呼ばずにスキップ
	for _, doc := range docs.Completed {
		results = append(results, models.DocumentResult{
			RelativePath: doc.RelativePath,
			Status:       models.ResultSkipped,
		})
		tracker.OnComplete(true)
	}

	ready := make(chan readyDoc, o.cfg.QueueSize)

	// モニタ: 解析が必要な文書を監視し、準備の整った文書をキューへ送る
	var monitorWg sync.WaitGroup
	monitorWg.Add(1)
	go func() {
		defer monitorWg.Done()
		defer close(ready)

		// 形式変換のみの文書と解析済みの文書は即座に投入できる
		for _, doc := range docs.NeedsFormats {
			select {
			case ready <- readyDoc{doc: doc, formatsOnly: true}:
			case <-ctx.Done():
				return
			}
		}
		for _, doc := range docs.NeedsTranslation {
			items, err := parser.ReadContentList(doc.Outputs.ParseArchive)
			if err != nil {
				resultCh <- models.DocumentResult{
					RelativePath: doc.RelativePath,
					Status:       models.ResultFailed,
					Error:        fmt.Sprintf("failed to read parse archive: %v", err),
				}
				continue
			}
			select {
			case ready <- readyDoc{doc: doc, items: items}:
			case <-ctx.Done():
				return
			}
		}

		o.runMonitor(ctx, docs.NeedsParse, ready, resultCh)
	}()
	expected += len(docs.NeedsFormats) + len(docs.NeedsTranslation) + len(docs.NeedsParse)

	// ディスパッチャ: キューから取り出してワーカープールへ投入する
	var dispatcherWg sync.WaitGroup
	dispatcherWg.Add(1)
	go func() {
		defer dispatcherWg.Done()
		o.runDispatcher(ctx, ready, resultCh)
	}()

	// 完了の収集
	// resultChはバッファ付きなのでワーカーは送信でブロックしない
	for i := 0; i < expected; i++ {
		select {
		case result := <-resultCh:
			results = append(results, result)
			tracker.OnComplete(result.Status != models.ResultFailed)
		case <-ctx.Done():
			monitorWg.Wait()
			dispatcherWg.Wait()
			return results
		}
	}

	monitorWg.Wait()
	dispatcherWg.Wait()

	snapshot := tracker.Snapshot()
	slog.Info("バッチ処理が完了しました",
		slog.Int("total", snapshot.Total),
		slog.Int("failed", snapshot.Failed),
		slog.String("elapsed", snapshot.Elapsed.Round(time.Second).String()),
	)
	return results
}

// parseRef は解析サービスへ投入した1タスクの引当先
type parseRef struct {
	doc models.Document

	// 分割した場合の区画。分割なしなら nil
	chunk *parser.Chunk

	totalChunks int
}

// pendingDoc は分割文書の部分完了の追跡
type pendingDoc struct {
	doc         models.Document
	totalChunks int
	// 区画番号 → ダウンロード済みzipパス
	downloaded map[int]string
}

// runMonitor は解析が必要な文書を投入し、完了を監視します
func (o *Orchestrator) runMonitor(ctx context.Context, needsParse []models.Document, ready chan<- readyDoc, resultCh chan<- models.DocumentResult) {
	if len(needsParse) == 0 {
		return
	}

	tasks, refs, preFailed := o.buildParseTasks(needsParse)
	for _, failure := range preFailed {
		resultCh <- failure
	}

	// バッチサイズの上限ごとに分割して投入する
	type batchJob struct {
		batchID string
		// data_id → 引当先
		refs map[string]parseRef
	}
	var jobs []batchJob

	// 相対パス単位で失敗を記録し、文書ごとの結果が重複しないようにする
	failedDocs := make(map[string]bool)

	for start := 0; start < len(tasks); start += o.cfg.BatchSize {
		end := start + o.cfg.BatchSize
		if end > len(tasks) {
			end = len(tasks)
		}
		batchTasks := tasks[start:end]

		batchID, err := o.parse.SubmitBatch(ctx, batchTasks)
		if err != nil {
			// バッチ全体の投入失敗は含まれる全文書の失敗として扱う
			for _, task := range batchTasks {
				ref := refs[task.DataID]
				if failedDocs[ref.doc.RelativePath] {
					continue
				}
				failedDocs[ref.doc.RelativePath] = true
				resultCh <- models.DocumentResult{
					RelativePath: ref.doc.RelativePath,
					Status:       models.ResultFailed,
					Error:        fmt.Sprintf("failed to submit parse batch: %v", err),
				}
			}
			continue
		}

		slog.Info("解析バッチを投入しました",
			slog.String("batch_id", batchID),
			slog.Int("files", len(batchTasks)),
		)

		job := batchJob{batchID: batchID, refs: make(map[string]parseRef, len(batchTasks))}
		for _, task := range batchTasks {
			job.refs[task.DataID] = refs[task.DataID]
		}
		jobs = append(jobs, job)
	}

	pendings := make(map[string]*pendingDoc)
	done := make(map[string]bool) // data_id単位の処理済み

	// 全バッチが終端状態になるまでポーリングする
	for len(jobs) > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cfg.PollInterval):
		}

		remaining := jobs[:0]
		for _, job := range jobs {
			statuses, err := o.parse.BatchStatus(ctx, job.batchID)
			if err != nil {
				slog.Warn("解析状態の取得に失敗しました",
					slog.String("batch_id", job.batchID),
					slog.String("error", err.Error()),
				)
				remaining = append(remaining, job)
				continue
			}

			pendingCount := 0
			for _, status := range statuses {
				ref, ok := job.refs[status.DataID]
				if !ok || done[status.DataID] {
					continue
				}
				if !status.State.Terminal() {
					pendingCount++
					continue
				}

				done[status.DataID] = true
				o.handleParseResult(ctx, ref, status, pendings, failedDocs, ready, resultCh)
			}

			if pendingCount > 0 {
				remaining = append(remaining, job)
			}
		}
		jobs = remaining
	}
}

// buildParseTasks は文書ごとの分割計画を立て、投入タスクの一覧を作ります
func (o *Orchestrator) buildParseTasks(needsParse []models.Document) ([]parser.FileTask, map[string]parseRef, []models.DocumentResult) {
	var tasks []parser.FileTask
	refs := make(map[string]parseRef)
	var failed []models.DocumentResult

	for _, doc := range needsParse {
		if _, err := os.Stat(doc.SourcePath); err != nil {
			failed = append(failed, models.DocumentResult{
				RelativePath: doc.RelativePath,
				Status:       models.ResultFailed,
				Error:        fmt.Sprintf("source file missing: %v", err),
			})
			continue
		}

		pages, err := o.countPages(doc.SourcePath)
		if err != nil {
			slog.Warn("ページ数の取得に失敗したため分割せずに投入します",
				slog.String("document", doc.RelativePath),
				slog.String("error", err.Error()),
			)
			pages = 0
		}

		baseID := dataID(doc.SourcePath)
		chunks := parser.PlanChunks(pages, o.cfg.MaxChunkPages)
		if len(chunks) == 0 {
			tasks = append(tasks, parser.FileTask{
				FileName: filepath.Base(doc.SourcePath),
				FilePath: doc.SourcePath,
				DataID:   baseID,
			})
			refs[baseID] = parseRef{doc: doc}
			continue
		}

		for _, chunk := range chunks {
			c := chunk
			id := fmt.Sprintf("%s_p%d", baseID, chunk.Index)
			tasks = append(tasks, parser.FileTask{
				FileName:   filepath.Base(doc.SourcePath),
				FilePath:   doc.SourcePath,
				DataID:     id,
				PageRanges: chunk.PageRanges(),
			})
			refs[id] = parseRef{doc: doc, chunk: &c, totalChunks: len(chunks)}
		}
	}

	return tasks, refs, failed
}

// handleParseResult は終端状態に達した解析タスクを処理します
func (o *Orchestrator) handleParseResult(
	ctx context.Context,
	ref parseRef,
	status parser.TaskResult,
	pendings map[string]*pendingDoc,
	failedDocs map[string]bool,
	ready chan<- readyDoc,
	resultCh chan<- models.DocumentResult,
) {
	doc := ref.doc

	// すでに失敗が確定した文書の残タスクは無視する
	if failedDocs[doc.RelativePath] {
		return
	}

	if ref.chunk == nil {
		// 分割なし
		if status.State == parser.TaskStateFailed {
			failedDocs[doc.RelativePath] = true
			resultCh <- models.DocumentResult{
				RelativePath: doc.RelativePath,
				Status:       models.ResultFailed,
				Error:        fmt.Sprintf("parse failed: %s", status.ErrMsg),
			}
			return
		}

		if err := o.parse.DownloadResult(ctx, status.FullZipURL, doc.Outputs.ParseArchive); err != nil {
			failedDocs[doc.RelativePath] = true
			resultCh <- models.DocumentResult{
				RelativePath: doc.RelativePath,
				Status:       models.ResultFailed,
				Error:        fmt.Sprintf("failed to download parse result: %v", err),
			}
			return
		}

		items, err := parser.ReadContentList(doc.Outputs.ParseArchive)
		if err != nil {
			failedDocs[doc.RelativePath] = true
			resultCh <- models.DocumentResult{
				RelativePath: doc.RelativePath,
				Status:       models.ResultFailed,
				Error:        fmt.Sprintf("failed to read parse archive: %v", err),
			}
			return
		}

		select {
		case ready <- readyDoc{doc: doc, items: items}:
		case <-ctx.Done():
		}
		return
	}

	// 分割あり: 全区画が揃うまで追跡する
	pending, ok := pendings[doc.RelativePath]
	if !ok {
		pending = &pendingDoc{
			doc:         doc,
			totalChunks: ref.totalChunks,
			downloaded:  make(map[int]string),
		}
		pendings[doc.RelativePath] = pending
	}

	if status.State == parser.TaskStateFailed {
		failedDocs[doc.RelativePath] = true
		resultCh <- models.DocumentResult{
			RelativePath: doc.RelativePath,
			Status:       models.ResultFailed,
			Error:        fmt.Sprintf("parse failed (chunk %d): %s", ref.chunk.Index, status.ErrMsg),
		}
		return
	}

	partPath := chunkArchivePath(doc.Outputs.ParseArchive, ref.chunk.Index)
	if err := o.parse.DownloadResult(ctx, status.FullZipURL, partPath); err != nil {
		failedDocs[doc.RelativePath] = true
		resultCh <- models.DocumentResult{
			RelativePath: doc.RelativePath,
			Status:       models.ResultFailed,
			Error:        fmt.Sprintf("failed to download parse result (chunk %d): %v", ref.chunk.Index, err),
		}
		return
	}
	pending.downloaded[ref.chunk.Index] = partPath

	if len(pending.downloaded) < pending.totalChunks {
		return
	}

	// 全区画が揃ったのでページ番号を補正しながらマージする
	items, err := o.mergeChunkArchives(pending, ref.totalChunks)
	if err != nil {
		failedDocs[doc.RelativePath] = true
		resultCh <- models.DocumentResult{
			RelativePath: doc.RelativePath,
			Status:       models.ResultFailed,
			Error:        fmt.Sprintf("failed to merge chunks: %v", err),
		}
		return
	}

	select {
	case ready <- readyDoc{doc: doc, items: items}:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) mergeChunkArchives(pending *pendingDoc, totalChunks int) ([]parser.ContentItem, error) {
	chunks := make([][]parser.ContentItem, 0, totalChunks)
	offsets := make([]int, 0, totalChunks)

	for i := 0; i < totalChunks; i++ {
		partPath, ok := pending.downloaded[i]
		if !ok {
			return nil, fmt.Errorf("chunk %d missing", i)
		}
		items, err := parser.ReadContentList(partPath)
		if err != nil {
			return nil, fmt.Errorf("chunk %d unreadable: %w", i, err)
		}
		chunks = append(chunks, items)
		offsets = append(offsets, i*o.cfg.MaxChunkPages)
	}

	merged, err := parser.MergeChunks(chunks, offsets)
	if err != nil {
		return nil, err
	}

	// マージ結果を通常の解析結果と同じ形で保存し、再実行時の再解析を防ぐ
	if err := parser.WriteContentListArchive(pending.doc.Outputs.ParseArchive, merged); err != nil {
		return nil, err
	}
	for _, partPath := range pending.downloaded {
		os.Remove(partPath)
	}

	return merged, nil
}

// runDispatcher はキューの文書をワーカープールへ投入します
// プールの並列度は投入のたびにAdmissionControllerから読み直される
func (o *Orchestrator) runDispatcher(ctx context.Context, ready <-chan readyDoc, resultCh chan<- models.DocumentResult) {
	pool := translator.NewElasticPool(o.admission)
	defer pool.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case rd, ok := <-ready:
			if !ok {
				return
			}
			err := pool.Submit(ctx, func() {
				resultCh <- o.processDocument(ctx, rd)
			})
			if err != nil {
				resultCh <- models.DocumentResult{
					RelativePath: rd.doc.RelativePath,
					Status:       models.ResultFailed,
					Error:        err.Error(),
				}
			}
		case <-time.After(o.cfg.DequeueTimeout):
			// キューが空の間も停止要求を確認し続ける
		}
	}
}

// processDocument は1文書を翻訳し、成果物を書き出します
func (o *Orchestrator) processDocument(ctx context.Context, rd readyDoc) models.DocumentResult {
	doc := rd.doc

	if rd.formatsOnly {
		if err := o.exportFormats(ctx, doc); err != nil {
			return models.DocumentResult{
				RelativePath: doc.RelativePath,
				Status:       models.ResultFailed,
				Error:        err.Error(),
			}
		}
		return models.DocumentResult{
			RelativePath: doc.RelativePath,
			Status:       models.ResultCompleted,
		}
	}

	units := parser.DecomposeUnits(rd.items)

	results, err := o.translate.ForDocument(doc.RelativePath).TranslateUnits(ctx, units)
	if err != nil {
		return models.DocumentResult{
			RelativePath: doc.RelativePath,
			Status:       models.ResultFailed,
			Error:        fmt.Sprintf("translation aborted: %v", err),
		}
	}

	parser.ApplyResults(rd.items, results)

	if err := o.writeHTML(doc, rd.items); err != nil {
		return models.DocumentResult{
			RelativePath: doc.RelativePath,
			Status:       models.ResultFailed,
			Error:        err.Error(),
			Units:        len(units),
		}
	}

	if err := o.exportFormats(ctx, doc); err != nil {
		return models.DocumentResult{
			RelativePath: doc.RelativePath,
			Status:       models.ResultFailed,
			Error:        err.Error(),
			Units:        len(units),
		}
	}

	// 以前の実行で失敗し今回成功したテキストを台帳から取り除く
	if o.failureLog != nil {
		if err := o.failureLog.RemoveSucceeded(translator.AcceptedTextIDs(results)); err != nil {
			slog.Warn("失敗台帳の書き直しに失敗しました", slog.String("error", err.Error()))
		}
	}

	return models.DocumentResult{
		RelativePath: doc.RelativePath,
		Status:       models.ResultCompleted,
		Units:        len(units),
	}
}

func (o *Orchestrator) writeHTML(doc models.Document, items []parser.ContentItem) error {
	title := strings.TrimSuffix(filepath.Base(doc.RelativePath), filepath.Ext(doc.RelativePath))

	for _, target := range []struct {
		lang render.Language
		path string
	}{
		{render.LanguageOriginal, doc.Outputs.HTMLOriginal},
		{render.LanguageTranslated, doc.Outputs.HTMLTranslated},
	} {
		html, err := o.renderer.Render(title, items, target.lang)
		if err != nil {
			return fmt.Errorf("failed to render %s html: %w", target.lang, err)
		}
		if err := os.MkdirAll(filepath.Dir(target.path), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := os.WriteFile(target.path, []byte(html), 0644); err != nil {
			return fmt.Errorf("failed to write %s html: %w", target.lang, err)
		}
	}
	return nil
}

// exportFormats は訳文・原文HTMLからPDFとDOCXを生成します
// 変換コマンドが無い環境ではスキップし、文書の失敗にはしない
func (o *Orchestrator) exportFormats(ctx context.Context, doc models.Document) error {
	if o.converter == nil {
		return nil
	}

	targets := []struct {
		kind     string
		htmlPath string
		outPath  string
		convert  func(context.Context, string, string) error
	}{
		{"pdf", doc.Outputs.HTMLOriginal, doc.Outputs.PDFOriginal, o.converter.HTMLToPDF},
		{"pdf", doc.Outputs.HTMLTranslated, doc.Outputs.PDFTranslated, o.converter.HTMLToPDF},
		{"docx", doc.Outputs.HTMLOriginal, doc.Outputs.DOCXOriginal, o.converter.HTMLToDOCX},
		{"docx", doc.Outputs.HTMLTranslated, doc.Outputs.DOCXTranslated, o.converter.HTMLToDOCX},
	}

	for _, target := range targets {
		err := target.convert(ctx, target.htmlPath, target.outPath)
		if err == nil {
			continue
		}
		if errors.Is(err, render.ErrConverterUnavailable) {
			slog.Warn("変換コマンドが無いためスキップします",
				slog.String("document", doc.RelativePath),
				slog.String("format", target.kind),
			)
			continue
		}
		return fmt.Errorf("failed to export %s: %w", target.kind, err)
	}
	return nil
}

func dataID(path string) string {
	sum := md5.Sum([]byte(path))
	return fmt.Sprintf("%x", sum)[:16]
}

func chunkArchivePath(archivePath string, chunkIndex int) string {
	ext := filepath.Ext(archivePath)
	return fmt.Sprintf("%s_part%d%s", strings.TrimSuffix(archivePath, ext), chunkIndex+1, ext)
}
