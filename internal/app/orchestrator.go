// Package app wires the download engine together: configuration loading
// and the orchestrator owning the full lifecycle of every download task.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/streamvault-go/internal/domain"
	"github.com/yourusername/streamvault-go/internal/fetch"
	"github.com/yourusername/streamvault-go/internal/hls"
	"github.com/yourusername/streamvault-go/internal/infrastructure"
	"github.com/yourusername/streamvault-go/internal/transfer"
)

var (
	// ErrTaskNotFound is returned for operations on unknown task ids.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidState is returned when an operation does not apply to the
	// task's current state.
	ErrInvalidState = errors.New("operation not valid in current task state")
)

// transferOutcome records why an in-flight transfer is being torn down, so
// its completion event can be reconciled correctly.
type transferOutcome int

const (
	outcomeRunning transferOutcome = iota
	outcomePaused
	outcomeCancelled
)

type transferHandle struct {
	runID   string
	cancel  context.CancelFunc
	outcome transferOutcome
}

// Orchestrator owns the task collection and its lifecycle. All mutations
// run on a single goroutine; public methods post closures into that
// goroutine and wait, and transfer goroutines report back the same way, so
// task fields are never touched concurrently.
type Orchestrator struct {
	cfg      domain.DownloadConfig
	store    domain.TaskStore
	notifier *infrastructure.Notifier
	logger   *zap.Logger

	ops  chan func()
	quit chan struct{}
	done chan struct{}

	// loop-owned state
	tasks   []*domain.DownloadTask // insertion order, FIFO for promotion
	handles map[string]*transferHandle
}

// NewOrchestrator creates an orchestrator over the given store. Call Start
// before use.
func NewOrchestrator(cfg domain.DownloadConfig, store domain.TaskStore, notifier *infrastructure.Notifier, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		logger:   logger,
		ops:      make(chan func()),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		handles:  make(map[string]*transferHandle),
	}
}

// Start loads the persisted snapshot, demotes tasks recorded as
// downloading by a prior abnormal termination back to queued, and begins
// processing.
func (o *Orchestrator) Start() error {
	if err := os.MkdirAll(o.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create downloads directory: %w", err)
	}

	tasks, err := o.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load task store: %w", err)
	}
	o.tasks = tasks

	recovered := 0
	for _, t := range o.tasks {
		if t.State == domain.StateDownloading {
			t.State = domain.StateQueued
			recovered++
		}
	}
	if recovered > 0 {
		o.logger.Info("Recovered interrupted downloads", zap.Int("count", recovered))
		o.persist()
	}

	go o.run()

	o.do(func() { o.scanQueue() })
	return nil
}

// Stop cancels in-flight transfers and shuts the run loop down. Tasks left
// in the downloading state are demoted to queued on the next start.
func (o *Orchestrator) Stop() {
	o.do(func() {
		for _, h := range o.handles {
			h.cancel()
		}
	})
	close(o.quit)
	<-o.done
}

func (o *Orchestrator) run() {
	defer close(o.done)
	for {
		select {
		case fn := <-o.ops:
			fn()
		case <-o.quit:
			return
		}
	}
}

// do runs fn on the orchestrator goroutine and waits for it.
func (o *Orchestrator) do(fn func()) {
	ran := make(chan struct{})
	select {
	case o.ops <- func() { fn(); close(ran) }:
		<-ran
	case <-o.quit:
	}
}

// post schedules fn on the orchestrator goroutine without waiting. Used by
// transfer goroutines for progress and completion events.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.ops <- fn:
	case <-o.quit:
	}
}

// Enqueue registers a download for the requested content. Enqueueing
// content that is already queued, downloading, paused, or completed is a
// no-op returning the existing task; a failed task is discarded and
// replaced with a fresh queued one.
func (o *Orchestrator) Enqueue(req domain.ContentRequest) (*domain.DownloadTask, error) {
	if req.StreamURL == "" {
		return nil, fmt.Errorf("stream URL is required")
	}

	var task *domain.DownloadTask
	o.do(func() {
		id := req.TaskID()
		if i, existing := o.findTask(id); existing != nil {
			if existing.State != domain.StateFailed {
				task = existing.Clone()
				return
			}
			o.tasks = append(o.tasks[:i], o.tasks[i+1:]...)
		}

		t := domain.NewDownloadTask(req)
		if !validSourceURL(req.StreamURL) {
			// Input error: the task fails immediately, no transfer starts.
			t.MarkFailed(fmt.Errorf("invalid source URL: %q", req.StreamURL))
		}
		o.tasks = append(o.tasks, t)
		o.logger.Info("Task enqueued",
			zap.String("id", t.ID),
			zap.String("title", t.Title),
			zap.String("state", string(t.State)),
			zap.Bool("hls", t.HLS))
		o.persist()
		o.publish()
		o.scanQueue()
		task = t.Clone()
	})
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// Pause suspends an in-flight download. Valid only from the downloading
// state. Manifest downloads have no partial-resume state, so their
// progress resets to zero.
func (o *Orchestrator) Pause(id string) error {
	var err error
	o.do(func() {
		_, t := o.findTask(id)
		if t == nil {
			err = ErrTaskNotFound
			return
		}
		if t.State != domain.StateDownloading {
			err = fmt.Errorf("%w: %s is %s", ErrInvalidState, id, t.State)
			return
		}
		if h := o.handles[id]; h != nil {
			h.outcome = outcomePaused
			h.cancel()
		}
		t.MarkPaused()
		o.logger.Info("Task paused", zap.String("id", id))
		o.persist()
		o.publish()
		o.scanQueue()
	})
	return err
}

// Resume re-queues a paused or failed task, clearing any stored error.
func (o *Orchestrator) Resume(id string) error {
	var err error
	o.do(func() {
		_, t := o.findTask(id)
		if t == nil {
			err = ErrTaskNotFound
			return
		}
		if t.State != domain.StatePaused && t.State != domain.StateFailed {
			err = fmt.Errorf("%w: %s is %s", ErrInvalidState, id, t.State)
			return
		}
		t.ResetForRetry()
		o.logger.Info("Task resumed", zap.String("id", id))
		o.persist()
		o.publish()
		o.scanQueue()
	})
	return err
}

// Cancel aborts a non-terminal task, deleting the record and any partial
// output files.
func (o *Orchestrator) Cancel(id string) error {
	var err error
	o.do(func() {
		i, t := o.findTask(id)
		if t == nil {
			err = ErrTaskNotFound
			return
		}
		if t.State == domain.StateCompleted || t.State == domain.StateFailed {
			err = fmt.Errorf("%w: %s is %s", ErrInvalidState, id, t.State)
			return
		}
		o.dropTask(i, t, true)
		o.logger.Info("Task cancelled", zap.String("id", id))
		o.persist()
		o.publish()
		o.scanQueue()
	})
	return err
}

// Remove deletes a task record in any state, cancelling its transfer if
// one is in flight. When deleteFile is set, the output and subtitle files
// are removed as well.
func (o *Orchestrator) Remove(id string, deleteFile bool) error {
	var err error
	o.do(func() {
		i, t := o.findTask(id)
		if t == nil {
			err = ErrTaskNotFound
			return
		}
		o.dropTask(i, t, deleteFile)
		o.logger.Info("Task removed", zap.String("id", id), zap.Bool("delete_file", deleteFile))
		o.persist()
		o.publish()
		o.scanQueue()
	})
	return err
}

// dropTask removes the task at index i, tearing down its transfer and
// optionally its files. Loop-owned.
func (o *Orchestrator) dropTask(i int, t *domain.DownloadTask, deleteFiles bool) {
	if h := o.handles[t.ID]; h != nil {
		h.outcome = outcomeCancelled
		h.cancel()
	}
	o.tasks = append(o.tasks[:i], o.tasks[i+1:]...)

	os.Remove(filepath.Join(o.cfg.Dir, t.FileStem()+".part"))
	if deleteFiles {
		if t.FileName != "" {
			os.Remove(filepath.Join(o.cfg.Dir, t.FileName))
		}
		if t.SubtitleFileName != "" {
			os.Remove(filepath.Join(o.cfg.Dir, t.SubtitleFileName))
		}
	}
}

// PauseAll pauses every downloading task.
func (o *Orchestrator) PauseAll() {
	o.bulk(func(t *domain.DownloadTask) bool { return t.State == domain.StateDownloading },
		func(t *domain.DownloadTask) {
			if h := o.handles[t.ID]; h != nil {
				h.outcome = outcomePaused
				h.cancel()
			}
			t.MarkPaused()
		})
}

// ResumeAll re-queues every paused task.
func (o *Orchestrator) ResumeAll() {
	o.bulk(func(t *domain.DownloadTask) bool { return t.State == domain.StatePaused },
		func(t *domain.DownloadTask) { t.ResetForRetry() })
}

// RetryAllFailed re-queues every failed task.
func (o *Orchestrator) RetryAllFailed() {
	o.bulk(func(t *domain.DownloadTask) bool { return t.State == domain.StateFailed },
		func(t *domain.DownloadTask) { t.ResetForRetry() })
}

// bulk applies mutate to every matching task, then persists and rescans
// once.
func (o *Orchestrator) bulk(match func(*domain.DownloadTask) bool, mutate func(*domain.DownloadTask)) {
	o.do(func() {
		changed := 0
		for _, t := range o.tasks {
			if match(t) {
				mutate(t)
				changed++
			}
		}
		if changed > 0 {
			o.persist()
			o.publish()
			o.scanQueue()
		}
	})
}

// CancelAllActive cancels every queued or downloading task.
func (o *Orchestrator) CancelAllActive() {
	o.removeMatching(func(t *domain.DownloadTask) bool { return t.IsActive() }, true)
}

// DeleteAllCompleted removes every completed task and its files.
func (o *Orchestrator) DeleteAllCompleted() {
	o.removeMatching(func(t *domain.DownloadTask) bool { return t.State == domain.StateCompleted }, true)
}

// DeleteAll removes every task and its files.
func (o *Orchestrator) DeleteAll() {
	o.removeMatching(func(*domain.DownloadTask) bool { return true }, true)
}

func (o *Orchestrator) removeMatching(match func(*domain.DownloadTask) bool, deleteFiles bool) {
	o.do(func() {
		changed := 0
		for i := len(o.tasks) - 1; i >= 0; i-- {
			t := o.tasks[i]
			if match(t) {
				o.dropTask(i, t, deleteFiles)
				changed++
			}
		}
		if changed > 0 {
			o.persist()
			o.publish()
			o.scanQueue()
		}
	})
}

// Task returns a snapshot of one task, or nil.
func (o *Orchestrator) Task(id string) *domain.DownloadTask {
	var task *domain.DownloadTask
	o.do(func() {
		if _, t := o.findTask(id); t != nil {
			task = t.Clone()
		}
	})
	return task
}

// Tasks returns a snapshot of all tasks in insertion order.
func (o *Orchestrator) Tasks() []*domain.DownloadTask {
	var tasks []*domain.DownloadTask
	o.do(func() { tasks = o.cloneTasks() })
	return tasks
}

// IsDownloaded reports whether the content's task has completed.
func (o *Orchestrator) IsDownloaded(id string) bool {
	t := o.Task(id)
	return t != nil && t.State == domain.StateCompleted
}

// IsDownloading reports whether the content's task is queued or in flight.
func (o *Orchestrator) IsDownloading(id string) bool {
	t := o.Task(id)
	return t != nil && t.IsActive()
}

// LocalFilePath resolves a completed task to its on-disk path, or "" when
// the task is not completed or the file is missing.
func (o *Orchestrator) LocalFilePath(id string) string {
	t := o.Task(id)
	if t == nil || t.State != domain.StateCompleted || t.FileName == "" {
		return ""
	}
	path := filepath.Join(o.cfg.Dir, t.FileName)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// LocalSubtitlePath resolves a completed task's subtitle file, or "".
func (o *Orchestrator) LocalSubtitlePath(id string) string {
	t := o.Task(id)
	if t == nil || t.SubtitleFileName == "" {
		return ""
	}
	path := filepath.Join(o.cfg.Dir, t.SubtitleFileName)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// StorageUsed sums the on-disk sizes of all completed outputs and
// subtitles.
func (o *Orchestrator) StorageUsed() int64 {
	var total int64
	for _, t := range o.Tasks() {
		if t.State != domain.StateCompleted {
			continue
		}
		for _, name := range []string{t.FileName, t.SubtitleFileName} {
			if name == "" {
				continue
			}
			if stat, err := os.Stat(filepath.Join(o.cfg.Dir, name)); err == nil {
				total += stat.Size()
			}
		}
	}
	return total
}

// Stats summarizes the task collection by state.
func (o *Orchestrator) Stats() domain.TaskStats {
	var stats domain.TaskStats
	o.do(func() {
		stats.Total = len(o.tasks)
		for _, t := range o.tasks {
			switch t.State {
			case domain.StateQueued:
				stats.Queued++
			case domain.StateDownloading:
				stats.Downloading++
			case domain.StatePaused:
				stats.Paused++
			case domain.StateCompleted:
				stats.Completed++
			case domain.StateFailed:
				stats.Failed++
			}
		}
	})
	return stats
}

// ActiveCount returns the number of tasks currently downloading.
func (o *Orchestrator) ActiveCount() int {
	var n int
	o.do(func() { n = o.activeCount() })
	return n
}

func validSourceURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// --- loop-owned internals ---

func (o *Orchestrator) findTask(id string) (int, *domain.DownloadTask) {
	for i, t := range o.tasks {
		if t.ID == id {
			return i, t
		}
	}
	return -1, nil
}

func (o *Orchestrator) activeCount() int {
	n := 0
	for _, t := range o.tasks {
		if t.State == domain.StateDownloading {
			n++
		}
	}
	return n
}

func (o *Orchestrator) cloneTasks() []*domain.DownloadTask {
	tasks := make([]*domain.DownloadTask, len(o.tasks))
	for i, t := range o.tasks {
		tasks[i] = t.Clone()
	}
	return tasks
}

func (o *Orchestrator) persist() {
	if err := o.store.Save(o.tasks); err != nil {
		o.logger.Error("Failed to persist task snapshot", zap.Error(err))
	}
}

func (o *Orchestrator) publish() {
	if o.notifier != nil {
		o.notifier.Publish(infrastructure.TaskEvent{
			Tasks:       o.cloneTasks(),
			ActiveCount: o.activeCount(),
		})
	}
}

// scanQueue promotes queued tasks in FIFO order until the concurrency cap
// is reached.
func (o *Orchestrator) scanQueue() {
	slots := o.cfg.ConcurrentLimit - o.activeCount()
	if slots <= 0 {
		return
	}
	started := false
	for _, t := range o.tasks {
		if slots == 0 {
			break
		}
		if t.State != domain.StateQueued {
			continue
		}
		o.startTransfer(t)
		slots--
		started = true
	}
	if started {
		o.persist()
		o.publish()
	}
}

// startTransfer marks the task as downloading and launches its transfer
// goroutine. Loop-owned.
func (o *Orchestrator) startTransfer(t *domain.DownloadTask) {
	ctx, cancel := context.WithCancel(context.Background())
	runID := uuid.New().String()
	o.handles[t.ID] = &transferHandle{runID: runID, cancel: cancel}
	t.MarkDownloading()

	o.logger.Info("Starting transfer",
		zap.String("id", t.ID),
		zap.String("run_id", runID),
		zap.Bool("hls", t.HLS))

	go o.runTransfer(ctx, t.Clone(), runID)
}

// runTransfer executes one transfer attempt off the loop goroutine,
// posting progress and the final outcome back into it.
func (o *Orchestrator) runTransfer(ctx context.Context, t *domain.DownloadTask, runID string) {
	client := fetch.NewClient(fetch.ClientConfig{
		Timeout:      o.cfg.RequestTimeout,
		MaxAttempts:  o.cfg.MaxRetries,
		RetryBackoff: o.cfg.RetryBackoff,
		UserAgent:    o.cfg.UserAgent,
		Headers:      t.Headers,
	}, o.logger)

	var fileName string
	var size int64
	var err error
	if t.HLS {
		fileName, size, err = o.runHLSTransfer(ctx, client, t, runID)
	} else {
		fileName, size, err = o.runDirectTransfer(ctx, client, t, runID)
	}

	subtitleName := ""
	if err == nil && t.SubtitleURL != "" {
		subtitleName = o.fetchSubtitle(ctx, client, t)
	}

	o.post(func() { o.finishTransfer(t.ID, runID, fileName, size, subtitleName, err) })
}

func (o *Orchestrator) runHLSTransfer(ctx context.Context, client *fetch.Client, t *domain.DownloadTask, runID string) (string, int64, error) {
	fileName := t.FileStem() + ".ts"
	destPath := filepath.Join(o.cfg.Dir, fileName)

	assembler := hls.NewAssembler(client, o.logger.With(zap.String("run_id", runID)))
	err := assembler.Assemble(ctx, t.StreamURL, destPath, func(completed, total int) {
		o.post(func() { o.applySegmentProgress(t.ID, runID, completed, total) })
	})
	if err != nil {
		return "", 0, err
	}

	stat, err := os.Stat(destPath)
	if err != nil {
		return "", 0, fmt.Errorf("assembled file missing: %w", err)
	}
	return fileName, stat.Size(), nil
}

func (o *Orchestrator) runDirectTransfer(ctx context.Context, client *fetch.Client, t *domain.DownloadTask, runID string) (string, int64, error) {
	direct := transfer.NewDirect(client, o.cfg.Dir, o.cfg.ProgressInterval,
		o.logger.With(zap.String("run_id", runID)))

	fileName, err := direct.Download(ctx, t.StreamURL, t.FileStem(), t.Headers, func(p transfer.Progress) {
		o.post(func() { o.applyByteProgress(t.ID, runID, p) })
	})
	if err != nil {
		return "", 0, err
	}

	stat, err := os.Stat(filepath.Join(o.cfg.Dir, fileName))
	if err != nil {
		return "", 0, fmt.Errorf("downloaded file missing: %w", err)
	}
	return fileName, stat.Size(), nil
}

// fetchSubtitle retrieves the task's subtitle, best-effort: failures are
// logged and never fail the task.
func (o *Orchestrator) fetchSubtitle(ctx context.Context, client *fetch.Client, t *domain.DownloadTask) string {
	direct := transfer.NewDirect(client, o.cfg.Dir, o.cfg.ProgressInterval, o.logger)
	name, err := direct.FetchSubtitle(ctx, t.SubtitleURL, t.FileStem(), t.Headers)
	if err != nil {
		o.logger.Warn("Subtitle fetch failed",
			zap.String("id", t.ID),
			zap.String("url", t.SubtitleURL),
			zap.Error(err))
		return ""
	}
	return name
}

// applySegmentProgress applies a per-segment progress report. Loop-owned.
func (o *Orchestrator) applySegmentProgress(id, runID string, completed, total int) {
	if h := o.handles[id]; h == nil || h.runID != runID {
		return
	}
	_, t := o.findTask(id)
	if t == nil || t.State != domain.StateDownloading {
		return
	}
	if total > 0 {
		t.Progress = float64(completed) / float64(total)
	}
	o.persist()
	o.publish()
}

// applyByteProgress applies a throttled byte-level progress report.
// Loop-owned.
func (o *Orchestrator) applyByteProgress(id, runID string, p transfer.Progress) {
	if h := o.handles[id]; h == nil || h.runID != runID {
		return
	}
	_, t := o.findTask(id)
	if t == nil || t.State != domain.StateDownloading {
		return
	}
	t.DownloadedBytes = p.DownloadedBytes
	t.TotalBytes = p.TotalBytes
	if p.TotalBytes > 0 {
		t.Progress = float64(p.DownloadedBytes) / float64(p.TotalBytes)
	}
	o.persist()
	o.publish()
}

// finishTransfer reconciles a transfer's outcome back into task state.
// Loop-owned.
func (o *Orchestrator) finishTransfer(id, runID string, fileName string, size int64, subtitleName string, err error) {
	h := o.handles[id]
	if h == nil || h.runID != runID {
		return // superseded by a newer run
	}
	delete(o.handles, id)

	if h.outcome != outcomeRunning {
		// Pause or cancel already reconciled the task; the slot is free.
		o.scanQueue()
		return
	}

	_, t := o.findTask(id)
	if t == nil {
		return
	}

	switch {
	case err == nil:
		t.MarkCompleted(fileName, size)
		if subtitleName != "" {
			t.SubtitleFileName = subtitleName
		}
		o.logger.Info("Transfer completed",
			zap.String("id", id),
			zap.String("file", fileName),
			zap.Int64("size", size))
	case errors.Is(err, context.Canceled):
		// Shutdown teardown; startup recovery re-queues the task.
		return
	default:
		t.MarkFailed(err)
		o.logger.Error("Transfer failed", zap.String("id", id), zap.Error(err))
	}

	o.persist()
	o.publish()
	o.scanQueue()
}
