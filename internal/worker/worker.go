// Package worker drives queued jobs through the analysis pipeline, one job
// at a time per Worker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/riskscan/internal/analysis"
	"github.com/kiranshivaraju/riskscan/internal/notify"
	"github.com/kiranshivaraju/riskscan/internal/source"
	"github.com/kiranshivaraju/riskscan/internal/store"
	"github.com/kiranshivaraju/riskscan/pkg/models"
)

// ErrJobTimeout is recorded on jobs that outlive the job timeout.
var ErrJobTimeout = errors.New("job exceeded its time limit")

const (
	DefaultJobTimeout   = 5 * time.Minute
	DefaultChainDelay   = 2 * time.Second
	DefaultPollInterval = 30 * time.Second

	progressTTL = time.Hour
	resultTTL   = 24 * time.Hour

	// terminalWriteTimeout bounds the final status write, which runs even
	// when the caller's context is already done.
	terminalWriteTimeout = 10 * time.Second
)

// Classifier produces the content context for a job.
type Classifier interface {
	Classify(ctx context.Context, in analysis.Input) (analysis.Classification, error)
}

// Scorer scores every taxonomy category.
type Scorer interface {
	Analyze(ctx context.Context, content string, hints analysis.Hints) (analysis.Batch, error)
}

// SnapshotCache mirrors progress and results for pollers.
type SnapshotCache interface {
	SetProgress(ctx context.Context, snap models.ProgressSnapshot, ttl time.Duration) error
	SetResult(ctx context.Context, result *models.AnalysisResult, ttl time.Duration) error
}

// Metrics is the subset of observability.Metrics the worker records to.
type Metrics interface {
	ObserveJob(status, errorKind string, d time.Duration)
}

// Worker claims the oldest pending job and runs it to a terminal state.
// ProcessNext is safe to call concurrently; calls that find the worker busy
// return immediately.
type Worker struct {
	store      store.Store
	acquirer   source.Acquirer
	classifier Classifier
	scorer     Scorer
	cache      SnapshotCache
	notifier   notify.Notifier
	metrics    Metrics

	jobTimeout   time.Duration
	chainDelay   time.Duration
	pollInterval time.Duration

	mu      sync.Mutex
	trigger chan struct{}
}

// Option configures a Worker.
type Option func(*Worker)

func WithCache(c SnapshotCache) Option {
	return func(w *Worker) { w.cache = c }
}

func WithNotifier(n notify.Notifier) Option {
	return func(w *Worker) { w.notifier = n }
}

func WithMetrics(m Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithTimings overrides the job timeout, the delay before chaining to the
// next pending job, and the idle poll interval. Zero values keep the defaults.
func WithTimings(jobTimeout, chainDelay, pollInterval time.Duration) Option {
	return func(w *Worker) {
		if jobTimeout > 0 {
			w.jobTimeout = jobTimeout
		}
		if chainDelay > 0 {
			w.chainDelay = chainDelay
		}
		if pollInterval > 0 {
			w.pollInterval = pollInterval
		}
	}
}

func New(st store.Store, acquirer source.Acquirer, classifier Classifier, scorer Scorer, opts ...Option) *Worker {
	w := &Worker{
		store:        st,
		acquirer:     acquirer,
		classifier:   classifier,
		scorer:       scorer,
		notifier:     notify.Nop{},
		jobTimeout:   DefaultJobTimeout,
		chainDelay:   DefaultChainDelay,
		pollInterval: DefaultPollInterval,
		trigger:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ProcessNext claims the oldest pending job and processes it.
func (w *Worker) ProcessNext(ctx context.Context) Summary {
	if !w.mu.TryLock() {
		return alreadyProcessing(nil)
	}
	defer w.mu.Unlock()

	next, err := w.store.GetNextPendingJob(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return noPending()
	}
	if err != nil {
		return failed(nil, fmt.Errorf("loading next pending job: %w", err))
	}

	job, err := w.claim(ctx, next.ID)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			slog.InfoContext(ctx, "job claimed elsewhere", "job_id", next.ID)
			return alreadyProcessing(&next.ID)
		}
		return failed(&next.ID, err)
	}

	summary := w.process(ctx, job)
	if summary.Status == StatusCompleted {
		w.chain(ctx)
	}
	return summary
}

// claim re-reads the job and moves it to processing only if it is still
// pending. Losing the race yields store.ErrStatusConflict.
func (w *Worker) claim(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := w.store.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("re-reading job: %w", err)
	}
	if job.Status != models.JobStatusPending {
		return nil, store.ErrStatusConflict
	}

	first := stepPrepare
	if err := w.store.TransitionJob(ctx, id, models.JobStatusPending, models.JobStatusProcessing,
		store.WithStep(first.progress, first.label, first.index)); err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}

	job.Status = models.JobStatusProcessing
	job.Progress, job.CurrentStep, job.CurrentStepIndex = first.progress, first.label, first.index
	w.mirror(ctx, job)
	slog.InfoContext(ctx, "job claimed", "job_id", job.ID, "source_ref", job.SourceRef)
	return job, nil
}

// outcome is what the pipeline goroutine hands back.
type outcome struct {
	result *models.AnalysisResult
	kind   string
	err    error
}

// process runs the pipeline under the timeout guard. A pipeline that is
// still running when the guard fires is abandoned: the job fails with a
// timeout and whatever the pipeline produces later is discarded.
func (w *Worker) process(ctx context.Context, job *models.Job) Summary {
	started := time.Now()
	deadline := started.Add(w.jobTimeout)

	run := &pipelineRun{worker: w, job: job}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{kind: models.JobErrorPanic, err: fmt.Errorf("pipeline panic: %v", r)}
			}
		}()
		res, kind, err := run.execute(ctx)
		if run.abandoned.Load() {
			slog.Warn("discarding result of timed out job", "job_id", job.ID, "error", err)
		}
		done <- outcome{result: res, kind: kind, err: err}
	}()

	guard := time.NewTimer(w.jobTimeout)
	defer guard.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return w.fail(ctx, job, started, models.JobErrorShutdown,
					fmt.Errorf("worker shutting down: %w", out.err))
			}
			return w.fail(ctx, job, started, out.kind, out.err)
		}
		return w.complete(ctx, job, started, deadline, out.result)
	case <-guard.C:
		run.abandoned.Store(true)
		return w.fail(ctx, job, started, models.JobErrorTimeout,
			fmt.Errorf("%w after %s", ErrJobTimeout, w.jobTimeout))
	}
}

// complete persists the result and only then marks the job completed.
func (w *Worker) complete(ctx context.Context, job *models.Job, started, deadline time.Time, result *models.AnalysisResult) Summary {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	w.checkpoint(ctx, job, stepPersist)
	if err := w.store.PersistResult(ctx, result); err != nil {
		return w.fail(ctx, job, started, terminalKind(ctx, err), fmt.Errorf("persisting result: %w", err))
	}

	final := stepCompleted
	err := w.store.TransitionJob(ctx, job.ID, models.JobStatusProcessing, models.JobStatusCompleted,
		store.WithResultID(result.ID), store.WithArchived(), store.WithStep(final.progress, final.label, final.index))
	if err != nil {
		slog.ErrorContext(ctx, "completing job", "job_id", job.ID, "result_id", result.ID, "error", err)
		return w.fail(ctx, job, started, terminalKind(ctx, err), fmt.Errorf("completing job: %w", err))
	}

	job.Status = models.JobStatusCompleted
	job.Progress, job.CurrentStep, job.CurrentStepIndex = final.progress, final.label, final.index
	job.ResultID = &result.ID
	job.Archived = true

	if err := w.store.IncrementUsageCounter(ctx, job.UserID); err != nil {
		slog.WarnContext(ctx, "incrementing usage counter", "job_id", job.ID, "user_id", job.UserID, "error", err)
	}
	w.mirror(ctx, job)
	if w.cache != nil {
		if err := w.cache.SetResult(ctx, result, resultTTL); err != nil {
			slog.WarnContext(ctx, "caching result", "result_id", result.ID, "error", err)
		}
	}
	w.notifier.Notify(ctx, notify.Event{
		Type:            notify.EventJobCompleted,
		JobID:           job.ID,
		UserID:          job.UserID,
		ResultID:        &result.ID,
		OverallRisk:     result.OverallRisk,
		OverallSeverity: result.OverallSeverity,
	})

	elapsed := time.Since(started)
	if w.metrics != nil {
		w.metrics.ObserveJob(models.JobStatusCompleted, "", elapsed)
	}
	slog.InfoContext(ctx, "job completed",
		"job_id", job.ID,
		"result_id", result.ID,
		"overall_risk", result.OverallRisk,
		"provider", result.Provider,
		"duration_ms", elapsed.Milliseconds(),
	)
	return completed(job.ID, result.ID)
}

// terminalKind classifies a storage error hit while finishing a job.
func terminalKind(ctx context.Context, err error) string {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return models.JobErrorShutdown
	case errors.Is(err, context.DeadlineExceeded):
		return models.JobErrorTimeout
	}
	return models.JobErrorFatal
}

// fail records the failure. The write is detached from ctx so a cancelled
// caller cannot leave the job stuck in processing.
func (w *Worker) fail(ctx context.Context, job *models.Job, started time.Time, kind string, cause error) Summary {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	err := w.store.TransitionJob(ctx, job.ID, models.JobStatusProcessing, models.JobStatusFailed,
		store.WithError(kind, cause.Error()))
	if err != nil && !errors.Is(err, store.ErrStatusConflict) {
		slog.ErrorContext(ctx, "recording job failure", "job_id", job.ID, "error", err)
	}

	job.Status = models.JobStatusFailed
	job.ErrorKind = &kind
	w.mirror(ctx, job)
	w.notifier.Notify(ctx, notify.Event{
		Type:      notify.EventJobFailed,
		JobID:     job.ID,
		UserID:    job.UserID,
		ErrorKind: kind,
		Error:     cause.Error(),
	})

	if w.metrics != nil {
		w.metrics.ObserveJob(models.JobStatusFailed, kind, time.Since(started))
	}
	slog.ErrorContext(ctx, "job failed", "job_id", job.ID, "error_kind", kind, "error", cause)
	return failed(&job.ID, cause)
}

// checkpoint advances the job's progress. Failures are logged; progress is
// advisory and never fails a job.
func (w *Worker) checkpoint(ctx context.Context, job *models.Job, c checkpoint) {
	if err := w.store.UpdateProgress(ctx, job.ID, c.progress, c.label, c.index); err != nil {
		slog.WarnContext(ctx, "updating job progress", "job_id", job.ID, "step", c.label, "error", err)
		return
	}
	snap := models.ProgressSnapshot{
		JobID:            job.ID,
		Status:           models.JobStatusProcessing,
		Progress:         c.progress,
		CurrentStep:      c.label,
		CurrentStepIndex: c.index,
	}
	w.setProgress(ctx, snap)
}

func (w *Worker) mirror(ctx context.Context, job *models.Job) {
	w.setProgress(ctx, job.Snapshot())
}

func (w *Worker) setProgress(ctx context.Context, snap models.ProgressSnapshot) {
	if w.cache == nil {
		return
	}
	if err := w.cache.SetProgress(ctx, snap, progressTTL); err != nil {
		slog.WarnContext(ctx, "caching job progress", "job_id", snap.JobID, "error", err)
	}
}

// chain schedules another ProcessNext when jobs are still waiting.
func (w *Worker) chain(ctx context.Context) {
	n, err := w.store.CountPendingJobs(ctx)
	if err != nil {
		slog.WarnContext(ctx, "counting pending jobs", "error", err)
		return
	}
	if n == 0 {
		return
	}
	slog.InfoContext(ctx, "chaining to next pending job", "pending", n, "delay_ms", w.chainDelay.Milliseconds())
	time.AfterFunc(w.chainDelay, w.Trigger)
}

// Trigger asks Run to process the next job. It never blocks.
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run processes jobs on every trigger and poll tick until ctx is done. Each
// tick also fails jobs left in processing by a crashed process.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "worker started", "poll_interval", w.pollInterval.String(), "job_timeout", w.jobTimeout.String())
	w.sweep(ctx)
	w.Trigger()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped")
			return nil
		case <-w.trigger:
		case <-ticker.C:
			w.sweep(ctx)
		}

		summary := w.ProcessNext(ctx)
		if summary.Status != StatusNoPendingJobs {
			slog.InfoContext(ctx, "process-next finished", "summary", summary.String())
		}
	}
}

// sweep fails processing jobs that started well before any live worker
// could still be running them.
func (w *Worker) sweep(ctx context.Context) {
	n, err := w.store.FailStaleJobs(ctx, w.jobTimeout+time.Minute)
	if err != nil {
		slog.WarnContext(ctx, "failing stale jobs", "error", err)
		return
	}
	if n > 0 {
		slog.WarnContext(ctx, "failed stale jobs", "count", n)
	}
}
