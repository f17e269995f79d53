package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/riskscan/internal/analysis"
	"github.com/kiranshivaraju/riskscan/internal/source"
	"github.com/kiranshivaraju/riskscan/pkg/models"
)

type checkpoint struct {
	progress int
	label    string
	index    int
}

// Fixed progress checkpoints. Completion reuses the last step index.
var (
	stepPrepare   = checkpoint{10, "content preparation", 0}
	stepExtract   = checkpoint{25, "extraction", 1}
	stepAnalyze   = checkpoint{50, "ai analysis", 2}
	stepScore     = checkpoint{75, "risk/policy scoring", 3}
	stepPersist   = checkpoint{90, "result persistence", 4}
	stepCompleted = checkpoint{100, "completed", 4}
)

// pipelineRun is one job's trip through acquisition and analysis. Once
// abandoned it stops at the next stage boundary; in-flight calls are left to
// finish on their own.
type pipelineRun struct {
	worker    *Worker
	job       *models.Job
	abandoned atomic.Bool
}

func (p *pipelineRun) execute(ctx context.Context) (*models.AnalysisResult, string, error) {
	w, job := p.worker, p.job

	in, err := p.prepare(ctx)
	if err != nil {
		return nil, models.JobErrorAcquisition, err
	}

	if err := p.advance(ctx, stepExtract); err != nil {
		return nil, models.JobErrorTimeout, err
	}
	cls, err := w.classifier.Classify(ctx, in)
	if err != nil {
		return nil, models.JobErrorFatal, err
	}
	slog.InfoContext(ctx, "content classified",
		"job_id", job.ID,
		"context", cls.Context.PrimaryCategory,
		"provider", cls.Provider,
		"degraded", cls.Degraded,
	)

	if err := p.advance(ctx, stepAnalyze); err != nil {
		return nil, models.JobErrorTimeout, err
	}
	content := in.Text
	if strings.TrimSpace(content) == "" {
		content = cls.Context.Summary
	}
	batch, err := w.scorer.Analyze(ctx, content, analysis.HintsFrom(cls.Context))
	if err != nil {
		return nil, models.JobErrorFatal, err
	}

	if err := p.advance(ctx, stepScore); err != nil {
		return nil, models.JobErrorTimeout, err
	}
	overall, severity := analysis.Overall(batch.Categories)
	if len(batch.Defaulted) > 0 {
		slog.InfoContext(ctx, "categories defaulted", "job_id", job.ID, "count", len(batch.Defaulted))
	}

	return &models.AnalysisResult{
		ID:              uuid.New(),
		JobID:           job.ID,
		UserID:          job.UserID,
		SourceRef:       job.SourceRef,
		Provider:        batch.Provider,
		Context:         cls.Context,
		Categories:      batch.Categories,
		OverallRisk:     overall,
		OverallSeverity: severity,
		CreatedAt:       time.Now().UTC(),
	}, "", nil
}

// prepare acquires the job's content. A job with a video can be analysed
// without any text, so acquisition failures only fail text-only jobs.
func (p *pipelineRun) prepare(ctx context.Context) (analysis.Input, error) {
	job := p.job
	in := analysis.Input{Metadata: map[string]string{}}
	if job.VideoPath != nil {
		in.VideoPath = *job.VideoPath
	}

	doc, err := p.worker.acquirer.Acquire(ctx, job.SourceRef)
	if err == nil && strings.TrimSpace(doc.Text) == "" {
		err = source.ErrNoContent
	}
	if err != nil {
		if in.VideoPath == "" {
			return in, fmt.Errorf("acquiring content: %w", err)
		}
		slog.WarnContext(ctx, "content acquisition failed, continuing with video only",
			"job_id", job.ID, "error", err)
		return in, nil
	}

	in.Text = doc.Text
	if doc.Metadata != nil {
		in.Metadata = doc.Metadata
	}
	if doc.Partial {
		slog.InfoContext(ctx, "analysing metadata-only content", "job_id", job.ID)
	}
	return in, nil
}

var errAbandoned = errors.New("job abandoned after timeout")

func (p *pipelineRun) advance(ctx context.Context, c checkpoint) error {
	if p.abandoned.Load() {
		return errAbandoned
	}
	p.worker.checkpoint(ctx, p.job, c)
	return nil
}
