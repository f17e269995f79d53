package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/riskscan/pkg/models"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrDuplicateKey      = errors.New("duplicate key violation")
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrStatusConflict means the row was not in the status the caller
	// expected, usually because another worker got there first.
	ErrStatusConflict = errors.New("job status conflict")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetNextPendingJob(ctx context.Context) (*models.Job, error)
	CountPendingJobs(ctx context.Context) (int, error)
	TransitionJob(ctx context.Context, id uuid.UUID, from, to string, opts ...JobUpdateOption) error
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int, step string, stepIndex int) error
	FailStaleJobs(ctx context.Context, olderThan time.Duration) (int, error)

	PersistResult(ctx context.Context, result *models.AnalysisResult) error
	GetAnalysisResult(ctx context.Context, id uuid.UUID) (*models.AnalysisResult, error)

	IncrementUsageCounter(ctx context.Context, userID uuid.UUID) error
}

// JobUpdate is the set of extra column changes applied with a status transition.
type JobUpdate struct {
	ErrorKind    *string
	ErrorMessage *string
	ResultID     *uuid.UUID
	Archived     bool
	Step         *Step
}

// Step is a progress checkpoint.
type Step struct {
	Progress int
	Label    string
	Index    int
}

type JobUpdateOption func(*JobUpdate)

// ApplyOptions folds opts into a JobUpdate.
func ApplyOptions(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithError(kind, msg string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ErrorKind = &kind
		p.ErrorMessage = &msg
	}
}

func WithResultID(id uuid.UUID) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ResultID = &id
	}
}

// WithArchived drops the job from default queue views.
func WithArchived() JobUpdateOption {
	return func(p *JobUpdate) {
		p.Archived = true
	}
}

// WithStep sets progress and the current step as part of the transition.
func WithStep(progress int, label string, index int) JobUpdateOption {
	return func(p *JobUpdate) {
		p.Step = &Step{Progress: progress, Label: label, Index: index}
	}
}

var validTransitions = map[string][]string{
	models.JobStatusPending:    {models.JobStatusProcessing},
	models.JobStatusProcessing: {models.JobStatusCompleted, models.JobStatusFailed},
}

// ValidTransition reports whether a job may move from one status to another.
func ValidTransition(from, to string) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
