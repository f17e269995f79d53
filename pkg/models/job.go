package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Error kinds recorded on failed jobs. Timeouts are kept apart from other
// failures so operators can tell a stuck job from an errored one.
const (
	JobErrorTimeout     = "timeout"
	JobErrorFatal       = "fatal"
	JobErrorAcquisition = "acquisition"
	JobErrorPanic       = "panic"

	// JobErrorShutdown marks a job interrupted by the worker stopping.
	JobErrorShutdown = "shutdown"
)

// Job is one unit of queued analysis work. Jobs are created pending by an
// external submission path and driven to completed or failed by the worker.
type Job struct {
	ID               uuid.UUID  `db:"id"                 json:"id"`
	UserID           uuid.UUID  `db:"user_id"            json:"user_id"`
	SourceRef        string     `db:"source_ref"         json:"source_ref"`
	VideoPath        *string    `db:"video_path"         json:"video_path,omitempty"`
	Status           string     `db:"status"             json:"status"`
	Progress         int        `db:"progress"           json:"progress"`
	CurrentStep      string     `db:"current_step"       json:"current_step"`
	CurrentStepIndex int        `db:"current_step_index" json:"current_step_index"`
	ResultID         *uuid.UUID `db:"result_id"          json:"result_id,omitempty"`
	ErrorKind        *string    `db:"error_kind"         json:"error_kind,omitempty"`
	ErrorMessage     *string    `db:"error_message"      json:"error_message,omitempty"`
	Archived         bool       `db:"archived"           json:"archived"`
	CreatedAt        time.Time  `db:"created_at"         json:"created_at"`
	StartedAt        *time.Time `db:"started_at"         json:"started_at,omitempty"`
	CompletedAt      *time.Time `db:"completed_at"       json:"completed_at,omitempty"`
	UpdatedAt        time.Time  `db:"updated_at"         json:"updated_at"`
}

// IsTerminal reports whether the job reached completed or failed.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Snapshot returns the polling view of the job.
func (j *Job) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		JobID:            j.ID,
		Status:           j.Status,
		Progress:         j.Progress,
		CurrentStep:      j.CurrentStep,
		CurrentStepIndex: j.CurrentStepIndex,
	}
}

// ProgressSnapshot is what a polling client sees for a job.
type ProgressSnapshot struct {
	JobID            uuid.UUID `json:"job_id"`
	Status           string    `json:"status"`
	Progress         int       `json:"progress"`
	CurrentStep      string    `json:"current_step"`
	CurrentStepIndex int       `json:"current_step_index"`
}
