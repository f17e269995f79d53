package worker

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	StatusNoPendingJobs     = "no_pending_jobs"
	StatusAlreadyProcessing = "already_processing"
	StatusCompleted         = "completed"
	StatusFailed            = "failed"
)

// Summary is the outcome of one ProcessNext call.
type Summary struct {
	Status   string     `json:"status"`
	JobID    *uuid.UUID `json:"job_id,omitempty"`
	ResultID *uuid.UUID `json:"result_id,omitempty"`
	Error    string     `json:"error,omitempty"`
}

func (s Summary) String() string {
	switch s.Status {
	case StatusNoPendingJobs:
		return "no pending jobs"
	case StatusAlreadyProcessing:
		return "already processing"
	case StatusCompleted:
		return fmt.Sprintf("completed: {jobId: %s, resultId: %s}", idString(s.JobID), idString(s.ResultID))
	default:
		return fmt.Sprintf("failed: {jobId: %s, error: %s}", idString(s.JobID), s.Error)
	}
}

func idString(id *uuid.UUID) string {
	if id == nil {
		return "-"
	}
	return id.String()
}

func noPending() Summary { return Summary{Status: StatusNoPendingJobs} }

func alreadyProcessing(id *uuid.UUID) Summary {
	return Summary{Status: StatusAlreadyProcessing, JobID: id}
}

func completed(jobID, resultID uuid.UUID) Summary {
	return Summary{Status: StatusCompleted, JobID: &jobID, ResultID: &resultID}
}

func failed(jobID *uuid.UUID, err error) Summary {
	return Summary{Status: StatusFailed, JobID: jobID, Error: err.Error()}
}
