package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/riskscan/internal/api/response"
	"github.com/kiranshivaraju/riskscan/internal/store"
	"github.com/kiranshivaraju/riskscan/pkg/models"
)

// JobCreator persists newly submitted jobs.
type JobCreator interface {
	CreateJob(ctx context.Context, job *models.Job) error
}

// JobReader loads a job by id.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// ProgressReader serves cached progress snapshots.
type ProgressReader interface {
	GetProgress(ctx context.Context, jobID uuid.UUID) (models.ProgressSnapshot, bool, error)
}

// Triggerer wakes the worker.
type Triggerer interface {
	Trigger()
}

type createJobRequest struct {
	UserID    string `json:"user_id"    validate:"required,uuid"`
	SourceRef string `json:"source_ref" validate:"required_without=VideoPath,max=2048"`
	VideoPath string `json:"video_path" validate:"max=2048"`
}

var validate = validator.New()

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// The job is stored pending and the worker is woken to pick it up.
func NewCreateJobHandler(jobs JobCreator, trig Triggerer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "Invalid JSON body", nil)
			return
		}
		req.SourceRef = strings.TrimSpace(req.SourceRef)
		req.VideoPath = strings.TrimSpace(req.VideoPath)

		if err := validate.Struct(req); err != nil {
			response.BadRequest(w, "Invalid job request", validationDetails(err))
			return
		}

		job := &models.Job{
			UserID:    uuid.MustParse(req.UserID),
			SourceRef: req.SourceRef,
			Status:    models.JobStatusPending,
		}
		if req.VideoPath != "" {
			job.VideoPath = &req.VideoPath
		}

		if err := jobs.CreateJob(r.Context(), job); err != nil {
			slog.ErrorContext(r.Context(), "create job failed", "error", err)
			response.Internal(w, "Failed to create job")
			return
		}

		trig.Trigger()
		response.Created(w, job)
	}
}

// NewJobProgressHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/progress. Redis is consulted first; the database
// row is the fallback once the snapshot expires or if Redis is unavailable.
func NewJobProgressHandler(snapshots ProgressReader, jobs JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.BadRequest(w, "jobID must be a UUID", nil)
			return
		}

		snap, ok, err := snapshots.GetProgress(r.Context(), jobID)
		if err != nil {
			slog.WarnContext(r.Context(), "progress cache read failed", "job_id", jobID, "error", err)
		}
		if ok {
			response.JSON(w, snap)
			return
		}

		job, err := jobs.GetJob(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.NotFound(w, "Job")
			return
		}
		if err != nil {
			slog.ErrorContext(r.Context(), "get job failed", "job_id", jobID, "error", err)
			response.Internal(w, "Failed to load job")
			return
		}
		response.JSON(w, job.Snapshot())
	}
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}
