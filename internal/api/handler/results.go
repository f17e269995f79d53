package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/riskscan/internal/api/response"
	"github.com/kiranshivaraju/riskscan/internal/store"
	"github.com/kiranshivaraju/riskscan/pkg/models"
)

// ResultCache serves recently completed results.
type ResultCache interface {
	GetResult(ctx context.Context, id uuid.UUID) (*models.AnalysisResult, bool, error)
}

// ResultReader loads persisted results.
type ResultReader interface {
	GetAnalysisResult(ctx context.Context, id uuid.UUID) (*models.AnalysisResult, error)
}

// NewGetResultHandler returns an http.HandlerFunc for GET /api/v1/results/{resultID}.
func NewGetResultHandler(results ResultCache, st ResultReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "resultID"))
		if err != nil {
			response.BadRequest(w, "resultID must be a UUID", nil)
			return
		}

		cached, ok, err := results.GetResult(r.Context(), id)
		if err != nil {
			slog.WarnContext(r.Context(), "result cache read failed", "result_id", id, "error", err)
		}
		if ok {
			response.JSON(w, cached)
			return
		}

		result, err := st.GetAnalysisResult(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.NotFound(w, "Result")
			return
		}
		if err != nil {
			slog.ErrorContext(r.Context(), "get result failed", "result_id", id, "error", err)
			response.Internal(w, "Failed to load result")
			return
		}
		response.JSON(w, result)
	}
}
