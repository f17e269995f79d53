package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/riskscan/internal/api/response"
	"github.com/kiranshivaraju/riskscan/internal/worker"
)

// Processor is the worker surface the trigger endpoint drives.
type Processor interface {
	ProcessNext(ctx context.Context) worker.Summary
	Trigger()
}

type processNextResponse struct {
	worker.Summary
	Message string `json:"message"`
}

// NewProcessNextHandler returns an http.HandlerFunc for
// POST /api/v1/worker/process-next. With ?async=true the worker is nudged and
// the call returns 202 at once; otherwise it blocks until the job settles.
func NewProcessNextHandler(p Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("async") == "true" {
			p.Trigger()
			response.Accepted(w, map[string]string{"status": "triggered"})
			return
		}

		// A claimed job must settle even if the caller hangs up.
		summary := p.ProcessNext(context.WithoutCancel(r.Context()))
		if summary.Status == worker.StatusFailed && summary.JobID == nil {
			response.Internal(w, summary.String())
			return
		}
		response.JSON(w, processNextResponse{Summary: summary, Message: summary.String()})
	}
}
