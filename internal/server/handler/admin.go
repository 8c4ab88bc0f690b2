package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

// maxAdminBody bounds the sync request body.
const maxAdminBody = 4 << 10

// JobQueue is the part of the job queue the admin endpoints drive.
type JobQueue interface {
	Enqueue(ctx context.Context, req domain.JobRequest) (domain.Job, error)
	Get(ctx context.Context, id string) (domain.Job, error)
	Cancel(ctx context.Context, id string) (domain.Job, error)
}

// AdminHandler serves the operator endpoints for triggering and tracking runs.
type AdminHandler struct {
	jobs   JobQueue
	audit  domain.AuditStore // nil disables GET /api/admin/audit
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler. audit may be nil.
func NewAdminHandler(jobs JobQueue, audit domain.AuditStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{jobs: jobs, audit: audit, logger: logHandler(logger, "admin")}
}

// TriggerSync queues a run and answers with its job id. An empty body runs
// every active market.
// POST /api/admin/sync
func (h *AdminHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req domain.JobRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxAdminBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.jobs.Enqueue(r.Context(), req)
	switch {
	case errors.Is(err, domain.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "job queue full, retry later")
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "handler: enqueue failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to queue job")
		return
	}

	h.logger.InfoContext(r.Context(), "handler: sync queued",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Request.Kind)),
		slog.String("market", job.Request.Market),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// GetJob returns one job record.
// GET /api/admin/jobs/{id}
func (h *AdminHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		h.jobError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob asks a queued or running job to stop. A finished job is
// returned unchanged.
// POST /api/admin/jobs/{id}/cancel
func (h *AdminHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Cancel(r.Context(), pathParam(r, "id"))
	if err != nil {
		h.jobError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *AdminHandler) jobError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	h.logger.ErrorContext(r.Context(), "handler: job lookup failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "failed to load job")
}

// ListAudit returns recent finished jobs and archive runs. Query parameters:
// event, since (RFC3339) and limit.
// GET /api/admin/audit
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log not configured")
		return
	}
	q := r.URL.Query()
	f := domain.AuditFilter{Event: q.Get("event")}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		f.Since = &since
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	entries, err := h.audit.Recent(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: audit lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
