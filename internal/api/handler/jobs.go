package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/docsift/internal/api/response"
	"github.com/kiranshivaraju/docsift/internal/prompt"
	"github.com/kiranshivaraju/docsift/internal/scheduler"
	"github.com/kiranshivaraju/docsift/internal/store"
	"github.com/kiranshivaraju/docsift/pkg/models"
)

// maxBatchSubjects bounds POST /jobs/batch.
const maxBatchSubjects = 100

// JobService is the part of the scheduler the job endpoints depend on.
type JobService interface {
	Submit(ctx context.Context, req scheduler.SubmitRequest) ([]*models.Job, error)
	SubmitBatch(ctx context.Context, refs []string, kind models.JobKind, promptText string, priority []string) []scheduler.BatchItem
	Cancel(ctx context.Context, id uuid.UUID) error
	Retry(ctx context.Context, id uuid.UUID) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
	Stats(ctx context.Context) (*models.JobStats, error)
	IsTerminal(job *models.Job) bool
}

type submitRequest struct {
	SubjectRef       string            `json:"subject_ref"`
	Kind             string            `json:"kind"`
	PromptID         string            `json:"prompt_id"`
	PromptText       string            `json:"prompt_text"`
	Vars             map[string]string `json:"vars"`
	ProviderPriority []string          `json:"provider_priority"`
	Metadata         map[string]string `json:"metadata"`
}

type batchRequest struct {
	SubjectRefs      []string          `json:"subject_refs"`
	Kind             string            `json:"kind"`
	PromptID         string            `json:"prompt_id"`
	PromptText       string            `json:"prompt_text"`
	Vars             map[string]string `json:"vars"`
	ProviderPriority []string          `json:"provider_priority"`
}

type jobView struct {
	*models.Job
	Terminal bool `json:"terminal"`
}

type batchItemView struct {
	SubjectRef string     `json:"subject_ref"`
	JobIDs     []string   `json:"job_ids,omitempty"`
	Error      *errorView `json:"error,omitempty"`
}

type errorView struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// The response is 202 with the created job ids; execution happens asynchronously.
func NewSubmitJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if strings.TrimSpace(req.SubjectRef) == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "subject_ref is required", nil)
			return
		}

		kind := kindOrDefault(req.Kind)
		text, err := resolvePrompt(kind, req.PromptID, req.PromptText, req.Vars)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}

		jobs, err := svc.Submit(r.Context(), scheduler.SubmitRequest{
			SubjectRef:       req.SubjectRef,
			Kind:             kind,
			PromptText:       text,
			ProviderPriority: req.ProviderPriority,
			Metadata:         req.Metadata,
		})
		if err != nil {
			writeSchedulerError(w, err)
			return
		}

		ids := make([]string, len(jobs))
		for i, j := range jobs {
			ids[i] = j.ID.String()
		}
		data := map[string]any{"job_ids": ids, "status": models.JobStatusPending}
		if len(jobs) > 0 {
			if g := jobs[0].Metadata[models.MetaGroupID]; g != "" {
				data["group_id"] = g
			}
		}
		response.Accepted(w, data)
	}
}

// NewSubmitBatchHandler returns an http.HandlerFunc for POST /api/v1/jobs/batch.
// Subjects are submitted independently; the response reports each outcome.
func NewSubmitBatchHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if len(req.SubjectRefs) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "subject_refs is required", nil)
			return
		}
		if len(req.SubjectRefs) > maxBatchSubjects {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"subject_refs accepts at most "+strconv.Itoa(maxBatchSubjects)+" entries", nil)
			return
		}

		kind := kindOrDefault(req.Kind)
		text, err := resolvePrompt(kind, req.PromptID, req.PromptText, req.Vars)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}

		items := svc.SubmitBatch(r.Context(), req.SubjectRefs, kind, text, req.ProviderPriority)
		out := make([]batchItemView, len(items))
		failed := 0
		for i, item := range items {
			out[i] = batchItemView{SubjectRef: item.SubjectRef}
			if item.Err != nil {
				failed++
				out[i].Error = &errorView{Code: scheduler.Describe(item.Err), Message: item.Err.Error()}
				continue
			}
			for _, j := range item.Jobs {
				out[i].JobIDs = append(out[i].JobIDs, j.ID.String())
			}
		}

		if failed > 0 {
			response.MultiStatus(w, out)
			return
		}
		response.Accepted(w, out)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}
		job, err := svc.GetJob(r.Context(), id)
		if err != nil {
			writeSchedulerError(w, err)
			return
		}
		response.JSON(w, jobView{Job: job, Terminal: svc.IsTerminal(job)})
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
// Query: status, kind, provider, group_id, limit, offset.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.JobFilter{
			Status:   models.JobStatus(q.Get("status")),
			Kind:     models.JobKind(q.Get("kind")),
			Provider: q.Get("provider"),
			GroupID:  q.Get("group_id"),
		}
		if filter.Status != "" && !filter.Status.Valid() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown status", nil)
			return
		}
		if filter.Kind != "" && !filter.Kind.Valid() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown kind", nil)
			return
		}

		var err error
		if filter.Limit, err = intParam(q.Get("limit"), 20); err != nil || filter.Limit < 1 || filter.Limit > 100 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 100", nil)
			return
		}
		if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil || filter.Offset < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "offset must be a non-negative integer", nil)
			return
		}

		jobs, total, err := svc.ListJobs(r.Context(), filter)
		if err != nil {
			writeSchedulerError(w, err)
			return
		}
		views := make([]jobView, len(jobs))
		for i, j := range jobs {
			views[i] = jobView{Job: j, Terminal: svc.IsTerminal(j)}
		}
		response.Collection(w, views, response.NewPaginationMeta(filter.Limit, filter.Offset, len(jobs), total))
	}
}

// NewJobStatsHandler returns an http.HandlerFunc for GET /api/v1/jobs/stats.
func NewJobStatsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context())
		if err != nil {
			writeSchedulerError(w, err)
			return
		}
		response.JSON(w, stats)
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/cancel.
// Cancelling a finished job is not an error: it answers 200 with already_terminal=true.
func NewCancelJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}
		err := svc.Cancel(r.Context(), id)
		switch {
		case err == nil:
			response.JSON(w, map[string]any{"job_id": id, "cancel_requested": true, "already_terminal": false})
		case errors.Is(err, scheduler.ErrAlreadyTerminal):
			response.JSON(w, map[string]any{"job_id": id, "cancel_requested": false, "already_terminal": true})
		default:
			writeSchedulerError(w, err)
		}
	}
}

// NewRetryJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/retry.
func NewRetryJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}
		if err := svc.Retry(r.Context(), id); err != nil {
			writeSchedulerError(w, err)
			return
		}
		response.Accepted(w, map[string]any{"job_id": id, "status": models.JobStatusPending})
	}
}

func kindOrDefault(kind string) models.JobKind {
	if kind == "" {
		return models.JobKindGeneral
	}
	return models.JobKind(kind)
}

func resolvePrompt(kind models.JobKind, id, text string, vars map[string]string) (string, error) {
	if id == "" {
		id = prompt.DefaultFor(kind)
	}
	return prompt.Resolve(id, text, vars)
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// writeSchedulerError maps controller errors onto HTTP statuses.
func writeSchedulerError(w http.ResponseWriter, err error) {
	code := scheduler.Describe(err)
	switch code {
	case "INVALID_REQUEST":
		response.Error(w, http.StatusBadRequest, code, err.Error(), nil)
	case "NOT_FOUND":
		response.Error(w, http.StatusNotFound, code, "Job not found", nil)
	case "INVALID_STATE":
		response.Error(w, http.StatusConflict, code, err.Error(), nil)
	case "ALREADY_TERMINAL":
		response.Error(w, http.StatusConflict, code, err.Error(), nil)
	case "NO_PROVIDER_AVAILABLE":
		w.Header().Set("Retry-After", strconv.Itoa(int((30 * time.Second).Seconds())))
		response.Error(w, http.StatusServiceUnavailable, code, "No functional AI provider is available", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}
