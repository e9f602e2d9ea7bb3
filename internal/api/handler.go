package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/0xPuncker/pos-scheduler/pkg/cronexpr"
	"github.com/0xPuncker/pos-scheduler/pkg/types"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const previewRuns = 5

// Service is the scheduler surface the HTTP layer drives.
type Service interface {
	IsRunning() bool
	GetAllJobsWithStatus(ctx context.Context) ([]types.JobWithStatus, error)
	GetJob(ctx context.Context, name string) (*types.JobWithStatus, error)
	RunJob(ctx context.Context, name string) (types.RunOutcome, error)
	UpdateJobConfig(ctx context.Context, id int64, update types.JobUpdate) (*types.JobDefinition, error)
	ListLogs(ctx context.Context, q types.LogQuery) ([]types.JobExecutionLog, error)
	GetSchedulerStats(ctx context.Context) (types.JobStatusSummary, error)
}

type Handler struct {
	service Service
	logger  *logrus.Logger
	metrics http.Handler
	now     func() time.Time
}

func NewHandler(service Service, logger *logrus.Logger, metrics http.Handler) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

type JobsResponse struct {
	Jobs  []types.JobWithStatus `json:"jobs"`
	Total int                   `json:"total"`
}

type LogsResponse struct {
	Logs   []types.JobExecutionLog `json:"logs"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

type ValidateRequest struct {
	Expression string `json:"expression"`
}

type ValidateResponse struct {
	Valid       bool        `json:"valid"`
	Error       string      `json:"error,omitempty"`
	Description string      `json:"description,omitempty"`
	NextRuns    []time.Time `json:"next_runs,omitempty"`
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"scheduler_running": h.service.IsRunning(),
	})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.GetAllJobsWithStatus(r.Context())
	if err != nil {
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, JobsResponse{Jobs: jobs, Total: len(jobs)})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetJob(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		h.handleError(w, err, statusFor(err))
		return
	}

	h.writeJSON(w, http.StatusOK, job)
}

// RunJob triggers a job by name. A run that executed but failed is still a
// 200: the outcome carries the FAILED status and the error text.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.service.RunJob(r.Context(), mux.Vars(r)["name"])

	var execErr *types.ExecutionError
	if err != nil && !errors.As(err, &execErr) {
		h.handleError(w, err, statusFor(err))
		return
	}

	h.writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job id must be a positive integer"})
		return
	}

	var update types.JobUpdate
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&update); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}

	job, err := h.service.UpdateJobConfig(r.Context(), id, update)
	if err != nil {
		var validationErr *types.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
				"field": validationErr.Field,
			})
			return
		}
		h.handleError(w, err, statusFor(err))
		return
	}

	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var q types.LogQuery
	for _, param := range []struct {
		name   string
		target func(int64)
	}{
		{"limit", func(v int64) { q.Limit = int(v) }},
		{"offset", func(v int64) { q.Offset = int(v) }},
		{"job_id", func(v int64) { q.JobID = v }},
	} {
		raw := query.Get(param.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": param.name + " must be a non-negative integer",
			})
			return
		}
		param.target(v)
	}
	q = q.Normalize()

	logs, err := h.service.ListLogs(r.Context(), q)
	if err != nil {
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []types.JobExecutionLog{}
	}

	h.writeJSON(w, http.StatusOK, LogsResponse{Logs: logs, Limit: q.Limit, Offset: q.Offset})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetSchedulerStats(r.Context())
	if err != nil {
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

// ValidateCron checks an expression without saving it and previews the next
// few fire times.
func (h *Handler) ValidateCron(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}

	expr := strings.TrimSpace(req.Expression)
	runs, err := cronexpr.NextN(expr, h.now(), previewRuns)
	if err != nil && !errors.Is(err, cronexpr.ErrNoFireTime) {
		h.writeJSON(w, http.StatusOK, ValidateResponse{Valid: false, Error: err.Error()})
		return
	}

	resp := ValidateResponse{
		Valid:       true,
		Description: cronexpr.Describe(expr),
		NextRuns:    runs,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		http.NotFound(w, r)
		return
	}
	h.metrics.ServeHTTP(w, r)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, types.ErrTaskNotRegistered):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleError(w http.ResponseWriter, err error, code int) {
	if code >= http.StatusInternalServerError {
		h.logger.Error(err)
	} else {
		h.logger.Debug(err)
	}
	h.writeJSON(w, code, map[string]string{
		"error": err.Error(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Errorf("Failed to encode response: %v", err)
	}
}
