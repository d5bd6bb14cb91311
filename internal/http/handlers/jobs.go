package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/iago/feedback-insights/internal/domain"
	"github.com/iago/feedback-insights/internal/repository"
	"github.com/iago/feedback-insights/internal/service"
)

// Jobs serves POST (enqueue) and GET (list) on /v1/jobs.
func (api *API) Jobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		api.createJob(w, r)
	case http.MethodGet:
		api.listJobs(w, r)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (api *API) createJob(w http.ResponseWriter, r *http.Request) {
	var request service.EnqueueInput
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	payloadHash := hashPayload(request)
	if idempotencyKey != "" {
		if entry, exists := api.idempotency.Get(idempotencyKey); exists {
			if entry.PayloadHash != payloadHash {
				writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key already used with different payload")
				return
			}
			api.writeAccepted(w, r, entry.JobID)
			return
		}
	}

	job, err := api.jobsService.Enqueue(r.Context(), request)
	if err != nil {
		if errors.Is(err, service.ErrInvalidJob) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to enqueue job")
		return
	}
	if idempotencyKey != "" {
		api.idempotency.Put(idempotencyKey, payloadHash, job.ID)
	}
	api.writeAccepted(w, r, job.ID)
}

func (api *API) writeAccepted(w http.ResponseWriter, r *http.Request, jobID string) {
	view, err := api.jobsService.Status(r.Context(), jobID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+jobID)
	writeJSON(w, http.StatusAccepted, view)
}

func (api *API) listJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repository.JobFilter{
		ClientID: strings.TrimSpace(query.Get("client_id")),
		Status:   domain.JobStatus(strings.TrimSpace(query.Get("status"))),
		Page:     parsePositiveInt(query.Get("page")),
		PageSize: parsePositiveInt(query.Get("page_size")),
	}
	if filter.ClientID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "client_id is required")
		return
	}

	items, total, err := api.jobsService.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}

// JobStatus serves GET /v1/jobs/{id}.
func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	jobID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/jobs/"))
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	view, err := api.jobsService.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func parsePositiveInt(value string) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
