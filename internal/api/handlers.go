package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yegors/transcribe-gateway/internal/pipeline"
	"github.com/yegors/transcribe-gateway/internal/storage/sqlite"
	"github.com/yegors/transcribe-gateway/pkg/logger"
)

const (
	messageTranscriptionStarted = "Transcription Started"
	messageUploadOnly           = "Uploaded successfully, but transcription failed"
	maxPageSize                 = 500
)

// Service is the pipeline the handlers drive
type Service interface {
	Submit(ctx context.Context, req pipeline.SourceRequest) (*pipeline.SubmitResult, error)
	Status(ctx context.Context, handle string) (*pipeline.JobStatus, error)
}

// JobLedger exposes recorded submissions
type JobLedger interface {
	List(ctx context.Context, limit, offset int) ([]*sqlite.JobRecord, error)
	GetByHandle(ctx context.Context, handle string) (*sqlite.JobRecord, error)
}

// Handler contains the API handlers
type Handler struct {
	service Service
	jobs    JobLedger // nil when the ledger is disabled
	logger  *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(service Service, jobs JobLedger, log *logger.Logger) *Handler {
	return &Handler{
		service: service,
		jobs:    jobs,
		logger:  log.Named("api-handler"),
	}
}

// SaveAudio handles GET /save-audio?url=
func (h *Handler) SaveAudio(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, r.URL.Query().Get("url"))
}

// CreateJob handles POST /api/v1/jobs with a {"url": "..."} body
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"stage":   string(pipeline.StageValidate),
			"error":   "invalid JSON body",
		})
		return
	}
	h.submit(w, r, body.URL)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, sourceURL string) {
	result, err := h.service.Submit(r.Context(), pipeline.SourceRequest{SourceURL: sourceURL})
	if err != nil {
		status, response := SubmitErrorResponse(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Submission failed",
				logger.String("url", sourceURL),
				logger.Error(err))
		}
		WriteJSON(w, status, response)
		return
	}

	WriteJSON(w, http.StatusOK, SubmitResponse(result))
}

// SubmitResponse is the JSON body for a submission that reached the artifact store
func SubmitResponse(result *pipeline.SubmitResult) map[string]any {
	if result.Outcome == pipeline.OutcomeUploadOnly {
		msg := pipeline.Message(result.SubmissionErr)
		return map[string]any{
			"success":         true,
			"message":         messageUploadOnly,
			"file":            result.StoredURI,
			"error":           msg,
			"submissionError": msg,
		}
	}
	return map[string]any{
		"success": true,
		"jobId":   result.JobHandle,
		"message": messageTranscriptionStarted,
		"file":    result.StoredURI,
	}
}

// SubmitErrorResponse maps a failed submission to an HTTP status and JSON body
func SubmitErrorResponse(err error) (int, map[string]any) {
	stage, ok := pipeline.StageOf(err)
	if !ok {
		stage = "internal"
	}
	status := http.StatusInternalServerError
	if errors.Is(err, pipeline.ErrInvalidRequest) {
		status = http.StatusBadRequest
	}
	return status, map[string]any{
		"success": false,
		"stage":   string(stage),
		"error":   pipeline.Message(err),
	}
}

// GetStatus handles GET /status?jobid=
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.status(w, r, r.URL.Query().Get("jobid"))
}

// GetJob handles GET /api/v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	h.status(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request, handle string) {
	st, err := h.service.Status(r.Context(), handle)
	if err != nil {
		status, response := StatusErrorResponse(err)
		if status == http.StatusBadGateway {
			h.logger.Warn("Status query failed",
				logger.String("job_id", handle),
				logger.Error(err))
		}
		WriteJSON(w, status, response)
		return
	}

	response := StatusResponse(st)
	if h.jobs != nil {
		if record, err := h.jobs.GetByHandle(r.Context(), handle); err == nil {
			response["file"] = record.StoredURI
		} else if !errors.Is(err, sqlite.ErrNotFound) {
			h.logger.Warn("Failed to look up job record", logger.String("job_id", handle), logger.Error(err))
		}
	}
	WriteJSON(w, http.StatusOK, response)
}

// StatusResponse is the JSON body for one answered status query
func StatusResponse(st *pipeline.JobStatus) map[string]any {
	switch st.State {
	case pipeline.StateDone:
		return map[string]any{
			"status":        "done",
			"transcription": st.Transcript.Text,
			"speakers":      st.Transcript.Lines,
		}
	case pipeline.StateFailed:
		return map[string]any{
			"status":     "error",
			"error_kind": "job_failed",
			"error":      pipeline.Message(st.Cause),
		}
	default:
		return map[string]any{"status": "processing"}
	}
}

// StatusErrorResponse maps a failed status query to an HTTP status and JSON body
func StatusErrorResponse(err error) (int, map[string]any) {
	if errors.Is(err, pipeline.ErrInvalidRequest) {
		return http.StatusBadRequest, map[string]any{
			"status":     "error",
			"error_kind": "invalid_request",
			"error":      pipeline.Message(err),
		}
	}
	return http.StatusBadGateway, map[string]any{
		"status":     "error",
		"error_kind": "poll_error",
		"retryable":  true,
		"error":      pipeline.Message(err),
	}
}

// ListJobs handles GET /api/v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	jobs, err := h.jobs.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to retrieve jobs", logger.Error(err))
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to retrieve jobs"})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now().UTC(),
		"count":     len(jobs),
		"jobs":      jobs,
	})
}

// GetHealth returns the health status of the API
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"ledger":    h.jobs != nil,
		"timestamp": time.Now().UTC(),
	})
}

func parsePaginationParams(r *http.Request) (int, int) {
	limit := 100
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = min(l, maxPageSize)
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	return limit, offset
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
