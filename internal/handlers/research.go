package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rnednur/felix-sub000/internal/catalog"
	"github.com/rnednur/felix-sub000/internal/jobs"
	"github.com/rnednur/felix-sub000/internal/models"
	"github.com/rnednur/felix-sub000/internal/repository"
	"github.com/rs/zerolog"
)

type ResearchHandler struct {
	service *jobs.Service
	logger  zerolog.Logger
}

func NewResearchHandler(service *jobs.Service, logger zerolog.Logger) *ResearchHandler {
	return &ResearchHandler{
		service: service,
		logger:  logger.With().Str("handler", "research").Logger(),
	}
}

// researchRequest is the submit body. The boolean toggles are pointers
// so an absent field keeps its default of true.
type researchRequest struct {
	DatasetID          string `json:"dataset_id"`
	Question           string `json:"question"`
	Verbose            bool   `json:"verbose"`
	MaxSubQuestions    int    `json:"max_sub_questions"`
	EnableCodePath     *bool  `json:"enable_code_path"`
	EnableWorldContext *bool  `json:"enable_world_knowledge"`
}

func (req *researchRequest) toParams() (jobs.SubmitParams, error) {
	req.DatasetID = strings.TrimSpace(req.DatasetID)
	req.Question = strings.TrimSpace(req.Question)
	if req.DatasetID == "" {
		return jobs.SubmitParams{}, errors.New("dataset_id is required")
	}
	if req.Question == "" {
		return jobs.SubmitParams{}, errors.New("question is required")
	}
	params := jobs.SubmitParams{
		DatasetID:          req.DatasetID,
		Question:           req.Question,
		Verbose:            req.Verbose,
		MaxSubQuestions:    req.MaxSubQuestions,
		EnableCodePath:     true,
		EnableWorldContext: true,
	}
	if req.EnableCodePath != nil {
		params.EnableCodePath = *req.EnableCodePath
	}
	if req.EnableWorldContext != nil {
		params.EnableWorldContext = *req.EnableWorldContext
	}
	return params, nil
}

// Submit accepts a research question and returns the pending job. The
// pipeline itself runs in the background; clients poll Status.
func (h *ResearchHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	params, err := req.toParams()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := h.service.Submit(r.Context(), params)
	if err != nil {
		h.writeDatasetError(w, params.DatasetID, err)
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

// RunSync executes the whole pipeline inline and returns the report.
func (h *ResearchHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	params, err := req.toParams()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	report, err := h.service.RunSync(r.Context(), params)
	if err != nil {
		if errors.Is(err, catalog.ErrDatasetNotFound) || errors.Is(err, catalog.ErrDatasetNotReady) {
			h.writeDatasetError(w, params.DatasetID, err)
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			http.Error(w, "Research exceeded the job time limit", http.StatusGatewayTimeout)
			return
		}
		h.logger.Error().Err(err).Str("dataset_id", params.DatasetID).Msg("synchronous research failed")
		http.Error(w, "Research failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *ResearchHandler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	job, err := h.service.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to fetch job")
		http.Error(w, "Failed to fetch job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *ResearchHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.JobFilter{
		DatasetID: strings.TrimSpace(q.Get("dataset_id")),
		Status:    models.JobStatus(strings.TrimSpace(q.Get("status"))),
		Search:    strings.TrimSpace(q.Get("search")),
		Limit:     intQuery(q.Get("limit"), 50),
		Offset:    intQuery(q.Get("offset"), 0),
	}

	summaries, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list jobs")
		http.Error(w, "Failed to list jobs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []models.JobSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": summaries,
	})
}

// Cancel flags the job; the worker honors the flag at the next stage
// boundary, so a 202 here does not mean the job has stopped yet.
func (h *ResearchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	if err := h.service.Cancel(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			http.Error(w, "Job not found", http.StatusNotFound)
		case errors.Is(err, repository.ErrConflict):
			http.Error(w, "Job already finished", http.StatusConflict)
		default:
			h.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to cancel job")
			http.Error(w, "Failed to cancel job: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     jobID,
		"status": "cancellation requested",
	})
}

func (h *ResearchHandler) Delete(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	if err := h.service.Delete(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			http.Error(w, "Job not found", http.StatusNotFound)
		case errors.Is(err, repository.ErrConflict):
			http.Error(w, "Job is still in progress", http.StatusConflict)
		default:
			h.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to delete job")
			http.Error(w, "Failed to delete job: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ResearchHandler) writeDatasetError(w http.ResponseWriter, datasetID string, err error) {
	switch {
	case errors.Is(err, catalog.ErrDatasetNotFound):
		http.Error(w, "Dataset not found: "+datasetID, http.StatusNotFound)
	case errors.Is(err, catalog.ErrDatasetNotReady):
		http.Error(w, "Dataset is not ready for research: "+datasetID, http.StatusConflict)
	default:
		h.logger.Error().Err(err).Str("dataset_id", datasetID).Msg("failed to submit research job")
		http.Error(w, "Failed to submit research job: "+err.Error(), http.StatusInternalServerError)
	}
}

func intQuery(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
