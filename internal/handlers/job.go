package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/leadninja/leadninja-api/internal/authz"
	"github.com/leadninja/leadninja-api/internal/models"
	"github.com/leadninja/leadninja-api/internal/repository"
	"github.com/leadninja/leadninja-api/internal/trigger"
)

type JobHandler struct {
	repo    repository.JobRepository
	gateway *trigger.Gateway
	logger  zerolog.Logger
}

func NewJobHandler(repo repository.JobRepository, gateway *trigger.Gateway, logger zerolog.Logger) *JobHandler {
	return &JobHandler{
		repo:    repo,
		gateway: gateway,
		logger:  logger,
	}
}

type triggerPayload struct {
	MaxLeads        int             `json:"max_leads"`
	IncludeExisting bool            `json:"include_existing"`
	Query           string          `json:"query"`
	Location        string          `json:"location"`
	DryRun          bool            `json:"dry_run"`
	Extra           json.RawMessage `json:"extra"`
}

// TriggerJob starts (or, with dry_run, previews) one pipeline step for a
// campaign. The job family comes from the path so each family has its own
// endpoint.
func (h *JobHandler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	var payload triggerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	req := trigger.Request{
		CampaignID:      vars["campaignID"],
		Type:            models.JobType(vars["jobType"]),
		MaxLeads:        payload.MaxLeads,
		IncludeExisting: payload.IncludeExisting,
		Query:           payload.Query,
		Location:        payload.Location,
		Extra:           payload.Extra,
	}

	if payload.DryRun {
		est, err := h.gateway.Preview(r.Context(), userID, req)
		if err != nil {
			writeTriggerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"dry_run": true, "estimate": est})
		return
	}

	job, est, err := h.gateway.Trigger(r.Context(), userID, req)
	if err != nil {
		writeTriggerError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job":            job,
		"eligible_units": est.EligibleUnits,
		"estimated_cost": est.EstimatedCost,
		"charged":        est.Charged,
	})
}

func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	jobID := mux.Vars(r)["jobID"]
	if _, err := uuid.Parse(jobID); err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	job, err := h.repo.GetJob(userID, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// parse query params with defaults
	limit := 20
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil {
			offset = v
		}
	}

	campaignID := mux.Vars(r)["campaignID"]
	if campaignID == "" {
		campaignID = r.URL.Query().Get("campaign_id")
	}
	if campaignID != "" {
		if _, err := uuid.Parse(campaignID); err != nil {
			http.Error(w, "Invalid campaign id", http.StatusBadRequest)
			return
		}
	}
	jobs, err := h.repo.ListJobs(userID, campaignID, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *JobHandler) ListActiveJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	campaignID := mux.Vars(r)["campaignID"]
	if campaignID == "" {
		campaignID = r.URL.Query().Get("campaign_id")
	}
	if campaignID != "" {
		if _, err := uuid.Parse(campaignID); err != nil {
			http.Error(w, "Invalid campaign id", http.StatusBadRequest)
			return
		}
	}

	jobs, err := h.repo.ListActiveJobs(userID, campaignID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	jobID := mux.Vars(r)["jobID"]
	if _, err := uuid.Parse(jobID); err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	job, err := h.repo.CancelJob(userID, jobID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrJobNotFound):
			http.Error(w, "Job not found", http.StatusNotFound)
		case errors.Is(err, repository.ErrJobTerminal):
			http.Error(w, "Job already finished", http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, job)
}
