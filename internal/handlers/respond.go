package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/leadninja/leadninja-api/internal/credits"
	"github.com/leadninja/leadninja-api/internal/repository"
	"github.com/leadninja/leadninja-api/internal/trigger"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeTriggerError maps the trigger/ledger error taxonomy onto HTTP.
// Validation failures and missing ownership surface immediately; an
// insufficient balance gets its own status and a structured body the
// client can act on.
func writeTriggerError(w http.ResponseWriter, err error) {
	var insufficientErr *credits.ErrInsufficientCredits
	switch {
	case errors.As(err, &insufficientErr):
		writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
			"error":   "insufficient_credits",
			"balance": insufficientErr.Balance,
			"needed":  insufficientErr.Needed,
		})
	case errors.Is(err, repository.ErrCampaignNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "campaign not found"})
	case errors.Is(err, trigger.ErrInvalidJobType):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown job type"})
	case errors.Is(err, trigger.ErrMissingCampaign):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "campaign_id is required"})
	case errors.Is(err, trigger.ErrNoEligibleLeads):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "no eligible leads to process"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
