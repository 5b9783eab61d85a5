package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/leadninja/leadninja-api/internal/authz"
	"github.com/leadninja/leadninja-api/internal/credits"
	"github.com/leadninja/leadninja-api/internal/repository"
)

type CreditsHandler struct {
	service *credits.Service
	keys    repository.APIKeyRepository
	logger  zerolog.Logger
}

func NewCreditsHandler(service *credits.Service, keys repository.APIKeyRepository, logger zerolog.Logger) *CreditsHandler {
	return &CreditsHandler{service: service, keys: keys, logger: logger}
}

func (h *CreditsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	balance, err := h.service.Balance(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"balance":  balance,
		"metering": h.service.Enabled(),
	})
}

func (h *CreditsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit := 50
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	txs, err := h.service.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// ListAPIKeys reports which provider keys a user has stored. Key material
// never leaves the database through this endpoint.
func (h *CreditsHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	services, err := h.keys.ListServices(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": services})
}

func (h *CreditsHandler) SaveAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var payload struct {
		Service string `json:"service"`
		Key     string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if payload.Service == "" || payload.Key == "" {
		http.Error(w, "service and key are required", http.StatusBadRequest)
		return
	}

	if err := h.keys.SaveKey(r.Context(), userID, payload.Service, payload.Key); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": payload.Service, "status": "saved"})
}

func (h *CreditsHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	service := mux.Vars(r)["service"]
	if err := h.keys.DeleteKey(r.Context(), userID, service); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
