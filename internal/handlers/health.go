package handlers

import (
	"encoding/json"
	"net/http"
)

const serviceName = "leadninja-api"

// HealthCheck reports liveness. Readiness is implied by the process being
// up at all: the server only starts after the database ping and migrations
// succeed.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": serviceName,
		"status":  "ok",
	})
}
