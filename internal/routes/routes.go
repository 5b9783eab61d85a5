package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/leadninja/leadninja-api/internal/handlers"
)

// NewRouter sets up the API routes
func NewRouter(
	auth *handlers.AuthHandler,
	campaigns *handlers.CampaignHandler,
	jobs *handlers.JobHandler,
	credits *handlers.CreditsHandler,
	agent *handlers.AgentHandler,
	billing *handlers.BillingHandler,
	events *handlers.EventsHandler,
) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	// Public auth endpoints
	router.HandleFunc("/api/signup", auth.SignUp).Methods(http.MethodPost)
	router.HandleFunc("/api/login", auth.Login).Methods(http.MethodPost)

	// Stripe calls this directly; the payload signature is its auth.
	router.HandleFunc("/api/billing/webhook", billing.Webhook).Methods(http.MethodPost)

	// Everything below requires a valid bearer token.
	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.JWTMiddleware)

	// Campaigns
	api.HandleFunc("/campaigns", campaigns.ListCampaigns).Methods(http.MethodGet)
	api.HandleFunc("/campaigns/{campaignID}", campaigns.GetCampaign).Methods(http.MethodGet)
	api.HandleFunc("/campaigns/{campaignID}/stats", campaigns.GetCampaignStats).Methods(http.MethodGet)
	api.HandleFunc("/campaigns/{campaignID}/leads/sample", campaigns.SampleLeads).Methods(http.MethodGet)

	// Jobs. Map scraping may run without a campaign, so it also gets a
	// campaign-less trigger route.
	api.HandleFunc("/campaigns/{campaignID}/jobs/{jobType}", jobs.TriggerJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobType}", jobs.TriggerJob).Methods(http.MethodPost)
	api.HandleFunc("/campaigns/{campaignID}/jobs/active", jobs.ListActiveJobs).Methods(http.MethodGet)
	api.HandleFunc("/campaigns/{campaignID}/jobs", jobs.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs", jobs.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/active", jobs.ListActiveJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/events", events.Stream).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobID}", jobs.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobID}/cancel", jobs.CancelJob).Methods(http.MethodPost)

	// Credits and provider keys
	api.HandleFunc("/credits", credits.GetBalance).Methods(http.MethodGet)
	api.HandleFunc("/credits/transactions", credits.ListTransactions).Methods(http.MethodGet)
	api.HandleFunc("/keys", credits.ListAPIKeys).Methods(http.MethodGet)
	api.HandleFunc("/keys", credits.SaveAPIKey).Methods(http.MethodPost)
	api.HandleFunc("/keys/{service}", credits.DeleteAPIKey).Methods(http.MethodDelete)

	// Agent
	api.HandleFunc("/agent/chat", agent.Chat).Methods(http.MethodPost)
	api.HandleFunc("/agent/conversations", agent.ListConversations).Methods(http.MethodGet)
	api.HandleFunc("/agent/conversations/{conversationID}", agent.GetConversation).Methods(http.MethodGet)

	return router
}
