package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/leadninja/leadninja-api/internal/agent"
	"github.com/leadninja/leadninja-api/internal/agent/tools"
	"github.com/leadninja/leadninja-api/internal/billing"
	"github.com/leadninja/leadninja-api/internal/config"
	"github.com/leadninja/leadninja-api/internal/credits"
	"github.com/leadninja/leadninja-api/internal/handlers"
	"github.com/leadninja/leadninja-api/internal/middleware"
	"github.com/leadninja/leadninja-api/internal/migration"
	"github.com/leadninja/leadninja-api/internal/repository"
	"github.com/leadninja/leadninja-api/internal/routes"
	"github.com/leadninja/leadninja-api/internal/statussync"
	"github.com/leadninja/leadninja-api/internal/trigger"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config *config.Config
	db     *sql.DB
	redis  *redis.Client
	logger zerolog.Logger
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL, logger)

	// Initialize Redis for job event fan-out.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid Redis URL")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping Redis")
	}

	app := &application{
		config: cfg,
		db:     db,
		redis:  redisClient,
		logger: logger,
	}

	// Requeue jobs a dead worker left behind before accepting traffic.
	jobRepo := repository.NewJobRepository(db)
	if n, err := jobRepo.RecoverOrphanedJobs(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Failed to recover orphaned jobs")
	} else if n > 0 {
		logger.Info().Int64("count", n).Msg("Requeued orphaned jobs")
	}

	// Relay Postgres job notifications into Redis for the SSE hub.
	listenerCtx, stopListener := context.WithCancel(context.Background())
	defer stopListener()
	listener := statussync.NewListener(cfg.DatabaseURL, redisClient, logger)
	go func() {
		if err := listener.Run(listenerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Job status listener stopped")
		}
	}()

	// Initialize the HTTP router and middleware.
	router := app.initRouter(jobRepo, logger)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	app.startServer(corsHandler, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(jobRepo repository.JobRepository, logger zerolog.Logger) http.Handler {
	// Repositories
	campaignRepo := repository.NewCampaignRepository(app.db)
	creditRepo := repository.NewCreditRepository(app.db)
	apiKeyRepo := repository.NewAPIKeyRepository(app.db)
	subscriptionRepo := repository.NewSubscriptionRepository(app.db)
	conversationRepo := repository.NewConversationRepository(app.db)

	// Core services
	ledger := credits.NewService(creditRepo, app.config.Credits.Enabled, logger)
	byok := credits.NewBYOKResolver(apiKeyRepo, logger)
	gateway := trigger.NewGateway(jobRepo, campaignRepo, ledger, byok, logger)
	processor := billing.NewProcessor(subscriptionRepo, ledger, logger)
	hub := statussync.NewHub(app.redis, logger)

	// Agent loop
	backend, err := agent.NewBackend(app.config.Agent.Backend, app.config.Agent.BaseURL, app.config.Agent.APIKey, app.config.Agent.Model)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to configure agent backend")
	}
	registry := tools.NewRegistry(gateway, campaignRepo, jobRepo, ledger, logger)
	loop := agent.NewLoop(backend, registry, app.config.Agent.MaxIterations, app.config.Agent.RequestTimeout, logger)

	// Handlers
	authHandler := handlers.NewAuthHandler(app.db, app.config, logger)
	campaignHandler := handlers.NewCampaignHandler(campaignRepo, logger)
	jobHandler := handlers.NewJobHandler(jobRepo, gateway, logger)
	creditsHandler := handlers.NewCreditsHandler(ledger, apiKeyRepo, logger)
	agentHandler := handlers.NewAgentHandler(loop, conversationRepo, logger)
	billingHandler := handlers.NewBillingHandler(processor, app.config.Stripe.WebhookSecret, logger)
	eventsHandler := handlers.NewEventsHandler(hub, jobRepo, logger)

	return routes.NewRouter(authHandler, campaignHandler, jobHandler, creditsHandler, agentHandler, billingHandler, eventsHandler)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
}
