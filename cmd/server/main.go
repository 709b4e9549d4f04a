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
	"github.com/rnednur/felix-sub000/internal/catalog"
	"github.com/rnednur/felix-sub000/internal/config"
	"github.com/rnednur/felix-sub000/internal/handlers"
	"github.com/rnednur/felix-sub000/internal/jobs"
	"github.com/rnednur/felix-sub000/internal/llm"
	"github.com/rnednur/felix-sub000/internal/middleware"
	"github.com/rnednur/felix-sub000/internal/migration"
	"github.com/rnednur/felix-sub000/internal/notification"
	"github.com/rnednur/felix-sub000/internal/queryengine"
	"github.com/rnednur/felix-sub000/internal/repository"
	"github.com/rnednur/felix-sub000/internal/research"
	"github.com/rnednur/felix-sub000/internal/routes"
	"github.com/rnednur/felix-sub000/internal/sandbox"
	"github.com/rnednur/felix-sub000/internal/temporal"
	"github.com/rnednur/felix-sub000/internal/temporal/activities"
	"github.com/rnednur/felix-sub000/internal/temporal/workflows"
	"github.com/rs/zerolog"

	_ "github.com/lib/pq" // PostgreSQL driver
	tc "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

type application struct {
	config         *config.Config
	db             *sql.DB
	temporalClient tc.Client
	logger         zerolog.Logger
	notifications  notification.Service
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	temporalLogger := temporal.NewLogAdapter(logger)

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

	// Initialize notification service.
	notificationRepo := repository.NewNotificationRepository(db)
	notificationService := notification.NewService(notificationRepo, logger)

	// Initialize Temporal client.
	temporalClient, err := tc.Dial(tc.Options{
		Logger: temporalLogger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Unable to create Temporal client")
	}
	defer temporalClient.Close()

	// Create the application instance.
	app := &application{
		config:         cfg,
		db:             db,
		temporalClient: temporalClient,
		logger:         logger,
		notifications:  notificationService,
	}

	// Build the research pipeline and the job service on top of it.
	jobService := app.buildJobService(logger)

	// Start the Temporal worker in a separate goroutine.
	temporalWorker := app.startTemporalWorker(jobService, logger)

	// Start the retention sweeper for expired terminal jobs.
	sweeper, err := jobs.NewSweeper(repository.NewJobRepository(app.db), cfg.Retention, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create retention sweeper")
	}
	if err := sweeper.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start retention sweeper")
	}
	defer func() {
		if err := sweeper.Stop(); err != nil {
			logger.Error().Err(err).Msg("Retention sweeper shutdown error")
		}
	}()

	// Initialize the HTTP router and middleware.
	researchHandler := handlers.NewResearchHandler(jobService, logger)
	notificationHandler := handlers.NewNotificationHandler(app.notifications, logger)
	router := routes.NewRouter(researchHandler, notificationHandler)

	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, temporalWorker, logger)

	logger.Info().Msg("Application terminated.")
}

// buildJobService wires the LLM client, dataset catalog, query engine,
// sandbox executor, and research orchestrator into a job service whose
// launcher starts a Temporal workflow per job.
func (app *application) buildJobService(logger zerolog.Logger) *jobs.Service {
	model, err := llm.NewModel(app.config.LLM)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create LLM client")
	}

	cat := catalog.NewHTTPCatalog(app.config.Catalog.BaseURL)
	engine := queryengine.NewHTTPEngine(app.config.Engine.BaseURL, app.config.JWTSecret, app.config.Engine.QueryTimeout, app.config.Engine.MaxRows)

	runner, err := sandbox.NewDockerRunner(
		app.config.Sandbox.Image,
		app.config.Sandbox.TempDir,
		app.config.Sandbox.Network,
		app.config.Sandbox.MemoryLimit,
		app.config.Sandbox.CPULimit,
		logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create sandbox runner")
	}
	fixer := sandbox.NewFixer(model, logger)
	executor := sandbox.NewExecutor(
		runner,
		fixer,
		app.config.Engine.BaseURL,
		app.config.JWTSecret,
		app.config.Sandbox.Timeout,
		app.config.Sandbox.MaxAttempts,
		app.config.Sandbox.MaxPreviewRows,
		logger,
	)

	orchestrator := research.NewOrchestrator(model, cat, engine, executor, app.config.Research, logger)

	jobRepo := repository.NewJobRepository(app.db)
	jobService := jobs.NewService(jobRepo, cat, orchestrator, app.notifications, app.config.Research, logger)
	jobService.SetLauncher(func(jobID string) {
		opts := tc.StartWorkflowOptions{
			ID:        temporal.ResearchWorkflowIDPrefix + jobID,
			TaskQueue: temporal.TaskQueueName,
		}
		_, err := app.temporalClient.ExecuteWorkflow(context.Background(), opts, workflows.ResearchWorkflow, temporal.ResearchParams{JobID: jobID})
		if err != nil {
			logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to start research workflow")
		}
	})
	return jobService
}

func (app *application) startTemporalWorker(jobService *jobs.Service, logger zerolog.Logger) worker.Worker {
	activityImpl := &activities.Activities{
		JobService: jobService,
	}

	w := worker.New(app.temporalClient, temporal.TaskQueueName, worker.Options{})

	w.RegisterWorkflow(workflows.ResearchWorkflow)
	w.RegisterActivity(activityImpl)

	// Start the worker in a goroutine so it doesn't block.
	go func() {
		logger.Info().Msg("Starting Temporal worker...")
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("Unable to start worker")
		}
	}()

	return w
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, temporalWorker worker.Worker, logger zerolog.Logger) {
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

	// Stop the Temporal worker.
	logger.Info().Msg("Stopping Temporal worker...")
	temporalWorker.Stop()
	logger.Info().Msg("Temporal worker stopped.")
}
