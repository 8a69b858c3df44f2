package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"patchcenter/clients/catalog"
	"patchcenter/clients/tags"
	"patchcenter/config"
	"patchcenter/db"
	"patchcenter/handlers"
	"patchcenter/middleware"
	"patchcenter/services/operations"
	"patchcenter/services/queue"
	"patchcenter/services/results"
	"patchcenter/services/scheduler"
	"patchcenter/services/txmanager"
	usecase "patchcenter/usecases/core"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("❌ Server failed: %v", err)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	dbConn, err := db.NewConnection(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	// Repositories
	operationsRepo := db.NewPostgresOperationsRepository(dbConn, cfg.DatabaseSchema)
	operationAgentsRepo := db.NewPostgresOperationAgentsRepository(dbConn, cfg.DatabaseSchema)
	operationAppsRepo := db.NewPostgresOperationAppsRepository(dbConn, cfg.DatabaseSchema)
	queueRepo := db.NewPostgresAgentQueueRepository(dbConn, cfg.DatabaseSchema)
	scheduledJobsRepo := db.NewPostgresScheduledJobsRepository(dbConn, cfg.DatabaseSchema)

	// Collaborator clients
	catalogClient := catalog.NewCatalogHTTPClient(cfg.CatalogAPIURL)
	tagsClient := tags.NewTagsHTTPClient(cfg.TagsAPIURL)

	// Services
	txManager := txmanager.NewTransactionManager(dbConn)
	operationsService := operations.NewOperationsService(
		operationsRepo, operationAgentsRepo, operationAppsRepo, txManager)
	queueService := queue.NewAgentQueueService(
		queueRepo, operationsRepo, operationAgentsRepo, txManager,
		cfg.QueueConfig.ServerTTL, cfg.QueueConfig.AgentTTL)
	resultsService := results.NewResultsService(
		operationsRepo, operationAgentsRepo, operationAppsRepo, catalogClient, txManager)
	schedulerService := scheduler.NewSchedulerService(scheduledJobsRepo)

	coreUseCase := usecase.NewCoreUseCase(
		catalogClient, tagsClient,
		operationsService, queueService, resultsService, schedulerService,
		txManager, cfg.QueueConfig.AgentTTL)

	// HTTP layer
	orgMiddleware := middleware.NewOrganizationMiddleware()
	operationsHandler := handlers.NewOperationsHTTPHandler(coreUseCase)
	schedulesHandler := handlers.NewSchedulesHTTPHandler(coreUseCase)

	router := mux.NewRouter()
	operationsHandler.SetupEndpoints(router, orgMiddleware)
	schedulesHandler.SetupEndpoints(router, orgMiddleware)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
			log.Printf("❌ Failed to write health check response: %v", err)
		}
	}).Methods("GET")

	// Expiration sweeper
	sweepTicker := time.NewTicker(cfg.BackgroundConfig.SweepInterval)
	defer sweepTicker.Stop()
	go func() {
		for range sweepTicker.C {
			if _, err := coreUseCase.SweepExpiredWork(context.Background(), time.Now()); err != nil {
				log.Printf("❌ Expiration sweep failed: %v", err)
			}
		}
	}()

	// Scheduled job firing loop
	schedulerTicker := time.NewTicker(cfg.BackgroundConfig.SchedulerInterval)
	defer schedulerTicker.Stop()
	go func() {
		for range schedulerTicker.C {
			if _, err := coreUseCase.RunDueScheduledJobs(context.Background(), time.Now()); err != nil {
				log.Printf("❌ Scheduled job run failed: %v", err)
			}
		}
	}()

	// CORS middleware
	allowedOrigins := strings.Split(cfg.CORSAllowedOrigins, ",")
	for i, origin := range allowedOrigins {
		allowedOrigins[i] = strings.TrimSpace(origin)
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.OrganizationHeader},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 30 * time.Second,
	}

	return handleGracefulShutdown(server)
}

func handleGracefulShutdown(server *http.Server) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("✅ Listening on http://localhost%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ Server error: %v", err)
		}
	}()

	<-stop
	log.Printf("🛑 Shutdown signal received, cleaning up...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("❌ Server shutdown error: %v", err)
		return err
	}

	log.Printf("✅ Server stopped gracefully")
	return nil
}
