package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"giu-carpool/internal/ride/handler"
	"giu-carpool/internal/ride/infrastructure/consumer"
	"giu-carpool/internal/ride/infrastructure/jobqueue"
	"giu-carpool/internal/ride/infrastructure/messaging"
	"giu-carpool/internal/ride/infrastructure/notification"
	"giu-carpool/internal/ride/infrastructure/repository"
	"giu-carpool/internal/ride/service"
	"giu-carpool/pkg/auth"
	"giu-carpool/pkg/config"
	"giu-carpool/pkg/db"
	"giu-carpool/pkg/logger"
	"giu-carpool/pkg/rabbitmq"
)

func main() {
	// Load config
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.NewLogger("ride-service")
	log.Info("service_starting", fmt.Sprintf("Ride Service starting on port %d", cfg.HTTP.Port))

	// Connect to database
	dbConn, err := db.NewConnection(cfg, log)
	if err != nil {
		log.Error("db_connect_failed", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	// Connect to RabbitMQ
	rabbit, err := rabbitmq.NewConnection(cfg, log)
	if err != nil {
		log.Error("rabbitmq_connect_failed", err)
		os.Exit(1)
	}
	defer rabbit.Close()

	// Initialize JWT manager
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, 24*time.Hour)

	offset := cfg.Scheduler.LocalOffset
	civilNow := func() time.Time { return service.CivilNow(time.Now(), offset) }

	// Infrastructure adapters
	rideRepo := repository.NewPostgresRideRepository(dbConn, civilNow)
	publisher := messaging.NewRabbitMQEventPublisher(rabbit, log)
	sink := notification.NewHTTPSink(cfg.Notification.BaseURL, log)
	queue := jobqueue.NewQueue(dbConn, log, cfg.Scheduler.Workers, cfg.Scheduler.PollInterval)

	// Services
	seats := service.NewSeatAllocationService(rideRepo, log)
	status := service.NewRideStatusService(rideRepo, publisher, sink, log, offset)
	reminders := service.NewReminderService(rideRepo, queue, sink, status, log, offset)
	rides := service.NewCreateRideService(rideRepo, reminders, log, offset)
	saga := service.NewBookingSagaCoordinator(rideRepo, seats, status, publisher, log, offset)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the job queue and register the recurring status sweep
	queue.Handle(service.JobKindRideReminder, reminders.HandleReminder)
	queue.Handle(service.JobKindStatusSweep, reminders.HandleSweep)
	if err := queue.Start(ctx); err != nil {
		log.Error("jobqueue_start_failed", err)
		os.Exit(1)
	}
	if err := reminders.RegisterSweep(ctx); err != nil {
		log.Error("sweep_register_failed", err)
		os.Exit(1)
	}

	// Initialize and start saga consumers
	sagaConsumer := consumer.New(rabbit, saga, log)
	if err := sagaConsumer.StartConsuming(ctx); err != nil {
		log.Error("consumer_start_failed", err)
		os.Exit(1)
	}

	// Initialize handler
	h := handler.New(rides, status, rideRepo, queue, log)

	// Setup routes
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.Health)

	mux.Handle("POST /rides", jwtManager.AuthMiddleware(
		http.HandlerFunc(h.CreateRide), auth.RoleDriver, auth.RoleAdmin))
	mux.Handle("GET /rides/{ride_id}", jwtManager.AuthMiddleware(
		http.HandlerFunc(h.GetRide)))
	mux.Handle("POST /rides/{ride_id}/status", jwtManager.AuthMiddleware(
		http.HandlerFunc(h.UpdateStatus), auth.RoleDriver, auth.RoleAdmin))

	mux.Handle("GET /jobs/delayed", jwtManager.AuthMiddleware(
		http.HandlerFunc(h.ListDelayedJobs), auth.RoleAdmin))
	mux.Handle("POST /jobs/{job_id}/promote", jwtManager.AuthMiddleware(
		http.HandlerFunc(h.PromoteJob), auth.RoleAdmin))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: mux,
	}

	go func() {
		log.Info("http_listening", fmt.Sprintf("HTTP server listening on %s", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http_server_failed", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutdown_signal", fmt.Sprintf("Received signal %s, shutting down", sig))
	case <-ctx.Done():
		log.Info("shutdown_signal", "Context canceled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http_shutdown_failed", err)
	}

	queue.Stop()
	log.Info("service_stopped", "Ride Service stopped")
}
