package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventflow/internal/action"
	"eventflow/internal/config"
	"eventflow/internal/engine"
	"eventflow/internal/handler"
	"eventflow/internal/repository"
	"eventflow/internal/server"
	"eventflow/internal/services"
	"eventflow/internal/worker"
	"eventflow/pkg/database"
	"eventflow/pkg/events"
	"eventflow/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	mode := logger.DevelopmentMode
	if cfg.Server.Environment == "production" {
		mode = logger.ProductionMode
	}
	l := logger.New(mode, cfg.Server.LogLevel)
	logger.SetGlobalLogger(l)
	defer l.Logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := database.ApplyRawMigrations(ctx, pool, "migrations"); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}

	eventRepo := repository.NewEventRepository(pool)
	ruleRepo := repository.NewRuleRepository(pool)

	var broker events.Broker
	if cfg.Redis.Addr != "" {
		broker = events.NewRedisBroker(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		l.Infof("Using Redis broker at %s for live updates", cfg.Redis.Addr)
	} else {
		broker = events.NewMemoryBroker()
	}

	eventService := services.NewEventService(eventRepo, broker, l, cfg.Worker.StuckTimeout)
	ruleService := services.NewRuleService(ruleRepo, l)

	dispatcher := action.NewDispatcher(cfg, l)
	eng := engine.New(eventRepo, ruleRepo, dispatcher, eventService, l, cfg.Worker.ProcessingTimeout)

	w := worker.New(eventRepo, eng, l, cfg.Worker.PollInterval, cfg.Worker.Count)
	w.Start(ctx)

	hub := server.NewHub(broker, l)
	go hub.Run(ctx)

	srv := server.New(cfg, l, pool)
	srv.SetupRoutes(&server.Handlers{
		Events: handler.NewEventHandler(eventService, cfg.Server.Environment),
		Rules:  handler.NewRuleHandler(ruleService, cfg.Server.Environment),
	}, hub)
	srv.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	l.Infof("Shutdown signal received, draining...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Errorf("Error in the graceful shutdown of the server: %s", err)
	}

	// the in-flight event finishes its finalization before the loops exit
	w.Wait()
	hub.Stop()
	l.Infof("Server stopped gracefully")
}
