package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"printdesk/internal/api"
	"printdesk/internal/api/handlers"
	"printdesk/internal/api/middleware"
	"printdesk/internal/config"
	"printdesk/internal/core"
	"printdesk/internal/db"
	"printdesk/internal/logger"
	"printdesk/internal/webhook"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	zlog, err := logger.New(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		zlog.Fatal("failed to create data directory", zap.Error(err))
	}

	conn, err := db.Open(cfg.Database.Path)
	if err != nil {
		zlog.Fatal("failed to open database", zap.Error(err))
	}
	defer conn.Close()

	users := db.NewUserStore(conn)
	departments := db.NewDepartmentStore(conn)
	policies := db.NewPolicyStore(conn)
	settings := db.NewSettingStore(conn)
	audit := db.NewAuditStore(conn)

	sender := webhook.NewSender(cfg.Webhooks, zlog.Named("webhook"))
	sender.Start()
	defer sender.Stop()

	ledger := core.NewLedger(conn, zlog.Named("ledger"))
	store := core.NewJobStore(conn)
	engine := core.NewEngine(store, ledger,
		core.NewSQLUserSource(conn), core.NewSQLPolicySource(conn),
		core.EngineConfig{
			Rates: core.Rates{
				GrayscaleCents: cfg.Pricing.GrayscaleCents,
				ColorCents:     cfg.Pricing.ColorCents,
			},
			AllowedMimeTypes: cfg.Pricing.AllowedMimeTypes,
		}, zlog.Named("engine")).
		WithEvents(sender)

	scheduler := core.NewScheduler(store, ledger, core.SchedulerConfig{
		TickInterval:      cfg.Scheduler.TickInterval,
		WorkerCount:       cfg.Scheduler.WorkerCount,
		MaxAttempts:       cfg.Scheduler.MaxAttempts,
		PerPageTime:       cfg.Scheduler.PerPageTime,
		MaxProcessingTime: cfg.Scheduler.MaxProcessingTime,
		PrintingTimeout:   cfg.Scheduler.PrintingTimeout,
	}, zlog.Named("scheduler")).
		WithPrinter(core.SimulatedPrinter(cfg.Scheduler.FailureRate)).
		WithEvents(sender)

	if err := scheduler.Start(context.Background()); err != nil {
		zlog.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	auth, err := middleware.NewAuthMiddleware(settings, cfg.Auth.TokenTTL)
	if err != nil {
		zlog.Fatal("failed to initialize auth", zap.Error(err))
	}

	router := api.SetupRouter(auth, api.Handlers{
		Auth:    handlers.NewAuthHandler(users, auth, cfg.Accounts),
		Jobs:    handlers.NewJobHandler(engine),
		Account: handlers.NewAccountHandler(engine),
		Policy:  handlers.NewPolicyHandler(policies, audit),
		Admin:   handlers.NewAdminHandler(users, departments, audit),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		zlog.Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("forced shutdown", zap.Error(err))
	}
}
