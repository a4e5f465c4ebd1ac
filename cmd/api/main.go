package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/mutual-fund/internal/config"
	"github.com/Dan9191/mutual-fund/internal/handler"
	"github.com/Dan9191/mutual-fund/internal/integrations/cbr"
	"github.com/Dan9191/mutual-fund/internal/metrics"
	"github.com/Dan9191/mutual-fund/internal/middleware"
	"github.com/Dan9191/mutual-fund/internal/notifier"
	"github.com/Dan9191/mutual-fund/internal/oracle"
	"github.com/Dan9191/mutual-fund/internal/repository"
	"github.com/Dan9191/mutual-fund/internal/scheduler"
	"github.com/Dan9191/mutual-fund/internal/service"
	"github.com/Dan9191/mutual-fund/internal/transfer"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()
	if err := store.Init(ctx, service.FundDefaults(cfg.Fund)); err != nil {
		logger.Fatalf("Failed to initialize fund: %v", err)
	}

	// Initialize layers
	random := oracle.NewLocalSource(cfg.Fund.RandomnessFee, cfg.Fund.RandomnessCredit, 0, logger)
	var notify notifier.Notifier = notifier.NewLogNotifier(logger)
	if cfg.SMTPHost != "" {
		notify = notifier.NewEmailNotifier(cfg, logger)
	}
	svc := service.NewService(store, logger, service.PolicyFromConfig(cfg.Fund), service.Dependencies{
		Randomness: random,
		Sender:     transfer.NewLogSender(logger),
		Notifier:   notify,
		Rates:      cbr.NewCBRClient(cfg, logger),
	})
	random.SetHandler(svc.OnRandomnessDelivered)

	if err := svc.Bootstrap(ctx, append(cfg.AdminIdentities, cfg.OperatorIdentity)); err != nil {
		logger.Fatalf("Failed to bootstrap admins: %v", err)
	}

	sched := scheduler.NewScheduler(ctx, svc, cfg.OperatorIdentity, logger)
	if err := sched.Register(cfg.Schedule); err != nil {
		logger.Fatalf("Failed to register jobs: %v", err)
	}

	// Setup router
	r := mux.NewRouter()
	// Public routes
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods("GET")
	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	handler.NewHandler(svc, logger).Routes(authRouter)

	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return random.Run(gctx)
	})
	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		sched.Stop()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("Shutting down server")
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("Stopped with error: %v", err)
	}
}

// openStore connects to Postgres when DB_CONN is set and falls back to the
// in-memory store otherwise
func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (repository.Store, error) {
	if cfg.DBConn == "" {
		logger.Warn("DB_CONN is empty, using in-memory store")
		return repository.NewMemory(), nil
	}

	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	repo := repository.NewRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}
