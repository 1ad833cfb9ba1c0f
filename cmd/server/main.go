package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/Tejaswa-Shrivastava/storylens/internal/config"
	"github.com/Tejaswa-Shrivastava/storylens/internal/database"
	"github.com/Tejaswa-Shrivastava/storylens/internal/generator"
	"github.com/Tejaswa-Shrivastava/storylens/internal/pipeline"
	"github.com/Tejaswa-Shrivastava/storylens/internal/server"
	"github.com/Tejaswa-Shrivastava/storylens/internal/store"
	"github.com/Tejaswa-Shrivastava/storylens/internal/stories"
	"github.com/Tejaswa-Shrivastava/storylens/internal/streams"
	"github.com/Tejaswa-Shrivastava/storylens/internal/uploads"
	"github.com/Tejaswa-Shrivastava/storylens/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := worker.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	cleanups = append(cleanups, closeStore)

	files, err := uploads.NewFileManager(cfg.UploadDir, cfg.MaxUploadBytes)
	if err != nil {
		return fmt.Errorf("init upload dir: %w", err)
	}

	var catalog *generator.Catalog
	if cfg.StoryCatalog != "" {
		if catalog, err = generator.LoadCatalog(cfg.StoryCatalog); err != nil {
			return err
		}
	}
	gen, err := generator.NewClient(generator.Options{
		BaseURL:   cfg.GeneratorURL,
		Secret:    cfg.GeneratorSecret,
		StubMode:  cfg.GeneratorStub,
		Catalog:   catalog,
		Narration: files,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("init generator: %w", err)
	}

	var notifier pipeline.Notifier
	if cfg.RedisURL != "" {
		publisher, err := streams.NewPublisher(cfg.RedisURL)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func() { publisher.Close() })
		notifier = publisher
	}

	p := pipeline.New(pipeline.Options{
		Store:        st,
		Stories:      gen,
		Audio:        gen,
		Images:       files,
		Notifier:     notifier,
		Logger:       logger,
		StageTimeout: cfg.StageTimeout,
	})

	stopWorkers, err := startWorkers(ctx, cfg, p, logger)
	if err != nil {
		return err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := server.NewEngine(server.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
		Stories: stories.Deps{
			Store:     st,
			Images:    files,
			Acceptor:  p,
			UploadDir: files.Dir(),
		},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "port", cfg.Port, "env", cfg.Env, "upload_dir", cfg.UploadDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-serveErr:
		if err != nil {
			stopWorkers(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", "error", err)
	}
	stopWorkers(shutdownCtx)

	logger.Info("Server stopped")
	return nil
}

// openStore returns the Postgres store when DATABASE_URL is set, the SQLite
// store when SQLITE_PATH is set, and the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" && cfg.SQLitePath != "" {
		sqlite, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Opened SQLite store", "path", cfg.SQLitePath)
		return sqlite, func() {
			if err := sqlite.Close(); err != nil {
				logger.Warn("Failed to close SQLite store", "error", err)
			}
		}, nil
	}
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, stories are kept in memory and lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	db, err := database.Init(ctx, database.Options{URL: cfg.DatabaseURL, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := database.Close(db); err != nil {
			logger.Warn("Failed to close database", "error", err)
		}
	}

	if _, err := database.RunMigrations(db, logger); err != nil {
		closeDB()
		return nil, nil, err
	}
	if cfg.SeedDevData && !cfg.IsProduction() {
		if err := database.SeedDevData(db); err != nil {
			closeDB()
			return nil, nil, err
		}
	}

	return store.NewGormStore(db), closeDB, nil
}

// startWorkers wires background generation: asynq when Redis is
// configured, the in-process pool otherwise. The returned function stops
// everything it started.
func startWorkers(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, logger *slog.Logger) (func(context.Context), error) {
	if cfg.RedisURL == "" {
		pool := worker.NewPool(cfg.WorkerConcurrency, cfg.QueueSize, logger)
		p.SetDispatcher(pool)
		pool.Start(p.Run)

		sweepCtx, stopSweep := context.WithCancel(ctx)
		go p.RunSweeper(sweepCtx, cfg.SweepInterval, cfg.StaleAfter)

		return func(ctx context.Context) {
			stopSweep()
			if err := pool.Stop(ctx); err != nil {
				logger.Warn("Worker pool did not stop cleanly", "error", err)
			}
		}, nil
	}

	// Cover both stages plus the store writes around them.
	queue, err := worker.NewQueue(cfg.RedisURL, 2*cfg.StageTimeout+time.Minute)
	if err != nil {
		return nil, err
	}
	p.SetDispatcher(queue)

	stopServer, err := worker.Start(worker.ServerOptions{
		RedisURL:    cfg.RedisURL,
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Generate:    p.Run,
		Sweep: func(ctx context.Context) (int, error) {
			return p.Sweep(ctx, cfg.StaleAfter)
		},
	})
	if err != nil {
		queue.Close()
		return nil, err
	}

	stopScheduler := func() {}
	if cfg.StaleAfter > 0 && cfg.SweepSchedule != "" {
		if stopScheduler, err = worker.StartScheduler(cfg.RedisURL, cfg.SweepSchedule, logger); err != nil {
			stopServer()
			queue.Close()
			return nil, err
		}
	}

	return func(context.Context) {
		stopScheduler()
		stopServer()
		queue.Close()
	}, nil
}
