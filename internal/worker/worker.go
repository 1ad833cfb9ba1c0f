package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tejaswa-Shrivastava/storylens/internal/pipeline"
	"github.com/Tejaswa-Shrivastava/storylens/internal/store"
	"github.com/hibiken/asynq"
)

// asynqLoggerAdapter wraps slog.Logger to implement asynq.Logger interface
type asynqLoggerAdapter struct {
	logger *slog.Logger
}

func (a *asynqLoggerAdapter) Debug(args ...interface{}) {
	a.logger.Debug(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Info(args ...interface{}) {
	a.logger.Info(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Warn(args ...interface{}) {
	a.logger.Warn(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Error(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Fatal(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
	panic(fmt.Sprint(args...))
}

// SweepFunc fails stale stories and reports how many it touched.
type SweepFunc func(ctx context.Context) (int, error)

// ServerOptions configures the embedded asynq server.
type ServerOptions struct {
	RedisURL    string
	Concurrency int
	Logger      *slog.Logger
	Generate    RunFunc
	Sweep       SweepFunc
}

// Start starts the asynq worker in non-blocking mode and returns a stop
// function so the caller can coordinate shutdown.
func Start(opts ServerOptions) (stop func(), err error) {
	srv, mux, err := newServer(opts)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return func() { srv.Shutdown() }, nil
}

func newServer(opts ServerOptions) (*asynq.Server, *asynq.ServeMux, error) {
	redisOpt, err := asynq.ParseRedisURI(opts.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:     concurrency,
			ShutdownTimeout: 30 * time.Second,
			ErrorHandler:    asynq.ErrorHandlerFunc(makeErrorHandler(logger)),
			Logger:          &asynqLoggerAdapter{logger: logger},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskGenerateStory, handleGenerateStory(logger, opts.Generate))
	if opts.Sweep != nil {
		mux.HandleFunc(TaskSweepStale, handleSweepStale(logger, opts.Sweep))
	}

	logger.Info("Worker starting", "concurrency", concurrency)
	return srv, mux, nil
}

// handleGenerateStory runs the pipeline for the story named in the task.
func handleGenerateStory(logger *slog.Logger, run RunFunc) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		storyID, err := parseGeneratePayload(task.Payload())
		if err != nil {
			// Invalid payload - don't retry
			return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
		}

		logger.Info("Processing story:generate task", "story_id", storyID)

		if err := run(ctx, storyID); err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				logger.Error("Story not found", "story_id", storyID)
				return fmt.Errorf("story not found: %w", asynq.SkipRetry)
			case errors.Is(err, pipeline.ErrAlreadyRunning):
				logger.Warn("Story already running in this process", "story_id", storyID)
				return nil
			}
			return err
		}
		return nil
	}
}

func handleSweepStale(logger *slog.Logger, sweep SweepFunc) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		n, err := sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep stale stories: %w", err)
		}
		if n > 0 {
			logger.Info("Stale stories failed", "count", n)
		}
		return nil
	}
}

// makeErrorHandler creates an error handler function with logger closure.
func makeErrorHandler(logger *slog.Logger) func(context.Context, *asynq.Task, error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)

		logger.Error(
			"Task execution failed",
			"task_type", task.Type(),
			"error", err.Error(),
			"retry_count", retried,
			"max_retry", maxRetry,
		)

		if retried >= maxRetry {
			logger.Error(
				"Task archived",
				"task_type", task.Type(),
				"payload", string(task.Payload()),
			)
		}
	}
}
