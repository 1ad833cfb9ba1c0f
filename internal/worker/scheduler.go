package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// StartScheduler registers the periodic story:sweep task and starts an
// asynq Scheduler. Returns a stop function for graceful shutdown.
func StartScheduler(redisURL, schedule string, logger *slog.Logger) (stop func(), err error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	scheduler := asynq.NewScheduler(
		redisOpt,
		&asynq.SchedulerOpts{
			Location: time.UTC,
			LogLevel: asynq.InfoLevel,
			Logger:   &asynqLoggerAdapter{logger: logger},
		},
	)

	task := asynq.NewTask(
		TaskSweepStale,
		nil,
		asynq.MaxRetry(0),
		asynq.Timeout(time.Minute),
		asynq.Retention(time.Hour),
		asynq.Unique(30*time.Second), // Prevent duplicates when several schedulers run
	)

	entryID, err := scheduler.Register(schedule, task)
	if err != nil {
		return nil, fmt.Errorf("failed to register sweep schedule: %w", err)
	}

	if err := scheduler.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info("Scheduler started", "schedule", schedule, "entry_id", entryID)

	return func() { scheduler.Shutdown() }, nil
}
