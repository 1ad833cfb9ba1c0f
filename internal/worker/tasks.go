package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task type constants
const (
	TaskGenerateStory = "story:generate"
	TaskSweepStale    = "story:sweep"
)

type generatePayload struct {
	StoryID int64 `json:"story_id"`
}

// Queue dispatches stories to asynq workers through Redis.
type Queue struct {
	client  *asynq.Client
	timeout time.Duration
}

// NewQueue connects an asynq client. timeout bounds a whole story task and
// should cover both generation stages.
func NewQueue(redisURL string, timeout time.Duration) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Queue{client: asynq.NewClient(opt), timeout: timeout}, nil
}

// Dispatch enqueues a story:generate task. Failures are recorded on the
// story by the pipeline, so the task is never retried.
func (q *Queue) Dispatch(ctx context.Context, storyID int64) error {
	payload, err := json.Marshal(generatePayload{StoryID: storyID})
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.TaskID(uuid.NewString()),
		asynq.MaxRetry(0),
		asynq.Retention(24 * time.Hour),
	}
	if q.timeout > 0 {
		opts = append(opts, asynq.Timeout(q.timeout))
	}

	if _, err := q.client.EnqueueContext(ctx, asynq.NewTask(TaskGenerateStory, payload, opts...)); err != nil {
		return fmt.Errorf("enqueue story %d: %w", storyID, err)
	}
	return nil
}

// Close closes the asynq client connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

func parseGeneratePayload(data []byte) (int64, error) {
	var payload generatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, err
	}
	if payload.StoryID <= 0 {
		return 0, fmt.Errorf("story_id %d out of range", payload.StoryID)
	}
	return payload.StoryID, nil
}
