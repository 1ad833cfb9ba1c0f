package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Tejaswa-Shrivastava/storylens/internal/models"
	"github.com/redis/go-redis/v9"
)

// Publisher appends story status changes to a Redis stream
type Publisher struct {
	rdb    *redis.Client
	stream string
	now    func() time.Time
}

// NewPublisher creates a new Publisher instance
func NewPublisher(redisURL string) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return &Publisher{
		rdb:    redis.NewClient(opts),
		stream: StreamStoryStatus,
		now:    time.Now,
	}, nil
}

// Notify publishes the status the story just entered.
func (p *Publisher) Notify(ctx context.Context, story models.Story) error {
	_, err := p.Publish(ctx, StatusEvent{
		StoryID:    story.ID,
		Status:     string(story.ProcessingStatus),
		OccurredAt: p.now().UTC(),
	})
	return err
}

// Publish writes one event and returns the stream entry id.
func (p *Publisher) Publish(ctx context.Context, event StatusEvent) (string, error) {
	args, err := p.xaddArgs(event)
	if err != nil {
		return "", err
	}

	result := p.rdb.XAdd(ctx, args)
	if result.Err() != nil {
		return "", fmt.Errorf("failed to publish to stream: %w", result.Err())
	}
	return result.Val(), nil
}

func (p *Publisher) xaddArgs(event StatusEvent) (*redis.XAddArgs, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: 10000,
		Approx: true,
		ID:     "*", // auto-generate ID
		Values: map[string]interface{}{
			"payload":        string(payload),
			"story_id":       event.StoryID,
			"schema_version": SchemaVersionV1,
		},
	}, nil
}

// Close closes the Redis client connection
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
