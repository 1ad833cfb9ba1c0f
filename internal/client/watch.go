package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tejaswa-Shrivastava/storylens/internal/models"
)

// DefaultInterval is the wait between two polls of a story.
const DefaultInterval = 2 * time.Second

// WatchOptions configures Watch.
type WatchOptions struct {
	// Interval between fetches. Zero means DefaultInterval.
	Interval time.Duration
	// OnUpdate is called with every observed state, including repeats.
	OnUpdate func(story *models.Story)
	// MaxErrors is the number of consecutive failed fetches tolerated
	// before Watch gives up. Zero means 3.
	MaxErrors int
}

// Watch polls a story until it reaches a terminal status and returns that
// final state. It never fetches again after a terminal observation, and
// stops at once on ErrNotFound or when ctx is done.
func (c *Client) Watch(ctx context.Context, id int64, opts WatchOptions) (*models.Story, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxErrors := opts.MaxErrors
	if maxErrors <= 0 {
		maxErrors = 3
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		story, err := c.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
				return nil, err
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				return nil, err
			}
			failures++
			if failures >= maxErrors {
				return nil, fmt.Errorf("watch story %d: giving up after %d errors: %w", id, failures, err)
			}
			timer.Reset(interval)
			continue
		}
		failures = 0

		if opts.OnUpdate != nil {
			opts.OnUpdate(story)
		}
		if !ShouldPoll(story.ProcessingStatus) {
			return story, nil
		}
		timer.Reset(interval)
	}
}
