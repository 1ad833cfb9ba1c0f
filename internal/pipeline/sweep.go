package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Tejaswa-Shrivastava/storylens/internal/models"
)

// Sweep fails records that have been non-terminal for longer than
// staleAfter and returns how many it touched.
func (p *Pipeline) Sweep(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := p.now().Add(-staleAfter)
	ids, err := p.store.FailStale(ctx, cutoff, models.ErrorTitle, models.ErrorContent)
	if err != nil {
		return 0, fmt.Errorf("sweep stale stories: %w", err)
	}

	for _, id := range ids {
		p.logger.Warn("Story timed out, marked as error", "story_id", id, "stale_after", staleAfter)
		if p.notifier == nil {
			continue
		}
		if story, err := p.store.Get(ctx, id); err == nil {
			p.notify(ctx, story)
		}
	}
	return len(ids), nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (p *Pipeline) RunSweeper(ctx context.Context, interval, staleAfter time.Duration) {
	if interval <= 0 || staleAfter <= 0 {
		p.logger.Info("Stale story sweep disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Sweep(ctx, staleAfter); err != nil {
				p.logger.Error("Stale story sweep failed", "error", err)
			}
		}
	}
}
