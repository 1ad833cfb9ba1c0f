// Package store holds story records and applies their status transitions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Tejaswa-Shrivastava/storylens/internal/models"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("story not found")

	// ErrInvalidTransition is returned when a record's current status does
	// not allow the requested transition. The record is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the record store shared by the HTTP handlers and the pipeline.
// Each transition is applied atomically against the record's current status.
type Store interface {
	Get(ctx context.Context, id int64) (*models.Story, error)
	Create(ctx context.Context, story models.NewStory) (*models.Story, error)
	List(ctx context.Context) ([]models.Story, error)
	Count(ctx context.Context) (int, error)

	MarkGeneratingAudio(ctx context.Context, id int64, title, content string) (*models.Story, error)
	MarkCompleted(ctx context.Context, id int64, audioURL string) (*models.Story, error)
	MarkError(ctx context.Context, id int64, title, content string) (*models.Story, error)

	// FailStale moves every non-terminal record created before cutoff to
	// error and returns the ids it touched.
	FailStale(ctx context.Context, cutoff time.Time, title, content string) ([]int64, error)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
