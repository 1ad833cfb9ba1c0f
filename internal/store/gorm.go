package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Tejaswa-Shrivastava/storylens/internal/models"
)

// GormStore keeps records in the stories table.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore wraps an open connection. The schema is expected to be
// migrated already (see database.RunMigrations).
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

func (s *GormStore) Get(ctx context.Context, id int64) (*models.Story, error) {
	var story models.Story
	if err := s.db.WithContext(ctx).First(&story, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch story: %w", err)
	}
	return &story, nil
}

func (s *GormStore) Create(ctx context.Context, in models.NewStory) (*models.Story, error) {
	status := in.ProcessingStatus
	if status == "" {
		status = models.StatusPending
	}
	if !status.Valid() {
		return nil, fmt.Errorf("create story: unknown status %q", status)
	}

	story := models.Story{
		ImageURL:         in.ImageURL,
		Title:            in.Title,
		Content:          in.Content,
		ProcessingStatus: status,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&story).Error; err != nil {
		return nil, fmt.Errorf("failed to create story: %w", err)
	}
	return &story, nil
}

func (s *GormStore) List(ctx context.Context) ([]models.Story, error) {
	var stories []models.Story
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&stories).Error; err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	return stories, nil
}

func (s *GormStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Story{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count stories: %w", err)
	}
	return int(n), nil
}

func (s *GormStore) MarkGeneratingAudio(ctx context.Context, id int64, title, content string) (*models.Story, error) {
	return s.transition(ctx, id, models.StatusGeneratingAudio, map[string]interface{}{
		"title":   title,
		"content": content,
	})
}

func (s *GormStore) MarkCompleted(ctx context.Context, id int64, audioURL string) (*models.Story, error) {
	updates := map[string]interface{}{}
	if audioURL != "" {
		updates["audio_url"] = audioURL
	}
	return s.transition(ctx, id, models.StatusCompleted, updates)
}

func (s *GormStore) MarkError(ctx context.Context, id int64, title, content string) (*models.Story, error) {
	return s.transition(ctx, id, models.StatusError, map[string]interface{}{
		"title":   title,
		"content": content,
	})
}

func (s *GormStore) FailStale(ctx context.Context, cutoff time.Time, title, content string) ([]int64, error) {
	active := models.SourcesFor(models.StatusError)

	var ids []int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Story{}).
			Where("processing_status IN ? AND created_at < ?", active, cutoff.UTC()).
			Order("id").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&models.Story{}).
			Where("id IN ? AND processing_status IN ?", ids, active).
			Updates(map[string]interface{}{
				"title":             title,
				"content":           content,
				"processing_status": models.StatusError,
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fail stale stories: %w", err)
	}
	return ids, nil
}

// transition issues a single conditional UPDATE guarded by the statuses
// allowed to move to target, so concurrent writers cannot skip a check.
func (s *GormStore) transition(ctx context.Context, id int64, to models.Status, updates map[string]interface{}) (*models.Story, error) {
	updates["processing_status"] = to

	result := s.db.WithContext(ctx).Model(&models.Story{}).
		Where("id = ? AND processing_status IN ?", id, models.SourcesFor(to)).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update story %d: %w", id, result.Error)
	}

	if result.RowsAffected == 0 {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("story %d %s -> %s: %w", id, current.ProcessingStatus, to, ErrInvalidTransition)
	}

	return s.Get(ctx, id)
}
