package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Tejaswa-Shrivastava/storylens/internal/models"
)

// MemoryStore keeps records in a process-local map. Records are lost on
// restart.
type MemoryStore struct {
	mu      sync.RWMutex
	stories map[int64]*models.Story
	nextID  int64
	now     func() time.Time
}

// NewMemoryStore creates an empty store whose first id is 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stories: make(map[int64]*models.Story),
		nextID:  1,
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*models.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	story, ok := s.stories[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneStory(story), nil
}

func (s *MemoryStore) Create(_ context.Context, in models.NewStory) (*models.Story, error) {
	status := in.ProcessingStatus
	if status == "" {
		status = models.StatusPending
	}
	if !status.Valid() {
		return nil, fmt.Errorf("create story: unknown status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	story := &models.Story{
		ID:               s.nextID,
		ImageURL:         in.ImageURL,
		Title:            in.Title,
		Content:          in.Content,
		ProcessingStatus: status,
		CreatedAt:        s.now().UTC(),
	}
	s.nextID++
	s.stories[story.ID] = story

	return cloneStory(story), nil
}

// List returns all records, newest first. Records created within the same
// clock tick are ordered by descending id.
func (s *MemoryStore) List(_ context.Context) ([]models.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Story, 0, len(s.stories))
	for _, story := range s.stories {
		out = append(out, *cloneStory(story))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stories), nil
}

func (s *MemoryStore) MarkGeneratingAudio(_ context.Context, id int64, title, content string) (*models.Story, error) {
	return s.transition(id, models.StatusGeneratingAudio, func(story *models.Story) {
		story.Title = title
		story.Content = content
	})
}

func (s *MemoryStore) MarkCompleted(_ context.Context, id int64, audioURL string) (*models.Story, error) {
	return s.transition(id, models.StatusCompleted, func(story *models.Story) {
		if audioURL != "" {
			story.AudioURL = &audioURL
		}
	})
}

func (s *MemoryStore) MarkError(_ context.Context, id int64, title, content string) (*models.Story, error) {
	return s.transition(id, models.StatusError, func(story *models.Story) {
		story.Title = title
		story.Content = content
	})
}

func (s *MemoryStore) FailStale(_ context.Context, cutoff time.Time, title, content string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for id, story := range s.stories {
		if story.ProcessingStatus.Terminal() || !story.CreatedAt.Before(cutoff) {
			continue
		}
		story.Title = title
		story.Content = content
		story.ProcessingStatus = models.StatusError
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids, nil
}

// transition checks and applies a status change under the write lock so a
// concurrent transition on the same record observes the result.
func (s *MemoryStore) transition(id int64, to models.Status, apply func(*models.Story)) (*models.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	story, ok := s.stories[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !models.CanTransition(story.ProcessingStatus, to) {
		return nil, fmt.Errorf("story %d %s -> %s: %w", id, story.ProcessingStatus, to, ErrInvalidTransition)
	}

	apply(story)
	story.ProcessingStatus = to

	return cloneStory(story), nil
}

func cloneStory(story *models.Story) *models.Story {
	out := *story
	if story.AudioURL != nil {
		audioURL := *story.AudioURL
		out.AudioURL = &audioURL
	}
	return &out
}
