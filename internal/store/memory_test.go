package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Tejaswa-Shrivastava/storylens/internal/models"
)

func newProcessing(t *testing.T, s *MemoryStore) *models.Story {
	t.Helper()

	story, err := s.Create(context.Background(), models.NewStory{
		ImageURL:         "/uploads/a.jpg",
		Title:            models.PlaceholderTitle,
		Content:          models.PlaceholderContent,
		ProcessingStatus: models.StatusProcessing,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return story
}

func TestCreateAssignsIDsAndDefaults(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.Create(ctx, models.NewStory{ImageURL: "/uploads/1.jpg", Title: "t", Content: "c"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if first.ID != 1 {
		t.Errorf("expected first id 1, got %d", first.ID)
	}
	if first.ProcessingStatus != models.StatusPending {
		t.Errorf("expected default status pending, got %s", first.ProcessingStatus)
	}
	if first.CreatedAt.IsZero() {
		t.Error("expected createdAt to be set")
	}
	if first.AudioURL != nil {
		t.Error("expected no audio url on create")
	}

	second := newProcessing(t, s)
	if second.ID != 2 {
		t.Errorf("expected second id 2, got %d", second.ID)
	}

	if _, err := s.Create(ctx, models.NewStory{ProcessingStatus: "bogus"}); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestGetNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), 999999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	story := newProcessing(t, s)

	fetched, _ := s.Get(ctx, story.ID)
	fetched.Title = "mutated"

	again, _ := s.Get(ctx, story.ID)
	if again.Title != models.PlaceholderTitle {
		t.Fatalf("store record changed through a returned copy: %q", again.Title)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		// Two records share a timestamp to exercise the id tie-break.
		return base.Add(time.Duration(tick/2) * time.Second)
	}

	for i := 0; i < 5; i++ {
		newProcessing(t, s)
	}

	list, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 5 {
		t.Fatalf("expected 5 stories, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		prev, cur := list[i-1], list[i]
		if prev.CreatedAt.Before(cur.CreatedAt) {
			t.Fatalf("list not ordered by createdAt desc at %d", i)
		}
		if prev.CreatedAt.Equal(cur.CreatedAt) && prev.ID < cur.ID {
			t.Fatalf("equal timestamps not ordered by id desc at %d", i)
		}
	}

	again, _ := s.List(context.Background())
	for i := range list {
		if list[i].ID != again[i].ID {
			t.Fatalf("list order not stable across calls")
		}
	}
}

func TestTransitionsFollowLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	story := newProcessing(t, s)

	if _, err := s.MarkCompleted(ctx, story.ID, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition completing from processing, got %v", err)
	}

	updated, err := s.MarkGeneratingAudio(ctx, story.ID, "A Captured Moment", "Once upon a time")
	if err != nil {
		t.Fatalf("MarkGeneratingAudio failed: %v", err)
	}
	if updated.ProcessingStatus != models.StatusGeneratingAudio || updated.Title != "A Captured Moment" {
		t.Fatalf("unexpected record after story stage: %#v", updated)
	}

	if _, err := s.MarkGeneratingAudio(ctx, story.ID, "x", "y"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected repeated story transition to be rejected, got %v", err)
	}

	done, err := s.MarkCompleted(ctx, story.ID, "/uploads/1-narration.mp3")
	if err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	if done.AudioURL == nil || *done.AudioURL != "/uploads/1-narration.mp3" {
		t.Fatalf("expected audio url to be set, got %v", done.AudioURL)
	}

	if _, err := s.MarkError(ctx, story.ID, models.ErrorTitle, models.ErrorContent); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected completed record to stay terminal, got %v", err)
	}

	final, _ := s.Get(ctx, story.ID)
	if final.ProcessingStatus != models.StatusCompleted || final.Title != "A Captured Moment" {
		t.Fatalf("rejected transition modified the record: %#v", final)
	}
}

func TestMarkCompletedWithoutAudio(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	story := newProcessing(t, s)

	if _, err := s.MarkGeneratingAudio(ctx, story.ID, "t", "c"); err != nil {
		t.Fatalf("MarkGeneratingAudio failed: %v", err)
	}
	done, err := s.MarkCompleted(ctx, story.ID, "")
	if err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	if done.AudioURL != nil {
		t.Fatalf("expected audio url unset, got %q", *done.AudioURL)
	}
}

func TestMarkErrorMissingRecord(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.MarkError(context.Background(), 42, "t", "c"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFailStale(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	old := newProcessing(t, s)
	oldDone := newProcessing(t, s)
	if _, err := s.MarkGeneratingAudio(ctx, oldDone.ID, "t", "c"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkCompleted(ctx, oldDone.ID, ""); err != nil {
		t.Fatal(err)
	}

	now = now.Add(time.Hour)
	fresh := newProcessing(t, s)

	ids, err := s.FailStale(ctx, now.Add(-time.Minute), models.ErrorTitle, models.ErrorContent)
	if err != nil {
		t.Fatalf("FailStale failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != old.ID {
		t.Fatalf("expected only %d to be failed, got %v", old.ID, ids)
	}

	got, _ := s.Get(ctx, old.ID)
	if got.ProcessingStatus != models.StatusError || got.Title != models.ErrorTitle {
		t.Fatalf("stale record not failed: %#v", got)
	}
	got, _ = s.Get(ctx, fresh.ID)
	if got.ProcessingStatus != models.StatusProcessing {
		t.Fatalf("fresh record touched: %#v", got)
	}
	got, _ = s.Get(ctx, oldDone.ID)
	if got.ProcessingStatus != models.StatusCompleted {
		t.Fatalf("completed record touched: %#v", got)
	}
}

func TestConcurrentTransitionsOnOneRecord(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	story := newProcessing(t, s)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.MarkGeneratingAudio(ctx, story.ID, "t", "c"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one transition to win, got %d", succeeded)
	}
}
