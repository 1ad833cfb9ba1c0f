package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Tejaswa-Shrivastava/storylens/internal/generator"
	"github.com/Tejaswa-Shrivastava/storylens/internal/models"
	"github.com/Tejaswa-Shrivastava/storylens/internal/store"
)

// ErrAlreadyRunning is returned by Run when the record is already being processed.
var ErrAlreadyRunning = errors.New("story generation already running")

// StoryGenerator writes a story for a stored image.
type StoryGenerator interface {
	GenerateStory(ctx context.Context, imagePath string) (*generator.StoryContent, error)
}

// AudioGenerator narrates story text. An empty URL means no narration.
type AudioGenerator interface {
	GenerateAudio(ctx context.Context, text string, storyID int64) (string, error)
}

// ImageResolver maps a record's image URL to a local file.
type ImageResolver interface {
	PathFor(url string) (string, error)
}

// Dispatcher schedules Run for a record outside the calling request.
type Dispatcher interface {
	Dispatch(ctx context.Context, storyID int64) error
}

// Notifier is told about every status a record enters.
type Notifier interface {
	Notify(ctx context.Context, story models.Story) error
}

// Options configures a Pipeline.
type Options struct {
	Store        store.Store
	Stories      StoryGenerator
	Audio        AudioGenerator
	Images       ImageResolver
	Dispatcher   Dispatcher
	Notifier     Notifier
	Logger       *slog.Logger
	StageTimeout time.Duration
}

// Pipeline runs story generation for accepted uploads.
type Pipeline struct {
	store        store.Store
	stories      StoryGenerator
	audio        AudioGenerator
	images       ImageResolver
	dispatcher   Dispatcher
	notifier     Notifier
	logger       *slog.Logger
	stageTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	inflight map[int64]struct{}
}

// New creates a Pipeline. Dispatcher may be nil until SetDispatcher is
// called, which lets a worker be built around Run first.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:        opts.Store,
		stories:      opts.Stories,
		audio:        opts.Audio,
		images:       opts.Images,
		dispatcher:   opts.Dispatcher,
		notifier:     opts.Notifier,
		logger:       logger,
		stageTimeout: opts.StageTimeout,
		now:          time.Now,
		inflight:     make(map[int64]struct{}),
	}
}

// SetDispatcher sets the dispatcher used by Accept.
func (p *Pipeline) SetDispatcher(d Dispatcher) {
	p.dispatcher = d
}

// Accept creates the record for a stored image and schedules its
// generation. The returned record is the one created, in processing.
func (p *Pipeline) Accept(ctx context.Context, imageURL string) (*models.Story, error) {
	story, err := p.store.Create(ctx, models.NewStory{
		ImageURL:         imageURL,
		Title:            models.PlaceholderTitle,
		Content:          models.PlaceholderContent,
		ProcessingStatus: models.StatusProcessing,
	})
	if err != nil {
		return nil, fmt.Errorf("create story: %w", err)
	}
	p.notify(ctx, story)

	if p.dispatcher == nil {
		err = errors.New("no dispatcher configured")
	} else {
		err = p.dispatcher.Dispatch(ctx, story.ID)
	}
	if err != nil {
		p.fail(ctx, story.ID, "dispatch", err)
		return story, fmt.Errorf("dispatch story %d: %w", story.ID, err)
	}

	p.logger.Info("Story accepted", "story_id", story.ID, "image_url", imageURL)
	return story, nil
}

// Run advances one record to a terminal status. Failures are recorded on
// the record; the returned error is for logging only.
func (p *Pipeline) Run(ctx context.Context, id int64) error {
	if !p.acquire(id) {
		return fmt.Errorf("story %d: %w", id, ErrAlreadyRunning)
	}
	defer p.release(id)

	story, err := p.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load story %d: %w", id, err)
	}

	switch story.ProcessingStatus {
	case models.StatusPending, models.StatusProcessing:
		story, err = p.storyStage(ctx, story)
		if err != nil || story == nil {
			return err
		}
		return p.audioStage(ctx, story)
	case models.StatusGeneratingAudio:
		return p.audioStage(ctx, story)
	default:
		p.logger.Debug("Story already finished, nothing to run", "story_id", id, "status", story.ProcessingStatus)
		return nil
	}
}

// storyStage returns the updated record, or nil when the run should stop.
func (p *Pipeline) storyStage(ctx context.Context, story *models.Story) (*models.Story, error) {
	logger := p.logger.With("story_id", story.ID, "stage", "story")
	logger.Info("Generating story")
	start := p.now()

	content, err := p.generateStory(ctx, story)
	if err != nil {
		p.fail(ctx, story.ID, "story", err)
		return nil, fmt.Errorf("story stage for %d: %w", story.ID, err)
	}

	updated, err := p.store.MarkGeneratingAudio(context.WithoutCancel(ctx), story.ID, content.Title, content.Content)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			logger.Warn("Story changed status during generation, stopping", "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("save story %d: %w", story.ID, err)
	}
	p.notify(ctx, updated)

	logger.Info("Story generated", "title", content.Title, "duration", p.now().Sub(start))
	return updated, nil
}

func (p *Pipeline) generateStory(ctx context.Context, story *models.Story) (*generator.StoryContent, error) {
	imagePath, err := p.images.PathFor(story.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("resolve image: %w", err)
	}

	content, err := callWithTimeout(ctx, p.stageTimeout, func(ctx context.Context) (*generator.StoryContent, error) {
		return p.stories.GenerateStory(ctx, imagePath)
	})
	if err != nil {
		return nil, err
	}
	if content == nil || strings.TrimSpace(content.Title) == "" || strings.TrimSpace(content.Content) == "" {
		return nil, errors.New("generator returned an empty story")
	}
	return content, nil
}

func (p *Pipeline) audioStage(ctx context.Context, story *models.Story) error {
	logger := p.logger.With("story_id", story.ID, "stage", "audio")
	logger.Info("Generating audio")

	text := story.Title + ". " + story.Content
	audioURL, err := callWithTimeout(ctx, p.stageTimeout, func(ctx context.Context) (string, error) {
		return p.audio.GenerateAudio(ctx, text, story.ID)
	})
	if err != nil {
		p.fail(ctx, story.ID, "audio", err)
		return fmt.Errorf("audio stage for %d: %w", story.ID, err)
	}

	updated, err := p.store.MarkCompleted(context.WithoutCancel(ctx), story.ID, audioURL)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			logger.Warn("Story changed status during narration, stopping", "error", err)
			return nil
		}
		return fmt.Errorf("complete story %d: %w", story.ID, err)
	}
	p.notify(ctx, updated)

	if audioURL == "" {
		logger.Info("Story completed without narration")
	} else {
		logger.Info("Story completed", "audio_url", audioURL)
	}
	return nil
}

// fail moves the record to error with the error placeholders, replacing
// any text an earlier stage produced. It runs detached from ctx so a
// cancelled or expired stage still leaves the record in error.
func (p *Pipeline) fail(ctx context.Context, id int64, stage string, cause error) {
	p.logger.Error("Story generation failed", "story_id", id, "stage", stage, "error", cause)

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	updated, err := p.store.MarkError(saveCtx, id, models.ErrorTitle, models.ErrorContent)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			p.logger.Warn("Story already finished, error not recorded", "story_id", id, "error", err)
			return
		}
		p.logger.Error("Failed to record story error", "story_id", id, "error", err)
		return
	}
	p.notify(saveCtx, updated)
}

func (p *Pipeline) notify(ctx context.Context, story *models.Story) {
	if p.notifier == nil || story == nil {
		return
	}
	if err := p.notifier.Notify(context.WithoutCancel(ctx), *story); err != nil {
		p.logger.Warn("Failed to publish status change", "story_id", story.ID, "status", story.ProcessingStatus, "error", err)
	}
}

func (p *Pipeline) acquire(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[id]; busy {
		return false
	}
	p.inflight[id] = struct{}{}
	return true
}

func (p *Pipeline) release(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, id)
}

// callWithTimeout runs fn with a deadline and stops waiting once the
// deadline passes, even if fn ignores its context.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("stage timed out after %s: %w", timeout, ctx.Err())
		}
		return zero, fmt.Errorf("stage aborted: %w", ctx.Err())
	}
}
