package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Tejaswa-Shrivastava/storylens/internal/models"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS stories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	image_url TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	audio_url TEXT,
	processing_status TEXT NOT NULL DEFAULT 'pending',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stories_created_at ON stories (created_at);
CREATE INDEX IF NOT EXISTS idx_stories_status ON stories (processing_status);`

// sqliteTimeLayout is fixed width so created_at sorts as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const storyColumns = "id, image_url, title, content, audio_url, processing_status, created_at"

// SQLiteStore keeps records in a local SQLite file. It suits a single
// server process that must keep stories across restarts without Postgres.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Pragmas are per connection and SQLite has a single writer.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (*models.Story, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+storyColumns+" FROM stories WHERE id = ?", id)
	story, err := scanStory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch story: %w", err)
	}
	return story, nil
}

func (s *SQLiteStore) Create(ctx context.Context, in models.NewStory) (*models.Story, error) {
	status := in.ProcessingStatus
	if status == "" {
		status = models.StatusPending
	}
	if !status.Valid() {
		return nil, fmt.Errorf("create story: unknown status %q", status)
	}

	createdAt := s.now().UTC()
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx,
			`INSERT INTO stories (image_url, title, content, processing_status, created_at) VALUES (?, ?, ?, ?, ?)`,
			in.ImageURL, in.Title, in.Content, string(status), createdAt.Format(sqliteTimeLayout),
		)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create story: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read story id: %w", err)
	}

	return &models.Story{
		ID:               id,
		ImageURL:         in.ImageURL,
		Title:            in.Title,
		Content:          in.Content,
		ProcessingStatus: status,
		CreatedAt:        createdAt,
	}, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]models.Story, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+storyColumns+" FROM stories ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	defer rows.Close()

	stories := []models.Story{}
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan story: %w", err)
		}
		stories = append(stories, *story)
	}
	return stories, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM stories").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count stories: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) MarkGeneratingAudio(ctx context.Context, id int64, title, content string) (*models.Story, error) {
	return s.transition(ctx, id, models.StatusGeneratingAudio, "title = ?, content = ?", title, content)
}

func (s *SQLiteStore) MarkCompleted(ctx context.Context, id int64, audioURL string) (*models.Story, error) {
	if audioURL == "" {
		return s.transition(ctx, id, models.StatusCompleted, "")
	}
	return s.transition(ctx, id, models.StatusCompleted, "audio_url = ?", audioURL)
}

func (s *SQLiteStore) MarkError(ctx context.Context, id int64, title, content string) (*models.Story, error) {
	return s.transition(ctx, id, models.StatusError, "title = ?, content = ?", title, content)
}

func (s *SQLiteStore) FailStale(ctx context.Context, cutoff time.Time, title, content string) ([]int64, error) {
	active := models.SourcesFor(models.StatusError)
	in, statusArgs := inClause(active)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sweep: %w", err)
	}
	defer tx.Rollback()

	args := append(statusArgs, cutoff.UTC().Format(sqliteTimeLayout))
	rows, err := tx.QueryContext(ctx, "SELECT id FROM stories WHERE processing_status IN "+in+" AND created_at < ? ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale stories: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		updateArgs := append([]any{title, content, string(models.StatusError), id}, statusArgs...)
		if _, err := tx.ExecContext(ctx,
			"UPDATE stories SET title = ?, content = ?, processing_status = ? WHERE id = ? AND processing_status IN "+in,
			updateArgs...); err != nil {
			return nil, fmt.Errorf("failed to fail story %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sweep: %w", err)
	}
	return ids, nil
}

// transition applies set plus the new status in one UPDATE guarded by the
// statuses allowed to move to target.
func (s *SQLiteStore) transition(ctx context.Context, id int64, to models.Status, set string, args ...any) (*models.Story, error) {
	in, statusArgs := inClause(models.SourcesFor(to))

	assignments := "processing_status = ?"
	if set != "" {
		assignments = set + ", " + assignments
	}
	query := "UPDATE stories SET " + assignments + " WHERE id = ? AND processing_status IN " + in
	queryArgs := append(append(args, string(to), id), statusArgs...)

	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, queryArgs...)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update story %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("story %d %s -> %s: %w", id, current.ProcessingStatus, to, ErrInvalidTransition)
	}
	return s.Get(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStory(row rowScanner) (*models.Story, error) {
	var (
		story     models.Story
		audioURL  sql.NullString
		status    string
		createdAt string
	)
	if err := row.Scan(&story.ID, &story.ImageURL, &story.Title, &story.Content, &audioURL, &status, &createdAt); err != nil {
		return nil, err
	}
	if audioURL.Valid {
		story.AudioURL = &audioURL.String
	}
	story.ProcessingStatus = models.Status(status)

	t, err := time.Parse(sqliteTimeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	story.CreatedAt = t
	return &story, nil
}

func inClause(statuses []models.Status) (string, []any) {
	args := make([]any, len(statuses))
	marks := make([]string, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
		marks[i] = "?"
	}
	return "(" + strings.Join(marks, ", ") + ")", args
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
