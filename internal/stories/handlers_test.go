package stories

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Tejaswa-Shrivastava/storylens/internal/generator"
	"github.com/Tejaswa-Shrivastava/storylens/internal/models"
	"github.com/Tejaswa-Shrivastava/storylens/internal/pipeline"
	"github.com/Tejaswa-Shrivastava/storylens/internal/store"
	"github.com/Tejaswa-Shrivastava/storylens/internal/uploads"
	"github.com/Tejaswa-Shrivastava/storylens/internal/worker"
)

type audioFunc func(ctx context.Context, text string, storyID int64) (string, error)

func (f audioFunc) GenerateAudio(ctx context.Context, text string, storyID int64) (string, error) {
	return f(ctx, text, storyID)
}

func noAudio(context.Context, string, int64) (string, error) { return "", nil }

type testServer struct {
	engine *gin.Engine
	store  *store.MemoryStore
	dir    string
}

func setupTestServer(t *testing.T, audio pipeline.AudioGenerator) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	files, err := uploads.NewFileManager(t.TempDir(), 10*1024*1024)
	if err != nil {
		t.Fatalf("file manager: %v", err)
	}
	stories, err := generator.NewClient(generator.Options{StubMode: true})
	if err != nil {
		t.Fatalf("generator: %v", err)
	}

	memStore := store.NewMemoryStore()
	p := pipeline.New(pipeline.Options{
		Store:        memStore,
		Stories:      stories,
		Audio:        audio,
		Images:       files,
		StageTimeout: 5 * time.Second,
	})
	pool := worker.NewPool(2, 8, nil)
	p.SetDispatcher(pool)
	pool.Start(p.Run)
	t.Cleanup(func() { pool.Stop(context.Background()) })

	engine := gin.New()
	engine.Use(gin.Recovery())
	RegisterRoutes(engine, Deps{
		Store:     memStore,
		Images:    files,
		Acceptor:  p,
		UploadDir: files.Dir(),
	})

	return &testServer{engine: engine, store: memStore, dir: files.Dir()}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) get(path string) *httptest.ResponseRecorder {
	return s.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (s *testServer) count(t *testing.T) int {
	t.Helper()
	n, err := s.store.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func uploadRequest(t *testing.T, filename, contentType string, data []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, filename))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/stories/generate", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jpeg(size int) []byte {
	data := make([]byte, size)
	copy(data, []byte{0xFF, 0xD8, 0xFF, 0xE0})
	return data
}

func decodeStory(t *testing.T, rec *httptest.ResponseRecorder) (models.Story, map[string]any) {
	t.Helper()
	var story models.Story
	if err := json.Unmarshal(rec.Body.Bytes(), &story); err != nil {
		t.Fatalf("decode story: %v (body %s)", err, rec.Body.String())
	}
	var raw map[string]any
	json.Unmarshal(rec.Body.Bytes(), &raw)
	return story, raw
}

func createStory(t *testing.T, s *store.MemoryStore, title, content string) *models.Story {
	t.Helper()
	ctx := context.Background()
	story, err := s.Create(ctx, models.NewStory{ImageURL: "/uploads/a.jpg", ProcessingStatus: models.StatusProcessing})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkGeneratingAudio(ctx, story.ID, title, content); err != nil {
		t.Fatal(err)
	}
	story, err = s.MarkCompleted(ctx, story.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	return story
}

func TestGenerateAndPollToCompletion(t *testing.T) {
	srv := setupTestServer(t, audioFunc(noAudio))

	rec := srv.do(uploadRequest(t, "beach.jpg", "image/jpeg", jpeg(2*1024*1024)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	created, raw := decodeStory(t, rec)
	if created.ProcessingStatus != models.StatusProcessing {
		t.Errorf("expected processing, got %s", created.ProcessingStatus)
	}
	if _, ok := raw["audioUrl"]; ok {
		t.Error("expected no audioUrl on the created record")
	}

	var seen []models.Status
	deadline := time.Now().Add(5 * time.Second)
	var final models.Story
	for {
		rec := srv.get(fmt.Sprintf("/api/stories/%d", created.ID))
		if rec.Code != http.StatusOK {
			t.Fatalf("poll returned %d", rec.Code)
		}
		final, _ = decodeStory(t, rec)
		seen = append(seen, final.ProcessingStatus)
		if final.ProcessingStatus.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("story never finished, statuses %v", seen)
		}
		time.Sleep(10 * time.Millisecond)
	}

	for i := 1; i < len(seen); i++ {
		if seen[i].Rank() < seen[i-1].Rank() {
			t.Fatalf("status regressed: %v", seen)
		}
	}
	if final.ProcessingStatus != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.ProcessingStatus)
	}
	if final.Title == models.PlaceholderTitle || final.Content == models.PlaceholderContent {
		t.Error("completed story still has placeholder text")
	}
	if final.AudioURL != nil {
		t.Errorf("expected no audio url, got %q", *final.AudioURL)
	}

	img := srv.get(created.ImageURL)
	if img.Code != http.StatusOK || img.Body.Len() != 2*1024*1024 {
		t.Errorf("uploaded image not served: status %d, %d bytes", img.Code, img.Body.Len())
	}
}

func TestGenerateRecordsNarration(t *testing.T) {
	srv := setupTestServer(t, audioFunc(func(_ context.Context, _ string, id int64) (string, error) {
		return fmt.Sprintf("/uploads/%d-narration.mp3", id), nil
	}))

	created, _ := decodeStory(t, srv.do(uploadRequest(t, "a.png", "image/png", jpeg(1024))))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		story, _ := decodeStory(t, srv.get(fmt.Sprintf("/api/stories/%d", created.ID)))
		if story.ProcessingStatus.Terminal() {
			if story.AudioURL == nil || *story.AudioURL != fmt.Sprintf("/uploads/%d-narration.mp3", created.ID) {
				t.Fatalf("unexpected audio url %v", story.AudioURL)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("story never finished")
}

func TestGenerateRejectsBadUploads(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) *http.Request
		code int
	}{
		{
			name: "non-image",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "notes.txt", "text/plain", []byte("hello"))
			},
			code: http.StatusBadRequest,
		},
		{
			name: "markup declared as image",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "x.html", "image/png", []byte("<html><script>alert(document.cookie)</script></html>"))
			},
			code: http.StatusBadRequest,
		},
		{
			name: "oversize image",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "huge.jpg", "image/jpeg", jpeg(11*1000*1000))
			},
			code: http.StatusRequestEntityTooLarge,
		},
		{
			name: "missing file",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/stories/generate", nil)
			},
			code: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := setupTestServer(t, audioFunc(noAudio))

			rec := srv.do(tt.req(t))
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}

			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == nil {
				t.Fatalf("expected error message, got %s", rec.Body.String())
			}
			if n := srv.count(t); n != 0 {
				t.Fatalf("expected no records created, got %d", n)
			}
		})
	}
}

func TestGenerateStoresImagesUnderContentExtension(t *testing.T) {
	srv := setupTestServer(t, audioFunc(noAudio))

	rec := srv.do(uploadRequest(t, "x.html", "image/png", []byte("<script>alert(1)</script>")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for markup upload, got %d: %s", rec.Code, rec.Body.String())
	}
	entries, err := os.ReadDir(srv.dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected upload left %d files in the upload dir", len(entries))
	}

	rec = srv.do(uploadRequest(t, "x.html", "image/png", jpeg(256)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a real image, got %d: %s", rec.Code, rec.Body.String())
	}
	created, _ := decodeStory(t, rec)
	if !strings.HasSuffix(created.ImageURL, ".jpg") {
		t.Fatalf("expected stored name to follow the content, got %q", created.ImageURL)
	}

	img := srv.get(created.ImageURL)
	if img.Code != http.StatusOK {
		t.Fatalf("expected stored image to be served, got %d", img.Code)
	}
	if ct := img.Header().Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		t.Fatalf("stored upload served as %q", ct)
	}
}

type acceptFunc func(ctx context.Context, imageURL string) (*models.Story, error)

func (f acceptFunc) Accept(ctx context.Context, imageURL string) (*models.Story, error) {
	return f(ctx, imageURL)
}

func TestGenerateQueueFull(t *testing.T) {
	gin.SetMode(gin.TestMode)
	files, err := uploads.NewFileManager(t.TempDir(), 1024*1024)
	if err != nil {
		t.Fatal(err)
	}
	engine := gin.New()
	engine.POST("/api/stories/generate", GenerateHandler(files, acceptFunc(func(context.Context, string) (*models.Story, error) {
		return &models.Story{ID: 1}, fmt.Errorf("dispatch story 1: %w", worker.ErrQueueFull)
	}), testLogger()))

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, uploadRequest(t, "a.jpg", "image/jpeg", jpeg(64)))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestGetUnknownStory(t *testing.T) {
	srv := setupTestServer(t, audioFunc(noAudio))

	rec := srv.get("/api/stories/999999")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != `{"error":"Story not found"}` {
		t.Fatalf("unexpected body %s", got)
	}
}

func TestGetInvalidID(t *testing.T) {
	srv := setupTestServer(t, audioFunc(noAudio))

	for _, path := range []string{"/api/stories/abc", "/api/stories/0", "/api/stories/-4/download"} {
		if rec := srv.get(path); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestGetIsIdempotent(t *testing.T) {
	srv := setupTestServer(t, audioFunc(noAudio))
	story := createStory(t, srv.store, "Fragments of Life", "Everything in its place.")

	path := fmt.Sprintf("/api/stories/%d", story.ID)
	first := srv.get(path).Body.Bytes()
	second := srv.get(path).Body.Bytes()
	if !bytes.Equal(first, second) {
		t.Fatalf("responses differ:\n%s\n%s", first, second)
	}
}

func TestListNewestFirst(t *testing.T) {
	srv := setupTestServer(t, audioFunc(noAudio))
	for i := 0; i < 3; i++ {
		createStory(t, srv.store, fmt.Sprintf("Story %d", i), "body")
	}

	rec := srv.get("/api/stories")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list []models.Story
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 stories, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) || list[i].ID > list[i-1].ID {
			t.Fatalf("list not newest first: %d before %d", list[i-1].ID, list[i].ID)
		}
	}
}

func TestListEmpty(t *testing.T) {
	srv := setupTestServer(t, audioFunc(noAudio))

	if got := srv.get("/api/stories").Body.String(); got != "[]" {
		t.Fatalf("expected empty JSON array, got %s", got)
	}
}

func TestDownloadText(t *testing.T) {
	srv := setupTestServer(t, audioFunc(noAudio))
	story := createStory(t, srv.store, "Whispers of Time", "The clock tower kept its secrets.")

	rec := srv.get(fmt.Sprintf("/api/stories/%d/download", story.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	want := "Whispers of Time\n\nThe clock tower kept its secrets.\n\nGenerated by StoryLens AI"
	if got := rec.Body.String(); got != want {
		t.Errorf("unexpected body %q", got)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="whispers_of_time.txt"` {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("unexpected Content-Type %q", ct)
	}
}

func TestDownloadPDF(t *testing.T) {
	srv := setupTestServer(t, audioFunc(noAudio))
	story := createStory(t, srv.store, "Echoes of Yesterday", "A letter in the attic.")

	rec := srv.get(fmt.Sprintf("/api/stories/%d/download?format=pdf", story.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("unexpected Content-Type %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="echoes_of_yesterday.pdf"` {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
		t.Error("body is not a PDF")
	}
}

func TestDownloadUnknownStory(t *testing.T) {
	srv := setupTestServer(t, audioFunc(noAudio))

	if rec := srv.get("/api/stories/999999/download"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	story := createStory(t, srv.store, "t", "c")
	if rec := srv.get(fmt.Sprintf("/api/stories/%d/download?format=docx", story.ID)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", rec.Code)
	}
}

func TestGenerateBodyLimitIsEntityTooLarge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	files, err := uploads.NewFileManager(t.TempDir(), 1024*1024)
	if err != nil {
		t.Fatal(err)
	}
	accepted := false
	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 4096)
		c.Next()
	})
	engine.POST("/api/stories/generate", GenerateHandler(files, acceptFunc(func(context.Context, string) (*models.Story, error) {
		accepted = true
		return &models.Story{ID: 1}, nil
	}), testLogger()))

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, uploadRequest(t, "a.jpg", "image/jpeg", jpeg(64*1024)))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
	if accepted {
		t.Fatal("truncated upload reached the pipeline")
	}
}

func TestIsBodyTooLarge(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"max bytes error", &http.MaxBytesError{Limit: 10}, true},
		{"wrapped", fmt.Errorf("multipart: NextPart: %w", &http.MaxBytesError{Limit: 10}), true},
		{"message only", errors.New("http: request body too large"), false},
		{"other", http.ErrMissingFile, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isBodyTooLarge(tt.err); got != tt.want {
				t.Errorf("isBodyTooLarge(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
