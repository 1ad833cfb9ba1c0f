package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// NarrationSink persists narration audio and returns the URL it is served at.
type NarrationSink interface {
	SaveNarration(storyID int64, ext string, r io.Reader) (string, error)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Secret  string
	// StubMode serves stories from the catalogue and skips audio.
	StubMode bool
	// StubDelay simulates model latency in stub mode.
	StubDelay time.Duration
	Catalog   *Catalog
	Narration NarrationSink
	Logger    *slog.Logger
}

// Client handles communication with the model service for story and audio generation
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	stubMode   bool
	stubDelay  time.Duration
	catalog    *Catalog
	narration  NarrationSink
	logger     *slog.Logger
}

// NewClient creates a new generator client with the given configuration
func NewClient(opts Options) (*Client, error) {
	catalog := opts.Catalog
	if catalog == nil {
		var err error
		if catalog, err = DefaultCatalog(); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: opts.BaseURL,
		secret:  opts.Secret,
		// Deadlines come from the caller's context; this only caps runaway requests.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		stubMode:   opts.StubMode,
		stubDelay:  opts.StubDelay,
		catalog:    catalog,
		narration:  opts.Narration,
		logger:     logger,
	}, nil
}

// GenerateStory writes a story for the image stored at imagePath
func (c *Client) GenerateStory(ctx context.Context, imagePath string) (*StoryContent, error) {
	if c.stubMode {
		if err := c.simulateLatency(ctx); err != nil {
			return nil, err
		}
		return &StoryContent{
			Title:   c.catalog.Titles[rand.IntN(len(c.catalog.Titles))],
			Content: c.catalog.Stories[rand.IntN(len(c.catalog.Stories))],
		}, nil
	}

	body, contentType, err := imageForm(imagePath)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/story", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Generator-Secret", c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generator returned status %d: %s", resp.StatusCode, string(raw))
	}

	return decodeStory(raw)
}

// GenerateAudio narrates text for the given story. An empty URL with a nil
// error means narration is unavailable and the story completes without it.
func (c *Client) GenerateAudio(ctx context.Context, text string, storyID int64) (string, error) {
	if c.stubMode || c.narration == nil {
		c.logger.Info("Audio generation skipped", "story_id", storyID, "stub_mode", c.stubMode)
		return "", nil
	}

	payload, err := json.Marshal(audioRequest{StoryID: storyID, Text: text})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Generator-Secret", c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		c.logger.Info("Narration unavailable from generator", "story_id", storyID)
		return "", nil
	default:
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("generator returned status %d: %s", resp.StatusCode, string(body))
	}

	url, err := c.narration.SaveNarration(storyID, audioExtension(resp.Header.Get("Content-Type")), resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to store narration: %w", err)
	}
	return url, nil
}

func (c *Client) simulateLatency(ctx context.Context) error {
	if c.stubDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(c.stubDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func imageForm(imagePath string) (io.Reader, string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return nil, "", fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

func audioExtension(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".mp3"
	}
	switch mediaType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".mp3"
}
