package stories

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Tejaswa-Shrivastava/storylens/internal/export"
	"github.com/Tejaswa-Shrivastava/storylens/internal/models"
	"github.com/Tejaswa-Shrivastava/storylens/internal/store"
	"github.com/Tejaswa-Shrivastava/storylens/internal/uploads"
	"github.com/Tejaswa-Shrivastava/storylens/internal/worker"
)

// Acceptor creates a story for a stored image and schedules its generation.
type Acceptor interface {
	Accept(ctx context.Context, imageURL string) (*models.Story, error)
}

// ImageStore validates and stores uploaded images.
type ImageStore interface {
	Validate(header *multipart.FileHeader) error
	SaveImage(header *multipart.FileHeader) (string, error)
}

// GenerateHandler accepts an image upload and returns the created story
// immediately. Generation continues in the background.
func GenerateHandler(images ImageStore, acceptor Acceptor, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header, err := c.FormFile("image")
		if err != nil {
			if isBodyTooLarge(err) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image exceeds maximum upload size"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "No image file provided"})
			return
		}

		if err := images.Validate(header); err != nil {
			switch {
			case errors.Is(err, uploads.ErrNotImage):
				c.JSON(http.StatusBadRequest, gin.H{"error": "Only image files are allowed"})
			case errors.Is(err, uploads.ErrTooLarge):
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image exceeds maximum upload size"})
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			}
			return
		}

		imageURL, err := images.SaveImage(header)
		if err != nil {
			switch {
			case errors.Is(err, uploads.ErrNotImage):
				c.JSON(http.StatusBadRequest, gin.H{"error": "Only image files are allowed"})
				return
			case errors.Is(err, uploads.ErrTooLarge):
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image exceeds maximum upload size"})
				return
			}
			logger.Error("Failed to save upload", "filename", header.Filename, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process image upload"})
			return
		}

		story, err := acceptor.Accept(c.Request.Context(), imageURL)
		if err != nil {
			if errors.Is(err, worker.ErrQueueFull) {
				logger.Warn("Story queue full, upload rejected", "image_url", imageURL)
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Too many stories in progress, please try again shortly"})
				return
			}
			logger.Error("Failed to accept upload", "image_url", imageURL, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process image upload"})
			return
		}

		c.JSON(http.StatusOK, story)
	}
}

// GetHandler returns the current state of one story. It is the only
// progress channel, so it always reads straight from the store.
func GetHandler(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		story, ok := loadStory(c, s, "Failed to fetch story")
		if !ok {
			return
		}
		c.JSON(http.StatusOK, story)
	}
}

// ListHandler returns every story, newest first.
func ListHandler(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := s.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stories"})
			return
		}
		if list == nil {
			list = []models.Story{}
		}
		c.JSON(http.StatusOK, list)
	}
}

// DownloadHandler serves a story as a text attachment, or as a PDF with
// ?format=pdf.
func DownloadHandler(s store.Store, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		story, ok := loadStory(c, s, "Failed to download story")
		if !ok {
			return
		}

		switch strings.ToLower(c.DefaultQuery("format", "txt")) {
		case "txt", "text":
			c.Header("Content-Disposition", attachment(export.Filename(story.Title, "txt")))
			c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(export.Text(*story)))
		case "pdf":
			c.Header("Content-Disposition", attachment(export.Filename(story.Title, "pdf")))
			c.Header("Content-Type", "application/pdf")
			c.Status(http.StatusOK)
			if err := export.WritePDF(c.Writer, *story); err != nil {
				logger.Error("Failed to render pdf", "story_id", story.ID, "error", err)
			}
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported download format"})
		}
	}
}

func loadStory(c *gin.Context, s store.Store, failure string) (*models.Story, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid story id"})
		return nil, false
	}

	story, err := s.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Story not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": failure})
		return nil, false
	}
	return story, true
}

func attachment(filename string) string {
	return `attachment; filename="` + filename + `"`
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
