// Package uploads validates and stores uploaded images and generated
// narration files on local disk.
package uploads

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// URLPrefix is the path under which stored files are served.
const URLPrefix = "/uploads/"

// sniffLen is how much of an upload http.DetectContentType looks at.
const sniffLen = 512

// imageExtensions lists the stored types by sniffed media type. Stored
// names never take their extension from the client.
var imageExtensions = map[string]string{
	"image/jpeg":   ".jpg",
	"image/png":    ".png",
	"image/gif":    ".gif",
	"image/webp":   ".webp",
	"image/bmp":    ".bmp",
	"image/x-icon": ".ico",
}

var (
	// ErrNotImage is returned for uploads that are not declared as image/*
	// or whose content is not a known image format.
	ErrNotImage = errors.New("only image files are allowed")
	// ErrTooLarge is returned for uploads above the configured size limit.
	ErrTooLarge = errors.New("image exceeds maximum size")
)

// FileManager owns the upload directory.
type FileManager struct {
	dir            string
	maxUploadBytes int64
}

// NewFileManager creates dir if needed.
func NewFileManager(dir string, maxUploadBytes int64) (*FileManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dir %s: %w", dir, err)
	}
	return &FileManager{dir: dir, maxUploadBytes: maxUploadBytes}, nil
}

// Dir returns the directory files are stored in.
func (fm *FileManager) Dir() string {
	return fm.dir
}

// MaxUploadBytes returns the size limit for a single image.
func (fm *FileManager) MaxUploadBytes() int64 {
	return fm.maxUploadBytes
}

// Validate checks the declared MIME type and size of an upload.
func (fm *FileManager) Validate(header *multipart.FileHeader) error {
	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if !strings.HasPrefix(contentType, "image/") {
		return ErrNotImage
	}
	if fm.maxUploadBytes > 0 && header.Size > fm.maxUploadBytes {
		return ErrTooLarge
	}
	return nil
}

// SaveImage validates and writes an uploaded image under a generated name,
// returning the URL it will be served at. The extension follows the
// sniffed content type.
func (fm *FileManager) SaveImage(header *multipart.FileHeader) (string, error) {
	if err := fm.Validate(header); err != nil {
		return "", err
	}

	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]

	ext, ok := extensionForContent(head)
	if !ok {
		return "", ErrNotImage
	}

	name := uuid.NewString() + ext
	body := io.MultiReader(bytes.NewReader(head), src)
	if err := fm.writeWithLimit(filepath.Join(fm.dir, name), body, fm.maxUploadBytes); err != nil {
		return "", err
	}

	return URLPrefix + name, nil
}

// SaveNarration writes generated audio for a story.
func (fm *FileManager) SaveNarration(storyID int64, ext string, r io.Reader) (string, error) {
	if ext == "" || !strings.HasPrefix(ext, ".") {
		ext = "." + strings.TrimPrefix(ext, ".")
	}
	name := fmt.Sprintf("%d-narration%s", storyID, ext)
	if err := fm.writeWithLimit(filepath.Join(fm.dir, name), r, 0); err != nil {
		return "", err
	}
	return URLPrefix + name, nil
}

// PathFor maps a served URL back to its file on disk.
func (fm *FileManager) PathFor(url string) (string, error) {
	if !strings.HasPrefix(url, URLPrefix) {
		return "", fmt.Errorf("not an upload url: %q", url)
	}
	name := strings.TrimPrefix(url, URLPrefix)
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid upload name: %q", name)
	}
	return filepath.Join(fm.dir, name), nil
}

// writeWithLimit copies r to path, removing the partial file on failure.
// A limit of zero disables the size check.
func (fm *FileManager) writeWithLimit(path string, r io.Reader, limit int64) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	cleanup := func(err error) error {
		out.Close()
		os.Remove(path)
		return err
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(out, src)
	if err != nil {
		return cleanup(fmt.Errorf("write file: %w", err))
	}
	if limit > 0 && n > limit {
		return cleanup(ErrTooLarge)
	}

	if err := out.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}

func extensionForContent(head []byte) (string, bool) {
	mediaType := http.DetectContentType(head)
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	ext, ok := imageExtensions[mediaType]
	return ext, ok
}
