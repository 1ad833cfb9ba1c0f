package stories

import (
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Tejaswa-Shrivastava/storylens/internal/store"
	"github.com/Tejaswa-Shrivastava/storylens/internal/uploads"
)

// Deps are the collaborators of the story routes.
type Deps struct {
	Store     store.Store
	Images    ImageStore
	Acceptor  Acceptor
	UploadDir string
	Logger    *slog.Logger
}

// RegisterRoutes mounts the story API under /api and the uploaded files
// under /uploads.
func RegisterRoutes(r gin.IRouter, deps Deps) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	api := r.Group("/api/stories")
	api.GET("", ListHandler(deps.Store))
	api.POST("/generate", GenerateHandler(deps.Images, deps.Acceptor, logger))
	api.GET("/:id", GetHandler(deps.Store))
	api.GET("/:id/download", DownloadHandler(deps.Store, logger))

	if deps.UploadDir != "" {
		r.Static(strings.TrimSuffix(uploads.URLPrefix, "/"), deps.UploadDir)
	}
}
