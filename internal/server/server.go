// Package server assembles the HTTP engine.
package server

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/Tejaswa-Shrivastava/storylens/internal/health"
	"github.com/Tejaswa-Shrivastava/storylens/internal/stories"
)

// multipartOverhead leaves room for form boundaries and headers on top of
// the image itself.
const multipartOverhead = 1 << 20

// Options configures NewEngine.
type Options struct {
	AllowedOrigins []string
	MaxUploadBytes int64
	Logger         *slog.Logger
	Stories        stories.Deps
}

// NewEngine builds the gin engine with middleware and all routes.
func NewEngine(opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(logger))
	engine.Use(CORS(opts.AllowedOrigins))
	if opts.MaxUploadBytes > 0 {
		engine.Use(MaxBodySize(opts.MaxUploadBytes + multipartOverhead))
	}

	engine.GET("/health", gin.WrapF(health.Handler))

	deps := opts.Stories
	if deps.Logger == nil {
		deps.Logger = logger
	}
	stories.RegisterRoutes(engine, deps)

	return engine
}
