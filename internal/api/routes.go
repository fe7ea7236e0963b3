// routes.go - Route registration helpers
package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dataclean/cleanctl/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Workflow   WorkflowController
	Downloader Downloader
	Store      storage.Store
	History    HistoryReader // nil disables history routes
	Version    string
	ServiceURL string
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Workflow  WorkflowHandler
	Downloads DownloadHandler
	History   HistoryHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.ServiceURL, deps.Workflow),
		Workflow:  NewWorkflowHandler(deps.Workflow),
		Downloads: NewDownloadHandler(deps.Downloader, deps.Store),
		History:   NewHistoryHandler(deps.History),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Workflow
	wf := apiGroup.Group("/workflow")
	wf.GET("", handlers.Workflow.HandleGetWorkflow)
	wf.GET("/msgpack", handlers.Workflow.HandleGetWorkflowMsgpack)
	wf.POST("/file", handlers.Workflow.HandleSubmitFile)
	wf.POST("/reset", handlers.Workflow.HandleReset)
	wf.GET("/status", handlers.Workflow.HandleCheckStatus)
	wf.GET("/status/:id", handlers.Workflow.HandleCheckStatus)

	apiGroup.GET("/ws/workflow", handlers.Workflow.HandleWorkflowStream)

	// Downloads
	dl := apiGroup.Group("/downloads")
	dl.GET("", handlers.Downloads.HandleListDownloads)
	dl.POST("/:id", handlers.Downloads.HandleFetchDownload)
	dl.GET("/:id/file", handlers.Downloads.HandleGetDownloadFile)
	dl.DELETE("/:id", handlers.Downloads.HandleDeleteDownload)

	// History
	hist := apiGroup.Group("/history")
	hist.GET("", handlers.History.HandleGetHistory)
	hist.GET("/summary", handlers.History.HandleGetHistorySummary)
	hist.GET("/export", handlers.History.HandleExportHistory)
}

// MiddlewareConfig selects the optional middleware.
type MiddlewareConfig struct {
	RequestLogging bool
	BodyLimit      string
	EnableCORS     bool
	AllowOrigins   string
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.RequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return strings.Contains(path, "/status") ||
				strings.HasPrefix(path, "/api/ws/") ||
				path == "/api/health"
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 * 1024,
	}))

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if cfg.EnableCORS {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: splitOrigins(cfg.AllowOrigins),
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}
