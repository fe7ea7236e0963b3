// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/dataclean/cleanctl/internal/history"
	"github.com/dataclean/cleanctl/internal/models"
	"github.com/dataclean/cleanctl/internal/processing"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// WorkflowHandler exposes the workflow controller
type WorkflowHandler interface {
	HandleGetWorkflow(c echo.Context) error
	HandleGetWorkflowMsgpack(c echo.Context) error
	HandleSubmitFile(c echo.Context) error
	HandleReset(c echo.Context) error
	HandleCheckStatus(c echo.Context) error
	HandleWorkflowStream(c echo.Context) error
}

// DownloadHandler handles processed output kept on this machine
type DownloadHandler interface {
	HandleFetchDownload(c echo.Context) error
	HandleListDownloads(c echo.Context) error
	HandleGetDownloadFile(c echo.Context) error
	HandleDeleteDownload(c echo.Context) error
}

// HistoryHandler handles run history queries
type HistoryHandler interface {
	HandleGetHistory(c echo.Context) error
	HandleGetHistorySummary(c echo.Context) error
	HandleExportHistory(c echo.Context) error
}

// WorkflowController is the part of *workflow.Controller the handlers use.
// This allows mocking in tests.
type WorkflowController interface {
	SubmitFile(ctx context.Context, f models.PendingFile) (uint64, error)
	Reset()
	CheckStatus(ctx context.Context, reference string) (*models.JobStatus, error)
	Snapshot() models.Snapshot
	Subscribe(fn func(models.Snapshot)) (unsubscribe func())
}

// Downloader opens processed files on the cleaning service.
type Downloader interface {
	Download(ctx context.Context, reference string) (*processing.Download, error)
}

// HistoryReader reads the run history.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]models.Run, error)
	Summarize(ctx context.Context) (*history.Summary, error)
}
