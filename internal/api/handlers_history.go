// handlers_history.go - Run history handlers
package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dataclean/cleanctl/internal/report"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// HistoryHandlerImpl implements the HistoryHandler interface
type HistoryHandlerImpl struct {
	history HistoryReader
}

// NewHistoryHandler creates a history handler. A nil reader disables the routes.
func NewHistoryHandler(r HistoryReader) HistoryHandler {
	return &HistoryHandlerImpl{history: r}
}

// HandleGetHistory returns the most recent runs.
func (h *HistoryHandlerImpl) HandleGetHistory(c echo.Context) error {
	if h.history == nil {
		return NewServiceUnavailableError("run history is disabled")
	}
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return err
	}
	runs, err := h.history.Recent(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to read history", err)
	}
	return c.JSON(http.StatusOK, runs)
}

// HandleGetHistorySummary returns aggregate counts over all runs.
func (h *HistoryHandlerImpl) HandleGetHistorySummary(c echo.Context) error {
	if h.history == nil {
		return NewServiceUnavailableError("run history is disabled")
	}
	sum, err := h.history.Summarize(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to summarize history", err)
	}
	return c.JSON(http.StatusOK, sum)
}

// HandleExportHistory returns the whole history as an .xlsx workbook.
func (h *HistoryHandlerImpl) HandleExportHistory(c echo.Context) error {
	if h.history == nil {
		return NewServiceUnavailableError("run history is disabled")
	}
	runs, err := h.history.Recent(c.Request().Context(), 0)
	if err != nil {
		return NewInternalError("failed to read history", err)
	}

	var buf bytes.Buffer
	if err := report.WriteRuns(&buf, runs); err != nil {
		return NewInternalError("failed to build workbook", err)
	}
	name := fmt.Sprintf("cleanctl-history-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, xlsxMIME, buf.Bytes())
}
