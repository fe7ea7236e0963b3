// handlers_downloads.go - Processed output fetched from the cleaning service
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/dataclean/cleanctl/internal/processing"
	"github.com/dataclean/cleanctl/internal/storage"
)

const defaultListLimit = 50

// DownloadHandlerImpl implements the DownloadHandler interface
type DownloadHandlerImpl struct {
	client Downloader
	store  storage.Store
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(client Downloader, store storage.Store) DownloadHandler {
	return &DownloadHandlerImpl{client: client, store: store}
}

// HandleFetchDownload downloads the processed file for :id and keeps it locally.
func (h *DownloadHandlerImpl) HandleFetchDownload(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewBadRequestError("id is required", nil)
	}

	dl, err := h.client.Download(c.Request().Context(), id)
	if err != nil {
		var se *processing.ServiceError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return NewNotFoundError("processed file", id)
		}
		return NewUpstreamError(err)
	}
	defer dl.Body.Close()

	info, err := h.store.Save(dl.FileName, id, dl.Body)
	if err != nil {
		return NewInternalError("failed to store processed file", err)
	}
	return c.JSON(http.StatusCreated, info)
}

// HandleListDownloads lists stored files, newest first.
func (h *DownloadHandlerImpl) HandleListDownloads(c echo.Context) error {
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return err
	}
	files, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list downloads", err)
	}
	return c.JSON(http.StatusOK, files)
}

// HandleGetDownloadFile serves a stored file as an attachment.
func (h *DownloadHandlerImpl) HandleGetDownloadFile(c echo.Context) error {
	id := c.Param("id")
	info, err := h.store.Get(id)
	if err != nil {
		return storeError(err, id)
	}
	path, err := h.store.GetFilePath(id)
	if err != nil {
		return storeError(err, id)
	}
	return c.Attachment(path, info.Name)
}

// HandleDeleteDownload removes a stored file.
func (h *DownloadHandlerImpl) HandleDeleteDownload(c echo.Context) error {
	id := c.Param("id")
	if err := h.store.Delete(id); err != nil {
		return storeError(err, id)
	}
	return c.NoContent(http.StatusNoContent)
}

func storeError(err error, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return NewNotFoundError("download", id)
	}
	return NewInternalError("storage failure", err)
}

// parseLimit reads an optional positive limit query parameter.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, NewBadRequestError("limit must be a positive integer", err)
	}
	return n, nil
}
