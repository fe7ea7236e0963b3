// handlers_workflow.go - Workflow state, submission and status handlers
package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dataclean/cleanctl/internal/log"
	"github.com/dataclean/cleanctl/internal/models"
	"github.com/dataclean/cleanctl/internal/validate"
	"github.com/dataclean/cleanctl/internal/workflow"
)

// WorkflowHandlerImpl implements the WorkflowHandler interface
type WorkflowHandlerImpl struct {
	workflow WorkflowController
	upgrader websocket.Upgrader
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(wf WorkflowController) *WorkflowHandlerImpl {
	return &WorkflowHandlerImpl{
		workflow: wf,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
	}
}

// HandleGetWorkflow returns the current snapshot.
func (h *WorkflowHandlerImpl) HandleGetWorkflow(c echo.Context) error {
	return c.JSON(http.StatusOK, h.workflow.Snapshot())
}

// HandleGetWorkflowMsgpack returns the current snapshot as MessagePack.
// Field names match the JSON representation.
func (h *WorkflowHandlerImpl) HandleGetWorkflowMsgpack(c echo.Context) error {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(h.workflow.Snapshot()); err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", buf.Bytes())
}

// HandleSubmitFile accepts a multipart "file" field and starts processing it.
func (h *WorkflowHandlerImpl) HandleSubmitFile(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("multipart field \"file\" is required", err)
	}

	pending := models.PendingFile{
		Name:      fh.Filename,
		MediaType: fh.Header.Get(echo.HeaderContentType),
		Size:      fh.Size,
	}
	// Oversized files are rejected by the controller without being read.
	if fh.Size <= validate.MaxFileSize {
		src, err := fh.Open()
		if err != nil {
			return NewBadRequestError("failed to read uploaded file", err)
		}
		pending.Content, err = io.ReadAll(src)
		src.Close()
		if err != nil {
			return NewBadRequestError("failed to read uploaded file", err)
		}
	}

	attempt, err := h.workflow.SubmitFile(c.Request().Context(), pending)
	if err != nil {
		var verr *validate.ValidationError
		switch {
		case errors.As(err, &verr):
			return NewValidationError(verr)
		case errors.Is(err, workflow.ErrSubmissionInFlight), errors.Is(err, workflow.ErrResetRequired):
			return NewConflictError(err.Error())
		case errors.Is(err, workflow.ErrClosed):
			return NewServiceUnavailableError(err.Error())
		default:
			return NewInternalError("failed to submit file", err)
		}
	}

	log.GetLogger().WithFields(logrus.Fields{
		"attempt": attempt,
		"file":    pending.Name,
	}).Debug("file accepted over HTTP")
	return c.JSON(http.StatusAccepted, h.workflow.Snapshot())
}

// HandleReset discards the current file and result.
func (h *WorkflowHandlerImpl) HandleReset(c echo.Context) error {
	h.workflow.Reset()
	return c.JSON(http.StatusOK, h.workflow.Snapshot())
}

// HandleCheckStatus polls the service for a job. Without an id the current
// result's reference is used.
func (h *WorkflowHandlerImpl) HandleCheckStatus(c echo.Context) error {
	st, err := h.workflow.CheckStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, workflow.ErrStatusUnavailable) {
			return NewConflictError(err.Error())
		}
		return NewUpstreamError(err)
	}
	return c.JSON(http.StatusOK, st)
}
