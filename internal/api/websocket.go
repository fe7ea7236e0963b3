package api

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/dataclean/cleanctl/internal/log"
	"github.com/dataclean/cleanctl/internal/models"
)

// WebSocket message types for the workflow stream
const (
	// Client -> Server messages
	MsgTypePing  = "ping"
	MsgTypeReset = "workflow:reset"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeSnapshot  = "snapshot"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

const wsWriteTimeout = 10 * time.Second

// WSMessage is the envelope of every websocket frame.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WSErrorResponse is the payload of an error frame.
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// HandleWorkflowStream upgrades to a websocket and pushes a snapshot after
// every workflow transition. Bursts of transitions are coalesced; the client
// always ends up with the latest snapshot and versions never go backwards.
func (h *WorkflowHandlerImpl) HandleWorkflowStream(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	logger := log.GetLogger().WithField("remote", c.RealIP())
	logger.Debug("workflow stream connected")

	changed := make(chan struct{}, 1)
	unsubscribe := h.workflow.Subscribe(func(models.Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	// Only this goroutine writes to ws; the reader hands requests over.
	requests := make(chan WSMessage, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg WSMessage
			if err := ws.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.WithError(err).Debug("workflow stream read failed")
				}
				return
			}
			select {
			case requests <- msg:
			default:
			}
		}
	}()

	if err := h.sendMessage(ws, WSMessage{Type: MsgTypeConnected, Timestamp: time.Now().UnixMilli()}); err != nil {
		return nil
	}

	var lastVersion uint64
	sendLatest := func() error {
		snap := h.workflow.Snapshot()
		if snap.Version != 0 && snap.Version <= lastVersion {
			return nil
		}
		lastVersion = snap.Version
		return h.sendMessage(ws, WSMessage{
			Type:      MsgTypeSnapshot,
			Payload:   mustJSON(snap),
			Timestamp: time.Now().UnixMilli(),
		})
	}
	if err := sendLatest(); err != nil {
		return nil
	}

	for {
		select {
		case <-done:
			logger.Debug("workflow stream closed")
			return nil
		case <-changed:
			if err := sendLatest(); err != nil {
				return nil
			}
		case msg := <-requests:
			var err error
			switch msg.Type {
			case MsgTypePing:
				err = h.sendMessage(ws, WSMessage{Type: MsgTypePong, ID: msg.ID, Timestamp: time.Now().UnixMilli()})
			case MsgTypeReset:
				h.workflow.Reset()
			default:
				err = h.sendError(ws, msg.ID, "Unknown message type: "+msg.Type, "INVALID_TYPE")
			}
			if err != nil {
				return nil
			}
		}
	}
}

func (h *WorkflowHandlerImpl) sendMessage(ws *websocket.Conn, msg WSMessage) error {
	ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := ws.WriteJSON(msg); err != nil {
		log.GetLogger().WithError(err).Debug("failed to send websocket message")
		return err
	}
	return nil
}

func (h *WorkflowHandlerImpl) sendError(ws *websocket.Conn, id, message, code string) error {
	return h.sendMessage(ws, WSMessage{
		Type:      MsgTypeError,
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
		Payload:   mustJSON(WSErrorResponse{Message: message, Code: code}),
	})
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
