package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/classmesh/classmesh/internal/application/config"
	"github.com/classmesh/classmesh/internal/application/constant"
	"github.com/classmesh/classmesh/internal/domain/events"
	"github.com/classmesh/classmesh/internal/infra/adapters/memory"
	"github.com/classmesh/classmesh/internal/infra/appctx"
	"github.com/classmesh/classmesh/internal/usecase"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

type WebSocketHandler struct {
	upgrader *websocket.Upgrader

	signalingUsecase usecase.SignalingUsecase

	conns memory.ConnectionRegistry
}

func NewWebSocketHandler(
	cfg *config.Config,
	signalingUsecase usecase.SignalingUsecase,
	conns memory.ConnectionRegistry,
) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				return r.Header.Get("Origin") == cfg.Domain
			},
		},
		signalingUsecase: signalingUsecase,
		conns:            conns,
	}
}

// Handle runs one signaling connection: upgrade, register the writer, read
// loop, and the disconnect cleanup. A transport-level close triggers the
// same path as an explicit leave-room.
func (h *WebSocketHandler) Handle(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("WebSocket upgrade error", slog.Any(constant.Error, err))
		return err
	}
	defer ws.Close()

	connID := uuid.NewString()
	ctx := c.Request().Context()

	h.conns.Add(connID, memory.NewWebsocketWriter(ws))
	defer func() {
		if err := h.signalingUsecase.HandleDisconnect(ctx, connID); err != nil {
			slog.Error(
				"handle disconnect",
				slog.Any(constant.Error, err),
				slog.String(constant.ConnID, connID),
			)
		}

		h.conns.Remove(connID)
	}()

	if err := ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.pingLoop(ctx, ws)

	slog.Info("signaling connection established", slog.String(constant.ConnID, connID))

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			h.logReadError(connID, err)
			return nil
		}

		msg := new(events.Message)
		if err = json.Unmarshal(raw, msg); err != nil {
			// A malformed frame never takes the shared process down.
			slog.Warn(
				"malformed signaling message",
				slog.Any(constant.Error, err),
				slog.String(constant.ConnID, connID),
			)
			continue
		}

		if err = h.handleMessage(ctx, connID, msg); err != nil {
			slog.Error(
				"handle message",
				slog.Any(constant.Error, err),
				slog.String(constant.ConnID, connID),
				slog.String(constant.Event, msg.Type),
			)
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, connID string, msg *events.Message) error {
	switch msg.Type {
	case events.TypeJoinRoom:
		var ev events.JoinRoomEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return err
		}

		// The identity token wins over whatever the payload claims.
		if id, ok := appctx.IdentityFrom(ctx); ok {
			ev.UserID = id.UserID
			ev.DisplayName = id.DisplayName
			ev.Role = id.Role
		}

		return h.signalingUsecase.HandleJoin(ctx, connID, ev)

	case events.TypeOffer:
		var ev events.OfferEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return err
		}
		h.signalingUsecase.RelayOffer(connID, ev)

	case events.TypeAnswer:
		var ev events.AnswerEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return err
		}
		h.signalingUsecase.RelayAnswer(connID, ev)

	case events.TypeICECandidate:
		var ev events.ICECandidateEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return err
		}
		h.signalingUsecase.RelayCandidate(connID, ev)

	case events.TypeChatMessage:
		var ev events.ChatMessageEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return err
		}
		h.signalingUsecase.HandleChatMessage(connID, ev)

	case events.TypeTyping:
		var ev events.TypingEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return err
		}
		h.signalingUsecase.HandleTyping(connID, ev)

	case events.TypeMediaStateChange:
		var ev events.MediaStateEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return err
		}
		h.signalingUsecase.HandleMediaState(connID, ev)

	case events.TypeScreenShareStart:
		h.signalingUsecase.HandleScreenShare(connID, true)

	case events.TypeScreenShareStop:
		h.signalingUsecase.HandleScreenShare(connID, false)

	case events.TypeRecordingStateChange:
		var ev events.RecordingStateEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return err
		}
		h.signalingUsecase.HandleRecordingState(connID, ev)

	case events.TypeLeaveRoom:
		return h.signalingUsecase.HandleLeave(ctx, connID)

	default:
		slog.Warn(
			"unknown signaling event",
			slog.String(constant.Event, msg.Type),
			slog.String(constant.ConnID, connID),
		)
	}

	return nil
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *WebSocketHandler) logReadError(connID string, err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			slog.Info("signaling connection closed", slog.String(constant.ConnID, connID))
		default:
			slog.Warn(
				"signaling connection close error",
				slog.Any(constant.Error, err),
				slog.String(constant.ConnID, connID),
			)
		}

		return
	}

	slog.Warn(
		"websocket read",
		slog.Any(constant.Error, err),
		slog.String(constant.ConnID, connID),
	)
}
