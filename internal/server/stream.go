package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/OnslaughtSnail/rostra/internal/logging"
	"github.com/OnslaughtSnail/rostra/kernel/broadcast"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WSEvent is one websocket frame.
type WSEvent struct {
	Type broadcast.EventType `json:"type"`
	Data any                 `json:"data"`
}

func (s *Server) subscribe(c echo.Context) (*broadcast.Subscription, string, error) {
	id := strings.TrimSpace(c.QueryParam("sessionId"))
	if id == "" {
		return nil, "", echo.NewHTTPError(http.StatusBadRequest, "sessionId is required")
	}
	sub, err := s.debates.Subscribe(id)
	if errors.Is(err, broadcast.ErrTopicNotFound) {
		return nil, id, echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return nil, id, toHTTPError(err)
	}
	return sub, id, nil
}

// handleStream streams a session's events via Server-Sent Events.
//
//	GET /api/debate/stream?sessionId={id}
//
//	event: connected
//	data: {"id":"..."}
//
//	event: message
//	data: {"id":"...","role":"bot1","content":"..."}
//
//	event: heartbeat
//	data: 2024-01-01T00:00:00Z
func (s *Server) handleStream(c echo.Context) error {
	sub, id, err := s.subscribe(c)
	if err != nil {
		return err
	}
	defer sub.Close()
	ctx := logging.WithSessionID(c.Request().Context(), id)

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := writeSSE(c.Response(), ev); err != nil {
				s.logger.Debug(ctx, "sse write failed", zap.Error(err))
				return nil
			}
			c.Response().Flush()
		case <-ctx.Done():
			// Client disconnected
			return nil
		}
	}
}

func writeSSE(w io.Writer, ev broadcast.Event) error {
	data, err := ssePayload(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// ssePayload renders heartbeat timestamps raw and everything else as JSON.
func ssePayload(ev broadcast.Event) ([]byte, error) {
	if ev.Type == broadcast.EventHeartbeat {
		if ts, ok := ev.Data.(string); ok {
			return []byte(ts), nil
		}
	}
	return json.Marshal(ev.Data)
}

// handleWebSocket streams a session's events as {type, data} frames.
func (s *Server) handleWebSocket(c echo.Context) error {
	sub, id, err := s.subscribe(c)
	if err != nil {
		return err
	}
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		sub.Close()
		s.logger.Warn(c.Request().Context(), "websocket upgrade failed", zap.Error(err))
		return nil
	}
	ctx := logging.WithSessionID(c.Request().Context(), id)

	go readPump(conn, sub)
	if err := writePump(conn, sub); err != nil {
		s.logger.Debug(ctx, "websocket write failed", zap.Error(err))
	}
	return nil
}

// readPump discards client frames and detaches the subscription once the
// client goes away.
func readPump(conn *websocket.Conn, sub *broadcast.Subscription) {
	defer sub.Close()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub *broadcast.Subscription) error {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				return conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			if err := conn.WriteJSON(WSEvent{Type: ev.Type, Data: ev.Data}); err != nil {
				return err
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}
