package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/OnslaughtSnail/rostra/kernel/debate"
	"github.com/OnslaughtSnail/rostra/kernel/runtime"
	"github.com/OnslaughtSnail/rostra/kernel/session"
	"github.com/OnslaughtSnail/rostra/kernel/transcript/sqlite"
)

// StartRequest is the request body for POST /api/debate/start.
type StartRequest struct {
	Topic string `json:"topic"`
}

// StartResponse is the response body for POST /api/debate/start.
type StartResponse struct {
	SessionID string `json:"sessionId"`
}

// StopRequest is the request body for POST /api/debate/stop.
type StopRequest struct {
	SessionID string `json:"sessionId"`
}

// StopResponse is the response body for POST /api/debate/stop.
type StopResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

// ActionRequest is the combined body accepted by POST /api/debate.
type ActionRequest struct {
	Action    string `json:"action"`
	Topic     string `json:"topic"`
	SessionID string `json:"sessionId"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"activeSessions"`
}

// SessionResponse is the response body for GET /api/debate/sessions/:id.
type SessionResponse struct {
	ID          string           `json:"id"`
	Topic       string           `json:"topic"`
	State       string           `json:"state"`
	CurrentTurn string           `json:"currentTurn,omitempty"`
	Turns       int              `json:"turns"`
	Messages    []debate.Message `json:"messages"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// SessionSummary is one item of GET /api/debate/sessions.
type SessionSummary struct {
	ID           string    `json:"id"`
	Topic        string    `json:"topic"`
	MessageCount int       `json:"messageCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

const stateArchived = "archived"

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", ActiveSessions: s.debates.ActiveRuns()})
}

func (s *Server) handleStart(c echo.Context) error {
	var req StartRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid start request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return s.start(c, req.Topic)
}

func (s *Server) handleStop(c echo.Context) error {
	var req StopRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid stop request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return s.stop(c, req.SessionID)
}

// handleAction serves the combined {action: start|stop} endpoint.
func (s *Server) handleAction(c echo.Context) error {
	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "start":
		return s.start(c, req.Topic)
	case "stop":
		return s.stop(c, req.SessionID)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid action")
	}
}

func (s *Server) start(c echo.Context, topic string) error {
	id, err := s.debates.Start(c.Request().Context(), topic)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, StartResponse{SessionID: id})
}

func (s *Server) stop(c echo.Context, sessionID string) error {
	if err := s.debates.Stop(c.Request().Context(), sessionID); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, StopResponse{Acknowledged: true})
}

// handleSession returns the live snapshot, or the archived transcript once
// the session has finished.
func (s *Server) handleSession(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	snap, err := s.debates.Snapshot(ctx, id)
	if err == nil {
		return c.JSON(http.StatusOK, SessionResponse{
			ID:          snap.ID,
			Topic:       snap.Topic,
			State:       string(snap.State),
			CurrentTurn: snap.CurrentTurn,
			Turns:       snap.Turns,
			Messages:    snap.Messages,
			UpdatedAt:   time.Now().UTC(),
		})
	}
	if !errors.Is(err, session.ErrSessionNotFound) {
		return toHTTPError(err)
	}
	if s.archive == nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	rec, err := s.archive.Load(ctx, id)
	if errors.Is(err, sqlite.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, SessionResponse{
		ID:        rec.SessionID,
		Topic:     rec.Topic,
		State:     stateArchived,
		Turns:     countTurns(rec.Messages),
		Messages:  rec.Messages,
		UpdatedAt: rec.SavedAt.UTC(),
	})
}

func (s *Server) handleListSessions(c echo.Context) error {
	if s.archive == nil {
		return c.JSON(http.StatusOK, []SessionSummary{})
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, sqlite.MaxListLimit)
	}
	items, err := s.archive.List(c.Request().Context(), limit)
	if err != nil {
		return toHTTPError(err)
	}
	out := make([]SessionSummary, 0, len(items))
	for _, item := range items {
		out = append(out, SessionSummary{
			ID:           item.SessionID,
			Topic:        item.Topic,
			MessageCount: item.MessageCount,
			UpdatedAt:    item.UpdatedAt.UTC(),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func countTurns(messages []debate.Message) int {
	n := 0
	for _, m := range messages {
		if m.Role != debate.RoleUser {
			n++
		}
	}
	return n
}

func toHTTPError(err error) error {
	switch {
	case runtime.IsValidation(err):
		var verr *runtime.ValidationError
		errors.As(err, &verr)
		return echo.NewHTTPError(http.StatusBadRequest, verr.Message)
	case errors.Is(err, session.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, runtime.ErrShuttingDown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server is shutting down")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}
