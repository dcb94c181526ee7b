// Package server exposes the debate Session API and event streams over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/OnslaughtSnail/rostra/internal/logging"
	"github.com/OnslaughtSnail/rostra/internal/version"
	"github.com/OnslaughtSnail/rostra/kernel/broadcast"
	"github.com/OnslaughtSnail/rostra/kernel/session"
	"github.com/OnslaughtSnail/rostra/kernel/transcript"
	"github.com/OnslaughtSnail/rostra/kernel/transcript/sqlite"
)

// Debates is the Session API served over HTTP.
type Debates interface {
	Start(ctx context.Context, topic string) (string, error)
	Stop(ctx context.Context, sessionID string) error
	Snapshot(ctx context.Context, sessionID string) (session.Snapshot, error)
	Subscribe(sessionID string) (*broadcast.Subscription, error)
	ActiveRuns() int
}

// Archive serves finished transcripts.
type Archive interface {
	Load(ctx context.Context, sessionID string) (transcript.Record, error)
	List(ctx context.Context, limit int) ([]sqlite.Summary, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigins []string
	// Gatherer enables GET /metrics when set.
	Gatherer prometheus.Gatherer
	Archive  Archive
}

// Server provides HTTP endpoints for rostra.
type Server struct {
	echo     *echo.Echo
	debates  Debates
	archive  Archive
	logger   *logging.Logger
	config   Config
	upgrader websocket.Upgrader
}

// New creates a new HTTP server.
func New(debates Debates, logger *logging.Logger, cfg Config) (*Server, error) {
	if debates == nil {
		return nil, fmt.Errorf("server: debates cannot be nil")
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	logger = logging.OrNop(logger).Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(serverHeader(version.UserAgent()))
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))
	e.Use(requestLogger(logger))

	s := &Server{
		echo:    e,
		debates: debates,
		archive: cfg.Archive,
		logger:  logger,
		config:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.CORSOrigins),
		},
	}
	s.registerRoutes()
	return s, nil
}

func serverHeader(value string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set(echo.HeaderServer, value)
			return next(c)
		}
	}
}

func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), rid)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.config.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.echo.Group("/api/debate")
	api.POST("", s.handleAction)
	api.POST("/start", s.handleStart)
	api.POST("/stop", s.handleStop)
	api.GET("/stream", s.handleStream)
	api.GET("/ws", s.handleWebSocket)
	api.GET("/sessions", s.handleListSessions)
	api.GET("/sessions/:id", s.handleSession)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Same-origin requests have no Origin header
		}
		_, ok := allowed[origin]
		return ok
	}
}
