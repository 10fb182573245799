// Package httpapi provides the HTTP API for flowd.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/classifier"
	"github.com/fyrsmithlabs/flowd/internal/logging"
	"github.com/fyrsmithlabs/flowd/internal/orchestrator"
	"github.com/fyrsmithlabs/flowd/internal/phases"
)

// Server provides HTTP endpoints for flowd.
type Server struct {
	echo    *echo.Echo
	runtime *orchestrator.Runtime
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// NewServer creates a new HTTP server.
func NewServer(runtime *orchestrator.Runtime, logger *zap.Logger, cfg *Config) (*Server, error) {
	if runtime == nil {
		return nil, fmt.Errorf("runtime cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Carry the request ID in the context so downstream log
			// entries correlate with this access log line.
			req := c.Request()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", requestID),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		runtime: runtime,
		logger:  logger,
		config:  cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/classify", s.handleClassify)
	v1.GET("/projects/:id", s.handleProjectStatus)
}

// ClassifyRequest is the request body for POST /api/v1/classify.
type ClassifyRequest struct {
	Request           string `json:"request"`
	PreviousPhase     string `json:"previous_phase,omitempty"`
	HasExistingPRD    bool   `json:"has_existing_prd,omitempty"`
	ProjectComplexity string `json:"project_complexity,omitempty"`
	ProgramScale      string `json:"program_scale,omitempty"`
}

// ClassifyResponse is the response body for POST /api/v1/classify.
type ClassifyResponse struct {
	Decision classifier.LaneDecision `json:"decision"`
}

// ProjectStatusResponse is the response body for GET /api/v1/projects/:id.
type ProjectStatusResponse struct {
	ProjectID    string              `json:"project_id"`
	CurrentPhase string              `json:"current_phase"`
	Transitions  []phases.Transition `json:"transitions"`
	LaneHistory  []phases.LaneRecord `json:"lane_history"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleClassify runs the lane classifier without executing anything.
func (s *Server) handleClassify(c echo.Context) error {
	var req ClassifyRequest
	if err := c.Bind(&req); err != nil {
		s.log(c).Warn("invalid classify request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Request == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "request field is required")
	}

	decision := classifier.Classify(req.Request, classifier.Context{
		PreviousPhase:     req.PreviousPhase,
		HasExistingPRD:    req.HasExistingPRD,
		ProjectComplexity: req.ProjectComplexity,
		ProgramScale:      req.ProgramScale,
	})

	s.log(c).Debug("classified request",
		zap.String("lane", string(decision.Lane)),
		zap.Float64("confidence", decision.Confidence),
		zap.Int("scale_level", decision.Scale.Level),
	)

	return c.JSON(http.StatusOK, ClassifyResponse{Decision: decision})
}

// handleProjectStatus reports a project's phase state and lane history.
func (s *Server) handleProjectStatus(c echo.Context) error {
	projectID := c.Param("id")
	if projectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project id is required")
	}

	state := s.runtime.Project(projectID)
	return c.JSON(http.StatusOK, ProjectStatusResponse{
		ProjectID:    state.ProjectID(),
		CurrentPhase: string(state.CurrentPhase()),
		Transitions:  state.History(),
		LaneHistory:  state.LaneHistory(),
	})
}

// log returns the server logger with the request's correlation fields.
func (s *Server) log(c echo.Context) *zap.Logger {
	return s.logger.With(logging.ContextFields(c.Request().Context())...)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
