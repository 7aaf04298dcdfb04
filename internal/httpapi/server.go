// Package httpapi exposes the pipeline to the field app over a local
// HTTP API.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fieldsmith/doorvox/internal/capture"
	"github.com/fieldsmith/doorvox/internal/door"
	"github.com/fieldsmith/doorvox/internal/extraction"
	"github.com/fieldsmith/doorvox/internal/persist"
	"github.com/fieldsmith/doorvox/internal/pipeline"
	"github.com/fieldsmith/doorvox/internal/upload"
)

// maxUploadBytes caps artifact uploads at 64MB.
const maxUploadBytes = 64 << 20

// Server provides the doorvox HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	pipeline *pipeline.Service
	session  *capture.Session
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates the HTTP server around a pipeline service and the
// host's capture session. The prometheus gatherer backs the /metrics
// endpoint; nil uses the default registry. A nil session gets the
// manual-attachment strategy.
func NewServer(p *pipeline.Service, session *capture.Session, gatherer prometheus.Gatherer, logger *zap.Logger, cfg *Config) (*Server, error) {
	if p == nil {
		return nil, errors.New("pipeline service is required")
	}
	if session == nil {
		session = capture.NewSession(nil, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8321}
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		pipeline: p,
		session:  session,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes(gatherer)
	return s, nil
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/capture", s.handleCaptureState)
	v1.POST("/capture/start", s.handleCaptureStart)
	v1.POST("/capture/stop", s.handleCaptureStop)
	v1.POST("/capture/reset", s.handleCaptureReset)
	v1.POST("/estimates/:id/capture/submit", s.handleCaptureSubmit)
	v1.POST("/estimates/:id/recordings", s.handleUploadRecording)
	v1.GET("/estimates/:id/recordings/:rid", s.handleGetRecording)
	v1.POST("/estimates/:id/recordings/:rid/process", s.handleProcessRecording)
	v1.GET("/estimates/:id/doors", s.handleListDoors)
	v1.PUT("/estimates/:id/doors/:doorID", s.handleUpdateDoor)
	v1.DELETE("/estimates/:id/doors/:doorID", s.handleRemoveDoor)
	v1.POST("/estimates/:id/sync", s.handleSync)
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// CaptureStateResponse reports the host session's lifecycle state.
type CaptureStateResponse struct {
	State     string `json:"state"`
	Supported bool   `json:"supported"`
	Bytes     int    `json:"bytes,omitempty"`
}

func (s *Server) handleCaptureState(c echo.Context) error {
	resp := CaptureStateResponse{
		State:     string(s.session.State()),
		Supported: s.session.Supported(),
	}
	if art := s.session.Artifact(); art != nil {
		resp.Bytes = len(art.Data)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCaptureStart(c echo.Context) error {
	if err := s.session.Start(c.Request().Context()); err != nil {
		return s.mapCaptureError(err)
	}
	return c.JSON(http.StatusOK, CaptureStateResponse{
		State:     string(s.session.State()),
		Supported: true,
	})
}

func (s *Server) handleCaptureStop(c echo.Context) error {
	art, err := s.session.Stop()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := CaptureStateResponse{
		State:     string(s.session.State()),
		Supported: s.session.Supported(),
	}
	if art != nil {
		resp.Bytes = len(art.Data)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCaptureReset(c echo.Context) error {
	s.session.Reset()
	return c.JSON(http.StatusOK, CaptureStateResponse{
		State:     string(s.session.State()),
		Supported: s.session.Supported(),
	})
}

// handleCaptureSubmit hands the finished take to the pipeline and frees
// the session for the next one.
func (s *Server) handleCaptureSubmit(c echo.Context) error {
	art := s.session.Artifact()
	if art == nil {
		return echo.NewHTTPError(http.StatusConflict, "no finished recording to submit")
	}
	rec, err := s.pipeline.SubmitArtifact(c.Request().Context(), c.Param("id"), art)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	s.session.Reset()
	return c.JSON(http.StatusCreated, UploadResponse{Recording: rec})
}

func (s *Server) mapCaptureError(err error) error {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, capture.ErrUnsupportedPlatform):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	case errors.Is(err, capture.ErrAlreadyRecording), errors.Is(err, capture.ErrNotIdle):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// UploadResponse is the body for POST /estimates/:id/recordings.
type UploadResponse struct {
	Recording *upload.Recording `json:"recording"`
}

func (s *Server) handleUploadRecording(c echo.Context) error {
	fileHeader, err := c.FormFile("audio")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "audio file is required")
	}
	if fileHeader.Size > maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "audio file too large")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable audio file")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable audio file")
	}

	art := &capture.Artifact{
		Data:       data,
		MIME:       fileHeader.Header.Get("Content-Type"),
		Filename:   fileHeader.Filename,
		CapturedAt: time.Now().UTC(),
	}
	rec, err := s.pipeline.SubmitArtifact(c.Request().Context(), c.Param("id"), art)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusCreated, UploadResponse{Recording: rec})
}

func (s *Server) handleGetRecording(c echo.Context) error {
	rec, err := s.pipeline.Recording(c.Param("rid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "recording not found")
	}
	return c.JSON(http.StatusOK, rec)
}

// ProcessResponse is the body for a successful extraction pass.
type ProcessResponse struct {
	Added int           `json:"added"`
	Doors []door.Record `json:"doors"`
}

// StageFailure tells the field app which stage to guide the user on.
type StageFailure struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

func (s *Server) handleProcessRecording(c echo.Context) error {
	estimateID := c.Param("id")
	added, err := s.pipeline.ProcessRecording(c.Request().Context(), estimateID, c.Param("rid"))
	if err != nil {
		return s.mapPipelineError(c, err)
	}
	return c.JSON(http.StatusOK, ProcessResponse{
		Added: added,
		Doors: s.pipeline.Doors(estimateID),
	})
}

// DoorsResponse is the body for GET /estimates/:id/doors.
type DoorsResponse struct {
	Doors []door.Record `json:"doors"`
}

func (s *Server) handleListDoors(c echo.Context) error {
	return c.JSON(http.StatusOK, DoorsResponse{Doors: s.pipeline.Doors(c.Param("id"))})
}

func (s *Server) handleUpdateDoor(c echo.Context) error {
	var rec door.Record
	if err := c.Bind(&rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid door record")
	}
	rec.ID = c.Param("doorID")
	if err := s.pipeline.UpdateDoor(c.Param("id"), rec); err != nil {
		return s.mapPipelineError(c, err)
	}
	return c.JSON(http.StatusOK, DoorsResponse{Doors: s.pipeline.Doors(c.Param("id"))})
}

func (s *Server) handleRemoveDoor(c echo.Context) error {
	if err := s.pipeline.RemoveDoor(c.Param("id"), c.Param("doorID")); err != nil {
		return s.mapPipelineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SyncResponse is the body for a completed sync.
type SyncResponse struct {
	Attempts int           `json:"attempts"`
	Updated  bool          `json:"updated"`
	Doors    []door.Record `json:"doors"`
}

// SyncFailure carries the classification the field app shows the user.
type SyncFailure struct {
	Class    string `json:"class"`
	Attempts int    `json:"attempts"`
	Message  string `json:"message"`
}

func (s *Server) handleSync(c echo.Context) error {
	res, err := s.pipeline.Sync(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapPipelineError(c, err)
	}
	return c.JSON(http.StatusOK, SyncResponse{
		Attempts: res.Attempts,
		Updated:  res.Updated,
		Doors:    res.Doors,
	})
}

// mapPipelineError converts pipeline errors to HTTP responses without
// losing the classification the field app needs.
func (s *Server) mapPipelineError(c echo.Context, err error) error {
	var syncErr *persist.SyncError
	if errors.As(err, &syncErr) {
		status := http.StatusBadGateway
		switch syncErr.Class {
		case persist.ClassTimeout, persist.ClassExhausted:
			status = http.StatusGatewayTimeout
		case persist.ClassClient, persist.ClassCrossOrigin:
			status = http.StatusBadRequest
		}
		return c.JSON(status, SyncFailure{
			Class:    string(syncErr.Class),
			Attempts: syncErr.Attempts,
			Message:  syncErr.Error(),
		})
	}

	var stageErr *extraction.StageError
	if errors.As(err, &stageErr) {
		return c.JSON(http.StatusBadGateway, StageFailure{
			Stage:   string(stageErr.Stage),
			Message: stageErr.Error(),
		})
	}

	switch {
	case errors.Is(err, pipeline.ErrEstimateBusy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, door.ErrNotFound), errors.Is(err, upload.ErrRecordingNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
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

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
