// Package server exposes the batch job as an HTTP trigger for external schedulers.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"stockwatch/internal/coordinator"
	apperrors "stockwatch/internal/errors"
	"stockwatch/internal/logging"
	"stockwatch/internal/models"
	"stockwatch/internal/resilience"
)

// BatchRunner runs one segment batch.
type BatchRunner interface {
	RunBatch(ctx context.Context, segment models.Segment, opts coordinator.RunOptions) (coordinator.RunSummary, error)
}

type checkRequest struct {
	NationType string `json:"nationType"`
	Force      bool   `json:"force"`
}

type checkResponse struct {
	Message   string                 `json:"message"`
	Processed int                    `json:"processed"`
	Total     int                    `json:"total"`
	Skipped   bool                   `json:"skipped"`
	Outcomes  map[models.Outcome]int `json:"outcomes,omitempty"`
	Errors    []string               `json:"errors,omitempty"`
}

// Server wires the HTTP routes to a BatchRunner.
type Server struct {
	runner BatchRunner
	checks []resilience.HealthCheck
	logger zerolog.Logger
	engine *gin.Engine
}

// New builds the gin engine. checks back GET /healthz.
func New(runner BatchRunner, logger zerolog.Logger, checks ...resilience.HealthCheck) *Server {
	if logger.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		runner: runner,
		checks: checks,
		logger: logging.WithOperation(logger, "http"),
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.POST("/check-stocks", s.checkStocks)
	s.engine.GET("/healthz", s.health)
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP trigger listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.logger.Info().Msg("Shutting down HTTP trigger")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request")
	}
}

func (s *Server) checkStocks(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	segment, err := models.ParseSegment(req.NationType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := s.runner.RunBatch(c.Request.Context(), segment, coordinator.RunOptions{Force: req.Force})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrInvalidSegment) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error().Err(err).Str("segment", string(segment)).Msg("Check run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "check run failed"})
		return
	}

	c.JSON(http.StatusOK, responseFor(summary))
}

func responseFor(summary coordinator.RunSummary) checkResponse {
	resp := checkResponse{
		Processed: summary.Processed,
		Total:     summary.Total,
		Skipped:   summary.Skipped,
		Outcomes:  summary.Outcomes,
		Errors:    summary.Messages,
	}
	switch {
	case summary.Skipped:
		resp.Message = summary.Reason
	case summary.Total == 0:
		resp.Message = "no conditions to process"
	default:
		resp.Message = fmt.Sprintf("%s check completed", summary.Segment)
	}
	return resp
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	h := resilience.RunChecks(ctx, s.checks...)
	status := http.StatusOK
	if h.Status == resilience.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}
