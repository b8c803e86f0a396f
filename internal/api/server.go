// Package api exposes the agent's operational HTTP surface: health,
// analysis triggering, run statistics and the recent event stream.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kubemendstack/kubemend/internal/events"
	"github.com/kubemendstack/kubemend/internal/services"
)

// Server wraps the gin router and its http.Server.
type Server struct {
	runner          *services.Runner
	emitter         *events.Emitter
	logger          *slog.Logger
	httpSrv         *http.Server
	gracefulTimeout time.Duration
}

// NewServer builds the router and binds it to addr.
func NewServer(addr string, runner *services.Runner, emitter *events.Emitter, gracefulTimeout time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if gracefulTimeout <= 0 {
		gracefulTimeout = 10 * time.Second
	}
	s := &Server{runner: runner, emitter: emitter, logger: logger, gracefulTimeout: gracefulTimeout}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	v1 := router.Group("/api/v1")
	{
		v1.POST("/analyze", s.handleAnalyze)
		v1.GET("/stats", s.handleStats)
		v1.GET("/events", s.handleEvents)
	}

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("api server listening", slog.String("address", s.httpSrv.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.gracefulTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleAnalyze triggers a background analysis run. While one is in
// flight, further triggers answer 409 and are dropped.
func (s *Server) handleAnalyze(c *gin.Context) {
	runID, err := s.runner.Trigger(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrAnalysisBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": "analysis already running"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "run_id": runID})
}

func (s *Server) handleStats(c *gin.Context) {
	stats := s.runner.LastStats()
	if stats == nil {
		c.JSON(http.StatusOK, gin.H{"running": s.runner.Running()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"running":       s.runner.Running(),
		"run_id":        stats.RunID,
		"total_samples": stats.TotalSamples,
		"failures":      stats.Failures,
		"success_rate":  stats.SuccessRate,
	})
}

func (s *Server) handleEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": s.emitter.Recent()})
}
