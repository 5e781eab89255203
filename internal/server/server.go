package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/markerlab/ragserve/internal/rag"
)

// Per-route deadlines.
const (
	indexTimeout  = 5 * time.Minute
	queryTimeout  = 2 * time.Minute
	healthTimeout = 5 * time.Second
)

// Server exposes the rag.Service over HTTP at /api/rag.
type Server struct {
	svc    *rag.Service
	logger *slog.Logger
	engine *gin.Engine
}

// New builds the router.
func New(svc *rag.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{svc: svc, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(requestLogger(logger))

	api := r.Group("/api/rag")
	{
		api.GET("/health", withTimeout(healthTimeout), s.handleHealth)
		api.GET("/stats", s.handleStats)
		api.GET("/config", s.handleGetConfig)
		api.PUT("/config", s.handleUpdateConfig)
		api.POST("/index", s.requireEnabled(), withTimeout(indexTimeout), s.handleIndex)
		api.POST("/query", s.requireEnabled(), withTimeout(queryTimeout), s.handleQuery)
		api.POST("/clear", s.handleClear)
	}

	s.engine = r
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info("http server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
