package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	httperr "github.com/aevon-lab/meterflow/internal/core/errors"
)

type Server struct {
	Engine *gin.Engine
	Addr   string
	db     HealthChecker
	coll   CollectionController
}

// HealthChecker is an interface for components that can report their health status.
// *sql.DB satisfies it.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// New builds the operator HTTP surface. collection may be nil when the
// scheduler is disabled; its routes then answer 503.
func New(addr string, db HealthChecker, collection CollectionController, mode string) *Server {
	if mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	s := &Server{
		Engine: r,
		Addr:   addr,
		db:     db,
		coll:   collection,
	}

	r.GET("/health", s.healthHandler)
	NewCollectionHandler(collection).RegisterRoutes(r)

	return s
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			slog.Error("[Server] Health check failed: database unreachable", "error", err)
			c.JSON(http.StatusServiceUnavailable, httperr.ErrorResponse{
				ErrorType: httperr.HttpDatabaseUnavailable,
				Message:   "database unreachable",
			})
			return
		}
	}

	body := gin.H{
		"status":     "healthy",
		"database":   "connected",
		"collecting": false,
	}
	if s.coll != nil {
		body["collecting"] = s.coll.HealthStatus().IsCollecting
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("[Server] Starting HTTP server", "address", s.Addr)

	go func() {
		<-ctx.Done()
		slog.Info("[Server] Stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("[Server] HTTP server forced to shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
