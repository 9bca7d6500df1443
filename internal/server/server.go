package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/biaslens/internal/adapters/database"
	redisAdapter "github.com/selivandex/biaslens/internal/adapters/redis"
	"github.com/selivandex/biaslens/internal/pipeline"
	"github.com/selivandex/biaslens/pkg/logger"
	"github.com/selivandex/biaslens/pkg/models"
)

// AnalysisRunner executes one analysis run, emitting phase events
type AnalysisRunner interface {
	Run(ctx context.Context, communityRef string, emit pipeline.EmitFunc)
}

// SeriesProvider loads the historical score series for a community
type SeriesProvider interface {
	Series(ctx context.Context, community string, since *time.Time, limit int, groupBy string) ([]models.SeriesPoint, error)
}

// Server exposes the analysis stream, historical analytics and
// health probes
type Server struct {
	server     *http.Server
	controller AnalysisRunner
	analytics  SeriesProvider
	db         *database.DB
	redis      *redisAdapter.Client
	startTime  time.Time
}

// New creates new HTTP server
func New(port string, controller AnalysisRunner, analyticsRepo SeriesProvider, db *database.DB, redis *redisAdapter.Client) *Server {
	mux := http.NewServeMux()

	s := &Server{
		server: &http.Server{
			Addr:        ":" + port,
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
			// No write timeout: the analysis stream stays open for
			// the duration of a run
			IdleTimeout: 120 * time.Second,
		},
		controller: controller,
		analytics:  analyticsRepo,
		db:         db,
		redis:      redis,
		startTime:  time.Now(),
	}

	mux.HandleFunc("/api/analyze/stream", s.handleAnalyzeStream)
	mux.HandleFunc("/api/analytics/subreddit/", s.handleAnalyticsSeries)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReadiness)

	return s
}

// Start runs the HTTP server until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		logger.Info("http server listening", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down http server")
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true

	if err := s.db.Health(); err != nil {
		checks["database"] = err.Error()
		ready = false
	} else {
		checks["database"] = "ok"
	}

	if err := s.redis.Health(); err != nil {
		checks["redis"] = err.Error()
		ready = false
	} else {
		checks["redis"] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"ready":  ready,
		"checks": checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write json response", zap.Error(err))
	}
}
