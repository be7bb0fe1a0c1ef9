// Package status serves the job's health and metrics endpoints while it
// runs.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/teilomillet/plexity/actor/metrics"
	"github.com/teilomillet/plexity/actor/runner"
	"github.com/teilomillet/plexity/errors"
	"go.uber.org/zap"
)

// Tracker remembers the phase of the latest run. It implements
// runner.Observer.
type Tracker struct {
	mu        sync.RWMutex
	runID     string
	phase     runner.Phase
	lastError *errors.ActorError
	runs      int
	startedAt time.Time
}

// NewTracker returns a Tracker in the idle state.
func NewTracker() *Tracker {
	return &Tracker{startedAt: time.Now()}
}

var _ runner.Observer = (*Tracker)(nil)

// Observe implements runner.Observer.
func (t *Tracker) Observe(runID string, phase runner.Phase, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if runID != t.runID {
		t.runID = runID
		t.runs++
		t.lastError = nil
	}
	t.phase = phase
	if err != nil {
		var actorErr *errors.ActorError
		if !errors.As(err, &actorErr) {
			actorErr = errors.NewInternalError(err)
		}
		t.lastError = actorErr
	}
}

// Health is the /health response body.
type Health struct {
	Status string             `json:"status"`
	RunID  string             `json:"run_id,omitempty"`
	Phase  runner.Phase       `json:"phase,omitempty"`
	Runs   int                `json:"runs"`
	Uptime string             `json:"uptime"`
	Error  *errors.ActorError `json:"error,omitempty"`
}

// Snapshot returns the current health.
func (t *Tracker) Snapshot() Health {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Health{
		Status: "ok",
		RunID:  t.runID,
		Phase:  t.phase,
		Runs:   t.runs,
		Uptime: time.Since(t.startedAt).Round(time.Second).String(),
		Error:  t.lastError,
	}
}

// NewRouter builds the status router.
func NewRouter(tracker *Tracker, m *metrics.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logging(logger))
	// Metrics wrap the recovery so a recovered panic is counted as a 500.
	r.Use(PrometheusMetrics(m))
	r.Use(errors.ErrorHandler(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tracker.Snapshot())
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errors.ErrorWithType(w, "not found", errors.NotFound, http.StatusNotFound)
	})

	return r
}

// Server runs the status router until its context ends.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer creates a server listening on addr.
func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("status server started", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("status server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("shutting down status server")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error during status server shutdown: %w", err)
		}
		return nil

	case err := <-errChan:
		return err
	}
}
