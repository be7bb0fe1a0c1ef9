package status

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/plexity/actor/metrics"
	"github.com/teilomillet/plexity/actor/runner"
	"github.com/teilomillet/plexity/errors"
	"go.uber.org/zap/zaptest"
)

func TestTracker(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, 0, tr.Snapshot().Runs)

	tr.Observe("run-1", runner.PhaseBuilding, nil)
	tr.Observe("run-1", runner.PhaseFailed, errors.NewInvalidInputError("bad", nil))

	snap := tr.Snapshot()
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, runner.PhaseFailed, snap.Phase)
	assert.Equal(t, 1, snap.Runs)
	require.NotNil(t, snap.Error)
	assert.Equal(t, errors.InvalidInput, snap.Error.Type)

	tr.Observe("run-2", runner.PhaseSucceeded, nil)
	snap = tr.Snapshot()
	assert.Equal(t, 2, snap.Runs)
	assert.Nil(t, snap.Error, "a new run clears the previous error")

	tr.Observe("run-3", runner.PhaseFailed, fmt.Errorf("plain"))
	assert.Equal(t, errors.InternalError, tr.Snapshot().Error.Type)
}

func TestRouterHealth(t *testing.T) {
	tr := NewTracker()
	tr.Observe("run-1", runner.PhaseCompleting, nil)
	m := metrics.NewMetrics()
	router := NewRouter(tr, m, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body Health
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, runner.PhaseCompleting, body.Phase)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/health", "200")))
}

func TestRouterKeepsIncomingRequestID(t *testing.T) {
	router := NewRouter(NewTracker(), metrics.NewMetrics(), zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRouterMetricsAndNotFound(t *testing.T) {
	m := metrics.NewMetrics()
	m.ObserveRun(time.Second, "")
	router := NewRouter(NewTracker(), m, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `plexity_runs_total{outcome="success"} 1`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body errors.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "not found", body.Message)
	assert.Equal(t, errors.NotFound, body.Type)
	assert.NotEmpty(t, body.RequestID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/nope", "404")))
}

func TestRouterCountsRecoveredPanic(t *testing.T) {
	m := metrics.NewMetrics()
	router := NewRouter(NewTracker(), m, zaptest.NewLogger(t)).(chi.Router)
	router.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/boom", "500")))
}

func TestServerStartAndShutdown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	logger := zaptest.NewLogger(t)
	srv := NewServer(addr, NewRouter(NewTracker(), metrics.NewMetrics(), logger), logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + addr + "/health")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `"status":"ok"`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
