package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type fakeExecutorStats struct {
	active int64
	queued int
}

func (f fakeExecutorStats) ActiveCount() int64 { return f.active }
func (f fakeExecutorStats) QueueDepth() int     { return f.queued }

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	r := New(fakeExecutorStats{active: 2, queued: 3})
	r.RecordExecutionStarted()
	r.RecordExecutionFinished(true, 50*time.Millisecond)
	r.RecordTriggerPollFailure("rule-1")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "automation_executions_started_total 1")
	require.Contains(t, body, "automation_executions_succeeded_total 1")
	require.Contains(t, body, `automation_trigger_poll_failures_total{rule_id="rule-1"} 1`)
	require.Contains(t, body, "automation_executions_active 2")
	require.Contains(t, body, "automation_executions_queued 3")
}

func TestHTTPMiddlewareRecordsRouteTemplate(t *testing.T) {
	r := New(nil)

	router := chi.NewRouter()
	router.Use(r.HTTPMiddleware)
	router.Get("/api/v1/automations/{id}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/automations/rule-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	r.Handler().ServeHTTP(metricsRec, metricsReq)

	require.Contains(t, metricsRec.Body.String(), `route="/api/v1/automations/{id}"`)
}
