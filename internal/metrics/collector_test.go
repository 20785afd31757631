package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCollector() *Collector {
	return NewCollector("meshforge", zap.NewNop())
}

func TestNewCollector_IndependentRegistries(t *testing.T) {
	a := newCollector()
	b := newCollector()
	a.JobSubmitted()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.jobsSubmitted))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.jobsSubmitted))
}

func TestRecordHTTPRequest(t *testing.T) {
	c := newCollector()
	c.RecordHTTPRequest("GET", "/status/{job_id}", 200, 5*time.Millisecond)
	c.RecordHTTPRequest("GET", "/status/{job_id}", 200, 7*time.Millisecond)
	c.RecordHTTPRequest("GET", "/status/{job_id}", 404, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/status/{job_id}", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/status/{job_id}", "404")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.httpRequestDuration))
}

func TestJobLifecycle(t *testing.T) {
	c := newCollector()
	c.JobSubmitted()
	c.JobSubmitted()
	c.JobStarted()
	c.JobStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsInFlight))

	c.JobFinished("completed")
	c.JobFinished("failed")

	assert.Equal(t, 0.0, testutil.ToFloat64(c.jobsInFlight))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsFinished.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsFinished.WithLabelValues("failed")))
}

func TestObserveStage(t *testing.T) {
	c := newCollector()
	c.ObserveStage("generate_mesh", 2*time.Second)
	c.ObserveStage("clean_mesh", 10*time.Millisecond)
	assert.Equal(t, 2, testutil.CollectAndCount(c.stageDuration))
}

func TestObserveModelLoad(t *testing.T) {
	c := newCollector()
	c.ObserveModelLoad("error", time.Second)
	c.ObserveModelLoad("success", 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.modelLoads.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.modelLoads.WithLabelValues("error")))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	c := newCollector()
	c.JobSubmitted()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "meshforge_jobs_submitted_total 1"))
	assert.Contains(t, string(body), "go_goroutines")
}
