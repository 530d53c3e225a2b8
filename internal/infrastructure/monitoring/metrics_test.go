package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticState map[string]any

func (s staticState) Snapshot() any { return map[string]any(s) }

func TestMetricsIndependentRegistries(t *testing.T) {
	m1 := NewMetrics()
	m2 := NewMetrics()

	m1.RecordCacheHit()
	m1.RecordCacheHit()
	m2.RecordCacheMiss()

	assert.Equal(t, 2.0, testutil.ToFloat64(m1.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m2.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m2.CacheLookups.WithLabelValues("miss")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordCacheHit()
	m.RecordSave("saved")
	m.SetBuffersOpen(3)
	NewTimer(m, "datasets.list").Stop("200")
}

func TestTimer(t *testing.T) {
	m := NewMetrics()
	timer := NewTimer(m, "members.read")
	time.Sleep(time.Millisecond)
	timer.Stop("200")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendCalls.WithLabelValues("members.read", "200")))
}

func TestStatusServerRoutes(t *testing.T) {
	m := NewMetrics()
	m.RecordJobSubmission("submitted")
	srv := NewStatusServer("127.0.0.1:0", m, staticState{"buffers": 2}, nil)

	t.Run("healthz", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "ok")
	})

	t.Run("state", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 2.0, body["buffers"])
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), "zcraft_jobs_submitted_total"))
	})
}

func TestRateLimit(t *testing.T) {
	router := gin.New()
	router.Use(RateLimit(1, 2))
	router.GET("/state", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
