package metrics

import (
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

func TestMiddlewareCountsByRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New("test")
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/upload/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, id := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/upload/"+id, nil))
		require.Equal(t, http.StatusNoContent, w.Code)
	}

	got := testutil.ToFloat64(m.requestTotal.WithLabelValues("test", http.MethodGet, "/api/upload/:id", "204"))
	assert.Equal(t, float64(2), got)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.requestInFlight))
}

func TestRecordAnalysisAndHandler(t *testing.T) {
	m := New("test")
	m.RecordAnalysis(ModeSync, OutcomeCompleted, 2*time.Second)
	m.RecordAnalysis(ModeAsync, OutcomeFailed, 0)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.analysisTotal.WithLabelValues("test", ModeSync, OutcomeCompleted)))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "osapio_analysis_runs_total"))
}
