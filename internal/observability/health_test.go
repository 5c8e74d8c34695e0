package observability_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"StakeLedger/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestReadiness(t *testing.T) {
	h := observability.NewHealthChecker("postgres", "replay")

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pending":["postgres","replay"]`)

	h.Mark("postgres", true)
	h.Mark("replay", true)
	assert.True(t, h.IsReady())

	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLiveness(t *testing.T) {
	rec := httptest.NewRecorder()
	observability.NewHealthChecker().LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"alive"`)
}

func TestMetrics_IsolatedRegistry(t *testing.T) {
	m := observability.NewMetricsWith(prometheus.NewRegistry())
	m.CoreEventsApplied.WithLabelValues("Staked").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CoreEventsApplied.WithLabelValues("Staked")))

	// A second set on another registry does not collide.
	observability.NewMetricsWith(prometheus.NewRegistry())
}

func TestLoggerComponentField(t *testing.T) {
	var buf bytes.Buffer
	log := observability.NewLoggerTo(&buf, "core", zerolog.InfoLevel)
	log.Debug().Msg("hidden")
	log.Info().Msg("visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"component":"core"`)
}
