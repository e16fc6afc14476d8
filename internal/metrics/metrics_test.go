package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stage2-screener/internal/model"
)

func TestRegistryCounters(t *testing.T) {
	r := New()
	r.ObserveCycle("ok", 3*time.Second, time.Unix(1700000000, 0))
	r.TickerOutcome("ok")
	r.TickerOutcome("ok")
	r.TickerOutcome("data_unavailable")
	r.AlertResult("sent")
	r.SetRanked(42)
	r.SetStatuses([]model.ScreenResult{
		{Status: model.StatusBuySignal},
		{Status: model.StatusWatching},
		{Status: model.StatusWatching},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Cycles.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Tickers.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Tickers.WithLabelValues("data_unavailable")))
	assert.Equal(t, 42.0, testutil.ToFloat64(r.RankedTickers))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Statuses.WithLabelValues("WATCHING")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.Statuses.WithLabelValues("NO_TREND")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(r.LastCycle))
}

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	r.ObserveCycle("ok", time.Second, time.Now())
	r.TickerOutcome("ok")
	r.SetStatuses(nil)
	r.AlertResult("sent")
	r.SetRanked(1)
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.AlertResult("failed")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `screener_alerts_total{result="failed"} 1`))
}
