package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stage2-screener/internal/metrics"
	"stage2-screener/internal/model"
	"stage2-screener/internal/service"
	"stage2-screener/internal/storage"
)

type fixedCycle struct{ c *service.Cycle }

func (f fixedCycle) Latest() *service.Cycle { return f.c }

func sampleCycle() *service.Cycle {
	day := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	return &service.Cycle{
		Run: storage.ScanRun{ID: uuid.New(), TradingDate: day, FinishedAt: day.Add(7 * time.Hour)},
		Results: []model.ScreenResult{
			{Ticker: "005930", Status: model.StatusBuySignal, CurrentPrice: 71000, RSScore: 88, ScanDate: day},
			{Ticker: "000660", Status: model.StatusWatching, CurrentPrice: 150000, ScanDate: day},
		},
	}
}

func do(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	srv := New(":0", fixedCycle{sampleCycle()}, nil, nil, zerolog.Nop())
	rec := do(t, srv.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "2024-05-10", body["trading_date"])
}

func TestLatestScanFromCycle(t *testing.T) {
	srv := New(":0", fixedCycle{sampleCycle()}, nil, nil, zerolog.Nop())

	rec := do(t, srv.Handler(), "/api/scan/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp scanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 2)

	rec = do(t, srv.Handler(), "/api/scan/latest?status=BUY_SIGNAL")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "005930", resp.Results[0].Ticker)

	rec = do(t, srv.Handler(), "/api/scan/latest/000660")
	require.Equal(t, http.StatusOK, rec.Code)
	var one model.ScreenResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, model.StatusWatching, one.Status)

	assert.Equal(t, http.StatusNotFound, do(t, srv.Handler(), "/api/scan/latest/999999").Code)
}

func TestLatestScanFallsBackToStore(t *testing.T) {
	store := storage.NewJSONFileStore(filepath.Join(t.TempDir(), "stocks.json"))
	srv := New(":0", fixedCycle{}, store, nil, zerolog.Nop())
	assert.Equal(t, http.StatusNotFound, do(t, srv.Handler(), "/api/scan/latest").Code)

	c := sampleCycle()
	require.NoError(t, store.SaveScan(context.Background(), c.Run, c.Results))

	rec := do(t, srv.Handler(), "/api/scan/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp scanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, c.Run.ID, resp.Run.ID)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, model.StatusBuySignal, resp.Results[0].Status)

	rec = do(t, srv.Handler(), "/api/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv.Handler(), "/api/runs?limit=x").Code)
}

func TestMetricsAndNotFound(t *testing.T) {
	reg := metrics.New()
	reg.AlertResult("sent")
	srv := New(":0", nil, nil, reg.Handler(), zerolog.Nop())

	rec := do(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "screener_alerts_total")

	assert.Equal(t, http.StatusNotFound, do(t, srv.Handler(), "/nope").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv.Handler(), "/api/runs").Code)
}
