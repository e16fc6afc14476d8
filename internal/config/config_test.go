package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stage2-screener/internal/scanerr"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: screener\n"), "")
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Screening.Profile)
	assert.Equal(t, "full", cfg.Screening.Trend.Template)
	assert.Equal(t, 70, cfg.Screening.RSGate)
	assert.Equal(t, 0.15, cfg.Screening.Pattern.TightThreshold)
	assert.Equal(t, 0.97, cfg.Screening.Pattern.NearPivotRatio)
	assert.Equal(t, 1.5, cfg.Screening.Pattern.VolumeMultiplier)
	assert.Equal(t, []string{"KOSPI", "KOSDAQ"}, cfg.Market.Markets)
	assert.Equal(t, 5, cfg.Resolver.MaxAttempts)
	assert.Equal(t, 3*time.Minute, cfg.Scheduler.MinGap)
	assert.Equal(t, 8*time.Minute, cfg.Scheduler.MaxGap)
	assert.Equal(t, 100*time.Millisecond, cfg.Throttle.MinDelay)
	assert.Equal(t, "data/stocks.json", cfg.Database.JSONPath)
}

func TestLoadProfilePresets(t *testing.T) {
	path := writeConfig(t, "screening:\n  profile: quick\n")
	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "quick", cfg.Screening.Trend.Template)
	assert.Equal(t, 1.25, cfg.Screening.Trend.LowMultiple)
	assert.Zero(t, cfg.Screening.RSGate)

	cfg, err = Load(path, "strict")
	require.NoError(t, err)
	assert.Equal(t, "strict", cfg.Screening.Profile)
	assert.Equal(t, 10, cfg.Screening.Pattern.TightWindow)
	assert.Equal(t, 0.12, cfg.Screening.Pattern.TightThreshold)
	assert.Equal(t, 90, cfg.Screening.RSGate)
}

func TestExplicitValuesBeatProfile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
screening:
  profile: strict
  rs_gate: 80
  pattern:
    tight_threshold: 0.1
`), "")
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Screening.RSGate)
	assert.Equal(t, 0.1, cfg.Screening.Pattern.TightThreshold)
	assert.Equal(t, 10, cfg.Screening.Pattern.TightWindow)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCREENER_SCREENING_RS_GATE", "85")
	t.Setenv("SCREENER_THROTTLE_MAX_DELAY", "3s")
	t.Setenv("SCREENER_MARKET_MARKETS", "KOSPI")

	cfg, err := Load(writeConfig(t, "{}\n"), "")
	require.NoError(t, err)
	assert.Equal(t, 85, cfg.Screening.RSGate)
	assert.Equal(t, 3*time.Second, cfg.Throttle.MaxDelay)
	assert.Equal(t, []string{"KOSPI"}, cfg.Market.Markets)
}

func TestUnknownProfile(t *testing.T) {
	_, err := Load(writeConfig(t, "{}\n"), "aggressive")
	assert.True(t, errors.Is(err, scanerr.ErrConfiguration))
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"threshold": "screening:\n  pattern:\n    tight_threshold: 1.5\n",
		"gate":      "screening:\n  rs_gate: 120\n",
		"delays":    "throttle:\n  min_delay: 2s\n  max_delay: 1s\n",
		"telegram":  "alerting:\n  telegram:\n    enabled: true\n",
		"cron":      "scheduler:\n  mode: cron\n",
		"ledger":    "ledger:\n  backend: postgres\n",
		"universe":  "universe:\n  source: file\n",
		"clock":     "market:\n  open: nine\n",
		"attempts":  "resolver:\n  max_attempts: 0\n",
		"rs method": "screening:\n  rs_method: momentum\n",
		"unlimited": "throttle:\n  workers: 8\n  rps: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body), "")
			require.Error(t, err)
			assert.True(t, errors.Is(err, scanerr.ErrConfiguration))
		})
	}
}

func TestParallelWorkersNeedSharedLimit(t *testing.T) {
	cfg, err := Load(writeConfig(t, "throttle:\n  workers: 4\n  rps: 3\n"), "")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Throttle.Workers)

	cfg.Throttle.RPS = 0
	assert.True(t, errors.Is(cfg.Validate(), scanerr.ErrConfiguration))

	cfg.Throttle.Workers = 1
	assert.NoError(t, cfg.Validate())
}

func TestResolveMaxRows(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxRows: 50}}
	assert.Equal(t, 50, cfg.ResolveMaxRows(0))
	assert.Equal(t, 7, cfg.ResolveMaxRows(7))
}
