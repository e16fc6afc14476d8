package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stage2-screener/internal/indicator"
	"stage2-screener/internal/model"
)

// flatBase builds n bars around 100 and lets the caller adjust the last one.
func flatBase(n int, last func(*model.PriceBar)) model.PriceHistory {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.PriceBar, n)
	for i := range bars {
		bars[i] = model.PriceBar{Date: start.AddDate(0, 0, i), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000}
	}
	if last != nil {
		last(&bars[n-1])
	}
	h, _ := model.NewPriceHistory("TEST", bars)
	return h
}

func TestTightnessThresholdIsInclusive(t *testing.T) {
	ratio, tight := Tightness(115, 100, 0.15)
	assert.Equal(t, 0.15, ratio)
	assert.True(t, tight)

	_, tight = Tightness(115.01, 100, 0.15)
	assert.False(t, tight)

	_, tight = Tightness(10, 0, 0.15)
	assert.False(t, tight)
}

func TestVolumeConfirmedZeroAverage(t *testing.T) {
	assert.False(t, VolumeConfirmed(1e9, 0, 1.5))
	assert.False(t, VolumeConfirmed(1500, 1000, 1.5))
	assert.True(t, VolumeConfirmed(1501, 1000, 1.5))
}

func TestDetectBreakout(t *testing.T) {
	h := flatBase(60, func(b *model.PriceBar) {
		b.High, b.Close, b.Volume = 102, 102, 3000
	})

	res, err := Detect(h, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 102.0, res.PivotPrice)
	assert.True(t, res.AbovePivot())
	assert.True(t, res.IsNearPivot)
	assert.True(t, res.IsTight)
	assert.InDelta(t, 3.0/99.0, res.Volatility, 1e-12)
	assert.InDelta(t, 1040.0, res.AvgVolume50, 1e-9)
	assert.True(t, res.VolumeConfirmed)
	assert.True(t, res.IsBreakout)
	assert.InDelta(t, 3000.0/1040.0, res.VolumeRatio, 1e-12)
}

func TestDetectBreakoutRequiresVolume(t *testing.T) {
	h := flatBase(60, func(b *model.PriceBar) {
		b.High, b.Close, b.Volume = 102, 102, 1500
	})
	res, err := Detect(h, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, res.AbovePivot())
	assert.False(t, res.VolumeConfirmed)
	assert.False(t, res.IsBreakout)
}

func TestDetectZeroVolumeNeverBreaksOut(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.PriceBar, 60)
	for i := range bars {
		bars[i] = model.PriceBar{Date: start.AddDate(0, 0, i), High: 100, Low: 99, Close: 100}
	}
	h, err := model.NewPriceHistory("ZERO", bars)
	require.NoError(t, err)

	res, err := Detect(h, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, res.AbovePivot())
	assert.Zero(t, res.AvgVolume50)
	assert.Zero(t, res.VolumeRatio)
	assert.False(t, res.IsBreakout)
}

func TestDetectNearPivotAndDryVolume(t *testing.T) {
	h := flatBase(60, func(b *model.PriceBar) {
		b.Close, b.Volume = 98, 200
	})
	res, err := Detect(h, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 101.0, res.PivotPrice)
	assert.False(t, res.AbovePivot())
	assert.True(t, res.IsNearPivot) // 98 >= 101 * 0.97
	assert.True(t, res.IsVolumeDry)
}

func TestDetectVolatileBase(t *testing.T) {
	h := flatBase(60, func(b *model.PriceBar) { b.Low = 80 })
	res, err := Detect(h, DefaultOptions())
	require.NoError(t, err)
	assert.False(t, res.IsTight)
	assert.InDelta(t, 21.0/80.0, res.Volatility, 1e-12)
}

func TestDetectInsufficientHistory(t *testing.T) {
	_, err := Detect(flatBase(30, nil), DefaultOptions())
	assert.ErrorIs(t, err, indicator.ErrInsufficientData)
}
