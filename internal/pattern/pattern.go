// Package pattern detects volatility contraction, volume dry-up and pivot breakouts.
package pattern

import (
	"fmt"

	"stage2-screener/internal/indicator"
	"stage2-screener/internal/model"
)

// Options tune the detector windows and thresholds.
type Options struct {
	// TightWindow is the number of recent bars for the range test (10..20).
	TightWindow int
	// TightThreshold is the maximum (high-low)/low ratio counted as tight (0.12..0.15).
	TightThreshold float64
	// PivotWindow is the number of recent bars whose highest high forms the pivot.
	PivotWindow int
	// NearPivotRatio is the fraction of the pivot treated as near.
	NearPivotRatio float64
	// VolumeMultiplier is how many times the long average volume confirms a breakout.
	VolumeMultiplier float64
	// VolumeWindow is the long average volume window.
	VolumeWindow int
	DryShort     int
	DryLong      int
}

// DefaultOptions returns the standard detector settings.
func DefaultOptions() Options {
	return Options{
		TightWindow:      20,
		TightThreshold:   0.15,
		PivotWindow:      20,
		NearPivotRatio:   0.97,
		VolumeMultiplier: 1.5,
		VolumeWindow:     50,
		DryShort:         5,
		DryLong:          20,
	}
}

// Result holds every figure the status stage needs.
type Result struct {
	CurrentPrice    float64 `json:"current_price"`
	CurrentVolume   float64 `json:"current_volume"`
	Volatility      float64 `json:"volatility"`
	IsTight         bool    `json:"is_tight"`
	AvgVolumeShort  float64 `json:"avg_volume_short"`
	AvgVolumeLong   float64 `json:"avg_volume_long"`
	IsVolumeDry     bool    `json:"is_volume_dry"`
	PivotPrice      float64 `json:"pivot_price"`
	IsNearPivot     bool    `json:"is_near_pivot"`
	AvgVolume50     float64 `json:"avg_volume_50"`
	VolumeRatio     float64 `json:"volume_ratio"`
	VolumeConfirmed bool    `json:"volume_confirmed"`
	IsBreakout      bool    `json:"is_breakout"`
}

// AbovePivot reports whether the current price is at or above the pivot.
func (r Result) AbovePivot() bool { return r.PivotPrice > 0 && r.CurrentPrice >= r.PivotPrice }

// Detect computes the pattern figures for the most recent bar of history.
func Detect(history model.PriceHistory, opts Options) (Result, error) {
	opts = withDefaults(opts)
	need := max(opts.TightWindow, opts.PivotWindow, opts.VolumeWindow, opts.DryLong)
	if history.Len() < need {
		return Result{}, fmt.Errorf("ticker %s: %w: need %d bars, have %d", history.Ticker, indicator.ErrInsufficientData, need, history.Len())
	}

	highs, lows, volumes := history.Highs(), history.Lows(), history.Volumes()
	last := history.Last()
	res := Result{CurrentPrice: last.Close, CurrentVolume: last.Volume}

	rangeHigh, _ := indicator.Highest(highs, opts.TightWindow)
	rangeLow, _ := indicator.Lowest(lows, opts.TightWindow)
	res.Volatility, res.IsTight = Tightness(rangeHigh, rangeLow, opts.TightThreshold)

	res.AvgVolumeShort, _ = indicator.Mean(volumes, opts.DryShort)
	res.AvgVolumeLong, _ = indicator.Mean(volumes, opts.DryLong)
	res.IsVolumeDry = res.AvgVolumeShort < res.AvgVolumeLong

	res.PivotPrice, _ = indicator.Highest(highs, opts.PivotWindow)
	res.IsNearPivot = res.CurrentPrice >= res.PivotPrice*opts.NearPivotRatio

	res.AvgVolume50, _ = indicator.Mean(volumes, opts.VolumeWindow)
	res.VolumeConfirmed = VolumeConfirmed(res.CurrentVolume, res.AvgVolume50, opts.VolumeMultiplier)
	if res.AvgVolume50 > 0 {
		res.VolumeRatio = res.CurrentVolume / res.AvgVolume50
	}
	res.IsBreakout = res.AbovePivot() && res.VolumeConfirmed
	return res, nil
}

// Tightness returns the range ratio and whether it is within threshold, inclusive.
// A non-positive low is never tight.
func Tightness(high, low, threshold float64) (float64, bool) {
	if low <= 0 {
		return 0, false
	}
	ratio := (high - low) / low
	return ratio, ratio <= threshold
}

// VolumeConfirmed reports volume strictly above multiplier times the average.
// A zero average never confirms.
func VolumeConfirmed(volume, average, multiplier float64) bool {
	if average <= 0 {
		return false
	}
	return volume > average*multiplier
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.TightWindow <= 0 {
		opts.TightWindow = def.TightWindow
	}
	if opts.TightThreshold <= 0 {
		opts.TightThreshold = def.TightThreshold
	}
	if opts.PivotWindow <= 0 {
		opts.PivotWindow = def.PivotWindow
	}
	if opts.NearPivotRatio <= 0 {
		opts.NearPivotRatio = def.NearPivotRatio
	}
	if opts.VolumeMultiplier <= 0 {
		opts.VolumeMultiplier = def.VolumeMultiplier
	}
	if opts.VolumeWindow <= 0 {
		opts.VolumeWindow = def.VolumeWindow
	}
	if opts.DryShort <= 0 {
		opts.DryShort = def.DryShort
	}
	if opts.DryLong <= 0 {
		opts.DryLong = def.DryLong
	}
	return opts
}
