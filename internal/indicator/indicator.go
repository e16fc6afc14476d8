// Package indicator implements the moving-window statistics used by the trend and pattern stages.
package indicator

import (
	"fmt"
	"math"

	"stage2-screener/internal/scanerr"
)

// ErrInsufficientData is returned when a series is shorter than the requested window.
var ErrInsufficientData = fmt.Errorf("%w: not enough data for calculation", scanerr.ErrDataUnavailable)

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, error) {
	return SMAAt(values, period, 0)
}

// SMAAt returns the simple moving average of the period values ending offset bars before the last one.
func SMAAt(values []float64, period, offset int) (float64, error) {
	if period <= 0 || offset < 0 {
		return 0, fmt.Errorf("invalid window: period=%d offset=%d", period, offset)
	}
	end := len(values) - offset
	if end < period {
		return 0, ErrInsufficientData
	}
	sum := 0.0
	for _, v := range values[end-period : end] {
		sum += v
	}
	return sum / float64(period), nil
}

// Mean averages the last n values. It is SMA under the name used for volume averages.
func Mean(values []float64, n int) (float64, error) {
	return SMA(values, n)
}

// Highest returns the maximum of the last n values, or of all values when fewer exist.
func Highest(values []float64, n int) (float64, error) {
	window, err := tail(values, n)
	if err != nil {
		return 0, err
	}
	high := math.Inf(-1)
	for _, v := range window {
		if v > high {
			high = v
		}
	}
	return high, nil
}

// Lowest returns the minimum of the last n values, or of all values when fewer exist.
func Lowest(values []float64, n int) (float64, error) {
	window, err := tail(values, n)
	if err != nil {
		return 0, err
	}
	low := math.Inf(1)
	for _, v := range window {
		if v < low {
			low = v
		}
	}
	return low, nil
}

func tail(values []float64, n int) ([]float64, error) {
	if len(values) == 0 {
		return nil, ErrInsufficientData
	}
	if n <= 0 {
		return nil, fmt.Errorf("invalid window: %d", n)
	}
	start := len(values) - n
	if start < 0 {
		start = 0
	}
	return values[start:], nil
}
