package model

import (
	"sort"
	"time"
)

// Status is the readiness classification assigned to a screened ticker.
type Status string

const (
	StatusNoTrend           Status = "NO_TREND"
	StatusTooVolatile       Status = "TOO_VOLATILE"
	StatusWatching          Status = "WATCHING"
	StatusReadyNotConfirmed Status = "READY_NOT_CONFIRMED"
	StatusBuySignal         Status = "BUY_SIGNAL"
)

// Priority orders statuses for display, lower first.
func (s Status) Priority() int {
	switch s {
	case StatusBuySignal:
		return 0
	case StatusReadyNotConfirmed:
		return 1
	case StatusWatching:
		return 2
	case StatusTooVolatile:
		return 3
	default:
		return 4
	}
}

// RSRecord is a ticker's relative strength score within the eligible universe.
type RSRecord struct {
	Ticker            string  `json:"ticker"`
	Score             int     `json:"score"`
	Composite         float64 `json:"composite"`
	TrailingReturnPct float64 `json:"trailing_return_pct"`
}

// ScreenResult is the final per-ticker record handed to notification and persistence.
type ScreenResult struct {
	Ticker        string    `json:"ticker"`
	Name          string    `json:"name"`
	CurrentPrice  float64   `json:"price"`
	Status        Status    `json:"status"`
	RSScore       int       `json:"rs_score"`
	PivotPrice    float64   `json:"pivot_price"`
	YearChangePct float64   `json:"year_change"`
	VolumeRatio   float64   `json:"volume_ratio"`
	Volatility    float64   `json:"volatility"`
	ScanDate      time.Time `json:"scan_date"`
}

// Ranked reports whether the result carries an RS score. Valid scores are 1..99.
func (r ScreenResult) Ranked() bool { return r.RSScore > 0 }

// BreakoutPct is the distance of the current price above the pivot, in percent.
func (r ScreenResult) BreakoutPct() float64 {
	if r.PivotPrice <= 0 {
		return 0
	}
	return (r.CurrentPrice/r.PivotPrice - 1) * 100
}

// SortByPriority orders results by status priority, then by RS score descending.
func SortByPriority(results []ScreenResult) {
	sort.SliceStable(results, func(i, j int) bool {
		pi, pj := results[i].Status.Priority(), results[j].Status.Priority()
		if pi != pj {
			return pi < pj
		}
		return results[i].RSScore > results[j].RSScore
	})
}
