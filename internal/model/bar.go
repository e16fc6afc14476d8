package model

import (
	"fmt"
	"sort"
	"time"

	"stage2-screener/internal/scanerr"
)

// ErrEmptyHistory is returned when a provider yields no bars for a ticker.
var ErrEmptyHistory = fmt.Errorf("%w: empty price history", scanerr.ErrDataUnavailable)

// PriceBar is one trading day of OHLCV data.
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PriceHistory is a chronologically ordered daily series for one ticker.
type PriceHistory struct {
	Ticker string
	Bars   []PriceBar
}

// NewPriceHistory sorts bars by date and rejects duplicate trading days.
func NewPriceHistory(ticker string, bars []PriceBar) (PriceHistory, error) {
	sorted := make([]PriceBar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	for i := 1; i < len(sorted); i++ {
		if sameDay(sorted[i-1].Date, sorted[i].Date) {
			return PriceHistory{}, fmt.Errorf("ticker %s: duplicate bar for %s", ticker, sorted[i].Date.Format(DateLayout))
		}
	}
	return PriceHistory{Ticker: ticker, Bars: sorted}, nil
}

// Len returns the number of bars.
func (h PriceHistory) Len() int { return len(h.Bars) }

// Last returns the most recent bar. Callers must check Len first.
func (h PriceHistory) Last() PriceBar { return h.Bars[len(h.Bars)-1] }

// Closes returns the closing prices in chronological order.
func (h PriceHistory) Closes() []float64 { return h.column(func(b PriceBar) float64 { return b.Close }) }

// Highs returns the daily highs in chronological order.
func (h PriceHistory) Highs() []float64 { return h.column(func(b PriceBar) float64 { return b.High }) }

// Lows returns the daily lows in chronological order.
func (h PriceHistory) Lows() []float64 { return h.column(func(b PriceBar) float64 { return b.Low }) }

// Volumes returns the daily volumes in chronological order.
func (h PriceHistory) Volumes() []float64 {
	return h.column(func(b PriceBar) float64 { return b.Volume })
}

func (h PriceHistory) column(pick func(PriceBar) float64) []float64 {
	out := make([]float64, len(h.Bars))
	for i, b := range h.Bars {
		out[i] = pick(b)
	}
	return out
}

// DateLayout is the canonical YYYY-MM-DD rendering used in logs and records.
const DateLayout = "2006-01-02"

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
