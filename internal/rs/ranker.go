// Package rs computes market-relative strength percentile scores.
package rs

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"stage2-screener/internal/model"
)

// Method selects how the composite return is built.
type Method string

const (
	// MethodWeighted blends four quarterly returns, the most recent weighted double.
	MethodWeighted Method = "weighted"
	// MethodTrailing uses the single trailing twelve-month return.
	MethodTrailing Method = "trailing"
)

// DefaultLookbackDays are the calendar offsets of T3, T6, T9 and T12 relative to T0.
var DefaultLookbackDays = []int{90, 180, 270, 365}

// DefaultWeights apply to R1..R4 of the weighted composite.
var DefaultWeights = []float64{0.4, 0.2, 0.2, 0.2}

// Options tune eligibility and scoring.
type Options struct {
	Method         Method
	MinPrice       float64
	MinTradedValue float64
	MinQualifying  int
	Weights        []float64
}

// Ranker scores a universe against itself.
type Ranker struct {
	opts   Options
	logger zerolog.Logger
}

// NewRanker builds a ranker, defaulting the method and weights.
func NewRanker(opts Options, logger zerolog.Logger) *Ranker {
	if opts.Method == "" {
		opts.Method = MethodWeighted
	}
	if len(opts.Weights) != len(DefaultLookbackDays) {
		opts.Weights = DefaultWeights
	}
	if opts.MinQualifying <= 0 {
		opts.MinQualifying = 1
	}
	return &Ranker{opts: opts, logger: logger.With().Str("component", "rs_ranker").Logger()}
}

// LookbackDates returns the target dates for each historical offset of t0.
func LookbackDates(t0 time.Time) []time.Time {
	out := make([]time.Time, len(DefaultLookbackDays))
	for i, days := range DefaultLookbackDays {
		out[i] = t0.AddDate(0, 0, -days)
	}
	return out
}

// Rank scores every liquid ticker in current. historical holds the T3, T6, T9 and T12 snapshots in
// that order; an empty snapshot means that offset could not be resolved. The result is empty when
// fewer than MinQualifying tickers survive.
func (r *Ranker) Rank(current model.MarketSnapshot, historical []model.MarketSnapshot) map[string]model.RSRecord {
	if current.IsEmpty() {
		r.logger.Warn().Msg("current snapshot empty; ranking skipped")
		return map[string]model.RSRecord{}
	}
	if len(historical) != len(DefaultLookbackDays) {
		r.logger.Warn().Int("offsets", len(historical)).Msg("historical snapshots missing; ranking skipped")
		return map[string]model.RSRecord{}
	}

	composites := make(map[string]float64)
	trailing := make(map[string]float64)
	var illiquid, incomplete int

	for ticker, entry := range current.Entries {
		if entry.Close < r.opts.MinPrice || entry.TradedValue < r.opts.MinTradedValue {
			illiquid++
			continue
		}

		prices, ok := r.pricePath(ticker, entry.Close, historical)
		if !ok {
			incomplete++
			continue
		}

		year := prices[len(prices)-1]
		trailing[ticker] = (prices[0] - year) / year * 100
		composites[ticker] = r.composite(prices)
	}

	if len(composites) < r.opts.MinQualifying {
		r.logger.Warn().
			Int("qualified", len(composites)).
			Int("required", r.opts.MinQualifying).
			Msg("too few tickers qualified for ranking")
		return map[string]model.RSRecord{}
	}

	scores := PercentileScores(composites)
	out := make(map[string]model.RSRecord, len(scores))
	for ticker, score := range scores {
		out[ticker] = model.RSRecord{
			Ticker:            ticker,
			Score:             score,
			Composite:         composites[ticker],
			TrailingReturnPct: trailing[ticker],
		}
	}

	r.logger.Info().
		Str("method", string(r.opts.Method)).
		Int("ranked", len(out)).
		Int("illiquid", illiquid).
		Int("incomplete", incomplete).
		Msg("relative strength ranking computed")
	return out
}

// pricePath returns T0..T12 closes, or false when any of them is missing or zero.
func (r *Ranker) pricePath(ticker string, t0 float64, historical []model.MarketSnapshot) ([]float64, bool) {
	if t0 <= 0 {
		return nil, false
	}
	prices := make([]float64, 0, len(historical)+1)
	prices = append(prices, t0)
	for _, snap := range historical {
		price, ok := snap.Close(ticker)
		if !ok || price <= 0 {
			return nil, false
		}
		prices = append(prices, price)
	}
	return prices, true
}

func (r *Ranker) composite(prices []float64) float64 {
	if r.opts.Method == MethodTrailing {
		year := prices[len(prices)-1]
		return (prices[0] - year) / year
	}
	total := 0.0
	for i, w := range r.opts.Weights {
		total += w * (prices[i] - prices[i+1]) / prices[i+1]
	}
	return total
}

// PercentileScores maps each value to an integer score in [1, 99] by descending rank.
// Ties share their average rank, so equal values always get equal scores.
func PercentileScores(values map[string]float64) map[string]int {
	n := len(values)
	out := make(map[string]int, n)
	if n == 0 {
		return out
	}

	keys := make([]string, 0, n)
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if values[keys[i]] != values[keys[j]] {
			return values[keys[i]] > values[keys[j]]
		}
		return keys[i] < keys[j]
	})

	for i := 0; i < n; {
		j := i
		for j+1 < n && values[keys[j+1]] == values[keys[i]] {
			j++
		}
		// 1-based ranks i+1..j+1 share their mean
		rank := float64(i+j+2) / 2
		score := clamp(int(math.Floor(100-rank/float64(n)*100)), 1, 99)
		for k := i; k <= j; k++ {
			out[keys[k]] = score
		}
		i = j + 1
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
