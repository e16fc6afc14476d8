// Package trend evaluates the stage-2 uptrend template on a daily price history.
package trend

import (
	"fmt"

	"stage2-screener/internal/indicator"
	"stage2-screener/internal/model"
	"stage2-screener/internal/scanerr"
)

// Profile selects the strictness of the template.
type Profile string

const (
	// ProfileFull requires all six conditions.
	ProfileFull Profile = "full"
	// ProfileQuick checks price against the long averages plus the 52-week range.
	ProfileQuick Profile = "quick"
)

const (
	// MinBars is the shortest history the template accepts.
	MinBars = 200
	// YearBars is the trailing window used for the 52-week range.
	YearBars = 252
)

// ErrHistoryTooShort is returned when fewer than MinBars bars are available.
var ErrHistoryTooShort = fmt.Errorf("%w: history shorter than %d bars", scanerr.ErrDataUnavailable, MinBars)

// Options tune the template thresholds.
type Options struct {
	Profile Profile
	// RisingLookback is how many bars back the 200-day average is compared against.
	RisingLookback int
	// LowMultiple is the minimum ratio of price over the 52-week low.
	LowMultiple float64
	// HighMultiple is the minimum ratio of price over the 52-week high.
	HighMultiple float64
}

// DefaultOptions returns the full profile with its standard thresholds.
func DefaultOptions() Options {
	return Options{Profile: ProfileFull, RisingLookback: 22, LowMultiple: 1.30, HighMultiple: 0.75}
}

// Condition names reported in an Evaluation.
const (
	CondPriceAboveAverages = "price_above_ma50_ma150_ma200"
	CondMA150AboveMA200    = "ma150_above_ma200"
	CondMA50AboveLong      = "ma50_above_ma150_ma200"
	CondMA200Rising        = "ma200_rising"
	CondAboveYearLow       = "above_52w_low"
	CondNearYearHigh       = "near_52w_high"
	CondPriceAboveLong     = "price_above_ma150_ma200"
)

// Check is the outcome of one template condition.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// Evaluation carries the inputs and the per-condition results of the template.
type Evaluation struct {
	Profile   Profile `json:"profile"`
	Price     float64 `json:"price"`
	MA50      float64 `json:"ma50"`
	MA150     float64 `json:"ma150"`
	MA200     float64 `json:"ma200"`
	MA200Prev float64 `json:"ma200_prev"`
	// HasMA200Prev is false when the history is too short for the lagged average.
	HasMA200Prev bool `json:"has_ma200_prev"`
	Low52     float64 `json:"low_52w"`
	High52    float64 `json:"high_52w"`
	Checks    []Check `json:"checks"`
}

// Passed reports whether every condition of the profile held.
func (e Evaluation) Passed() bool {
	if len(e.Checks) == 0 {
		return false
	}
	for _, c := range e.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failed lists the names of conditions that did not hold.
func (e Evaluation) Failed() []string {
	var out []string
	for _, c := range e.Checks {
		if !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}

// Evaluate computes the template for history. The 200-day average one lookback ago needs
// MinBars+RisingLookback bars; with fewer the rising condition does not hold.
func Evaluate(history model.PriceHistory, opts Options) (Evaluation, error) {
	opts = withDefaults(opts)
	if history.Len() < MinBars {
		return Evaluation{}, fmt.Errorf("ticker %s: %w (have %d)", history.Ticker, ErrHistoryTooShort, history.Len())
	}

	closes := history.Closes()
	ev := Evaluation{Profile: opts.Profile, Price: history.Last().Close}

	var err error
	if ev.MA50, err = indicator.SMA(closes, 50); err != nil {
		return Evaluation{}, err
	}
	if ev.MA150, err = indicator.SMA(closes, 150); err != nil {
		return Evaluation{}, err
	}
	if ev.MA200, err = indicator.SMA(closes, 200); err != nil {
		return Evaluation{}, err
	}
	if prev, err := indicator.SMAAt(closes, 200, opts.RisingLookback); err == nil {
		ev.MA200Prev, ev.HasMA200Prev = prev, true
	}
	if ev.High52, err = indicator.Highest(history.Highs(), YearBars); err != nil {
		return Evaluation{}, err
	}
	if ev.Low52, err = indicator.Lowest(history.Lows(), YearBars); err != nil {
		return Evaluation{}, err
	}

	ev.judge(opts)
	return ev, nil
}

// judge fills Checks from the computed figures.
func (ev *Evaluation) judge(opts Options) {
	ev.Profile = opts.Profile
	aboveLow := ev.Price >= ev.Low52*opts.LowMultiple
	nearHigh := ev.Price >= ev.High52*opts.HighMultiple

	switch opts.Profile {
	case ProfileQuick:
		ev.Checks = []Check{
			{CondPriceAboveLong, ev.Price > ev.MA150 && ev.Price > ev.MA200},
			{CondMA150AboveMA200, ev.MA150 > ev.MA200},
			{CondAboveYearLow, aboveLow},
			{CondNearYearHigh, nearHigh},
		}
	default:
		ev.Checks = []Check{
			{CondPriceAboveAverages, ev.Price > ev.MA50 && ev.Price > ev.MA150 && ev.Price > ev.MA200},
			{CondMA150AboveMA200, ev.MA150 > ev.MA200},
			{CondMA50AboveLong, ev.MA50 > ev.MA150 && ev.MA50 > ev.MA200},
			{CondMA200Rising, ev.HasMA200Prev && ev.MA200 > ev.MA200Prev},
			{CondAboveYearLow, aboveLow},
			{CondNearYearHigh, nearHigh},
		}
	}
}

// IsStage2 is Evaluate reduced to a boolean. Short histories are never in an uptrend.
func IsStage2(history model.PriceHistory, opts Options) bool {
	ev, err := Evaluate(history, opts)
	return err == nil && ev.Passed()
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.Profile == "" {
		opts.Profile = def.Profile
	}
	if opts.RisingLookback <= 0 {
		opts.RisingLookback = def.RisingLookback
	}
	if opts.LowMultiple <= 0 {
		opts.LowMultiple = def.LowMultiple
	}
	if opts.HighMultiple <= 0 {
		opts.HighMultiple = def.HighMultiple
	}
	return opts
}
