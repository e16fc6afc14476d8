package cli

import (
	"github.com/spf13/pflag"

	"stage2-screener/internal/config"
)

// screeningOverrides are command-line shortcuts for the most tuned thresholds.
// Only flags set explicitly replace configured values.
type screeningOverrides struct {
	flags *pflag.FlagSet

	minPrice         float64
	minTradedValue   float64
	tightThreshold   float64
	nearPivotRatio   float64
	volumeMultiplier float64
	rsGate           int
	workers          int
	universeLimit    int
	watchlist        string
}

func newScreeningOverrides() *screeningOverrides {
	o := &screeningOverrides{flags: pflag.NewFlagSet("screening", pflag.ContinueOnError)}
	f := o.flags
	f.Float64Var(&o.minPrice, "min-price", 0, "Minimum close for ranking eligibility")
	f.Float64Var(&o.minTradedValue, "min-traded-value", 0, "Minimum daily traded value for ranking eligibility")
	f.Float64Var(&o.tightThreshold, "tight-threshold", 0, "Maximum range/low ratio of a tight base")
	f.Float64Var(&o.nearPivotRatio, "near-pivot", 0, "Fraction of the pivot counted as near")
	f.Float64Var(&o.volumeMultiplier, "volume-multiplier", 0, "Volume over the 50-day average needed to confirm")
	f.IntVar(&o.rsGate, "rs-gate", 0, "Minimum RS score for a buy signal (0 disables)")
	f.IntVar(&o.workers, "workers", 0, "Concurrent ticker evaluations")
	f.IntVar(&o.universeLimit, "limit", 0, "Tickers per market taken from the market-cap ranking (0 = all)")
	f.StringVar(&o.watchlist, "watchlist", "", "YAML watchlist replacing the market-cap universe")
	return o
}

func (o *screeningOverrides) apply(cfg *config.Config) error {
	changed := false
	set := func(name string, apply func()) {
		if o.flags.Changed(name) {
			apply()
			changed = true
		}
	}
	s := &cfg.Screening
	set("min-price", func() { s.MinPrice = o.minPrice })
	set("min-traded-value", func() { s.MinTradedValue = o.minTradedValue })
	set("tight-threshold", func() { s.Pattern.TightThreshold = o.tightThreshold })
	set("near-pivot", func() { s.Pattern.NearPivotRatio = o.nearPivotRatio })
	set("volume-multiplier", func() { s.Pattern.VolumeMultiplier = o.volumeMultiplier })
	set("rs-gate", func() { s.RSGate = o.rsGate })
	set("workers", func() { cfg.Throttle.Workers = o.workers })
	set("limit", func() { cfg.Universe.Limit = o.universeLimit })
	set("watchlist", func() {
		cfg.Universe.Source = "file"
		cfg.Universe.File = o.watchlist
	})
	if !changed {
		return nil
	}
	return cfg.Validate()
}
