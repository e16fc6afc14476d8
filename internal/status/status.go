// Package status maps trend and pattern figures onto a readiness category.
package status

import (
	"stage2-screener/internal/model"
	"stage2-screener/internal/pattern"
)

// Options configure optional gates on the buy signal.
type Options struct {
	// RSGate is the minimum RS score for BUY_SIGNAL. Zero disables the gate.
	RSGate int
}

// Input is everything Classify looks at for one ticker.
type Input struct {
	TrendOK bool
	Pattern pattern.Result
	// RSScore is zero when the ticker has no ranking record.
	RSScore int
	// RankingAvailable is false when the cycle could not compute RS at all,
	// in which case the gate is skipped.
	RankingAvailable bool
}

// Classify applies the status rules in priority order; the first match wins.
func Classify(in Input, opts Options) model.Status {
	p := in.Pattern
	switch {
	case !in.TrendOK:
		return model.StatusNoTrend
	case !p.IsTight && !p.AbovePivot():
		return model.StatusTooVolatile
	case p.AbovePivot() && p.VolumeConfirmed && gateOpen(in, opts):
		return model.StatusBuySignal
	case p.AbovePivot():
		return model.StatusReadyNotConfirmed
	default:
		return model.StatusWatching
	}
}

func gateOpen(in Input, opts Options) bool {
	if opts.RSGate <= 0 || !in.RankingAvailable {
		return true
	}
	return in.RSScore >= opts.RSGate
}
