package service

import (
	"errors"

	"stage2-screener/internal/model"
	"stage2-screener/internal/scanerr"
)

// OutcomeKind tells a produced result apart from the reasons a ticker was skipped.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	// OutcomeDataUnavailable covers missing or too-short history.
	OutcomeDataUnavailable
	// OutcomeTransport covers provider failures while fetching history.
	OutcomeTransport
	// OutcomeFailed is anything unexpected, including recovered panics.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeDataUnavailable:
		return "data_unavailable"
	case OutcomeTransport:
		return "transport"
	default:
		return "failed"
	}
}

// Outcome is the typed result of evaluating one ticker.
type Outcome struct {
	Ticker string
	Kind   OutcomeKind
	Result model.ScreenResult
	Err    error
}

func classify(ticker string, err error) Outcome {
	kind := OutcomeFailed
	switch {
	case errors.Is(err, scanerr.ErrDataUnavailable):
		kind = OutcomeDataUnavailable
	case errors.Is(err, scanerr.ErrTransport):
		kind = OutcomeTransport
	}
	return Outcome{Ticker: ticker, Kind: kind, Err: err}
}
