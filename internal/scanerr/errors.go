// Package scanerr holds the error categories shared by every screening stage.
package scanerr

import "errors"

var (
	// ErrDataUnavailable marks an empty or too-short fetch from the market data provider.
	ErrDataUnavailable = errors.New("market data unavailable")
	// ErrRankingUnavailable means relative strength could not be computed for the cycle.
	ErrRankingUnavailable = errors.New("relative strength ranking unavailable")
	// ErrTransport wraps failures talking to an external collaborator.
	ErrTransport = errors.New("transport failure")
	// ErrConfiguration is returned for invalid settings detected at startup.
	ErrConfiguration = errors.New("invalid configuration")
)
