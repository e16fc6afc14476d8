// Package marketdata adapts external quote providers to the screener's data model.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"stage2-screener/internal/model"
	"stage2-screener/internal/scanerr"
)

// Market identifiers understood by the adapters.
const (
	MarketKOSPI  = "KOSPI"
	MarketKOSDAQ = "KOSDAQ"
)

// SnapshotSource returns every listed ticker's close, traded value and market cap for one date.
type SnapshotSource interface {
	MarketSnapshot(ctx context.Context, date time.Time, market string) (model.MarketSnapshot, error)
}

// HistorySource returns a daily OHLCV series between start and end inclusive.
type HistorySource interface {
	PriceHistory(ctx context.Context, ticker string, start, end time.Time) (model.PriceHistory, error)
}

// NameSource resolves a ticker code to its display name.
type NameSource interface {
	TickerName(ctx context.Context, ticker string) (string, error)
}

// Source is the full provider surface used by a scan.
type Source interface {
	SnapshotSource
	HistorySource
	NameSource
}

// httpError reports a non-2xx response as a transport failure.
func httpError(provider string, status int, payload []byte) error {
	body := strings.TrimSpace(string(payload))
	if len(body) > 200 {
		body = body[:200]
	}
	if body == "" {
		return fmt.Errorf("%w: %s status %d", scanerr.ErrTransport, provider, status)
	}
	return fmt.Errorf("%w: %s status %d: %s", scanerr.ErrTransport, provider, status, body)
}

// parseNumber reads figures like "71,000" or "-". Unparsable values are zero.
func parseNumber(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" || s == "-" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// flexString decodes JSON strings or numbers into a string.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(strings.TrimSpace(string(b)))
	return nil
}
