package model

import (
	"sort"
	"time"
)

// SnapshotEntry is one ticker's row in a market-wide daily snapshot.
type SnapshotEntry struct {
	Name        string  `json:"name"`
	Market      string  `json:"market"`
	Close       float64 `json:"close"`
	TradedValue float64 `json:"traded_value"`
	MarketCap   float64 `json:"market_cap"`
}

// MarketSnapshot holds the closing data of every listed ticker for one date.
// An empty snapshot means the date was not a trading day.
type MarketSnapshot struct {
	Date    time.Time
	Entries map[string]SnapshotEntry
}

// NewMarketSnapshot returns an empty snapshot for date.
func NewMarketSnapshot(date time.Time) MarketSnapshot {
	return MarketSnapshot{Date: date, Entries: make(map[string]SnapshotEntry)}
}

// Len reports the number of tickers in the snapshot.
func (s MarketSnapshot) Len() int { return len(s.Entries) }

// IsEmpty reports whether the snapshot has no rows.
func (s MarketSnapshot) IsEmpty() bool { return len(s.Entries) == 0 }

// Close returns the closing price for ticker, or zero when absent.
func (s MarketSnapshot) Close(ticker string) (float64, bool) {
	e, ok := s.Entries[ticker]
	return e.Close, ok
}

// Merge copies rows from other into s. Existing rows win.
func (s MarketSnapshot) Merge(other MarketSnapshot) {
	for k, v := range other.Entries {
		if _, ok := s.Entries[k]; !ok {
			s.Entries[k] = v
		}
	}
}

// TopByMarketCap returns tickers of market ordered by descending market cap.
// An empty market matches every row. limit <= 0 returns all of them.
func (s MarketSnapshot) TopByMarketCap(market string, limit int) []string {
	tickers := make([]string, 0, len(s.Entries))
	for t, e := range s.Entries {
		if market == "" || e.Market == market {
			tickers = append(tickers, t)
		}
	}
	sort.Slice(tickers, func(i, j int) bool {
		a, b := s.Entries[tickers[i]], s.Entries[tickers[j]]
		if a.MarketCap != b.MarketCap {
			return a.MarketCap > b.MarketCap
		}
		return tickers[i] < tickers[j]
	})
	if limit > 0 && len(tickers) > limit {
		tickers = tickers[:limit]
	}
	return tickers
}
