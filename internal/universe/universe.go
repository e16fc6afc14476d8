// Package universe decides which tickers a scan cycle evaluates.
package universe

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"stage2-screener/internal/marketdata"
	"stage2-screener/internal/model"
	"stage2-screener/internal/scanerr"
)

// Provider lists the tickers to evaluate. snap is the resolved market
// snapshot of the cycle and may be ignored by static providers.
type Provider interface {
	Tickers(ctx context.Context, snap model.MarketSnapshot) ([]string, error)
}

// SnapshotProvider picks the largest tickers by market cap per market.
type SnapshotProvider struct {
	Markets []string
	Limit   int
}

// Tickers returns up to Limit tickers from each market, biggest first.
func (p SnapshotProvider) Tickers(_ context.Context, snap model.MarketSnapshot) ([]string, error) {
	if snap.IsEmpty() {
		return nil, fmt.Errorf("%w: empty snapshot", scanerr.ErrDataUnavailable)
	}
	markets := p.Markets
	if len(markets) == 0 {
		markets = []string{""}
	}
	var out []string
	for _, m := range markets {
		out = append(out, snap.TopByMarketCap(m, p.Limit)...)
	}
	return dedupe(out), nil
}

// Watchlist is the on-disk universe format.
type Watchlist struct {
	Watchlist []struct {
		Symbol string `yaml:"symbol"`
		Name   string `yaml:"name,omitempty"`
	} `yaml:"watchlist"`
}

// FileProvider serves a fixed watchlist loaded from YAML.
type FileProvider struct {
	tickers []string
}

// LoadFile parses a watchlist file.
func LoadFile(path string) (*FileProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read watchlist: %v", scanerr.ErrConfiguration, err)
	}
	return ParseWatchlist(raw)
}

// ParseWatchlist builds a FileProvider from YAML bytes.
func ParseWatchlist(raw []byte) (*FileProvider, error) {
	var wl Watchlist
	if err := yaml.Unmarshal(raw, &wl); err != nil {
		return nil, fmt.Errorf("%w: parse watchlist: %v", scanerr.ErrConfiguration, err)
	}
	tickers := make([]string, 0, len(wl.Watchlist))
	for _, item := range wl.Watchlist {
		if s := strings.TrimSpace(item.Symbol); s != "" {
			tickers = append(tickers, s)
		}
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("%w: watchlist is empty", scanerr.ErrConfiguration)
	}
	return &FileProvider{tickers: dedupe(tickers)}, nil
}

// Tickers returns the watchlist in file order.
func (f *FileProvider) Tickers(context.Context, model.MarketSnapshot) ([]string, error) {
	out := make([]string, len(f.tickers))
	copy(out, f.tickers)
	return out, nil
}

// Ranking is the subset of the Naver adapter used for universe selection.
type Ranking interface {
	MarketCapRanking(ctx context.Context, market string, limit int) ([]marketdata.RankedTicker, error)
}

// RankingProvider reads the exchange's market-cap board instead of the snapshot.
type RankingProvider struct {
	Source  Ranking
	Markets []string
	Limit   int
}

// Tickers returns the board's top tickers of each market.
func (p RankingProvider) Tickers(ctx context.Context, _ model.MarketSnapshot) ([]string, error) {
	var out []string
	for _, m := range p.Markets {
		rows, err := p.Source.MarketCapRanking(ctx, m, p.Limit)
		if err != nil {
			return nil, fmt.Errorf("ranking %s: %w", m, err)
		}
		for _, r := range rows {
			out = append(out, r.Ticker)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: ranking board returned no tickers", scanerr.ErrDataUnavailable)
	}
	return dedupe(out), nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, t := range in {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
