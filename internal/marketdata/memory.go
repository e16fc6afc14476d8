package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stage2-screener/internal/model"
)

// MemorySource serves fixed snapshots and histories. It backs offline runs and tests.
type MemorySource struct {
	mu        sync.RWMutex
	snapshots map[string]model.MarketSnapshot
	histories map[string]model.PriceHistory
	names     map[string]string
	errs      map[string]error
}

// NewMemorySource returns an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		snapshots: make(map[string]model.MarketSnapshot),
		histories: make(map[string]model.PriceHistory),
		names:     make(map[string]string),
		errs:      make(map[string]error),
	}
}

// AddSnapshot registers snap under its date.
func (m *MemorySource) AddSnapshot(snap model.MarketSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snap.Date.Format(model.DateLayout)] = snap
	for t, e := range snap.Entries {
		if e.Name != "" {
			m.names[t] = e.Name
		}
	}
}

// AddHistory registers a ticker's full history.
func (m *MemorySource) AddHistory(h model.PriceHistory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histories[h.Ticker] = h
}

// FailHistory makes PriceHistory for ticker return err.
func (m *MemorySource) FailHistory(ticker string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[ticker] = err
}

func (m *MemorySource) MarketSnapshot(_ context.Context, date time.Time, market string) (model.MarketSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := model.NewMarketSnapshot(date)
	snap, ok := m.snapshots[date.Format(model.DateLayout)]
	if !ok {
		return out, nil
	}
	for t, e := range snap.Entries {
		if market == "" || e.Market == "" || e.Market == market {
			out.Entries[t] = e
		}
	}
	return out, nil
}

func (m *MemorySource) PriceHistory(_ context.Context, ticker string, start, end time.Time) (model.PriceHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.errs[ticker]; err != nil {
		return model.PriceHistory{}, err
	}
	h, ok := m.histories[ticker]
	if !ok {
		return model.PriceHistory{}, fmt.Errorf("ticker %s: %w", ticker, model.ErrEmptyHistory)
	}
	// compare calendar days so bars and window may carry different zones
	from, to := start.Format(model.DateLayout), end.Format(model.DateLayout)
	var bars []model.PriceBar
	for _, b := range h.Bars {
		if day := b.Date.Format(model.DateLayout); day >= from && day <= to {
			bars = append(bars, b)
		}
	}
	if len(bars) == 0 {
		return model.PriceHistory{}, fmt.Errorf("ticker %s: %w", ticker, model.ErrEmptyHistory)
	}
	return model.PriceHistory{Ticker: ticker, Bars: bars}, nil
}

func (m *MemorySource) TickerName(_ context.Context, ticker string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if name, ok := m.names[ticker]; ok {
		return name, nil
	}
	return "", fmt.Errorf("no name for %s", ticker)
}

var _ Source = (*MemorySource)(nil)
