package marketdata

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"stage2-screener/internal/model"
)

// Client composes a snapshot provider, a history provider and name lookup chain into one Source.
type Client struct {
	snapshots SnapshotSource
	history   HistorySource
	names     []NameSource
	logger    zerolog.Logger
}

// NewClient wires the adapters. Names are tried in order until one answers.
func NewClient(snapshots SnapshotSource, history HistorySource, logger zerolog.Logger, names ...NameSource) *Client {
	return &Client{
		snapshots: snapshots,
		history:   history,
		names:     names,
		logger:    logger.With().Str("component", "marketdata").Logger(),
	}
}

func (c *Client) MarketSnapshot(ctx context.Context, date time.Time, market string) (model.MarketSnapshot, error) {
	return c.snapshots.MarketSnapshot(ctx, date, market)
}

func (c *Client) PriceHistory(ctx context.Context, ticker string, start, end time.Time) (model.PriceHistory, error) {
	return c.history.PriceHistory(ctx, ticker, start, end)
}

// TickerName falls back to the ticker code when no source knows the name.
func (c *Client) TickerName(ctx context.Context, ticker string) (string, error) {
	for _, src := range c.names {
		name, err := src.TickerName(ctx, ticker)
		if err == nil && name != "" {
			return name, nil
		}
		if err != nil {
			c.logger.Debug().Err(err).Str("ticker", ticker).Msg("name lookup missed")
		}
	}
	return ticker, nil
}

var _ Source = (*Client)(nil)
