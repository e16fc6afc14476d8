// Package tradingday finds the most recent date with published market data.
package tradingday

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stage2-screener/internal/model"
	"stage2-screener/internal/scanerr"
)

// ErrNoDataFound is returned when every attempted date came back empty.
var ErrNoDataFound = fmt.Errorf("%w: no trading day found", scanerr.ErrDataUnavailable)

const (
	// DefaultAttempts covers ordinary weekends and single holidays.
	DefaultAttempts = 5
	// ExtendedAttempts covers long holiday runs when probing historical offsets.
	ExtendedAttempts = 14
)

// SnapshotSource supplies a market-wide snapshot for one date and market.
// An empty snapshot with a nil error means the market was closed that day.
type SnapshotSource interface {
	MarketSnapshot(ctx context.Context, date time.Time, market string) (model.MarketSnapshot, error)
}

// Waiter paces outbound requests; throttle.Pacer satisfies it.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Resolver steps back one calendar day at a time until every configured market has data.
type Resolver struct {
	source  SnapshotSource
	markets []string
	pacer   Waiter
	logger  zerolog.Logger
}

// NewResolver constructs a resolver over markets. An empty list resolves against the whole source.
func NewResolver(source SnapshotSource, markets []string, logger zerolog.Logger) *Resolver {
	if len(markets) == 0 {
		markets = []string{""}
	}
	return &Resolver{
		source:  source,
		markets: markets,
		logger:  logger.With().Str("component", "trading_day_resolver").Logger(),
	}
}

// Resolve tries target and then up to maxAttempts-1 earlier calendar days.
// The returned snapshot is the merge of all markets and carries the resolved date.
func (r *Resolver) Resolve(ctx context.Context, target time.Time, maxAttempts int) (model.MarketSnapshot, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultAttempts
	}
	day := truncateDay(target)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return model.MarketSnapshot{}, err
		}

		candidate := day.AddDate(0, 0, -attempt)
		snapshot, err := r.fetchAll(ctx, candidate)
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return model.MarketSnapshot{}, err
			}
			lastErr = err
			r.logger.Warn().Err(err).Str("date", candidate.Format(model.DateLayout)).Msg("snapshot fetch failed; stepping back")
		case snapshot.IsEmpty():
			r.logger.Debug().Str("date", candidate.Format(model.DateLayout)).Msg("no market data; stepping back")
		default:
			if attempt > 0 {
				r.logger.Info().
					Str("target", day.Format(model.DateLayout)).
					Str("resolved", candidate.Format(model.DateLayout)).
					Msg("resolved to earlier trading day")
			}
			return snapshot, nil
		}
	}

	if lastErr != nil {
		return model.MarketSnapshot{}, fmt.Errorf("%w: %s after %d attempts (last error: %v)", ErrNoDataFound, day.Format(model.DateLayout), maxAttempts, lastErr)
	}
	return model.MarketSnapshot{}, fmt.Errorf("%w: %s after %d attempts", ErrNoDataFound, day.Format(model.DateLayout), maxAttempts)
}

// WithPacer makes every snapshot request wait on p first. Concurrent resolves sharing
// one pacer then share its rate limit.
func (r *Resolver) WithPacer(p Waiter) *Resolver {
	r.pacer = p
	return r
}

// Paced reports whether a pacer is attached.
func (r *Resolver) Paced() bool { return r.pacer != nil }

func (r *Resolver) fetchAll(ctx context.Context, date time.Time) (model.MarketSnapshot, error) {
	merged := model.NewMarketSnapshot(date)
	for _, market := range r.markets {
		if r.pacer != nil {
			if err := r.pacer.Wait(ctx); err != nil {
				return model.MarketSnapshot{}, err
			}
		}
		snap, err := r.source.MarketSnapshot(ctx, date, market)
		if err != nil {
			return model.MarketSnapshot{}, err
		}
		if snap.IsEmpty() {
			return model.NewMarketSnapshot(date), nil
		}
		merged.Merge(snap)
	}
	return merged, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
