package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	cb "github.com/sony/gobreaker"

	"stage2-screener/internal/model"
	"stage2-screener/internal/scanerr"
)

// BreakerOptions tune the circuit breaker around the provider.
type BreakerOptions struct {
	Name                string
	ConsecutiveFailures uint32
	Interval            time.Duration
	Timeout             time.Duration
}

// Guarded trips a circuit breaker after repeated transport failures so a provider outage
// fails fast instead of stalling every ticker. Data-unavailable results do not count.
type Guarded struct {
	next    Source
	breaker *cb.CircuitBreaker
}

// NewGuarded wraps next with a breaker.
func NewGuarded(next Source, opts BreakerOptions, logger zerolog.Logger) *Guarded {
	if opts.Name == "" {
		opts.Name = "marketdata"
	}
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	log := logger.With().Str("component", "marketdata_breaker").Logger()

	st := cb.Settings{
		Name:     opts.Name,
		Interval: opts.Interval,
		Timeout:  opts.Timeout,
		ReadyToTrip: func(c cb.Counts) bool {
			return c.ConsecutiveFailures >= opts.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, scanerr.ErrTransport)
		},
		OnStateChange: func(name string, from, to cb.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
	return &Guarded{next: next, breaker: cb.NewCircuitBreaker(st)}
}

func (g *Guarded) MarketSnapshot(ctx context.Context, date time.Time, market string) (model.MarketSnapshot, error) {
	v, err := g.breaker.Execute(func() (any, error) {
		return g.next.MarketSnapshot(ctx, date, market)
	})
	if err != nil {
		return model.MarketSnapshot{}, g.wrap(err)
	}
	return v.(model.MarketSnapshot), nil
}

func (g *Guarded) PriceHistory(ctx context.Context, ticker string, start, end time.Time) (model.PriceHistory, error) {
	v, err := g.breaker.Execute(func() (any, error) {
		return g.next.PriceHistory(ctx, ticker, start, end)
	})
	if err != nil {
		return model.PriceHistory{}, g.wrap(err)
	}
	return v.(model.PriceHistory), nil
}

// TickerName bypasses the breaker; Client already degrades to the code.
func (g *Guarded) TickerName(ctx context.Context, ticker string) (string, error) {
	return g.next.TickerName(ctx, ticker)
}

// State reports the breaker state for health output.
func (g *Guarded) State() string { return g.breaker.State().String() }

func (g *Guarded) wrap(err error) error {
	if errors.Is(err, cb.ErrOpenState) || errors.Is(err, cb.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", scanerr.ErrTransport, err)
	}
	return err
}

var _ Source = (*Guarded)(nil)
