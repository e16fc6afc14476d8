package marketdata

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"stage2-screener/internal/model"
	"stage2-screener/internal/scanerr"
)

type flakySource struct {
	*MemorySource
	calls int
	err   error
}

func (f *flakySource) PriceHistory(ctx context.Context, ticker string, start, end time.Time) (model.PriceHistory, error) {
	f.calls++
	if f.err != nil {
		return model.PriceHistory{}, f.err
	}
	return f.MemorySource.PriceHistory(ctx, ticker, start, end)
}

func TestGuardedTripsOnTransportFailures(t *testing.T) {
	src := &flakySource{MemorySource: NewMemorySource(), err: fmt.Errorf("%w: connection refused", scanerr.ErrTransport)}
	g := NewGuarded(src, BreakerOptions{ConsecutiveFailures: 3, Timeout: time.Minute}, noopLogger())

	for i := 0; i < 3; i++ {
		_, _ = g.PriceHistory(context.Background(), "005930", tradeDate, tradeDate)
	}
	_, err := g.PriceHistory(context.Background(), "005930", tradeDate, tradeDate)
	if !errors.Is(err, scanerr.ErrTransport) {
		t.Fatalf("open breaker should report transport failure, got %v", err)
	}
	if src.calls != 3 {
		t.Fatalf("open breaker must not reach the provider, calls=%d", src.calls)
	}
	if g.State() != "open" {
		t.Fatalf("expected open state, got %s", g.State())
	}
}

func TestGuardedIgnoresDataUnavailable(t *testing.T) {
	src := &flakySource{MemorySource: NewMemorySource(), err: model.ErrEmptyHistory}
	g := NewGuarded(src, BreakerOptions{ConsecutiveFailures: 2}, noopLogger())

	for i := 0; i < 5; i++ {
		_, err := g.PriceHistory(context.Background(), "005930", tradeDate, tradeDate)
		if !errors.Is(err, model.ErrEmptyHistory) {
			t.Fatalf("expected data unavailable, got %v", err)
		}
	}
	if src.calls != 5 || g.State() != "closed" {
		t.Fatalf("empty data must not trip the breaker (calls=%d state=%s)", src.calls, g.State())
	}
}
