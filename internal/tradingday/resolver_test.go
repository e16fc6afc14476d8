package tradingday

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stage2-screener/internal/model"
	"stage2-screener/internal/scanerr"
)

type fakeSource struct {
	byDate map[string]map[string]model.SnapshotEntry
	errOn  map[string]error
	calls  []string
}

func (f *fakeSource) MarketSnapshot(_ context.Context, date time.Time, market string) (model.MarketSnapshot, error) {
	key := date.Format(model.DateLayout)
	f.calls = append(f.calls, key+"/"+market)
	if err := f.errOn[key]; err != nil {
		return model.MarketSnapshot{}, err
	}
	snap := model.NewMarketSnapshot(date)
	for ticker, entry := range f.byDate[key] {
		if market == "" || entry.Market == market {
			snap.Entries[ticker] = entry
		}
	}
	return snap, nil
}

var today = time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)

func TestResolveReturnsTargetWhenAvailable(t *testing.T) {
	src := &fakeSource{byDate: map[string]map[string]model.SnapshotEntry{
		"2024-05-10": {"005930": {Close: 70000}},
	}}
	r := NewResolver(src, nil, zerolog.Nop())

	snap, err := r.Resolve(context.Background(), today, DefaultAttempts)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-10", snap.Date.Format(model.DateLayout))
	assert.Len(t, src.calls, 1)
}

func TestResolveAttemptBoundary(t *testing.T) {
	// only the fifth date tried (target minus four calendar days) has data
	src := &fakeSource{byDate: map[string]map[string]model.SnapshotEntry{
		"2024-05-06": {"005930": {Close: 70000}},
	}}
	r := NewResolver(src, nil, zerolog.Nop())

	snap, err := r.Resolve(context.Background(), today, 5)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-06", snap.Date.Format(model.DateLayout))

	_, err = r.Resolve(context.Background(), today, 4)
	assert.ErrorIs(t, err, ErrNoDataFound)
	assert.ErrorIs(t, err, scanerr.ErrDataUnavailable)
}

func TestResolveRequiresEveryMarket(t *testing.T) {
	src := &fakeSource{byDate: map[string]map[string]model.SnapshotEntry{
		"2024-05-10": {"005930": {Market: "KOSPI", Close: 1}},
		"2024-05-09": {
			"005930": {Market: "KOSPI", Close: 1},
			"247540": {Market: "KOSDAQ", Close: 2},
		},
	}}
	r := NewResolver(src, []string{"KOSPI", "KOSDAQ"}, zerolog.Nop())

	snap, err := r.Resolve(context.Background(), today, DefaultAttempts)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-09", snap.Date.Format(model.DateLayout))
	assert.Equal(t, 2, snap.Len())
}

func TestResolveStepsPastTransportErrors(t *testing.T) {
	src := &fakeSource{
		byDate: map[string]map[string]model.SnapshotEntry{
			"2024-05-09": {"005930": {Close: 1}},
		},
		errOn: map[string]error{"2024-05-10": errors.New("connection reset")},
	}
	r := NewResolver(src, nil, zerolog.Nop())

	snap, err := r.Resolve(context.Background(), today, DefaultAttempts)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-09", snap.Date.Format(model.DateLayout))
}

func TestResolveExhaustionKeepsLastError(t *testing.T) {
	src := &fakeSource{errOn: map[string]error{"2024-05-10": errors.New("boom")}}
	r := NewResolver(src, nil, zerolog.Nop())

	_, err := r.Resolve(context.Background(), today, 2)
	require.ErrorIs(t, err, ErrNoDataFound)
	assert.Contains(t, err.Error(), "boom")
}

func TestResolveHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewResolver(&fakeSource{}, nil, zerolog.Nop())

	_, err := r.Resolve(ctx, today, DefaultAttempts)
	assert.ErrorIs(t, err, context.Canceled)
}

type countingWaiter struct {
	waits int
	err   error
}

func (c *countingWaiter) Wait(context.Context) error {
	c.waits++
	return c.err
}

func TestResolveWaitsBeforeEveryFetch(t *testing.T) {
	src := &fakeSource{byDate: map[string]map[string]model.SnapshotEntry{
		"2024-05-08": {"005930": {Market: "KOSPI", Close: 70000}, "035720": {Market: "KOSDAQ", Close: 50000}},
	}}
	pacer := &countingWaiter{}
	r := NewResolver(src, []string{"KOSPI", "KOSDAQ"}, zerolog.Nop()).WithPacer(pacer)
	require.True(t, r.Paced())

	_, err := r.Resolve(context.Background(), today, DefaultAttempts)
	require.NoError(t, err)
	assert.Equal(t, len(src.calls), pacer.waits)
	assert.Positive(t, pacer.waits)
}

func TestResolveStopsWhenPacerCancelled(t *testing.T) {
	src := &fakeSource{}
	r := NewResolver(src, nil, zerolog.Nop()).WithPacer(&countingWaiter{err: context.Canceled})

	_, err := r.Resolve(context.Background(), today, DefaultAttempts)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, src.calls)
}
