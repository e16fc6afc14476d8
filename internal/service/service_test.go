package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stage2-screener/internal/alerting"
	"stage2-screener/internal/ledger"
	"stage2-screener/internal/marketdata"
	"stage2-screener/internal/model"
	"stage2-screener/internal/pattern"
	"stage2-screener/internal/rs"
	"stage2-screener/internal/scanerr"
	"stage2-screener/internal/status"
	"stage2-screener/internal/storage"
	"stage2-screener/internal/tradingday"
	"stage2-screener/internal/trend"
	"stage2-screener/internal/universe"
)

var scanDay = time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

type shape int

const (
	shapeBreakout shape = iota
	shapeReady
	shapeWatching
	shapeDowntrend
)

// history builds 252 daily bars ending on scanDay. The uptrend shapes ramp from 60 to 100,
// hold a tight 99..101 base for 19 bars and then vary only the last bar.
func history(ticker string, s shape) model.PriceHistory {
	const n = 252
	bars := make([]model.PriceBar, n)
	for i := range bars {
		c := 60 + float64(i)*40/231
		if s == shapeDowntrend {
			c = 100 - float64(i)*40/231
		}
		h, l := c*1.01, c*0.99
		if i > 231 && s != shapeDowntrend {
			c, h, l = 100, 101, 99
		}
		bars[i] = model.PriceBar{
			Date:   scanDay.AddDate(0, 0, i-(n-1)),
			Open:   c,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: 1000,
		}
	}
	last := &bars[n-1]
	switch s {
	case shapeBreakout:
		last.Close, last.High, last.Low, last.Volume = 104, 104, 100, 3000
	case shapeReady:
		last.Close, last.High, last.Low = 104, 104, 100
	}
	return model.PriceHistory{Ticker: ticker, Bars: bars}
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notes)
}

func newTestService(src marketdata.Source, notifier alerting.Notifier, opts Options) *Service {
	svc := New(Dependencies{Source: src, Notifier: notifier}, opts, zerolog.Nop())
	svc.now = func() time.Time { return scanDay.Add(15 * time.Hour) }
	return svc
}

func TestRunBuySignalEndToEnd(t *testing.T) {
	src := marketdata.NewMemorySource()
	src.AddHistory(history("005930", shapeBreakout))
	notifier := &recordingNotifier{}
	svc := newTestService(src, notifier, Options{Status: status.Options{RSGate: 70}})

	ranking := map[string]model.RSRecord{"005930": {Ticker: "005930", Score: 95, TrailingReturnPct: 45.2}}
	results := svc.Run(context.Background(), []string{"005930"}, ranking)

	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, model.StatusBuySignal, res.Status)
	assert.Equal(t, 95, res.RSScore)
	assert.Equal(t, 104.0, res.CurrentPrice)
	assert.Equal(t, 104.0, res.PivotPrice)
	assert.InDelta(t, 45.2, res.YearChangePct, 1e-9)
	assert.InDelta(t, 3000.0/1040.0, res.VolumeRatio, 1e-9)
	assert.Equal(t, scanDay, res.ScanDate)
	assert.Equal(t, "005930", res.Name)

	require.Equal(t, 1, notifier.count())
	assert.Equal(t, alerting.DefaultStopRatio, notifier.notes[0].StopRatio)
}

// scenarioHistory is a 252-bar stage-2 setup closing at 3213: 40% above the 2295 yearly low,
// 85% of the 3780 yearly high, a 10-bar base from 2975 to 3213 (8%), four quiet sessions
// before the close and a close on the pivot with twice the 50-day average volume.
func scenarioHistory(ticker string) model.PriceHistory {
	const n = 252
	bars := make([]model.PriceBar, n)
	for i := range bars {
		b := model.PriceBar{Date: scanDay.AddDate(0, 0, i-(n-1)), Volume: 1000}
		switch {
		case i < 242:
			c := 2400 + float64(i)*550/241
			b.Open, b.High, b.Low, b.Close = c, c+20, c-20, c
		case i < n-1:
			b.Open, b.High, b.Low, b.Close = 3040, 3100, 2975, 3040
			if i >= n-5 {
				b.Volume = 150
			}
		default:
			b.Open, b.High, b.Low, b.Close, b.Volume = 3100, 3213, 3080, 3213, 1900
		}
		bars[i] = b
	}
	bars[0].Low = 2295
	bars[100].High = 3780
	return model.PriceHistory{Ticker: ticker, Bars: bars}
}

func strictOptions() Options {
	return Options{
		Trend:   trend.Options{Profile: trend.ProfileFull, LowMultiple: 1.30},
		Pattern: pattern.Options{TightWindow: 10, TightThreshold: 0.12},
		Status:  status.Options{RSGate: 90},
	}
}

func TestStrictProfileBuySignalScenario(t *testing.T) {
	src := marketdata.NewMemorySource()
	src.AddHistory(scenarioHistory("123456"))
	notifier := &recordingNotifier{}
	svc := newTestService(src, notifier, strictOptions())
	ranking := map[string]model.RSRecord{"123456": {Ticker: "123456", Score: 95, TrailingReturnPct: 30}}

	a, err := svc.analyze(context.Background(), "123456", ranking, true)
	require.NoError(t, err)

	ev := a.Trend
	assert.True(t, ev.Passed(), "failed checks: %v", ev.Failed())
	assert.Greater(t, ev.Price, ev.MA50)
	assert.Greater(t, ev.MA50, ev.MA150)
	assert.Greater(t, ev.MA150, ev.MA200)
	assert.Greater(t, ev.MA200, ev.MA200Prev)
	assert.Equal(t, 2295.0, ev.Low52)
	assert.Equal(t, 3780.0, ev.High52)
	assert.InDelta(t, 1.40, ev.Price/ev.Low52, 1e-9)
	assert.InDelta(t, 0.85, ev.Price/ev.High52, 1e-9)

	p := a.Pattern
	assert.InDelta(t, 0.08, p.Volatility, 1e-9)
	assert.True(t, p.IsTight)
	assert.Equal(t, 500.0, p.AvgVolumeShort)
	assert.Equal(t, 875.0, p.AvgVolumeLong)
	assert.True(t, p.IsVolumeDry)
	assert.Equal(t, 3213.0, p.PivotPrice)
	assert.Equal(t, p.PivotPrice, p.CurrentPrice)
	assert.InDelta(t, 2.0, p.VolumeRatio, 1e-9)
	assert.True(t, p.VolumeConfirmed)

	results := svc.Run(context.Background(), []string{"123456"}, ranking)
	require.Len(t, results, 1)
	assert.Equal(t, model.StatusBuySignal, results[0].Status)
	assert.Equal(t, 1, notifier.count())

	below := map[string]model.RSRecord{"123456": {Ticker: "123456", Score: 85}}
	results = svc.Run(context.Background(), []string{"123456"}, below)
	require.Len(t, results, 1)
	assert.Equal(t, model.StatusReadyNotConfirmed, results[0].Status)
}

func TestRunStatuses(t *testing.T) {
	src := marketdata.NewMemorySource()
	src.AddHistory(history("UP", shapeBreakout))
	src.AddHistory(history("READY", shapeReady))
	src.AddHistory(history("WATCH", shapeWatching))
	src.AddHistory(history("DOWN", shapeDowntrend))
	svc := newTestService(src, nil, Options{})

	results := svc.Run(context.Background(), []string{"UP", "READY", "WATCH", "DOWN"}, nil)
	require.Len(t, results, 4)

	got := map[string]model.Status{}
	for _, r := range results {
		got[r.Ticker] = r.Status
	}
	assert.Equal(t, model.StatusBuySignal, got["UP"])
	assert.Equal(t, model.StatusReadyNotConfirmed, got["READY"])
	assert.Equal(t, model.StatusWatching, got["WATCH"])
	assert.Equal(t, model.StatusNoTrend, got["DOWN"])
}

func TestRunGateBlocksWeakTicker(t *testing.T) {
	src := marketdata.NewMemorySource()
	src.AddHistory(history("UP", shapeBreakout))
	svc := newTestService(src, nil, Options{Status: status.Options{RSGate: 70}})

	weak := map[string]model.RSRecord{"UP": {Ticker: "UP", Score: 50}, "OTHER": {Ticker: "OTHER", Score: 90}}
	results := svc.Run(context.Background(), []string{"UP"}, weak)
	require.Len(t, results, 1)
	assert.Equal(t, model.StatusReadyNotConfirmed, results[0].Status)

	unranked := map[string]model.RSRecord{"OTHER": {Ticker: "OTHER", Score: 90}}
	results = svc.Run(context.Background(), []string{"UP"}, unranked)
	require.Len(t, results, 1)
	assert.Equal(t, model.StatusReadyNotConfirmed, results[0].Status)

	results = svc.Run(context.Background(), []string{"UP"}, nil)
	require.Len(t, results, 1)
	assert.Equal(t, model.StatusBuySignal, results[0].Status)
	assert.False(t, results[0].Ranked())
	assert.InDelta(t, (104.0/60.0-1)*100, results[0].YearChangePct, 1e-9)
}

func TestAlertForwardedOncePerLedgerLifetime(t *testing.T) {
	src := marketdata.NewMemorySource()
	src.AddHistory(history("UP", shapeBreakout))
	notifier := &recordingNotifier{}
	svc := newTestService(src, notifier, Options{})

	for i := 0; i < 3; i++ {
		rep := svc.Scan(context.Background(), []string{"UP"}, nil)
		assert.Equal(t, 1, rep.BuySignals)
	}
	assert.Equal(t, 1, notifier.count())
}

func TestFailedDeliveryStillRecorded(t *testing.T) {
	src := marketdata.NewMemorySource()
	src.AddHistory(history("UP", shapeBreakout))
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	led := ledger.New(nil)
	svc := New(Dependencies{Source: src, Notifier: notifier, Ledger: led}, Options{}, zerolog.Nop())
	svc.now = func() time.Time { return scanDay }

	rep := svc.Scan(context.Background(), []string{"UP"}, nil)
	assert.Zero(t, rep.AlertsSent)
	assert.Len(t, rep.Results, 1)

	seen, err := led.Contains(context.Background(), "UP")
	require.NoError(t, err)
	assert.True(t, seen)

	svc.Scan(context.Background(), []string{"UP"}, nil)
	assert.Equal(t, 1, notifier.count())
}

type panickySource struct {
	*marketdata.MemorySource
}

func (p panickySource) PriceHistory(ctx context.Context, ticker string, start, end time.Time) (model.PriceHistory, error) {
	if ticker == "BOOM" {
		panic("corrupt payload")
	}
	return p.MemorySource.PriceHistory(ctx, ticker, start, end)
}

func TestPerTickerFailuresAreIsolated(t *testing.T) {
	mem := marketdata.NewMemorySource()
	mem.AddHistory(history("UP", shapeBreakout))
	short := history("SHORT", shapeBreakout)
	short.Bars = short.Bars[len(short.Bars)-120:]
	mem.AddHistory(short)
	mem.FailHistory("NET", scanerr.ErrTransport)

	svc := newTestService(panickySource{mem}, nil, Options{})
	rep := svc.Scan(context.Background(), []string{"BOOM", "SHORT", "NET", "MISSING", "UP"}, nil)

	require.Len(t, rep.Results, 1)
	assert.Equal(t, "UP", rep.Results[0].Ticker)
	assert.Equal(t, 1, rep.Evaluated)
	assert.Equal(t, 3, rep.Skipped)
	assert.Equal(t, 1, rep.Failed)

	kinds := map[string]OutcomeKind{}
	for _, o := range rep.Outcomes {
		kinds[o.Ticker] = o.Kind
	}
	assert.Equal(t, OutcomeFailed, kinds["BOOM"])
	assert.Equal(t, OutcomeDataUnavailable, kinds["SHORT"])
	assert.Equal(t, OutcomeTransport, kinds["NET"])
	assert.Equal(t, OutcomeDataUnavailable, kinds["MISSING"])
	assert.Equal(t, OutcomeOK, kinds["UP"])
}

type panickyNotifier struct {
	recordingNotifier
}

func (p *panickyNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	if note.Result.Ticker == "A" {
		panic("nil chat client")
	}
	return p.recordingNotifier.Notify(ctx, note)
}

func TestNotifierPanicIsIsolated(t *testing.T) {
	for _, workers := range []int{1, 3} {
		src := marketdata.NewMemorySource()
		src.AddHistory(history("A", shapeBreakout))
		src.AddHistory(history("B", shapeBreakout))
		notifier := &panickyNotifier{}
		svc := newTestService(src, notifier, Options{Workers: workers})

		rep := svc.Scan(context.Background(), []string{"A", "B"}, nil)

		require.Len(t, rep.Results, 2, "workers=%d", workers)
		assert.Equal(t, 2, rep.BuySignals)
		assert.Equal(t, 1, rep.AlertsSent)
		assert.Zero(t, rep.Failed)
		assert.Equal(t, 1, notifier.count())
	}
}

func TestWorkersKeepUniverseOrder(t *testing.T) {
	src := marketdata.NewMemorySource()
	tickers := []string{"A", "B", "C", "D", "E", "F"}
	for i, tk := range tickers {
		s := shapeWatching
		if i%2 == 0 {
			s = shapeBreakout
		}
		src.AddHistory(history(tk, s))
	}
	notifier := &recordingNotifier{}
	svc := newTestService(src, notifier, Options{Workers: 4})

	results := svc.Run(context.Background(), tickers, nil)
	require.Len(t, results, len(tickers))
	for i, r := range results {
		assert.Equal(t, tickers[i], r.Ticker)
	}
	assert.Equal(t, 3, notifier.count())
}

func cycleSource(t *testing.T) *marketdata.MemorySource {
	t.Helper()
	src := marketdata.NewMemorySource()
	src.AddHistory(history("AAA", shapeBreakout))
	src.AddHistory(history("BBB", shapeDowntrend))

	current := model.NewMarketSnapshot(scanDay)
	current.Entries["AAA"] = model.SnapshotEntry{Name: "Alpha", Market: "KOSPI", Close: 104, TradedValue: 5e9, MarketCap: 2e12}
	current.Entries["BBB"] = model.SnapshotEntry{Name: "Beta", Market: "KOSPI", Close: 60, TradedValue: 5e9, MarketCap: 1e12}
	src.AddSnapshot(current)

	aaa := []float64{90, 80, 70, 60}
	bbb := []float64{70, 80, 90, 100}
	for i, d := range rs.LookbackDates(scanDay) {
		snap := model.NewMarketSnapshot(d)
		snap.Entries["AAA"] = model.SnapshotEntry{Market: "KOSPI", Close: aaa[i], TradedValue: 5e9}
		snap.Entries["BBB"] = model.SnapshotEntry{Market: "KOSPI", Close: bbb[i], TradedValue: 5e9}
		src.AddSnapshot(snap)
	}
	return src
}

func cycleService(t *testing.T, src *marketdata.MemorySource, notifier alerting.Notifier, store storage.ResultStore) *Service {
	t.Helper()
	log := zerolog.Nop()
	svc := New(Dependencies{
		Source:   src,
		Resolver: tradingday.NewResolver(src, []string{"KOSPI"}, log),
		Ranker:   rs.NewRanker(rs.Options{MinQualifying: 2}, log),
		Universe: universe.SnapshotProvider{Markets: []string{"KOSPI"}, Limit: 30},
		Notifier: notifier,
		Store:    store,
	}, Options{}, log)
	svc.now = func() time.Time { return scanDay.Add(15 * time.Hour) }
	return svc
}

func TestRunCycle(t *testing.T) {
	src := cycleSource(t)
	notifier := &recordingNotifier{}
	store := storage.NewJSONFileStore(filepath.Join(t.TempDir(), "stocks.json"))
	svc := cycleService(t, src, notifier, store)

	cycle, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cycle)
	assert.Same(t, cycle, svc.Latest())

	assert.Equal(t, scanDay, cycle.Run.TradingDate)
	assert.True(t, cycle.Run.RankingAvailable)
	assert.Equal(t, 2, cycle.Run.Universe)
	assert.Equal(t, 2, cycle.Run.Evaluated)
	assert.Equal(t, 1, cycle.Run.BuySignals)
	assert.Equal(t, 1, cycle.Run.AlertsSent)

	require.Len(t, cycle.Results, 2)
	first := cycle.Results[0]
	assert.Equal(t, "AAA", first.Ticker)
	assert.Equal(t, "Alpha", first.Name)
	assert.Equal(t, model.StatusBuySignal, first.Status)
	assert.Greater(t, first.RSScore, cycle.Results[1].RSScore)
	assert.InDelta(t, (104.0-60.0)/60.0*100, first.YearChangePct, 1e-9)
	assert.Equal(t, model.StatusNoTrend, cycle.Results[1].Status)

	run, records, err := store.LatestScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cycle.Run.ID, run.ID)
	assert.Len(t, records, 2)

	_, err = svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, notifier.count())
}

func TestRunCycleWithoutHistoricalSnapshotsIsUngated(t *testing.T) {
	src := marketdata.NewMemorySource()
	src.AddHistory(history("AAA", shapeBreakout))
	current := model.NewMarketSnapshot(scanDay)
	current.Entries["AAA"] = model.SnapshotEntry{Market: "KOSPI", Close: 104, TradedValue: 5e9, MarketCap: 1}
	src.AddSnapshot(current)

	svc := cycleService(t, src, nil, nil)
	svc.opts.Status.RSGate = 90

	cycle, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, cycle.Run.RankingAvailable)
	require.Len(t, cycle.Results, 1)
	assert.Equal(t, model.StatusBuySignal, cycle.Results[0].Status)
}

func TestRunCycleNoTradingDay(t *testing.T) {
	svc := cycleService(t, marketdata.NewMemorySource(), nil, nil)
	cycle, err := svc.RunCycle(context.Background())
	assert.Nil(t, cycle)
	assert.True(t, errors.Is(err, scanerr.ErrDataUnavailable))
	assert.Nil(t, svc.Latest())
}

func TestRunCycleUsesMarketTimezone(t *testing.T) {
	kst := time.FixedZone("KST", 9*3600)
	est := time.FixedZone("EST", -5*3600)
	// 09:30 on Friday in Seoul is still Thursday evening five hours west of UTC
	opening := time.Date(2024, 5, 10, 9, 30, 0, 0, kst).In(est)

	svc := cycleService(t, cycleSource(t), nil, nil)
	svc.opts.Attempts = 1
	svc.opts.Location = kst
	svc.now = func() time.Time { return opening }

	cycle, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-05-10", cycle.Run.TradingDate.Format(model.DateLayout))
	require.Len(t, cycle.Results, 2)
	for _, r := range cycle.Results {
		assert.Equal(t, "2024-05-10", r.ScanDate.Format(model.DateLayout))
	}

	local := cycleService(t, cycleSource(t), nil, nil)
	local.opts.Attempts = 1
	local.opts.Location = est
	local.now = func() time.Time { return opening }
	_, err = local.RunCycle(context.Background())
	assert.True(t, errors.Is(err, scanerr.ErrDataUnavailable))
}

type countingSnapshots struct {
	*marketdata.MemorySource
	calls atomic.Int32
}

func (c *countingSnapshots) MarketSnapshot(ctx context.Context, date time.Time, market string) (model.MarketSnapshot, error) {
	c.calls.Add(1)
	return c.MemorySource.MarketSnapshot(ctx, date, market)
}

type countingWaiter struct {
	waits atomic.Int32
}

func (c *countingWaiter) Wait(context.Context) error {
	c.waits.Add(1)
	return nil
}

func TestSnapshotRequestsSharePacer(t *testing.T) {
	// the oldest lookback is left out so its resolve steps back over empty days
	src := &countingSnapshots{MemorySource: marketdata.NewMemorySource()}
	full := cycleSource(t)
	for _, d := range append([]time.Time{scanDay}, rs.LookbackDates(scanDay)[:3]...) {
		snap, err := full.MarketSnapshot(context.Background(), d, "")
		require.NoError(t, err)
		src.MemorySource.AddSnapshot(snap)
	}
	src.MemorySource.AddHistory(history("AAA", shapeBreakout))
	src.MemorySource.AddHistory(history("BBB", shapeDowntrend))

	pacer := &countingWaiter{}
	log := zerolog.Nop()
	svc := New(Dependencies{
		Source:   src,
		Resolver: tradingday.NewResolver(src, []string{"KOSPI"}, log).WithPacer(pacer),
		Ranker:   rs.NewRanker(rs.Options{MinQualifying: 2}, log),
		Universe: universe.SnapshotProvider{Markets: []string{"KOSPI"}, Limit: 30},
	}, Options{Workers: 4, ExtendedAttempts: 6}, log)
	svc.now = func() time.Time { return scanDay.Add(15 * time.Hour) }

	_, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	// T0 + three resolved lookbacks + six misses for the dropped one
	assert.Equal(t, int32(10), src.calls.Load())
	assert.Equal(t, src.calls.Load(), pacer.waits.Load())
}

func TestNewAttachesPacerToResolver(t *testing.T) {
	svc := cycleService(t, cycleSource(t), nil, nil)
	assert.True(t, svc.deps.Resolver.Paced())
}

type heldLock struct{}

func (heldLock) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	return nil, false, nil
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	src := cycleSource(t)
	notifier := &recordingNotifier{}
	svc := cycleService(t, src, notifier, nil)
	svc.deps.Locker = heldLock{}
	svc.opts.LockKey = 42

	cycle, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cycle)
	assert.Zero(t, notifier.count())
}

func TestAnalyzeUsesLatestRanking(t *testing.T) {
	src := cycleSource(t)
	svc := cycleService(t, src, nil, nil)

	a, err := svc.Analyze(context.Background(), "AAA")
	require.NoError(t, err)
	assert.False(t, a.Result.Ranked())
	assert.True(t, a.Trend.Passed())
	assert.True(t, a.Pattern.IsTight)
	assert.InDelta(t, 0.0, a.Result.BreakoutPct(), 1e-9)

	_, err = svc.RunCycle(context.Background())
	require.NoError(t, err)

	a, err = svc.Analyze(context.Background(), "AAA")
	require.NoError(t, err)
	assert.True(t, a.Result.Ranked())
	assert.Equal(t, 252, a.History.Len())

	_, err = svc.Analyze(context.Background(), "ZZZ")
	assert.True(t, errors.Is(err, scanerr.ErrDataUnavailable))
}

func TestStartRequiresRunner(t *testing.T) {
	svc := newTestService(marketdata.NewMemorySource(), nil, Options{})
	assert.True(t, errors.Is(svc.Start(context.Background(), nil), scanerr.ErrConfiguration))
}
