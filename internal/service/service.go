package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stage2-screener/internal/alerting"
	"stage2-screener/internal/ledger"
	"stage2-screener/internal/marketdata"
	"stage2-screener/internal/metrics"
	"stage2-screener/internal/model"
	"stage2-screener/internal/pattern"
	"stage2-screener/internal/rs"
	"stage2-screener/internal/scanerr"
	"stage2-screener/internal/scheduler"
	"stage2-screener/internal/status"
	"stage2-screener/internal/storage"
	"stage2-screener/internal/throttle"
	"stage2-screener/internal/tradingday"
	"stage2-screener/internal/trend"
	"stage2-screener/internal/universe"
)

// Options tune a scan.
type Options struct {
	Trend   trend.Options
	Pattern pattern.Options
	Status  status.Options
	// HistoryDays is the calendar span of history fetched per ticker.
	HistoryDays      int
	Workers          int
	Attempts         int
	ExtendedAttempts int
	StopRatio        float64
	LockKey          int64
	// Location is the market timezone that decides the scan date. Defaults to UTC.
	Location *time.Location
}

// Dependencies are the collaborators of the orchestrator. Notifier, Store,
// Metrics and Locker are optional.
type Dependencies struct {
	Source   marketdata.Source
	Resolver *tradingday.Resolver
	Ranker   *rs.Ranker
	Universe universe.Provider
	Ledger   *ledger.Ledger
	Pacer    *throttle.Pacer
	Notifier alerting.Notifier
	Store    storage.ResultStore
	Metrics  *metrics.Registry
	Locker   storage.AdvisoryLocker
}

// Runner drives RunCycle on some cadence.
type Runner interface {
	Run(ctx context.Context, tick scheduler.TickFunc) error
}

// Service orchestrates ranking, per-ticker evaluation, alerting and persistence.
type Service struct {
	deps   Dependencies
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
	latest atomic.Pointer[Cycle]
}

// New constructs the scan service.
func New(deps Dependencies, opts Options, logger zerolog.Logger) *Service {
	if deps.Ledger == nil {
		deps.Ledger = ledger.New(nil)
	}
	if deps.Pacer == nil {
		deps.Pacer = throttle.New(throttle.Options{})
	}
	if deps.Resolver != nil && !deps.Resolver.Paced() {
		deps.Resolver.WithPacer(deps.Pacer)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = 400
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Attempts <= 0 {
		opts.Attempts = tradingday.DefaultAttempts
	}
	if opts.ExtendedAttempts <= 0 {
		opts.ExtendedAttempts = tradingday.ExtendedAttempts
	}
	if opts.StopRatio <= 0 {
		opts.StopRatio = alerting.DefaultStopRatio
	}
	if opts.Trend.Profile == "" {
		opts.Trend = trend.DefaultOptions()
	}
	if opts.Pattern == (pattern.Options{}) {
		opts.Pattern = pattern.DefaultOptions()
	}
	return &Service{
		deps:   deps,
		opts:   opts,
		logger: logger.With().Str("component", "service").Logger(),
		now:    time.Now,
	}
}

// marketNow is the current instant in the market timezone.
func (s *Service) marketNow() time.Time { return s.now().In(s.opts.Location) }

// Start runs cycles on runner until ctx is cancelled.
func (s *Service) Start(ctx context.Context, runner Runner) error {
	if runner == nil {
		return fmt.Errorf("%w: scheduler not configured", scanerr.ErrConfiguration)
	}
	return runner.Run(ctx, func(ctx context.Context, _ time.Time) error {
		_, err := s.RunCycle(ctx)
		return err
	})
}

// Report is the aggregate of one pass over a universe.
type Report struct {
	Results    []model.ScreenResult
	Outcomes   []Outcome
	Evaluated  int
	Skipped    int
	Failed     int
	BuySignals int
	AlertsSent int
}

// Run evaluates every ticker in order and returns the produced results.
// Tickers without data or failing unexpectedly are left out.
func (s *Service) Run(ctx context.Context, tickers []string, ranking map[string]model.RSRecord) []model.ScreenResult {
	return s.Scan(ctx, tickers, ranking).Results
}

// Scan is Run with per-ticker outcomes and counters.
func (s *Service) Scan(ctx context.Context, tickers []string, ranking map[string]model.RSRecord) *Report {
	rankingAvailable := len(ranking) > 0
	outcomes := make([]Outcome, len(tickers))
	var sent atomic.Int32

	// handle never panics; a panic while alerting keeps the evaluated result.
	handle := func(ctx context.Context, i int) {
		ticker := tickers[i]
		evaluated := false
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			err := fmt.Errorf("panic handling %s: %v", ticker, r)
			if evaluated {
				s.logger.Error().Err(err).Str("ticker", ticker).Msg("failed to dispatch alert")
				s.deps.Metrics.AlertResult("failed")
				return
			}
			outcomes[i] = Outcome{Ticker: ticker, Kind: OutcomeFailed, Err: err}
			s.deps.Metrics.TickerOutcome(OutcomeFailed.String())
			s.logOutcome(outcomes[i])
		}()

		if err := s.deps.Pacer.Wait(ctx); err != nil {
			outcomes[i] = Outcome{Ticker: ticker, Kind: OutcomeFailed, Err: err}
			return
		}
		out := s.Evaluate(ctx, ticker, ranking, rankingAvailable)
		outcomes[i] = out
		evaluated = true
		s.deps.Metrics.TickerOutcome(out.Kind.String())
		s.logOutcome(out)

		if out.Kind == OutcomeOK && out.Result.Status == model.StatusBuySignal && s.forward(ctx, out.Result) {
			sent.Add(1)
		}
	}

	if s.opts.Workers <= 1 {
		for i := range tickers {
			if ctx.Err() != nil {
				outcomes = outcomes[:i]
				break
			}
			handle(ctx, i)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.Workers)
		for i := range tickers {
			g.Go(func() error {
				handle(gctx, i)
				return nil
			})
		}
		_ = g.Wait()
	}

	rep := &Report{Outcomes: outcomes, AlertsSent: int(sent.Load())}
	for _, out := range outcomes {
		switch out.Kind {
		case OutcomeOK:
			rep.Evaluated++
			rep.Results = append(rep.Results, out.Result)
			if out.Result.Status == model.StatusBuySignal {
				rep.BuySignals++
			}
		case OutcomeDataUnavailable, OutcomeTransport:
			rep.Skipped++
		default:
			rep.Failed++
		}
	}
	return rep
}

// Evaluate fetches one ticker's history and classifies it. It never panics.
func (s *Service) Evaluate(ctx context.Context, ticker string, ranking map[string]model.RSRecord, rankingAvailable bool) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Ticker: ticker, Kind: OutcomeFailed, Err: fmt.Errorf("panic evaluating %s: %v", ticker, r)}
		}
	}()

	a, err := s.analyze(ctx, ticker, ranking, rankingAvailable)
	if err != nil {
		return classify(ticker, err)
	}
	return Outcome{Ticker: ticker, Kind: OutcomeOK, Result: a.Result}
}

func (s *Service) logOutcome(out Outcome) {
	switch out.Kind {
	case OutcomeOK:
		s.logger.Debug().Str("ticker", out.Ticker).Str("status", string(out.Result.Status)).Msg("ticker evaluated")
	case OutcomeDataUnavailable, OutcomeTransport:
		s.logger.Warn().Err(out.Err).Str("ticker", out.Ticker).Str("outcome", out.Kind.String()).Msg("ticker skipped")
	default:
		s.logger.Error().Err(out.Err).Str("ticker", out.Ticker).Msg("ticker evaluation failed")
	}
}

// forward sends a buy alert the first time ticker reaches BUY_SIGNAL. The ledger entry is
// kept even when delivery fails.
func (s *Service) forward(ctx context.Context, res model.ScreenResult) bool {
	if s.deps.Notifier == nil {
		return false
	}
	fresh, err := s.deps.Ledger.MarkIfNew(ctx, res.Ticker)
	if err != nil {
		s.logger.Error().Err(err).Str("ticker", res.Ticker).Msg("alert ledger unavailable; alert withheld")
		s.deps.Metrics.AlertResult("ledger_error")
		return false
	}
	if !fresh {
		s.deps.Metrics.AlertResult("duplicate")
		return false
	}

	note := alerting.Notification{ScanDate: res.ScanDate, Result: res, StopRatio: s.opts.StopRatio}
	if err := s.deps.Notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("ticker", res.Ticker).Msg("failed to dispatch alert")
		s.deps.Metrics.AlertResult("failed")
		return false
	}
	s.deps.Metrics.AlertResult("sent")
	return true
}

// Cycle is one complete scheduled scan.
type Cycle struct {
	Run     storage.ScanRun
	Results []model.ScreenResult
	Ranking map[string]model.RSRecord
}

// Latest returns the most recent completed cycle, or nil.
func (s *Service) Latest() *Cycle { return s.latest.Load() }

// RunCycle resolves the trading day, ranks the market, scans the universe and
// persists the outcome. It returns nil without error when another instance holds the lock.
func (s *Service) RunCycle(ctx context.Context) (*Cycle, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	if !proceed {
		s.logger.Debug().Msg("skip cycle because advisory lock held elsewhere")
		return nil, nil
	}
	if unlock != nil {
		defer unlock()
	}

	started := s.marketNow()
	cycle, err := s.runCycle(ctx, started)
	elapsed := s.now().Sub(started)
	if err != nil {
		result := "failed"
		if errors.Is(err, scanerr.ErrDataUnavailable) {
			result = "no_data"
		}
		s.deps.Metrics.ObserveCycle(result, elapsed, s.now())
		return nil, err
	}
	s.deps.Metrics.ObserveCycle("ok", elapsed, cycle.Run.FinishedAt)
	return cycle, nil
}

func (s *Service) runCycle(ctx context.Context, started time.Time) (*Cycle, error) {
	if s.deps.Resolver == nil || s.deps.Universe == nil {
		return nil, fmt.Errorf("%w: resolver and universe are required", scanerr.ErrConfiguration)
	}

	snap, err := s.deps.Resolver.Resolve(ctx, started, s.opts.Attempts)
	if err != nil {
		return nil, fmt.Errorf("resolve trading day: %w", err)
	}

	ranking := s.rank(ctx, snap)

	tickers, err := s.deps.Universe.Tickers(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("list universe: %w", err)
	}

	s.logger.Info().
		Str("trading_date", snap.Date.Format(model.DateLayout)).
		Int("universe", len(tickers)).
		Int("ranked", len(ranking)).
		Msg("scan cycle started")

	rep := s.Scan(ctx, tickers, ranking)
	model.SortByPriority(rep.Results)

	run := storage.ScanRun{
		ID:               uuid.New(),
		StartedAt:        started.UTC(),
		FinishedAt:       s.now().UTC(),
		TradingDate:      snap.Date,
		Profile:          string(s.opts.Trend.Profile),
		RankingAvailable: len(ranking) > 0,
		Universe:         len(tickers),
		Evaluated:        rep.Evaluated,
		Skipped:          rep.Skipped,
		Failed:           rep.Failed,
		BuySignals:       rep.BuySignals,
		AlertsSent:       rep.AlertsSent,
	}

	if s.deps.Store != nil {
		if err := s.deps.Store.SaveScan(ctx, run, rep.Results); err != nil {
			s.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to persist scan")
		}
	}
	s.deps.Metrics.SetStatuses(rep.Results)
	s.deps.Metrics.SetRanked(len(ranking))

	cycle := &Cycle{Run: run, Results: rep.Results, Ranking: ranking}
	s.latest.Store(cycle)

	s.logger.Info().
		Str("run_id", run.ID.String()).
		Int("evaluated", run.Evaluated).
		Int("skipped", run.Skipped).
		Int("failed", run.Failed).
		Int("buy_signals", run.BuySignals).
		Int("alerts_sent", run.AlertsSent).
		Dur("elapsed", run.FinishedAt.Sub(run.StartedAt)).
		Msg("scan cycle finished")
	return cycle, nil
}

// rank resolves the four historical offsets and scores the market. Offsets that cannot be
// resolved stay empty, which leaves the affected tickers unranked.
func (s *Service) rank(ctx context.Context, snap model.MarketSnapshot) map[string]model.RSRecord {
	if s.deps.Ranker == nil {
		return map[string]model.RSRecord{}
	}
	dates := rs.LookbackDates(snap.Date)
	historical := make([]model.MarketSnapshot, len(dates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, d := range dates {
		g.Go(func() error {
			h, err := s.deps.Resolver.Resolve(gctx, d, s.opts.ExtendedAttempts)
			if err != nil {
				s.logger.Warn().Err(err).Str("target", d.Format(model.DateLayout)).Msg("historical snapshot unavailable")
				h = model.NewMarketSnapshot(d)
			}
			historical[i] = h
			return nil
		})
	}
	_ = g.Wait()

	ranking := s.deps.Ranker.Rank(snap, historical)
	if len(ranking) == 0 {
		s.logger.Warn().Err(scanerr.ErrRankingUnavailable).Msg("buy signals are not gated on relative strength this cycle")
	}
	return ranking
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
