package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stage2-screener/internal/alerting"
	"stage2-screener/internal/config"
	"stage2-screener/internal/httpapi"
	"stage2-screener/internal/ledger"
	"stage2-screener/internal/marketdata"
	"stage2-screener/internal/metrics"
	"stage2-screener/internal/pattern"
	"stage2-screener/internal/rs"
	"stage2-screener/internal/scheduler"
	"stage2-screener/internal/service"
	"stage2-screener/internal/status"
	"stage2-screener/internal/storage"
	"stage2-screener/internal/throttle"
	"stage2-screener/internal/tradingday"
	"stage2-screener/internal/trend"
	"stage2-screener/internal/universe"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// resources owns everything a command opened and must release.
type resources struct {
	pool    *pgxpool.Pool
	store   storage.ResultStore
	locker  storage.AdvisoryLocker
	closers []func()
}

func (r *resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) openResources(ctx context.Context, persist bool) (*resources, error) {
	res := &resources{}
	db := a.Config.Database

	if db.DSN != "" {
		pool, err := storage.NewPool(ctx, db)
		if err != nil {
			return nil, err
		}
		res.pool = pool
		res.closers = append(res.closers, pool.Close)
	}
	if !persist {
		return res, nil
	}

	var stores []storage.ResultStore
	if res.pool != nil {
		pg := storage.NewStore(res.pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			res.Close()
			return nil, err
		}
		stores = append(stores, pg)
		res.locker = pg
	}
	if db.SQLitePath != "" {
		lite, err := storage.NewSQLiteStore(db.SQLitePath)
		if err != nil {
			res.Close()
			return nil, err
		}
		stores = append(stores, lite)
		res.closers = append(res.closers, func() { _ = lite.Close() })
	}
	if db.JSONPath != "" {
		stores = append(stores, storage.NewJSONFileStore(db.JSONPath))
	}
	if fan := storage.NewFanout(stores...); fan != nil {
		res.store = fan
	} else {
		a.Logger.Warn().Msg("no result store configured; persistence disabled")
	}
	return res, nil
}

func (a *App) newSource() (marketdata.Source, *marketdata.Naver) {
	ds := a.Config.DataSource
	krx := marketdata.NewKRX(marketdata.KRXOptions{
		BaseURL:   ds.KRXBaseURL,
		Timeout:   ds.Timeout,
		UserAgent: ds.UserAgent,
	}, a.Logger)
	naver := marketdata.NewNaver(marketdata.NaverOptions{
		BaseURL:   ds.NaverBaseURL,
		ChartURL:  ds.NaverChartURL,
		Timeout:   ds.Timeout,
		UserAgent: ds.UserAgent,
	}, a.Logger)

	client := marketdata.NewClient(krx, naver, a.Logger, krx, naver)
	guarded := marketdata.NewGuarded(client, marketdata.BreakerOptions{
		ConsecutiveFailures: a.Config.Breaker.ConsecutiveFailures,
		Interval:            a.Config.Breaker.Interval,
		Timeout:             a.Config.Breaker.Timeout,
	}, a.Logger)
	return guarded, naver
}

func (a *App) newNotifier(dryRun bool) alerting.Notifier {
	if dryRun {
		return alerting.NewLogNotifier(a.Logger)
	}
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if tg := a.Config.Alerting.Telegram; tg.Enabled {
		telegram := alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, tg.Timeout, a.Logger)
		return alerting.NewRetrying(telegram, a.Config.Alerting.Retries, a.Config.Alerting.Backoff, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) newLedger(ctx context.Context, pool *pgxpool.Pool) (*ledger.Ledger, func(), error) {
	cfg := a.Config.Ledger
	switch cfg.Backend {
	case "redis":
		store := ledger.NewRedisStore(ledger.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
			Timeout:  cfg.Redis.Timeout,
		})
		return ledger.New(store), func() { _ = store.Close() }, nil
	case "postgres":
		if pool == nil {
			return nil, nil, errors.New("postgres ledger requires database.dsn")
		}
		store := ledger.NewPostgresStore(pool, cfg.Scope)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return ledger.New(store), func() {}, nil
	default:
		return ledger.New(nil), func() {}, nil
	}
}

func (a *App) newUniverse(naver *marketdata.Naver) (universe.Provider, error) {
	u := a.Config.Universe
	switch u.Source {
	case "file":
		fp, err := universe.LoadFile(u.File)
		if err != nil {
			return nil, err
		}
		return fp, nil
	case "ranking":
		return universe.RankingProvider{Source: naver, Markets: a.Config.Market.Markets, Limit: u.Limit}, nil
	default:
		return universe.SnapshotProvider{Markets: a.Config.Market.Markets, Limit: u.Limit}, nil
	}
}

func (a *App) serviceOptions() service.Options {
	s := a.Config.Screening
	return service.Options{
		Trend: trend.Options{
			Profile:        trend.Profile(s.Trend.Template),
			RisingLookback: s.Trend.RisingLookback,
			LowMultiple:    s.Trend.LowMultiple,
			HighMultiple:   s.Trend.HighMultiple,
		},
		Pattern: pattern.Options{
			TightWindow:      s.Pattern.TightWindow,
			TightThreshold:   s.Pattern.TightThreshold,
			PivotWindow:      s.Pattern.PivotWindow,
			NearPivotRatio:   s.Pattern.NearPivotRatio,
			VolumeMultiplier: s.Pattern.VolumeMultiplier,
			VolumeWindow:     s.Pattern.VolumeWindow,
		},
		Status:           status.Options{RSGate: s.RSGate},
		HistoryDays:      s.HistoryDays,
		Workers:          a.Config.Throttle.Workers,
		Attempts:         a.Config.Resolver.MaxAttempts,
		ExtendedAttempts: a.Config.Resolver.ExtendedAttempts,
		StopRatio:        a.Config.Alerting.StopRatio,
		LockKey:          a.Config.Scheduler.AdvisoryLockKey,
		Location:         a.marketLocation(),
	}
}

// marketLocation loads market.timezone, falling back to UTC when it is unset.
func (a *App) marketLocation() *time.Location {
	loc, err := time.LoadLocation(a.Config.Market.Timezone)
	if err != nil {
		a.Logger.Warn().Err(err).Str("timezone", a.Config.Market.Timezone).Msg("unknown market timezone; using UTC")
		return time.UTC
	}
	return loc
}

// buildOptions toggle the side effects of a service instance.
type buildOptions struct {
	dryRun bool
}

type built struct {
	svc     *service.Service
	metrics *metrics.Registry
	res     *resources
	cleanup func()
}

func (a *App) build(ctx context.Context, opts buildOptions) (*built, error) {
	res, err := a.openResources(ctx, !opts.dryRun)
	if err != nil {
		return nil, err
	}

	led, closeLedger := ledger.New(nil), func() {}
	if !opts.dryRun {
		if led, closeLedger, err = a.newLedger(ctx, res.pool); err != nil {
			res.Close()
			return nil, err
		}
	}

	source, naver := a.newSource()
	provider, err := a.newUniverse(naver)
	if err != nil {
		closeLedger()
		res.Close()
		return nil, err
	}

	s := a.Config.Screening
	registry := metrics.New()
	pacer := throttle.New(throttle.Options{
		MinDelay: a.Config.Throttle.MinDelay,
		MaxDelay: a.Config.Throttle.MaxDelay,
		RPS:      a.Config.Throttle.RPS,
		Burst:    a.Config.Throttle.Burst,
	})
	deps := service.Dependencies{
		Source:   source,
		Resolver: tradingday.NewResolver(source, a.Config.Market.Markets, a.Logger).WithPacer(pacer),
		Ranker: rs.NewRanker(rs.Options{
			Method:         rs.Method(s.RSMethod),
			MinPrice:       s.MinPrice,
			MinTradedValue: s.MinTradedValue,
			MinQualifying:  s.MinQualifying,
		}, a.Logger),
		Universe: provider,
		Ledger:   led,
		Pacer:    pacer,
		Notifier: a.newNotifier(opts.dryRun),
		Store:    res.store,
		Metrics:  registry,
		Locker:   res.locker,
	}

	return &built{
		svc:     service.New(deps, a.serviceOptions(), a.Logger),
		metrics: registry,
		res:     res,
		cleanup: func() {
			closeLedger()
			res.Close()
		},
	}, nil
}

func (a *App) newRunner() (service.Runner, error) {
	sc := a.Config.Scheduler
	mkt := a.Config.Market
	window, err := scheduler.NewMarketHours(mkt.Open, mkt.Close, mkt.Timezone)
	if err != nil {
		return nil, err
	}

	if sc.Mode == "cron" {
		c, err := scheduler.NewCron(sc.Cron, window.Location, a.Logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	opts := scheduler.Options{
		MinGap:       sc.MinGap,
		MaxGap:       sc.MaxGap,
		StartupDelay: sc.StartupDelay,
		OffHoursPoll: sc.OffHoursPoll,
	}
	if mkt.HoursOnly {
		opts.Window = window
	}
	return scheduler.New(opts, a.Logger), nil
}

// Run executes the long-running screening service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := a.build(ctx, buildOptions{})
	if err != nil {
		return err
	}
	defer b.cleanup()

	runner, err := a.newRunner()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.Config.HTTP.Enabled {
		srv := httpapi.New(a.Config.HTTP.Addr, b.svc, b.res.store, b.metrics.Handler(), a.Logger)
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error { return b.svc.Start(gctx, runner) })

	a.Logger.Info().Str("profile", a.Config.Screening.Profile).Msg("starting screening service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("screening service stopped")
	return nil
}

// ScanOptions configure a single on-demand cycle.
type ScanOptions struct {
	DryRun bool
	Limit  int
}

// Scan runs one cycle immediately and prints its results.
func (a *App) Scan(ctx context.Context, opts ScanOptions) error {
	b, err := a.build(ctx, buildOptions{dryRun: opts.DryRun})
	if err != nil {
		return err
	}
	defer b.cleanup()

	started := time.Now()
	cycle, err := b.svc.RunCycle(ctx)
	if err != nil {
		return err
	}
	if cycle == nil {
		fmt.Fprintln(a.Out, "another instance holds the scan lock; nothing to do")
		return nil
	}

	fmt.Fprintf(a.Out, "Trading date %s | universe %d | evaluated %d | skipped %d | failed %d | buy %d | %s\n\n",
		cycle.Run.TradingDate.Format("2006-01-02"), cycle.Run.Universe, cycle.Run.Evaluated,
		cycle.Run.Skipped, cycle.Run.Failed, cycle.Run.BuySignals, time.Since(started).Round(time.Second))
	results := cycle.Results
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return writeResultsTable(a.Out, results)
}

// ExportOptions hold parameters for exporting persisted results.
type ExportOptions struct {
	CSVPath  string
	JSONPath string
	MaxRows  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Status string
	Runs   bool
}

// ChartOptions configure the chart command.
type ChartOptions struct {
	Ticker  string
	PNGPath string
}
