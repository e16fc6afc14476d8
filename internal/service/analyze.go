package service

import (
	"context"
	"fmt"

	"stage2-screener/internal/model"
	"stage2-screener/internal/pattern"
	"stage2-screener/internal/scanerr"
	"stage2-screener/internal/status"
	"stage2-screener/internal/trend"
)

// Analysis holds every figure behind one ticker's status.
type Analysis struct {
	Result  model.ScreenResult
	Trend   trend.Evaluation
	Pattern pattern.Result
	History model.PriceHistory
}

// Analyze evaluates a single ticker against the latest cycle's ranking, if any.
func (s *Service) Analyze(ctx context.Context, ticker string) (*Analysis, error) {
	var ranking map[string]model.RSRecord
	if c := s.Latest(); c != nil {
		ranking = c.Ranking
	}
	return s.analyze(ctx, ticker, ranking, len(ranking) > 0)
}

func (s *Service) analyze(ctx context.Context, ticker string, ranking map[string]model.RSRecord, rankingAvailable bool) (*Analysis, error) {
	if s.deps.Source == nil {
		return nil, fmt.Errorf("%w: market data source not configured", scanerr.ErrConfiguration)
	}
	end := s.marketNow()
	start := end.AddDate(0, 0, -s.opts.HistoryDays)

	history, err := s.deps.Source.PriceHistory(ctx, ticker, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", ticker, err)
	}
	ev, err := trend.Evaluate(history, s.opts.Trend)
	if err != nil {
		return nil, err
	}
	pat, err := pattern.Detect(history, s.opts.Pattern)
	if err != nil {
		return nil, err
	}

	rec, ranked := ranking[ticker]
	st := status.Classify(status.Input{
		TrendOK:          ev.Passed(),
		Pattern:          pat,
		RSScore:          rec.Score,
		RankingAvailable: rankingAvailable,
	}, s.opts.Status)

	yearChange := rec.TrailingReturnPct
	if !ranked {
		yearChange = trailingChange(history)
	}

	name, err := s.deps.Source.TickerName(ctx, ticker)
	if err != nil || name == "" {
		name = ticker
	}

	return &Analysis{
		Result: model.ScreenResult{
			Ticker:        ticker,
			Name:          name,
			CurrentPrice:  pat.CurrentPrice,
			Status:        st,
			RSScore:       rec.Score,
			PivotPrice:    pat.PivotPrice,
			YearChangePct: yearChange,
			VolumeRatio:   pat.VolumeRatio,
			Volatility:    pat.Volatility,
			ScanDate:      history.Last().Date,
		},
		Trend:   ev,
		Pattern: pat,
		History: history,
	}, nil
}

// trailingChange is the percent change over the last year of bars, or the whole history when shorter.
func trailingChange(h model.PriceHistory) float64 {
	closes := h.Closes()
	from := 0
	if len(closes) > trend.YearBars {
		from = len(closes) - 1 - trend.YearBars
	}
	base := closes[from]
	if base <= 0 {
		return 0
	}
	return (closes[len(closes)-1]/base - 1) * 100
}
