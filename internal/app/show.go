package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"stage2-screener/internal/model"
	"stage2-screener/internal/storage"
)

// Show prints the latest persisted scan, or the recent run history.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	res, err := a.openResources(ctx, true)
	if err != nil {
		return err
	}
	defer res.Close()
	if res.store == nil {
		return errors.New("no result store configured; cannot show scans")
	}

	if opts.Runs {
		runs, err := res.store.ListRuns(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return writeRunsTable(a.Out, runs)
	}

	run, records, err := res.store.LatestScan(ctx)
	if errors.Is(err, storage.ErrNoScans) {
		fmt.Fprintln(a.Out, "no scans found")
		return nil
	}
	if err != nil {
		return err
	}

	results := make([]model.ScreenResult, 0, len(records))
	for _, rec := range records {
		r := rec.ScreenResult()
		if opts.Status != "" && !strings.EqualFold(string(r.Status), opts.Status) {
			continue
		}
		results = append(results, r)
	}
	model.SortByPriority(results)
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	fmt.Fprintf(a.Out, "Run %s | trading date %s | finished %s\n\n",
		run.ID, run.TradingDate.Format(model.DateLayout), run.FinishedAt.UTC().Format(time.RFC3339))
	return writeResultsTable(a.Out, results)
}

func writeResultsTable(out io.Writer, results []model.ScreenResult) error {
	if len(results) == 0 {
		fmt.Fprintln(out, "no results")
		return nil
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Ticker\tName\tStatus\tPrice\tPivot\tBreakout%\tRS\t12M%\tVol x50d")
	for _, r := range results {
		rsScore := "-"
		if r.Ranked() {
			rsScore = fmt.Sprintf("%d", r.RSScore)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%.0f\t%.0f\t%+.2f\t%s\t%+.2f\t%.2f\n",
			r.Ticker,
			sanitizeInline(r.Name),
			r.Status,
			r.CurrentPrice,
			r.PivotPrice,
			r.BreakoutPct(),
			rsScore,
			r.YearChangePct,
			r.VolumeRatio,
		)
	}
	return writer.Flush()
}

func writeRunsTable(out io.Writer, runs []storage.ScanRun) error {
	if len(runs) == 0 {
		fmt.Fprintln(out, "no scans found")
		return nil
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Finished (UTC)\tTrading date\tProfile\tRanked\tUniverse\tEvaluated\tSkipped\tFailed\tBuy\tAlerts")
	for _, r := range runs {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%t\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.FinishedAt.UTC().Format(time.RFC3339),
			r.TradingDate.Format(model.DateLayout),
			r.Profile,
			r.RankingAvailable,
			r.Universe,
			r.Evaluated,
			r.Skipped,
			r.Failed,
			r.BuySignals,
			r.AlertsSent,
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
