package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"stage2-screener/internal/indicator"
	"stage2-screener/internal/model"
	"stage2-screener/internal/storage"
)

// Export writes recently persisted results as CSV and/or JSON.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.JSONPath == "" {
		return errors.New("at least one of --csv or --json must be provided")
	}
	opts.MaxRows = a.Config.ResolveMaxRows(opts.MaxRows)

	res, err := a.openResources(ctx, true)
	if err != nil {
		return err
	}
	defer res.Close()
	if res.store == nil {
		return errors.New("no result store configured; cannot export")
	}

	records, err := res.store.ListRecentResults(ctx, opts.MaxRows)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no results found to export")
		return nil
	}
	a.Logger.Info().Int("exported", len(records)).Msg("exporting results")

	if opts.CSVPath != "" {
		if err := writeResultsCSV(opts.CSVPath, records); err != nil {
			return err
		}
	}
	if opts.JSONPath != "" {
		if err := writeResultsJSON(opts.JSONPath, records); err != nil {
			return err
		}
	}
	return nil
}

func writeResultsCSV(path string, records []storage.ResultRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"run_id", "ticker", "name", "price", "status", "rs_score", "pivot_price", "year_change", "volume_ratio", "scan_date"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range records {
		score := ""
		if r.RSScore != nil {
			score = strconv.Itoa(*r.RSScore)
		}
		record := []string{
			r.RunID.String(),
			r.Ticker,
			r.Name,
			r.Price.String(),
			string(r.Status),
			score,
			r.PivotPrice.String(),
			r.YearChangePct.String(),
			r.VolumeRatio.String(),
			r.ScanDate.Format(model.DateLayout),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeResultsJSON(path string, records []storage.ResultRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	return os.WriteFile(path, payload, 0o644)
}

// Chart renders a ticker's closes with its moving averages and pivot level.
func (a *App) Chart(ctx context.Context, opts ChartOptions) error {
	if opts.PNGPath == "" {
		opts.PNGPath = filepath.Join("data", opts.Ticker+".png")
	}
	b, err := a.build(ctx, buildOptions{dryRun: true})
	if err != nil {
		return err
	}
	defer b.cleanup()

	analysis, err := b.svc.Analyze(ctx, opts.Ticker)
	if err != nil {
		return err
	}
	if err := writeHistoryPNG(opts.PNGPath, analysis.History, analysis.Result); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "chart written to %s\n", opts.PNGPath)
	return nil
}

func writeHistoryPNG(path string, history model.PriceHistory, res model.ScreenResult) error {
	if history.Len() == 0 {
		return model.ErrEmptyHistory
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, history.Len())
	for i, bar := range history.Bars {
		x[i] = bar.Date
	}
	closes := history.Closes()

	series := []chart.Series{
		chart.TimeSeries{Name: "Close", XValues: x, YValues: closes},
	}
	for _, period := range []int{50, 150, 200} {
		if ma := movingAverage(x, closes, period); ma != nil {
			series = append(series, *ma)
		}
	}
	if res.PivotPrice > 0 {
		series = append(series, chart.TimeSeries{
			Name:    fmt.Sprintf("Pivot %.0f", res.PivotPrice),
			XValues: []time.Time{x[0], x[len(x)-1]},
			YValues: []float64{res.PivotPrice, res.PivotPrice},
			Style:   chart.Style{StrokeDashArray: []float64{5, 5}, StrokeWidth: 1},
		})
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("%s (%s) %s", res.Name, res.Ticker, res.Status),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Price",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// movingAverage returns the trailing average series, starting once period bars exist.
func movingAverage(x []time.Time, closes []float64, period int) *chart.TimeSeries {
	if len(closes) < period {
		return nil
	}
	xs := make([]time.Time, 0, len(closes)-period+1)
	ys := make([]float64, 0, len(closes)-period+1)
	for end := period; end <= len(closes); end++ {
		v, err := indicator.SMA(closes[:end], period)
		if err != nil {
			return nil
		}
		xs = append(xs, x[end-1])
		ys = append(ys, v)
	}
	return &chart.TimeSeries{Name: fmt.Sprintf("MA%d", period), XValues: xs, YValues: ys}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
