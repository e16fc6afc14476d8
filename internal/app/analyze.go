package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"stage2-screener/internal/alerting"
	"stage2-screener/internal/model"
	"stage2-screener/internal/service"
)

// Analyze prints every figure behind one ticker's status.
func (a *App) Analyze(ctx context.Context, ticker string) error {
	b, err := a.build(ctx, buildOptions{dryRun: true})
	if err != nil {
		return err
	}
	defer b.cleanup()

	analysis, err := b.svc.Analyze(ctx, ticker)
	if err != nil {
		return err
	}
	writeAnalysis(a.Out, analysis)
	return nil
}

func writeAnalysis(out io.Writer, an *service.Analysis) {
	r, ev, p := an.Result, an.Trend, an.Pattern
	fmt.Fprintf(out, "%s (%s) as of %s\n", r.Name, r.Ticker, r.ScanDate.Format(model.DateLayout))
	fmt.Fprintf(out, "Status: %s\n\n", r.Status)

	fmt.Fprintf(out, "Trend template (%s)\n", ev.Profile)
	fmt.Fprintf(out, "  price %.0f | MA50 %.0f | MA150 %.0f | MA200 %.0f", ev.Price, ev.MA50, ev.MA150, ev.MA200)
	if ev.HasMA200Prev {
		fmt.Fprintf(out, " (a month ago %.0f)", ev.MA200Prev)
	}
	fmt.Fprintf(out, "\n  52w low %.0f | 52w high %.0f\n", ev.Low52, ev.High52)
	for _, c := range ev.Checks {
		mark := "no"
		if c.Passed {
			mark = "yes"
		}
		fmt.Fprintf(out, "  %-30s %s\n", c.Name, mark)
	}

	fmt.Fprintln(out, "\nPattern")
	fmt.Fprintf(out, "  volatility %.2f%% (tight: %t)\n", p.Volatility*100, p.IsTight)
	fmt.Fprintf(out, "  volume 5d %.0f vs 20d %.0f (drying up: %t)\n", p.AvgVolumeShort, p.AvgVolumeLong, p.IsVolumeDry)
	fmt.Fprintf(out, "  pivot %.0f | breakout %+.2f%% (near pivot: %t)\n", p.PivotPrice, r.BreakoutPct(), p.IsNearPivot)
	fmt.Fprintf(out, "  volume %.0f = %.2fx 50d average (confirmed: %t)\n", p.CurrentVolume, p.VolumeRatio, p.VolumeConfirmed)

	rsScore := "n/a"
	if r.Ranked() {
		rsScore = fmt.Sprintf("%d", r.RSScore)
	}
	fmt.Fprintf(out, "\nRS %s | 12M %+.2f%%\n", rsScore, r.YearChangePct)
}

// TestAlert sends a fixed message through the configured notifier.
func (a *App) TestAlert(ctx context.Context) error {
	notifier := a.newNotifier(false)
	if notifier == nil {
		return fmt.Errorf("alerting is disabled; set alerting.enabled and alerting.telegram.*")
	}
	text := fmt.Sprintf("[TEST] %s notification check at %s", a.Config.App.Name, time.Now().Format(time.RFC3339))
	if err := notifier.Notify(ctx, alerting.Notification{Text: text}); err != nil {
		return fmt.Errorf("test alert failed: %w", err)
	}
	fmt.Fprintln(a.Out, "test alert delivered")
	return nil
}

// LedgerList prints tickers that already produced a buy alert.
func (a *App) LedgerList(ctx context.Context) error {
	res, err := a.openResources(ctx, false)
	if err != nil {
		return err
	}
	defer res.Close()

	led, closeLedger, err := a.newLedger(ctx, res.pool)
	if err != nil {
		return err
	}
	defer closeLedger()

	members, err := led.Members(ctx)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		fmt.Fprintf(a.Out, "ledger (%s) is empty\n", a.Config.Ledger.Backend)
		return nil
	}
	fmt.Fprintln(a.Out, strings.Join(members, "\n"))
	return nil
}

// LedgerReset clears the alert ledger so every ticker can alert again.
func (a *App) LedgerReset(ctx context.Context) error {
	res, err := a.openResources(ctx, false)
	if err != nil {
		return err
	}
	defer res.Close()

	led, closeLedger, err := a.newLedger(ctx, res.pool)
	if err != nil {
		return err
	}
	defer closeLedger()

	if err := led.Reset(ctx); err != nil {
		return err
	}
	a.Logger.Info().Str("backend", a.Config.Ledger.Backend).Msg("alert ledger reset")
	fmt.Fprintln(a.Out, "ledger cleared")
	return nil
}
