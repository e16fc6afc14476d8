package alerting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"stage2-screener/internal/model"
)

// DefaultStopRatio places the suggested stop 5% under the pivot.
const DefaultStopRatio = 0.95

var printer = message.NewPrinter(language.English)

// Render formats note. A note with Text set is sent verbatim.
func Render(note Notification) string {
	if note.Text != "" {
		return note.Text
	}
	r := note.Result
	ratio := note.StopRatio
	if ratio <= 0 {
		ratio = DefaultStopRatio
	}

	pivot := decimal.NewFromFloat(r.PivotPrice)
	stop := pivot.Mul(decimal.NewFromFloat(ratio)).Round(0)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s (%s)\n", r.Status, displayName(r), r.Ticker)
	fmt.Fprintf(&b, "Price: %s (%+.2f%% vs pivot)\n", won(decimal.NewFromFloat(r.CurrentPrice)), r.BreakoutPct())
	fmt.Fprintf(&b, "Pivot: %s\n", won(pivot))
	fmt.Fprintf(&b, "Stop: %s (pivot x %s)\n", won(stop), decimal.NewFromFloat(ratio).String())
	if r.Ranked() {
		fmt.Fprintf(&b, "RS: %d | 12M: %+.2f%%\n", r.RSScore, r.YearChangePct)
	} else {
		fmt.Fprintf(&b, "RS: n/a | 12M: %+.2f%%\n", r.YearChangePct)
	}
	fmt.Fprintf(&b, "Volume: %.2fx 50-day average\n", r.VolumeRatio)
	date := note.ScanDate
	if date.IsZero() {
		date = r.ScanDate
	}
	fmt.Fprintf(&b, "Scan date: %s", date.Format(model.DateLayout))
	return b.String()
}

func displayName(r model.ScreenResult) string {
	if r.Name == "" {
		return r.Ticker
	}
	return r.Name
}

// won renders a price rounded to whole units with thousands separators.
func won(d decimal.Decimal) string {
	return printer.Sprintf("%d", d.Round(0).IntPart())
}
