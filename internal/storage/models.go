package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stage2-screener/internal/model"
)

// ScanRun summarises one completed scan cycle.
type ScanRun struct {
	ID               uuid.UUID `json:"id"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	TradingDate      time.Time `json:"trading_date"`
	Profile          string    `json:"profile"`
	RankingAvailable bool      `json:"ranking_available"`
	Universe         int       `json:"universe"`
	Evaluated        int       `json:"evaluated"`
	Skipped          int       `json:"skipped"`
	Failed           int       `json:"failed"`
	BuySignals       int       `json:"buy_signals"`
	AlertsSent       int       `json:"alerts_sent"`
}

// ResultRecord is a persisted ScreenResult. Money fields use decimals so the stored
// figures match what was shown in alerts.
type ResultRecord struct {
	RunID         uuid.UUID       `json:"run_id"`
	Ticker        string          `json:"ticker"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	Status        model.Status    `json:"status"`
	RSScore       *int            `json:"rs_score"`
	PivotPrice    decimal.Decimal `json:"pivot_price"`
	YearChangePct decimal.Decimal `json:"year_change"`
	VolumeRatio   decimal.Decimal `json:"volume_ratio"`
	ScanDate      time.Time       `json:"scan_date"`
}

// NewResultRecord converts a result, rounding prices to whole units and ratios to two places.
func NewResultRecord(runID uuid.UUID, r model.ScreenResult) ResultRecord {
	rec := ResultRecord{
		RunID:         runID,
		Ticker:        r.Ticker,
		Name:          r.Name,
		Price:         decimal.NewFromFloat(r.CurrentPrice).Round(2),
		Status:        r.Status,
		PivotPrice:    decimal.NewFromFloat(r.PivotPrice).Round(2),
		YearChangePct: decimal.NewFromFloat(r.YearChangePct).Round(2),
		VolumeRatio:   decimal.NewFromFloat(r.VolumeRatio).Round(2),
		ScanDate:      r.ScanDate,
	}
	if r.Ranked() {
		score := r.RSScore
		rec.RSScore = &score
	}
	return rec
}

// ScreenResult converts back to the domain type.
func (r ResultRecord) ScreenResult() model.ScreenResult {
	out := model.ScreenResult{
		Ticker:        r.Ticker,
		Name:          r.Name,
		CurrentPrice:  r.Price.InexactFloat64(),
		Status:        r.Status,
		PivotPrice:    r.PivotPrice.InexactFloat64(),
		YearChangePct: r.YearChangePct.InexactFloat64(),
		VolumeRatio:   r.VolumeRatio.InexactFloat64(),
		ScanDate:      r.ScanDate,
	}
	if r.RSScore != nil {
		out.RSScore = *r.RSScore
	}
	return out
}
