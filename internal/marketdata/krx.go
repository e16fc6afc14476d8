package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stage2-screener/internal/model"
	"stage2-screener/internal/scanerr"
)

const (
	krxJSONPath     = "/comm/bldAttendant/getJsonData.cmd"
	krxSnapshotBLD  = "dbms/MDC/STAT/standard/MDCSTAT01501"
	krxDefaultBase  = "http://data.krx.co.kr"
	krxReferer      = "http://data.krx.co.kr/contents/MDC/MDI/mdiLoader/index.cmd"
	defaultAgent    = "Mozilla/5.0 (X11; Linux x86_64) stage2-screener/1.0"
	defaultTimeout  = 15 * time.Second
	krxDateLayout   = "20060102"
	krxMarketAll    = "ALL"
	krxMarketKOSPI  = "STK"
	krxMarketKOSDAQ = "KSQ"
)

// KRXOptions parameterise the exchange data client.
type KRXOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// KRX fetches whole-market daily snapshots from the exchange's data portal.
type KRX struct {
	opts    KRXOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string

	mu    sync.RWMutex
	names map[string]string
}

// NewKRX constructs a snapshot client.
func NewKRX(opts KRXOptions, logger zerolog.Logger) *KRX {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = krxDefaultBase
	}
	return &KRX{
		opts:    opts,
		logger:  logger.With().Str("component", "krx_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		names:   make(map[string]string),
	}
}

// MarketSnapshot returns the closing board of market on date. Non-trading days yield an empty snapshot.
func (k *KRX) MarketSnapshot(ctx context.Context, date time.Time, market string) (model.MarketSnapshot, error) {
	mktID, err := krxMarketID(market)
	if err != nil {
		return model.MarketSnapshot{}, err
	}

	form := url.Values{}
	form.Set("bld", krxSnapshotBLD)
	form.Set("mktId", mktID)
	form.Set("trdDd", date.Format(krxDateLayout))
	form.Set("share", "1")
	form.Set("money", "1")
	form.Set("csvxls_isNo", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+krxJSONPath, strings.NewReader(form.Encode()))
	if err != nil {
		return model.MarketSnapshot{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", krxReferer)
	if ua := strings.TrimSpace(k.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultAgent)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return model.MarketSnapshot{}, fmt.Errorf("%w: krx request: %v", scanerr.ErrTransport, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.MarketSnapshot{}, fmt.Errorf("%w: krx read body: %v", scanerr.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return model.MarketSnapshot{}, httpError("krx", resp.StatusCode, payload)
	}

	var body krxSnapshotResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return model.MarketSnapshot{}, fmt.Errorf("decode krx snapshot: %w", err)
	}

	snap := model.NewMarketSnapshot(date)
	for _, row := range body.Rows {
		ticker := strings.TrimSpace(string(row.Ticker))
		price := parseNumber(string(row.Close))
		if ticker == "" || price <= 0 {
			continue
		}
		rowMarket := strings.TrimSpace(string(row.Market))
		if rowMarket == "" {
			rowMarket = market
		}
		snap.Entries[ticker] = model.SnapshotEntry{
			Name:        strings.TrimSpace(string(row.Name)),
			Market:      normalizeMarket(rowMarket),
			Close:       price,
			TradedValue: parseNumber(string(row.TradedValue)),
			MarketCap:   parseNumber(string(row.MarketCap)),
		}
	}
	k.rememberNames(snap)

	k.logger.Debug().
		Str("date", date.Format(model.DateLayout)).
		Str("market", market).
		Int("rows", snap.Len()).
		Msg("krx snapshot fetched")
	return snap, nil
}

// TickerName answers from names seen in earlier snapshots.
func (k *KRX) TickerName(_ context.Context, ticker string) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if name, ok := k.names[ticker]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: no name cached for %s", scanerr.ErrDataUnavailable, ticker)
}

func (k *KRX) rememberNames(snap model.MarketSnapshot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for ticker, e := range snap.Entries {
		if e.Name != "" {
			k.names[ticker] = e.Name
		}
	}
}

func krxMarketID(market string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(market)) {
	case "", krxMarketAll:
		return krxMarketAll, nil
	case MarketKOSPI, krxMarketKOSPI:
		return krxMarketKOSPI, nil
	case MarketKOSDAQ, krxMarketKOSDAQ:
		return krxMarketKOSDAQ, nil
	default:
		return "", fmt.Errorf("%w: unsupported market %q", scanerr.ErrConfiguration, market)
	}
}

func normalizeMarket(m string) string {
	switch strings.ToUpper(m) {
	case krxMarketKOSPI, MarketKOSPI:
		return MarketKOSPI
	case krxMarketKOSDAQ, MarketKOSDAQ:
		return MarketKOSDAQ
	default:
		return strings.ToUpper(m)
	}
}

type krxSnapshotResponse struct {
	Rows []struct {
		Ticker      flexString `json:"ISU_SRT_CD"`
		Name        flexString `json:"ISU_ABBRV"`
		Market      flexString `json:"MKT_NM"`
		Close       flexString `json:"TDD_CLSPRC"`
		TradedValue flexString `json:"ACC_TRDVAL"`
		MarketCap   flexString `json:"MKTCAP"`
	} `json:"OutBlock_1"`
}

var (
	_ SnapshotSource = (*KRX)(nil)
	_ NameSource     = (*KRX)(nil)
)
