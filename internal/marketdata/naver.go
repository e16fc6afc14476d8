package marketdata

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"

	"stage2-screener/internal/model"
	"stage2-screener/internal/scanerr"
)

const (
	naverDefaultBase  = "https://finance.naver.com"
	naverDefaultChart = "https://fchart.stock.naver.com"
	naverPageSize     = 50
	naverMaxPages     = 40
)

var (
	chartItemRe = regexp.MustCompile(`<item data="(\d{8})\|([\d.]+)\|([\d.]+)\|([\d.]+)\|([\d.]+)\|([\d.]+)"`)
	itemCodeRe  = regexp.MustCompile(`code=(\d{6})`)
)

// NaverOptions parameterise the portal client.
type NaverOptions struct {
	BaseURL   string
	ChartURL  string
	Timeout   time.Duration
	UserAgent string
}

// Naver reads daily charts, ticker names and market-cap rankings from the finance portal.
type Naver struct {
	opts     NaverOptions
	logger   zerolog.Logger
	client   *http.Client
	baseURL  string
	chartURL string
}

// NewNaver constructs a portal client.
func NewNaver(opts NaverOptions, logger zerolog.Logger) *Naver {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = naverDefaultBase
	}
	chartURL := strings.TrimRight(opts.ChartURL, "/")
	if chartURL == "" {
		chartURL = naverDefaultChart
	}
	return &Naver{
		opts:     opts,
		logger:   logger.With().Str("component", "naver_client").Logger(),
		client:   &http.Client{Timeout: timeout},
		baseURL:  baseURL,
		chartURL: chartURL,
	}
}

// PriceHistory fetches daily bars and keeps those dated within [start, end].
func (n *Naver) PriceHistory(ctx context.Context, ticker string, start, end time.Time) (model.PriceHistory, error) {
	// calendar span is an upper bound on trading bars
	count := int(math.Ceil(end.Sub(start).Hours()/24)) + 1
	if count < 1 {
		count = 1
	}
	endpoint := fmt.Sprintf("%s/sise.nhn?symbol=%s&timeframe=day&count=%d&requestType=0", n.chartURL, ticker, count)

	payload, err := n.get(ctx, endpoint)
	if err != nil {
		return model.PriceHistory{}, err
	}

	from, to := truncateDay(start), truncateDay(end)
	var bars []model.PriceBar
	for _, m := range chartItemRe.FindAllStringSubmatch(string(payload), -1) {
		date, err := time.ParseInLocation(krxDateLayout, m[1], start.Location())
		if err != nil || date.Before(from) || date.After(to) {
			continue
		}
		bar := model.PriceBar{Date: date}
		bar.Open, _ = strconv.ParseFloat(m[2], 64)
		bar.High, _ = strconv.ParseFloat(m[3], 64)
		bar.Low, _ = strconv.ParseFloat(m[4], 64)
		bar.Close, _ = strconv.ParseFloat(m[5], 64)
		bar.Volume, _ = strconv.ParseFloat(m[6], 64)
		if bar.Close <= 0 {
			continue
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return model.PriceHistory{Ticker: ticker}, fmt.Errorf("ticker %s: %w", ticker, model.ErrEmptyHistory)
	}

	history, err := model.NewPriceHistory(ticker, bars)
	if err != nil {
		return model.PriceHistory{}, fmt.Errorf("%w: %v", scanerr.ErrDataUnavailable, err)
	}
	n.logger.Debug().Str("ticker", ticker).Int("bars", history.Len()).Msg("daily chart fetched")
	return history, nil
}

// TickerName scrapes the company name from the item page.
func (n *Naver) TickerName(ctx context.Context, ticker string) (string, error) {
	doc, err := n.document(ctx, fmt.Sprintf("%s/item/main.naver?code=%s", n.baseURL, ticker))
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(doc.Find("div.wrap_company h2 a").First().Text())
	if name == "" {
		return "", fmt.Errorf("%w: name not found for %s", scanerr.ErrDataUnavailable, ticker)
	}
	return name, nil
}

// RankedTicker is one row of the market-cap ranking board.
type RankedTicker struct {
	Ticker string
	Name   string
	Market string
}

// MarketCapRanking walks the ranking board of market until limit tickers are collected.
func (n *Naver) MarketCapRanking(ctx context.Context, market string, limit int) ([]RankedTicker, error) {
	sosok := "0"
	if strings.EqualFold(market, MarketKOSDAQ) {
		sosok = "1"
	}
	if limit <= 0 {
		limit = naverPageSize * naverMaxPages
	}

	var out []RankedTicker
	for page := 1; page <= naverMaxPages && len(out) < limit; page++ {
		doc, err := n.document(ctx, fmt.Sprintf("%s/sise/sise_market_sum.naver?sosok=%s&page=%d", n.baseURL, sosok, page))
		if err != nil {
			return out, err
		}

		before := len(out)
		doc.Find("table.type_2 tr").Each(func(_ int, s *goquery.Selection) {
			if len(out) >= limit {
				return
			}
			link := s.Find("td").Eq(1).Find("a")
			href, ok := link.Attr("href")
			if !ok {
				return
			}
			m := itemCodeRe.FindStringSubmatch(href)
			if len(m) < 2 {
				return
			}
			out = append(out, RankedTicker{Ticker: m[1], Name: strings.TrimSpace(link.Text()), Market: strings.ToUpper(market)})
		})
		if len(out) == before {
			break
		}
	}
	return out, nil
}

func (n *Naver) document(ctx context.Context, endpoint string) (*goquery.Document, error) {
	resp, err := n.do(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "euc-kr") {
		body = transform.NewReader(resp.Body, korean.EUCKR.NewDecoder())
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func (n *Naver) get(ctx context.Context, endpoint string) ([]byte, error) {
	resp, err := n.do(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: naver read body: %v", scanerr.ErrTransport, err)
	}
	return payload, nil
}

// do issues a GET and returns the response only for status 200.
func (n *Naver) do(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if ua := strings.TrimSpace(n.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultAgent)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: naver request: %v", scanerr.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, httpError("naver", resp.StatusCode, payload)
	}
	return resp, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

var (
	_ HistorySource = (*Naver)(nil)
	_ NameSource    = (*Naver)(nil)
)
