package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stage2-screener/internal/model"
	"stage2-screener/internal/scanerr"
)

// Notification carries one buy signal, or a free-form Text when Result is empty.
type Notification struct {
	ScanDate time.Time
	Result   model.ScreenResult
	// StopRatio is the fraction of the pivot suggested as stop level.
	StopRatio float64
	Text      string
}

// Notifier delivers notifications to an external channel.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    Render(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: send telegram request: %v", scanerr.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: telegram status %d", scanerr.ErrTransport, resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("%w: telegram returned ok=false: %s", scanerr.ErrTransport, result.Description)
		}
	}

	n.logger.Info().
		Str("ticker", note.Result.Ticker).
		Str("status", string(note.Result.Status)).
		Msg("alert delivered (telegram)")
	return nil
}

// Retrying re-sends through next with exponential backoff.
type Retrying struct {
	next    Notifier
	retries int
	backoff time.Duration
	logger  zerolog.Logger
}

// NewRetrying wraps next. backoff is the first wait, doubled on each retry.
func NewRetrying(next Notifier, retries int, backoff time.Duration, logger zerolog.Logger) *Retrying {
	if retries < 0 {
		retries = 0
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Retrying{next: next, retries: retries, backoff: backoff, logger: logger.With().Str("component", "alert_retry").Logger()}
}

func (r *Retrying) Notify(ctx context.Context, note Notification) error {
	var lastErr error
	for i := 0; i <= r.retries; i++ {
		err := r.next.Notify(ctx, note)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == r.retries {
			break
		}

		wait := r.backoff * time.Duration(1<<uint(i))
		r.logger.Warn().Err(err).
			Int("attempt", i+1).
			Int("max_attempts", r.retries+1).
			Dur("retry_in", wait).
			Msg("notification failed; retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("all %d attempts exhausted: %w", r.retries+1, lastErr)
}

// LogNotifier writes notifications to the log only.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier returns a notifier for dry runs.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (l *LogNotifier) Notify(_ context.Context, note Notification) error {
	l.logger.Info().Str("ticker", note.Result.Ticker).Msg(Render(note))
	return nil
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*Retrying)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
