// Package quote fetches point-in-time stock quotes from the market-data source.
package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "stockwatch/internal/errors"
	"stockwatch/internal/logging"
	"stockwatch/internal/models"
	"stockwatch/pkg/utils"
)

// DefaultUserAgent is sent with every quote request; the source rejects bare clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

const maxBodyBytes = 1 << 20

// Fetcher is implemented by Client and by test fakes.
type Fetcher interface {
	FetchQuote(ctx context.Context, endpoint, tickerID string) (models.Quote, error)
}

// Options configures a Client.
type Options struct {
	Timeout    time.Duration
	UserAgent  string
	RatePerSec float64 // 0 disables limiting
	Burst      int
}

// Client performs single-shot quote requests. It does not retry.
type Client struct {
	http      *http.Client
	userAgent string
	limiter   *RateLimiter
	logger    zerolog.Logger
}

// NewClient creates a quote client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	c := &Client{
		http:      &http.Client{Timeout: opts.Timeout},
		userAgent: opts.UserAgent,
		logger:    logging.WithOperation(logger, "quote"),
	}
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = int(opts.RatePerSec)
			if burst < 1 {
				burst = 1
			}
		}
		c.limiter = NewRateLimiter(opts.RatePerSec, burst)
	}
	return c
}

// FetchQuote requests endpoint and parses the quote. tickerID is used only for
// error attribution. Non-2xx responses and unparsable bodies are errors.
func (c *Client) FetchQuote(ctx context.Context, endpoint, tickerID string) (models.Quote, error) {
	if endpoint == "" {
		return models.Quote{}, apperrors.NewFetchError(tickerID, 0, "no quote endpoint configured", apperrors.ErrMalformedQuote)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return models.Quote{}, apperrors.NewFetchError(tickerID, 0, "rate limiter", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.Quote{}, apperrors.NewFetchError(tickerID, 0, "building request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	logging.LogAPICall(logging.WithTicker(c.logger, tickerID), http.MethodGet, endpoint, time.Since(start), err)
	if err != nil {
		return models.Quote{}, apperrors.NewFetchError(tickerID, 0, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.Quote{}, apperrors.NewFetchError(tickerID, resp.StatusCode, "reading body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Quote{}, apperrors.NewFetchError(tickerID, resp.StatusCode, "unexpected status", nil)
	}

	q, err := ParseQuote(body)
	if err != nil {
		return models.Quote{}, apperrors.NewFetchError(tickerID, resp.StatusCode, "parsing quote", err)
	}
	if q.TickerID == "" {
		q.TickerID = tickerID
	}
	return q, nil
}

// payload mirrors the source's basic-quote response.
type payload struct {
	ItemCode          *string `json:"itemCode"`
	StockName         *string `json:"stockName"`
	ClosePrice        *string `json:"closePrice"`
	FluctuationsRatio *string `json:"fluctuationsRatio"`
	MarketStatus      *string `json:"marketStatus"`
	LocalTradedAt     *string `json:"localTradedAt"`
	StockEndType      string  `json:"stockEndType"`
}

// ParseQuote decodes a quote body. Missing or unparsable price, rate or
// timestamp fields are errors wrapping ErrMalformedQuote.
func ParseQuote(body []byte) (models.Quote, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return models.Quote{}, fmt.Errorf("%w: %v", apperrors.ErrMalformedQuote, err)
	}

	if p.ClosePrice == nil {
		return models.Quote{}, fmt.Errorf("%w: closePrice missing", apperrors.ErrMalformedQuote)
	}
	if p.FluctuationsRatio == nil {
		return models.Quote{}, fmt.Errorf("%w: fluctuationsRatio missing", apperrors.ErrMalformedQuote)
	}
	if p.LocalTradedAt == nil {
		return models.Quote{}, fmt.Errorf("%w: localTradedAt missing", apperrors.ErrMalformedQuote)
	}

	price, err := utils.ParseLocaleDecimal(*p.ClosePrice)
	if err != nil {
		return models.Quote{}, fmt.Errorf("%w: closePrice: %v", apperrors.ErrMalformedQuote, err)
	}
	rate, err := utils.ParseLocaleDecimal(*p.FluctuationsRatio)
	if err != nil {
		return models.Quote{}, fmt.Errorf("%w: fluctuationsRatio: %v", apperrors.ErrMalformedQuote, err)
	}
	tradedAt, err := parseTradedAt(*p.LocalTradedAt)
	if err != nil {
		return models.Quote{}, fmt.Errorf("%w: localTradedAt: %v", apperrors.ErrMalformedQuote, err)
	}

	q := models.Quote{
		ClosePrice:      price,
		DailyChangeRate: rate,
		MarketStatus:    models.MarketClosed,
		TradedAt:        tradedAt,
	}
	if p.ItemCode != nil {
		q.TickerID = strings.TrimSpace(*p.ItemCode)
	}
	if p.StockName != nil {
		q.Name = strings.TrimSpace(*p.StockName)
	}
	if p.MarketStatus != nil {
		q.MarketStatus = models.ParseMarketStatus(*p.MarketStatus)
	}
	return q, nil
}

var kst = time.FixedZone("KST", 9*60*60)

// Timestamps without an offset are exchange-local (KST).
func parseTradedAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", s, kst)
}

// IsRetryable reports whether another attempt within the same run could help.
// Malformed payloads and 4xx responses other than 429 will not change.
func IsRetryable(err error) bool {
	if err == nil || apperrors.Is(err, apperrors.ErrMalformedQuote) {
		return false
	}
	if apperrors.Is(err, context.Canceled) {
		return false
	}
	var fe *apperrors.FetchError
	if apperrors.As(err, &fe) && fe.StatusCode >= 400 && fe.StatusCode < 500 {
		return fe.StatusCode == http.StatusTooManyRequests
	}
	return true
}
