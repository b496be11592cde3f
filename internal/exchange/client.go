// Package exchange implements the exchange position source: a rate-limited,
// circuit-broken REST client for a futures position risk endpoint.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/driftguard/internal/domain"
)

const positionRiskPath = "/fapi/v2/positionRisk"

// Config holds exchange client configuration.
type Config struct {
	BaseURL        string
	APIKey         string
	APISecret      string
	RequestTimeout time.Duration
	RateLimitRPS   float64
	MaxRetries     int
	RetryBackoff   time.Duration
}

// Client fetches open positions over the exchange REST API. Requests pass a
// token-bucket rate limiter and a circuit breaker so a hung or rate-limiting
// exchange degrades the reconciler instead of piling up calls.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	signer     *signer
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	backoff    time.Duration
	now        func() time.Time
}

// NewClient creates an exchange client. Zero config fields get conservative
// defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://fapi.binance.com"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 5.0
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "exchange-positions",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("exchange circuit breaker state change")
		},
	})

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		signer:     newSigner(cfg.APISecret),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1),
		breaker:    breaker,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		now:        time.Now,
	}
}

// Positions fetches the exchange's open positions keyed by symbol.
// Zero-quantity entries are filtered here; a closed position is absence.
func (c *Client) Positions(ctx context.Context) (domain.Snapshot, error) {
	body, err := c.get(ctx, positionRiskPath)
	if err != nil {
		return nil, err
	}

	var rows []positionRisk
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse position risk response: %w", err)
	}

	snapshot := make(domain.Snapshot, len(rows))
	for _, row := range rows {
		pos, err := row.toPosition()
		if err != nil {
			return nil, fmt.Errorf("position %s: %w", row.Symbol, err)
		}
		snapshot.Add(pos)
	}
	return snapshot, nil
}

func (row positionRisk) toPosition() (domain.Position, error) {
	amt, err := decimal.NewFromString(row.PositionAmt)
	if err != nil {
		return domain.Position{}, fmt.Errorf("bad positionAmt %q: %w", row.PositionAmt, err)
	}
	entry, err := decimal.NewFromString(row.EntryPrice)
	if err != nil {
		return domain.Position{}, fmt.Errorf("bad entryPrice %q: %w", row.EntryPrice, err)
	}
	mark, err := decimal.NewFromString(row.MarkPrice)
	if err != nil {
		return domain.Position{}, fmt.Errorf("bad markPrice %q: %w", row.MarkPrice, err)
	}
	pnl, err := decimal.NewFromString(row.UnrealizedProfit)
	if err != nil {
		return domain.Position{}, fmt.Errorf("bad unRealizedProfit %q: %w", row.UnrealizedProfit, err)
	}
	leverage, err := decimal.NewFromString(row.Leverage)
	if err != nil {
		return domain.Position{}, fmt.Errorf("bad leverage %q: %w", row.Leverage, err)
	}

	side := domain.SideLong
	if amt.IsNegative() {
		side = domain.SideShort
	}

	pos := domain.Position{
		Symbol:        row.Symbol,
		Side:          side,
		Quantity:      amt.Abs(),
		EntryPrice:    entry,
		CurrentPrice:  mark,
		UnrealizedPnL: pnl,
		Leverage:      leverage,
	}
	if row.LiquidationPrice != "" && row.LiquidationPrice != "0" {
		liq, err := decimal.NewFromString(row.LiquidationPrice)
		if err != nil {
			return domain.Position{}, fmt.Errorf("bad liquidationPrice %q: %w", row.LiquidationPrice, err)
		}
		pos.LiquidationPrice = &liq
	}
	if row.IsolatedMargin != "" {
		margin, err := decimal.NewFromString(row.IsolatedMargin)
		if err != nil {
			return domain.Position{}, fmt.Errorf("bad isolatedMargin %q: %w", row.IsolatedMargin, err)
		}
		pos.Margin = margin
	}
	return pos, nil
}

// get issues a signed GET through the rate limiter and circuit breaker,
// retrying transient failures with exponential backoff.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	backoff := c.backoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.doRequest(ctx, path)
		})
		if err == nil {
			return result.([]byte), nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("exchange request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) doRequest(ctx context.Context, path string) ([]byte, error) {
	query := url.Values{}
	query.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	query.Set("recvWindow", "5000")
	encoded := query.Encode()
	encoded += "&signature=" + c.signer.Sign(encoded)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+encoded, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return nil, &httpError{status: resp.StatusCode, msg: apiErr.Msg}
		}
		return nil, &httpError{status: resp.StatusCode, msg: string(body)}
	}
	return body, nil
}

// httpError carries the status code so retry logic can tell transient
// failures from client errors.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("exchange API error (HTTP %d): %s", e.status, e.msg)
}

func isRetryable(err error) bool {
	var herr *httpError
	if errors.As(err, &herr) {
		return herr.status == http.StatusTooManyRequests || herr.status >= 500
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	// Network-level failures are worth retrying.
	return true
}
