// Package upstream talks to the remote trading backend and other quote
// sources.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"spread-monitor/internal/errors"
	"spread-monitor/internal/logging"
	"spread-monitor/internal/models"
)

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

// ClientConfig holds trading backend endpoints and limits.
type ClientConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	ChainPath      string        `mapstructure:"chain_path"`
	StrategiesPath string        `mapstructure:"strategies_path"`
	OrdersPath     string        `mapstructure:"orders_path"`
	ExitFillPath   string        `mapstructure:"exit_fill_path"`
	Token          string        `mapstructure:"token"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RatePerSec     float64       `mapstructure:"rate_per_sec"`
	Burst          int           `mapstructure:"burst"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

// DefaultClientConfig returns the default backend settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:        "http://localhost:8080",
		ChainPath:      "/api/optionchain",
		StrategiesPath: "/api/strategies",
		OrdersPath:     "/api/strategies/{id}/orders",
		ExitFillPath:   "/api/orderdetails/{key}/exit",
		Timeout:        5 * time.Second,
		RatePerSec:     20,
		Burst:          10,
		Breaker: BreakerConfig{
			MaxRequests:  1,
			Interval:     time.Minute,
			Timeout:      10 * time.Second,
			FailureRatio: 0.6,
			MinRequests:  5,
		},
	}
}

// Client is the trading backend HTTP client with rate limiting and a
// circuit breaker.
type Client struct {
	http    *http.Client
	cfg     ClientConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewClient creates a backend client.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	logger = logging.WithComponent(logger, "upstream")
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	settings := gobreaker.Settings{
		Name:        "TradingBackend",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < cfg.Breaker.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.Breaker.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errors.ErrExitFillNotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	}

	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

func (c *Client) endpoint(path string, params map[string]string) string {
	for k, v := range params {
		path = strings.ReplaceAll(path, "{"+k+"}", url.PathEscape(v))
	}
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

// getJSON performs a rate-limited GET through the breaker and decodes the
// body with numbers preserved.
func (c *Client) getJSON(ctx context.Context, name, endpoint string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.NewFetchError(name, 0, err)
	}

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, errors.NewFetchError(name, 0, err)
		}
		req.Header.Set("Accept", "application/json")
		if c.cfg.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, errors.NewFetchError(name, 0, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound && name == "exit_fill" {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, errors.ErrExitFillNotFound
		}
		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, errors.NewFetchError(name, resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(body))))
		}

		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return nil, errors.NewFetchError(name, resp.StatusCode, errors.Wrap(err, "decoding response"))
		}
		return nil, nil
	})
	logging.LogAPICall(c.logger, http.MethodGet, endpoint, time.Since(start), err)

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return errors.NewFetchError(name, 0, errors.Wrap(errors.ErrUpstreamUnavailable, err.Error()))
	}
	return err
}

// FetchChain fetches the full option-chain snapshot. Envelopes that cannot be
// matched are dropped with a warning.
func (c *Client) FetchChain(ctx context.Context) ([]models.Quote, error) {
	var envelopes []quoteEnvelope
	if err := c.getJSON(ctx, "option_chain", c.endpoint(c.cfg.ChainPath, nil), &envelopes); err != nil {
		return nil, err
	}

	quotes := make([]models.Quote, 0, len(envelopes))
	dropped := 0
	for _, e := range envelopes {
		q, err := e.toQuote()
		if err != nil {
			dropped++
			continue
		}
		quotes = append(quotes, q)
	}
	if dropped > 0 {
		c.logger.Warn().Int("dropped", dropped).Int("kept", len(quotes)).Msg("Dropped malformed quote envelopes")
	}
	return quotes, nil
}

// FetchStrategies fetches the deployed strategy list.
func (c *Client) FetchStrategies(ctx context.Context) ([]models.StrategySpec, error) {
	var envelopes []strategyEnvelope
	if err := c.getJSON(ctx, "strategies", c.endpoint(c.cfg.StrategiesPath, nil), &envelopes); err != nil {
		return nil, err
	}
	specs := make([]models.StrategySpec, 0, len(envelopes))
	for _, e := range envelopes {
		spec := e.toSpec()
		if spec.ID == "" {
			continue
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// FetchOrders fetches the live order details of one strategy.
func (c *Client) FetchOrders(ctx context.Context, strategyID string) ([]models.OrderRecord, error) {
	var records []Record
	endpoint := c.endpoint(c.cfg.OrdersPath, map[string]string{"id": strategyID})
	if err := c.getJSON(ctx, "orders", endpoint, &records); err != nil {
		return nil, err
	}
	orders := make([]models.OrderRecord, 0, len(records))
	for _, r := range records {
		orders = append(orders, DecodeOrder(r, strategyID))
	}
	return orders, nil
}

// FetchExitFill fetches the closing fill recorded under key. A missing fill
// returns false with a nil error.
func (c *Client) FetchExitFill(ctx context.Context, key string) (models.ExitFill, bool, error) {
	var raw json.RawMessage
	endpoint := c.endpoint(c.cfg.ExitFillPath, map[string]string{"key": key})
	if err := c.getJSON(ctx, "exit_fill", endpoint, &raw); err != nil {
		if errors.Is(err, errors.ErrExitFillNotFound) {
			return models.ExitFill{}, false, nil
		}
		return models.ExitFill{}, false, err
	}

	record, ok := firstRecord(raw)
	if !ok {
		return models.ExitFill{}, false, nil
	}
	fill, ok := DecodeExitFill(record, key)
	return fill, ok, nil
}

// firstRecord accepts either a single object or an array of objects, where an
// empty array or null means not found.
func firstRecord(raw json.RawMessage) (Record, bool) {
	dec := func(target any) error {
		d := json.NewDecoder(strings.NewReader(string(raw)))
		d.UseNumber()
		return d.Decode(target)
	}
	var obj Record
	if err := dec(&obj); err == nil && obj != nil {
		return obj, true
	}
	var list []Record
	if err := dec(&list); err == nil && len(list) > 0 {
		return list[0], true
	}
	return nil, false
}
