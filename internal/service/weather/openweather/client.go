package openweather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/weatherapi/internal/logger"
)

const (
	DefaultBaseURL = "https://api.openweathermap.org"
	DefaultTimeout = 5 * time.Second

	weatherPath = "/data/2.5/weather"

	// Provider answers are small, anything bigger is not a weather
	maxResponseSize = 1 << 20
)

const (
	CodeNotFound     = "not-found"
	CodeUnauthorized = "unauthorized"
	CodeThrottled    = "throttled"
	CodeUnknown      = "unknown"
)

var ErrInvalidResponse = errors.New("response is not a json document")

type ProviderError struct {
	Code       string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("code: %s, status_code: %d, error: %v", e.Code, e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func NewProviderError(code string, statusCode int, err error) *ProviderError {
	return &ProviderError{
		Code:       code,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Location to fetch weather for
// Either City or both coordinates have to be set
type Request struct {
	City  string
	Lat   decimal.NullDecimal
	Lon   decimal.NullDecimal
	Units string
}

type Config struct {
	BaseURL string
	APIKey  string

	// Timeout for a single request, DefaultTimeout if zero
	Timeout time.Duration
}

type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration

	client *http.Client
	logger logger.Logger
}

func NewClient(cfg Config, l logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		client:  &http.Client{},
		logger:  l,
	}
}

// Fetch current weather
// The provider answer is returned as is, its structure is not interpreted
func (c *Client) Fetch(ctx context.Context, r Request) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+weatherPath+"?"+c.query(r).Encode(), nil)
	if err != nil {
		return nil, NewProviderError(CodeUnknown, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewProviderError(CodeUnknown, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		return c.processSuccess(resp)
	case http.StatusNotFound:
		return nil, NewProviderError(CodeNotFound, resp.StatusCode, fmt.Errorf("location not found"))
	case http.StatusUnauthorized:
		c.logger.Error("Weather provider rejected api key")
		return nil, NewProviderError(CodeUnauthorized, resp.StatusCode, fmt.Errorf("api key rejected"))
	case http.StatusTooManyRequests:
		c.logger.Warn("Weather provider throttled")
		return nil, NewProviderError(CodeThrottled, resp.StatusCode, fmt.Errorf("too many requests"))
	default:
		c.logger.Warn("Failed to get weather", "status_code", resp.StatusCode)
		return nil, NewProviderError(CodeUnknown, resp.StatusCode, fmt.Errorf("unknown status code %d", resp.StatusCode))
	}
}

func (c *Client) query(r Request) url.Values {
	q := url.Values{}
	if r.City != "" {
		q.Set("q", r.City)
	} else {
		q.Set("lat", r.Lat.Decimal.String())
		q.Set("lon", r.Lon.Decimal.String())
	}
	if r.Units != "" {
		q.Set("units", r.Units)
	}
	q.Set("appid", c.apiKey)
	return q
}

func (c *Client) processSuccess(resp *http.Response) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, NewProviderError(CodeUnknown, resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}

	if !json.Valid(body) {
		c.logger.Warn("Weather provider returned not a json", "size", len(body))
		return nil, NewProviderError(CodeUnknown, resp.StatusCode, ErrInvalidResponse)
	}

	c.logger.Debug("Weather response", "size", len(body))
	return json.RawMessage(body), nil
}
