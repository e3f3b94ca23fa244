package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nath-hub/transaction/internal/domain"
	"github.com/nath-hub/transaction/internal/models"
)

const (
	defaultMaxRetries  = 3
	defaultBackoffBase = time.Second
	serviceName        = "transaction-service"
)

// Client calls the identity service for country and operator reference
// data. Failed calls are retried with exponential backoff except for client
// errors that a retry can never fix.
type Client struct {
	baseURL      string
	serviceToken string
	client       *http.Client
	maxRetries   int
	backoffBase  time.Duration
	sleep        func(time.Duration)
}

type Config struct {
	BaseURL      string
	ServiceToken string
}

func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:      cfg.BaseURL,
		serviceToken: cfg.ServiceToken,
		client:       &http.Client{Timeout: 10 * time.Second},
		maxRetries:   defaultMaxRetries,
		backoffBase:  defaultBackoffBase,
		sleep:        time.Sleep,
	}
}

// WithHTTPClient overrides the HTTP client, for tests.
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.client = client
	return c
}

// WithBackoff overrides retry pacing, for tests.
func (c *Client) WithBackoff(base time.Duration, sleep func(time.Duration)) *Client {
	c.backoffBase = base
	c.sleep = sleep
	return c
}

type countryPayload struct {
	ID         uuid.UUID `json:"id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Currency   string    `json:"currency_code"`
	Authorized bool      `json:"is_authorized"`
}

type operatorPayload struct {
	ID        uuid.UUID `json:"id"`
	CountryID uuid.UUID `json:"country_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Active    bool      `json:"is_active"`
}

// CountryByCode resolves a country by ISO code. A nil country with nil
// error means the country is unknown or not authorized.
func (c *Client) CountryByCode(ctx context.Context, code string) (*models.Country, error) {
	var payload countryPayload
	found, err := c.get(ctx, fmt.Sprintf("%s/api/countries/code/%s", c.baseURL, code), &payload)
	if err != nil {
		return nil, fmt.Errorf("lookup country %s: %w", code, err)
	}
	if !found || !payload.Authorized {
		return nil, nil
	}
	return &models.Country{
		ID:           payload.ID,
		Code:         payload.Code,
		Name:         payload.Name,
		CurrencyCode: payload.Currency,
		Authorized:   payload.Authorized,
	}, nil
}

// OperatorByCode resolves an operator by its code. A nil operator with nil
// error means no such operator exists.
func (c *Client) OperatorByCode(ctx context.Context, code string) (*models.Operator, error) {
	var payload operatorPayload
	found, err := c.get(ctx, fmt.Sprintf("%s/api/operators/code/%s", c.baseURL, code), &payload)
	if err != nil {
		return nil, fmt.Errorf("lookup operator %s: %w", code, err)
	}
	if !found {
		return nil, nil
	}
	return operatorFromPayload(payload), nil
}

// OperatorByID resolves an operator by id.
func (c *Client) OperatorByID(ctx context.Context, id uuid.UUID) (*models.Operator, error) {
	var payload operatorPayload
	found, err := c.get(ctx, fmt.Sprintf("%s/api/operators/%s", c.baseURL, id), &payload)
	if err != nil {
		return nil, fmt.Errorf("lookup operator %s: %w", id, err)
	}
	if !found {
		return nil, fmt.Errorf("operator %s not found", id)
	}
	return operatorFromPayload(payload), nil
}

func operatorFromPayload(p operatorPayload) *models.Operator {
	return &models.Operator{
		ID:        p.ID,
		CountryID: p.CountryID,
		Code:      p.Code,
		Name:      p.Name,
		Active:    p.Active,
	}
}

// get performs a GET with retries, decoding the response's "data" envelope
// into out. It returns false without error on 404.
func (c *Client) get(ctx context.Context, url string, out any) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		status, body, err := c.do(ctx, url)
		if err == nil {
			switch {
			case status == http.StatusOK:
				var envelope struct {
					Data json.RawMessage `json:"data"`
				}
				if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Data) == 0 {
					// No envelope; the body is the object itself.
					if err := json.Unmarshal(body, out); err != nil {
						return false, fmt.Errorf("decode response: %w", err)
					}
					return true, nil
				}
				if err := json.Unmarshal(envelope.Data, out); err != nil {
					return false, fmt.Errorf("decode response: %w", err)
				}
				return true, nil
			case status == http.StatusNotFound:
				return false, nil
			case nonRetryable(status):
				return false, fmt.Errorf("identity service returned %d", status)
			default:
				lastErr = fmt.Errorf("identity service returned %d", status)
			}
		} else {
			lastErr = err
		}

		if attempt < c.maxRetries {
			backoff := c.backoffBase * time.Duration(1<<attempt)
			zap.L().Warn("identity service call failed, retrying",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			default:
			}
			c.sleep(backoff)
		}
	}
	return false, fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, lastErr)
}

// nonRetryable reports client errors that will fail identically on retry.
func nonRetryable(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

func (c *Client) do(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("X-Service-Name", serviceName)
	if c.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
