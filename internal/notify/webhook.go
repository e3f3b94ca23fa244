package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nath-hub/transaction/internal/service"
)

const (
	maxAttempts    = 3
	retryDelay     = time.Second
	requestTimeout = 30 * time.Second
	maxBodyCapture = 2048
)

// WebhookSender posts terminal transaction notifications to client callback
// URLs. A delivery is retried up to three times with a short pause; only a
// 2xx response counts as delivered.
type WebhookSender struct {
	client *http.Client
	sleep  func(time.Duration)
}

func NewWebhookSender() *WebhookSender {
	return &WebhookSender{
		client: &http.Client{Timeout: requestTimeout},
		sleep:  time.Sleep,
	}
}

// WithClient overrides the HTTP client, for tests.
func (s *WebhookSender) WithClient(client *http.Client) *WebhookSender {
	s.client = client
	return s
}

// WithSleep overrides the inter-attempt pause, for tests.
func (s *WebhookSender) WithSleep(sleep func(time.Duration)) *WebhookSender {
	s.sleep = sleep
	return s
}

type webhookPayload struct {
	TransactionID string            `json:"transaction_id"`
	Status        string            `json:"status"`
	Amount        string            `json:"amount"`
	Operator      string            `json:"operator"`
	PhoneNumber   string            `json:"phone_number"`
	Timestamp     string            `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Send delivers the notification, reporting the attempts made and the last
// response or error observed. It never returns an error; delivery failure is
// recorded in the result so callers can persist it.
func (s *WebhookSender) Send(ctx context.Context, n service.WebhookNotification) service.WebhookDelivery {
	body, err := json.Marshal(webhookPayload{
		TransactionID: n.TransactionID.String(),
		Status:        n.Status,
		Amount:        n.Amount.String(),
		Operator:      n.Operator,
		PhoneNumber:   n.PhoneNumber,
		Timestamp:     n.Timestamp.UTC().Format(time.RFC3339),
		Metadata:      n.Metadata,
	})
	if err != nil {
		resp := fmt.Sprintf("marshal payload: %v", err)
		return service.WebhookDelivery{Delivered: false, Attempts: 0, Response: resp}
	}

	var lastResponse string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, respBody, err := s.post(ctx, n.URL, body)
		if err != nil {
			lastResponse = err.Error()
		} else {
			lastResponse = fmt.Sprintf("HTTP %d: %s", status, respBody)
			if status >= 200 && status < 300 {
				zap.L().Info("webhook delivered",
					zap.String("transaction_id", n.TransactionID.String()),
					zap.String("url", n.URL),
					zap.Int("attempt", attempt),
				)
				return service.WebhookDelivery{Delivered: true, Attempts: attempt, Response: lastResponse}
			}
		}

		zap.L().Warn("webhook attempt failed",
			zap.String("transaction_id", n.TransactionID.String()),
			zap.String("url", n.URL),
			zap.Int("attempt", attempt),
			zap.String("response", lastResponse),
		)
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return service.WebhookDelivery{Delivered: false, Attempts: attempt, Response: ctx.Err().Error()}
			default:
			}
			s.sleep(retryDelay)
		}
	}

	return service.WebhookDelivery{Delivered: false, Attempts: maxAttempts, Response: lastResponse}
}

func (s *WebhookSender) post(ctx context.Context, url string, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyCapture))
	return resp.StatusCode, string(respBody), nil
}
