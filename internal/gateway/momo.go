package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nath-hub/transaction/internal/domain"
)

// MTNMoMoConfig configures the MTN Mobile Money collection API.
type MTNMoMoConfig struct {
	BaseURL         string
	SubscriptionKey string
}

// MTNMoMo implements Gateway against the MTN MoMo API.
type MTNMoMo struct {
	cfg    MTNMoMoConfig
	client *http.Client
}

func NewMTNMoMo(cfg MTNMoMoConfig) *MTNMoMo {
	return &MTNMoMo{
		cfg:    cfg,
		client: newHTTPClient(),
	}
}

type momoInitiateResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

func (g *MTNMoMo) Initiate(ctx context.Context, amount decimal.Decimal, phone string) (*InitResult, error) {
	payload := map[string]string{
		"amount": amount.StringFixed(2),
		"phone":  phone,
	}
	var resp momoInitiateResponse
	if err := g.call(ctx, http.MethodPost, g.cfg.BaseURL+"/momo/payment/initiate", payload, &resp); err != nil {
		return nil, fmt.Errorf("momo initiate: %w", err)
	}
	return &InitResult{
		Handle:         Handle{Token: resp.TransactionID},
		Status:         momoStatus(resp.Status),
		OperatorTxID:   resp.TransactionID,
		OperatorStatus: resp.Status,
	}, nil
}

type momoStatusResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (g *MTNMoMo) CheckStatus(ctx context.Context, handle Handle) (*StatusResult, error) {
	var resp momoStatusResponse
	if err := g.call(ctx, http.MethodGet, g.cfg.BaseURL+"/momo/payment/status/"+handle.Token, nil, &resp); err != nil {
		// A transient lookup failure is reported as still pending; the
		// poller retries within its attempt budget.
		return &StatusResult{Status: domain.StatusPending}, nil
	}
	return &StatusResult{
		Status:         momoStatus(resp.Status),
		OperatorStatus: resp.Status,
		Detail:         resp.Reason,
	}, nil
}

func (g *MTNMoMo) Refund(ctx context.Context, amount decimal.Decimal, phone, name string) (*RefundResult, error) {
	payload := map[string]string{
		"amount": amount.StringFixed(2),
		"phone":  phone,
		"name":   name,
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/momo/refund", mustJSON(payload))
	if err != nil {
		return nil, fmt.Errorf("build momo refund request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", g.cfg.SubscriptionKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("momo refund: %w", err)
	}
	defer resp.Body.Close()

	raw := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&raw)

	result := &RefundResult{
		Success: resp.StatusCode == http.StatusOK,
		Raw:     raw,
	}
	if ref, ok := raw["transaction_id"].(string); ok {
		result.Reference = ref
	}
	return result, nil
}

func (g *MTNMoMo) call(ctx context.Context, method, url string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		body = mustJSON(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", g.cfg.SubscriptionKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// momoStatus maps MoMo wire statuses onto the shared transaction statuses.
func momoStatus(s string) string {
	switch strings.ToLower(s) {
	case "success", "successful":
		return domain.StatusSuccessful
	case "failed", "rejected":
		return domain.StatusFailed
	case "cancelled":
		return domain.StatusCancelled
	case "expired", "timeout":
		return domain.StatusExpired
	default:
		return domain.StatusPending
	}
}

func mustJSON(v any) io.Reader {
	encoded, err := json.Marshal(v)
	if err != nil {
		return bytes.NewReader(nil)
	}
	return bytes.NewReader(encoded)
}
