package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nath-hub/transaction/internal/domain"
)

// tokenExpiryMargin refreshes bearer tokens this long before they expire.
const tokenExpiryMargin = 60 * time.Second

const orangeTokenCacheKey = "gateway:orange:token"

// OrangeMoneyConfig carries the merchant credentials and endpoints for the
// Orange Money core API and the separate refund API.
type OrangeMoneyConfig struct {
	BaseURL        string // core API, token + init/pay/paymentstatus
	RefundTokenURL string
	RefundURL      string
	CustomerKey    string
	CustomerSecret string
	AuthToken      string // X-AUTH-TOKEN merchant header
	ChannelMSISDN  string
	PIN            string
	NotifURL       string
}

// OrangeMoney implements Gateway against the Orange Money merchant-payment
// API: token, two-step init/pay initiation and paymentstatus polling.
type OrangeMoney struct {
	cfg    OrangeMoneyConfig
	client *http.Client
	tokens TokenCache
}

func NewOrangeMoney(cfg OrangeMoneyConfig, tokens TokenCache) *OrangeMoney {
	return &OrangeMoney{
		cfg:    cfg,
		client: newHTTPClient(),
		tokens: tokens,
	}
}

type orangeTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// token returns a cached bearer token, fetching a fresh one when the cache
// is empty. Tokens are cached for their lifetime minus the expiry margin.
func (g *OrangeMoney) token(ctx context.Context) (string, error) {
	if cached, err := g.tokens.Get(ctx, orangeTokenCacheKey); err == nil {
		return cached, nil
	} else if !errors.Is(err, ErrTokenMiss) {
		zap.L().Warn("orange token cache read failed", zap.Error(err))
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(g.cfg.CustomerKey, g.cfg.CustomerSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch orange token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("orange token endpoint returned %d: %s", resp.StatusCode, body)
	}

	var tok orangeTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode orange token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("orange token response missing access_token")
	}

	ttl := time.Duration(tok.ExpiresIn)*time.Second - tokenExpiryMargin
	if ttl > 0 {
		if err := g.tokens.Set(ctx, orangeTokenCacheKey, tok.AccessToken, ttl); err != nil {
			zap.L().Warn("orange token cache write failed", zap.Error(err))
		}
	}
	return tok.AccessToken, nil
}

type orangeInitResponse struct {
	Data struct {
		PayToken string `json:"payToken"`
	} `json:"data"`
}

type orangePayResponse struct {
	Data struct {
		Status string `json:"status"`
		TxnID  string `json:"txnid"`
	} `json:"data"`
}

// Initiate runs the init/pay sequence and returns the payToken handle used
// for later status polls.
func (g *OrangeMoney) Initiate(ctx context.Context, amount decimal.Decimal, phone string) (*InitResult, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}

	var initResp orangeInitResponse
	if err := g.call(ctx, http.MethodPost, g.cfg.BaseURL+"/omcoreapis/1.0.2/mp/init", token, nil, &initResp); err != nil {
		return nil, fmt.Errorf("orange init: %w", err)
	}
	if initResp.Data.PayToken == "" {
		return nil, errors.New("orange init response missing payToken")
	}

	payload := map[string]string{
		"notifUrl":          g.cfg.NotifURL,
		"channelUserMsisdn": g.cfg.ChannelMSISDN,
		"amount":            amount.StringFixed(0),
		"subscriberMsisdn":  phone,
		"pin":               g.cfg.PIN,
		"orderId":           initResp.Data.PayToken[:min(len(initResp.Data.PayToken), 20)],
		"description":       "Paiement",
		"payToken":          initResp.Data.PayToken,
	}
	var payResp orangePayResponse
	if err := g.call(ctx, http.MethodPost, g.cfg.BaseURL+"/omcoreapis/1.0.2/mp/pay", token, payload, &payResp); err != nil {
		return nil, fmt.Errorf("orange pay: %w", err)
	}

	return &InitResult{
		Handle:         Handle{Token: initResp.Data.PayToken, AuthRef: token},
		Status:         domain.StatusPending,
		OperatorTxID:   payResp.Data.TxnID,
		OperatorStatus: payResp.Data.Status,
	}, nil
}

type orangeStatusResponse struct {
	Data struct {
		Status            string `json:"status"`
		ConfirmTxnMessage string `json:"confirmtxnmessage"`
	} `json:"data"`
}

// CheckStatus polls the paymentstatus endpoint for the handle's payToken.
func (g *OrangeMoney) CheckStatus(ctx context.Context, handle Handle) (*StatusResult, error) {
	token := handle.AuthRef
	if token == "" {
		var err error
		if token, err = g.token(ctx); err != nil {
			return nil, err
		}
	}

	var statusResp orangeStatusResponse
	url := g.cfg.BaseURL + "/omcoreapis/1.0.2/mp/paymentstatus/" + handle.Token
	if err := g.call(ctx, http.MethodGet, url, token, nil, &statusResp); err != nil {
		return nil, fmt.Errorf("orange paymentstatus: %w", err)
	}

	status := strings.ToUpper(statusResp.Data.Status)
	switch status {
	case domain.StatusSuccessful, domain.StatusFailed, domain.StatusCancelled, domain.StatusExpired, domain.StatusPending:
	default:
		status = domain.StatusPending
	}
	return &StatusResult{
		Status:         status,
		OperatorStatus: statusResp.Data.Status,
		Detail:         statusResp.Data.ConfirmTxnMessage,
	}, nil
}

// Refund pushes money back to the customer's phone through the ynote refund
// API, which uses its own token endpoint.
func (g *OrangeMoney) Refund(ctx context.Context, amount decimal.Decimal, phone, name string) (*RefundResult, error) {
	token, err := g.refundToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]string{
		"customerkey":                  g.cfg.CustomerKey,
		"customersecret":               g.cfg.CustomerSecret,
		"channelUserMsisdn":            g.cfg.ChannelMSISDN,
		"pin":                          g.cfg.PIN,
		"webhook":                      g.cfg.NotifURL,
		"amount":                       amount.StringFixed(0),
		"final_customer_phone":         phone,
		"final_customer_name":          name,
		"refund_method":                "OrangeMoney",
		"fees_included":                "Yes",
		"final_customer_name_accuracy": "10",
		"maximum_retries":              "9",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode refund payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.RefundURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build refund request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("orange refund: %w", err)
	}
	defer resp.Body.Close()

	raw := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode refund response: %w", err)
	}

	result := &RefundResult{
		Success: resp.StatusCode == http.StatusOK,
		Raw:     raw,
	}
	if ref, ok := raw["MessageId"].(string); ok {
		result.Reference = ref
	}
	if status, ok := raw["operator_status"].(string); ok {
		result.OperatorStatus = status
	}
	if !result.Success {
		zap.L().Warn("orange refund rejected",
			zap.Int("status_code", resp.StatusCode),
			zap.Any("response", raw),
		)
	}
	return result, nil
}

func (g *OrangeMoney) refundToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.RefundTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build refund token request: %w", err)
	}
	req.SetBasicAuth(g.cfg.CustomerKey, g.cfg.CustomerSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch refund token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("refund token endpoint returned %d", resp.StatusCode)
	}
	var tok orangeTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode refund token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("refund token response missing access_token")
	}
	return tok.AccessToken, nil
}

// call performs an authenticated JSON request against the core API.
func (g *OrangeMoney) call(ctx context.Context, method, url, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-AUTH-TOKEN", g.cfg.AuthToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

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
