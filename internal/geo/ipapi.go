package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const ipapiBaseURL = "https://ipapi.co"

// IPAPIProvider looks addresses up against ipapi.co.
type IPAPIProvider struct {
	baseURL string
	client  *http.Client
}

func NewIPAPIProvider() *IPAPIProvider {
	return &IPAPIProvider{
		baseURL: ipapiBaseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// WithBaseURL points the provider at a different endpoint, for tests.
func (p *IPAPIProvider) WithBaseURL(baseURL string) *IPAPIProvider {
	p.baseURL = baseURL
	return p
}

func (p *IPAPIProvider) Lookup(ctx context.Context, ip string) (string, error) {
	url := fmt.Sprintf("%s/%s/json/", p.baseURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ipapi returned %d", resp.StatusCode)
	}

	var payload struct {
		CountryCode string `json:"country_code"`
		Error       bool   `json:"error"`
		Reason      string `json:"reason"`
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if payload.Error {
		return "", fmt.Errorf("ipapi error: %s", payload.Reason)
	}
	if payload.CountryCode == "" {
		return "", ErrNotLocated
	}
	return payload.CountryCode, nil
}
