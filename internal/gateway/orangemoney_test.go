package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nath-hub/transaction/internal/domain"
)

func newOrangeTestServer(t *testing.T, tokenCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			tokenCalls.Add(1)
			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			require.Equal(t, "ck", user)
			require.Equal(t, "cs", pass)
			json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})
		case "/omcoreapis/1.0.2/mp/init":
			require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			require.Equal(t, "xat", r.Header.Get("X-AUTH-TOKEN"))
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"payToken": "PAYTOKEN123"}})
		case "/omcoreapis/1.0.2/mp/pay":
			var payload map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			require.Equal(t, "PAYTOKEN123", payload["payToken"])
			require.Equal(t, "1000", payload["amount"])
			require.Equal(t, "+237690000001", payload["subscriberMsisdn"])
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"status": "PENDING", "txnid": "OM123"}})
		case "/omcoreapis/1.0.2/mp/paymentstatus/PAYTOKEN123":
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"status": "SUCCESSFULL", "confirmtxnmessage": "ok"}})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
}

func TestOrangeInitiate(t *testing.T) {
	var tokenCalls atomic.Int32
	server := newOrangeTestServer(t, &tokenCalls)
	defer server.Close()

	gw := NewOrangeMoney(OrangeMoneyConfig{
		BaseURL:        server.URL,
		CustomerKey:    "ck",
		CustomerSecret: "cs",
		AuthToken:      "xat",
		ChannelMSISDN:  "690000000",
		PIN:            "0000",
	}, NewMemoryTokenCache())

	result, err := gw.Initiate(context.Background(), decimal.NewFromInt(1000), "+237690000001")
	require.NoError(t, err)
	require.Equal(t, "PAYTOKEN123", result.Handle.Token)
	require.Equal(t, "tok-1", result.Handle.AuthRef)
	require.Equal(t, domain.StatusPending, result.Status)
	require.Equal(t, "OM123", result.OperatorTxID)
}

func TestOrangeTokenCached(t *testing.T) {
	var tokenCalls atomic.Int32
	server := newOrangeTestServer(t, &tokenCalls)
	defer server.Close()

	gw := NewOrangeMoney(OrangeMoneyConfig{
		BaseURL:        server.URL,
		CustomerKey:    "ck",
		CustomerSecret: "cs",
		AuthToken:      "xat",
	}, NewMemoryTokenCache())

	for i := 0; i < 3; i++ {
		_, err := gw.Initiate(context.Background(), decimal.NewFromInt(1000), "+237690000001")
		require.NoError(t, err)
	}
	// The bearer token is fetched once and reused from the cache.
	require.EqualValues(t, 1, tokenCalls.Load())
}

func TestOrangeCheckStatusReusesHandleToken(t *testing.T) {
	var tokenCalls atomic.Int32
	server := newOrangeTestServer(t, &tokenCalls)
	defer server.Close()

	gw := NewOrangeMoney(OrangeMoneyConfig{
		BaseURL:     server.URL,
		CustomerKey: "ck", CustomerSecret: "cs", AuthToken: "xat",
	}, NewMemoryTokenCache())

	result, err := gw.CheckStatus(context.Background(), Handle{Token: "PAYTOKEN123", AuthRef: "tok-1"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuccessful, result.Status)
	require.Equal(t, "ok", result.Detail)
	// No token fetch: the handle already carries its bearer token.
	require.Zero(t, tokenCalls.Load())
}

func TestOrangeUnknownStatusMapsToPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"status": "INITIATED"}})
	}))
	defer server.Close()

	gw := NewOrangeMoney(OrangeMoneyConfig{BaseURL: server.URL}, NewMemoryTokenCache())

	result, err := gw.CheckStatus(context.Background(), Handle{Token: "X", AuthRef: "tok"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, result.Status)
	require.Equal(t, "INITIATED", result.OperatorStatus)
}

func TestOrangeRefund(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/refund-token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "ynote-tok", "expires_in": 300})
	})
	mux.HandleFunc("/refunds", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer ynote-tok", r.Header.Get("Authorization"))
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "500", payload["amount"])
		require.Equal(t, "+237690000001", payload["final_customer_phone"])
		require.Equal(t, "Jane Client", payload["final_customer_name"])
		json.NewEncoder(w).Encode(map[string]any{"MessageId": "RF-77", "operator_status": "SUCCESSFULL"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	gw := NewOrangeMoney(OrangeMoneyConfig{
		RefundTokenURL: server.URL + "/refund-token",
		RefundURL:      server.URL + "/refunds",
		CustomerKey:    "ck",
		CustomerSecret: "cs",
	}, NewMemoryTokenCache())

	result, err := gw.Refund(context.Background(), decimal.NewFromInt(500), "+237690000001", "Jane Client")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "RF-77", result.Reference)
	require.Equal(t, "SUCCESSFULL", result.OperatorStatus)
}

func TestOrangeRefundRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/refund-token", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "ynote-tok", "expires_in": 300})
	})
	mux.HandleFunc("/refunds", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{"message": "invalid beneficiary"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	gw := NewOrangeMoney(OrangeMoneyConfig{
		RefundTokenURL: server.URL + "/refund-token",
		RefundURL:      server.URL + "/refunds",
	}, NewMemoryTokenCache())

	result, err := gw.Refund(context.Background(), decimal.NewFromInt(500), "+237690000001", "Jane Client")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "invalid beneficiary", result.Raw["message"])
}

func TestMemoryTokenCacheExpiry(t *testing.T) {
	cache := NewMemoryTokenCache()
	now := time.Now()
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Set(context.Background(), "k", "v", time.Minute))

	got, err := cache.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, "v", got)

	now = now.Add(2 * time.Minute)
	_, err = cache.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrTokenMiss)
}
