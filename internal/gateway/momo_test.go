package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nath-hub/transaction/internal/domain"
)

func TestMomoInitiate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/momo/payment/initiate", r.URL.Path)
		require.Equal(t, "sub-key", r.Header.Get("Ocp-Apim-Subscription-Key"))

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "2500.75", payload["amount"])
		require.Equal(t, "+237670000001", payload["phone"])

		json.NewEncoder(w).Encode(map[string]string{"transaction_id": "MOMO-42", "status": "pending"})
	}))
	defer server.Close()

	gw := NewMTNMoMo(MTNMoMoConfig{BaseURL: server.URL, SubscriptionKey: "sub-key"})

	result, err := gw.Initiate(context.Background(), decimal.RequireFromString("2500.75"), "+237670000001")
	require.NoError(t, err)
	require.Equal(t, "MOMO-42", result.Handle.Token)
	require.Equal(t, "MOMO-42", result.OperatorTxID)
	require.Equal(t, domain.StatusPending, result.Status)
}

func TestMomoCheckStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/momo/payment/status/MOMO-42", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"status": "failed", "reason": "payer rejected"})
	}))
	defer server.Close()

	gw := NewMTNMoMo(MTNMoMoConfig{BaseURL: server.URL})

	result, err := gw.CheckStatus(context.Background(), Handle{Token: "MOMO-42"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, result.Status)
	require.Equal(t, "failed", result.OperatorStatus)
	require.Equal(t, "payer rejected", result.Detail)
}

func TestMomoCheckStatusTransientFailureStaysPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	gw := NewMTNMoMo(MTNMoMoConfig{BaseURL: server.URL})

	result, err := gw.CheckStatus(context.Background(), Handle{Token: "MOMO-42"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, result.Status)
}

func TestMomoStatusMapping(t *testing.T) {
	cases := map[string]string{
		"success":    domain.StatusSuccessful,
		"SUCCESSFUL": domain.StatusSuccessful,
		"failed":     domain.StatusFailed,
		"rejected":   domain.StatusFailed,
		"cancelled":  domain.StatusCancelled,
		"expired":    domain.StatusExpired,
		"timeout":    domain.StatusExpired,
		"pending":    domain.StatusPending,
		"whatever":   domain.StatusPending,
		"":           domain.StatusPending,
	}
	for wire, want := range cases {
		require.Equal(t, want, momoStatus(wire), "wire status %q", wire)
	}
}

func TestMomoRefund(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/momo/refund", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"transaction_id": "MOMO-RF-1"})
	}))
	defer server.Close()

	gw := NewMTNMoMo(MTNMoMoConfig{BaseURL: server.URL, SubscriptionKey: "sub-key"})

	result, err := gw.Refund(context.Background(), decimal.NewFromInt(500), "+237670000001", "Jane Client")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "MOMO-RF-1", result.Reference)
}
