package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nath-hub/transaction/internal/domain"
)

func noSleep(time.Duration) {}

func newTestClient(url string) *Client {
	return NewClient(Config{BaseURL: url, ServiceToken: "svc-token"}).
		WithBackoff(time.Millisecond, noSleep)
}

func TestCountryByCode(t *testing.T) {
	countryID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/countries/code/CM", r.URL.Path)
		require.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		require.NotEmpty(t, r.Header.Get("X-Request-ID"))
		require.Equal(t, "transaction-service", r.Header.Get("X-Service-Name"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":"` + countryID.String() + `","code":"CM","name":"Cameroon","currency_code":"XAF","is_authorized":true}}`))
	}))
	defer server.Close()

	country, err := newTestClient(server.URL).CountryByCode(context.Background(), "CM")
	require.NoError(t, err)
	require.NotNil(t, country)
	require.Equal(t, countryID, country.ID)
	require.Equal(t, "XAF", country.CurrencyCode)
	require.True(t, country.Authorized)
}

func TestCountryByCodeUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data":{"id":"` + uuid.NewString() + `","code":"XX","is_authorized":false}}`))
	}))
	defer server.Close()

	country, err := newTestClient(server.URL).CountryByCode(context.Background(), "XX")
	require.NoError(t, err)
	require.Nil(t, country)
}

func TestOperatorByCodeNotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	operator, err := newTestClient(server.URL).OperatorByCode(context.Background(), "NOPE")
	require.NoError(t, err)
	require.Nil(t, operator)
	// 404 is the answer, not a fault; no retries.
	require.EqualValues(t, 1, calls.Load())
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"data":{"id":"` + uuid.NewString() + `","code":"ORANGE","name":"Orange Money","is_active":true}}`))
	}))
	defer server.Close()

	operator, err := newTestClient(server.URL).OperatorByCode(context.Background(), "ORANGE")
	require.NoError(t, err)
	require.NotNil(t, operator)
	require.True(t, operator.Active)
	require.EqualValues(t, 3, calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).OperatorByCode(context.Background(), "ORANGE")
	require.Error(t, err)
	require.EqualValues(t, 1, calls.Load())
}

func TestOperatorByIDMissingIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).OperatorByID(context.Background(), uuid.New())
	require.Error(t, err)
}

func TestPlainBodyWithoutEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"id":"` + uuid.NewString() + `","code":"MTN","name":"MTN MoMo","is_active":true}`))
	}))
	defer server.Close()

	operator, err := newTestClient(server.URL).OperatorByCode(context.Background(), "MTN")
	require.NoError(t, err)
	require.NotNil(t, operator)
	require.Equal(t, "MTN", operator.Code)
}

func TestExhaustedRetriesReportUnavailable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).OperatorByCode(context.Background(), "ORANGE")
	require.ErrorIs(t, err, domain.ErrServiceUnavailable)
	require.EqualValues(t, 3, calls.Load())
}
