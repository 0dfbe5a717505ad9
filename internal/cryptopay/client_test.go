package cryptopay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CreateInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/createInvoice", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("Crypto-Pay-API-Token"))

		var req createInvoiceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "USDT", req.Asset)
		assert.Equal(t, "25", req.Amount)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"invoice_id": 1234,
				"status":     "active",
				"asset":      "USDT",
				"amount":     "25",
				"pay_url":    "https://t.me/CryptoBot?start=IVxyz",
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-token")
	inv, err := c.CreateInvoice(context.Background(), "USDT", decimal.NewFromInt(25), "top-up", "user:42", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), inv.InvoiceID)
	assert.Equal(t, StatusActive, inv.Status)
	assert.False(t, inv.IsPaid())
}

func TestClient_GetInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/getInvoices", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"items": []map[string]any{
					{"invoice_id": 77, "status": "paid", "asset": "TON", "amount": "3.5"},
				},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-token")
	inv, err := c.GetInvoice(context.Background(), 77)
	require.NoError(t, err)
	assert.True(t, inv.IsPaid())
	assert.True(t, inv.Amount.Equal(decimal.NewFromFloat(3.5)))
}

func TestClient_GetInvoice_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"items": []any{}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-token")
	_, err := c.GetInvoice(context.Background(), 404)
	assert.ErrorIs(t, err, ErrInvoiceNotFound)
}

// Failures must never look like "not found": the watcher treats not-found as
// a terminal cancel, so a flaky upstream has to surface as a plain error.
func TestClient_FailuresAreNotNotFound(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http 500",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "api error envelope",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"ok":    false,
					"error": map[string]any{"code": 401, "name": "UNAUTHORIZED"},
				})
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("{not json"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := New(srv.URL, "test-token")
			_, err := c.GetInvoice(context.Background(), 77)
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrInvoiceNotFound)
		})
	}
}

func TestClient_BreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "test-token")
	for i := 0; i < 5; i++ {
		_, err := c.GetInvoice(context.Background(), 1)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrProviderUnavailable)
	}

	// Threshold reached: the next call is rejected without touching the wire.
	_, err := c.GetInvoice(context.Background(), 1)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestClient_RequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(srv.URL, "test-token", WithTimeout(20*time.Millisecond))
	_, err := c.GetInvoice(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvoiceNotFound)
}
