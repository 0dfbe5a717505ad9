package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedMessage struct {
	Path string
	Req  sendMessageRequest
}

func newCaptureServer(t *testing.T) (*httptest.Server, func() []capturedMessage) {
	t.Helper()

	var mu sync.Mutex
	var msgs []capturedMessage

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		msgs = append(msgs, capturedMessage{Path: r.URL.Path, Req: req})
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(sendMessageResponse{Ok: true})
	}))

	return srv, func() []capturedMessage {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedMessage(nil), msgs...)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestTelegram_PaymentReceived(t *testing.T) {
	srv, messages := newCaptureServer(t)
	defer srv.Close()

	n := NewTelegram("bot-token", 1, testLogger(), WithAPIBase(srv.URL))
	n.PaymentReceived(context.Background(), 42, decimal.NewFromInt(25), "USDT", decimal.NewFromInt(125))

	msgs := messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "/botbot-token/sendMessage", msgs[0].Path)
	assert.Equal(t, int64(42), msgs[0].Req.ChatID)
	assert.Contains(t, msgs[0].Req.Text, "25 USDT")
	assert.Contains(t, msgs[0].Req.Text, "125 USDT")
}

func TestTelegram_AlertGoesToAdminChat(t *testing.T) {
	srv, messages := newCaptureServer(t)
	defer srv.Close()

	n := NewTelegram("bot-token", 987, testLogger(), WithAPIBase(srv.URL))
	n.Alert(context.Background(), "credit failed after commit for invoice 5")

	msgs := messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(987), msgs[0].Req.ChatID)
	assert.True(t, strings.Contains(msgs[0].Req.Text, "invoice 5"))
}

func TestTelegram_DeliveryFailureDoesNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(sendMessageResponse{Ok: false, Description: "bad gateway"})
	}))
	defer srv.Close()

	n := NewTelegram("bot-token", 1, testLogger(), WithAPIBase(srv.URL))

	// Must return normally even though delivery fails.
	n.PaymentTimedOut(context.Background(), 42, 1001)
	n.PaymentExpired(context.Background(), 42, 1002)
}
