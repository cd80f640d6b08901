package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-sms-gateway/internal/webhook"
	"github.com/tinywideclouds/go-sms-gateway/pkg/gateway"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent(t *testing.T) gateway.WebhookEvent {
	t.Helper()
	owner, err := urn.Parse("urn:sm:user:webhook-owner")
	require.NoError(t, err)
	return gateway.WebhookEvent{
		Message: gateway.MessageUnit{
			ID:        "unit-1",
			DeviceID:  "dev-1",
			Direction: gateway.DirectionReceived,
			Body:      "hi",
			Address:   "+15551234",
			Timestamp: time.Now(),
		},
		Owner: owner,
		Event: gateway.EventMessageReceived,
	}
}

func TestDeliverNotification(t *testing.T) {
	ctx := context.Background()

	t.Run("Posts event as JSON", func(t *testing.T) {
		var received map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		n := webhook.NewNotifier(server.URL, 2*time.Second, newTestLogger())
		err := n.DeliverNotification(ctx, testEvent(t))

		require.NoError(t, err)
		assert.Equal(t, "MESSAGE_RECEIVED", received["event"])
		message, ok := received["message"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "unit-1", message["id"])
	})

	t.Run("Non-2xx response is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		n := webhook.NewNotifier(server.URL, 2*time.Second, newTestLogger())
		err := n.DeliverNotification(ctx, testEvent(t))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})
}
