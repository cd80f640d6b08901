// Package webhook delivers event notifications to an owner-facing webhook
// endpoint. Delivery is best-effort: callers log failures and move on, so
// the client keeps its own short timeout and retry budget.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tinywideclouds/go-sms-gateway/pkg/gateway"
)

type Notifier struct {
	client *resty.Client
	logger *slog.Logger
}

// NewNotifier builds a notifier posting to endpointURL. The retry budget
// here covers transport-level failures (connection resets, timeouts) inside
// a single DeliverNotification call; once that call returns, the event is
// never re-triggered.
func NewNotifier(endpointURL string, timeout time.Duration, logger *slog.Logger) *Notifier {
	client := resty.New().
		SetBaseURL(endpointURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")

	return &Notifier{
		client: client,
		logger: logger.With("component", "WebhookNotifier"),
	}
}

// DeliverNotification posts the event as JSON. Any non-2xx response is an
// error; the caller decides whether to swallow it.
func (n *Notifier) DeliverNotification(ctx context.Context, event gateway.WebhookEvent) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(event).
		Post("")
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	n.logger.Debug("Webhook delivered", "event", event.Event, "owner", event.Owner.String())
	return nil
}
