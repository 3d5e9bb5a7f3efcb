package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookDeliverer delivers notifications by POSTing JSON to the
// subscriber's endpoint. The HTTP client timeout doubles as the delivery
// timeout; a timed-out attempt classifies as transient.
type WebhookDeliverer struct {
	httpClient *http.Client
}

func NewWebhookDeliverer(timeout time.Duration) *WebhookDeliverer {
	return &WebhookDeliverer{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// webhookBody is the JSON body posted to the subscriber endpoint.
type webhookBody struct {
	MessageID      string `json:"message_id"`
	SubscriptionID string `json:"subscription_id"`
	Protocol       string `json:"protocol"`
	Subject        string `json:"subject,omitempty"`
	Payload        string `json:"payload"`
}

// Deliver posts the protocol-specific rendering to the endpoint.
// Classification: 2xx delivered; network errors, timeouts, 429 and 5xx
// transient; any other status permanent.
func (d *WebhookDeliverer) Deliver(ctx context.Context, a Attempt) (Outcome, error) {
	body, err := json.Marshal(webhookBody{
		MessageID:      a.Message.ID,
		SubscriptionID: a.SubscriptionID,
		Protocol:       string(a.Protocol),
		Subject:        a.Message.Subject,
		Payload:        a.Message.PayloadFor(a.Protocol),
	})
	if err != nil {
		return OutcomePermanent, fmt.Errorf("marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint, bytes.NewReader(body))
	if err != nil {
		return OutcomePermanent, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return OutcomeTransient, fmt.Errorf("post to endpoint: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return OutcomeDelivered, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return OutcomeTransient, fmt.Errorf("endpoint status %d", resp.StatusCode)
	default:
		return OutcomePermanent, fmt.Errorf("endpoint rejected with status %d", resp.StatusCode)
	}
}

var _ Deliverer = (*WebhookDeliverer)(nil)
