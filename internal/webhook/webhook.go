// Package webhook dispatches signed event notifications to merchant
// endpoints, retrying with the shared backoff policy up to the
// configured attempt limit. Grounded on the teacher's outbox worker
// (poll-then-deliver-then-mark-processed shape) and internal/retry's
// backoff policy, generalized from a Kafka publish target into an
// outbound HTTP POST with HMAC signing.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/acquiro/gateway/internal/collaborator"
	"github.com/acquiro/gateway/internal/logger"
	"github.com/acquiro/gateway/internal/retry"
)

// Delivery is one queued webhook notification.
type Delivery struct {
	ID         string
	MerchantID string
	URL        string
	EventType  string
	Payload    []byte
	Attempts   int
}

// httpError classifies a failed delivery for the retry policy: a 4xx
// response is a contract problem the merchant must fix and should not be
// retried; anything else (5xx, network error, timeout) is transient.
type httpError struct {
	statusCode int
	err        error
}

func (e *httpError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("webhook endpoint returned status %d", e.statusCode)
}

func (e *httpError) Retryable() bool {
	return e.statusCode == 0 || e.statusCode >= 500
}

// Dispatcher signs and delivers webhook payloads over HTTP.
type Dispatcher struct {
	client *http.Client
	signer collaborator.WebhookSigner
	policy retry.Policy
}

// New builds a Dispatcher. timeout bounds each individual HTTP attempt.
func New(signer collaborator.WebhookSigner, timeout time.Duration, policy retry.Policy) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: timeout},
		signer: signer,
		policy: policy,
	}
}

// Deliver attempts to send d, retrying transient failures per policy and
// giving up immediately on a 4xx response.
func (d *Dispatcher) Deliver(ctx context.Context, delivery *Delivery) error {
	log := logger.FromContext(ctx)

	return retry.Do(ctx, d.policy, func(ctx context.Context) error {
		return d.attempt(ctx, delivery)
	}, func(attempt int, err error, next time.Duration) {
		log.Warn().
			Err(err).
			Str("webhook_id", delivery.ID).
			Str("merchant_id", delivery.MerchantID).
			Int("attempt", attempt).
			Dur("next_delay", next).
			Msg("webhook delivery attempt failed")
	}, func(finalErr error) {
		log.Error().
			Err(finalErr).
			Str("webhook_id", delivery.ID).
			Str("merchant_id", delivery.MerchantID).
			Msg("webhook delivery exhausted retries, dead-lettering")
	})
}

func (d *Dispatcher) attempt(ctx context.Context, delivery *Delivery) error {
	timestamp := time.Now()
	signature := d.signer.Sign(delivery.Payload, timestamp)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return &httpError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", fmt.Sprintf("t=%d,v1=%s", timestamp.Unix(), signature))
	req.Header.Set("X-Gateway-Event", delivery.EventType)

	resp, err := d.client.Do(req)
	if err != nil {
		return &httpError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &httpError{statusCode: resp.StatusCode}
	}

	return nil
}

// EventEnvelope is the JSON body delivered to merchant endpoints.
type EventEnvelope struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// BuildPayload serializes an envelope into the bytes Deliver signs and sends.
func BuildPayload(eventID, eventType string, data any) ([]byte, error) {
	return json.Marshal(EventEnvelope{
		EventID:   eventID,
		EventType: eventType,
		Timestamp: time.Now(),
		Data:      data,
	})
}
