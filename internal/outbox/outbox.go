// Package outbox implements the transactional outbox pattern for reliable event
// delivery to Kafka. Business writes (payment state transitions, refunds,
// settlement batches) and an outbox row are written inside the same database
// transaction; a separate Worker polls the table and publishes to Kafka,
// so a crash between commit and publish can never silently drop an event.
package outbox

import (
	"encoding/json"
	"time"
)

// Outbox is a row in the outbox table awaiting delivery to Kafka.
type Outbox struct {
	ID            string            // record UUID
	AggregateType string            // aggregate kind (payment / refund / settlement_batch / dispute)
	AggregateID   string            // aggregate ID (payment_id, refund_id, ...)
	EventType     string            // event name (PAYMENT_AUTHORIZED, REFUND_COMPLETED, SETTLEMENT_CLOSED, ...)
	Topic         string            // destination Kafka topic
	MessageKey    string            // partitioning key
	Payload       []byte            // JSON payload
	Headers       map[string]string // Kafka headers (trace_id, correlation_id)
	CreatedAt     time.Time
	ProcessedAt   *time.Time // nil until delivered
	RetryCount    int
	LastError     *string
}

// HeadersJSON serializes Headers for storage.
func (o *Outbox) HeadersJSON() ([]byte, error) {
	if o.Headers == nil {
		return nil, nil
	}
	return json.Marshal(o.Headers)
}

// SetHeadersFromJSON populates Headers from stored JSON.
func (o *Outbox) SetHeadersFromJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &o.Headers)
}
