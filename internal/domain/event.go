package domain

import "time"

// Event is the envelope published to the event bus for every durable
// state change (payment authorized, captured, refunded, settlement
// closed, dispute opened). PartitionKey is the payment_id for payment,
// refund and dispute events, so a single partition consumer observes
// strictly ordered events for one payment; settlement batch events are
// keyed by the batch ID.
type Event struct {
	EventID       string
	EventType     string
	AggregateType string // "payment", "refund", "settlement_batch", "dispute"
	AggregateID   string
	PartitionKey  string
	CorrelationID string
	TraceID       string
	Timestamp     time.Time
	Payload       []byte // JSON-encoded, never contains raw PAN/CVV
}
