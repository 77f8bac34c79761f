package domain

import (
	"regexp"
	"time"
)

// AuditEntry is one append-only audit log row. Entries are never updated
// or deleted; corrections are new entries referencing the original.
type AuditEntry struct {
	ID            string
	PaymentID     string
	ActorType     string // "SYSTEM", "MERCHANT", "OPERATOR"
	ActorID       string
	Action        string // e.g. "AUTHORIZE_ATTEMPT", "REFUND_ISSUED"
	Details       string // redacted before it ever reaches this field
	TraceID       string
	CreatedAt     time.Time
}

var (
	panPattern = regexp.MustCompile(`\b(\d{13,19})\b`)
	cvvPattern = regexp.MustCompile(`(?i)("?cvv"?\s*[:=]\s*"?)(\d{3,4})("?)`)
)

// RedactSensitive masks any 13-19 digit run (a candidate PAN) down to its
// last four digits and blanks any "cvv"-labeled value, so audit payloads
// built from raw request/response bodies can never leak cardholder data
// even if a caller forgets to pre-redact.
func RedactSensitive(s string) string {
	s = panPattern.ReplaceAllStringFunc(s, func(m string) string {
		if len(m) < 4 {
			return "****"
		}
		return "****" + m[len(m)-4:]
	})
	s = cvvPattern.ReplaceAllString(s, "${1}***${3}")
	return s
}

// NewAuditEntry builds an entry with details already passed through
// RedactSensitive, so every call site gets redaction for free.
func NewAuditEntry(paymentID, actorType, actorID, action, details, traceID string) *AuditEntry {
	return &AuditEntry{
		PaymentID: paymentID,
		ActorType: actorType,
		ActorID:   actorID,
		Action:    action,
		Details:   RedactSensitive(details),
		TraceID:   traceID,
		CreatedAt: time.Now(),
	}
}
