package domain

import "time"

// Merchant is a registered acquiring-gateway client. A merchant
// authenticates either with a long-lived API key (server-to-server
// calls) or a short-lived JWT session minted against its ID.
type Merchant struct {
	ID         string
	Name       string
	APIKeyHash string
	WebhookURL string
	Active     bool
	CreatedAt  time.Time
}
