package domain

import "time"

// CardToken is the durable mapping between an opaque vault token and the
// card it stands in for. The gateway never stores a raw PAN: the
// tokenization collaborator returns a token, and this record lets later
// authorizations, refunds, and dispute lookups resolve back to brand/last4
// without ever touching cleartext card data again.
//
// PANHash is a keyed HMAC-SHA256 digest of the PAN, not a format-preserving
// or deterministic encryption of it (see DESIGN.md for why). It exists
// purely as a uniqueness index: when a tokenization call's PAN hash is
// already on file, the existing token is returned instead of a new one
// being bound; no further check against the vault is made.
type CardToken struct {
	Token          string
	PANHash        string
	MaskedLastFour string
	Brand          string
	ExpiryMonth    int
	ExpiryYear     int
	CreatedAt      time.Time
}

// SamePAN reports whether two tokens were minted for the same underlying
// card, based solely on the keyed hash — never on the masked digits alone,
// since many cards share a last four.
func (t *CardToken) SamePAN(other *CardToken) bool {
	return t.PANHash != "" && t.PANHash == other.PANHash
}

// IsExpired reports whether the card's expiry has passed as of now.
func (t *CardToken) IsExpired(now time.Time) bool {
	if t.ExpiryYear == 0 {
		return false
	}
	if now.Year() > t.ExpiryYear {
		return true
	}
	return now.Year() == t.ExpiryYear && int(now.Month()) > t.ExpiryMonth
}
