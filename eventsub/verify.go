// Package eventsub authenticates Twitch EventSub webhook deliveries and
// routes verified notifications to the gold and attendance ledgers.
package eventsub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// HMACPrefix precedes the hex digest in the signature header.
const HMACPrefix = "sha256="

var (
	// ErrMissingSecret is returned when no webhook secret is configured.
	ErrMissingSecret = errors.New("eventsub: webhook secret is empty")
	// ErrSignatureMismatch is returned when a delivery's signature does not verify.
	ErrSignatureMismatch = errors.New("eventsub: signature mismatch")
)

// Sign returns the signature header value Twitch would send for the given
// delivery.
func Sign(secret, messageID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return HMACPrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether provided is the signature of the raw, unparsed
// body. The comparison is constant time.
func Verify(secret, messageID, timestamp string, body []byte, provided string) bool {
	if secret == "" || provided == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, messageID, timestamp, body)), []byte(provided))
}

// Verifier checks envelopes against one shared secret.
type Verifier struct {
	secret string
}

// NewVerifier returns ErrMissingSecret for an empty secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Verifier{secret: secret}, nil
}

// Check returns ErrSignatureMismatch unless env carries a valid signature.
func (v *Verifier) Check(env Envelope) error {
	if !Verify(v.secret, env.MessageID, env.Timestamp, env.Body, env.Signature) {
		return ErrSignatureMismatch
	}
	return nil
}
