package eventsub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrMalformedPayload is returned when a delivery body is not valid JSON.
var ErrMalformedPayload = errors.New("eventsub: malformed payload")

// Delivery headers.
const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageSignature = "Twitch-Eventsub-Message-Signature"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"
)

// Message types.
const (
	MessageTypeVerification = "webhook_callback_verification"
	MessageTypeNotification = "notification"
	MessageTypeRevocation   = "revocation"
)

// Envelope is one webhook delivery: the identifying headers plus the raw body.
type Envelope struct {
	MessageID   string
	Timestamp   string
	Signature   string
	MessageType string
	Body        []byte
}

// FromHeaders builds an Envelope from request headers and the raw body.
func FromHeaders(h http.Header, body []byte) Envelope {
	return Envelope{
		MessageID:   h.Get(HeaderMessageID),
		Timestamp:   h.Get(HeaderMessageTimestamp),
		Signature:   h.Get(HeaderMessageSignature),
		MessageType: h.Get(HeaderMessageType),
		Body:        body,
	}
}

// Subscription describes the subscription a delivery belongs to.
type Subscription struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Condition map[string]string `json:"condition"`
}

// payload is the JSON body shared by all message types.
type payload struct {
	Challenge    string          `json:"challenge"`
	Subscription Subscription    `json:"subscription"`
	Event        json.RawMessage `json:"event"`
}

func decodePayload(body []byte) (payload, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return p, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return p, nil
}

// Event payloads. Only the fields the bot acts on are decoded.

// CheerEvent is a channel.cheer event.
type CheerEvent struct {
	UserLogin   string `json:"user_login"`
	UserName    string `json:"user_name"`
	IsAnonymous bool   `json:"is_anonymous"`
	Bits        int64  `json:"bits"`
}

// SubscribeEvent is a channel.subscribe event.
type SubscribeEvent struct {
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
	Tier      string `json:"tier"`
	IsGift    bool   `json:"is_gift"`
}

// GiftEvent is a channel.subscription.gift event.
type GiftEvent struct {
	UserLogin   string `json:"user_login"`
	UserName    string `json:"user_name"`
	Total       int64  `json:"total"`
	Tier        string `json:"tier"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// RedemptionEvent is a channel.channel_points_custom_reward_redemption.add event.
type RedemptionEvent struct {
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
	Reward    struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"reward"`
	RedeemedAt string `json:"redeemed_at"`
}
