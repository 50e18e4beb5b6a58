package testutil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/sphinx-bot/eventsub"
)

// NewEventSubRequest builds a signed webhook delivery of msgType carrying body.
func NewEventSubRequest(secret, msgType string, body []byte) *http.Request {
	return NewEventSubRequestAt(secret, msgType, uuid.NewString(), time.Now().UTC(), body)
}

// NewEventSubRequestAt is NewEventSubRequest with a fixed message id and timestamp.
func NewEventSubRequestAt(secret, msgType, id string, ts time.Time, body []byte) *http.Request {
	stamp := ts.Format(time.RFC3339Nano)
	req := httptest.NewRequest(http.MethodPost, "/eventsub", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventsub.HeaderMessageID, id)
	req.Header.Set(eventsub.HeaderMessageTimestamp, stamp)
	req.Header.Set(eventsub.HeaderMessageType, msgType)
	req.Header.Set(eventsub.HeaderMessageSignature, eventsub.Sign(secret, id, stamp, body))
	return req
}
