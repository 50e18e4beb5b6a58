package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/onnwee/sphinx-bot/testutil"
)

func newTestClient(t *testing.T) (*HelixClient, *testutil.MockTwitchServer) {
	t.Helper()
	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("test-token", 3600)
	return &HelixClient{
		AppTokenSource: &TokenSource{ClientID: "test-client-id", ClientSecret: "secret", TokenURL: mock.URL + "/oauth2/token"},
		ClientID:       "test-client-id",
		BaseURL:        mock.URL + "/helix",
	}, mock
}

func TestHelixClient_GetUserID(t *testing.T) {
	client, mock := newTestClient(t)
	mock.MockUserResponse("12345", "daotama")

	id, err := client.GetUserID(context.Background(), "daotama")
	if err != nil {
		t.Fatalf("GetUserID() error = %v", err)
	}
	if id != "12345" {
		t.Errorf("GetUserID() = %s, want 12345", id)
	}

	reqs := mock.Requests()
	last := reqs[len(reqs)-1]
	if last.Header.Get("Client-Id") != "test-client-id" || last.Header.Get("Authorization") != "Bearer test-token" {
		t.Errorf("missing auth headers: %v", last.Header)
	}
	if last.Query != "login=daotama" {
		t.Errorf("query = %q", last.Query)
	}

	if _, err := client.GetUserID(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "login empty") {
		t.Errorf("expected login empty error, got %v", err)
	}
}

func TestHelixClient_GetUserIDNotFound(t *testing.T) {
	client, mock := newTestClient(t)
	mock.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}
	if _, err := client.GetUserID(context.Background(), "ghost"); err == nil || !strings.Contains(err.Error(), "user not found") {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestHelixClient_CreateEventSubSubscription(t *testing.T) {
	client, mock := newTestClient(t)
	mock.MockCreateSubscription("sub-1", "webhook_callback_verification_pending")

	req := NewWebhookSubscription("channel.cheer", "777", "https://bot.example.com/eventsub", "s3cr3t")
	sub, err := client.CreateEventSubSubscription(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateEventSubSubscription() error = %v", err)
	}
	if sub.ID != "sub-1" || sub.Type != "channel.cheer" || sub.Condition["broadcaster_user_id"] != "777" {
		t.Errorf("unexpected subscription: %+v", sub)
	}

	reqs := mock.Requests()
	last := reqs[len(reqs)-1]
	var sent SubscriptionRequest
	if err := json.Unmarshal(last.Body, &sent); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if sent.Transport.Method != "webhook" || sent.Transport.Secret != "s3cr3t" || sent.Version != "1" {
		t.Errorf("unexpected request body: %+v", sent)
	}
	if ct := last.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q", ct)
	}
}

func TestHelixClient_CreateValidatesInput(t *testing.T) {
	client, _ := newTestClient(t)
	if _, err := client.CreateEventSubSubscription(context.Background(), SubscriptionRequest{Type: "channel.cheer"}); err == nil {
		t.Error("expected error for missing callback")
	}
}

func TestHelixClient_APIError(t *testing.T) {
	client, mock := newTestClient(t)
	mock.Handlers["POST /helix/eventsub/subscriptions"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"Conflict","status":409,"message":"subscription already exists"}`))
	}
	_, err := client.CreateEventSubSubscription(context.Background(), NewWebhookSubscription("channel.cheer", "1", "https://x/eventsub", "s"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Message != "subscription already exists" {
		t.Errorf("unexpected api error: %+v", apiErr)
	}
}

func TestHelixClient_ListEventSubSubscriptionsPaginates(t *testing.T) {
	client, mock := newTestClient(t)
	mock.Handlers["GET /helix/eventsub/subscriptions"] = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "enabled" {
			t.Errorf("status filter missing: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("after") == "" {
			_, _ = w.Write([]byte(`{"data":[{"id":"a","type":"channel.cheer","status":"enabled"}],"pagination":{"cursor":"next"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"b","type":"channel.subscribe","status":"enabled"}],"pagination":{}}`))
	}

	subs, err := client.ListEventSubSubscriptions(context.Background(), "enabled")
	if err != nil {
		t.Fatalf("ListEventSubSubscriptions() error = %v", err)
	}
	if len(subs) != 2 || subs[0].ID != "a" || subs[1].ID != "b" {
		t.Errorf("unexpected subs: %+v", subs)
	}
}

func TestHelixClient_ListEventSubSubscriptionsSinglePage(t *testing.T) {
	client, mock := newTestClient(t)
	mock.MockListSubscriptions([]map[string]any{
		{"id": "x", "type": "channel.subscription.gift", "status": "enabled", "created_at": "2024-03-01T12:00:00Z",
			"transport": map[string]any{"method": "webhook", "callback": "https://bot.example.com/eventsub"}},
	})

	subs, err := client.ListEventSubSubscriptions(context.Background(), "")
	if err != nil {
		t.Fatalf("ListEventSubSubscriptions() error = %v", err)
	}
	if len(subs) != 1 || subs[0].Transport.Callback != "https://bot.example.com/eventsub" || subs[0].CreatedAt.IsZero() {
		t.Errorf("unexpected subs: %+v", subs)
	}
	reqs := mock.Requests()
	if last := reqs[len(reqs)-1]; last.Query != "" {
		t.Errorf("expected no filter, got query %q", last.Query)
	}
}

func TestHelixClient_DeleteEventSubSubscription(t *testing.T) {
	client, mock := newTestClient(t)
	mock.MockDeleteSubscription()
	if err := client.DeleteEventSubSubscription(context.Background(), "sub-1"); err != nil {
		t.Fatalf("DeleteEventSubSubscription() error = %v", err)
	}
	reqs := mock.Requests()
	if last := reqs[len(reqs)-1]; last.Method != http.MethodDelete || last.Query != "id=sub-1" {
		t.Errorf("unexpected request: %+v", last)
	}
	if err := client.DeleteEventSubSubscription(context.Background(), ""); err == nil {
		t.Error("expected error for empty id")
	}
}
