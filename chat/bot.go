package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/google/uuid"

	"github.com/onnwee/sphinx-bot/telemetry"
)

// Handler turns a chat line into a reply.
type Handler interface {
	Handle(ctx context.Context, msg Message) string
}

// Bot is the IRC side of the bot. It also serves as the Announcer for quiz
// and EventSub announcements.
type Bot struct {
	client    *twitch.Client
	channel   string
	handler   Handler
	connected atomic.Bool
}

// NewBot creates a client for username authenticating with token. The
// "oauth:" prefix is added when missing.
func NewBot(username, token, channel string, h Handler) *Bot {
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	b := &Bot{
		client:  twitch.NewClient(username, token),
		channel: strings.ToLower(strings.TrimPrefix(channel, "#")),
		handler: h,
	}
	b.client.OnConnect(func() {
		b.connected.Store(true)
		slog.Info("twitch chat connected", slog.String("channel", b.channel), slog.String("component", "chat"))
	})
	b.client.OnPrivateMessage(b.onMessage)
	return b
}

// SetHandler replaces the message handler. It must be called before Run.
func (b *Bot) SetHandler(h Handler) { b.handler = h }

// Channel returns the joined channel.
func (b *Bot) Channel() string { return b.channel }

// Connected reports whether the IRC connection is up.
func (b *Bot) Connected() bool { return b.connected.Load() }

// FromPrivateMessage converts an IRC PRIVMSG.
func FromPrivateMessage(pm twitch.PrivateMessage) Message {
	return Message{
		Channel:     pm.Channel,
		User:        strings.ToLower(pm.User.Name),
		DisplayName: pm.User.DisplayName,
		Text:        pm.Message,
		Moderator:   pm.Tags["mod"] == "1" || pm.User.Badges["moderator"] > 0,
		Broadcaster: pm.User.Badges["broadcaster"] > 0,
	}
}

func (b *Bot) onMessage(pm twitch.PrivateMessage) {
	if b.handler == nil {
		return
	}
	ctx := telemetry.WithCorrelation(context.Background(), uuid.NewString())
	msg := FromPrivateMessage(pm)
	if reply := b.handler.Handle(ctx, msg); reply != "" {
		b.Say(msg.Channel, reply)
	}
}

// Say posts message to channel. Newlines are flattened since IRC lines cannot carry them.
func (b *Bot) Say(channel, message string) {
	if channel == "" {
		channel = b.channel
	}
	message = strings.ReplaceAll(message, "\n", " ")
	b.client.Say(channel, message)
}

// Run joins the channel and keeps the connection up until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = b.client.Disconnect()
	}()

	b.client.Join(b.channel)
	var backoff time.Duration
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := b.client.Connect()
		wasUp := b.connected.Swap(false)
		if ctx.Err() != nil || errors.Is(err, twitch.ErrClientDisconnected) {
			return nil
		}
		backoff = nextBackoff(backoff, wasUp)
		slog.Warn("twitch chat disconnected; reconnecting", slog.Any("err", err), slog.Duration("backoff", backoff), slog.String("component", "chat"))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

// nextBackoff doubles prev up to a minute. A session that reached OnConnect
// starts over at one second.
func nextBackoff(prev time.Duration, wasConnected bool) time.Duration {
	if wasConnected || prev <= 0 {
		return time.Second
	}
	return min(prev*2, time.Minute)
}
