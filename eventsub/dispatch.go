package eventsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/sphinx-bot/ledger"
	"github.com/onnwee/sphinx-bot/rewards"
	"github.com/onnwee/sphinx-bot/telemetry"
)

// Subscription types the bot acts on.
const (
	TypeCheer      = "channel.cheer"
	TypeSubscribe  = "channel.subscribe"
	TypeGift       = "channel.subscription.gift"
	TypeRedemption = "channel.channel_points_custom_reward_redemption.add"
)

// DefaultAttendanceReward is the channel-point reward title that counts as a check-in.
const DefaultAttendanceReward = "Cult Attendance"

// GoldCrediter credits the gold ledger.
type GoldCrediter interface {
	CreditGold(ctx context.Context, username string, amount int64) (int64, error)
}

// CheckInRecorder records attendance.
type CheckInRecorder interface {
	CheckIn(ctx context.Context, username string, today time.Time) (ledger.AttendanceRecord, bool, error)
}

// Announcer posts a message to a chat channel.
type Announcer interface {
	Say(channel, message string)
}

// Outcome tells the HTTP layer how to answer a verified delivery.
type Outcome struct {
	// Challenge is set for webhook_callback_verification and must be echoed verbatim.
	Challenge string
}

// Dispatcher routes verified envelopes to ledger mutations.
type Dispatcher struct {
	Gold        GoldCrediter
	Attendance  CheckInRecorder
	Announcer   Announcer // optional
	Channel     string
	RewardTitle string
	Now         func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) rewardTitle() string {
	if d.RewardTitle != "" {
		return d.RewardTitle
	}
	return DefaultAttendanceReward
}

func (d *Dispatcher) announce(msg string) {
	if d.Announcer != nil && d.Channel != "" {
		d.Announcer.Say(d.Channel, msg)
	}
}

// Dispatch handles one verified envelope. Handler errors are returned for
// logging only; the delivery is still acknowledged.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) (Outcome, error) {
	p, err := decodePayload(env.Body)
	if err != nil {
		return Outcome{}, err
	}
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("message_id", env.MessageID), slog.String("component", "eventsub"))

	switch env.MessageType {
	case MessageTypeVerification:
		logger.Info("webhook callback verification", slog.String("subscription_type", p.Subscription.Type))
		return Outcome{Challenge: p.Challenge}, nil
	case MessageTypeRevocation:
		telemetry.CountRevocation(p.Subscription.Type)
		logger.Warn("subscription revoked",
			slog.String("subscription_type", p.Subscription.Type),
			slog.String("status", p.Subscription.Status),
			slog.Any("condition", p.Subscription.Condition))
		return Outcome{}, nil
	case MessageTypeNotification:
		ctx, span := telemetry.StartSpan(ctx, "eventsub", "eventsub.notification", telemetry.EventSubAttrs(env.MessageID, p.Subscription.Type)...)
		defer span.End()
		telemetry.CountNotification(p.Subscription.Type)
		var herr error
		telemetry.TimeFunc(telemetry.DispatchDuration, func() {
			herr = d.notification(ctx, logger, p)
		})
		if herr != nil {
			telemetry.RecordError(span, herr)
		} else {
			telemetry.SetSpanSuccess(span)
		}
		return Outcome{}, herr
	default:
		logger.Info("unknown eventsub message type ignored", slog.String("type", env.MessageType))
		return Outcome{}, nil
	}
}

func (d *Dispatcher) notification(ctx context.Context, logger *slog.Logger, p payload) error {
	switch p.Subscription.Type {
	case TypeCheer:
		var ev CheerEvent
		if err := decodeEvent(p, &ev); err != nil {
			return err
		}
		if ev.IsAnonymous || ev.UserLogin == "" {
			logger.Info("anonymous cheer not credited", slog.Int64("bits", ev.Bits))
			return nil
		}
		return d.creditGold(ctx, ev.UserLogin, ev.UserName, ev.Bits*rewards.GoldPerBit)
	case TypeSubscribe:
		var ev SubscribeEvent
		if err := decodeEvent(p, &ev); err != nil {
			return err
		}
		return d.creditGold(ctx, ev.UserLogin, ev.UserName, rewards.GoldPerSub)
	case TypeGift:
		var ev GiftEvent
		if err := decodeEvent(p, &ev); err != nil {
			return err
		}
		total := ev.Total
		if total <= 0 {
			total = 1
		}
		if ev.IsAnonymous || ev.UserLogin == "" {
			logger.Info("anonymous gift not credited", slog.Int64("total", total))
			return nil
		}
		return d.creditGold(ctx, ev.UserLogin, ev.UserName, rewards.GoldPerSub*total)
	case TypeRedemption:
		var ev RedemptionEvent
		if err := decodeEvent(p, &ev); err != nil {
			return err
		}
		if ev.Reward.Title != d.rewardTitle() {
			logger.Debug("redemption ignored", slog.String("reward", ev.Reward.Title))
			return nil
		}
		user := username(ev.UserLogin, ev.UserName)
		if user == "" {
			return errors.New("redemption without user")
		}
		rec, changed, err := d.Attendance.CheckIn(ctx, user, d.now())
		if err != nil {
			return fmt.Errorf("check in %s: %w", user, err)
		}
		if changed {
			d.announce(fmt.Sprintf("%s, check-in recorded! %d streaks", display(ev.UserName, user), rec.Streak))
		}
		return nil
	default:
		logger.Debug("notification type not handled", slog.String("subscription_type", p.Subscription.Type))
		return nil
	}
}

func (d *Dispatcher) creditGold(ctx context.Context, login, name string, amount int64) error {
	user := username(login, name)
	if user == "" {
		return errors.New("gold event without user")
	}
	if amount <= 0 {
		return fmt.Errorf("gold event for %s: %w", user, rewards.ErrInvalidAmount)
	}
	if _, err := d.Gold.CreditGold(ctx, user, amount); err != nil {
		return fmt.Errorf("credit gold %s: %w", user, err)
	}
	d.announce(fmt.Sprintf("%s has given %d gold to the Cult! Praise be to the Sphinx!", display(name, user), amount))
	return nil
}

func decodeEvent(p payload, v any) error {
	if len(p.Event) == 0 {
		return fmt.Errorf("%s: missing event", p.Subscription.Type)
	}
	if err := json.Unmarshal(p.Event, v); err != nil {
		return fmt.Errorf("decode %s event: %w", p.Subscription.Type, err)
	}
	return nil
}

// username is the ledger key: the lowercase login, falling back to the display name.
func username(login, name string) string {
	if login != "" {
		return strings.ToLower(login)
	}
	return strings.ToLower(strings.TrimSpace(name))
}

func display(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}
