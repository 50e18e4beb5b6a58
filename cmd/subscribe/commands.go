package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/sphinx-bot/config"
	"github.com/onnwee/sphinx-bot/eventsub"
	"github.com/onnwee/sphinx-bot/twitchapi"
)

// allTypes are the subscriptions the webhook handles.
var allTypes = []string{
	eventsub.TypeCheer,
	eventsub.TypeSubscribe,
	eventsub.TypeGift,
	eventsub.TypeRedemption,
}

type helix interface {
	GetUserID(ctx context.Context, login string) (string, error)
	CreateEventSubSubscription(ctx context.Context, req twitchapi.SubscriptionRequest) (twitchapi.Subscription, error)
	ListEventSubSubscriptions(ctx context.Context, status string) ([]twitchapi.Subscription, error)
	DeleteEventSubSubscription(ctx context.Context, id string) error
}

type app struct {
	cfg   *config.Config
	helix helix
}

func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateHelixReady(); err != nil {
		return nil, err
	}
	ts := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
	return &app{cfg: cfg, helix: &twitchapi.HelixClient{AppTokenSource: ts, ClientID: cfg.TwitchClientID}}, nil
}

func newRootCmd(load func() (*app, error)) *cobra.Command {
	var a *app
	root := &cobra.Command{
		Use:           "subscribe",
		Short:         "Manage EventSub webhook subscriptions for the bot",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			var err error
			a, err = load()
			return err
		},
	}
	get := func() *app { return a }
	root.AddCommand(newCreateCmd(get), newListCmd(get), newDeleteCmd(get))
	return root
}

func newCreateCmd(get func() *app) *cobra.Command {
	var types []string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create webhook subscriptions (all handled types by default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			if a.cfg.EventSubSecret == "" {
				return errors.New("missing TWITCH_EVENTSUB_SECRET")
			}
			callback, err := callbackURL(a.cfg.EventSubCallbackURL)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			broadcaster, err := broadcasterID(ctx, a)
			if err != nil {
				return err
			}
			if len(types) == 0 {
				types = allTypes
			}
			var errs []error
			for _, t := range types {
				sub, err := a.helix.CreateEventSubSubscription(ctx, twitchapi.NewWebhookSubscription(t, broadcaster, callback, a.cfg.EventSubSecret))
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", t, err))
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "failed %s: %v\n", t, err)
					continue
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", sub.Type, sub.ID, sub.Status)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "subscription type to create (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall request timeout")
	return cmd
}

func newListCmd(get func() *app) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List existing subscriptions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			subs, err := get().helix.ListEventSubSubscriptions(cmd.Context(), status)
			if err != nil {
				return err
			}
			if len(subs) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no subscriptions")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tCALLBACK")
			for _, s := range subs {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Type, s.Status, s.Transport.Callback)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (enabled, webhook_callback_verification_pending, ...)")
	return cmd
}

func newDeleteCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete subscriptions by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var errs []error
			for _, id := range args {
				if err := get().helix.DeleteEventSubSubscription(cmd.Context(), id); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
					continue
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return errors.Join(errs...)
		},
	}
}

// callbackURL requires an https URL ending in /eventsub, which is where the
// bot serves the webhook.
func callbackURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("missing EVENTSUB_CALLBACK_URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid EVENTSUB_CALLBACK_URL: %w", err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return "", fmt.Errorf("EVENTSUB_CALLBACK_URL must be an absolute https URL, got %q", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/eventsub"
	}
	return u.String(), nil
}

func broadcasterID(ctx context.Context, a *app) (string, error) {
	if a.cfg.BroadcasterID != "" {
		return a.cfg.BroadcasterID, nil
	}
	if a.cfg.TwitchChannel == "" {
		return "", errors.New("set BROADCASTER_ID or TWITCH_CHANNEL")
	}
	return a.helix.GetUserID(ctx, a.cfg.TwitchChannel)
}
