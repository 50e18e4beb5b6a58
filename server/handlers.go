package server

import (
	"context"

	"github.com/onnwee/sphinx-bot/eventsub"
)

// Dispatcher handles verified EventSub deliveries.
type Dispatcher interface {
	Dispatch(ctx context.Context, env eventsub.Envelope) (eventsub.Outcome, error)
}

// HealthChecker reports whether the ledger backend is reachable.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// ChatStatus reports the IRC connection state.
type ChatStatus interface {
	Connected() bool
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	verifier   *eventsub.Verifier
	guard      *eventsub.ReplayGuard
	dispatcher Dispatcher
	ledger     HealthChecker
	chat       ChatStatus
}

// NewHandlers creates a new Handlers instance. guard and chat may be nil.
func NewHandlers(v *eventsub.Verifier, guard *eventsub.ReplayGuard, d Dispatcher, ledger HealthChecker, chat ChatStatus) *Handlers {
	return &Handlers{verifier: v, guard: guard, dispatcher: d, ledger: ledger, chat: chat}
}
