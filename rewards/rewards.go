// Package rewards holds the gold and coin accrual rules and the
// coin-spending "wisdom" feature.
package rewards

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/onnwee/sphinx-bot/content"
	"github.com/onnwee/sphinx-bot/ledger"
	"github.com/onnwee/sphinx-bot/telemetry"
)

const (
	// GoldPerBit is the gold credited for each cheered bit.
	GoldPerBit = 2
	// GoldPerSub is the flat gold credited per subscription, regardless of tier.
	GoldPerSub = 500
	// DefaultWisdomCost is the coin price of one wisdom reading.
	DefaultWisdomCost = 500
)

// ErrInvalidAmount is returned for non-positive credits.
var ErrInvalidAmount = ledger.ErrInvalidAmount

// Wisdom is the result of a paid reading.
type Wisdom struct {
	Good    bool
	Outcome string
	Tarot   *content.Tarot
	Balance int64
}

// Service applies credits and debits to the gold and coin ledgers.
type Service struct {
	gold  ledger.Balances
	coins ledger.Balances
	bank  *content.Bank
	cost  int64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option customizes a Service.
type Option func(*Service)

// WithWisdomCost overrides DefaultWisdomCost.
func WithWisdomCost(cost int64) Option {
	return func(s *Service) {
		if cost > 0 {
			s.cost = cost
		}
	}
}

// WithRand sets the random source used for wisdom outcomes.
func WithRand(r *rand.Rand) Option {
	return func(s *Service) { s.rng = r }
}

// NewService returns a Service over the given ledgers.
func NewService(gold, coins ledger.Balances, bank *content.Bank, opts ...Option) *Service {
	s := &Service{
		gold:  gold,
		coins: coins,
		bank:  bank,
		cost:  DefaultWisdomCost,
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), //nolint:gosec // G404: outcome flavor, not security
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WisdomCost returns the configured price of a reading.
func (s *Service) WisdomCost() int64 { return s.cost }

// CreditGold adds amount gold to username.
func (s *Service) CreditGold(ctx context.Context, username string, amount int64) (int64, error) {
	return s.credit(ctx, s.gold, ledger.Gold, username, amount)
}

// CreditCoins adds amount coins to username.
func (s *Service) CreditCoins(ctx context.Context, username string, amount int64) (int64, error) {
	return s.credit(ctx, s.coins, ledger.Coins, username, amount)
}

func (s *Service) credit(ctx context.Context, b ledger.Balances, kind ledger.Kind, username string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	bal, err := b.Credit(ctx, username, amount)
	if err != nil {
		slog.Error("ledger credit failed", slog.String("ledger", string(kind)), slog.String("user", username),
			slog.Int64("amount", amount), slog.Any("err", err), slog.String("component", "rewards"))
		return 0, err
	}
	telemetry.AddCredit(string(kind), amount)
	return bal, nil
}

// GoldBalance returns username's gold, creating a zero entry if needed.
func (s *Service) GoldBalance(ctx context.Context, username string) (int64, error) {
	return s.gold.Balance(ctx, username)
}

// CoinBalance returns username's coins, creating a zero entry if needed.
func (s *Service) CoinBalance(ctx context.Context, username string) (int64, error) {
	return s.coins.Balance(ctx, username)
}

// GoldEntries lists the gold ledger.
func (s *Service) GoldEntries(ctx context.Context) ([]ledger.Entry, error) {
	return s.gold.Entries(ctx)
}

// CoinEntries lists the coin ledger.
func (s *Service) CoinEntries(ctx context.Context) ([]ledger.Entry, error) {
	return s.coins.Entries(ctx)
}

// SeekWisdom charges the reading price and then draws an outcome. The debit
// commits before any outcome exists; if the process dies in between, the
// coins are spent and no reading is delivered.
func (s *Service) SeekWisdom(ctx context.Context, username string) (Wisdom, error) {
	bal, err := s.coins.Debit(ctx, username, s.cost)
	if err != nil {
		if !errors.Is(err, ledger.ErrInsufficientFunds) {
			slog.Error("wisdom debit failed", slog.String("user", username), slog.Any("err", err), slog.String("component", "rewards"))
		}
		return Wisdom{Balance: bal}, err
	}
	telemetry.AddDebit(string(ledger.Coins), s.cost)

	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	w := Wisdom{Balance: bal}
	if s.rng.IntN(2) == 0 {
		w.Outcome = s.bank.RandomBad(s.rng)
		return w, nil
	}
	w.Good = true
	w.Outcome = s.bank.RandomGood(s.rng)
	tarot := s.bank.RandomTarot(s.rng)
	w.Tarot = &tarot
	return w, nil
}
