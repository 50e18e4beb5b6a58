package rewards

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/sphinx-bot/content"
	"github.com/onnwee/sphinx-bot/ledger"
)

func newService(t *testing.T, opts ...Option) (*Service, *ledger.Store) {
	t.Helper()
	bank, err := content.Default()
	require.NoError(t, err)
	store := ledger.NewMemoryStore()
	return NewService(store.Gold, store.Coins, bank, opts...), store
}

func TestCreditGoldAndCoinsAreIndependent(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	bal, err := s.CreditGold(ctx, "alice", 200)
	require.NoError(t, err)
	assert.Equal(t, int64(200), bal)

	coins, err := s.CoinBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), coins)

	bal, err = s.CreditCoins(ctx, "alice", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)

	gold, err := s.GoldBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(200), gold)
}

func TestCreditRejectsNonPositive(t *testing.T) {
	s, _ := newService(t)
	_, err := s.CreditGold(context.Background(), "alice", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = s.CreditCoins(context.Background(), "alice", -5)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSeekWisdomInsufficientFundsNoMutation(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	_, err := s.CreditCoins(ctx, "bob", 300)
	require.NoError(t, err)

	w, err := s.SeekWisdom(ctx, "bob")
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Empty(t, w.Outcome)

	bal, err := s.CoinBalance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(300), bal)
}

func TestSeekWisdomDebitsThenDraws(t *testing.T) {
	s, _ := newService(t, WithRand(rand.New(rand.NewPCG(7, 7))))
	ctx := context.Background()
	_, err := s.CreditCoins(ctx, "cy", 1200)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		w, err := s.SeekWisdom(ctx, "cy")
		require.NoError(t, err)
		assert.NotEmpty(t, w.Outcome)
		if w.Good {
			require.NotNil(t, w.Tarot)
			assert.NotEmpty(t, w.Tarot.Description)
		} else {
			assert.Nil(t, w.Tarot)
		}
	}

	bal, err := s.CoinBalance(ctx, "cy")
	require.NoError(t, err)
	assert.Equal(t, int64(200), bal)

	_, err = s.SeekWisdom(ctx, "cy")
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
}

func TestSeekWisdomCustomCost(t *testing.T) {
	s, _ := newService(t, WithWisdomCost(100))
	ctx := context.Background()
	_, err := s.CreditCoins(ctx, "di", 150)
	require.NoError(t, err)
	w, err := s.SeekWisdom(ctx, "di")
	require.NoError(t, err)
	assert.Equal(t, int64(50), w.Balance)
	assert.Equal(t, int64(100), s.WisdomCost())
}

type failingBalances struct{ ledger.Balances }

var errDown = errors.New("db down")

func (failingBalances) Credit(context.Context, string, int64) (int64, error) { return 0, errDown }
func (failingBalances) Debit(context.Context, string, int64) (int64, error)  { return 0, errDown }

func TestStorageFailuresPropagate(t *testing.T) {
	bank, err := content.Default()
	require.NoError(t, err)
	s := NewService(failingBalances{ledger.NewMemoryBalances()}, failingBalances{ledger.NewMemoryBalances()}, bank)

	_, err = s.CreditGold(context.Background(), "eve", 10)
	assert.ErrorIs(t, err, errDown)
	_, err = s.SeekWisdom(context.Background(), "eve")
	assert.ErrorIs(t, err, errDown)
}
