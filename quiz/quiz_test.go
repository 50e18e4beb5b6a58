package quiz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/sphinx-bot/content"
	"github.com/onnwee/sphinx-bot/ledger"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) fire(i int) {
	c.mu.Lock()
	t := c.timers[i]
	c.mu.Unlock()
	t.f()
}

type announcer struct {
	mu   sync.Mutex
	msgs []string
}

func (a *announcer) Say(_, msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msg)
}

func (a *announcer) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.msgs) == 0 {
		return ""
	}
	return a.msgs[len(a.msgs)-1]
}

var capital = content.Question{Q: "What is the capital of Egypt?", A: "Cairo"}

func setup(t *testing.T) (*Manager, *fakeClock, *announcer, ledger.Balances) {
	t.Helper()
	clock := &fakeClock{}
	ann := &announcer{}
	coins := ledger.NewMemoryBalances()
	m := NewManager(coinAdapter{coins}, ann, "daotama", WithAfterFunc(clock.AfterFunc))
	return m, clock, ann, coins
}

type coinAdapter struct{ b ledger.Balances }

func (c coinAdapter) CreditCoins(ctx context.Context, user string, amount int64) (int64, error) {
	return c.b.Credit(ctx, user, amount)
}

func TestStartRequiresPrivilege(t *testing.T) {
	m, clock, ann, _ := setup(t)
	err := m.Start(context.Background(), capital, 30*time.Second, false)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 0, clock.count())
	assert.Empty(t, ann.last())
	assert.False(t, m.Snapshot().Active)
}

func TestStartAnnouncesAndArmsOneTimer(t *testing.T) {
	m, clock, ann, _ := setup(t)
	require.NoError(t, m.Start(context.Background(), capital, 30*time.Second, true))
	assert.Equal(t, 1, clock.count())
	assert.Equal(t, 30*time.Second, clock.timers[0].d)
	assert.Equal(t, "📢 QUIZ TIME: What is the capital of Egypt? (You have 30 seconds to answer!)", ann.last())

	snap := m.Snapshot()
	assert.True(t, snap.Active)
	assert.Equal(t, "Cairo", snap.Answer)
}

func TestStartWhileActiveKeepsSession(t *testing.T) {
	m, clock, _, _ := setup(t)
	require.NoError(t, m.Start(context.Background(), capital, 30*time.Second, true))
	ok, err := m.Submit("alice", "cairo")
	require.NoError(t, err)
	require.True(t, ok)

	err = m.Start(context.Background(), content.Question{Q: "other", A: "x"}, 30*time.Second, true)
	assert.ErrorIs(t, err, ErrAlreadyActive)
	assert.Equal(t, 1, clock.count())
	snap := m.Snapshot()
	assert.Equal(t, "Cairo", snap.Answer)
	assert.Equal(t, []string{"alice"}, snap.Winners)
}

func TestSubmitWhenIdle(t *testing.T) {
	m, _, _, _ := setup(t)
	_, err := m.Submit("alice", "cairo")
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestSubmitNormalizesAndDedupes(t *testing.T) {
	m, _, _, _ := setup(t)
	require.NoError(t, m.Start(context.Background(), capital, time.Minute, true))

	tests := []struct {
		user, text string
		want       bool
	}{
		{"alice", "  CAIRO ", true},
		{"alice", "cairo", true},
		{"bob", "Alexandria", false},
		{"carol", "Cairo", true},
	}
	for _, tt := range tests {
		ok, err := m.Submit(tt.user, tt.text)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "%s %q", tt.user, tt.text)
	}
	assert.Equal(t, []string{"alice", "carol"}, m.Snapshot().Winners)
}

func TestExpiryPaysEachWinnerOnce(t *testing.T) {
	m, clock, ann, coins := setup(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, capital, 30*time.Second, true))
	for _, u := range []string{"alice", "bob", "alice"} {
		_, err := m.Submit(u, "cairo")
		require.NoError(t, err)
	}

	clock.fire(0)

	assert.False(t, m.Snapshot().Active)
	for _, u := range []string{"alice", "bob"} {
		bal, err := coins.Balance(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, int64(500), bal, u)
	}
	assert.Equal(t, "✅ Time's up! Congrats to: alice, bob! It was Cairo. They have been awarded with 500 Coins!", ann.last())

	// a second firing of the same timer must not pay again
	clock.fire(0)
	bal, _ := coins.Balance(ctx, "alice")
	assert.Equal(t, int64(500), bal)
}

func TestExpiryWithoutWinners(t *testing.T) {
	m, clock, ann, coins := setup(t)
	require.NoError(t, m.Start(context.Background(), capital, 30*time.Second, true))
	_, _ = m.Submit("bob", "Giza")
	clock.fire(0)

	assert.Equal(t, "⏱ Time's up! No one got the correct answer. It was: Cairo.", ann.last())
	entries, _ := coins.Entries(context.Background())
	assert.Empty(t, entries)
}

func TestSubmitAfterExpiryIsNotPaid(t *testing.T) {
	m, clock, _, coins := setup(t)
	require.NoError(t, m.Start(context.Background(), capital, 30*time.Second, true))
	clock.fire(0)

	_, err := m.Submit("late", "cairo")
	assert.ErrorIs(t, err, ErrNoActiveSession)
	entries, _ := coins.Entries(context.Background())
	assert.Empty(t, entries)
}

func TestStaleTimerIgnoredByNextSession(t *testing.T) {
	m, clock, _, coins := setup(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, capital, 30*time.Second, true))
	m.Close()
	assert.True(t, clock.timers[0].stopped)

	require.NoError(t, m.Start(ctx, capital, 30*time.Second, true))
	_, err := m.Submit("alice", "cairo")
	require.NoError(t, err)

	// the first session's callback runs late
	clock.fire(0)
	assert.True(t, m.Snapshot().Active)
	entries, _ := coins.Entries(ctx)
	assert.Empty(t, entries)

	clock.fire(1)
	bal, _ := coins.Balance(ctx, "alice")
	assert.Equal(t, int64(500), bal)
}

func TestConcurrentSubmitsDuringExpiry(t *testing.T) {
	m, clock, _, coins := setup(t)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, capital, 30*time.Second, true))

	var wg sync.WaitGroup
	accepted := make(chan string, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user%d", i)
			if ok, err := m.Submit(user, "Cairo"); err == nil && ok {
				accepted <- user
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		clock.fire(0)
	}()
	wg.Wait()
	close(accepted)

	// every accepted answer was paid exactly once and nobody else was
	want := map[string]bool{}
	for u := range accepted {
		want[u] = true
	}
	entries, err := coins.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, len(want))
	for _, e := range entries {
		assert.True(t, want[e.Username], e.Username)
		assert.Equal(t, int64(500), e.Value)
	}
}

type failingPayer struct{ calls int }

func (f *failingPayer) CreditCoins(context.Context, string, int64) (int64, error) {
	f.calls++
	return 0, errors.New("db down")
}

func TestPayoutFailureStillAnnouncesAndResets(t *testing.T) {
	clock := &fakeClock{}
	ann := &announcer{}
	payer := &failingPayer{}
	m := NewManager(payer, ann, "c", WithAfterFunc(clock.AfterFunc), WithReward(100))
	require.NoError(t, m.Start(context.Background(), capital, time.Second, true))
	_, _ = m.Submit("a", "cairo")
	_, _ = m.Submit("b", "cairo")
	clock.fire(0)

	assert.Equal(t, 2, payer.calls)
	assert.False(t, m.Snapshot().Active)
	assert.Contains(t, ann.last(), "awarded with 100 Coins")
}
