// Package quiz runs timed chat quizzes. One session may be active at a time;
// every correct answer submitted before the timer fires is paid once the
// session closes.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/sphinx-bot/content"
	"github.com/onnwee/sphinx-bot/telemetry"
)

const (
	// DefaultDuration is how long a session accepts answers.
	DefaultDuration = 30 * time.Second
	// DefaultReward is the coin payout per winner.
	DefaultReward = 500
)

var (
	ErrUnauthorized     = errors.New("quiz: only moderators or the broadcaster can start a quiz")
	ErrAlreadyActive    = errors.New("quiz: a quiz is already running")
	ErrNoActiveSession  = errors.New("quiz: no active quiz")
	errPayoutIncomplete = errors.New("quiz: some winners were not paid")
)

// CoinCrediter pays winners.
type CoinCrediter interface {
	CreditCoins(ctx context.Context, username string, amount int64) (int64, error)
}

// Announcer posts a message to a chat channel.
type Announcer interface {
	Say(channel, message string)
}

// Timer is the part of *time.Timer the manager needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Snapshot is a copy of the session state.
type Snapshot struct {
	Active   bool
	Question string
	Answer   string
	Winners  []string
	Deadline time.Time
}

// Manager owns the quiz state machine (Idle -> Active -> Idle). All
// transitions hold mu; payouts and announcements happen after release.
type Manager struct {
	payer   CoinCrediter
	ann     Announcer
	channel string
	reward  int64
	after   AfterFunc
	now     func() time.Time

	mu       sync.Mutex
	active   bool
	question content.Question
	winners  []string
	won      map[string]struct{}
	deadline time.Time
	timer    Timer
	gen      uint64
}

// Option customizes a Manager.
type Option func(*Manager)

// WithReward sets the per-winner payout.
func WithReward(coins int64) Option {
	return func(m *Manager) {
		if coins > 0 {
			m.reward = coins
		}
	}
}

// WithAfterFunc replaces time.AfterFunc, for tests.
func WithAfterFunc(f AfterFunc) Option { return func(m *Manager) { m.after = f } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager returns an idle Manager announcing to channel.
func NewManager(payer CoinCrediter, ann Announcer, channel string, opts ...Option) *Manager {
	m := &Manager{
		payer:   payer,
		ann:     ann,
		channel: channel,
		reward:  DefaultReward,
		after:   realAfterFunc,
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) say(msg string) {
	if m.ann != nil {
		m.ann.Say(m.channel, msg)
	}
}

// Start opens a session for q lasting d. Only privileged callers may start,
// and an active session is left untouched.
func (m *Manager) Start(ctx context.Context, q content.Question, d time.Duration, privileged bool) error {
	if !privileged {
		return ErrUnauthorized
	}
	if d <= 0 {
		d = DefaultDuration
	}

	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	m.gen++
	gen := m.gen
	m.active = true
	m.question = q
	m.winners = nil
	m.won = make(map[string]struct{})
	m.deadline = m.now().Add(d)
	m.timer = m.after(d, func() { m.expire(gen) })
	m.mu.Unlock()

	telemetry.CountQuiz("started")
	telemetry.LoggerWithCorr(ctx).Info("quiz started", slog.String("question", q.Q), slog.Duration("duration", d), slog.String("component", "quiz"))
	m.say(fmt.Sprintf("📢 QUIZ TIME: %s (You have %d seconds to answer!)", q.Q, int(d.Round(time.Second)/time.Second)))
	return nil
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Submit checks text against the active answer and records username as a
// winner at most once. It reports whether the answer was correct.
func (m *Manager) Submit(username, text string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return false, ErrNoActiveSession
	}
	if normalize(text) != normalize(m.question.A) {
		return false, nil
	}
	if _, ok := m.won[username]; !ok {
		m.won[username] = struct{}{}
		m.winners = append(m.winners, username)
	}
	return true, nil
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{Active: m.active}
	if m.active {
		s.Question = m.question.Q
		s.Answer = m.question.A
		s.Winners = append([]string(nil), m.winners...)
		s.Deadline = m.deadline
	}
	return s
}

// Close stops any pending timer and abandons the session without payouts.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.active = false
	m.winners = nil
	m.won = nil
	m.gen++
}

// expire settles session gen. Timers from earlier sessions are ignored.
func (m *Manager) expire(gen uint64) {
	m.mu.Lock()
	if !m.active || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.active = false
	winners := m.winners
	answer := m.question.A
	m.winners = nil
	m.won = nil
	m.timer = nil
	m.mu.Unlock()

	if err := m.pay(winners); err != nil {
		slog.Error("quiz payout incomplete", slog.Any("err", err), slog.String("component", "quiz"))
	}

	if len(winners) == 0 {
		telemetry.CountQuiz("unanswered")
		m.say(fmt.Sprintf("⏱ Time's up! No one got the correct answer. It was: %s.", answer))
		return
	}
	telemetry.CountQuiz("answered")
	telemetry.AddQuizWinners(len(winners))
	m.say(fmt.Sprintf("✅ Time's up! Congrats to: %s! It was %s. They have been awarded with %d Coins!",
		strings.Join(winners, ", "), answer, m.reward))
}

func (m *Manager) pay(winners []string) error {
	if len(winners) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var failed []error
	for _, w := range winners {
		if _, err := m.payer.CreditCoins(ctx, w, m.reward); err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", w, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %w", errPayoutIncomplete, errors.Join(failed...))
	}
	return nil
}
