package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/sphinx-bot/content"
	"github.com/onnwee/sphinx-bot/leaderboard"
	"github.com/onnwee/sphinx-bot/ledger"
	"github.com/onnwee/sphinx-bot/quiz"
	"github.com/onnwee/sphinx-bot/rewards"
	"github.com/onnwee/sphinx-bot/telemetry"
)

// ReplyStorageError is sent when a ledger read or write fails.
const ReplyStorageError = "Something went wrong, try again later."

// Message is one chat line, independent of the IRC client.
type Message struct {
	Channel     string
	User        string // lowercase login
	DisplayName string
	Text        string
	Moderator   bool
	Broadcaster bool
}

// Privileged reports whether the sender may run moderator commands.
func (m Message) Privileged() bool { return m.Moderator || m.Broadcaster }

// AttendanceService answers attendance queries.
type AttendanceService interface {
	Lookup(ctx context.Context, username string) (ledger.AttendanceRecord, error)
	MonthlyCounts(ctx context.Context, now time.Time) ([]ledger.Entry, error)
}

// RewardService reads and spends the gold and coin ledgers.
type RewardService interface {
	GoldBalance(ctx context.Context, username string) (int64, error)
	CoinBalance(ctx context.Context, username string) (int64, error)
	GoldEntries(ctx context.Context) ([]ledger.Entry, error)
	CoinEntries(ctx context.Context) ([]ledger.Entry, error)
	SeekWisdom(ctx context.Context, username string) (rewards.Wisdom, error)
	WisdomCost() int64
}

// QuizService runs quiz sessions.
type QuizService interface {
	Start(ctx context.Context, q content.Question, d time.Duration, privileged bool) error
	Submit(username, text string) (bool, error)
}

type handlerFunc func(ctx context.Context, msg Message) (string, error)

// Router maps chat lines to replies.
type Router struct {
	attendance AttendanceService
	rewards    RewardService
	quiz       QuizService
	bank       *content.Bank
	cooldown   *Cooldown
	quizFor    time.Duration
	now        func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	commands map[string]handlerFunc
}

// RouterConfig holds the Router's collaborators.
type RouterConfig struct {
	Attendance   AttendanceService
	Rewards      RewardService
	Quiz         QuizService
	Bank         *content.Bank
	Cooldown     *Cooldown
	QuizDuration time.Duration
	Now          func() time.Time
	Rand         *rand.Rand
}

// NewRouter builds a Router from cfg.
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		attendance: cfg.Attendance,
		rewards:    cfg.Rewards,
		quiz:       cfg.Quiz,
		bank:       cfg.Bank,
		cooldown:   cfg.Cooldown,
		quizFor:    cfg.QuizDuration,
		now:        cfg.Now,
		rng:        cfg.Rand,
	}
	if r.quizFor <= 0 {
		r.quizFor = quiz.DefaultDuration
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // G404: question pick only
	}
	r.commands = map[string]handlerFunc{
		"attendance": r.cmdAttendance,
		"streak":     r.cmdStreak,
		"monthly":    r.cmdMonthly,
		"coins":      r.cmdCoins,
		"coinboard":  r.cmdCoinboard,
		"wisdom":     r.cmdWisdom,
		"quiz":       r.cmdQuiz,
		"gold":       r.cmdGold,
		"goldtop":    r.cmdGoldtop,
		"test":       func(context.Context, Message) (string, error) { return "Testing", nil },
	}
	return r
}

// parseCommand returns the lowercased command name when text starts with "!".
func parseCommand(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "!") {
		return "", false
	}
	return strings.ToLower(strings.TrimPrefix(fields[0], "!")), true
}

// Handle returns the reply for msg, or "" when nothing should be said.
func (r *Router) Handle(ctx context.Context, msg Message) string {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("user", msg.User), slog.String("component", "chat"))

	if name, ok := parseCommand(msg.Text); ok {
		if h, known := r.commands[name]; known {
			if !r.cooldown.Allow(msg.User) {
				telemetry.CountThrottled()
				logger.Debug("command throttled", slog.String("command", name))
				return ""
			}
			telemetry.CountCommand(name)
			reply, err := h(ctx, msg)
			if err != nil {
				logger.Error("command failed", slog.String("command", name), slog.Any("err", err))
				return ReplyStorageError
			}
			return reply
		}
	}

	if r.quiz != nil {
		if ok, err := r.quiz.Submit(msg.User, msg.Text); err == nil && ok {
			logger.Debug("quiz answer accepted")
		}
	}
	return ""
}

func (r *Router) cmdAttendance(ctx context.Context, msg Message) (string, error) {
	rec, err := r.attendance.Lookup(ctx, msg.User)
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Sprintf("No attendance record found for %s.", msg.User), nil
	}
	if err != nil {
		return "", err
	}
	last := rec.Last
	if last == "" {
		last = "Never"
	}
	return fmt.Sprintf("%s has attended %d time(s), last seen on %s, streak: %d day(s).",
		msg.User, len(rec.Dates), last, rec.Streak), nil
}

func (r *Router) cmdStreak(ctx context.Context, msg Message) (string, error) {
	rec, err := r.attendance.Lookup(ctx, msg.User)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return "", err
	}
	return fmt.Sprintf("%s, your current attendance streak is %d day(s).", msg.User, rec.Streak), nil
}

func (r *Router) cmdMonthly(ctx context.Context, _ Message) (string, error) {
	counts, err := r.attendance.MonthlyCounts(ctx, r.now())
	if err != nil {
		return "", err
	}
	top, err := leaderboard.TopN(counts, leaderboard.DefaultSize)
	if errors.Is(err, leaderboard.ErrNoEntries) {
		return "No one has checked in yet this month.", nil
	}
	if err != nil {
		return "", err
	}
	return "📅 Monthly Attendance Leaderboard:\n" + leaderboard.Format(top, "check-ins"), nil
}

func (r *Router) cmdCoins(ctx context.Context, msg Message) (string, error) {
	bal, err := r.rewards.CoinBalance(ctx, msg.User)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s, you have %d coins.", msg.User, bal), nil
}

func (r *Router) cmdCoinboard(ctx context.Context, _ Message) (string, error) {
	entries, err := r.rewards.CoinEntries(ctx)
	if err != nil {
		return "", err
	}
	top, err := leaderboard.TopN(entries, leaderboard.DefaultSize)
	if errors.Is(err, leaderboard.ErrNoEntries) {
		return "No Coins Yet!", nil
	}
	if err != nil {
		return "", err
	}
	return "Leaderboard:\n" + leaderboard.Format(top, "coins"), nil
}

func (r *Router) cmdGold(ctx context.Context, msg Message) (string, error) {
	bal, err := r.rewards.GoldBalance(ctx, msg.User)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s, you have given %d gold to the cult.", msg.User, bal), nil
}

func (r *Router) cmdGoldtop(ctx context.Context, _ Message) (string, error) {
	entries, err := r.rewards.GoldEntries(ctx)
	if err != nil {
		return "", err
	}
	top, err := leaderboard.TopN(entries, leaderboard.DefaultSize)
	if errors.Is(err, leaderboard.ErrNoEntries) {
		return "No gold given yet!", nil
	}
	if err != nil {
		return "", err
	}
	return "Leaderboard:\n" + leaderboard.Format(top, "gold given"), nil
}

func (r *Router) cmdWisdom(ctx context.Context, msg Message) (string, error) {
	w, err := r.rewards.SeekWisdom(ctx, msg.User)
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return fmt.Sprintf("%s, you need at least %d coins to seek Her wisdom.", msg.User, r.rewards.WisdomCost()), nil
	}
	if err != nil {
		return "", err
	}
	if w.Good && w.Tarot != nil {
		return fmt.Sprintf("%s... %s %s", msg.User, w.Outcome, w.Tarot.Description), nil
	}
	return fmt.Sprintf("%s... %s", msg.User, w.Outcome), nil
}

func (r *Router) cmdQuiz(ctx context.Context, msg Message) (string, error) {
	r.rngMu.Lock()
	q := r.bank.RandomQuestion(r.rng)
	r.rngMu.Unlock()

	err := r.quiz.Start(ctx, q, r.quizFor, msg.Privileged())
	switch {
	case err == nil, errors.Is(err, quiz.ErrUnauthorized):
		return "", nil
	case errors.Is(err, quiz.ErrAlreadyActive):
		return "There is already a quiz ongoing! Please wait for it to finish.", nil
	default:
		return "", err
	}
}
