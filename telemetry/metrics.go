// Package telemetry provides Prometheus metrics, tracing and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are built unregistered so package tests can count without Init;
// Init attaches them to the default registry once.
var (
	once sync.Once

	factory = promauto.With(nil)

	CheckIns = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "sphinx_checkins_total", Help: "Attendance check-ins by result (recorded, duplicate, error)",
	}, []string{"result"})

	Notifications = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "sphinx_eventsub_notifications_total", Help: "Verified EventSub notifications by subscription type",
	}, []string{"type"})

	SignatureFailures = factory.NewCounter(prometheus.CounterOpts{
		Name: "sphinx_eventsub_signature_failures_total", Help: "EventSub deliveries rejected for a bad or missing signature",
	})

	Rejections = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "sphinx_eventsub_rejections_total", Help: "EventSub deliveries dropped before dispatch by reason",
	}, []string{"reason"})

	Revocations = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "sphinx_eventsub_revocations_total", Help: "Subscription revocations by type",
	}, []string{"type"})

	DispatchDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name: "sphinx_eventsub_dispatch_duration_seconds", Help: "Time spent handling one notification", Buckets: prometheus.DefBuckets,
	})

	Credits = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "sphinx_ledger_credited_total", Help: "Units credited per ledger",
	}, []string{"ledger"})

	Debits = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "sphinx_ledger_debited_total", Help: "Units debited per ledger",
	}, []string{"ledger"})

	QuizSessions = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "sphinx_quiz_sessions_total", Help: "Quiz sessions by outcome (started, answered, unanswered)",
	}, []string{"result"})

	QuizWinners = factory.NewCounter(prometheus.CounterOpts{
		Name: "sphinx_quiz_winners_total", Help: "Correct quiz answers paid out",
	})

	Commands = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "sphinx_chat_commands_total", Help: "Chat commands handled by name",
	}, []string{"command"})

	CommandsThrottled = factory.NewCounter(prometheus.CounterOpts{
		Name: "sphinx_chat_commands_throttled_total", Help: "Chat commands ignored by the per-user cooldown",
	})
)

// Init registers metrics with the default registry (idempotent).
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			CheckIns, Notifications, SignatureFailures, Rejections, Revocations, DispatchDuration,
			Credits, Debits, QuizSessions, QuizWinners, Commands, CommandsThrottled,
		)
	})
}

// CountCheckIn records one attendance check-in attempt.
func CountCheckIn(result string) { CheckIns.WithLabelValues(result).Inc() }

// CountNotification records a verified notification of subType.
func CountNotification(subType string) { Notifications.WithLabelValues(subType).Inc() }

// CountSignatureFailure records a delivery with a bad signature.
func CountSignatureFailure() { SignatureFailures.Inc() }

// CountRejection records a delivery dropped for reason (stale, duplicate, malformed).
func CountRejection(reason string) { Rejections.WithLabelValues(reason).Inc() }

// CountRevocation records a revoked subscription.
func CountRevocation(subType string) { Revocations.WithLabelValues(subType).Inc() }

// AddCredit adds amount to the credited total of ledger.
func AddCredit(ledger string, amount int64) { Credits.WithLabelValues(ledger).Add(float64(amount)) }

// AddDebit adds amount to the debited total of ledger.
func AddDebit(ledger string, amount int64) { Debits.WithLabelValues(ledger).Add(float64(amount)) }

// CountQuiz records a quiz lifecycle event.
func CountQuiz(result string) { QuizSessions.WithLabelValues(result).Inc() }

// AddQuizWinners records n paid winners.
func AddQuizWinners(n int) { QuizWinners.Add(float64(n)) }

// CountCommand records a handled chat command.
func CountCommand(name string) { Commands.WithLabelValues(name).Inc() }

// CountThrottled records a command dropped by the cooldown.
func CountThrottled() { CommandsThrottled.Inc() }

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
