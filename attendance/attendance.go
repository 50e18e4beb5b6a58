// Package attendance implements the daily check-in and streak state machine.
//
// A check-in is keyed by UTC calendar day. Re-checking in on the same day is
// a no-op; checking in the day after the previous check-in extends the
// streak, any larger gap resets it to 1.
package attendance

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/onnwee/sphinx-bot/ledger"
	"github.com/onnwee/sphinx-bot/telemetry"
)

// DayLayout is the calendar-day format stored in AttendanceRecord.Dates.
const DayLayout = "2006-01-02"

// Day formats t as its UTC calendar day.
func Day(t time.Time) string { return t.UTC().Format(DayLayout) }

// Engine applies check-ins to an attendance ledger.
type Engine struct {
	store ledger.Attendance
}

// NewEngine returns an Engine over store.
func NewEngine(store ledger.Attendance) *Engine {
	return &Engine{store: store}
}

// CheckIn records a check-in for username on today's UTC calendar day and
// returns the resulting record plus whether anything changed.
func (e *Engine) CheckIn(ctx context.Context, username string, today time.Time) (ledger.AttendanceRecord, bool, error) {
	day := Day(today)
	yesterday := Day(today.UTC().AddDate(0, 0, -1))

	var changed bool
	rec, err := e.store.Update(ctx, username, func(rec *ledger.AttendanceRecord, exists bool) (bool, error) {
		changed = apply(rec, exists, day, yesterday)
		return changed, nil
	})
	if err != nil {
		telemetry.CountCheckIn("error")
		return ledger.AttendanceRecord{}, false, err
	}
	if changed {
		telemetry.CountCheckIn("recorded")
		slog.Debug("attendance check-in recorded",
			slog.String("user", username), slog.String("day", day), slog.Int("streak", rec.Streak),
			slog.String("component", "attendance"))
	} else {
		telemetry.CountCheckIn("duplicate")
	}
	return rec, changed, nil
}

// apply is the pure state transition for one check-in.
func apply(rec *ledger.AttendanceRecord, exists bool, day, yesterday string) bool {
	if !exists {
		rec.Dates = []string{day}
		rec.Last = day
		rec.Streak = 1
		return true
	}
	if rec.HasDate(day) {
		return false
	}
	if day < rec.Last {
		// A late event for a past day: keep the history sorted, leave the streak alone.
		rec.Dates = append(rec.Dates, day)
		sort.Strings(rec.Dates)
		return true
	}
	rec.Dates = append(rec.Dates, day)
	if rec.Last == yesterday {
		rec.Streak++
	} else {
		rec.Streak = 1
	}
	rec.Last = day
	return true
}

// Lookup returns the record for username or ledger.ErrNotFound.
func (e *Engine) Lookup(ctx context.Context, username string) (ledger.AttendanceRecord, error) {
	return e.store.Get(ctx, username)
}

// MonthlyCounts returns, for every user in insertion order, how many
// check-in days fall inside now's UTC month. It is recomputed from the
// stored dates on every call.
func (e *Engine) MonthlyCounts(ctx context.Context, now time.Time) ([]ledger.Entry, error) {
	records, err := e.store.All(ctx)
	if err != nil {
		return nil, err
	}
	prefix := now.UTC().Format("2006-01-")
	out := make([]ledger.Entry, 0, len(records))
	for _, rec := range records {
		var n int64
		for _, d := range rec.Dates {
			if len(d) >= len(prefix) && d[:len(prefix)] == prefix {
				n++
			}
		}
		out = append(out, ledger.Entry{Username: rec.Username, Value: n})
	}
	return out, nil
}
