// Package ledger defines the keyed stores backing gold, coins and attendance.
//
// Engines only talk to the Balances and Attendance interfaces. Two backends
// are provided: an in-memory store (dev mode and tests) and a Postgres store
// (production). Both serialize writes for the same username and let
// different usernames proceed in parallel.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a lookup addresses a username with no record.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrInsufficientFunds is returned by Debit when the balance is below the amount.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrStorage marks failures of the backing store; the operation did not commit.
	ErrStorage = errors.New("ledger: storage failure")
	// ErrInvalidAmount is returned by Credit and Debit for amounts <= 0.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// Kind names one of the independent balance ledgers.
type Kind string

const (
	Gold  Kind = "gold"
	Coins Kind = "coins"
)

// Entry is one username/value pair of a ledger.
type Entry struct {
	Username string
	Value    int64
}

// AttendanceRecord is the per-user check-in history.
// Dates holds unique YYYY-MM-DD (UTC) days in chronological order and Last
// is always the final element.
type AttendanceRecord struct {
	Username string   `json:"username"`
	Dates    []string `json:"dates"`
	Last     string   `json:"last"`
	Streak   int      `json:"streak"`
}

// Clone returns a deep copy so callers never alias store-owned slices.
func (r AttendanceRecord) Clone() AttendanceRecord {
	out := r
	out.Dates = append([]string(nil), r.Dates...)
	return out
}

// HasDate reports whether day is already recorded.
func (r AttendanceRecord) HasDate(day string) bool {
	for _, d := range r.Dates {
		if d == day {
			return true
		}
	}
	return false
}

// Balances is a numeric ledger keyed by username.
type Balances interface {
	// Balance returns the current balance, creating a zero entry if none exists.
	Balance(ctx context.Context, username string) (int64, error)
	// Credit adds amount (> 0) and returns the new balance.
	Credit(ctx context.Context, username string, amount int64) (int64, error)
	// Debit subtracts amount (> 0) atomically, failing with ErrInsufficientFunds
	// (and no mutation) when the balance is lower than amount.
	Debit(ctx context.Context, username string, amount int64) (int64, error)
	// Entries lists every entry in insertion order.
	Entries(ctx context.Context) ([]Entry, error)
}

// UpdateFunc mutates rec in place. exists is false when no record was stored
// yet. Returning changed=false skips the write.
type UpdateFunc func(rec *AttendanceRecord, exists bool) (changed bool, err error)

// Attendance stores AttendanceRecords keyed by username.
type Attendance interface {
	Get(ctx context.Context, username string) (AttendanceRecord, error)
	// Update runs fn as an atomic read-modify-write for one username.
	Update(ctx context.Context, username string, fn UpdateFunc) (AttendanceRecord, error)
	// All lists every record in insertion order.
	All(ctx context.Context) ([]AttendanceRecord, error)
}

// Store bundles the three ledgers the bot uses.
type Store struct {
	Gold       Balances
	Coins      Balances
	Attendance Attendance
	// Ping checks backend reachability; nil for backends that are always up.
	Ping func(ctx context.Context) error
}

// Healthy reports whether the backing store answers.
func (s *Store) Healthy(ctx context.Context) error {
	if s.Ping == nil {
		return nil
	}
	return s.Ping(ctx)
}
