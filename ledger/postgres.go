package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// PostgresBalances stores one ledger kind in the ledger_balances table.
// Credits and debits are single UPDATE statements, so row locking in
// Postgres serializes concurrent writes to the same username.
type PostgresBalances struct {
	db   *sql.DB
	kind Kind
}

// NewPostgresBalances returns a Balances view over ledger_balances for kind.
func NewPostgresBalances(db *sql.DB, kind Kind) *PostgresBalances {
	return &PostgresBalances{db: db, kind: kind}
}

func (p *PostgresBalances) Balance(ctx context.Context, username string) (int64, error) {
	var v int64
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO ledger_balances (ledger, username, balance) VALUES ($1, $2, 0)
		 ON CONFLICT (ledger, username) DO UPDATE SET ledger = EXCLUDED.ledger
		 RETURNING balance`, string(p.kind), username).Scan(&v)
	if err != nil {
		return 0, storageErr("balance "+string(p.kind), err)
	}
	return v, nil
}

func (p *PostgresBalances) Credit(ctx context.Context, username string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var v int64
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO ledger_balances (ledger, username, balance) VALUES ($1, $2, $3)
		 ON CONFLICT (ledger, username) DO UPDATE
		   SET balance = ledger_balances.balance + EXCLUDED.balance, updated_at = NOW()
		 RETURNING balance`, string(p.kind), username, amount).Scan(&v)
	if err != nil {
		return 0, storageErr("credit "+string(p.kind), err)
	}
	return v, nil
}

func (p *PostgresBalances) Debit(ctx context.Context, username string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var v int64
	err := p.db.QueryRowContext(ctx,
		`UPDATE ledger_balances SET balance = balance - $3, updated_at = NOW()
		 WHERE ledger = $1 AND username = $2 AND balance >= $3
		 RETURNING balance`, string(p.kind), username, amount).Scan(&v)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, storageErr("debit "+string(p.kind), err)
	}
	// No row matched: either the user has no entry or too little balance.
	cur, berr := p.Balance(ctx, username)
	if berr != nil {
		return 0, berr
	}
	return cur, ErrInsufficientFunds
}

func (p *PostgresBalances) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT username, balance FROM ledger_balances WHERE ledger = $1 ORDER BY id ASC`, string(p.kind))
	if err != nil {
		return nil, storageErr("entries "+string(p.kind), err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	out := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Username, &e.Value); err != nil {
			return nil, storageErr("entries scan", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("entries iterate", err)
	}
	return out, nil
}

// PostgresAttendance stores AttendanceRecords in the attendance table.
// Update takes a transaction-scoped advisory lock on the username so the
// first check-in (no row to lock yet) is serialized as well.
type PostgresAttendance struct {
	db *sql.DB
}

// NewPostgresAttendance returns an Attendance backed by db.
func NewPostgresAttendance(db *sql.DB) *PostgresAttendance {
	return &PostgresAttendance{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttendance(row rowScanner) (AttendanceRecord, error) {
	var rec AttendanceRecord
	var last sql.NullString
	var dates []string
	if err := row.Scan(&rec.Username, pq.Array(&dates), &last, &rec.Streak); err != nil {
		return AttendanceRecord{}, err
	}
	rec.Dates = dates
	rec.Last = last.String
	return rec, nil
}

func (p *PostgresAttendance) Get(ctx context.Context, username string) (AttendanceRecord, error) {
	rec, err := scanAttendance(p.db.QueryRowContext(ctx,
		`SELECT username, dates, last_day, streak FROM attendance WHERE username = $1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return AttendanceRecord{}, ErrNotFound
	}
	if err != nil {
		return AttendanceRecord{}, storageErr("attendance get", err)
	}
	return rec, nil
}

func (p *PostgresAttendance) Update(ctx context.Context, username string, fn UpdateFunc) (AttendanceRecord, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return AttendanceRecord{}, storageErr("attendance begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, username); err != nil {
		return AttendanceRecord{}, storageErr("attendance lock", err)
	}

	rec, err := scanAttendance(tx.QueryRowContext(ctx,
		`SELECT username, dates, last_day, streak FROM attendance WHERE username = $1`, username))
	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
		rec = AttendanceRecord{Username: username}
	} else if err != nil {
		return AttendanceRecord{}, storageErr("attendance read", err)
	}

	changed, err := fn(&rec, exists)
	if err != nil {
		return AttendanceRecord{}, err
	}
	if !changed {
		return rec, nil
	}
	rec.Username = username

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO attendance (username, dates, last_day, streak) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (username) DO UPDATE
		   SET dates = EXCLUDED.dates, last_day = EXCLUDED.last_day, streak = EXCLUDED.streak, updated_at = NOW()`,
		username, pq.Array(rec.Dates), rec.Last, rec.Streak); err != nil {
		return AttendanceRecord{}, storageErr("attendance upsert", err)
	}
	if err := tx.Commit(); err != nil {
		return AttendanceRecord{}, storageErr("attendance commit", err)
	}
	committed = true
	return rec, nil
}

func (p *PostgresAttendance) All(ctx context.Context) ([]AttendanceRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT username, dates, last_day, streak FROM attendance ORDER BY id ASC`)
	if err != nil {
		return nil, storageErr("attendance list", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	out := make([]AttendanceRecord, 0)
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, storageErr("attendance scan", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("attendance iterate", err)
	}
	return out, nil
}

// NewPostgresStore wires the Postgres ledgers over one connection pool.
func NewPostgresStore(db *sql.DB) *Store {
	return &Store{
		Gold:       NewPostgresBalances(db, Gold),
		Coins:      NewPostgresBalances(db, Coins),
		Attendance: NewPostgresAttendance(db),
		Ping:       db.PingContext,
	}
}
