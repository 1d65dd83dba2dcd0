// Package ledger implements the audit ledger (SPEC_FULL.md's ambient-stack
// supplement): a single-table, signature-keyed record of every transaction
// the crank submits, backed by mattn/go-sqlite3. It adapts the generic
// ExecContext wrapper shape from the teacher's sql/export.WriterImpl, but
// not that package's Dialect/Schema/Collection machinery — a single fixed
// table needs no cross-dialect query builder (see DESIGN.md).
package ledger

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Status is the audit ledger's transaction lifecycle. Transitions are
// monotonic except that failed and expired are terminal (spec.md SPEC_FULL
// ambient-stack supplement).
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFinalized Status = "finalized"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// terminal reports whether a status accepts no further transitions.
func terminal(s Status) bool {
	return s == StatusFailed || s == StatusExpired || s == StatusFinalized
}

// rank orders non-terminal progression for the monotonic-transition check;
// failed/expired are reachable from any non-terminal status.
var rank = map[Status]int{
	StatusPending:   0,
	StatusConfirmed: 1,
	StatusFinalized: 2,
}

// Entry is one row of the audit ledger.
type Entry struct {
	Signature      string
	TxType         string
	Status         Status
	Deployer       string
	FeeLamports    uint64
	AmountLamports uint64
	RoundID        uint64
	CreatedAtUnix  int64
	UpdatedAtUnix  int64
}

// Ledger wraps a *sql.DB opened against a single sqlite3 file.
type Ledger struct {
	db *sql.DB
}

// Open creates (or reuses) the sqlite3 database at path and ensures the
// transactions table exists.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 serializes writers; avoid pool contention errors

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	signature        TEXT PRIMARY KEY,
	tx_type          TEXT NOT NULL,
	status           TEXT NOT NULL,
	deployer         TEXT NOT NULL,
	fee_lamports     INTEGER NOT NULL,
	amount_lamports  INTEGER NOT NULL,
	round_id         INTEGER NOT NULL,
	created_at_unix  INTEGER NOT NULL,
	updated_at_unix  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
CREATE INDEX IF NOT EXISTS idx_transactions_deployer ON transactions(deployer);
`
	_, err := l.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// RecordSent inserts a new pending entry for a just-submitted transaction.
func (l *Ledger) RecordSent(ctx context.Context, e Entry) error {
	e.Status = StatusPending
	_, err := l.db.ExecContext(ctx, `
INSERT INTO transactions (signature, tx_type, status, deployer, fee_lamports, amount_lamports, round_id, created_at_unix, updated_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Signature, e.TxType, string(e.Status), e.Deployer, e.FeeLamports, e.AmountLamports, e.RoundID, e.CreatedAtUnix, e.UpdatedAtUnix)
	if err != nil {
		return fmt.Errorf("ledger: record sent: %w", err)
	}
	return nil
}

// UpdateStatus transitions signature's status, enforcing that a terminal
// status is never overwritten.
func (l *Ledger) UpdateStatus(ctx context.Context, signature string, status Status, updatedAtUnix int64) error {
	current, err := l.statusOf(ctx, signature)
	if err != nil {
		return err
	}
	if terminal(current) {
		return fmt.Errorf("ledger: signature %s already terminal (%s), refusing transition to %s", signature, current, status)
	}
	if !terminal(status) && rank[status] < rank[current] {
		return fmt.Errorf("ledger: signature %s cannot regress from %s to %s", signature, current, status)
	}

	_, err = l.db.ExecContext(ctx, `UPDATE transactions SET status = ?, updated_at_unix = ? WHERE signature = ?`,
		string(status), updatedAtUnix, signature)
	if err != nil {
		return fmt.Errorf("ledger: update status: %w", err)
	}
	return nil
}

func (l *Ledger) statusOf(ctx context.Context, signature string) (Status, error) {
	var status string
	err := l.db.QueryRowContext(ctx, `SELECT status FROM transactions WHERE signature = ?`, signature).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("ledger: status of %s: %w", signature, err)
	}
	return Status(status), nil
}

// Get fetches the full entry for signature.
func (l *Ledger) Get(ctx context.Context, signature string) (Entry, error) {
	var e Entry
	var status string
	err := l.db.QueryRowContext(ctx, `
SELECT signature, tx_type, status, deployer, fee_lamports, amount_lamports, round_id, created_at_unix, updated_at_unix
FROM transactions WHERE signature = ?`, signature).Scan(
		&e.Signature, &e.TxType, &status, &e.Deployer, &e.FeeLamports, &e.AmountLamports, &e.RoundID, &e.CreatedAtUnix, &e.UpdatedAtUnix)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: get %s: %w", signature, err)
	}
	e.Status = Status(status)
	return e, nil
}

// CountByStatus returns the number of rows with the given status. No CLI
// command calls it.
func (l *Ledger) CountByStatus(ctx context.Context, status Status) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ledger: count by status: %w", err)
	}
	return n, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}
