/**
 * @description
 * This file provides the PostgreSQL implementation of the `Journal` interface.
 * Records are kept in `ledger_journal` in append order. Posting records are also
 * projected into `ledger_transactions`, one row per leg, inside the same database
 * transaction so reporting queries can run against plain SQL.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var journalSchema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_journal (
		seq         BIGSERIAL PRIMARY KEY,
		kind        TEXT NOT NULL,
		payload     JSONB NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_transactions (
		transaction_id   BIGINT PRIMARY KEY,
		journal_seq      BIGINT NOT NULL REFERENCES ledger_journal (seq),
		account_id       TEXT NOT NULL,
		transaction_type TEXT NOT NULL CHECK (transaction_type IN ('debit', 'credit')),
		kind             TEXT NOT NULL,
		amount           NUMERIC(20, 2) NOT NULL CHECK (amount > 0),
		to_account_id    TEXT,
		from_account_id  TEXT,
		pair_id          BIGINT,
		occurred_at      TIMESTAMPTZ NOT NULL,
		description      TEXT,
		teller_id        TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_transactions_account_idx
		ON ledger_transactions (account_id, occurred_at, transaction_id)`,
}

// pgxDB is the subset of *pgxpool.Pool the journal uses.
type pgxDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresJournal is a Journal stored in PostgreSQL.
type PostgresJournal struct {
	db pgxDB
}

// NewPostgresJournal creates a journal on top of a pgx pool.
func NewPostgresJournal(db pgxDB) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// EnsureSchema creates the journal tables when they do not exist yet.
func (j *PostgresJournal) EnsureSchema(ctx context.Context) error {
	for _, stmt := range journalSchema {
		if _, err := j.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply journal schema: %w", err)
		}
	}
	return nil
}

// Append inserts rec and, for postings, its legs in a single database transaction.
func (j *PostgresJournal) Append(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode journal record: %w", err)
	}

	tx, err := j.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var seq int64
	err = tx.QueryRow(ctx,
		`INSERT INTO ledger_journal (kind, payload, recorded_at) VALUES ($1, $2, $3) RETURNING seq`,
		string(rec.Kind), payload, rec.RecordedAt,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to insert journal record: %w", err)
	}

	if rec.Posting != nil {
		insertLeg := `
			INSERT INTO ledger_transactions (
				transaction_id, journal_seq, account_id, transaction_type, kind, amount,
				to_account_id, from_account_id, pair_id, occurred_at, description, teller_id
			)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12)
		`
		for _, leg := range rec.Posting.Transactions {
			_, err = tx.Exec(ctx, insertLeg,
				leg.ID, seq, leg.AccountID, string(leg.Type), string(leg.Kind), leg.Amount.StringFixed(2),
				nullIfEmpty(leg.ToAccountID), nullIfEmpty(leg.FromAccountID), nullIfZero(leg.PairID),
				leg.Timestamp, nullIfEmpty(leg.Description), nullIfEmpty(leg.TellerID),
			)
			if err != nil {
				return fmt.Errorf("failed to insert ledger leg %d: %w", leg.ID, err)
			}
		}
	}

	return tx.Commit(ctx)
}

// Replay streams records in sequence order.
func (j *PostgresJournal) Replay(ctx context.Context, fn func(Record) error) error {
	rows, err := j.db.Query(ctx, `SELECT seq, payload FROM ledger_journal ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return fmt.Errorf("failed to scan journal record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return fmt.Errorf("journal record %d is corrupt: %w", seq, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close is a no-op; the pool is owned by the caller.
func (j *PostgresJournal) Close() error { return nil }

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZero(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
