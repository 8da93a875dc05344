/**
 * @description
 * The journal is the durable, append-only record of every ledger mutation. The
 * in-memory ledger is rebuilt on startup by replaying it, so restarting the
 * service reproduces identical balances, ids and aggregates.
 *
 * A record is written before the mutation it describes becomes visible. A
 * transfer is written as one record holding both legs, so replay restores both
 * legs or neither.
 */

package store

import (
	"context"
	"sync"
	"time"

	"github.com/transfa/ledger-service/internal/domain"
)

// RecordKind identifies what a journal record carries.
type RecordKind string

const (
	RecordClient  RecordKind = "client"
	RecordProduct RecordKind = "product"
	RecordBranch  RecordKind = "branch"
	RecordTeller  RecordKind = "teller"
	RecordAccount RecordKind = "account"
	RecordPosting RecordKind = "posting"
)

// Journal persists ledger records in append order.
type Journal interface {
	Append(ctx context.Context, rec Record) error
	Replay(ctx context.Context, fn func(Record) error) error
	Close() error
}

// Record is one journal entry. Exactly one payload field is set, matching Kind.
type Record struct {
	Kind       RecordKind      `json:"kind"`
	RecordedAt time.Time       `json:"recorded_at"`
	Client     *ClientRecord   `json:"client,omitempty"`
	Product    *domain.Product `json:"product,omitempty"`
	Branch     *domain.Branch  `json:"branch,omitempty"`
	Teller     *TellerRecord   `json:"teller,omitempty"`
	Account    *AccountRecord  `json:"account,omitempty"`
	Posting    *PostingRecord  `json:"posting,omitempty"`
}

// ClientRecord is the persisted form of a client, including the credential hash
// that the domain model keeps out of JSON responses.
type ClientRecord struct {
	ID             string    `json:"client_id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Email          string    `json:"email"`
	CredentialHash string    `json:"credential_hash"`
	CreatedAt      time.Time `json:"created_at"`
}

// TellerRecord is the persisted form of a teller.
type TellerRecord struct {
	EmployeeID   string    `json:"employee_id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	BranchID     string    `json:"branch_id,omitempty"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccountRecord is the persisted form of an account. Balances are never journaled;
// they are re-derived from postings.
type AccountRecord struct {
	ID        string    `json:"account_id"`
	ClientID  string    `json:"client_id"`
	ProductID string    `json:"product_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PostingRecord holds the legs committed together by one Append.
type PostingRecord struct {
	Transactions   []domain.Transaction `json:"transactions"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
	Fingerprint    string               `json:"fingerprint,omitempty"`
}

func clientRecord(c domain.Client) *ClientRecord {
	return &ClientRecord{
		ID:             c.ID,
		FirstName:      c.FirstName,
		LastName:       c.LastName,
		Email:          c.Email,
		CredentialHash: c.CredentialHash,
		CreatedAt:      c.CreatedAt,
	}
}

func (r ClientRecord) client() domain.Client {
	return domain.Client{
		ID:             r.ID,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		Email:          r.Email,
		CredentialHash: r.CredentialHash,
		CreatedAt:      r.CreatedAt,
	}
}

func tellerRecord(t domain.Teller) *TellerRecord {
	return &TellerRecord{
		EmployeeID:   t.EmployeeID,
		FirstName:    t.FirstName,
		LastName:     t.LastName,
		BranchID:     t.BranchID,
		PasswordHash: t.PasswordHash,
		CreatedAt:    t.CreatedAt,
	}
}

func (r TellerRecord) teller() domain.Teller {
	return domain.Teller{
		EmployeeID:   r.EmployeeID,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		BranchID:     r.BranchID,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
	}
}

// MemoryJournal keeps records in process memory. It provides no durability and is
// meant for tests and throwaway local runs.
type MemoryJournal struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryJournal returns an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

func (j *MemoryJournal) Replay(ctx context.Context, fn func(Record) error) error {
	j.mu.Lock()
	records := make([]Record, len(j.records))
	copy(records, j.records)
	j.mu.Unlock()

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of records appended so far.
func (j *MemoryJournal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

func (j *MemoryJournal) Close() error { return nil }
