package models

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	id "patron/pkg/domain"
)

type TransactionType string

const (
	TransactionEarn   TransactionType = "earn"
	TransactionRedeem TransactionType = "redeem"
	TransactionAdjust TransactionType = "adjust"
	TransactionExpire TransactionType = "expire"
	TransactionStamp  TransactionType = "stamp"
)

// Transaction is an immutable ledger line. IDs are ULIDs, so lexical order
// is creation order.
type Transaction struct {
	ID           string          `json:"id"`
	AccountID    id.AccountID    `json:"account_id"`
	Type         TransactionType `json:"type"`
	Points       int64           `json:"points"`
	BalanceAfter int64           `json:"balance_after"`
	Description  string          `json:"description"`
	Reference    string          `json:"reference,omitempty"`
	CreatedBy    string          `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// EntryOptions carries the descriptive fields of a ledger line.
type EntryOptions struct {
	Description string `json:"description"`
	Reference   string `json:"reference"`
	CreatedBy   string `json:"created_by"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newULID is monotonic within a process, so entries created in the same
// millisecond still sort in append order.
func newULID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// NewTransaction stamps entry with a fresh ULID and the caller's metadata.
func NewTransaction(accountID id.AccountID, e Entry, opts EntryOptions, now time.Time) *Transaction {
	return &Transaction{
		ID:           newULID(now),
		AccountID:    accountID,
		Type:         e.Type,
		Points:       e.Points,
		BalanceAfter: e.BalanceAfter,
		Description:  opts.Description,
		Reference:    opts.Reference,
		CreatedBy:    opts.CreatedBy,
		CreatedAt:    now,
	}
}

// Result is what a ledger mutation returns to callers.
type Result struct {
	Account       *Account     `json:"account"`
	Transaction   *Transaction `json:"transaction"`
	CardCompleted bool         `json:"card_completed"`
	TierChanged   bool         `json:"tier_changed"`
	PreviousTier  Tier         `json:"previous_tier,omitempty"`
}
