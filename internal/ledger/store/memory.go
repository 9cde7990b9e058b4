package store

import (
	"context"
	"sync"
	"time"

	"patron/internal/ledger/models"
	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/sentinel"
)

// numAccountShards spreads per-account locks so unrelated customers rarely
// contend.
const numAccountShards = 128

// defaultMutateTimeout bounds a mutation when the caller set no deadline.
const defaultMutateTimeout = 5 * time.Second

// InMemory keeps accounts in maps. Mutations on the same customer serialize
// on a sharded mutex; the RWMutex only guards the maps themselves.
type InMemory struct {
	shards [numAccountShards]sync.Mutex

	mu           sync.RWMutex
	accounts     map[id.CustomerID]*models.Account
	transactions map[id.AccountID][]*models.Transaction

	timeout time.Duration
}

func NewInMemory() *InMemory {
	return &InMemory{
		accounts:     map[id.CustomerID]*models.Account{},
		transactions: map[id.AccountID][]*models.Transaction{},
		timeout:      defaultMutateTimeout,
	}
}

// Enroll stores acct unless the customer already has an account, in which
// case the existing one is returned with created=false.
func (s *InMemory) Enroll(_ context.Context, acct *models.Account) (*models.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.accounts[acct.CustomerID]; ok {
		return existing.Clone(), false, nil
	}
	s.accounts[acct.CustomerID] = acct.Clone()
	return acct.Clone(), true, nil
}

func (s *InMemory) FindAccount(_ context.Context, customerID id.CustomerID) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[customerID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return acct.Clone(), nil
}

// ListTransactions returns the newest entries first.
func (s *InMemory) ListTransactions(_ context.Context, accountID id.AccountID, limit int) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.transactions[accountID]
	limit = min(clampLimit(limit), len(log))
	out := make([]*models.Transaction, 0, limit)
	for i := len(log) - 1; i >= len(log)-limit; i-- {
		out = append(out, log[i].Clone())
	}
	return out, nil
}

// Mutate runs fn under the customer's shard lock and commits the account
// and transaction together.
func (s *InMemory) Mutate(ctx context.Context, customerID id.CustomerID, fn MutateFunc) (*models.Account, *models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeTimeout, "mutation aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	shard := &s.shards[shardFor(customerID.String())]
	shard.Lock()
	defer shard.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeTimeout, "mutation aborted: context cancelled")
	}

	acct, err := s.FindAccount(ctx, customerID)
	if err != nil {
		return nil, nil, err
	}
	txn, err := fn(acct)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	s.accounts[customerID] = acct.Clone()
	s.transactions[acct.ID] = append(s.transactions[acct.ID], txn.Clone())
	s.mu.Unlock()
	return acct, txn, nil
}

// Transactions returns copies of every entry for the account in append
// order.
func (s *InMemory) Transactions(accountID id.AccountID) []*models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Transaction, 0, len(s.transactions[accountID]))
	for _, txn := range s.transactions[accountID] {
		out = append(out, txn.Clone())
	}
	return out
}

func shardFor(key string) int {
	return int(fnv1a(key) % numAccountShards)
}

func fnv1a(s string) uint32 {
	const (
		offset = 2166136261
		prime  = 16777619
	)
	h := uint32(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}
