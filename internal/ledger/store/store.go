// Package store persists loyalty accounts and their append-only transaction
// log. Mutations go through Mutate, which holds an exclusive per-account lock
// while the caller computes the next state.
package store

import (
	"patron/internal/ledger/models"
)

// MutateFunc receives a private copy of the account. It mutates the copy
// and returns the transaction to append; an error discards both.
type MutateFunc func(acct *models.Account) (*models.Transaction, error)

const defaultListLimit = 50

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
