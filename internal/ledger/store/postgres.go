package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"patron/internal/ledger/models"
	"patron/internal/platform/postgres"
	id "patron/pkg/domain"
	"patron/pkg/platform/sentinel"
	"patron/pkg/platform/tx"

	"github.com/google/uuid"
)

const accountColumns = `id, customer_id, points_balance, lifetime_points, stamps_current,
	stamps_target, stamps_completed, tier, is_active, enrolled_at, updated_at`

// PostgresStore persists the ledger in loyalty_accounts and
// loyalty_transactions.
type PostgresStore struct {
	db *sql.DB
	tx *postgres.Transactor
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, tx: postgres.NewTransactor(db)}
}

func (s *PostgresStore) Enroll(ctx context.Context, acct *models.Account) (*models.Account, bool, error) {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO loyalty_accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (customer_id) DO NOTHING`,
		uuid.UUID(acct.ID), uuid.UUID(acct.CustomerID), acct.PointsBalance, acct.LifetimePoints,
		acct.StampsCurrent, acct.StampsTarget, acct.StampsCompleted, string(acct.Tier),
		acct.IsActive, acct.EnrolledAt, acct.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("enroll account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("enroll account: %w", err)
	}
	if n == 1 {
		return acct.Clone(), true, nil
	}
	existing, err := s.FindAccount(ctx, acct.CustomerID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *PostgresStore) FindAccount(ctx context.Context, customerID id.CustomerID) (*models.Account, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM loyalty_accounts WHERE customer_id = $1`, uuid.UUID(customerID))
	return scanAccount(row, "find account")
}

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID id.AccountID, limit int) ([]*models.Transaction, error) {
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, `
		SELECT id, account_id, type, points, balance_after, description, reference, created_by, created_at
		FROM loyalty_transactions
		WHERE account_id = $1
		ORDER BY id DESC
		LIMIT $2`, uuid.UUID(accountID), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		var (
			t       models.Transaction
			account uuid.UUID
			typ     string
		)
		if err := rows.Scan(&t.ID, &account, &typ, &t.Points, &t.BalanceAfter,
			&t.Description, &t.Reference, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.AccountID = id.AccountID(account)
		t.Type = models.TransactionType(typ)
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

// Mutate locks the account row with SELECT ... FOR UPDATE, applies fn and
// writes the account and the new transaction in the same transaction.
func (s *PostgresStore) Mutate(ctx context.Context, customerID id.CustomerID, fn MutateFunc) (*models.Account, *models.Transaction, error) {
	var (
		acct *models.Account
		txn  *models.Transaction
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		q := tx.Pick(ctx, s.db)
		row := q.QueryRowContext(ctx,
			`SELECT `+accountColumns+` FROM loyalty_accounts WHERE customer_id = $1 FOR UPDATE`,
			uuid.UUID(customerID))
		locked, err := scanAccount(row, "lock account")
		if err != nil {
			return err
		}
		entry, err := fn(locked)
		if err != nil {
			return err
		}

		if _, err := q.ExecContext(ctx, `
			UPDATE loyalty_accounts
			SET points_balance = $2, lifetime_points = $3, stamps_current = $4,
				stamps_completed = $5, tier = $6, is_active = $7, updated_at = $8
			WHERE id = $1`,
			uuid.UUID(locked.ID), locked.PointsBalance, locked.LifetimePoints, locked.StampsCurrent,
			locked.StampsCompleted, string(locked.Tier), locked.IsActive, locked.UpdatedAt); err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO loyalty_transactions
				(id, account_id, type, points, balance_after, description, reference, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			entry.ID, uuid.UUID(entry.AccountID), string(entry.Type), entry.Points, entry.BalanceAfter,
			entry.Description, entry.Reference, entry.CreatedBy, entry.CreatedAt); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		acct, txn = locked, entry
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return acct, txn, nil
}

func scanAccount(row *sql.Row, op string) (*models.Account, error) {
	var (
		a        models.Account
		acctID   uuid.UUID
		customer uuid.UUID
		tier     string
	)
	err := row.Scan(&acctID, &customer, &a.PointsBalance, &a.LifetimePoints, &a.StampsCurrent,
		&a.StampsTarget, &a.StampsCompleted, &tier, &a.IsActive, &a.EnrolledAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.ID = id.AccountID(acctID)
	a.CustomerID = id.CustomerID(customer)
	a.Tier = models.Tier(tier)
	return &a, nil
}
