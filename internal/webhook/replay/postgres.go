package replay

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"patron/pkg/platform/sentinel"
	"patron/pkg/platform/tx"
)

// PostgresStore records nonces in processed_events. The primary key on nonce
// makes the insert the check.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, provider, nonce string, at time.Time) error {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO processed_events (nonce, provider, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (nonce) DO NOTHING`, nonce, provider, at)
	if err != nil {
		return fmt.Errorf("record nonce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record nonce: %w", err)
	}
	if n == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (s *PostgresStore) Seen(ctx context.Context, nonce string) (bool, error) {
	var seen bool
	err := tx.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE nonce = $1)`, nonce).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("check nonce: %w", err)
	}
	return seen, nil
}

// SeenAny returns the subset of nonces already recorded, sorted.
func (s *PostgresStore) SeenAny(ctx context.Context, nonces []string) ([]string, error) {
	if len(nonces) == 0 {
		return nil, nil
	}
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx,
		`SELECT nonce FROM processed_events WHERE nonce = ANY($1::text[]) ORDER BY nonce`, pq.Array(nonces))
	if err != nil {
		return nil, fmt.Errorf("check nonces: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan nonce: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nonces: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx,
		`DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge nonces: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge nonces: %w", err)
	}
	return n, nil
}

// Forget releases a nonce so the provider's retry is processed again.
func (s *PostgresStore) Forget(ctx context.Context, nonce string) error {
	if _, err := tx.Pick(ctx, s.db).ExecContext(ctx, `DELETE FROM processed_events WHERE nonce = $1`, nonce); err != nil {
		return fmt.Errorf("forget nonce: %w", err)
	}
	return nil
}
