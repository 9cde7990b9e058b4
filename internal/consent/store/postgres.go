package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"patron/internal/consent/models"
	"patron/internal/platform/postgres"
	id "patron/pkg/domain"
	"patron/pkg/platform/sentinel"
	"patron/pkg/platform/tx"
)

const consentColumns = `customer_id, channel, status, legal_basis, source, ip_address,
	consented_at, revoked_at, updated_at`

// PostgresStore persists consents in communication_consents.
type PostgresStore struct {
	db *sql.DB
	tx *postgres.Transactor
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, tx: postgres.NewTransactor(db)}
}

// Update locks the row (inserting a pending one first when absent), applies
// fn and writes the record back in one transaction.
func (s *PostgresStore) Update(ctx context.Context, customerID id.CustomerID, channel models.Channel, fn func(c *models.Consent)) (*models.Consent, error) {
	var out *models.Consent
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		q := tx.Pick(ctx, s.db)
		pending := models.NewPending(customerID, channel, time.Now())
		if _, err := q.ExecContext(ctx, `
			INSERT INTO communication_consents (customer_id, channel, status, legal_basis, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (customer_id, channel) DO NOTHING`,
			uuid.UUID(customerID), string(channel), string(pending.Status), string(pending.LegalBasis), pending.UpdatedAt); err != nil {
			return fmt.Errorf("insert pending consent: %w", err)
		}
		row := q.QueryRowContext(ctx, `SELECT `+consentColumns+`
			FROM communication_consents WHERE customer_id = $1 AND channel = $2 FOR UPDATE`,
			uuid.UUID(customerID), string(channel))
		c, err := scanConsent(row)
		if err != nil {
			return err
		}
		fn(c)
		if _, err := q.ExecContext(ctx, `
			UPDATE communication_consents
			SET status = $3, legal_basis = $4, source = $5, ip_address = $6,
				consented_at = $7, revoked_at = $8, updated_at = $9
			WHERE customer_id = $1 AND channel = $2`,
			uuid.UUID(customerID), string(channel), string(c.Status), string(c.LegalBasis),
			c.Source, c.IPAddress, nullTime(c.ConsentedAt), nullTime(c.RevokedAt), c.UpdatedAt); err != nil {
			return fmt.Errorf("update consent: %w", err)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Find(ctx context.Context, customerID id.CustomerID, channel models.Channel) (*models.Consent, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx, `SELECT `+consentColumns+`
		FROM communication_consents WHERE customer_id = $1 AND channel = $2`,
		uuid.UUID(customerID), string(channel))
	return scanConsent(row)
}

func (s *PostgresStore) ListByCustomer(ctx context.Context, customerID id.CustomerID) ([]*models.Consent, error) {
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, `SELECT `+consentColumns+`
		FROM communication_consents WHERE customer_id = $1 ORDER BY channel`, uuid.UUID(customerID))
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	defer rows.Close()
	var out []*models.Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consents: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListOptedIn(ctx context.Context, channel models.Channel) ([]id.CustomerID, error) {
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, `
		SELECT customer_id FROM communication_consents
		WHERE channel = $1 AND status = $2
		ORDER BY customer_id`, string(channel), string(models.StatusOptedIn))
	if err != nil {
		return nil, fmt.Errorf("list opted-in customers: %w", err)
	}
	defer rows.Close()
	var out []id.CustomerID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan customer id: %w", err)
		}
		out = append(out, id.CustomerID(u))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate opted-in customers: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsent(row rowScanner) (*models.Consent, error) {
	var (
		c                     models.Consent
		customer              uuid.UUID
		channel, status, base string
		consented, revoked    sql.NullTime
	)
	err := row.Scan(&customer, &channel, &status, &base, &c.Source, &c.IPAddress,
		&consented, &revoked, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan consent: %w", err)
	}
	c.CustomerID = id.CustomerID(customer)
	c.Channel = models.Channel(channel)
	c.Status = models.Status(status)
	c.LegalBasis = models.LegalBasis(base)
	if consented.Valid {
		c.ConsentedAt = &consented.Time
	}
	if revoked.Valid {
		c.RevokedAt = &revoked.Time
	}
	return &c, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
