package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"patron/internal/identity/models"
	"patron/internal/platform/postgres"
	id "patron/pkg/domain"
	"patron/pkg/platform/sentinel"
	"patron/pkg/platform/tx"
)

// PostgresStore persists customers, contact points, external identities and
// identifiers. Every method joins the transaction carried by ctx, if any.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed identity store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) q(ctx context.Context) tx.Querier {
	return tx.Pick(ctx, s.db)
}

func mapWriteErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if postgres.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, &sentinel.ConflictError{Constraint: postgres.ConstraintName(err)})
	}
	return fmt.Errorf("%s: %w", op, err)
}

func mapReadErr(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func marshalMeta(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}

// -----------------------------------------------------------------------------
// Customers
// -----------------------------------------------------------------------------

const customerColumns = `id, code, first_name, last_name, customer_type, document, phone, email,
	group_code, is_active, metadata, source_system, created_by, created_at, updated_at`

func scanCustomer(row rowScanner) (*models.Customer, error) {
	var (
		c       models.Customer
		rawID   uuid.UUID
		ctype   string
		rawMeta []byte
	)
	if err := row.Scan(&rawID, &c.Code, &c.FirstName, &c.LastName, &ctype, &c.Document, &c.Phone, &c.Email,
		&c.GroupCode, &c.IsActive, &rawMeta, &c.SourceSystem, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ID = id.CustomerID(rawID)
	c.Type = models.CustomerType(ctype)
	c.Metadata = map[string]any{}
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal customer metadata: %w", err)
		}
	}
	return &c, nil
}

func (s *PostgresStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	meta, err := marshalMeta(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal customer metadata: %w", err)
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, uuid.UUID(c.ID), c.Code, c.FirstName, c.LastName, string(c.Type), c.Document, c.Phone, c.Email,
		c.GroupCode, c.IsActive, meta, c.SourceSystem, c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	return mapWriteErr(err, "create customer")
}

func (s *PostgresStore) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	meta, err := marshalMeta(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal customer metadata: %w", err)
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE customers
		SET code = $2, first_name = $3, last_name = $4, customer_type = $5, document = $6, phone = $7,
			email = $8, group_code = $9, is_active = $10, metadata = $11, source_system = $12, updated_at = $13
		WHERE id = $1
	`, uuid.UUID(c.ID), c.Code, c.FirstName, c.LastName, string(c.Type), c.Document, c.Phone,
		c.Email, c.GroupCode, c.IsActive, meta, c.SourceSystem, c.UpdatedAt)
	if err != nil {
		return mapWriteErr(err, "update customer")
	}
	return requireRow(res, "update customer")
}

func (s *PostgresStore) FindCustomerByID(ctx context.Context, customerID id.CustomerID) (*models.Customer, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, uuid.UUID(customerID))
	c, err := scanCustomer(row)
	if err != nil {
		return nil, mapReadErr(err, "find customer by id")
	}
	return c, nil
}

func (s *PostgresStore) FindCustomerByCode(ctx context.Context, code string) (*models.Customer, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE code = $1`, code)
	c, err := scanCustomer(row)
	if err != nil {
		return nil, mapReadErr(err, "find customer by code")
	}
	return c, nil
}

// LockCustomer takes FOR UPDATE on the customer row. Callers locking two
// customers take them in UUID order.
func (s *PostgresStore) LockCustomer(ctx context.Context, customerID id.CustomerID) (*models.Customer, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`, uuid.UUID(customerID))
	c, err := scanCustomer(row)
	if err != nil {
		return nil, mapReadErr(err, "lock customer")
	}
	return c, nil
}

// FindActiveCustomerByPhone matches the native phone column against each
// candidate form in turn.
func (s *PostgresStore) FindActiveCustomerByPhone(ctx context.Context, phones ...string) (*models.Customer, error) {
	if len(phones) == 0 {
		return nil, sentinel.ErrNotFound
	}
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE is_active AND phone <> '' AND phone = ANY($1::text[])
		ORDER BY array_position($1::text[], phone), created_at
		LIMIT 1
	`, pq.Array(phones))
	c, err := scanCustomer(row)
	if err != nil {
		return nil, mapReadErr(err, "find customer by phone")
	}
	return c, nil
}

func (s *PostgresStore) FindActiveCustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE is_active AND email <> '' AND LOWER(email) = LOWER($1)
		ORDER BY created_at
		LIMIT 1
	`, email)
	c, err := scanCustomer(row)
	if err != nil {
		return nil, mapReadErr(err, "find customer by email")
	}
	return c, nil
}

func (s *PostgresStore) FindActiveCustomerByDocument(ctx context.Context, document string) (*models.Customer, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE is_active AND document <> '' AND document = $1
		ORDER BY created_at
		LIMIT 1
	`, document)
	c, err := scanCustomer(row)
	if err != nil {
		return nil, mapReadErr(err, "find customer by document")
	}
	return c, nil
}

// SearchCustomers matches query case-insensitively against code, names,
// document, phone and email of active customers.
func (s *PostgresStore) SearchCustomers(ctx context.Context, query string, limit int) ([]*models.Customer, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE is_active AND (
			code ILIKE $1 OR first_name ILIKE $1 OR last_name ILIKE $1
			OR document ILIKE $1 OR phone ILIKE $1 OR email ILIKE $1
		)
		ORDER BY code
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search customers: %w", err)
	}
	defer rows.Close()
	var out []*models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("search customers: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search customers: %w", err)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Contact points
// -----------------------------------------------------------------------------

const contactColumns = `id, customer_id, type, value_normalized, value_display, is_primary, is_verified,
	verification_method, verified_at, verification_ref, created_at, updated_at`

func scanContact(row rowScanner) (*models.ContactPoint, error) {
	var (
		cp         models.ContactPoint
		rawID      uuid.UUID
		customerID uuid.UUID
		ctype      string
		method     string
		verifiedAt sql.NullTime
	)
	if err := row.Scan(&rawID, &customerID, &ctype, &cp.ValueNormalized, &cp.ValueDisplay, &cp.IsPrimary, &cp.IsVerified,
		&method, &verifiedAt, &cp.VerificationRef, &cp.CreatedAt, &cp.UpdatedAt); err != nil {
		return nil, err
	}
	cp.ID = id.ContactPointID(rawID)
	cp.CustomerID = id.CustomerID(customerID)
	cp.Type = models.ContactType(ctype)
	cp.VerificationMethod = models.VerificationMethod(method)
	cp.VerifiedAt = timePtr(verifiedAt)
	return &cp, nil
}

func scanContacts(rows *sql.Rows, op string) ([]*models.ContactPoint, error) {
	defer rows.Close()
	var out []*models.ContactPoint
	for rows.Next() {
		cp, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *PostgresStore) CreateContactPoint(ctx context.Context, cp *models.ContactPoint) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO contact_points (`+contactColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, uuid.UUID(cp.ID), uuid.UUID(cp.CustomerID), string(cp.Type), cp.ValueNormalized, cp.ValueDisplay, cp.IsPrimary,
		cp.IsVerified, string(cp.VerificationMethod), nullTime(cp.VerifiedAt), cp.VerificationRef, cp.CreatedAt, cp.UpdatedAt)
	return mapWriteErr(err, "create contact point")
}

func (s *PostgresStore) UpdateContactPoint(ctx context.Context, cp *models.ContactPoint) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE contact_points
		SET customer_id = $2, value_display = $3, is_primary = $4, is_verified = $5,
			verification_method = $6, verified_at = $7, verification_ref = $8, updated_at = $9
		WHERE id = $1
	`, uuid.UUID(cp.ID), uuid.UUID(cp.CustomerID), cp.ValueDisplay, cp.IsPrimary, cp.IsVerified,
		string(cp.VerificationMethod), nullTime(cp.VerifiedAt), cp.VerificationRef, cp.UpdatedAt)
	if err != nil {
		return mapWriteErr(err, "update contact point")
	}
	return requireRow(res, "update contact point")
}

func (s *PostgresStore) DeleteContactPoint(ctx context.Context, contactID id.ContactPointID) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM contact_points WHERE id = $1`, uuid.UUID(contactID))
	if err != nil {
		return fmt.Errorf("delete contact point: %w", err)
	}
	return requireRow(res, "delete contact point")
}

func (s *PostgresStore) FindContactPoint(ctx context.Context, contactID id.ContactPointID) (*models.ContactPoint, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contact_points WHERE id = $1`, uuid.UUID(contactID))
	cp, err := scanContact(row)
	if err != nil {
		return nil, mapReadErr(err, "find contact point")
	}
	return cp, nil
}

func (s *PostgresStore) FindContactPointByValue(ctx context.Context, t models.ContactType, normalized string) (*models.ContactPoint, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+contactColumns+` FROM contact_points WHERE type = $1 AND value_normalized = $2
	`, string(t), normalized)
	cp, err := scanContact(row)
	if err != nil {
		return nil, mapReadErr(err, "find contact point by value")
	}
	return cp, nil
}

func (s *PostgresStore) ListContactPoints(ctx context.Context, customerID id.CustomerID) ([]*models.ContactPoint, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+contactColumns+` FROM contact_points
		WHERE customer_id = $1
		ORDER BY is_primary DESC, created_at DESC
	`, uuid.UUID(customerID))
	if err != nil {
		return nil, fmt.Errorf("list contact points: %w", err)
	}
	return scanContacts(rows, "list contact points")
}

// LockContactPoints row-locks the customer's contacts of type t until the
// surrounding transaction ends.
func (s *PostgresStore) LockContactPoints(ctx context.Context, customerID id.CustomerID, t models.ContactType) ([]*models.ContactPoint, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+contactColumns+` FROM contact_points
		WHERE customer_id = $1 AND type = $2
		ORDER BY is_primary DESC, created_at DESC
		FOR UPDATE
	`, uuid.UUID(customerID), string(t))
	if err != nil {
		return nil, fmt.Errorf("lock contact points: %w", err)
	}
	return scanContacts(rows, "lock contact points")
}

func (s *PostgresStore) CountPrimaryContacts(ctx context.Context, customerID id.CustomerID, t models.ContactType) (int, error) {
	var n int
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM contact_points WHERE customer_id = $1 AND type = $2 AND is_primary
	`, uuid.UUID(customerID), string(t)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count primary contacts: %w", err)
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// External identities
// -----------------------------------------------------------------------------

const externalColumns = `id, customer_id, provider, provider_uid, provider_meta, is_active, created_at, updated_at`

func scanExternal(row rowScanner) (*models.ExternalIdentity, error) {
	var (
		e          models.ExternalIdentity
		rawID      uuid.UUID
		customerID uuid.UUID
		provider   string
		rawMeta    []byte
	)
	if err := row.Scan(&rawID, &customerID, &provider, &e.ProviderUID, &rawMeta, &e.IsActive, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.ID = id.ExternalIdentityID(rawID)
	e.CustomerID = id.CustomerID(customerID)
	e.Provider = models.Provider(provider)
	e.ProviderMeta = map[string]any{}
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &e.ProviderMeta); err != nil {
			return nil, fmt.Errorf("unmarshal provider meta: %w", err)
		}
	}
	return &e, nil
}

func (s *PostgresStore) CreateExternalIdentity(ctx context.Context, e *models.ExternalIdentity) error {
	meta, err := marshalMeta(e.ProviderMeta)
	if err != nil {
		return fmt.Errorf("marshal provider meta: %w", err)
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO external_identities (`+externalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.UUID(e.ID), uuid.UUID(e.CustomerID), string(e.Provider), e.ProviderUID, meta, e.IsActive, e.CreatedAt, e.UpdatedAt)
	return mapWriteErr(err, "create external identity")
}

func (s *PostgresStore) UpdateExternalIdentity(ctx context.Context, e *models.ExternalIdentity) error {
	meta, err := marshalMeta(e.ProviderMeta)
	if err != nil {
		return fmt.Errorf("marshal provider meta: %w", err)
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE external_identities
		SET customer_id = $2, provider_meta = $3, is_active = $4, updated_at = $5
		WHERE id = $1
	`, uuid.UUID(e.ID), uuid.UUID(e.CustomerID), meta, e.IsActive, e.UpdatedAt)
	if err != nil {
		return mapWriteErr(err, "update external identity")
	}
	return requireRow(res, "update external identity")
}

func (s *PostgresStore) FindExternalIdentity(ctx context.Context, provider models.Provider, uid string) (*models.ExternalIdentity, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+externalColumns+` FROM external_identities WHERE provider = $1 AND provider_uid = $2
	`, string(provider), uid)
	e, err := scanExternal(row)
	if err != nil {
		return nil, mapReadErr(err, "find external identity")
	}
	return e, nil
}

func (s *PostgresStore) ListExternalIdentities(ctx context.Context, customerID id.CustomerID) ([]*models.ExternalIdentity, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+externalColumns+` FROM external_identities WHERE customer_id = $1 ORDER BY created_at
	`, uuid.UUID(customerID))
	if err != nil {
		return nil, fmt.Errorf("list external identities: %w", err)
	}
	defer rows.Close()
	var out []*models.ExternalIdentity
	for rows.Next() {
		e, err := scanExternal(rows)
		if err != nil {
			return nil, fmt.Errorf("list external identities: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list external identities: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ReassignExternalIdentities(ctx context.Context, ids []id.ExternalIdentityID, to id.CustomerID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	raw := make([]string, len(ids))
	for i, v := range ids {
		raw[i] = v.String()
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE external_identities SET customer_id = $1, updated_at = NOW()
		WHERE id = ANY($2::uuid[])
	`, uuid.UUID(to), pq.Array(raw))
	if err != nil {
		return 0, mapWriteErr(err, "reassign external identities")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reassign external identities: %w", err)
	}
	return int(n), nil
}

// -----------------------------------------------------------------------------
// Identifiers
// -----------------------------------------------------------------------------

const identifierColumns = `id, customer_id, identifier_type, identifier_value, is_primary, verified_at, source_system, created_at`

func scanIdentifier(row rowScanner) (*models.CustomerIdentifier, error) {
	var (
		ident      models.CustomerIdentifier
		rawID      uuid.UUID
		customerID uuid.UUID
		itype      string
		verifiedAt sql.NullTime
	)
	if err := row.Scan(&rawID, &customerID, &itype, &ident.Value, &ident.IsPrimary, &verifiedAt, &ident.SourceSystem, &ident.CreatedAt); err != nil {
		return nil, err
	}
	ident.ID = id.IdentifierID(rawID)
	ident.CustomerID = id.CustomerID(customerID)
	ident.Type = models.IdentifierType(itype)
	ident.VerifiedAt = timePtr(verifiedAt)
	return &ident, nil
}

func (s *PostgresStore) CreateIdentifier(ctx context.Context, ident *models.CustomerIdentifier) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO customer_identifiers (`+identifierColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.UUID(ident.ID), uuid.UUID(ident.CustomerID), string(ident.Type), ident.Value, ident.IsPrimary,
		nullTime(ident.VerifiedAt), ident.SourceSystem, ident.CreatedAt)
	return mapWriteErr(err, "create identifier")
}

func (s *PostgresStore) UpdateIdentifier(ctx context.Context, ident *models.CustomerIdentifier) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE customer_identifiers
		SET customer_id = $2, is_primary = $3, verified_at = $4, source_system = $5
		WHERE id = $1
	`, uuid.UUID(ident.ID), uuid.UUID(ident.CustomerID), ident.IsPrimary, nullTime(ident.VerifiedAt), ident.SourceSystem)
	if err != nil {
		return mapWriteErr(err, "update identifier")
	}
	return requireRow(res, "update identifier")
}

func (s *PostgresStore) DeleteIdentifier(ctx context.Context, identID id.IdentifierID) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM customer_identifiers WHERE id = $1`, uuid.UUID(identID))
	if err != nil {
		return fmt.Errorf("delete identifier: %w", err)
	}
	return requireRow(res, "delete identifier")
}

func (s *PostgresStore) FindIdentifier(ctx context.Context, t models.IdentifierType, value string) (*models.CustomerIdentifier, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+identifierColumns+` FROM customer_identifiers WHERE identifier_type = $1 AND identifier_value = $2
	`, string(t), value)
	ident, err := scanIdentifier(row)
	if err != nil {
		return nil, mapReadErr(err, "find identifier")
	}
	return ident, nil
}

func (s *PostgresStore) ListIdentifiers(ctx context.Context, customerID id.CustomerID) ([]*models.CustomerIdentifier, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+identifierColumns+` FROM customer_identifiers
		WHERE customer_id = $1
		ORDER BY identifier_type, is_primary DESC, created_at
	`, uuid.UUID(customerID))
	if err != nil {
		return nil, fmt.Errorf("list identifiers: %w", err)
	}
	defer rows.Close()
	var out []*models.CustomerIdentifier
	for rows.Next() {
		ident, err := scanIdentifier(rows)
		if err != nil {
			return nil, fmt.Errorf("list identifiers: %w", err)
		}
		out = append(out, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list identifiers: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ReassignIdentifiers(ctx context.Context, ids []id.IdentifierID, to id.CustomerID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	raw := make([]string, len(ids))
	for i, v := range ids {
		raw[i] = v.String()
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE customer_identifiers SET customer_id = $1
		WHERE id = ANY($2::uuid[])
	`, uuid.UUID(to), pq.Array(raw))
	if err != nil {
		return 0, mapWriteErr(err, "reassign identifiers")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reassign identifiers: %w", err)
	}
	return int(n), nil
}

// -----------------------------------------------------------------------------
// Groups
// -----------------------------------------------------------------------------

const groupColumns = `code, name, description, price_list_code, is_default, priority, metadata, created_at, updated_at`

func scanGroup(row rowScanner) (*models.Group, error) {
	var (
		g       models.Group
		rawMeta []byte
	)
	if err := row.Scan(&g.Code, &g.Name, &g.Description, &g.PriceListCode, &g.IsDefault, &g.Priority,
		&rawMeta, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.Metadata = map[string]any{}
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &g.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal group metadata: %w", err)
		}
	}
	return &g, nil
}

// SaveGroup upserts by code. The partial unique index on is_default turns a
// second default into sentinel.ErrConflict.
func (s *PostgresStore) SaveGroup(ctx context.Context, g *models.Group) error {
	meta, err := marshalMeta(g.Metadata)
	if err != nil {
		return fmt.Errorf("marshal group metadata: %w", err)
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO customer_groups (`+groupColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name, description = EXCLUDED.description, price_list_code = EXCLUDED.price_list_code,
			is_default = EXCLUDED.is_default, priority = EXCLUDED.priority, metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`, g.Code, g.Name, g.Description, g.PriceListCode, g.IsDefault, g.Priority, meta, g.CreatedAt, g.UpdatedAt)
	return mapWriteErr(err, "save group")
}

func (s *PostgresStore) ClearDefaultGroup(ctx context.Context, keep string) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		UPDATE customer_groups SET is_default = FALSE WHERE is_default AND code <> $1
	`, keep)
	if err != nil {
		return fmt.Errorf("clear default group: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindGroup(ctx context.Context, code string) (*models.Group, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+groupColumns+` FROM customer_groups WHERE code = $1`, code)
	g, err := scanGroup(row)
	if err != nil {
		return nil, mapReadErr(err, "find group")
	}
	return g, nil
}

func (s *PostgresStore) FindDefaultGroup(ctx context.Context) (*models.Group, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+groupColumns+` FROM customer_groups WHERE is_default`)
	g, err := scanGroup(row)
	if err != nil {
		return nil, mapReadErr(err, "find default group")
	}
	return g, nil
}

func (s *PostgresStore) ListGroups(ctx context.Context) ([]*models.Group, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+groupColumns+` FROM customer_groups ORDER BY priority DESC, name
	`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()
	var out []*models.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("list groups: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return out, nil
}
