package store

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"patron/internal/identity/models"
	id "patron/pkg/domain"
	"patron/pkg/platform/sentinel"
)

// InMemory is a map-backed identity store emulating the Postgres unique
// constraints. A single mutex serializes every call; WithinTx holds it for the
// whole unit of work and swaps in a working copy on success, so a failed
// transaction leaves nothing behind.
type InMemory struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	customers   map[id.CustomerID]*models.Customer
	contacts    map[id.ContactPointID]*models.ContactPoint
	externals   map[id.ExternalIdentityID]*models.ExternalIdentity
	identifiers map[id.IdentifierID]*models.CustomerIdentifier
	groups      map[string]*models.Group
}

type memTxKey struct{ store *InMemory }

func NewInMemory() *InMemory {
	return &InMemory{state: newMemState()}
}

func newMemState() *memState {
	return &memState{
		customers:   map[id.CustomerID]*models.Customer{},
		contacts:    map[id.ContactPointID]*models.ContactPoint{},
		externals:   map[id.ExternalIdentityID]*models.ExternalIdentity{},
		identifiers: map[id.IdentifierID]*models.CustomerIdentifier{},
		groups:      map[string]*models.Group{},
	}
}

func (m *memState) clone() *memState {
	out := newMemState()
	for k, v := range m.customers {
		out.customers[k] = v.Clone()
	}
	for k, v := range m.contacts {
		out.contacts[k] = v.Clone()
	}
	for k, v := range m.externals {
		out.externals[k] = v.Clone()
	}
	for k, v := range m.identifiers {
		out.identifiers[k] = v.Clone()
	}
	for k, v := range m.groups {
		out.groups[k] = v.Clone()
	}
	return out
}

// WithinTx runs fn with exclusive access to a copy of the store, committing
// the copy only when fn returns nil.
func (s *InMemory) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{s}).(*memState); ok {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	working := s.state.clone()
	if err := fn(context.WithValue(ctx, memTxKey{s}, working)); err != nil {
		return err
	}
	s.state = working
	return nil
}

// with runs fn against the transaction's working copy, or the committed
// state under the lock when no transaction is open.
func (s *InMemory) with(ctx context.Context, fn func(st *memState) error) error {
	if st, ok := ctx.Value(memTxKey{s}).(*memState); ok {
		return fn(st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// -----------------------------------------------------------------------------
// Customers
// -----------------------------------------------------------------------------

func (s *InMemory) CreateCustomer(ctx context.Context, c *models.Customer) error {
	return s.with(ctx, func(st *memState) error {
		for _, existing := range st.customers {
			if existing.ID == c.ID || existing.Code == c.Code {
				return sentinel.ErrConflict
			}
		}
		st.customers[c.ID] = c.Clone()
		return nil
	})
}

func (s *InMemory) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	return s.with(ctx, func(st *memState) error {
		if _, ok := st.customers[c.ID]; !ok {
			return sentinel.ErrNotFound
		}
		for _, existing := range st.customers {
			if existing.ID != c.ID && existing.Code == c.Code {
				return sentinel.ErrConflict
			}
		}
		st.customers[c.ID] = c.Clone()
		return nil
	})
}

func (s *InMemory) FindCustomerByID(ctx context.Context, customerID id.CustomerID) (*models.Customer, error) {
	var out *models.Customer
	err := s.with(ctx, func(st *memState) error {
		c, ok := st.customers[customerID]
		if !ok {
			return sentinel.ErrNotFound
		}
		out = c.Clone()
		return nil
	})
	return out, err
}

// LockCustomer is FindCustomerByID: transactions already run one at a time.
func (s *InMemory) LockCustomer(ctx context.Context, customerID id.CustomerID) (*models.Customer, error) {
	return s.FindCustomerByID(ctx, customerID)
}

func (s *InMemory) FindCustomerByCode(ctx context.Context, code string) (*models.Customer, error) {
	return s.findCustomer(ctx, func(c *models.Customer) bool { return c.Code == code })
}

func (s *InMemory) FindActiveCustomerByPhone(ctx context.Context, phones ...string) (*models.Customer, error) {
	for _, phone := range phones {
		c, err := s.findCustomer(ctx, func(c *models.Customer) bool {
			return c.IsActive && c.Phone != "" && c.Phone == phone
		})
		if err == nil {
			return c, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindActiveCustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	return s.findCustomer(ctx, func(c *models.Customer) bool {
		return c.IsActive && c.Email != "" && strings.EqualFold(c.Email, email)
	})
}

func (s *InMemory) FindActiveCustomerByDocument(ctx context.Context, document string) (*models.Customer, error) {
	return s.findCustomer(ctx, func(c *models.Customer) bool {
		return c.IsActive && c.Document != "" && c.Document == document
	})
}

// findCustomer returns the oldest customer matching pred.
func (s *InMemory) findCustomer(ctx context.Context, pred func(*models.Customer) bool) (*models.Customer, error) {
	var out *models.Customer
	err := s.with(ctx, func(st *memState) error {
		for _, c := range st.customers {
			if pred(c) && (out == nil || c.CreatedAt.Before(out.CreatedAt)) {
				out = c
			}
		}
		if out == nil {
			return sentinel.ErrNotFound
		}
		out = out.Clone()
		return nil
	})
	return out, err
}

// -----------------------------------------------------------------------------
// Contact points
// -----------------------------------------------------------------------------

// contactConflict returns the conflict cp would raise against the stored
// contacts, or nil.
func contactConflict(st *memState, cp *models.ContactPoint) error {
	for _, existing := range st.contacts {
		if existing.ID == cp.ID {
			continue
		}
		if existing.Type == cp.Type && existing.ValueNormalized == cp.ValueNormalized {
			return &sentinel.ConflictError{Constraint: models.ConstraintContactValue}
		}
		if cp.IsPrimary && existing.IsPrimary && existing.CustomerID == cp.CustomerID && existing.Type == cp.Type {
			return &sentinel.ConflictError{Constraint: models.ConstraintContactPrimary}
		}
	}
	return nil
}

func (s *InMemory) CreateContactPoint(ctx context.Context, cp *models.ContactPoint) error {
	return s.with(ctx, func(st *memState) error {
		if _, ok := st.contacts[cp.ID]; ok {
			return sentinel.ErrConflict
		}
		if err := contactConflict(st, cp); err != nil {
			return err
		}
		st.contacts[cp.ID] = cp.Clone()
		return nil
	})
}

func (s *InMemory) UpdateContactPoint(ctx context.Context, cp *models.ContactPoint) error {
	return s.with(ctx, func(st *memState) error {
		if _, ok := st.contacts[cp.ID]; !ok {
			return sentinel.ErrNotFound
		}
		if err := contactConflict(st, cp); err != nil {
			return err
		}
		st.contacts[cp.ID] = cp.Clone()
		return nil
	})
}

func (s *InMemory) DeleteContactPoint(ctx context.Context, contactID id.ContactPointID) error {
	return s.with(ctx, func(st *memState) error {
		if _, ok := st.contacts[contactID]; !ok {
			return sentinel.ErrNotFound
		}
		delete(st.contacts, contactID)
		return nil
	})
}

func (s *InMemory) FindContactPoint(ctx context.Context, contactID id.ContactPointID) (*models.ContactPoint, error) {
	var out *models.ContactPoint
	err := s.with(ctx, func(st *memState) error {
		cp, ok := st.contacts[contactID]
		if !ok {
			return sentinel.ErrNotFound
		}
		out = cp.Clone()
		return nil
	})
	return out, err
}

func (s *InMemory) FindContactPointByValue(ctx context.Context, t models.ContactType, normalized string) (*models.ContactPoint, error) {
	var out *models.ContactPoint
	err := s.with(ctx, func(st *memState) error {
		for _, cp := range st.contacts {
			if cp.Type == t && cp.ValueNormalized == normalized {
				out = cp.Clone()
				return nil
			}
		}
		return sentinel.ErrNotFound
	})
	return out, err
}

// ListContactPoints returns the customer's contacts, primaries first then
// newest first.
func (s *InMemory) ListContactPoints(ctx context.Context, customerID id.CustomerID) ([]*models.ContactPoint, error) {
	var out []*models.ContactPoint
	err := s.with(ctx, func(st *memState) error {
		for _, cp := range st.contacts {
			if cp.CustomerID == customerID {
				out = append(out, cp.Clone())
			}
		}
		return nil
	})
	slices.SortFunc(out, compareContacts)
	return out, err
}

// LockContactPoints returns the customer's contacts of type t. Every call is
// already serialized, so no extra locking is needed.
func (s *InMemory) LockContactPoints(ctx context.Context, customerID id.CustomerID, t models.ContactType) ([]*models.ContactPoint, error) {
	all, err := s.ListContactPoints(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(cp *models.ContactPoint) bool { return cp.Type != t }), nil
}

func (s *InMemory) CountPrimaryContacts(ctx context.Context, customerID id.CustomerID, t models.ContactType) (int, error) {
	count := 0
	err := s.with(ctx, func(st *memState) error {
		for _, cp := range st.contacts {
			if cp.CustomerID == customerID && cp.Type == t && cp.IsPrimary {
				count++
			}
		}
		return nil
	})
	return count, err
}

func compareContacts(a, b *models.ContactPoint) int {
	if a.IsPrimary != b.IsPrimary {
		if a.IsPrimary {
			return -1
		}
		return 1
	}
	return b.CreatedAt.Compare(a.CreatedAt)
}

// -----------------------------------------------------------------------------
// External identities
// -----------------------------------------------------------------------------

func (s *InMemory) CreateExternalIdentity(ctx context.Context, e *models.ExternalIdentity) error {
	return s.with(ctx, func(st *memState) error {
		for _, existing := range st.externals {
			if existing.ID == e.ID || (existing.Provider == e.Provider && existing.ProviderUID == e.ProviderUID) {
				return sentinel.ErrConflict
			}
		}
		st.externals[e.ID] = e.Clone()
		return nil
	})
}

func (s *InMemory) UpdateExternalIdentity(ctx context.Context, e *models.ExternalIdentity) error {
	return s.with(ctx, func(st *memState) error {
		if _, ok := st.externals[e.ID]; !ok {
			return sentinel.ErrNotFound
		}
		st.externals[e.ID] = e.Clone()
		return nil
	})
}

func (s *InMemory) FindExternalIdentity(ctx context.Context, provider models.Provider, uid string) (*models.ExternalIdentity, error) {
	var out *models.ExternalIdentity
	err := s.with(ctx, func(st *memState) error {
		for _, e := range st.externals {
			if e.Provider == provider && e.ProviderUID == uid {
				out = e.Clone()
				return nil
			}
		}
		return sentinel.ErrNotFound
	})
	return out, err
}

func (s *InMemory) ListExternalIdentities(ctx context.Context, customerID id.CustomerID) ([]*models.ExternalIdentity, error) {
	var out []*models.ExternalIdentity
	err := s.with(ctx, func(st *memState) error {
		for _, e := range st.externals {
			if e.CustomerID == customerID {
				out = append(out, e.Clone())
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.ExternalIdentity) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, err
}

func (s *InMemory) ReassignExternalIdentities(ctx context.Context, ids []id.ExternalIdentityID, to id.CustomerID) (int, error) {
	n := 0
	err := s.with(ctx, func(st *memState) error {
		for _, eid := range ids {
			if e, ok := st.externals[eid]; ok {
				e.CustomerID = to
				n++
			}
		}
		return nil
	})
	return n, err
}

// -----------------------------------------------------------------------------
// Identifiers
// -----------------------------------------------------------------------------

func identifierConflicts(st *memState, ident *models.CustomerIdentifier) bool {
	for _, existing := range st.identifiers {
		if existing.ID == ident.ID {
			continue
		}
		if existing.Type == ident.Type && existing.Value == ident.Value {
			return true
		}
		if ident.IsPrimary && existing.IsPrimary && existing.CustomerID == ident.CustomerID && existing.Type == ident.Type {
			return true
		}
	}
	return false
}

func (s *InMemory) CreateIdentifier(ctx context.Context, ident *models.CustomerIdentifier) error {
	return s.with(ctx, func(st *memState) error {
		if _, ok := st.identifiers[ident.ID]; ok || identifierConflicts(st, ident) {
			return sentinel.ErrConflict
		}
		st.identifiers[ident.ID] = ident.Clone()
		return nil
	})
}

func (s *InMemory) UpdateIdentifier(ctx context.Context, ident *models.CustomerIdentifier) error {
	return s.with(ctx, func(st *memState) error {
		if _, ok := st.identifiers[ident.ID]; !ok {
			return sentinel.ErrNotFound
		}
		if identifierConflicts(st, ident) {
			return sentinel.ErrConflict
		}
		st.identifiers[ident.ID] = ident.Clone()
		return nil
	})
}

func (s *InMemory) DeleteIdentifier(ctx context.Context, identID id.IdentifierID) error {
	return s.with(ctx, func(st *memState) error {
		if _, ok := st.identifiers[identID]; !ok {
			return sentinel.ErrNotFound
		}
		delete(st.identifiers, identID)
		return nil
	})
}

func (s *InMemory) FindIdentifier(ctx context.Context, t models.IdentifierType, value string) (*models.CustomerIdentifier, error) {
	var out *models.CustomerIdentifier
	err := s.with(ctx, func(st *memState) error {
		for _, ident := range st.identifiers {
			if ident.Type == t && ident.Value == value {
				out = ident.Clone()
				return nil
			}
		}
		return sentinel.ErrNotFound
	})
	return out, err
}

func (s *InMemory) ListIdentifiers(ctx context.Context, customerID id.CustomerID) ([]*models.CustomerIdentifier, error) {
	var out []*models.CustomerIdentifier
	err := s.with(ctx, func(st *memState) error {
		for _, ident := range st.identifiers {
			if ident.CustomerID == customerID {
				out = append(out, ident.Clone())
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.CustomerIdentifier) int {
		if c := strings.Compare(string(a.Type), string(b.Type)); c != 0 {
			return c
		}
		if a.IsPrimary != b.IsPrimary {
			if a.IsPrimary {
				return -1
			}
			return 1
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, err
}

func (s *InMemory) ReassignIdentifiers(ctx context.Context, ids []id.IdentifierID, to id.CustomerID) (int, error) {
	n := 0
	err := s.with(ctx, func(st *memState) error {
		for _, iid := range ids {
			if ident, ok := st.identifiers[iid]; ok {
				ident.CustomerID = to
				n++
			}
		}
		return nil
	})
	return n, err
}

// Snapshot returns copies of every customer, for tests and seed tooling.
func (s *InMemory) Snapshot(ctx context.Context) []*models.Customer {
	var out []*models.Customer
	_ = s.with(ctx, func(st *memState) error {
		for c := range maps.Values(st.customers) {
			out = append(out, c.Clone())
		}
		return nil
	})
	return out
}

// SearchCustomers matches query case-insensitively against code, names,
// document, phone and email of active customers.
func (s *InMemory) SearchCustomers(ctx context.Context, query string, limit int) ([]*models.Customer, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []*models.Customer
	err := s.with(ctx, func(st *memState) error {
		for _, c := range st.customers {
			if !c.IsActive {
				continue
			}
			fields := []string{c.Code, c.FirstName, c.LastName, c.Document, c.Phone, c.Email}
			if q == "" || slices.ContainsFunc(fields, func(f string) bool {
				return strings.Contains(strings.ToLower(f), q)
			}) {
				out = append(out, c.Clone())
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.Customer) int { return strings.Compare(a.Code, b.Code) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// -----------------------------------------------------------------------------
// Groups
// -----------------------------------------------------------------------------

// SaveGroup inserts g or replaces the group with the same code, keeping its
// original CreatedAt. A second default group is a conflict.
func (s *InMemory) SaveGroup(ctx context.Context, g *models.Group) error {
	return s.with(ctx, func(st *memState) error {
		for code, existing := range st.groups {
			if code != g.Code && g.IsDefault && existing.IsDefault {
				return sentinel.ErrConflict
			}
		}
		next := g.Clone()
		if prev, ok := st.groups[g.Code]; ok {
			next.CreatedAt = prev.CreatedAt
		}
		st.groups[g.Code] = next
		return nil
	})
}

// ClearDefaultGroup unsets the default flag on every group except keep.
func (s *InMemory) ClearDefaultGroup(ctx context.Context, keep string) error {
	return s.with(ctx, func(st *memState) error {
		for code, g := range st.groups {
			if code != keep {
				g.IsDefault = false
			}
		}
		return nil
	})
}

func (s *InMemory) FindGroup(ctx context.Context, code string) (*models.Group, error) {
	var out *models.Group
	err := s.with(ctx, func(st *memState) error {
		g, ok := st.groups[code]
		if !ok {
			return sentinel.ErrNotFound
		}
		out = g.Clone()
		return nil
	})
	return out, err
}

func (s *InMemory) FindDefaultGroup(ctx context.Context) (*models.Group, error) {
	var out *models.Group
	err := s.with(ctx, func(st *memState) error {
		for _, g := range st.groups {
			if g.IsDefault {
				out = g.Clone()
				return nil
			}
		}
		return sentinel.ErrNotFound
	})
	return out, err
}

// ListGroups orders by priority, highest first, then name.
func (s *InMemory) ListGroups(ctx context.Context) ([]*models.Group, error) {
	var out []*models.Group
	err := s.with(ctx, func(st *memState) error {
		for _, g := range st.groups {
			out = append(out, g.Clone())
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.Group) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, err
}
