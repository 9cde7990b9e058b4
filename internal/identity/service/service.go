// Package service is the single write authority for identity records.
// Every mutation runs its gates and store writes inside one transaction and
// emits domain events only after the transaction commits.
package service

import (
	"context"
	"errors"
	"log/slog"

	"patron/internal/events"
	"patron/internal/identity/models"
	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/sentinel"
	"patron/pkg/requestcontext"
)

// Store is the persistence the service writes through. Unique constraints
// are enforced by the store and surface as sentinel.ErrConflict.
type Store interface {
	CreateCustomer(ctx context.Context, c *models.Customer) error
	UpdateCustomer(ctx context.Context, c *models.Customer) error
	FindCustomerByID(ctx context.Context, customerID id.CustomerID) (*models.Customer, error)
	FindCustomerByCode(ctx context.Context, code string) (*models.Customer, error)
	// LockCustomer re-reads the customer under a row lock held until the
	// surrounding transaction ends.
	LockCustomer(ctx context.Context, customerID id.CustomerID) (*models.Customer, error)
	FindActiveCustomerByPhone(ctx context.Context, phones ...string) (*models.Customer, error)
	FindActiveCustomerByEmail(ctx context.Context, email string) (*models.Customer, error)
	FindActiveCustomerByDocument(ctx context.Context, document string) (*models.Customer, error)
	SearchCustomers(ctx context.Context, query string, limit int) ([]*models.Customer, error)

	CreateContactPoint(ctx context.Context, cp *models.ContactPoint) error
	UpdateContactPoint(ctx context.Context, cp *models.ContactPoint) error
	DeleteContactPoint(ctx context.Context, contactID id.ContactPointID) error
	FindContactPoint(ctx context.Context, contactID id.ContactPointID) (*models.ContactPoint, error)
	FindContactPointByValue(ctx context.Context, t models.ContactType, normalized string) (*models.ContactPoint, error)
	ListContactPoints(ctx context.Context, customerID id.CustomerID) ([]*models.ContactPoint, error)
	LockContactPoints(ctx context.Context, customerID id.CustomerID, t models.ContactType) ([]*models.ContactPoint, error)
	CountPrimaryContacts(ctx context.Context, customerID id.CustomerID, t models.ContactType) (int, error)

	CreateExternalIdentity(ctx context.Context, e *models.ExternalIdentity) error
	UpdateExternalIdentity(ctx context.Context, e *models.ExternalIdentity) error
	FindExternalIdentity(ctx context.Context, provider models.Provider, uid string) (*models.ExternalIdentity, error)
	ListExternalIdentities(ctx context.Context, customerID id.CustomerID) ([]*models.ExternalIdentity, error)
	ReassignExternalIdentities(ctx context.Context, ids []id.ExternalIdentityID, to id.CustomerID) (int, error)

	CreateIdentifier(ctx context.Context, ident *models.CustomerIdentifier) error
	UpdateIdentifier(ctx context.Context, ident *models.CustomerIdentifier) error
	DeleteIdentifier(ctx context.Context, identID id.IdentifierID) error
	FindIdentifier(ctx context.Context, t models.IdentifierType, value string) (*models.CustomerIdentifier, error)
	ListIdentifiers(ctx context.Context, customerID id.CustomerID) ([]*models.CustomerIdentifier, error)
	ReassignIdentifiers(ctx context.Context, ids []id.IdentifierID, to id.CustomerID) (int, error)

	SaveGroup(ctx context.Context, g *models.Group) error
	ClearDefaultGroup(ctx context.Context, keep string) error
	FindGroup(ctx context.Context, code string) (*models.Group, error)
	FindDefaultGroup(ctx context.Context) (*models.Group, error)
	ListGroups(ctx context.Context) ([]*models.Group, error)
}

// Transactor runs fn as one atomic unit. Stores called with the ctx passed
// to fn join the unit.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service orchestrates customers, contact points, external identities and
// identifiers.
type Service struct {
	store     Store
	tx        Transactor
	publisher events.Publisher
	logger    *slog.Logger
	region    string
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithDefaultRegion sets the region used to complete national phone numbers.
func WithDefaultRegion(region string) Option {
	return func(s *Service) {
		if region != "" {
			s.region = region
		}
	}
}

func New(store Store, tx Transactor, opts ...Option) *Service {
	s := &Service{
		store:     store,
		tx:        tx,
		publisher: events.Nop{},
		region:    models.DefaultRegion,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store to collaborators that compose identity
// writes into their own transaction (the merge coordinator).
func (s *Service) Store() Store { return s.store }

// Transactor exposes the transaction runner shared with the store.
func (s *Service) Transactor() Transactor { return s.tx }

// Region is the default phone region.
func (s *Service) Region() string { return s.region }

// emit publishes committed events. Listener failures are logged and never
// reach the caller: the write already happened.
func (s *Service) emit(ctx context.Context, evs ...events.Event) {
	actor := requestcontext.ActorName(ctx, "")
	for i := range evs {
		if evs[i].Actor == "" {
			evs[i].Actor = actor
		}
	}
	if err := s.publisher.Publish(ctx, evs...); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to publish identity events", "error", err)
	}
}

// activeByCode loads an active customer or returns CodeNotFound.
func (s *Service) activeByCode(ctx context.Context, code string) (*models.Customer, error) {
	c, err := s.store.FindCustomerByCode(ctx, code)
	if err != nil {
		return nil, storeErr(err, "customer not found", "failed to load customer")
	}
	if !c.IsActive {
		return nil, dErrors.New(dErrors.CodeNotFound, "customer not found")
	}
	return c, nil
}

// lockActiveByCode resolves code, then locks the customer row and checks
// IsActive again on the locked copy. Writes that attach records to a
// customer go through it so a concurrent merge or deactivation either
// finishes first or waits for them.
func (s *Service) lockActiveByCode(ctx context.Context, code string) (*models.Customer, error) {
	c, err := s.activeByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.lockActive(ctx, c.ID)
}

func (s *Service) lockActive(ctx context.Context, customerID id.CustomerID) (*models.Customer, error) {
	c, err := s.store.LockCustomer(ctx, customerID)
	if err != nil {
		return nil, storeErr(err, "customer not found", "failed to lock customer")
	}
	if !c.IsActive {
		return nil, dErrors.New(dErrors.CodeNotFound, "customer not found")
	}
	return c, nil
}

// storeErr translates store sentinels into domain errors. Errors that
// already carry a domain code pass through.
func storeErr(err error, notFoundMsg, internalMsg string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "identity already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, internalMsg)
	}
}
