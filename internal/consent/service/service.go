// Package service manages communication consent: opt-in and opt-out per
// channel, and the HasConsent check other modules call before messaging a
// customer.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"patron/internal/consent/models"
	"patron/internal/events"
	identity "patron/internal/identity/models"
	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/sentinel"
	"patron/pkg/requestcontext"
)

type Store interface {
	Update(ctx context.Context, customerID id.CustomerID, channel models.Channel, fn func(c *models.Consent)) (*models.Consent, error)
	Find(ctx context.Context, customerID id.CustomerID, channel models.Channel) (*models.Consent, error)
	ListByCustomer(ctx context.Context, customerID id.CustomerID) ([]*models.Consent, error)
	ListOptedIn(ctx context.Context, channel models.Channel) ([]id.CustomerID, error)
}

// Customers resolves active customers. Inactive customers are reported as
// CodeNotFound.
type Customers interface {
	GetByCode(ctx context.Context, code string) (*identity.Customer, error)
	GetByUUID(ctx context.Context, customerID id.CustomerID) (*identity.Customer, error)
}

type Service struct {
	store     Store
	customers Customers
	publisher events.Publisher
	logger    *slog.Logger
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

func New(store Store, customers Customers, opts ...Option) *Service {
	s := &Service{store: store, customers: customers, publisher: events.Nop{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Grant opts the customer in on in.Channel. Granting again refreshes the
// source, legal basis and timestamp.
func (s *Service) Grant(ctx context.Context, customerCode string, in models.GrantInput) (*models.Consent, error) {
	channel, err := models.ParseChannel(in.Channel)
	if err != nil {
		return nil, err
	}
	basis, err := models.ParseLegalBasis(in.LegalBasis)
	if err != nil {
		return nil, err
	}
	c, err := s.customers.GetByCode(ctx, customerCode)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	source := strings.TrimSpace(in.Source)
	ip := strings.TrimSpace(in.IPAddress)
	consent, err := s.store.Update(ctx, c.ID, channel, func(rec *models.Consent) {
		rec.Grant(basis, source, ip, now)
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to grant consent")
	}
	s.emit(ctx, events.New(events.ConsentGranted, c.ID, now, map[string]any{
		"channel":     string(channel),
		"legal_basis": string(basis),
		"source":      source,
	}))
	return consent, nil
}

// Revoke opts the customer out immediately. Revoking a channel that was
// never granted still records the opt-out.
func (s *Service) Revoke(ctx context.Context, customerCode, channelName string) (*models.Consent, error) {
	channel, err := models.ParseChannel(channelName)
	if err != nil {
		return nil, err
	}
	c, err := s.customers.GetByCode(ctx, customerCode)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	consent, err := s.store.Update(ctx, c.ID, channel, func(rec *models.Consent) {
		rec.Revoke(now)
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke consent")
	}
	s.emit(ctx, events.New(events.ConsentRevoked, c.ID, now, map[string]any{
		"channel": string(channel),
	}))
	return consent, nil
}

// HasConsent is true only for an active customer opted in on channel.
// Pending, opted-out and missing records all answer false.
func (s *Service) HasConsent(ctx context.Context, customerID id.CustomerID, channelName string) (bool, error) {
	channel, err := models.ParseChannel(channelName)
	if err != nil {
		return false, err
	}
	if _, err := s.customers.GetByUUID(ctx, customerID); err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return false, nil
		}
		return false, err
	}
	rec, err := s.store.Find(ctx, customerID, channel)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent")
	}
	return rec.IsOptedIn(), nil
}

// HasConsentByCode is HasConsent keyed by customer code.
func (s *Service) HasConsentByCode(ctx context.Context, customerCode, channel string) (bool, error) {
	c, err := s.customers.GetByCode(ctx, customerCode)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.HasConsent(ctx, c.ID, channel)
}

func (s *Service) GetConsents(ctx context.Context, customerCode string) ([]*models.Consent, error) {
	c, err := s.customers.GetByCode(ctx, customerCode)
	if err != nil {
		return nil, err
	}
	out, err := s.store.ListByCustomer(ctx, c.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list consents")
	}
	return out, nil
}

func (s *Service) GetOptedInChannels(ctx context.Context, customerCode string) ([]models.Channel, error) {
	consents, err := s.GetConsents(ctx, customerCode)
	if err != nil {
		return nil, err
	}
	channels := []models.Channel{}
	for _, c := range consents {
		if c.IsOptedIn() {
			channels = append(channels, c.Channel)
		}
	}
	return channels, nil
}

// GetMarketableCustomers returns the codes of active customers opted in on
// channel.
func (s *Service) GetMarketableCustomers(ctx context.Context, channelName string) ([]string, error) {
	channel, err := models.ParseChannel(channelName)
	if err != nil {
		return nil, err
	}
	ids, err := s.store.ListOptedIn(ctx, channel)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list opted-in customers")
	}
	codes := []string{}
	for _, customerID := range ids {
		c, err := s.customers.GetByUUID(ctx, customerID)
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		codes = append(codes, c.Code)
	}
	return codes, nil
}

func (s *Service) emit(ctx context.Context, evs ...events.Event) {
	actor := requestcontext.ActorName(ctx, "")
	for i := range evs {
		evs[i].Actor = actor
	}
	if err := s.publisher.Publish(ctx, evs...); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to publish consent events", "error", err)
	}
}
