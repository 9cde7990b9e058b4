// Package service implements the loyalty ledger: an append-only transaction
// log with a per-account balance projection.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"patron/internal/events"
	"patron/internal/ledger/metrics"
	"patron/internal/ledger/models"
	"patron/internal/ledger/store"
	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/sentinel"
	"patron/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks ConsentChecker,CustomerStatus

// DefaultNotificationChannel is the channel checked before requesting a
// customer-visible loyalty notification.
const DefaultNotificationChannel = "whatsapp"

// Store is the ledger persistence.
type Store interface {
	Enroll(ctx context.Context, acct *models.Account) (*models.Account, bool, error)
	FindAccount(ctx context.Context, customerID id.CustomerID) (*models.Account, error)
	ListTransactions(ctx context.Context, accountID id.AccountID, limit int) ([]*models.Transaction, error)
	Mutate(ctx context.Context, customerID id.CustomerID, fn store.MutateFunc) (*models.Account, *models.Transaction, error)
}

// ConsentChecker answers whether a customer accepted messages on a channel.
type ConsentChecker interface {
	HasConsent(ctx context.Context, customerID id.CustomerID, channel string) (bool, error)
}

// CustomerStatus reports whether a customer exists and is active. Merged and
// deactivated customers cannot enroll or move points.
type CustomerStatus interface {
	IsActiveCustomer(ctx context.Context, customerID id.CustomerID) (bool, error)
}

type Service struct {
	store        Store
	publisher    events.Publisher
	consent      ConsentChecker
	customers    CustomerStatus
	channel      string
	metrics      *metrics.Metrics
	logger       *slog.Logger
	tracer       trace.Tracer
	stampsTarget int
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

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithConsentChecker enables loyalty.notification_requested events for
// customers who opted in on channel.
func WithConsentChecker(c ConsentChecker, channel string) Option {
	return func(s *Service) {
		s.consent = c
		if channel != "" {
			s.channel = channel
		}
	}
}

func WithCustomerStatus(c CustomerStatus) Option {
	return func(s *Service) {
		s.customers = c
	}
}

func WithStampsTarget(target int) Option {
	return func(s *Service) {
		if target > 0 {
			s.stampsTarget = target
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func New(st Store, opts ...Option) *Service {
	s := &Service{
		store:        st,
		publisher:    events.Nop{},
		channel:      DefaultNotificationChannel,
		stampsTarget: models.DefaultStampsTarget,
		tracer:       otel.Tracer("patron/ledger"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enroll opens an account for the customer. Enrolling twice returns the
// existing account.
func (s *Service) Enroll(ctx context.Context, customerID id.CustomerID) (*models.Account, error) {
	if customerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "customer id is required")
	}
	if err := s.requireActive(ctx, customerID); err != nil {
		return nil, err
	}
	acct, created, err := s.store.Enroll(ctx, models.NewAccount(customerID, s.stampsTarget, time.Now()))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to enroll customer")
	}
	if created {
		s.emit(ctx, events.New(events.LoyaltyEnrolled, customerID, acct.EnrolledAt, map[string]any{
			"account_id":    acct.ID.String(),
			"stamps_target": acct.StampsTarget,
		}))
	}
	return acct, nil
}

func (s *Service) Account(ctx context.Context, customerID id.CustomerID) (*models.Account, error) {
	acct, err := s.store.FindAccount(ctx, customerID)
	if err != nil {
		return nil, accountErr(err)
	}
	return acct, nil
}

// Balance returns the spendable points, or 0 when the customer is not
// enrolled.
func (s *Service) Balance(ctx context.Context, customerID id.CustomerID) (int64, error) {
	acct, err := s.store.FindAccount(ctx, customerID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, accountErr(err)
	}
	return acct.PointsBalance, nil
}

// Transactions lists the newest entries first.
func (s *Service) Transactions(ctx context.Context, customerID id.CustomerID, limit int) ([]*models.Transaction, error) {
	acct, err := s.store.FindAccount(ctx, customerID)
	if err != nil {
		return nil, accountErr(err)
	}
	txns, err := s.store.ListTransactions(ctx, acct.ID, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list transactions")
	}
	return txns, nil
}

// requireActive is a no-op without a CustomerStatus.
func (s *Service) requireActive(ctx context.Context, customerID id.CustomerID) error {
	if s.customers == nil {
		return nil
	}
	active, err := s.customers.IsActiveCustomer(ctx, customerID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check customer status")
	}
	if !active {
		return dErrors.New(dErrors.CodeNotFound, "customer not found")
	}
	return nil
}

func accountErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "customer is not enrolled")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account")
}

func (s *Service) emit(ctx context.Context, evs ...events.Event) {
	if len(evs) == 0 {
		return
	}
	actor := requestcontext.ActorName(ctx, "")
	for i := range evs {
		if evs[i].Actor == "" {
			evs[i].Actor = actor
		}
	}
	if err := s.publisher.Publish(ctx, evs...); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to publish ledger events", "error", err)
	}
}

func (s *Service) startSpan(ctx context.Context, name string, customerID id.CustomerID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("customer.id", customerID.String()),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}
