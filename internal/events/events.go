// Package events defines the typed domain events emitted after a write
// commits, and the dispatcher that fans them out to registered listeners.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "patron/pkg/domain"
)

//go:generate mockgen -source=events.go -destination=mocks/mocks.go -package=mocks Publisher,Listener

// Type names a domain event. Values are stable wire names.
type Type string

const (
	CustomerCreated     Type = "customer.created"
	CustomerUpdated     Type = "customer.updated"
	CustomerDeactivated Type = "customer.deactivated"
	CustomerMerged      Type = "customer.merged"

	ContactPointAdded    Type = "contact_point.added"
	ContactPointVerified Type = "contact_point.verified"
	ContactPointPromoted Type = "contact_point.promoted"

	ExternalIdentityLinked Type = "external_identity.linked"
	IdentifierAdded        Type = "identifier.added"

	LoyaltyEnrolled              Type = "loyalty.enrolled"
	LoyaltyPointsEarned          Type = "loyalty.points_earned"
	LoyaltyPointsRedeemed        Type = "loyalty.points_redeemed"
	LoyaltyCardCompleted         Type = "loyalty.card_completed"
	LoyaltyTierChanged           Type = "loyalty.tier_changed"
	LoyaltyNotificationRequested Type = "loyalty.notification_requested"

	ConsentGranted Type = "consent.granted"
	ConsentRevoked Type = "consent.revoked"
)

// Event is one fact about a customer. Payload values must be JSON-encodable.
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	CustomerID id.CustomerID  `json:"customer_id"`
	Actor      string         `json:"actor,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// New builds an event with a fresh id.
func New(t Type, customerID id.CustomerID, now time.Time, payload map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		CustomerID: customerID,
		OccurredAt: now,
		Payload:    payload,
	}
}

// Publisher is what services depend on to emit events after commit.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Listener receives dispatched events.
type Listener interface {
	Handle(ctx context.Context, e Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, e Event) error

func (f ListenerFunc) Handle(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
