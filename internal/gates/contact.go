package gates

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"patron/internal/identity/models"
	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/sentinel"
)

// ContactLookup is the read view the contact gates need.
type ContactLookup interface {
	// FindContactPointByValue returns sentinel.ErrNotFound when no row holds the value.
	FindContactPointByValue(ctx context.Context, t models.ContactType, normalized string) (*models.ContactPoint, error)
	CountPrimaryContacts(ctx context.Context, customerID id.CustomerID, t models.ContactType) (int, error)
}

// ContactPointUniqueness (G1) fails when (t, normalized) is already owned by
// a customer other than exclude. Pass a nil exclude to check against everyone.
//
// The returned error is a lookup failure, never a gate failure.
func ContactPointUniqueness(ctx context.Context, lookup ContactLookup, t models.ContactType, normalized string, exclude id.CustomerID) (Result, error) {
	existing, err := lookup.FindContactPointByValue(ctx, t, normalized)
	if errors.Is(err, sentinel.ErrNotFound) {
		return pass(GateContactPointUniqueness), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("look up contact owner: %w", err)
	}
	if !exclude.IsNil() && existing.CustomerID == exclude {
		return pass(GateContactPointUniqueness), nil
	}
	r := fail(GateContactPointUniqueness, dErrors.CodeConflict, ReasonDuplicateContact,
		"contact already exists in another customer",
		map[string]any{
			"existing_customer_id": existing.CustomerID.String(),
			"contact_type":         string(t),
		})
	r.ConflictingCustomerID = existing.CustomerID
	return r, nil
}

// PrimaryInvariant (G2) fails when more than one primary of type t is stored
// for the customer. Storage constraints make this unreachable; it runs as a
// self-check after every primary swap.
func PrimaryInvariant(ctx context.Context, lookup ContactLookup, customerID id.CustomerID, t models.ContactType) (Result, error) {
	count, err := lookup.CountPrimaryContacts(ctx, customerID, t)
	if err != nil {
		return Result{}, fmt.Errorf("count primary contacts: %w", err)
	}
	if count > 1 {
		return fail(GatePrimaryInvariant, dErrors.CodeInvariantViolation, ReasonMultiplePrimaries,
			fmt.Sprintf("multiple primaries for type %q", t),
			map[string]any{"count": count, "contact_type": string(t)}), nil
	}
	return pass(GatePrimaryInvariant), nil
}

// VerifiedTransition (G3) fails unless method is one of models.VerifiedMethods.
//
// This is pure domain logic - no I/O, no side effects.
func VerifiedTransition(method models.VerificationMethod) Result {
	if slices.Contains(models.VerifiedMethods, method) {
		return pass(GateVerifiedTransition)
	}
	allowed := make([]string, 0, len(models.VerifiedMethods))
	for _, m := range models.VerifiedMethods {
		allowed = append(allowed, string(m))
	}
	return fail(GateVerifiedTransition, dErrors.CodeInvalidTransition, ReasonMethodNotAllowed,
		fmt.Sprintf("verification method not allowed: %s", method),
		map[string]any{"allowed": allowed})
}
