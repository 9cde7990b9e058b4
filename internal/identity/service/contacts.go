package service

import (
	"context"
	"errors"
	"time"

	"patron/internal/events"
	"patron/internal/gates"
	"patron/internal/identity/models"
	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/sentinel"
	"patron/pkg/requestcontext"
)

// UpsertContactPoint adds a contact to the customer, or updates the one it
// already owns with the same value. G1 rejects values owned by anyone else;
// G3 runs when a verification method is supplied. The boolean reports
// whether a new contact point was created.
func (s *Service) UpsertContactPoint(ctx context.Context, customerCode string, in *models.ContactInput) (*models.ContactPoint, bool, error) {
	if err := in.Validate(); err != nil {
		return nil, false, err
	}
	t, _ := models.ParseContactType(in.Type)
	normalized := models.NormalizeContactValue(t, in.Value, s.region)
	if normalized == "" {
		return nil, false, dErrors.New(dErrors.CodeValidation, "contact value is empty after normalization")
	}
	method := models.VerificationMethod(in.VerificationMethod)
	verify := method != "" && method != models.VerificationUnverified
	if verify {
		if err := gates.VerifiedTransition(method).Err(); err != nil {
			return nil, false, err
		}
	}

	now := requestcontext.Now(ctx)
	var (
		out     *models.ContactPoint
		owner   *models.Customer
		created bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.lockActiveByCode(ctx, customerCode)
		if err != nil {
			return err
		}
		owner = c
		existing, err := s.store.FindContactPointByValue(ctx, t, normalized)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			cp, err := s.attachContact(ctx, c, t, normalized, in.IsPrimary, now)
			if err != nil {
				return err
			}
			out, created = cp, true
		case err != nil:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load contact point")
		case existing.CustomerID != c.ID:
			return gateErr(gates.ContactPointUniqueness(ctx, s.store, t, normalized, c.ID))
		default:
			out = existing
			if in.IsPrimary && !existing.IsPrimary {
				if out, err = s.promoteLocked(ctx, c, t, existing.ID, now); err != nil {
					return err
				}
			}
		}
		if in.Value != "" {
			out.ValueDisplay = in.Value
		}
		if verify {
			out.ApplyVerification(method, in.VerificationRef, now)
		}
		out.UpdatedAt = now
		if err := s.store.UpdateContactPoint(ctx, out); err != nil {
			return contactWriteErr(err)
		}
		if out.IsPrimary && mirror(c, out) {
			c.UpdatedAt = now
			if err := s.store.UpdateCustomer(ctx, c); err != nil {
				return storeErr(err, "customer not found", "failed to update customer")
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	var evs []events.Event
	if created {
		evs = append(evs, events.New(events.ContactPointAdded, owner.ID, now, contactPayload(out)))
	}
	if verify {
		evs = append(evs, events.New(events.ContactPointVerified, owner.ID, now, contactPayload(out)))
	}
	s.emit(ctx, evs...)
	return out, created, nil
}

// attachContact inserts a new contact point of type t for c after G1. The
// first contact of a type becomes primary; a primary request demotes the
// current primary. The store's unique constraints decide concurrent races.
func (s *Service) attachContact(ctx context.Context, c *models.Customer, t models.ContactType, normalized string, primary bool, now time.Time) (*models.ContactPoint, error) {
	if err := gateErr(gates.ContactPointUniqueness(ctx, s.store, t, normalized, c.ID)); err != nil {
		return nil, err
	}
	existing, err := s.store.LockContactPoints(ctx, c.ID, t)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock contact points")
	}
	cp, err := models.NewContactPoint(c.ID, t, normalized, s.region, now)
	if err != nil {
		return nil, err
	}
	cp.IsPrimary = primary || len(existing) == 0
	if cp.IsPrimary {
		if err := s.demote(ctx, existing, id.ContactPointID{}, now); err != nil {
			return nil, err
		}
	}
	if err := s.store.CreateContactPoint(ctx, cp); err != nil {
		return nil, contactWriteErr(err)
	}
	if cp.IsPrimary {
		if err := gateErr(gates.PrimaryInvariant(ctx, s.store, c.ID, t)); err != nil {
			return nil, err
		}
	}
	return cp, nil
}

// ensurePrimaryContact makes (t, normalized) the customer's primary contact
// of its type, creating it when missing. Used when the native phone or email
// field changes.
func (s *Service) ensurePrimaryContact(ctx context.Context, c *models.Customer, t models.ContactType, normalized string, now time.Time) error {
	existing, err := s.store.FindContactPointByValue(ctx, t, normalized)
	if errors.Is(err, sentinel.ErrNotFound) {
		_, err = s.attachContact(ctx, c, t, normalized, true, now)
		return err
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load contact point")
	}
	if existing.CustomerID != c.ID {
		return gateErr(gates.ContactPointUniqueness(ctx, s.store, t, normalized, c.ID))
	}
	if existing.IsPrimary {
		return nil
	}
	_, err = s.promoteLocked(ctx, c, t, existing.ID, now)
	return err
}

// PromoteToPrimary makes contactID the customer's primary contact of type t.
// Demote and promote happen in one transaction under a row lock on the
// customer's contacts of that type, followed by the G2 self-check.
func (s *Service) PromoteToPrimary(ctx context.Context, customerCode string, t models.ContactType, contactID id.ContactPointID) (*models.ContactPoint, error) {
	now := requestcontext.Now(ctx)
	var (
		out   *models.ContactPoint
		owner *models.Customer
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.lockActiveByCode(ctx, customerCode)
		if err != nil {
			return err
		}
		owner = c
		cp, err := s.promoteLocked(ctx, c, t, contactID, now)
		if err != nil {
			return err
		}
		out = cp
		if mirror(c, cp) {
			c.UpdatedAt = now
			if err := s.store.UpdateCustomer(ctx, c); err != nil {
				return storeErr(err, "customer not found", "failed to update customer")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.New(events.ContactPointPromoted, owner.ID, now, contactPayload(out)))
	return out, nil
}

// promoteLocked must run inside a transaction.
func (s *Service) promoteLocked(ctx context.Context, c *models.Customer, t models.ContactType, contactID id.ContactPointID, now time.Time) (*models.ContactPoint, error) {
	locked, err := s.store.LockContactPoints(ctx, c.ID, t)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock contact points")
	}
	var target *models.ContactPoint
	for _, cp := range locked {
		if cp.ID == contactID {
			target = cp
		}
	}
	if target == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "contact point not found")
	}
	if target.IsPrimary {
		return target, nil
	}
	if err := s.demote(ctx, locked, contactID, now); err != nil {
		return nil, err
	}
	target.IsPrimary = true
	target.UpdatedAt = now
	if err := s.store.UpdateContactPoint(ctx, target); err != nil {
		return nil, contactWriteErr(err)
	}
	if err := gateErr(gates.PrimaryInvariant(ctx, s.store, c.ID, t)); err != nil {
		return nil, err
	}
	return target, nil
}

func (s *Service) demote(ctx context.Context, contacts []*models.ContactPoint, keep id.ContactPointID, now time.Time) error {
	for _, cp := range contacts {
		if !cp.IsPrimary || cp.ID == keep {
			continue
		}
		cp.IsPrimary = false
		cp.UpdatedAt = now
		if err := s.store.UpdateContactPoint(ctx, cp); err != nil {
			return contactWriteErr(err)
		}
	}
	return nil
}

// MarkVerified records a verification on a contact point. G3 rejects
// methods outside models.VerifiedMethods before anything is loaded.
func (s *Service) MarkVerified(ctx context.Context, contactID id.ContactPointID, method models.VerificationMethod, ref string) (*models.ContactPoint, error) {
	if err := gates.VerifiedTransition(method).Err(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	var out *models.ContactPoint
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		found, err := s.store.FindContactPoint(ctx, contactID)
		if err != nil {
			return storeErr(err, "contact point not found", "failed to load contact point")
		}
		if _, err := s.lockActive(ctx, found.CustomerID); err != nil {
			return err
		}
		cp, err := s.store.FindContactPoint(ctx, contactID)
		if err != nil {
			return storeErr(err, "contact point not found", "failed to load contact point")
		}
		cp.ApplyVerification(method, ref, now)
		if err := s.store.UpdateContactPoint(ctx, cp); err != nil {
			return contactWriteErr(err)
		}
		out = cp
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.New(events.ContactPointVerified, out.CustomerID, now, contactPayload(out)))
	return out, nil
}

// ListContactPoints returns the customer's contacts, primaries first.
func (s *Service) ListContactPoints(ctx context.Context, customerCode string) ([]*models.ContactPoint, error) {
	c, err := s.activeByCode(ctx, customerCode)
	if err != nil {
		return nil, err
	}
	out, err := s.store.ListContactPoints(ctx, c.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list contact points")
	}
	return out, nil
}

// mirror copies a primary phone or email contact into the customer's native
// field and reports whether it changed.
func mirror(c *models.Customer, cp *models.ContactPoint) bool {
	if !cp.IsPrimary {
		return false
	}
	switch cp.Type {
	case models.ContactPhone:
		if c.Phone != cp.ValueNormalized {
			c.Phone = cp.ValueNormalized
			return true
		}
	case models.ContactEmail:
		if c.Email != cp.ValueNormalized {
			c.Email = cp.ValueNormalized
			return true
		}
	}
	return false
}

// contactWriteErr maps a contact write failure. A primary-index conflict
// means another writer set a primary of the same type first.
func contactWriteErr(err error) error {
	if errors.Is(err, sentinel.ErrConflict) {
		if sentinel.ConstraintOf(err) == models.ConstraintContactPrimary {
			return dErrors.Wrap(err, dErrors.CodeConflict, "a primary contact of this type was set concurrently; retry")
		}
		return dErrors.Wrap(err, dErrors.CodeConflict, "contact already exists in another customer")
	}
	return storeErr(err, "contact point not found", "failed to save contact point")
}

func contactPayload(cp *models.ContactPoint) map[string]any {
	return map[string]any{
		"contact_point_id": cp.ID.String(),
		"type":             string(cp.Type),
		"value":            cp.Masked(),
		"is_primary":       cp.IsPrimary,
		"is_verified":      cp.IsVerified,
	}
}
