package service

import (
	"context"
	"errors"
	"maps"
	"reflect"
	"strings"

	"github.com/google/uuid"

	"patron/internal/events"
	"patron/internal/gates"
	"patron/internal/identity/models"
	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/sentinel"
	"patron/pkg/requestcontext"
)

// CreateCustomer creates a customer and mirrors its phone and email as
// primary contact points in the same transaction.
func (s *Service) CreateCustomer(ctx context.Context, req *models.CreateCustomerRequest) (*models.Customer, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	code := req.Code
	if code == "" {
		code = "CUST-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	}
	c, err := models.NewCustomer(id.NewCustomerID(), code, req.FirstName, now)
	if err != nil {
		return nil, err
	}
	c.LastName = req.LastName
	c.Type = req.Type
	c.Document = models.NormalizeDocument(req.Document)
	c.Phone = models.NormalizePhone(req.Phone, s.region)
	c.Email = models.NormalizeEmail(req.Email)
	c.GroupCode = req.GroupCode
	c.SourceSystem = req.SourceSystem
	c.CreatedBy = requestcontext.ActorName(ctx, "")
	c.MergeMetadata(req.Metadata)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.assignGroup(ctx, c); err != nil {
			return err
		}
		if err := s.store.CreateCustomer(ctx, c); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "customer code already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create customer")
		}
		if c.Phone != "" {
			if _, err := s.attachContact(ctx, c, models.ContactPhone, c.Phone, true, now); err != nil {
				return err
			}
		}
		if c.Email != "" {
			if _, err := s.attachContact(ctx, c, models.ContactEmail, c.Email, true, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, events.New(events.CustomerCreated, c.ID, now, map[string]any{
		"code":          c.Code,
		"source_system": c.SourceSystem,
	}))
	return c, nil
}

// assignGroup checks c.GroupCode names an existing group, or puts c in the
// default group when it names none.
func (s *Service) assignGroup(ctx context.Context, c *models.Customer) error {
	g, err := s.resolveGroup(ctx, c.GroupCode)
	if err != nil {
		return err
	}
	if g != nil {
		c.GroupCode = g.Code
	}
	return nil
}

// GetByCode returns an active customer by code.
func (s *Service) GetByCode(ctx context.Context, code string) (*models.Customer, error) {
	return s.activeByCode(ctx, strings.TrimSpace(code))
}

// GetByUUID returns an active customer by id.
func (s *Service) GetByUUID(ctx context.Context, customerID id.CustomerID) (*models.Customer, error) {
	c, err := s.store.FindCustomerByID(ctx, customerID)
	if err != nil {
		return nil, storeErr(err, "customer not found", "failed to load customer")
	}
	if !c.IsActive {
		return nil, dErrors.New(dErrors.CodeNotFound, "customer not found")
	}
	return c, nil
}

// IsActiveCustomer reports whether customerID names an active customer. An
// unknown id is inactive, not an error.
func (s *Service) IsActiveCustomer(ctx context.Context, customerID id.CustomerID) (bool, error) {
	c, err := s.store.FindCustomerByID(ctx, customerID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load customer")
	}
	return c.IsActive, nil
}

// GetByDocument matches the digits of document.
func (s *Service) GetByDocument(ctx context.Context, document string) (*models.Customer, error) {
	doc := models.NormalizeDocument(document)
	if doc == "" {
		return nil, dErrors.New(dErrors.CodeNotFound, "customer not found")
	}
	c, err := s.store.FindActiveCustomerByDocument(ctx, doc)
	return c, storeErr(err, "customer not found", "failed to load customer")
}

// GetByPhone matches the normalized E.164 number against the customer's
// native phone field, then legacy storage forms, then phone and whatsapp
// contact points.
func (s *Service) GetByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	e164 := models.NormalizePhone(phone, s.region)
	if e164 == "" {
		return nil, dErrors.New(dErrors.CodeNotFound, "customer not found")
	}
	c, err := s.store.FindActiveCustomerByPhone(ctx, append([]string{e164}, models.LegacyPhoneForms(e164)...)...)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, storeErr(err, "customer not found", "failed to load customer")
	}
	for _, t := range []models.ContactType{models.ContactPhone, models.ContactWhatsApp} {
		if c, err := s.ownerOf(ctx, t, e164); err == nil {
			return c, nil
		} else if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, err
		}
	}
	return nil, dErrors.New(dErrors.CodeNotFound, "customer not found")
}

// GetByEmail matches case-insensitively on the native field, then on email
// contact points.
func (s *Service) GetByEmail(ctx context.Context, email string) (*models.Customer, error) {
	normalized := models.NormalizeEmail(email)
	if normalized == "" {
		return nil, dErrors.New(dErrors.CodeNotFound, "customer not found")
	}
	c, err := s.store.FindActiveCustomerByEmail(ctx, normalized)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, storeErr(err, "customer not found", "failed to load customer")
	}
	return s.ownerOf(ctx, models.ContactEmail, normalized)
}

func (s *Service) ownerOf(ctx context.Context, t models.ContactType, normalized string) (*models.Customer, error) {
	cp, err := s.store.FindContactPointByValue(ctx, t, normalized)
	if err != nil {
		return nil, storeErr(err, "customer not found", "failed to load contact point")
	}
	c, err := s.store.FindCustomerByID(ctx, cp.CustomerID)
	if err != nil {
		return nil, storeErr(err, "customer not found", "failed to load customer")
	}
	if !c.IsActive {
		return nil, dErrors.New(dErrors.CodeNotFound, "customer not found")
	}
	return c, nil
}

// Search lists active customers whose code, name, document, phone or email
// contains query.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*models.Customer, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	out, err := s.store.SearchCustomers(ctx, query, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to search customers")
	}
	return out, nil
}

// Profile returns a customer with its contacts, external identities and
// identifiers.
func (s *Service) Profile(ctx context.Context, code string) (*models.Profile, error) {
	c, err := s.activeByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	contacts, err := s.store.ListContactPoints(ctx, c.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list contact points")
	}
	externals, err := s.store.ListExternalIdentities(ctx, c.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list external identities")
	}
	idents, err := s.store.ListIdentifiers(ctx, c.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list identifiers")
	}
	return &models.Profile{Customer: c, ContactPoints: contacts, ExternalIdentities: externals, Identifiers: idents}, nil
}

// UpdateCustomer applies the whitelisted fields in req and returns the
// customer together with the per-field change set. Phone and email changes
// also update the matching primary contact point, running G1 first.
func (s *Service) UpdateCustomer(ctx context.Context, code string, req *models.UpdateCustomerRequest) (*models.Customer, map[string]models.Change, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	now := requestcontext.Now(ctx)
	var (
		updated *models.Customer
		changes = map[string]models.Change{}
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.lockActiveByCode(ctx, code)
		if err != nil {
			return err
		}
		set := func(field string, dst *string, v *string, normalize func(string) string) {
			if v == nil {
				return
			}
			next := normalize(*v)
			if next != *dst {
				changes[field] = models.Change{Old: *dst, New: next}
				*dst = next
			}
		}
		set("first_name", &c.FirstName, req.FirstName, strings.TrimSpace)
		set("last_name", &c.LastName, req.LastName, strings.TrimSpace)
		set("document", &c.Document, req.Document, models.NormalizeDocument)
		set("group", &c.GroupCode, req.GroupCode, func(v string) string { return strings.ToLower(strings.TrimSpace(v)) })
		set("phone", &c.Phone, req.Phone, func(v string) string { return models.NormalizePhone(v, s.region) })
		set("email", &c.Email, req.Email, models.NormalizeEmail)
		if len(req.Metadata) > 0 {
			before := maps.Clone(c.Metadata)
			c.MergeMetadata(req.Metadata)
			if !reflect.DeepEqual(before, c.Metadata) {
				changes["metadata"] = models.Change{Old: before, New: maps.Clone(c.Metadata)}
			}
		}
		if len(changes) == 0 {
			updated = c
			return nil
		}
		if _, ok := changes["group"]; ok && c.GroupCode != "" {
			if _, err := s.resolveGroup(ctx, c.GroupCode); err != nil {
				return err
			}
		}
		if _, ok := changes["phone"]; ok && c.Phone != "" {
			if err := s.ensurePrimaryContact(ctx, c, models.ContactPhone, c.Phone, now); err != nil {
				return err
			}
		}
		if _, ok := changes["email"]; ok && c.Email != "" {
			if err := s.ensurePrimaryContact(ctx, c, models.ContactEmail, c.Email, now); err != nil {
				return err
			}
		}
		c.UpdatedAt = now
		if err := s.store.UpdateCustomer(ctx, c); err != nil {
			return storeErr(err, "customer not found", "failed to update customer")
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(changes) > 0 {
		payload := map[string]any{"code": updated.Code, "changes": changes}
		s.emit(ctx, events.New(events.CustomerUpdated, updated.ID, now, payload))
	}
	return updated, changes, nil
}

// DeactivateCustomer soft-deletes a customer. Inactive customers disappear
// from every lookup.
func (s *Service) DeactivateCustomer(ctx context.Context, code string) (*models.Customer, error) {
	now := requestcontext.Now(ctx)
	var out *models.Customer
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		found, err := s.store.FindCustomerByCode(ctx, code)
		if err != nil {
			return storeErr(err, "customer not found", "failed to load customer")
		}
		c, err := s.store.LockCustomer(ctx, found.ID)
		if err != nil {
			return storeErr(err, "customer not found", "failed to lock customer")
		}
		if err := c.CanDeactivate(); err != nil {
			return err
		}
		c.ApplyDeactivation(now)
		if err := s.store.UpdateCustomer(ctx, c); err != nil {
			return storeErr(err, "customer not found", "failed to deactivate customer")
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.New(events.CustomerDeactivated, out.ID, now, map[string]any{"code": out.Code}))
	return out, nil
}

// gateErr returns the gate's typed failure, or nil if it passed.
func gateErr(r gates.Result, err error) error {
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "gate lookup failed")
	}
	return r.Err()
}
