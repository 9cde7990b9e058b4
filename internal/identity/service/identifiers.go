package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"patron/internal/events"
	"patron/internal/identity/models"
	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/sentinel"
	"patron/pkg/requestcontext"
)

// LinkExternalIdentity binds (provider, uid) to the customer. Relinking the
// same pair to the same customer refreshes its metadata; a pair owned by
// another customer is a conflict.
func (s *Service) LinkExternalIdentity(ctx context.Context, customerCode string, provider models.Provider, uid string, meta map[string]any) (*models.ExternalIdentity, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "provider_uid is required")
	}
	if _, err := models.ParseProvider(string(provider)); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	var (
		out    *models.ExternalIdentity
		linked bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.lockActiveByCode(ctx, customerCode)
		if err != nil {
			return err
		}
		existing, err := s.store.FindExternalIdentity(ctx, provider, uid)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			e := &models.ExternalIdentity{
				ID:           id.NewExternalIdentityID(),
				CustomerID:   c.ID,
				Provider:     provider,
				ProviderUID:  uid,
				ProviderMeta: meta,
				IsActive:     true,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := s.store.CreateExternalIdentity(ctx, e); err != nil {
				if errors.Is(err, sentinel.ErrConflict) {
					return dErrors.Wrap(err, dErrors.CodeConflict, "external identity already linked to another customer")
				}
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to link external identity")
			}
			out, linked = e, true
			return nil
		case err != nil:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load external identity")
		case existing.CustomerID != c.ID:
			return dErrors.New(dErrors.CodeConflict, "external identity already linked to another customer")
		}
		if existing.ProviderMeta == nil {
			existing.ProviderMeta = map[string]any{}
		}
		for k, v := range meta {
			existing.ProviderMeta[k] = v
		}
		existing.IsActive = true
		existing.UpdatedAt = now
		if err := s.store.UpdateExternalIdentity(ctx, existing); err != nil {
			return storeErr(err, "external identity not found", "failed to update external identity")
		}
		out = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	if linked {
		s.emit(ctx, events.New(events.ExternalIdentityLinked, out.CustomerID, now, map[string]any{
			"provider":     string(out.Provider),
			"provider_uid": out.ProviderUID,
		}))
	}
	return out, nil
}

// FindByExternalIdentity returns the active customer linked to (provider, uid).
func (s *Service) FindByExternalIdentity(ctx context.Context, provider models.Provider, uid string) (*models.Customer, error) {
	e, err := s.store.FindExternalIdentity(ctx, provider, strings.TrimSpace(uid))
	if err != nil {
		return nil, storeErr(err, "customer not found", "failed to load external identity")
	}
	return s.GetByUUID(ctx, e.CustomerID)
}

// AddIdentifierInput describes an identifier to attach to a customer.
type AddIdentifierInput struct {
	Type         models.IdentifierType
	Value        string
	IsPrimary    bool
	SourceSystem string
}

// AddIdentifier attaches an identifier to the customer. Adding a value the
// customer already owns returns the existing record; a value owned by
// another customer is a conflict. A primary identifier demotes the current
// primary of its type.
func (s *Service) AddIdentifier(ctx context.Context, customerCode string, in AddIdentifierInput) (*models.CustomerIdentifier, error) {
	var out *models.CustomerIdentifier
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.lockActiveByCode(ctx, customerCode)
		if err != nil {
			return err
		}
		out, err = s.addIdentifier(ctx, c, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.New(events.IdentifierAdded, out.CustomerID, requestcontext.Now(ctx), map[string]any{
		"identifier_type": string(out.Type),
		"is_primary":      out.IsPrimary,
		"source_system":   out.SourceSystem,
	}))
	return out, nil
}

// addIdentifier must run inside a transaction.
func (s *Service) addIdentifier(ctx context.Context, c *models.Customer, in AddIdentifierInput) (*models.CustomerIdentifier, error) {
	if _, err := models.ParseIdentifierType(string(in.Type)); err != nil {
		return nil, err
	}
	value := models.NormalizeIdentifierValue(in.Type, in.Value, s.region)
	if value == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "identifier value is empty after normalization")
	}
	existing, err := s.store.FindIdentifier(ctx, in.Type, value)
	switch {
	case err == nil && existing.CustomerID == c.ID:
		return existing, nil
	case err == nil:
		return nil, dErrors.New(dErrors.CodeConflict, "identifier already belongs to another customer")
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identifier")
	}

	now := requestcontext.Now(ctx)
	if in.IsPrimary {
		current, err := s.store.ListIdentifiers(ctx, c.ID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list identifiers")
		}
		for _, ident := range current {
			if ident.Type == in.Type && ident.IsPrimary {
				ident.IsPrimary = false
				if err := s.store.UpdateIdentifier(ctx, ident); err != nil {
					return nil, storeErr(err, "identifier not found", "failed to demote identifier")
				}
			}
		}
	}
	ident := &models.CustomerIdentifier{
		ID:           id.NewIdentifierID(),
		CustomerID:   c.ID,
		Type:         in.Type,
		Value:        value,
		IsPrimary:    in.IsPrimary,
		SourceSystem: in.SourceSystem,
		CreatedAt:    now,
	}
	if err := s.store.CreateIdentifier(ctx, ident); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "identifier already belongs to another customer")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to add identifier")
	}
	return ident, nil
}

// ListIdentifiers returns the customer's identifiers ordered by type with
// primaries first.
func (s *Service) ListIdentifiers(ctx context.Context, customerCode string) ([]*models.CustomerIdentifier, error) {
	c, err := s.activeByCode(ctx, customerCode)
	if err != nil {
		return nil, err
	}
	out, err := s.store.ListIdentifiers(ctx, c.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list identifiers")
	}
	return out, nil
}

// ResolveByIdentifier finds the active customer owning (t, value). The
// identifier table is consulted first, then the customer's native email and
// phone fields. It returns nil, nil when nothing matches.
func (s *Service) ResolveByIdentifier(ctx context.Context, t models.IdentifierType, value string) (*models.Customer, error) {
	if _, err := models.ParseIdentifierType(string(t)); err != nil {
		return nil, err
	}
	normalized := models.NormalizeIdentifierValue(t, value, s.region)
	if normalized == "" {
		return nil, nil
	}
	ident, err := s.store.FindIdentifier(ctx, t, normalized)
	switch {
	case err == nil:
		c, err := s.store.FindCustomerByID(ctx, ident.CustomerID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load customer")
		}
		if err == nil && c.IsActive {
			return c, nil
		}
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identifier")
	}

	var c *models.Customer
	switch t {
	case models.IdentifierEmail:
		c, err = s.store.FindActiveCustomerByEmail(ctx, normalized)
	case models.IdentifierPhone:
		c, err = s.store.FindActiveCustomerByPhone(ctx, append([]string{normalized}, models.LegacyPhoneForms(normalized)...)...)
	default:
		return nil, nil
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load customer")
	}
	return c, nil
}

// FindOrCreateByIdentifier resolves (t, value) or creates a customer with
// that primary identifier in one transaction. A concurrent creator for the
// same identifier makes this call resolve to the winner's customer.
func (s *Service) FindOrCreateByIdentifier(ctx context.Context, t models.IdentifierType, value string, defaults *models.CreateCustomerRequest) (*models.Customer, bool, error) {
	c, err := s.ResolveByIdentifier(ctx, t, value)
	if err != nil {
		return nil, false, err
	}
	if c != nil {
		return c, false, nil
	}

	req := models.CreateCustomerRequest{}
	if defaults != nil {
		req = *defaults
	}
	normalized := models.NormalizeIdentifierValue(t, value, s.region)
	if req.Code == "" {
		req.Code = GenerateCode(string(t), normalized)
	}
	if strings.TrimSpace(req.FirstName) == "" {
		req.FirstName = "Customer"
	}
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	now := requestcontext.Now(ctx)
	customer, err := models.NewCustomer(id.NewCustomerID(), req.Code, req.FirstName, now)
	if err != nil {
		return nil, false, err
	}
	customer.LastName = req.LastName
	customer.Type = req.Type
	customer.Document = models.NormalizeDocument(req.Document)
	customer.Phone = models.NormalizePhone(req.Phone, s.region)
	customer.Email = models.NormalizeEmail(req.Email)
	customer.GroupCode = req.GroupCode
	customer.SourceSystem = req.SourceSystem
	customer.MergeMetadata(req.Metadata)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.assignGroup(ctx, customer); err != nil {
			return err
		}
		if err := s.store.CreateCustomer(ctx, customer); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeConflict, "customer code already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create customer")
		}
		if customer.Phone != "" {
			if _, err := s.attachContact(ctx, customer, models.ContactPhone, customer.Phone, true, now); err != nil {
				return err
			}
		}
		if customer.Email != "" {
			if _, err := s.attachContact(ctx, customer, models.ContactEmail, customer.Email, true, now); err != nil {
				return err
			}
		}
		_, err := s.addIdentifier(ctx, customer, AddIdentifierInput{
			Type:         t,
			Value:        normalized,
			IsPrimary:    true,
			SourceSystem: req.SourceSystem,
		})
		return err
	})
	if dErrors.HasCode(err, dErrors.CodeConflict) {
		if winner, rerr := s.ResolveByIdentifier(ctx, t, value); rerr == nil && winner != nil {
			return winner, false, nil
		}
	}
	if err != nil {
		return nil, false, err
	}
	s.emit(ctx, events.New(events.CustomerCreated, customer.ID, now, map[string]any{
		"code":          customer.Code,
		"source_system": customer.SourceSystem,
		"identifier":    string(t),
	}))
	return customer, true, nil
}

// GenerateCode derives a stable customer code from an identifier.
func GenerateCode(identifierType, value string) string {
	return prefixedHash("CUST-", identifierType+":"+value)
}

func prefixedHash(prefix, input string) string {
	sum := sha256.Sum256([]byte(input))
	return prefix + strings.ToUpper(hex.EncodeToString(sum[:])[:8])
}
