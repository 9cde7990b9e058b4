package service

import (
	"context"
	"errors"

	"patron/internal/identity/models"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/sentinel"
	"patron/pkg/requestcontext"
)

// SaveGroup creates or replaces a customer group. Marking a group default
// clears the flag on every other group in the same transaction.
func (s *Service) SaveGroup(ctx context.Context, req *models.CreateGroupRequest) (*models.Group, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	g := models.NewGroup(req, requestcontext.Now(ctx))
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if g.IsDefault {
			if err := s.store.ClearDefaultGroup(ctx, g.Code); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear default group")
			}
		}
		if err := s.store.SaveGroup(ctx, g); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeConflict, "another group is already the default")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save group")
		}
		saved, err := s.store.FindGroup(ctx, g.Code)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load group")
		}
		g = saved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// ListGroups returns every group, highest priority first.
func (s *Service) ListGroups(ctx context.Context) ([]*models.Group, error) {
	out, err := s.store.ListGroups(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list groups")
	}
	return out, nil
}

// resolveGroup returns the group a customer joins: the named one, which must
// exist, or the default group when code is empty. An empty code with no
// default group yields nil.
func (s *Service) resolveGroup(ctx context.Context, code string) (*models.Group, error) {
	if code == "" {
		g, err := s.store.FindDefaultGroup(ctx)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load default group")
		}
		return g, nil
	}
	g, err := s.store.FindGroup(ctx, code)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown group: "+code)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load group")
	}
	return g, nil
}

// ValidateCustomer summarizes an active customer for checkout: display
// name, group and applicable price list. An unknown or inactive code is a
// negative result, not an error.
func (s *Service) ValidateCustomer(ctx context.Context, code string) (*models.Validation, error) {
	c, err := s.activeByCode(ctx, code)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return &models.Validation{
			Code:      code,
			ErrorCode: models.ValidationCustomerNotFound,
			Message:   "customer '" + code + "' not found",
		}, nil
	}
	if err != nil {
		return nil, err
	}
	out := &models.Validation{
		Valid:      true,
		Code:       c.Code,
		CustomerID: c.ID.String(),
		Name:       c.Name(),
		GroupCode:  c.GroupCode,
	}
	if out.PriceListCode, err = s.priceListOf(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// PriceList returns the price list code of the customer's group, or "" when
// the customer has no group or the group has no price list.
func (s *Service) PriceList(ctx context.Context, code string) (string, error) {
	c, err := s.activeByCode(ctx, code)
	if err != nil {
		return "", err
	}
	return s.priceListOf(ctx, c)
}

func (s *Service) priceListOf(ctx context.Context, c *models.Customer) (string, error) {
	if c.GroupCode == "" {
		return "", nil
	}
	g, err := s.store.FindGroup(ctx, c.GroupCode)
	if errors.Is(err, sentinel.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load group")
	}
	return g.PriceListCode, nil
}
