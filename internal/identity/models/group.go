package models

import (
	"maps"
	"regexp"
	"strings"
	"time"

	dErrors "patron/pkg/domain-errors"
)

var groupCodePattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// Group segments customers, typically for pricing. At most one group is the
// default; new customers without an explicit group join it.
type Group struct {
	Code          string         `json:"code"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	PriceListCode string         `json:"price_list_code,omitempty"`
	IsDefault     bool           `json:"is_default"`
	Priority      int            `json:"priority"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// CreateGroupRequest is the input for creating or replacing a group.
type CreateGroupRequest struct {
	Code          string         `json:"code"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	PriceListCode string         `json:"price_list_code"`
	IsDefault     bool           `json:"is_default"`
	Priority      int            `json:"priority"`
	Metadata      map[string]any `json:"metadata"`
}

func (r *CreateGroupRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	r.Code = strings.ToLower(strings.TrimSpace(r.Code))
	r.Name = strings.TrimSpace(r.Name)
	r.PriceListCode = strings.TrimSpace(r.PriceListCode)
	switch {
	case r.Code == "":
		return dErrors.New(dErrors.CodeValidation, "group code is required")
	case len(r.Code) > 50:
		return dErrors.New(dErrors.CodeValidation, "group code must be 50 characters or less")
	case !groupCodePattern.MatchString(r.Code):
		return dErrors.New(dErrors.CodeValidation, "group code must be a slug")
	case r.Name == "":
		return dErrors.New(dErrors.CodeValidation, "group name is required")
	case len(r.PriceListCode) > 50:
		return dErrors.New(dErrors.CodeValidation, "price list code must be 50 characters or less")
	}
	return nil
}

// NewGroup builds a group from a validated request.
func NewGroup(r *CreateGroupRequest, now time.Time) *Group {
	meta := maps.Clone(r.Metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	return &Group{
		Code:          r.Code,
		Name:          r.Name,
		Description:   strings.TrimSpace(r.Description),
		PriceListCode: r.PriceListCode,
		IsDefault:     r.IsDefault,
		Priority:      r.Priority,
		Metadata:      meta,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	cp := *g
	cp.Metadata = maps.Clone(g.Metadata)
	return &cp
}

// Validation is the checkout-facing summary of a customer code. Valid is
// false, with ErrorCode set, when no active customer has the code.
type Validation struct {
	Valid         bool   `json:"valid"`
	Code          string `json:"code"`
	CustomerID    string `json:"customer_id,omitempty"`
	Name          string `json:"name,omitempty"`
	GroupCode     string `json:"group_code,omitempty"`
	PriceListCode string `json:"price_list_code,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	Message       string `json:"message,omitempty"`
}

const ValidationCustomerNotFound = "CUSTOMER_NOT_FOUND"
