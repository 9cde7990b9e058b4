package models

import (
	"maps"
	"strings"
	"time"

	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
)

// CustomerType distinguishes people from companies.
type CustomerType string

const (
	CustomerTypeIndividual CustomerType = "individual"
	CustomerTypeBusiness   CustomerType = "business"
)

// IsValid reports whether t is a supported customer type.
func (t CustomerType) IsValid() bool {
	return t == CustomerTypeIndividual || t == CustomerTypeBusiness
}

// Customer is the identity anchor every channel value, provider link and
// loyalty account hangs off.
//
// Invariants:
//   - Code and ID are unique across all customers, active or not
//   - Document holds digits only
//   - Phone and Email mirror the primary ContactPoint of their type; they are
//     a denormalized read cache, never the authority
//   - IsActive=false hides the customer from every lookup (soft delete)
//
// Deactivation is one-way through the service API; merged customers stay
// inactive and record the survivor in Metadata["merged_into"].
type Customer struct {
	ID           id.CustomerID  `json:"uuid"`
	Code         string         `json:"code"`
	FirstName    string         `json:"first_name"`
	LastName     string         `json:"last_name"`
	Type         CustomerType   `json:"customer_type"`
	Document     string         `json:"document,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	Email        string         `json:"email,omitempty"`
	GroupCode    string         `json:"group,omitempty"`
	IsActive     bool           `json:"is_active"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	SourceSystem string         `json:"source_system,omitempty"`
	CreatedBy    string         `json:"created_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewCustomer validates and builds an active customer.
func NewCustomer(customerID id.CustomerID, code, firstName string, now time.Time) (*Customer, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "customer code is required")
	}
	if len(code) > 50 {
		return nil, dErrors.New(dErrors.CodeValidation, "customer code must be 50 characters or less")
	}
	firstName = strings.TrimSpace(firstName)
	if firstName == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "first name is required")
	}
	return &Customer{
		ID:        customerID,
		Code:      code,
		FirstName: firstName,
		Type:      CustomerTypeIndividual,
		IsActive:  true,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Name returns the display name.
func (c *Customer) Name() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// CanDeactivate checks the customer is still active.
func (c *Customer) CanDeactivate() error {
	if !c.IsActive {
		return dErrors.New(dErrors.CodeInvalidTransition, "customer is already inactive")
	}
	return nil
}

// ApplyDeactivation marks the customer inactive. Call CanDeactivate first.
func (c *Customer) ApplyDeactivation(now time.Time) {
	c.IsActive = false
	c.UpdatedAt = now
}

// MergeMetadata copies src keys over the customer's metadata.
func (c *Customer) MergeMetadata(src map[string]any) {
	if len(src) == 0 {
		return
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	maps.Copy(c.Metadata, src)
}

// Clone returns a deep-enough copy for stores that hand out values.
func (c *Customer) Clone() *Customer {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Metadata = maps.Clone(c.Metadata)
	return &cp
}
