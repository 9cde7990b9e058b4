package models

import (
	"strings"

	dErrors "patron/pkg/domain-errors"
)

// CreateCustomerRequest is the input for creating a customer. Phone and
// email, when present, also become the customer's primary contact points.
type CreateCustomerRequest struct {
	Code         string         `json:"code"`
	FirstName    string         `json:"first_name"`
	LastName     string         `json:"last_name"`
	Type         CustomerType   `json:"customer_type"`
	Document     string         `json:"document"`
	Phone        string         `json:"phone"`
	Email        string         `json:"email"`
	GroupCode    string         `json:"group"`
	Metadata     map[string]any `json:"metadata"`
	SourceSystem string         `json:"source_system"`
}

func (r *CreateCustomerRequest) Normalize() {
	r.Code = strings.TrimSpace(r.Code)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.GroupCode = strings.ToLower(strings.TrimSpace(r.GroupCode))
	if r.Type == "" {
		r.Type = CustomerTypeIndividual
	}
}

func (r *CreateCustomerRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	r.Normalize()
	if r.FirstName == "" {
		return dErrors.New(dErrors.CodeValidation, "first_name is required")
	}
	if !r.Type.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "customer_type must be individual or business")
	}
	if r.Email != "" && !strings.Contains(r.Email, "@") {
		return dErrors.New(dErrors.CodeValidation, "email is malformed")
	}
	return nil
}

// UpdateCustomerRequest carries the whitelisted mutable fields. Nil fields
// are left unchanged.
type UpdateCustomerRequest struct {
	FirstName *string        `json:"first_name"`
	LastName  *string        `json:"last_name"`
	Document  *string        `json:"document"`
	Phone     *string        `json:"phone"`
	Email     *string        `json:"email"`
	GroupCode *string        `json:"group"`
	Metadata  map[string]any `json:"metadata"`
}

func (r *UpdateCustomerRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.FirstName != nil && strings.TrimSpace(*r.FirstName) == "" {
		return dErrors.New(dErrors.CodeValidation, "first_name cannot be blank")
	}
	if r.Email != nil && *r.Email != "" && !strings.Contains(*r.Email, "@") {
		return dErrors.New(dErrors.CodeValidation, "email is malformed")
	}
	return nil
}

// Change is one field difference recorded by an update.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// ContactInput describes a contact point to add or update.
type ContactInput struct {
	Type               string `json:"type"`
	Value              string `json:"value"`
	IsPrimary          bool   `json:"is_primary"`
	VerificationMethod string `json:"verification_method"`
	VerificationRef    string `json:"verification_ref"`
}

func (r *ContactInput) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if _, err := ParseContactType(r.Type); err != nil {
		return err
	}
	if strings.TrimSpace(r.Value) == "" {
		return dErrors.New(dErrors.CodeValidation, "value is required")
	}
	return nil
}

// Profile is a customer with every attached identity record.
type Profile struct {
	Customer           *Customer             `json:"customer"`
	ContactPoints      []*ContactPoint       `json:"contact_points"`
	ExternalIdentities []*ExternalIdentity   `json:"external_identities"`
	Identifiers        []*CustomerIdentifier `json:"identifiers"`
}
