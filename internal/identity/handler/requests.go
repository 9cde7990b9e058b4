package handler

import (
	"strings"

	"patron/internal/identity/models"
	dErrors "patron/pkg/domain-errors"
)

type promoteRequest struct {
	Type string `json:"type"`
}

func (r *promoteRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	_, err := models.ParseContactType(r.Type)
	return err
}

type verifyRequest struct {
	Method string `json:"method"`
	Ref    string `json:"ref"`
}

func (r *verifyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if strings.TrimSpace(r.Method) == "" {
		return dErrors.New(dErrors.CodeValidation, "method is required")
	}
	return nil
}

type linkRequest struct {
	Provider    string         `json:"provider"`
	ProviderUID string         `json:"provider_uid"`
	Meta        map[string]any `json:"provider_meta"`
}

func (r *linkRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if _, err := models.ParseProvider(r.Provider); err != nil {
		return err
	}
	if strings.TrimSpace(r.ProviderUID) == "" {
		return dErrors.New(dErrors.CodeValidation, "provider_uid is required")
	}
	return nil
}

type identifierRequest struct {
	Type         string `json:"identifier_type"`
	Value        string `json:"identifier_value"`
	IsPrimary    bool   `json:"is_primary"`
	SourceSystem string `json:"source_system"`
}

func (r *identifierRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if _, err := models.ParseIdentifierType(r.Type); err != nil {
		return err
	}
	if strings.TrimSpace(r.Value) == "" {
		return dErrors.New(dErrors.CodeValidation, "identifier_value is required")
	}
	return nil
}

type contactResponse struct {
	ContactPoint *models.ContactPoint `json:"contact_point"`
	Created      bool                 `json:"created"`
}

type updateResponse struct {
	Customer *models.Customer         `json:"customer"`
	Changes  map[string]models.Change `json:"changes"`
}

type resolveResponse struct {
	Found    bool             `json:"found"`
	Customer *models.Customer `json:"customer,omitempty"`
}
