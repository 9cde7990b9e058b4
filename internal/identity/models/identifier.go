package models

import (
	"slices"
	"strings"
	"time"

	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
)

// IdentifierType is a cross-channel dedup key kind.
type IdentifierType string

const (
	IdentifierPhone     IdentifierType = "phone"
	IdentifierEmail     IdentifierType = "email"
	IdentifierInstagram IdentifierType = "instagram"
	IdentifierFacebook  IdentifierType = "facebook"
	IdentifierWhatsApp  IdentifierType = "whatsapp"
	IdentifierTelegram  IdentifierType = "telegram"
	IdentifierManychat  IdentifierType = "manychat"
)

var identifierTypes = []IdentifierType{
	IdentifierPhone, IdentifierEmail, IdentifierInstagram, IdentifierFacebook,
	IdentifierWhatsApp, IdentifierTelegram, IdentifierManychat,
}

// ParseIdentifierType validates external input.
func ParseIdentifierType(s string) (IdentifierType, error) {
	t := IdentifierType(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(identifierTypes, t) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported identifier type: "+s)
	}
	return t, nil
}

// CustomerIdentifier maps (Type, Value) to a customer before any ContactPoint
// or ExternalIdentity exists. (Type, Value) is unique; at most one primary
// per (CustomerID, Type).
type CustomerIdentifier struct {
	ID           id.IdentifierID `json:"id"`
	CustomerID   id.CustomerID   `json:"customer_id"`
	Type         IdentifierType  `json:"identifier_type"`
	Value        string          `json:"identifier_value"`
	IsPrimary    bool            `json:"is_primary"`
	VerifiedAt   *time.Time      `json:"verified_at,omitempty"`
	SourceSystem string          `json:"source_system,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (c *CustomerIdentifier) Clone() *CustomerIdentifier {
	if c == nil {
		return nil
	}
	cp := *c
	if c.VerifiedAt != nil {
		t := *c.VerifiedAt
		cp.VerifiedAt = &t
	}
	return &cp
}
