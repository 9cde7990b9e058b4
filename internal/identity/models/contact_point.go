package models

import (
	"slices"
	"strings"
	"time"

	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
)

// ContactType is the channel a ContactPoint reaches.
type ContactType string

const (
	ContactWhatsApp  ContactType = "whatsapp"
	ContactPhone     ContactType = "phone"
	ContactEmail     ContactType = "email"
	ContactInstagram ContactType = "instagram"
)

var contactTypes = []ContactType{ContactWhatsApp, ContactPhone, ContactEmail, ContactInstagram}

// Unique constraints on contact points, named as in the schema.
const (
	ConstraintContactValue   = "contact_points_unique_value"
	ConstraintContactPrimary = "contact_points_unique_primary"
)

// ParseContactType validates external input.
func ParseContactType(s string) (ContactType, error) {
	t := ContactType(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(contactTypes, t) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported contact type: "+s)
	}
	return t, nil
}

// VerificationMethod records how a contact value was proven to belong to its
// customer. Unverified is the zero state and is not accepted as a transition.
type VerificationMethod string

const (
	VerificationUnverified      VerificationMethod = "unverified"
	VerificationChannelAsserted VerificationMethod = "channel_asserted"
	VerificationOTPWhatsApp     VerificationMethod = "otp_whatsapp"
	VerificationOTPSMS          VerificationMethod = "otp_sms"
	VerificationEmailLink       VerificationMethod = "email_link"
	VerificationManual          VerificationMethod = "manual"
)

// VerifiedMethods lists the methods a contact may transition to verified with.
var VerifiedMethods = []VerificationMethod{
	VerificationChannelAsserted,
	VerificationOTPWhatsApp,
	VerificationOTPSMS,
	VerificationEmailLink,
	VerificationManual,
}

// ContactPoint is a channel value owned by exactly one customer.
//
// Invariants:
//   - (Type, ValueNormalized) is unique across all customers
//   - at most one primary per (CustomerID, Type)
//   - IsVerified implies VerificationMethod is one of VerifiedMethods
type ContactPoint struct {
	ID                 id.ContactPointID  `json:"id"`
	CustomerID         id.CustomerID      `json:"customer_id"`
	Type               ContactType        `json:"type"`
	ValueNormalized    string             `json:"value_normalized"`
	ValueDisplay       string             `json:"value_display,omitempty"`
	IsPrimary          bool               `json:"is_primary"`
	IsVerified         bool               `json:"is_verified"`
	VerificationMethod VerificationMethod `json:"verification_method"`
	VerifiedAt         *time.Time         `json:"verified_at,omitempty"`
	VerificationRef    string             `json:"verification_ref,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// NewContactPoint normalizes value for its type and returns an unverified,
// non-primary contact.
func NewContactPoint(customerID id.CustomerID, t ContactType, value, region string, now time.Time) (*ContactPoint, error) {
	normalized := NormalizeContactValue(t, value, region)
	if normalized == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "contact value is empty after normalization")
	}
	return &ContactPoint{
		ID:                 id.NewContactPointID(),
		CustomerID:         customerID,
		Type:               t,
		ValueNormalized:    normalized,
		ValueDisplay:       strings.TrimSpace(value),
		VerificationMethod: VerificationUnverified,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// ApplyVerification marks the contact verified. The method must already have
// passed the verified-transition gate.
func (c *ContactPoint) ApplyVerification(method VerificationMethod, ref string, now time.Time) {
	c.IsVerified = true
	c.VerificationMethod = method
	c.VerificationRef = ref
	c.VerifiedAt = &now
	c.UpdatedAt = now
}

// Masked renders the value safely for logs and support screens.
func (c *ContactPoint) Masked() string {
	return MaskValue(c.Type, c.ValueNormalized)
}

// Clone returns a copy safe to hand out of a store.
func (c *ContactPoint) Clone() *ContactPoint {
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

// MaskValue hides all but a recognisable fragment of a contact value.
func MaskValue(t ContactType, value string) string {
	if t == ContactEmail {
		local, domain, ok := strings.Cut(value, "@")
		if !ok || strings.Contains(domain, "@") {
			return "***@***"
		}
		if len(local) > 2 {
			return local[:1] + "***" + local[len(local)-1:] + "@" + domain
		}
		return "***@" + domain
	}
	if len(value) > 4 {
		return "***" + value[len(value)-4:]
	}
	return "****"
}
