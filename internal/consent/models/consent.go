package models

import (
	"fmt"
	"strings"
	"time"

	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
)

// Channel is a communication channel a customer can opt in to.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelPush     Channel = "push"
)

func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case ChannelWhatsApp, ChannelEmail, ChannelSMS, ChannelPush:
		return c, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown channel %q", s))
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusOptedIn  Status = "opted_in"
	StatusOptedOut Status = "opted_out"
)

// LegalBasis is the data-protection ground a consent rests on.
type LegalBasis string

const (
	BasisConsent            LegalBasis = "consent"
	BasisLegitimateInterest LegalBasis = "legitimate_interest"
	BasisContract           LegalBasis = "contract"
	BasisLegalObligation    LegalBasis = "legal_obligation"
)

// ParseLegalBasis defaults an empty value to BasisConsent.
func ParseLegalBasis(s string) (LegalBasis, error) {
	b := LegalBasis(strings.ToLower(strings.TrimSpace(s)))
	switch b {
	case "":
		return BasisConsent, nil
	case BasisConsent, BasisLegitimateInterest, BasisContract, BasisLegalObligation:
		return b, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown legal basis %q", s))
}

// Consent is the current decision of one customer for one channel.
type Consent struct {
	CustomerID  id.CustomerID `json:"customer_id"`
	Channel     Channel       `json:"channel"`
	Status      Status        `json:"status"`
	LegalBasis  LegalBasis    `json:"legal_basis"`
	Source      string        `json:"source,omitempty"`
	IPAddress   string        `json:"ip_address,omitempty"`
	ConsentedAt *time.Time    `json:"consented_at,omitempty"`
	RevokedAt   *time.Time    `json:"revoked_at,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NewPending starts a record that grants nothing yet.
func NewPending(customerID id.CustomerID, channel Channel, now time.Time) *Consent {
	return &Consent{
		CustomerID: customerID,
		Channel:    channel,
		Status:     StatusPending,
		LegalBasis: BasisConsent,
		UpdatedAt:  now,
	}
}

// Grant opts the customer in and clears any earlier revocation.
func (c *Consent) Grant(basis LegalBasis, source, ip string, now time.Time) {
	c.Status = StatusOptedIn
	c.LegalBasis = basis
	c.Source = source
	c.IPAddress = ip
	c.ConsentedAt = &now
	c.RevokedAt = nil
	c.UpdatedAt = now
}

// Revoke opts the customer out. ConsentedAt is kept for the audit trail.
func (c *Consent) Revoke(now time.Time) {
	c.Status = StatusOptedOut
	c.RevokedAt = &now
	c.UpdatedAt = now
}

func (c *Consent) IsOptedIn() bool {
	return c != nil && c.Status == StatusOptedIn
}

func (c *Consent) Clone() *Consent {
	if c == nil {
		return nil
	}
	cp := *c
	if c.ConsentedAt != nil {
		t := *c.ConsentedAt
		cp.ConsentedAt = &t
	}
	if c.RevokedAt != nil {
		t := *c.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}

// GrantInput is the request to opt a customer in.
type GrantInput struct {
	Channel    string `json:"channel"`
	Source     string `json:"source"`
	LegalBasis string `json:"legal_basis"`
	IPAddress  string `json:"ip_address"`
}
