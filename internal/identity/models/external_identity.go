package models

import (
	"maps"
	"slices"
	"strings"
	"time"

	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
)

// Provider names an external account system a customer can be linked to.
type Provider string

const (
	ProviderManychat  Provider = "manychat"
	ProviderWhatsApp  Provider = "whatsapp"
	ProviderInstagram Provider = "instagram"
	ProviderFacebook  Provider = "facebook"
	ProviderGoogle    Provider = "google"
	ProviderApple     Provider = "apple"
	ProviderTelegram  Provider = "telegram"
	ProviderOther     Provider = "other"
)

var providers = []Provider{
	ProviderManychat, ProviderWhatsApp, ProviderInstagram, ProviderFacebook,
	ProviderGoogle, ProviderApple, ProviderTelegram, ProviderOther,
}

// ParseProvider validates external input.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(providers, p) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported provider: "+s)
	}
	return p, nil
}

// ExternalIdentity links a customer to a provider account.
// (Provider, ProviderUID) is unique across all customers.
type ExternalIdentity struct {
	ID           id.ExternalIdentityID `json:"id"`
	CustomerID   id.CustomerID         `json:"customer_id"`
	Provider     Provider              `json:"provider"`
	ProviderUID  string                `json:"provider_uid"`
	ProviderMeta map[string]any        `json:"provider_meta,omitempty"`
	IsActive     bool                  `json:"is_active"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

func (e *ExternalIdentity) Clone() *ExternalIdentity {
	if e == nil {
		return nil
	}
	cp := *e
	cp.ProviderMeta = maps.Clone(e.ProviderMeta)
	return &cp
}
