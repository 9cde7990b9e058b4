package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"maps"
	"strings"

	"patron/internal/identity/models"
	"patron/internal/identity/service"
	dErrors "patron/pkg/domain-errors"
)

// ManychatName is the path segment ManyChat deliveries arrive on.
const ManychatName = "manychat"

const customFieldsKey = "manychat_custom_fields"

// Identity is the slice of the identity service the ManyChat sync writes
// through.
type Identity interface {
	ResolveByIdentifier(ctx context.Context, t models.IdentifierType, value string) (*models.Customer, error)
	FindOrCreateByIdentifier(ctx context.Context, t models.IdentifierType, value string, defaults *models.CreateCustomerRequest) (*models.Customer, bool, error)
	AddIdentifier(ctx context.Context, customerCode string, in service.AddIdentifierInput) (*models.CustomerIdentifier, error)
	LinkExternalIdentity(ctx context.Context, customerCode string, provider models.Provider, uid string, meta map[string]any) (*models.ExternalIdentity, error)
	UpdateCustomer(ctx context.Context, code string, req *models.UpdateCustomerRequest) (*models.Customer, map[string]models.Change, error)
}

// uid accepts ManyChat ids sent either as JSON strings or numbers.
type uid string

func (u *uid) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*u = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = uid(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*u = uid(n.String())
	return nil
}

// Subscriber is a ManyChat contact as delivered by its webhook.
type Subscriber struct {
	ID           uid            `json:"id"`
	FirstName    string         `json:"first_name"`
	LastName     string         `json:"last_name"`
	Phone        string         `json:"phone"`
	Email        string         `json:"email"`
	InstagramID  uid            `json:"ig_id"`
	IGUsername   string         `json:"ig_username"`
	FacebookID   uid            `json:"fb_id"`
	WhatsApp     string         `json:"wa_phone"`
	TelegramID   uid            `json:"tg_id"`
	CustomFields map[string]any `json:"custom_fields"`
}

// ParseSubscriber reads a subscriber either at the top level or wrapped in
// a "subscriber" key.
func ParseSubscriber(body []byte) (*Subscriber, error) {
	var envelope struct {
		Subscriber *Subscriber `json:"subscriber"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON")
	}
	sub := envelope.Subscriber
	if sub == nil {
		sub = &Subscriber{}
		if err := json.Unmarshal(body, sub); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON")
		}
	}
	if sub.ID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "subscriber data must contain 'id' field")
	}
	return sub, nil
}

// Manychat syncs subscribers into the registry.
type Manychat struct {
	identity     Identity
	sourceSystem string
	logger       *slog.Logger
}

type ManychatOption func(*Manychat)

func WithManychatLogger(logger *slog.Logger) ManychatOption {
	return func(m *Manychat) {
		m.logger = logger
	}
}

func WithSourceSystem(source string) ManychatOption {
	return func(m *Manychat) {
		if source != "" {
			m.sourceSystem = source
		}
	}
}

func NewManychat(identity Identity, opts ...ManychatOption) *Manychat {
	m := &Manychat{identity: identity, sourceSystem: ManychatName}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manychat) Dispatch(ctx context.Context, body []byte) (Result, error) {
	sub, err := ParseSubscriber(body)
	if err != nil {
		return Result{}, err
	}
	c, created, err := m.Sync(ctx, sub)
	if err != nil {
		return Result{}, err
	}
	return Result{CustomerCode: c.Code, Created: created}, nil
}

// Sync finds the subscriber's customer by ManyChat id, then by phone, email
// and WhatsApp identifiers, and creates one when nothing matches. The
// subscriber's identifiers are attached and its ManyChat account linked.
// Existing names and contact fields are never overwritten.
func (m *Manychat) Sync(ctx context.Context, sub *Subscriber) (*models.Customer, bool, error) {
	mcID := string(sub.ID)
	c, err := m.identity.ResolveByIdentifier(ctx, models.IdentifierManychat, mcID)
	if err != nil {
		return nil, false, err
	}
	if c != nil {
		if err := m.link(ctx, c, sub); err != nil {
			return nil, false, err
		}
		c, err = m.fillEmpty(ctx, c, sub)
		return c, false, err
	}

	c, err = m.findByContacts(ctx, sub)
	if err != nil {
		return nil, false, err
	}
	created := false
	if c == nil {
		c, created, err = m.identity.FindOrCreateByIdentifier(ctx, models.IdentifierManychat, mcID, &models.CreateCustomerRequest{
			Code:         CustomerCode(mcID),
			FirstName:    sub.FirstName,
			LastName:     sub.LastName,
			Email:        sub.Email,
			Phone:        sub.Phone,
			SourceSystem: m.sourceSystem,
			Metadata:     map[string]any{customFieldsKey: customFields(sub.CustomFields)},
		})
		if err != nil {
			return nil, false, err
		}
	}

	if err := m.addIdentifiers(ctx, c, sub); err != nil {
		return nil, false, err
	}
	if err := m.link(ctx, c, sub); err != nil {
		return nil, false, err
	}
	if !created {
		c, err = m.fillEmpty(ctx, c, sub)
		if err != nil {
			return nil, false, err
		}
	}
	return c, created, nil
}

// CustomerCode derives the code of a customer created from a ManyChat id.
func CustomerCode(manychatID string) string {
	sum := sha256.Sum256([]byte(manychatID))
	return "MC-" + strings.ToUpper(hex.EncodeToString(sum[:])[:8])
}

func (m *Manychat) findByContacts(ctx context.Context, sub *Subscriber) (*models.Customer, error) {
	candidates := []struct {
		t     models.IdentifierType
		value string
	}{
		{models.IdentifierPhone, sub.Phone},
		{models.IdentifierEmail, sub.Email},
		{models.IdentifierWhatsApp, sub.WhatsApp},
	}
	for _, p := range candidates {
		if strings.TrimSpace(p.value) == "" {
			continue
		}
		c, err := m.identity.ResolveByIdentifier(ctx, p.t, p.value)
		if err != nil {
			return nil, err
		}
		if c != nil {
			return c, nil
		}
	}
	return nil, nil
}

func (m *Manychat) addIdentifiers(ctx context.Context, c *models.Customer, sub *Subscriber) error {
	wanted := []service.AddIdentifierInput{
		{Type: models.IdentifierManychat, Value: string(sub.ID), IsPrimary: true},
		{Type: models.IdentifierPhone, Value: sub.Phone},
		{Type: models.IdentifierEmail, Value: sub.Email},
		{Type: models.IdentifierInstagram, Value: string(sub.InstagramID)},
		{Type: models.IdentifierFacebook, Value: string(sub.FacebookID)},
		{Type: models.IdentifierWhatsApp, Value: sub.WhatsApp},
		{Type: models.IdentifierTelegram, Value: string(sub.TelegramID)},
	}
	for _, in := range wanted {
		if strings.TrimSpace(in.Value) == "" {
			continue
		}
		in.SourceSystem = m.sourceSystem
		_, err := m.identity.AddIdentifier(ctx, c.Code, in)
		switch {
		case err == nil:
		case dErrors.HasCode(err, dErrors.CodeConflict), dErrors.HasCode(err, dErrors.CodeValidation):
			m.warn(ctx, "manychat identifier not attached", "customer_code", c.Code,
				"identifier_type", string(in.Type), "error", err)
		default:
			return err
		}
	}
	return nil
}

func (m *Manychat) link(ctx context.Context, c *models.Customer, sub *Subscriber) error {
	meta := map[string]any{}
	if sub.IGUsername != "" {
		meta["ig_username"] = sub.IGUsername
	}
	_, err := m.identity.LinkExternalIdentity(ctx, c.Code, models.ProviderManychat, string(sub.ID), meta)
	if dErrors.HasCode(err, dErrors.CodeConflict) {
		m.warn(ctx, "manychat account linked to another customer", "customer_code", c.Code, "error", err)
		return nil
	}
	return err
}

// fillEmpty sets names and contact fields the customer lacks and merges
// custom fields into metadata.
func (m *Manychat) fillEmpty(ctx context.Context, c *models.Customer, sub *Subscriber) (*models.Customer, error) {
	req := &models.UpdateCustomerRequest{}
	fill := func(dst **string, current, incoming string) {
		incoming = strings.TrimSpace(incoming)
		if current == "" && incoming != "" {
			*dst = &incoming
		}
	}
	fill(&req.FirstName, c.FirstName, sub.FirstName)
	fill(&req.LastName, c.LastName, sub.LastName)
	fill(&req.Email, c.Email, sub.Email)
	fill(&req.Phone, c.Phone, sub.Phone)
	if len(sub.CustomFields) > 0 {
		merged := customFields(nil)
		if existing, ok := c.Metadata[customFieldsKey].(map[string]any); ok {
			maps.Copy(merged, existing)
		}
		maps.Copy(merged, sub.CustomFields)
		req.Metadata = map[string]any{customFieldsKey: merged}
	}
	if req.FirstName == nil && req.LastName == nil && req.Email == nil && req.Phone == nil && req.Metadata == nil {
		return c, nil
	}
	updated, _, err := m.identity.UpdateCustomer(ctx, c.Code, req)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (m *Manychat) warn(ctx context.Context, msg string, args ...any) {
	if m.logger != nil {
		m.logger.WarnContext(ctx, msg, args...)
	}
}

func customFields(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	maps.Copy(out, src)
	return out
}
