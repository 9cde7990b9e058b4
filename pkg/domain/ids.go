// Package domain holds typed identifiers shared across the registry.
//
// Each entity gets its own UUID-backed type so a CustomerID can never be passed
// where an AccountID is expected. Construct IDs from external input only via
// the Parse functions, which reject empty, malformed and nil UUIDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "patron/pkg/domain-errors"
)

type (
	CustomerID         uuid.UUID
	ContactPointID     uuid.UUID
	ExternalIdentityID uuid.UUID
	IdentifierID       uuid.UUID
	AccountID          uuid.UUID
)

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	if len(s) > 36 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}

// NewCustomerID returns a random CustomerID.
func NewCustomerID() CustomerID { return CustomerID(uuid.New()) }

// NewContactPointID returns a random ContactPointID.
func NewContactPointID() ContactPointID { return ContactPointID(uuid.New()) }

// NewExternalIdentityID returns a random ExternalIdentityID.
func NewExternalIdentityID() ExternalIdentityID { return ExternalIdentityID(uuid.New()) }

// NewIdentifierID returns a random IdentifierID.
func NewIdentifierID() IdentifierID { return IdentifierID(uuid.New()) }

// NewAccountID returns a random AccountID.
func NewAccountID() AccountID { return AccountID(uuid.New()) }

func ParseCustomerID(s string) (CustomerID, error) {
	u, err := parseUUID(s, "customer ID")
	return CustomerID(u), err
}

func ParseContactPointID(s string) (ContactPointID, error) {
	u, err := parseUUID(s, "contact point ID")
	return ContactPointID(u), err
}

func ParseExternalIdentityID(s string) (ExternalIdentityID, error) {
	u, err := parseUUID(s, "external identity ID")
	return ExternalIdentityID(u), err
}

func ParseIdentifierID(s string) (IdentifierID, error) {
	u, err := parseUUID(s, "identifier ID")
	return IdentifierID(u), err
}

func ParseAccountID(s string) (AccountID, error) {
	u, err := parseUUID(s, "account ID")
	return AccountID(u), err
}

func (id CustomerID) String() string         { return uuid.UUID(id).String() }
func (id ContactPointID) String() string     { return uuid.UUID(id).String() }
func (id ExternalIdentityID) String() string { return uuid.UUID(id).String() }
func (id IdentifierID) String() string       { return uuid.UUID(id).String() }
func (id AccountID) String() string          { return uuid.UUID(id).String() }

func (id CustomerID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ContactPointID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id AccountID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

func (id CustomerID) MarshalText() ([]byte, error)         { return uuid.UUID(id).MarshalText() }
func (id ContactPointID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id ExternalIdentityID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id IdentifierID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id AccountID) MarshalText() ([]byte, error)          { return uuid.UUID(id).MarshalText() }

func (id *CustomerID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *ContactPointID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *ExternalIdentityID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *IdentifierID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *AccountID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
