// Package domain holds identifier types shared across the service.
//
// IDs are distinct uuid-backed types so a FilingID can never be passed where
// a TenantID is expected. Parse functions enforce the trust-boundary
// invariant that IDs are valid, non-empty, non-nil UUIDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "chargegate/pkg/domain-errors"
)

// FilingID identifies one filing record (one automation run).
type FilingID uuid.UUID

// TenantID identifies the organization that owns a set of filings.
type TenantID uuid.UUID

func (id FilingID) String() string { return uuid.UUID(id).String() }
func (id TenantID) String() string { return uuid.UUID(id).String() }

// MarshalText/UnmarshalText keep the canonical string form in JSON bodies
// and map keys; defined types do not inherit uuid.UUID's encoding methods.

func (id FilingID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id TenantID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *FilingID) UnmarshalText(text []byte) error {
	parsed, err := ParseFilingID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *TenantID) UnmarshalText(text []byte) error {
	parsed, err := ParseTenantID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// IsZero reports whether the ID is the nil UUID.
func (id FilingID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }
func (id TenantID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

// NewFilingID generates a fresh filing identifier.
func NewFilingID() FilingID { return FilingID(uuid.New()) }

// ParseFilingID parses and validates a filing ID from its string form.
func ParseFilingID(s string) (FilingID, error) {
	u, err := parseUUID(s, "filing id")
	if err != nil {
		return FilingID{}, err
	}
	return FilingID(u), nil
}

// ParseTenantID parses and validates a tenant ID from its string form.
func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s, "tenant id")
	if err != nil {
		return TenantID{}, err
	}
	return TenantID(u), nil
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" must not be the nil UUID")
	}
	return u, nil
}
