package models

import (
	"strings"

	dErrors "chargegate/pkg/domain-errors"
)

// SubmitFilingRequest carries the caller-supplied fields for a new filing.
type SubmitFilingRequest struct {
	EntityName         string     `json:"entity_name"`
	RegistrationNumber string     `json:"registration_number"`
	FilingType         FilingType `json:"filing_type"`
	ChargeAmount       int64      `json:"charge_amount"`
	ChargeCurrency     Currency   `json:"charge_currency"`
	LinkedLoanID       string     `json:"linked_loan_id,omitempty"`
	LinkedDocumentID   string     `json:"linked_document_id,omitempty"`
}

// Validate checks input constraints and returns the first violation as a
// field-carrying validation error. It runs before any state is created, so
// a rejected request leaves nothing behind.
func (r SubmitFilingRequest) Validate() error {
	if strings.TrimSpace(r.EntityName) == "" {
		return dErrors.NewField(dErrors.CodeInvalidInput, "entity_name", "entity name is required")
	}
	if strings.TrimSpace(r.RegistrationNumber) == "" {
		return dErrors.NewField(dErrors.CodeInvalidInput, "registration_number", "registration number is required")
	}
	if !r.FilingType.Valid() {
		return dErrors.NewField(dErrors.CodeInvalidInput, "filing_type", "filing type must be fixed, floating or combined")
	}
	if r.ChargeAmount < 0 {
		return dErrors.NewField(dErrors.CodeInvalidInput, "charge_amount", "charge amount must not be negative")
	}
	if !r.ChargeCurrency.Valid() {
		return dErrors.NewField(dErrors.CodeInvalidInput, "charge_currency", "charge currency must be NGN or USD")
	}
	return nil
}
