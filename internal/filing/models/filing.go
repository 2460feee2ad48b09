package models

import (
	"time"

	id "chargegate/pkg/domain"
	dErrors "chargegate/pkg/domain-errors"
)

// FilingType is the closed set of charge filings the pipeline can drive.
type FilingType string

const (
	FilingTypeFixed    FilingType = "fixed"
	FilingTypeFloating FilingType = "floating"
	FilingTypeCombined FilingType = "combined"
)

func (t FilingType) Valid() bool {
	switch t {
	case FilingTypeFixed, FilingTypeFloating, FilingTypeCombined:
		return true
	}
	return false
}

// Currency is the closed set of charge currencies.
type Currency string

const (
	CurrencyNGN Currency = "NGN"
	CurrencyUSD Currency = "USD"
)

func (c Currency) Valid() bool {
	return c == CurrencyNGN || c == CurrencyUSD
}

// Metadata keys written by drivers.
const (
	MetadataEvidenceRef   = "evidence_ref"
	MetadataFailureReason = "failure_reason"
)

// FilingRecord is the aggregate root for one regulatory charge filing.
//
// Invariants:
//   - Exactly one record exists per automation run; a run never mutates
//     another run's record.
//   - Reference is generated once at creation and immutable.
//   - Descriptive fields (entity, registration number, charge terms) are set
//     at creation and never mutated during execution.
//   - Status moves only forward (see Status.CanTransitionTo); the store
//     rejects writes that would move it backward.
//   - UpdatedAt is bumped on every mutation so observers can apply pushes
//     idempotently.
//
// Metadata is an opaque bag for driver-written evidence pointers and failure
// reasons; whichever driver wrote a key owns it.
type FilingRecord struct {
	ID                 id.FilingID       `json:"id"`
	TenantID           id.TenantID       `json:"tenant_id"`
	Reference          string            `json:"reference"`
	EntityName         string            `json:"entity_name"`
	RegistrationNumber string            `json:"registration_number"`
	FilingType         FilingType        `json:"filing_type"`
	ChargeAmount       int64             `json:"charge_amount"`
	ChargeCurrency     Currency          `json:"charge_currency"`
	Status             Status            `json:"status"`
	LinkedLoanID       string            `json:"linked_loan_id,omitempty"`
	LinkedDocumentID   string            `json:"linked_document_id,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// NewFilingRecord builds a Pending record from a validated submit request.
func NewFilingRecord(filingID id.FilingID, tenantID id.TenantID, reference string, req SubmitFilingRequest, now time.Time) (*FilingRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if reference == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "filing reference is required")
	}
	return &FilingRecord{
		ID:                 filingID,
		TenantID:           tenantID,
		Reference:          reference,
		EntityName:         req.EntityName,
		RegistrationNumber: req.RegistrationNumber,
		FilingType:         req.FilingType,
		ChargeAmount:       req.ChargeAmount,
		ChargeCurrency:     req.ChargeCurrency,
		Status:             StatusPending,
		LinkedLoanID:       req.LinkedLoanID,
		LinkedDocumentID:   req.LinkedDocumentID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// CanApplyStatus checks whether the record may move to next.
func (f *FilingRecord) CanApplyStatus(next Status) error {
	if !f.Status.CanTransitionTo(next) {
		return dErrors.New(dErrors.CodeInvariantViolation, "status cannot move from "+string(f.Status)+" to "+string(next))
	}
	return nil
}

// ApplyStatus transitions the record and bumps UpdatedAt.
// Call CanApplyStatus first to validate the transition.
func (f *FilingRecord) ApplyStatus(next Status, now time.Time) {
	f.Status = next
	f.UpdatedAt = now
}

// ApplyMetadata merges a metadata patch and bumps UpdatedAt.
func (f *FilingRecord) ApplyMetadata(patch map[string]string, now time.Time) {
	if len(patch) == 0 {
		return
	}
	if f.Metadata == nil {
		f.Metadata = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		f.Metadata[k] = v
	}
	f.UpdatedAt = now
}

// FailureReason returns the human-readable cause for a failed filing.
func (f *FilingRecord) FailureReason() string {
	return f.Metadata[MetadataFailureReason]
}

// Clone returns a deep copy so stores can hand out records without aliasing
// their internal state.
func (f *FilingRecord) Clone() *FilingRecord {
	cp := *f
	if f.Metadata != nil {
		cp.Metadata = make(map[string]string, len(f.Metadata))
		for k, v := range f.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
