package domain

import (
	"fmt"
	"regexp"
)

// ReferencePrefix is the human-facing prefix for filing references issued by
// this service (National Collateral Registry charge filings).
const ReferencePrefix = "NCR"

var referencePattern = regexp.MustCompile(`^[A-Z]+-\d{4}-\d{4}$`)

// FormatReference renders a filing reference as PREFIX-YEAR-NNNN.
// The sequence is a per-tenant counter owned by the record store; callers
// obtain it via NextSequence before the record is persisted.
func FormatReference(year, sequence int) string {
	return fmt.Sprintf("%s-%04d-%04d", ReferencePrefix, year, sequence)
}

// ValidReference reports whether s matches the PREFIX-YEAR-NNNN shape.
func ValidReference(s string) bool {
	return referencePattern.MatchString(s)
}
