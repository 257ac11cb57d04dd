package service

import (
	"errors"

	"supplychain-service/internal/ledger"
)

const codeInternal = "INTERNAL"

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ledger.ErrDuplicateEntity, "DUPLICATE_ENTITY"},
	{ledger.ErrInvalidRole, "INVALID_ROLE"},
	{ledger.ErrNotFound, "NOT_FOUND"},
	{ledger.ErrUnknownManufacturer, "UNKNOWN_MANUFACTURER"},
	{ledger.ErrUnknownMaterial, "UNKNOWN_MATERIAL"},
	{ledger.ErrUnknownEntity, "UNKNOWN_ENTITY"},
	{ledger.ErrUnknownProduct, "UNKNOWN_PRODUCT"},
	{ledger.ErrInvalidStatusTransition, "INVALID_STATUS_TRANSITION"},
	{ledger.ErrMalformedSignature, "MALFORMED_SIGNATURE"},
	{ledger.ErrSignatureMismatch, "SIGNATURE_MISMATCH"},
	{ledger.ErrInvalidProduct, "INVALID_PRODUCT"},
}

// ErrorCode returns the stable classification of err, or INTERNAL for
// infrastructure failures
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return codeInternal
}
