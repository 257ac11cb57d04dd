package ledger

import (
	"errors"

	"supplychain-service/internal/signature"
)

// Error classifications. Callers match them with errors.Is; every ledger
// error wraps exactly one of these.
var (
	ErrDuplicateEntity         = errors.New("entity already registered")
	ErrInvalidRole             = errors.New("invalid role")
	ErrNotFound                = errors.New("not found")
	ErrUnknownManufacturer     = errors.New("unknown manufacturer")
	ErrUnknownMaterial         = errors.New("unknown material")
	ErrUnknownEntity           = errors.New("unknown entity")
	ErrUnknownProduct          = errors.New("unknown product")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrMalformedSignature      = signature.ErrMalformedSignature
	ErrSignatureMismatch       = errors.New("signature does not match issuer")
	ErrInvalidProduct          = errors.New("invalid product")
	ErrCorruptState            = errors.New("corrupt ledger state")
)
