package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput reports a missing owner or an unreadable payload.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound reports a missing transaction or owner record.
	ErrNotFound = errors.New("not found")
	// ErrValidation is wrapped by every field-level rejection of the validator.
	ErrValidation = errors.New("validation failed")

	ErrInvalidType     = fmt.Errorf("%w: type must be income or expense", ErrValidation)
	ErrInvalidAmount   = fmt.Errorf("%w: amount must be numeric", ErrValidation)
	ErrNegativeAmount  = fmt.Errorf("%w: amount must not be negative", ErrValidation)
	ErrInvalidDate     = fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	ErrUnknownCurrency = fmt.Errorf("%w: unknown currency code", ErrValidation)
)
