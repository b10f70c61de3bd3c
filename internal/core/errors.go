package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the ledger, the commit engine and the
// sync marker wraps exactly one of these so callers can classify it with
// errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrPersistence       = errors.New("persistence error")
	ErrSyncConfiguration = errors.New("sync configuration error")
	ErrSyncTransport     = errors.New("sync transport error")
)

var (
	ErrEmptyCategory = fmt.Errorf("%w: empty category code", ErrValidation)
	ErrEmptyLabel    = fmt.Errorf("%w: empty category label", ErrValidation)
	ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidDate   = fmt.Errorf("%w: invalid date", ErrValidation)
	ErrEmptyName     = fmt.Errorf("%w: empty donor name", ErrValidation)
	ErrInvalidYear   = fmt.Errorf("%w: invalid year", ErrValidation)
	ErrNoteTooLong   = fmt.Errorf("%w: note too long (max 500 characters)", ErrValidation)
	ErrNotFound      = errors.New("not found")
)

// Persistence wraps a gateway failure with the persistence kind.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
