package errors

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	ErrIO         = errors.New("i/o failure")
	ErrCrypto     = errors.New("crypto failure")
	ErrNotFound   = errors.New("not found")
	ErrDerivation = errors.New("derivation failure")
	ErrExternal   = errors.New("external command failure")
	ErrState      = errors.New("invalid vault state")
)

// Kind returns the kind sentinel wrapped by err, or nil if err carries none.
func Kind(err error) error {
	for _, kind := range []error{ErrCrypto, ErrNotFound, ErrDerivation, ErrExternal, ErrState, ErrIO} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// IO wraps an I/O error with the operation and path it failed on.
func IO(op, path string, err error) error {
	return fmt.Errorf("%w: failed to %s %s: %w", ErrIO, op, path, err)
}
