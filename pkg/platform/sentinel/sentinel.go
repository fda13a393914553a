// Package sentinel holds the storage-level facts that stores return and
// services translate into coded domain errors.
package sentinel

import "errors"

var (
	// ErrNotFound: no record, setting or identity under that key.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a concurrent writer won; the transaction may be retried.
	ErrConflict = errors.New("conflict")
	// ErrAlreadyUsed: the address or identity is already bound.
	ErrAlreadyUsed = errors.New("already used")
)
