// Package apperr defines the error taxonomy shared across packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidConfig marks setup-time failures: unknown template sets,
	// empty template lists, malformed input files, bad prior bounds.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrContract marks caller programming errors such as a parameter vector
	// of the wrong length or evaluating an unbound component.
	ErrContract = errors.New("contract violation")
)
