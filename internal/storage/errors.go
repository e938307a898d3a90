// Package storage holds the error contract shared by the store implementations.
package storage

import "errors"

var (
	ErrAccountNotFound = errors.New("storage: account not found")
	ErrAccountExists   = errors.New("storage: account already exists")
	ErrNegativeBalance = errors.New("storage: balance would become negative")
	// ErrAlreadyReversed is returned when the deduct named by an undo is no
	// longer reversible (already reversed, not a deduct, or another student's).
	ErrAlreadyReversed = errors.New("storage: entry is not reversible")
)
