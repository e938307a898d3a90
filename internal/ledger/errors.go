package ledger

import "errors"

// Domain errors. These are business outcomes or caller mistakes, not
// transient faults: callers match them with errors.Is and never retry them
// automatically. The api package maps each one to an HTTP status.
var (
	// ErrNotFound: the referenced student does not exist (404).
	ErrNotFound = errors.New("student not found")

	// ErrInsufficientBalance: deduct on a zero balance. No entry is written (409).
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNoReversibleEntry: undo found no non-reversed deduct, "nothing to undo".
	ErrNoReversibleEntry = errors.New("nothing to undo")

	// ErrInvalidInput: malformed count, threshold, name or range (400).
	ErrInvalidInput = errors.New("invalid input")

	// ErrConcurrentModification: the store rejected an undo because its
	// target was reversed by another writer after it was selected (409).
	ErrConcurrentModification = errors.New("entry was modified concurrently")
)
