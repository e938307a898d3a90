package models

import "time"

// EntryKind is the type of balance-affecting event a LedgerEntry records.
type EntryKind string

const (
	KindDeduct EntryKind = "deduct" // one lesson consumed, delta -1
	KindUndo   EntryKind = "undo"   // a previous deduct reversed, delta +1
	KindAdd    EntryKind = "add"    // package top-up, delta +count
)

// Valid reports whether k is one of the known entry kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case KindDeduct, KindUndo, KindAdd:
		return true
	}
	return false
}

// LedgerEntry represents a single immutable record in a student's log.
// Reversed is the only field that changes after the entry is written and it
// only ever moves from false to true, together with the undo that reverses it.
type LedgerEntry struct {
	ID         int64     `json:"id"`                    // store assigned, strictly increasing
	StudentID  string    `json:"student_id"`            // owning account
	Kind       EntryKind `json:"kind"`                  // deduct, undo or add
	Delta      int64     `json:"delta"`                 // signed change applied to the balance
	CreatedAt  time.Time `json:"created_at"`            // non-decreasing within a student
	Reversed   bool      `json:"reversed"`              // deduct only: consumed by an undo
	ReversesID *int64    `json:"reverses_id,omitempty"` // undo only: the deduct it reversed
}

// Reversible reports whether the entry can still be the target of an undo.
func (e LedgerEntry) Reversible() bool {
	return e.Kind == KindDeduct && !e.Reversed
}

// After reports whether e sorts after o in the (created_at, id) order.
func (e LedgerEntry) After(o LedgerEntry) bool {
	if !e.CreatedAt.Equal(o.CreatedAt) {
		return e.CreatedAt.After(o.CreatedAt)
	}
	return e.ID > o.ID
}
