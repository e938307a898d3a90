package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/models"
)

// LedgerEntryRecorded is emitted once an entry and its balance change have
// been committed.
type LedgerEntryRecorded struct {
	EventID      string           `json:"event_id"`
	EntryID      int64            `json:"entry_id"`
	StudentID    string           `json:"student_id"`
	Kind         models.EntryKind `json:"kind"`
	Delta        int64            `json:"delta"`
	BalanceAfter int64            `json:"balance_after"`
	ReversesID   *int64           `json:"reverses_id,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// NewLedgerEntryRecorded builds the event for a committed entry.
func NewLedgerEntryRecorded(entry models.LedgerEntry, account models.StudentAccount) LedgerEntryRecorded {
	return LedgerEntryRecorded{
		EventID:      uuid.NewString(),
		EntryID:      entry.ID,
		StudentID:    entry.StudentID,
		Kind:         entry.Kind,
		Delta:        entry.Delta,
		BalanceAfter: account.Balance,
		ReversesID:   entry.ReversesID,
		OccurredAt:   entry.CreatedAt,
	}
}
