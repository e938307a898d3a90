package interfaces

import (
	"context"

	"github.com/sheikh-saqib/lesson-credit-ledger/internal/models"
)

// LedgerStore persists student accounts and their append-only logs.
//
// AppendEntry is the only way a balance changes: the store assigns the entry
// id, applies entry.Delta to the balance, flips Reversed on the entry named by
// entry.ReversesID (if any) and appends the entry, all as one unit. It
// re-checks that the balance stays non-negative and that the target has not
// already been reversed.
type LedgerStore interface {
	LedgerReader

	CreateAccount(ctx context.Context, account models.StudentAccount) error
	GetAccount(ctx context.Context, id string) (models.StudentAccount, error)
	ListAccounts(ctx context.Context) ([]models.StudentAccount, error)
	UpdateProfile(ctx context.Context, account models.StudentAccount) error
	DeleteAccount(ctx context.Context, id string) error

	AppendEntry(ctx context.Context, entry models.LedgerEntry) (models.StudentAccount, models.LedgerEntry, error)
	LatestReversibleDeduct(ctx context.Context, studentID string) (models.LedgerEntry, bool, error)
	GetEntriesByStudent(ctx context.Context, studentID string) ([]models.LedgerEntry, error)
	GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error)
}

// LedgerReader gives read-only consumers a consistent view of the ledger.
type LedgerReader interface {
	Snapshot(ctx context.Context) (models.LedgerSnapshot, error)
}
