package models

import (
	"strings"
	"time"
)

// StudentAccount is the current credit balance of one student together with
// the profile fields the bookkeeping UI shows next to it.
type StudentAccount struct {
	ID             string     `json:"id"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Note           string     `json:"note,omitempty"`
	BirthDate      *time.Time `json:"birth_date,omitempty"` // date only, midnight UTC
	Active         bool       `json:"is_active"`
	PackageTotal   int64      `json:"package_total"` // opening balance, not an entry
	Balance        int64      `json:"balance"`
	LastActivityAt *time.Time `json:"last_activity_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// DisplayName is the name shown in reports and the activity feed.
func (a StudentAccount) DisplayName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// Apply returns a copy of the account with entry e folded into it.
func (a StudentAccount) Apply(e LedgerEntry) StudentAccount {
	a.Balance += e.Delta
	at := e.CreatedAt
	a.LastActivityAt = &at
	return a
}

// LedgerSnapshot is a consistent view of every account and every entry,
// read in a single critical section of the store.
type LedgerSnapshot struct {
	Accounts []StudentAccount
	Entries  []LedgerEntry // ascending id
	TakenAt  time.Time
}

// AccountIndex maps account ids to accounts.
func (s LedgerSnapshot) AccountIndex() map[string]StudentAccount {
	idx := make(map[string]StudentAccount, len(s.Accounts))
	for _, a := range s.Accounts {
		idx[a.ID] = a
	}
	return idx
}
