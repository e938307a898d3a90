package memory

import (
	"cmp"
	"context" // standard Go package for request-scoped context (timeouts, cancellation)
	"slices"
	"sync" // standard Go package for concurrency primitives like Mutex
	"time"

	interfaces "github.com/sheikh-saqib/lesson-credit-ledger/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/models"                // domain models: StudentAccount, LedgerEntry
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/storage"               // store error contract
)

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// Every method runs inside one critical section, which makes AppendEntry
// atomic and Snapshot consistent.
type MemoryLedgerStore struct {
	mu       sync.RWMutex                     // protects everything below
	accounts map[string]models.StudentAccount // account id -> current account state
	entries  map[string][]models.LedgerEntry  // account id -> log in ascending id order
	nextID   int64                            // last assigned entry id
	now      func() time.Time                 // snapshot clock
}

// Option configures a MemoryLedgerStore.
type Option func(*MemoryLedgerStore)

// WithClock sets the clock that stamps snapshots.
func WithClock(now func() time.Time) Option {
	return func(m *MemoryLedgerStore) { m.now = now }
}

// NewMemoryLedgerStore creates and returns a new MemoryLedgerStore instance
func NewMemoryLedgerStore(opts ...Option) *MemoryLedgerStore {
	m := &MemoryLedgerStore{
		accounts: make(map[string]models.StudentAccount),
		entries:  make(map[string][]models.LedgerEntry),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateAccount stores a new account with its opening balance.
func (m *MemoryLedgerStore) CreateAccount(ctx context.Context, account models.StudentAccount) error {
	m.mu.Lock()         // lock the mutex to prevent concurrent writes
	defer m.mu.Unlock() // unlock automatically when function exits (even if error occurs)

	if _, exists := m.accounts[account.ID]; exists {
		return storage.ErrAccountExists
	}
	m.accounts[account.ID] = account
	return nil
}

func (m *MemoryLedgerStore) GetAccount(ctx context.Context, id string) (models.StudentAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, exists := m.accounts[id]
	if !exists {
		return models.StudentAccount{}, storage.ErrAccountNotFound
	}
	return account, nil
}

// ListAccounts returns every account ordered by first name, then last name.
func (m *MemoryLedgerStore) ListAccounts(ctx context.Context) ([]models.StudentAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sortedAccounts(), nil
}

// UpdateProfile overwrites the profile fields only. Balance, package total and
// activity stay as the ledger left them.
func (m *MemoryLedgerStore) UpdateProfile(ctx context.Context, account models.StudentAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.accounts[account.ID]
	if !exists {
		return storage.ErrAccountNotFound
	}
	current.FirstName = account.FirstName
	current.LastName = account.LastName
	current.Note = account.Note
	current.BirthDate = account.BirthDate
	current.Active = account.Active
	m.accounts[account.ID] = current
	return nil
}

// DeleteAccount removes the account and cascades to its entries.
func (m *MemoryLedgerStore) DeleteAccount(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[id]; !exists {
		return storage.ErrAccountNotFound
	}
	delete(m.accounts, id)
	delete(m.entries, id)
	return nil
}

// AppendEntry applies the entry to its account and appends it to the log.
// Nothing is written unless every check passes.
func (m *MemoryLedgerStore) AppendEntry(ctx context.Context, entry models.LedgerEntry) (models.StudentAccount, models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, exists := m.accounts[entry.StudentID]
	if !exists {
		return models.StudentAccount{}, models.LedgerEntry{}, storage.ErrAccountNotFound
	}
	if account.Balance+entry.Delta < 0 {
		return models.StudentAccount{}, models.LedgerEntry{}, storage.ErrNegativeBalance
	}

	log := m.entries[entry.StudentID]
	target := -1
	if entry.ReversesID != nil {
		// re-check the target inside the critical section
		target = slices.IndexFunc(log, func(e models.LedgerEntry) bool { return e.ID == *entry.ReversesID })
		if target < 0 || !log[target].Reversible() {
			return models.StudentAccount{}, models.LedgerEntry{}, storage.ErrAlreadyReversed
		}
	}

	m.nextID++
	entry.ID = m.nextID
	entry.Reversed = false

	// readers only ever get copies, so the flip can happen in place
	if target >= 0 {
		log[target].Reversed = true
	}
	m.entries[entry.StudentID] = append(log, entry)

	account = account.Apply(entry)
	m.accounts[entry.StudentID] = account
	return account, entry, nil
}

// LatestReversibleDeduct returns the newest non-reversed deduct by
// (created_at, id).
func (m *MemoryLedgerStore) LatestReversibleDeduct(ctx context.Context, studentID string) (models.LedgerEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, exists := m.accounts[studentID]; !exists {
		return models.LedgerEntry{}, false, storage.ErrAccountNotFound
	}

	var latest models.LedgerEntry
	found := false
	for _, e := range m.entries[studentID] {
		if !e.Reversible() {
			continue
		}
		if !found || e.After(latest) {
			latest, found = e, true
		}
	}
	return latest, found, nil
}

// GetEntriesByStudent returns a copy of one student's log, newest first.
func (m *MemoryLedgerStore) GetEntriesByStudent(ctx context.Context, studentID string) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, exists := m.accounts[studentID]; !exists {
		return nil, storage.ErrAccountNotFound
	}

	result := slices.Clone(m.entries[studentID])
	slices.SortFunc(result, newestFirst)
	return result, nil
}

// GetLedgerEntries returns a copy of all ledger entries in ascending id order.
// Useful for testing, debugging, and printing ledger state.
func (m *MemoryLedgerStore) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.allEntries(), nil
}

// Snapshot copies accounts and entries under one read lock.
func (m *MemoryLedgerStore) Snapshot(ctx context.Context) (models.LedgerSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.LedgerSnapshot{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return models.LedgerSnapshot{
		Accounts: m.sortedAccounts(),
		Entries:  m.allEntries(),
		TakenAt:  m.now(),
	}, nil
}

func (m *MemoryLedgerStore) sortedAccounts() []models.StudentAccount {
	out := make([]models.StudentAccount, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b models.StudentAccount) int {
		return cmpOr(
			cmp.Compare(a.FirstName, b.FirstName),
			cmp.Compare(a.LastName, b.LastName),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out
}

func (m *MemoryLedgerStore) allEntries() []models.LedgerEntry {
	var out []models.LedgerEntry
	for _, log := range m.entries {
		out = append(out, log...)
	}
	slices.SortFunc(out, func(a, b models.LedgerEntry) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

func newestFirst(a, b models.LedgerEntry) int {
	if a.After(b) {
		return -1
	}
	if b.After(a) {
		return 1
	}
	return 0
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)

// cmpOr returns the first of its arguments that is not zero, like cmp.Or
// (Go 1.22+), which the Go 1.21 toolchain lacks.
func cmpOr(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
