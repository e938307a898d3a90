package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	interfaces "github.com/sheikh-saqib/lesson-credit-ledger/internal/interfaces"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/models"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/models/events"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/storage"
	"go.uber.org/zap"
)

const (
	defaultPublishTimeout = 5 * time.Second
	defaultPublishQueue   = 1024
)

// Ledger is the only writer of student balances and their logs.
// Operations on one student are serialized by that student's mutex;
// different students never wait on each other.
//
// Events are handed to a background sender once the entry is committed, so
// no balance operation waits on the broker.
type Ledger struct {
	store     interfaces.LedgerStore // storage implementation (memory, Postgres)
	publisher interfaces.EventPublisher
	topic     string
	logger    *zap.Logger
	now       func() time.Time
	muMap     map[string]*sync.Mutex // stores the *sync.Mutex for each student in a map
	mapMu     sync.Mutex             // protects the muMap itself

	publishTimeout time.Duration
	queueSize      int
	outbox         chan events.LedgerEntryRecorded
	outMu          sync.RWMutex // guards closed against sends on a closed outbox
	closed         bool
	sent           chan struct{} // closed once the sender has drained the outbox
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPublisher publishes a LedgerEntryRecorded event on topic after every
// committed entry.
func WithPublisher(publisher interfaces.EventPublisher, topic string) Option {
	return func(l *Ledger) {
		l.publisher = publisher
		l.topic = topic
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithPublishTimeout bounds each event publish. Defaults to 5s.
func WithPublishTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.publishTimeout = d }
}

// WithPublishQueue sets how many committed events may wait for the sender.
// Events beyond that are dropped and logged.
func WithPublishQueue(size int) Option {
	return func(l *Ledger) { l.queueSize = size }
}

// NewLedger creates a Ledger on top of the given store. When a publisher is
// configured the caller must Close the Ledger to flush pending events.
func NewLedger(store interfaces.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:          store,
		logger:         zap.NewNop(),
		now:            time.Now,
		muMap:          make(map[string]*sync.Mutex),
		publishTimeout: defaultPublishTimeout,
		queueSize:      defaultPublishQueue,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.publisher != nil {
		l.outbox = make(chan events.LedgerEntryRecorded, l.queueSize)
		l.sent = make(chan struct{})
		go l.runSender()
	}
	return l
}

// Close stops accepting events and waits until the queued ones have been
// published or have timed out. It is safe to call more than once.
func (l *Ledger) Close() error {
	if l.outbox == nil {
		return nil
	}
	l.outMu.Lock()
	if !l.closed {
		l.closed = true
		close(l.outbox)
	}
	l.outMu.Unlock()
	<-l.sent
	return nil
}

// NewAccount is the input for CreateAccount.
type NewAccount struct {
	FirstName    string
	LastName     string
	Note         string
	BirthDate    *time.Time
	PackageTotal int64
}

// ProfileUpdate changes profile fields. Nil fields are left untouched.
// There is intentionally no balance field.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Note      *string
	BirthDate *time.Time
	Active    *bool
}

func (l *Ledger) getAccountLock(studentID string) *sync.Mutex {

	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	if _, exists := l.muMap[studentID]; !exists {
		l.muMap[studentID] = &sync.Mutex{}
	}
	return l.muMap[studentID]
}

func (l *Ledger) dropAccountLock(studentID string) {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()
	delete(l.muMap, studentID)
}

// CreateAccount opens an account whose balance starts at PackageTotal.
func (l *Ledger) CreateAccount(ctx context.Context, in NewAccount) (models.StudentAccount, error) {
	first, last := strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	if first == "" || last == "" {
		return models.StudentAccount{}, fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}
	if in.PackageTotal < 0 {
		return models.StudentAccount{}, fmt.Errorf("%w: package total must be >= 0", ErrInvalidInput)
	}
	birth, err := l.birthDate(in.BirthDate)
	if err != nil {
		return models.StudentAccount{}, err
	}

	account := models.StudentAccount{
		ID:           uuid.NewString(),
		FirstName:    first,
		LastName:     last,
		Note:         in.Note,
		BirthDate:    birth,
		Active:       true,
		PackageTotal: in.PackageTotal,
		Balance:      in.PackageTotal,
		CreatedAt:    l.now().UTC(),
	}
	if err := l.store.CreateAccount(ctx, account); err != nil {
		return models.StudentAccount{}, fmt.Errorf("create student: %w", err)
	}

	l.logger.Info("student created",
		zap.String("student_id", account.ID),
		zap.Int64("balance", account.Balance))
	return account, nil
}

func (l *Ledger) GetAccount(ctx context.Context, studentID string) (models.StudentAccount, error) {
	account, err := l.store.GetAccount(ctx, studentID)
	if err != nil {
		return models.StudentAccount{}, translate(studentID, err)
	}
	return account, nil
}

func (l *Ledger) ListAccounts(ctx context.Context) ([]models.StudentAccount, error) {
	return l.store.ListAccounts(ctx)
}

// UpdateProfile edits names, note and the active flag. It is serialized with
// the student's balance operations but never touches the balance.
func (l *Ledger) UpdateProfile(ctx context.Context, studentID string, upd ProfileUpdate) (models.StudentAccount, error) {
	mu := l.getAccountLock(studentID)
	mu.Lock()
	defer mu.Unlock()

	account, err := l.store.GetAccount(ctx, studentID)
	if err != nil {
		return models.StudentAccount{}, translate(studentID, err)
	}

	if upd.FirstName != nil {
		account.FirstName = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		account.LastName = strings.TrimSpace(*upd.LastName)
	}
	if account.FirstName == "" || account.LastName == "" {
		return models.StudentAccount{}, fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}
	if upd.Note != nil {
		account.Note = *upd.Note
	}
	if upd.Active != nil {
		account.Active = *upd.Active
	}
	if upd.BirthDate != nil {
		if account.BirthDate, err = l.birthDate(upd.BirthDate); err != nil {
			return models.StudentAccount{}, err
		}
	}

	if err := l.store.UpdateProfile(ctx, account); err != nil {
		return models.StudentAccount{}, translate(studentID, err)
	}
	return account, nil
}

// DeleteAccount removes the student and, by cascade, its whole log.
// This is irreversible and lies outside the deduct/undo/add protocol.
func (l *Ledger) DeleteAccount(ctx context.Context, studentID string) error {
	mu := l.getAccountLock(studentID)
	mu.Lock()
	defer mu.Unlock()

	if err := l.store.DeleteAccount(ctx, studentID); err != nil {
		return translate(studentID, err)
	}
	// ids are never reused, so late waiters on the old mutex just see ErrNotFound
	l.dropAccountLock(studentID)

	l.logger.Info("student deleted", zap.String("student_id", studentID))
	return nil
}

// Deduct consumes one credit. A zero balance is rejected, never clamped.
func (l *Ledger) Deduct(ctx context.Context, studentID string) (models.StudentAccount, error) {
	mu := l.getAccountLock(studentID)
	mu.Lock()
	defer mu.Unlock()

	account, err := l.store.GetAccount(ctx, studentID)
	if err != nil {
		return models.StudentAccount{}, translate(studentID, err)
	}
	if account.Balance <= 0 {
		return models.StudentAccount{}, fmt.Errorf("student %s: %w", studentID, ErrInsufficientBalance)
	}

	return l.append(ctx, account, models.LedgerEntry{Kind: models.KindDeduct, Delta: -1})
}

// Undo reverses the latest non-reversed deduct, ordered by created_at then
// id. add entries and undo entries are never targets.
func (l *Ledger) Undo(ctx context.Context, studentID string) (models.StudentAccount, error) {
	mu := l.getAccountLock(studentID)
	mu.Lock()
	defer mu.Unlock()

	account, err := l.store.GetAccount(ctx, studentID)
	if err != nil {
		return models.StudentAccount{}, translate(studentID, err)
	}

	target, found, err := l.store.LatestReversibleDeduct(ctx, studentID)
	if err != nil {
		return models.StudentAccount{}, translate(studentID, err)
	}
	if !found {
		return models.StudentAccount{}, fmt.Errorf("student %s: %w", studentID, ErrNoReversibleEntry)
	}

	reverses := target.ID
	return l.append(ctx, account, models.LedgerEntry{
		Kind:       models.KindUndo,
		Delta:      1,
		ReversesID: &reverses,
	})
}

// AddPackage tops the balance up by count credits. count must be >= 1 and
// has no upper bound.
func (l *Ledger) AddPackage(ctx context.Context, studentID string, count int64) (models.StudentAccount, error) {
	if count < 1 {
		return models.StudentAccount{}, fmt.Errorf("%w: count must be >= 1, got %d", ErrInvalidInput, count)
	}

	mu := l.getAccountLock(studentID)
	mu.Lock()
	defer mu.Unlock()

	account, err := l.store.GetAccount(ctx, studentID)
	if err != nil {
		return models.StudentAccount{}, translate(studentID, err)
	}

	return l.append(ctx, account, models.LedgerEntry{Kind: models.KindAdd, Delta: count})
}

// ListEntries returns the student's log, newest first.
func (l *Ledger) ListEntries(ctx context.Context, studentID string) ([]models.LedgerEntry, error) {
	entries, err := l.store.GetEntriesByStudent(ctx, studentID)
	if err != nil {
		return nil, translate(studentID, err)
	}
	return entries, nil
}

// append commits entry against account and queues its event. Must be called
// with the student's lock held, which keeps events in per-student order.
func (l *Ledger) append(ctx context.Context, account models.StudentAccount, entry models.LedgerEntry) (models.StudentAccount, error) {
	entry.StudentID = account.ID
	entry.CreatedAt = l.timestamp(account)

	updated, committed, err := l.store.AppendEntry(ctx, entry)
	if err != nil {
		return models.StudentAccount{}, translate(account.ID, err)
	}

	l.logger.Info("ledger entry recorded",
		zap.String("student_id", committed.StudentID),
		zap.Int64("entry_id", committed.ID),
		zap.String("kind", string(committed.Kind)),
		zap.Int64("delta", committed.Delta),
		zap.Int64("balance", updated.Balance))

	l.enqueue(committed, updated)
	return updated, nil
}

// birthDate truncates d to its calendar day in UTC. Days after today are
// rejected.
func (l *Ledger) birthDate(d *time.Time) (*time.Time, error) {
	if d == nil {
		return nil, nil
	}
	y, m, day := d.Date()
	date := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	if date.After(l.now().UTC()) {
		return nil, fmt.Errorf("%w: birth date %s is in the future", ErrInvalidInput, date.Format(time.DateOnly))
	}
	return &date, nil
}

// timestamp never goes behind the student's last entry, so (created_at, id)
// stays a total order even if the wall clock steps back.
func (l *Ledger) timestamp(account models.StudentAccount) time.Time {
	ts := l.now().UTC()
	if account.LastActivityAt != nil && ts.Before(*account.LastActivityAt) {
		ts = *account.LastActivityAt
	}
	return ts
}

// enqueue never blocks. The entry is final at this point, so an event that
// cannot be queued is logged and the caller still gets its result.
func (l *Ledger) enqueue(entry models.LedgerEntry, account models.StudentAccount) {
	if l.outbox == nil {
		return
	}
	event := events.NewLedgerEntryRecorded(entry, account)

	l.outMu.RLock()
	defer l.outMu.RUnlock()
	if l.closed {
		l.logger.Warn("ledger closed, event not published",
			zap.String("event_id", event.EventID),
			zap.Int64("entry_id", entry.ID))
		return
	}
	select {
	case l.outbox <- event:
	default:
		l.logger.Error("publish queue full, event dropped",
			zap.String("event_id", event.EventID),
			zap.Int64("entry_id", entry.ID))
	}
}

// runSender publishes queued events one at a time, in commit order.
func (l *Ledger) runSender() {
	defer close(l.sent)
	for event := range l.outbox {
		l.publish(event)
	}
}

func (l *Ledger) publish(event events.LedgerEntryRecorded) {
	ctx, cancel := context.WithTimeout(context.Background(), l.publishTimeout)
	defer cancel()

	if err := l.publisher.Publish(ctx, l.topic, event.StudentID, event); err != nil {
		l.logger.Error("publish ledger event failed",
			zap.String("event_id", event.EventID),
			zap.Int64("entry_id", event.EntryID),
			zap.Error(err))
	}
}

// translate maps store errors onto the domain errors.
func translate(studentID string, err error) error {
	switch {
	case errors.Is(err, storage.ErrAccountNotFound):
		return fmt.Errorf("student %s: %w", studentID, ErrNotFound)
	case errors.Is(err, storage.ErrNegativeBalance):
		return fmt.Errorf("student %s: %w", studentID, ErrInsufficientBalance)
	case errors.Is(err, storage.ErrAlreadyReversed):
		return fmt.Errorf("student %s: %w", studentID, ErrConcurrentModification)
	default:
		return fmt.Errorf("student %s: %w", studentID, err)
	}
}
