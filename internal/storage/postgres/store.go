package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	interfaces "github.com/sheikh-saqib/lesson-credit-ledger/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/models"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/storage"
)

const uniqueViolation = "23505"

const accountColumns = `id, first_name, last_name, note, is_active, package_total, balance, last_activity_at, created_at, birth_date`
const entryColumns = `id, student_id, kind, delta, created_at, reversed, reverses_id`

type PostgresLedgerStore struct {
	db *sql.DB
}

// Open connects to Postgres with the lib/pq driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db: db,
	}
}

func (p *PostgresLedgerStore) CreateAccount(ctx context.Context, account models.StudentAccount) error {
	const query = `INSERT INTO students (` + accountColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	_, err := p.db.ExecContext(ctx, query,
		account.ID, account.FirstName, account.LastName, account.Note, account.Active,
		account.PackageTotal, account.Balance, account.LastActivityAt, account.CreatedAt.UTC(), account.BirthDate)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return storage.ErrAccountExists
	}
	return err
}

func (p *PostgresLedgerStore) GetAccount(ctx context.Context, id string) (models.StudentAccount, error) {
	const query = `SELECT ` + accountColumns + ` FROM students WHERE id = $1`

	account, err := scanAccount(p.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return models.StudentAccount{}, storage.ErrAccountNotFound
	}
	return account, err
}

func (p *PostgresLedgerStore) ListAccounts(ctx context.Context) ([]models.StudentAccount, error) {
	return listAccounts(ctx, p.db)
}

func (p *PostgresLedgerStore) UpdateProfile(ctx context.Context, account models.StudentAccount) error {
	const query = `UPDATE students SET first_name = $2, last_name = $3, note = $4, is_active = $5, birth_date = $6
	WHERE id = $1`

	res, err := p.db.ExecContext(ctx, query,
		account.ID, account.FirstName, account.LastName, account.Note, account.Active, account.BirthDate)
	if err != nil {
		return err
	}
	return requireRow(res, storage.ErrAccountNotFound)
}

// DeleteAccount relies on ON DELETE CASCADE to remove the student's entries.
func (p *PostgresLedgerStore) DeleteAccount(ctx context.Context, id string) error {
	const query = `DELETE FROM students WHERE id = $1`

	res, err := p.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return requireRow(res, storage.ErrAccountNotFound)
}

// AppendEntry locks the student row, re-checks the balance and the reversal
// target, then writes the flag, the entry and the new balance in one
// transaction.
func (p *PostgresLedgerStore) AppendEntry(ctx context.Context, entry models.LedgerEntry) (models.StudentAccount, models.LedgerEntry, error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.StudentAccount{}, models.LedgerEntry{}, err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	var balance int64
	err = dbTx.QueryRowContext(ctx, `SELECT balance FROM students WHERE id = $1 FOR UPDATE`, entry.StudentID).Scan(&balance)
	if err == sql.ErrNoRows {
		err = storage.ErrAccountNotFound
		return models.StudentAccount{}, models.LedgerEntry{}, err
	}
	if err != nil {
		return models.StudentAccount{}, models.LedgerEntry{}, err
	}
	if balance+entry.Delta < 0 {
		err = storage.ErrNegativeBalance
		return models.StudentAccount{}, models.LedgerEntry{}, err
	}

	if entry.ReversesID != nil {
		if err = p.markReversed(ctx, dbTx, entry.StudentID, *entry.ReversesID); err != nil {
			return models.StudentAccount{}, models.LedgerEntry{}, err
		}
	}

	const insertEntry = `INSERT INTO ledger_entries (student_id, kind, delta, created_at, reversed, reverses_id)
	VALUES ($1,$2,$3,$4,FALSE,$5) RETURNING id`

	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.Reversed = false
	err = dbTx.QueryRowContext(ctx, insertEntry,
		entry.StudentID, string(entry.Kind), entry.Delta, entry.CreatedAt, entry.ReversesID).Scan(&entry.ID)
	if err != nil {
		return models.StudentAccount{}, models.LedgerEntry{}, err
	}

	const updateBalance = `UPDATE students SET balance = balance + $2, last_activity_at = $3
	WHERE id = $1 RETURNING ` + accountColumns

	var account models.StudentAccount
	account, err = scanAccount(dbTx.QueryRowContext(ctx, updateBalance, entry.StudentID, entry.Delta, entry.CreatedAt))
	if err != nil {
		return models.StudentAccount{}, models.LedgerEntry{}, err
	}

	if err = dbTx.Commit(); err != nil {
		return models.StudentAccount{}, models.LedgerEntry{}, err
	}
	return account, entry, nil
}

func (p *PostgresLedgerStore) markReversed(ctx context.Context, dbTx *sql.Tx, studentID string, entryID int64) error {
	const query = `UPDATE ledger_entries SET reversed = TRUE
	WHERE id = $1 AND student_id = $2 AND kind = 'deduct' AND NOT reversed`

	res, err := dbTx.ExecContext(ctx, query, entryID, studentID)
	if err != nil {
		return err
	}
	return requireRow(res, storage.ErrAlreadyReversed)
}

func (p *PostgresLedgerStore) LatestReversibleDeduct(ctx context.Context, studentID string) (models.LedgerEntry, bool, error) {
	if _, err := p.GetAccount(ctx, studentID); err != nil {
		return models.LedgerEntry{}, false, err
	}

	const query = `SELECT ` + entryColumns + ` FROM ledger_entries
	WHERE student_id = $1 AND kind = 'deduct' AND NOT reversed
	ORDER BY created_at DESC, id DESC LIMIT 1`

	entry, err := scanEntry(p.db.QueryRowContext(ctx, query, studentID))
	if err == sql.ErrNoRows {
		return models.LedgerEntry{}, false, nil
	}
	if err != nil {
		return models.LedgerEntry{}, false, err
	}
	return entry, true, nil
}

// GetEntriesByStudent reads the account and its log in one read-only
// transaction so a missing account and an empty log can be told apart.
func (p *PostgresLedgerStore) GetEntriesByStudent(ctx context.Context, studentID string) ([]models.LedgerEntry, error) {
	dbTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback()

	var exists int
	err = dbTx.QueryRowContext(ctx, `SELECT 1 FROM students WHERE id = $1`, studentID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, storage.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	const query = `SELECT ` + entryColumns + ` FROM ledger_entries
	WHERE student_id = $1 ORDER BY created_at DESC, id DESC`

	return queryEntries(ctx, dbTx, query, studentID)
}

func (p *PostgresLedgerStore) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries ORDER BY id`

	return queryEntries(ctx, p.db, query)
}

// Snapshot reads accounts and entries inside one repeatable-read, read-only
// transaction, so both halves reflect the same committed state.
func (p *PostgresLedgerStore) Snapshot(ctx context.Context) (models.LedgerSnapshot, error) {
	dbTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return models.LedgerSnapshot{}, err
	}
	defer dbTx.Rollback()

	var takenAt time.Time
	if err := dbTx.QueryRowContext(ctx, `SELECT now()`).Scan(&takenAt); err != nil {
		return models.LedgerSnapshot{}, err
	}

	accounts, err := listAccounts(ctx, dbTx)
	if err != nil {
		return models.LedgerSnapshot{}, err
	}

	entries, err := queryEntries(ctx, dbTx, `SELECT `+entryColumns+` FROM ledger_entries ORDER BY id`)
	if err != nil {
		return models.LedgerSnapshot{}, err
	}

	return models.LedgerSnapshot{Accounts: accounts, Entries: entries, TakenAt: takenAt}, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func listAccounts(ctx context.Context, q querier) ([]models.StudentAccount, error) {
	const query = `SELECT ` + accountColumns + ` FROM students ORDER BY first_name, last_name, id`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var accounts []models.StudentAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanAccount(row rowScanner) (models.StudentAccount, error) {
	var account models.StudentAccount
	var lastActivity, birthDate sql.NullTime
	err := row.Scan(
		&account.ID,
		&account.FirstName,
		&account.LastName,
		&account.Note,
		&account.Active,
		&account.PackageTotal,
		&account.Balance,
		&lastActivity,
		&account.CreatedAt,
		&birthDate,
	)
	if err != nil {
		return models.StudentAccount{}, err
	}
	if lastActivity.Valid {
		at := lastActivity.Time
		account.LastActivityAt = &at
	}
	if birthDate.Valid {
		d := birthDate.Time
		account.BirthDate = &d
	}
	return account, nil
}

func scanEntry(row rowScanner) (models.LedgerEntry, error) {
	var entry models.LedgerEntry
	var kind string
	var reverses sql.NullInt64
	err := row.Scan(
		&entry.ID,
		&entry.StudentID,
		&kind,
		&entry.Delta,
		&entry.CreatedAt,
		&entry.Reversed,
		&reverses,
	)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	entry.Kind = models.EntryKind(kind)
	if reverses.Valid {
		id := reverses.Int64
		entry.ReversesID = &id
	}
	return entry, nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

var _ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
