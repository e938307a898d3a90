package postgres

import (
	"context"
	"fmt"
)

// The unique reverses_id column keeps a deduct from being undone twice even
// if two writers get past the row lock check in different processes.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id               TEXT PRIMARY KEY,
		first_name       TEXT NOT NULL,
		last_name        TEXT NOT NULL,
		note             TEXT NOT NULL DEFAULT '',
		is_active        BOOLEAN NOT NULL DEFAULT TRUE,
		package_total    BIGINT NOT NULL CHECK (package_total >= 0),
		balance          BIGINT NOT NULL CHECK (balance >= 0),
		last_activity_at TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL,
		birth_date       DATE
	)`,
	`ALTER TABLE students ADD COLUMN IF NOT EXISTS birth_date DATE`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id          BIGSERIAL PRIMARY KEY,
		student_id  TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		kind        TEXT NOT NULL CHECK (kind IN ('deduct', 'undo', 'add')),
		delta       BIGINT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		reversed    BOOLEAN NOT NULL DEFAULT FALSE,
		reverses_id BIGINT UNIQUE REFERENCES ledger_entries(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_student_order
		ON ledger_entries (student_id, created_at DESC, id DESC)`,
}

// Migrate creates the tables if they do not exist yet.
func (p *PostgresLedgerStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
