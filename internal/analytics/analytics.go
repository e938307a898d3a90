// Package analytics derives read-only reports from the ledger. Every report
// is a pure function of one models.LedgerSnapshot; the Engine only loads the
// snapshot and never takes the ledger's write locks.
package analytics

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	interfaces "github.com/sheikh-saqib/lesson-credit-ledger/internal/interfaces"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/ledger"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/models"
)

// AbsentStudent is one row of the absence report.
type AbsentStudent struct {
	StudentID      string     `json:"id"`
	Name           string     `json:"name"`
	Balance        int64      `json:"balance"`
	LastActivityAt *time.Time `json:"last_activity_at"` // nil: never attended
}

// MonthUsage is the net number of lessons consumed in one calendar month.
type MonthUsage struct {
	Month   string `json:"month"` // 2006-01
	Name    string `json:"name"`  // Jan
	Lessons int64  `json:"lessons"`
}

// FeedItem is a ledger entry annotated for the activity feed.
type FeedItem struct {
	EntryID     int64            `json:"id"`
	StudentID   string           `json:"student_id"`
	StudentName string           `json:"student_name"`
	Kind        models.EntryKind `json:"type"`
	Delta       int64            `json:"delta"`
	Reversed    bool             `json:"reversed"`
	CreatedAt   time.Time        `json:"date"`
}

// Dashboard bundles the three dashboard reports, all taken from one snapshot.
type Dashboard struct {
	LowBalance   []models.StudentAccount `json:"low_balance"`
	Absent       []AbsentStudent         `json:"absent_students"`
	MonthlyChart []MonthUsage            `json:"monthly_chart"`
}

// MonthRange is an inclusive range of calendar months in UTC.
type MonthRange struct {
	From time.Time
	To   time.Time
}

// MaxMonths is the longest span a usage report may cover.
const MaxMonths = 120

// LastMonths returns the range of n months ending with the month of now.
func LastMonths(now time.Time, n int) (MonthRange, error) {
	if n < 1 || n > MaxMonths {
		return MonthRange{}, fmt.Errorf("%w: months must be in [1, %d], got %d", ledger.ErrInvalidInput, MaxMonths, n)
	}
	to := monthStart(now)
	return MonthRange{From: to.AddDate(0, -(n - 1), 0), To: to}, nil
}

// Engine serves reports from a ledger reader.
type Engine struct {
	reader interfaces.LedgerReader
}

func NewEngine(reader interfaces.LedgerReader) *Engine {
	return &Engine{reader: reader}
}

func (e *Engine) LowBalance(ctx context.Context, threshold int64) ([]models.StudentAccount, error) {
	snap, err := e.reader.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return ComputeLowBalance(snap, threshold)
}

func (e *Engine) Absence(ctx context.Context, days int) ([]AbsentStudent, error) {
	snap, err := e.reader.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return ComputeAbsence(snap, days)
}

func (e *Engine) MonthlyUsage(ctx context.Context, r MonthRange) ([]MonthUsage, error) {
	snap, err := e.reader.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return ComputeMonthlyUsage(snap, r)
}

func (e *Engine) ActivityFeed(ctx context.Context, limit int) ([]FeedItem, error) {
	snap, err := e.reader.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return ComputeActivityFeed(snap, limit)
}

// Dashboard computes low balance, absence and the monthly chart of the last
// months months from a single snapshot.
func (e *Engine) Dashboard(ctx context.Context, threshold int64, days, months int) (Dashboard, error) {
	snap, err := e.reader.Snapshot(ctx)
	if err != nil {
		return Dashboard{}, err
	}

	low, err := ComputeLowBalance(snap, threshold)
	if err != nil {
		return Dashboard{}, err
	}
	absent, err := ComputeAbsence(snap, days)
	if err != nil {
		return Dashboard{}, err
	}
	r, err := LastMonths(snap.TakenAt, months)
	if err != nil {
		return Dashboard{}, err
	}
	chart, err := ComputeMonthlyUsage(snap, r)
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{LowBalance: low, Absent: absent, MonthlyChart: chart}, nil
}

// ComputeLowBalance returns accounts with balance < threshold, lowest balance
// first, then by name.
func ComputeLowBalance(snap models.LedgerSnapshot, threshold int64) ([]models.StudentAccount, error) {
	if threshold < 0 {
		return nil, fmt.Errorf("%w: threshold must be >= 0, got %d", ledger.ErrInvalidInput, threshold)
	}

	out := []models.StudentAccount{}
	for _, a := range snap.Accounts {
		if a.Balance < threshold {
			out = append(out, a)
		}
	}
	slices.SortStableFunc(out, func(a, b models.StudentAccount) int {
		return cmpOr(
			cmp.Compare(a.Balance, b.Balance),
			cmp.Compare(a.DisplayName(), b.DisplayName()),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out, nil
}

// ComputeAbsence returns active accounts with no activity in the last days
// days, or none at all. Never-active accounts come first, then the oldest.
func ComputeAbsence(snap models.LedgerSnapshot, days int) ([]AbsentStudent, error) {
	if days < 0 {
		return nil, fmt.Errorf("%w: days must be >= 0, got %d", ledger.ErrInvalidInput, days)
	}
	cutoff := snap.TakenAt.AddDate(0, 0, -days)

	out := []AbsentStudent{}
	for _, a := range snap.Accounts {
		if !a.Active {
			continue
		}
		if a.LastActivityAt != nil && !a.LastActivityAt.Before(cutoff) {
			continue
		}
		out = append(out, AbsentStudent{
			StudentID:      a.ID,
			Name:           a.DisplayName(),
			Balance:        a.Balance,
			LastActivityAt: a.LastActivityAt,
		})
	}
	slices.SortStableFunc(out, func(a, b AbsentStudent) int {
		return cmpOr(
			compareActivity(a.LastActivityAt, b.LastActivityAt),
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.StudentID, b.StudentID),
		)
	})
	return out, nil
}

// ComputeMonthlyUsage counts net lessons per month in r. A deduct counts in
// the month it was recorded unless it was later reversed; every month of the
// range is present, zero if unused.
func ComputeMonthlyUsage(snap models.LedgerSnapshot, r MonthRange) ([]MonthUsage, error) {
	from, to := monthStart(r.From), monthStart(r.To)
	if from.After(to) {
		return nil, fmt.Errorf("%w: range starts after it ends", ledger.ErrInvalidInput)
	}
	if span := monthsBetween(from, to); span > MaxMonths {
		return nil, fmt.Errorf("%w: range covers %d months, max %d", ledger.ErrInvalidInput, span, MaxMonths)
	}

	counts := make(map[time.Time]int64)
	for _, e := range snap.Entries {
		if e.Kind != models.KindDeduct || e.Reversed {
			continue
		}
		counts[monthStart(e.CreatedAt)]++
	}

	out := make([]MonthUsage, 0, monthsBetween(from, to))
	for m := from; !m.After(to); m = m.AddDate(0, 1, 0) {
		out = append(out, MonthUsage{
			Month:   m.Format("2006-01"),
			Name:    m.Format("Jan"),
			Lessons: counts[m],
		})
	}
	return out, nil
}

// ComputeActivityFeed returns the newest limit entries across all students.
func ComputeActivityFeed(snap models.LedgerSnapshot, limit int) ([]FeedItem, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be >= 1, got %d", ledger.ErrInvalidInput, limit)
	}

	entries := slices.Clone(snap.Entries)
	slices.SortFunc(entries, func(a, b models.LedgerEntry) int {
		switch {
		case a.After(b):
			return -1
		case b.After(a):
			return 1
		}
		return 0
	})

	names := snap.AccountIndex()
	out := make([]FeedItem, 0, min(limit, len(entries)))
	for _, e := range entries {
		if len(out) == limit {
			break
		}
		account, ok := names[e.StudentID]
		if !ok {
			continue
		}
		out = append(out, FeedItem{
			EntryID:     e.ID,
			StudentID:   e.StudentID,
			StudentName: account.DisplayName(),
			Kind:        e.Kind,
			Delta:       e.Delta,
			Reversed:    e.Reversed,
			CreatedAt:   e.CreatedAt,
		})
	}
	return out, nil
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// compareActivity orders nil before any time.
func compareActivity(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

// monthsBetween counts the months of the inclusive range [from, to].
func monthsBetween(from, to time.Time) int {
	return (to.Year()-from.Year())*12 + int(to.Month()-from.Month()) + 1
}

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
