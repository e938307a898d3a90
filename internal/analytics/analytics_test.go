package analytics_test

import (
	"context"
	"testing"
	"time"

	"github.com/sheikh-saqib/lesson-credit-ledger/internal/analytics"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/ledger"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/models"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/storage/memory"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func account(id, first string, balance int64, last *time.Time) models.StudentAccount {
	return models.StudentAccount{ID: id, FirstName: first, LastName: "K", Active: true, Balance: balance, LastActivityAt: last}
}

func ids[T any](items []T, id func(T) string) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = id(it)
	}
	return out
}

func TestLowBalance(t *testing.T) {
	snap := models.LedgerSnapshot{
		TakenAt: now,
		Accounts: []models.StudentAccount{
			account("a", "Zeynep", 4, nil),
			account("b", "Ali", 10, nil),
			account("c", "Berk", 0, nil),
			account("d", "Ahmet", 4, nil),
			account("e", "Emre", 5, nil),
		},
	}

	got, err := analytics.ComputeLowBalance(snap, 5)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d", "a"}, ids(got, func(a models.StudentAccount) string { return a.ID }))
	for _, a := range got {
		require.Less(t, a.Balance, int64(5))
	}

	got, err = analytics.ComputeLowBalance(snap, 0)
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = analytics.ComputeLowBalance(snap, -1)
	require.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestAbsence(t *testing.T) {
	inactive := account("f", "Fatma", 3, nil)
	inactive.Active = false
	snap := models.LedgerSnapshot{
		TakenAt: now,
		Accounts: []models.StudentAccount{
			account("recent", "Recent", 3, ptr(now.Add(-2*24*time.Hour))),
			account("old", "Old", 3, ptr(now.Add(-30*24*time.Hour))),
			account("never", "Never", 3, nil),
			account("older", "Older", 3, ptr(now.Add(-60*24*time.Hour))),
			account("edge", "Edge", 3, ptr(now.Add(-7*24*time.Hour))),
			inactive,
		},
	}

	got, err := analytics.ComputeAbsence(snap, 7)
	require.NoError(t, err)
	require.Equal(t, []string{"never", "older", "old"}, ids(got, func(a analytics.AbsentStudent) string { return a.StudentID }))
	require.Nil(t, got[0].LastActivityAt)
	require.Equal(t, "Never K", got[0].Name)

	_, err = analytics.ComputeAbsence(snap, -1)
	require.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestMonthlyUsageNetOfReversals(t *testing.T) {
	jan := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2026, 3, 31, 23, 59, 0, 0, time.UTC)
	reversed := int64(3)
	snap := models.LedgerSnapshot{
		TakenAt: now,
		Entries: []models.LedgerEntry{
			{ID: 1, Kind: models.KindDeduct, Delta: -1, CreatedAt: jan},
			{ID: 2, Kind: models.KindDeduct, Delta: -1, CreatedAt: jan},
			{ID: 3, Kind: models.KindDeduct, Delta: -1, CreatedAt: jan, Reversed: true},
			{ID: 4, Kind: models.KindUndo, Delta: 1, CreatedAt: feb, ReversesID: &reversed},
			{ID: 5, Kind: models.KindAdd, Delta: 10, CreatedAt: feb},
			{ID: 6, Kind: models.KindDeduct, Delta: -1, CreatedAt: mar},
			{ID: 7, Kind: models.KindDeduct, Delta: -1, CreatedAt: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)},
		},
	}

	got, err := analytics.ComputeMonthlyUsage(snap, analytics.MonthRange{From: jan, To: now})
	require.NoError(t, err)
	require.Equal(t, []analytics.MonthUsage{
		{Month: "2026-01", Name: "Jan", Lessons: 2},
		{Month: "2026-02", Name: "Feb", Lessons: 0},
		{Month: "2026-03", Name: "Mar", Lessons: 1},
		{Month: "2026-04", Name: "Apr", Lessons: 0},
		{Month: "2026-05", Name: "May", Lessons: 0},
		{Month: "2026-06", Name: "Jun", Lessons: 0},
	}, got)

	_, err = analytics.ComputeMonthlyUsage(snap, analytics.MonthRange{From: now, To: jan})
	require.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestLastMonths(t *testing.T) {
	r, err := analytics.LastMonths(time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), 6)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), r.From)
	require.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), r.To)

	_, err = analytics.LastMonths(now, 0)
	require.ErrorIs(t, err, ledger.ErrInvalidInput)

	r, err = analytics.LastMonths(now, analytics.MaxMonths)
	require.NoError(t, err)
	require.Equal(t, time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC), r.From)
	for _, n := range []int{analytics.MaxMonths + 1, 2000000} {
		_, err = analytics.LastMonths(now, n)
		require.ErrorIs(t, err, ledger.ErrInvalidInput, "months=%d", n)
	}
}

func TestMonthlyUsageSpanIsCapped(t *testing.T) {
	snap := models.LedgerSnapshot{TakenAt: now}
	to := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	got, err := analytics.ComputeMonthlyUsage(snap, analytics.MonthRange{From: to.AddDate(0, -(analytics.MaxMonths - 1), 0), To: to})
	require.NoError(t, err)
	require.Len(t, got, analytics.MaxMonths)
	require.Equal(t, "2016-07", got[0].Month)

	_, err = analytics.ComputeMonthlyUsage(snap, analytics.MonthRange{From: to.AddDate(0, -analytics.MaxMonths, 0), To: to})
	require.ErrorIs(t, err, ledger.ErrInvalidInput)
	_, err = analytics.ComputeMonthlyUsage(snap, analytics.MonthRange{From: time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC), To: to})
	require.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestActivityFeed(t *testing.T) {
	same := now.Add(-time.Hour)
	snap := models.LedgerSnapshot{
		TakenAt:  now,
		Accounts: []models.StudentAccount{account("a", "Ada", 1, nil), account("b", "Bora", 1, nil)},
		Entries: []models.LedgerEntry{
			{ID: 1, StudentID: "a", Kind: models.KindAdd, Delta: 8, CreatedAt: now.Add(-3 * time.Hour)},
			{ID: 2, StudentID: "b", Kind: models.KindDeduct, Delta: -1, CreatedAt: same},
			{ID: 3, StudentID: "a", Kind: models.KindDeduct, Delta: -1, CreatedAt: same},
			{ID: 4, StudentID: "a", Kind: models.KindUndo, Delta: 1, CreatedAt: now},
		},
	}

	got, err := analytics.ComputeActivityFeed(snap, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []int64{4, 3, 2}, []int64{got[0].EntryID, got[1].EntryID, got[2].EntryID})
	require.Equal(t, "Ada K", got[0].StudentName)
	require.Equal(t, models.KindUndo, got[0].Kind)
	require.Equal(t, int64(1), got[0].Delta)
	require.Equal(t, "Bora K", got[2].StudentName)
	require.Equal(t, int64(-1), got[2].Delta)

	again, err := analytics.ComputeActivityFeed(snap, 3)
	require.NoError(t, err)
	require.Equal(t, got, again)

	_, err = analytics.ComputeActivityFeed(snap, 0)
	require.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestEngineOverLedger(t *testing.T) {
	ctx := context.Background()
	clock := func() time.Time { return now }
	store := memory.NewMemoryLedgerStore(memory.WithClock(clock))
	l := ledger.NewLedger(store, ledger.WithClock(clock))
	engine := analytics.NewEngine(store)

	empty, err := l.CreateAccount(ctx, ledger.NewAccount{FirstName: "Sena", LastName: "Ak", PackageTotal: 0})
	require.NoError(t, err)
	full, err := l.CreateAccount(ctx, ledger.NewAccount{FirstName: "Umut", LastName: "Er", PackageTotal: 8})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = l.Deduct(ctx, full.ID)
		require.NoError(t, err)
	}
	_, err = l.Undo(ctx, full.ID)
	require.NoError(t, err)

	low, err := engine.LowBalance(ctx, 5)
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.Equal(t, empty.ID, low[0].ID)

	absent, err := engine.Absence(ctx, 7)
	require.NoError(t, err)
	require.Len(t, absent, 1)
	require.Equal(t, empty.ID, absent[0].StudentID)

	feed, err := engine.ActivityFeed(ctx, 100)
	require.NoError(t, err)
	require.Len(t, feed, 4)
	require.Equal(t, models.KindUndo, feed[0].Kind)
	again, err := engine.ActivityFeed(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, feed, again)

	dash, err := engine.Dashboard(ctx, 5, 7, 6)
	require.NoError(t, err)
	require.Len(t, dash.MonthlyChart, 6)
	require.Equal(t, "2026-01", dash.MonthlyChart[0].Month)
	require.Equal(t, analytics.MonthUsage{Month: "2026-06", Name: "Jun", Lessons: 2}, dash.MonthlyChart[5])
	require.Len(t, dash.LowBalance, 1)
	require.Len(t, dash.Absent, 1)

	usage, err := engine.MonthlyUsage(ctx, analytics.MonthRange{From: now.AddDate(0, -1, 0), To: now})
	require.NoError(t, err)
	require.Equal(t, []int64{0, 2}, []int64{usage[0].Lessons, usage[1].Lessons})
}
