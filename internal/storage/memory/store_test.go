package memory

import (
	"context"
	"testing"
	"time"

	"github.com/sheikh-saqib/lesson-credit-ledger/internal/models"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/storage"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, balance int64) (*MemoryLedgerStore, models.StudentAccount) {
	t.Helper()
	m := NewMemoryLedgerStore()
	a := models.StudentAccount{ID: "s1", FirstName: "Can", LastName: "Demir", Active: true, PackageTotal: balance, Balance: balance, CreatedAt: t0}
	require.NoError(t, m.CreateAccount(context.Background(), a))
	return m, a
}

func deduct(at time.Time) models.LedgerEntry {
	return models.LedgerEntry{StudentID: "s1", Kind: models.KindDeduct, Delta: -1, CreatedAt: at}
}

func TestCreateAccountTwice(t *testing.T) {
	m, a := seed(t, 1)
	require.ErrorIs(t, m.CreateAccount(context.Background(), a), storage.ErrAccountExists)
}

func TestAppendEntryAssignsIDsAndAppliesDelta(t *testing.T) {
	ctx := context.Background()
	m, _ := seed(t, 2)

	acc, e1, err := m.AppendEntry(ctx, deduct(t0))
	require.NoError(t, err)
	require.Equal(t, int64(1), e1.ID)
	require.Equal(t, int64(1), acc.Balance)
	require.True(t, acc.LastActivityAt.Equal(t0))

	_, e2, err := m.AppendEntry(ctx, deduct(t0.Add(time.Minute)))
	require.NoError(t, err)
	require.Greater(t, e2.ID, e1.ID)
}

func TestAppendEntryRejectsNegativeBalance(t *testing.T) {
	ctx := context.Background()
	m, _ := seed(t, 0)

	_, _, err := m.AppendEntry(ctx, deduct(t0))
	require.ErrorIs(t, err, storage.ErrNegativeBalance)

	entries, err := m.GetLedgerEntries(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestAppendEntryUnknownAccount(t *testing.T) {
	m := NewMemoryLedgerStore()
	_, _, err := m.AppendEntry(context.Background(), deduct(t0))
	require.ErrorIs(t, err, storage.ErrAccountNotFound)
}

func TestReversalIsRecheckedAtomically(t *testing.T) {
	ctx := context.Background()
	m, _ := seed(t, 3)

	_, target, err := m.AppendEntry(ctx, deduct(t0))
	require.NoError(t, err)

	undo := models.LedgerEntry{StudentID: "s1", Kind: models.KindUndo, Delta: 1, CreatedAt: t0, ReversesID: &target.ID}
	acc, _, err := m.AppendEntry(ctx, undo)
	require.NoError(t, err)
	require.Equal(t, int64(3), acc.Balance)

	// a second undo of the same deduct is refused and writes nothing
	_, _, err = m.AppendEntry(ctx, undo)
	require.ErrorIs(t, err, storage.ErrAlreadyReversed)

	got, err := m.GetAccount(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, int64(3), got.Balance)
	entries, err := m.GetLedgerEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.True(t, entries[0].Reversed)
}

func TestReversalOfAddIsRefused(t *testing.T) {
	ctx := context.Background()
	m, _ := seed(t, 0)

	_, add, err := m.AppendEntry(ctx, models.LedgerEntry{StudentID: "s1", Kind: models.KindAdd, Delta: 4, CreatedAt: t0})
	require.NoError(t, err)

	_, _, err = m.AppendEntry(ctx, models.LedgerEntry{StudentID: "s1", Kind: models.KindUndo, Delta: 1, CreatedAt: t0, ReversesID: &add.ID})
	require.ErrorIs(t, err, storage.ErrAlreadyReversed)
}

func TestLatestReversibleDeduct(t *testing.T) {
	ctx := context.Background()
	m, _ := seed(t, 5)

	_, found, err := m.LatestReversibleDeduct(ctx, "s1")
	require.NoError(t, err)
	require.False(t, found)

	// later timestamp wins over higher id
	_, late, err := m.AppendEntry(ctx, deduct(t0.Add(time.Hour)))
	require.NoError(t, err)
	_, _, err = m.AppendEntry(ctx, deduct(t0))
	require.NoError(t, err)

	latest, found, err := m.LatestReversibleDeduct(ctx, "s1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, late.ID, latest.ID)

	_, _, err = m.LatestReversibleDeduct(ctx, "nope")
	require.ErrorIs(t, err, storage.ErrAccountNotFound)
}

func TestSnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	m, _ := seed(t, 2)
	_, target, err := m.AppendEntry(ctx, deduct(t0))
	require.NoError(t, err)

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)

	_, _, err = m.AppendEntry(ctx, models.LedgerEntry{StudentID: "s1", Kind: models.KindUndo, Delta: 1, CreatedAt: t0, ReversesID: &target.ID})
	require.NoError(t, err)

	require.False(t, snap.Entries[0].Reversed)
	require.Equal(t, int64(1), snap.Accounts[0].Balance)
}

func TestSnapshotHonoursCancellation(t *testing.T) {
	m, _ := seed(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Snapshot(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestUpdateProfileLeavesBalance(t *testing.T) {
	ctx := context.Background()
	m, a := seed(t, 4)

	born := time.Date(2011, 2, 3, 0, 0, 0, 0, time.UTC)
	a.FirstName = "Cem"
	a.BirthDate = &born
	a.Balance = 99
	require.NoError(t, m.UpdateProfile(ctx, a))

	got, err := m.GetAccount(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "Cem", got.FirstName)
	require.Equal(t, born, *got.BirthDate)
	require.Equal(t, int64(4), got.Balance)
}

func TestListAccountsByName(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedgerStore()
	for _, a := range []models.StudentAccount{
		{ID: "3", FirstName: "Zehra", LastName: "A", CreatedAt: t0},
		{ID: "1", FirstName: "Burak", LastName: "Yildiz", CreatedAt: t0.Add(time.Hour)},
		{ID: "2", FirstName: "Burak", LastName: "Arslan", CreatedAt: t0.Add(2 * time.Hour)},
		{ID: "0", FirstName: "Burak", LastName: "Arslan", CreatedAt: t0.Add(3 * time.Hour)},
	} {
		require.NoError(t, m.CreateAccount(ctx, a))
	}

	got, err := m.ListAccounts(ctx)
	require.NoError(t, err)
	order := make([]string, len(got))
	for i, a := range got {
		order[i] = a.ID
	}
	require.Equal(t, []string{"0", "2", "1", "3"}, order)
}

func TestSnapshotUsesStoreClock(t *testing.T) {
	at := time.Date(2026, 4, 30, 23, 0, 0, 0, time.UTC)
	m := NewMemoryLedgerStore(WithClock(func() time.Time { return at }))
	snap, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, at, snap.TakenAt)
}

func TestDeleteAccountCascades(t *testing.T) {
	ctx := context.Background()
	m, _ := seed(t, 2)
	_, _, err := m.AppendEntry(ctx, deduct(t0))
	require.NoError(t, err)

	require.NoError(t, m.DeleteAccount(ctx, "s1"))
	require.ErrorIs(t, m.DeleteAccount(ctx, "s1"), storage.ErrAccountNotFound)

	entries, err := m.GetLedgerEntries(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
	_, err = m.GetEntriesByStudent(ctx, "s1")
	require.ErrorIs(t, err, storage.ErrAccountNotFound)
}
