package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/rewear/internal/db"
	"github.com/erazemk/rewear/internal/model"
)

func TestAwardPoints(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	u := mustUser(t, database, "ana")
	it := mustItem(t, database, u, "Jacket")

	at := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	e, err := AwardPoints(ctx, database, u.ID, 10, "item approved", &it.ID, at)
	require.NoError(t, err)
	assert.Equal(t, model.LedgerAward, e.Kind)
	assert.NotZero(t, e.ID)

	entries, _, err := ListLedger(ctx, database, u.ID, Page{Number: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].CreatedAt.Equal(at), "entry stamped %v, want %v", entries[0].CreatedAt, at)

	got, _ := GetUser(ctx, database, u.ID)
	assert.Equal(t, 10, got.Points)

	_, err = AwardPoints(ctx, database, u.ID, 0, "nothing", nil, time.Now())
	assert.Error(t, err)
}

// swapFixture creates a points request so ledger entries have a request to
// reference.
func swapFixture(t *testing.T, database *sql.DB) (requester, owner *model.User, s *model.SwapRequest) {
	t.Helper()
	requester = mustUser(t, database, "requester")
	owner = mustUser(t, database, "owner")
	it := mustItem(t, database, owner, "Coat")

	now := time.Now().UTC()
	s, err := CreateSwapRequest(context.Background(), database, &model.SwapRequest{
		ItemID:        it.ID,
		RequestedBy:   requester.ID,
		ItemOwner:     owner.ID,
		Mode:          model.ModePoints,
		PointsOffered: 30,
		ExpiresAt:     now.Add(model.DefaultSwapExpiry),
		CreatedAt:     now,
	})
	if err != nil {
		t.Fatalf("CreateSwapRequest: %v", err)
	}
	return requester, owner, s
}

func TestTransferPoints(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	requester, owner, s := swapFixture(t, database)
	mustAward(t, database, requester, 50)

	err := WithTx(ctx, database, func(tx *sql.Tx) error {
		return TransferPoints(ctx, tx, requester.ID, owner.ID, 30, s.ID, time.Now())
	})
	require.NoError(t, err)

	r, _ := GetUser(ctx, database, requester.ID)
	o, _ := GetUser(ctx, database, owner.ID)
	assert.Equal(t, 20, r.Points)
	assert.Equal(t, 30, o.Points)

	entries, total, err := ListLedger(ctx, database, requester.ID, NewPage(1, 10))
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, model.LedgerDebit, entries[0].Kind, "newest first")
	assert.Equal(t, -30, entries[0].Amount)
	require.NotNil(t, entries[0].SwapRequestID)
	assert.Equal(t, s.ID, *entries[0].SwapRequestID)

	earned, spent, err := PointsTotals(ctx, database, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, earned)
	assert.Equal(t, 0, spent)
}

func TestTransferPointsInsufficientRollsBack(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	requester, owner, s := swapFixture(t, database)
	mustAward(t, database, requester, 10)

	err := WithTx(ctx, database, func(tx *sql.Tx) error {
		return TransferPoints(ctx, tx, requester.ID, owner.ID, 30, s.ID, time.Now())
	})
	assert.True(t, errors.Is(err, ErrInsufficientPoints))

	r, _ := GetUser(ctx, database, requester.ID)
	o, _ := GetUser(ctx, database, owner.ID)
	assert.Equal(t, 10, r.Points)
	assert.Equal(t, 0, o.Points)

	_, total, err := ListLedger(ctx, database, owner.ID, NewPage(1, 10))
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestReconcileBalance(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	u := mustUser(t, database, "ana")
	mustAward(t, database, u, 25)

	r, err := ReconcileBalance(ctx, database, u.ID, false)
	require.NoError(t, err)
	assert.True(t, r.InSync)
	assert.Equal(t, 25, r.Ledger)
	assert.Equal(t, 1, r.Entries)

	_, err = database.ExecContext(ctx, `UPDATE users SET points = 99 WHERE id = ?`, u.ID)
	require.NoError(t, err)

	r, err = ReconcileBalance(ctx, database, u.ID, true)
	require.NoError(t, err)
	assert.False(t, r.InSync)
	assert.Equal(t, 99, r.Cached)

	got, _ := GetUser(ctx, database, u.ID)
	assert.Equal(t, 25, got.Points)

	missing, err := ReconcileBalance(ctx, database, 9999, false)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
