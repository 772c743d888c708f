package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/rewear/internal/db"
	"github.com/erazemk/rewear/internal/model"
)

// appendEntry records a ledger entry and moves the cached balance by the same
// amount. A debit that would take the balance below zero fails with
// ErrInsufficientPoints and writes nothing. Callers that append several
// entries must pass a transaction.
func appendEntry(ctx context.Context, q Querier, e *model.LedgerEntry, at time.Time) error {
	result, err := q.ExecContext(ctx,
		`UPDATE users SET points = points + ? WHERE id = ? AND points + ? >= 0`,
		e.Amount, e.UserID, e.Amount,
	)
	if err != nil {
		return fmt.Errorf("updating balance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating balance: %w", err)
	}
	if n == 0 {
		u, err := GetUser(ctx, q, e.UserID)
		if err != nil {
			return err
		}
		if u == nil {
			return fmt.Errorf("updating balance: user %d not found", e.UserID)
		}
		return ErrInsufficientPoints
	}

	result, err = q.ExecContext(ctx,
		`INSERT INTO ledger_entries (user_id, kind, amount, reason, swap_request_id, item_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Kind, e.Amount, nullString(e.Reason), e.SwapRequestID, e.ItemID, db.Time(at),
	)
	if err != nil {
		return fmt.Errorf("appending ledger entry: %w", err)
	}
	e.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting ledger entry id: %w", err)
	}
	e.CreatedAt = at
	return nil
}

// AwardPoints credits a user with points, e.g. for an approved listing.
func AwardPoints(ctx context.Context, q Querier, userID int64, amount int, reason string, itemID *int64, at time.Time) (*model.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("awarding points: amount must be positive")
	}
	e := &model.LedgerEntry{
		UserID: userID,
		Kind:   model.LedgerAward,
		Amount: amount,
		Reason: reason,
		ItemID: itemID,
	}
	if err := appendEntry(ctx, q, e, at); err != nil {
		return nil, err
	}
	return e, nil
}

// TransferPoints moves amount points from one user to another for a swap
// request. The debit is written first so an insufficient balance fails before
// anything is credited. q must be a transaction.
func TransferPoints(ctx context.Context, q Querier, from, to int64, amount int, swapID int64, at time.Time) error {
	if amount <= 0 {
		return fmt.Errorf("transferring points: amount must be positive")
	}
	if err := appendEntry(ctx, q, &model.LedgerEntry{
		UserID:        from,
		Kind:          model.LedgerDebit,
		Amount:        -amount,
		Reason:        "swap request payment",
		SwapRequestID: &swapID,
	}, at); err != nil {
		return err
	}
	return appendEntry(ctx, q, &model.LedgerEntry{
		UserID:        to,
		Kind:          model.LedgerCredit,
		Amount:        amount,
		Reason:        "swap request payment",
		SwapRequestID: &swapID,
	}, at)
}

// ListLedger returns a page of a user's ledger entries, newest first, and the
// total number of entries.
func ListLedger(ctx context.Context, q Querier, userID int64, page Page) ([]model.LedgerEntry, int, error) {
	var total int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE user_id = ?`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting ledger entries: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, user_id, kind, amount, reason, swap_request_id, item_id, created_at
		 FROM ledger_entries WHERE user_id = ?
		 ORDER BY id DESC LIMIT ? OFFSET ?`,
		userID, page.Limit, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []model.LedgerEntry{}
	for rows.Next() {
		var e model.LedgerEntry
		var reason sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Amount, &reason,
			&e.SwapRequestID, &e.ItemID, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning ledger entry: %w", err)
		}
		e.Reason = reason.String
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// PointsTotals returns the sum of a user's positive and negative ledger
// movements for swaps.
func PointsTotals(ctx context.Context, q Querier, userID int64) (earned, spent int, err error) {
	err = q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN kind = 'credit' THEN amount ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN kind = 'debit' THEN -amount ELSE 0 END), 0)
		 FROM ledger_entries WHERE user_id = ?`, userID,
	).Scan(&earned, &spent)
	if err != nil {
		return 0, 0, fmt.Errorf("summing ledger: %w", err)
	}
	return earned, spent, nil
}

// ReconcileBalance compares a user's cached balance with the sum of their
// ledger entries. When fix is set a drifted cache is overwritten with the
// ledger sum.
func ReconcileBalance(ctx context.Context, q Querier, userID int64, fix bool) (*model.Reconciliation, error) {
	r := &model.Reconciliation{UserID: userID}
	err := q.QueryRowContext(ctx,
		`SELECT u.points,
		        COALESCE((SELECT SUM(amount) FROM ledger_entries WHERE user_id = u.id), 0),
		        (SELECT COUNT(*) FROM ledger_entries WHERE user_id = u.id)
		 FROM users u WHERE u.id = ?`, userID,
	).Scan(&r.Cached, &r.Ledger, &r.Entries)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reconciling balance: %w", err)
	}
	r.InSync = r.Cached == r.Ledger

	if !r.InSync && fix {
		if _, err := q.ExecContext(ctx,
			`UPDATE users SET points = ? WHERE id = ?`, r.Ledger, userID,
		); err != nil {
			return nil, fmt.Errorf("fixing balance: %w", err)
		}
	}
	return r, nil
}
