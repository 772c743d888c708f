package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Querier is implemented by *sql.DB and *sql.Tx, so store functions can run
// standalone or as part of a caller's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	// ErrInsufficientPoints is returned when a debit would make a balance negative.
	ErrInsufficientPoints = errors.New("insufficient points")
	// ErrItemUnavailable is returned when an item is no longer available.
	ErrItemUnavailable = errors.New("item is not available")
	// ErrDuplicatePending is returned when a requester already has a pending
	// request for the same item.
	ErrDuplicatePending = errors.New("duplicate pending request")
	// ErrEmailTaken is returned when another live account uses the email.
	ErrEmailTaken = errors.New("email already registered")
)

// WithTx runs fn inside a transaction, committing if fn returns nil.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
