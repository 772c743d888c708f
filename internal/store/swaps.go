package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/erazemk/rewear/internal/db"
	"github.com/erazemk/rewear/internal/model"
)

const swapColumns = `s.id, s.item_id, s.requested_by, s.item_owner, s.mode, s.status, s.message,
	s.offered_item_id, s.points_offered, s.response_message, s.responded_at,
	s.points_transferred, s.completed_at, s.completion_notes,
	s.meeting_date, s.meeting_location, s.meeting_notes,
	s.expires_at, s.is_active, s.created_at, s.updated_at,
	i.title, oi.title, r.name, o.name`

const swapFrom = ` FROM swap_requests s
	JOIN items i ON i.id = s.item_id
	LEFT JOIN items oi ON oi.id = s.offered_item_id
	JOIN users r ON r.id = s.requested_by
	JOIN users o ON o.id = s.item_owner`

// effectiveStatusSQL mirrors model.EffectiveStatus. Its single parameter is
// the current time.
const effectiveStatusSQL = `(CASE WHEN s.status = 'pending' AND s.expires_at < ? THEN 'declined' ELSE s.status END)`

func scanSwap(row rowScanner) (*model.SwapRequest, error) {
	s := &model.SwapRequest{}
	var message, responseMessage, notes, location, meetingNotes, offeredTitle sql.NullString
	err := row.Scan(&s.ID, &s.ItemID, &s.RequestedBy, &s.ItemOwner, &s.Mode, &s.Status, &message,
		&s.OfferedItemID, &s.PointsOffered, &responseMessage, &s.Response.RespondedAt,
		&s.Transaction.PointsTransferred, &s.Transaction.CompletedAt, &notes,
		&s.Meeting.ProposedDate, &location, &meetingNotes,
		&s.ExpiresAt, &s.IsActive, &s.CreatedAt, &s.UpdatedAt,
		&s.ItemTitle, &offeredTitle, &s.RequesterName, &s.OwnerName)
	if err != nil {
		return nil, err
	}
	s.Message = message.String
	s.Response.Message = responseMessage.String
	s.Transaction.CompletionNotes = notes.String
	s.Meeting.Location = location.String
	s.Meeting.Notes = meetingNotes.String
	s.OfferedItemTitle = offeredTitle.String
	return s, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return db.Time(*t)
}

// CreateSwapRequest inserts a new pending request. It returns
// ErrDuplicatePending when the requester already has a pending request for
// the item.
func CreateSwapRequest(ctx context.Context, q Querier, s *model.SwapRequest) (*model.SwapRequest, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO swap_requests (item_id, requested_by, item_owner, mode, status, message,
		                            offered_item_id, points_offered, meeting_date, meeting_location,
		                            meeting_notes, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'pending', ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ItemID, s.RequestedBy, s.ItemOwner, s.Mode, nullString(s.Message),
		s.OfferedItemID, s.PointsOffered, nullTime(s.Meeting.ProposedDate),
		nullString(s.Meeting.Location), nullString(s.Meeting.Notes),
		db.Time(s.ExpiresAt), db.Time(s.CreatedAt), db.Time(s.CreatedAt),
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicatePending
	}
	if err != nil {
		return nil, fmt.Errorf("creating swap request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting swap request id: %w", err)
	}
	return GetSwapRequest(ctx, q, id)
}

// GetSwapRequest returns a request by ID with the stored status.
func GetSwapRequest(ctx context.Context, q Querier, id int64) (*model.SwapRequest, error) {
	s, err := scanSwap(q.QueryRowContext(ctx,
		`SELECT `+swapColumns+swapFrom+` WHERE s.id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting swap request: %w", err)
	}
	return s, nil
}

// FindPendingSwap returns the requester's unexpired pending request for an
// item, if any.
func FindPendingSwap(ctx context.Context, q Querier, itemID, requesterID int64, now time.Time) (*model.SwapRequest, error) {
	s, err := scanSwap(q.QueryRowContext(ctx,
		`SELECT `+swapColumns+swapFrom+`
		 WHERE s.item_id = ? AND s.requested_by = ? AND s.status = 'pending' AND s.expires_at >= ?`,
		itemID, requesterID, db.Time(now),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding pending swap request: %w", err)
	}
	return s, nil
}

// Swap list directions.
const (
	SwapsSent     = "sent"
	SwapsReceived = "received"
)

// SwapFilter selects requests involving UserID. Type narrows to sent or
// received requests and Status matches the effective status at Now.
type SwapFilter struct {
	UserID int64
	Type   string
	Status string
	Now    time.Time
	Page   Page
}

func (f SwapFilter) where() (string, []any) {
	var conds []string
	var args []any

	switch f.Type {
	case SwapsSent:
		conds = append(conds, "s.requested_by = ?")
		args = append(args, f.UserID)
	case SwapsReceived:
		conds = append(conds, "s.item_owner = ?")
		args = append(args, f.UserID)
	default:
		conds = append(conds, "(s.requested_by = ? OR s.item_owner = ?)")
		args = append(args, f.UserID, f.UserID)
	}

	if f.Status != "" {
		conds = append(conds, effectiveStatusSQL+" = ?")
		args = append(args, db.Time(f.Now), f.Status)
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListSwapRequests returns a page of requests matching f, newest first, and
// the total number of matches. Statuses are returned as stored.
func ListSwapRequests(ctx context.Context, q Querier, f SwapFilter) ([]model.SwapRequest, int, error) {
	where, args := f.where()

	var total int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM swap_requests s`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting swap requests: %w", err)
	}

	page := f.Page
	if page.Limit == 0 {
		page = NewPage(1, DefaultPageSize)
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+swapColumns+swapFrom+where+` ORDER BY s.created_at DESC, s.id DESC LIMIT ? OFFSET ?`,
		append(args, page.Limit, page.Offset())...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing swap requests: %w", err)
	}
	defer rows.Close()

	swaps := []model.SwapRequest{}
	for rows.Next() {
		s, err := scanSwap(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning swap request: %w", err)
		}
		swaps = append(swaps, *s)
	}
	return swaps, total, rows.Err()
}

func rowsChanged(result sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

// RespondSwap moves a pending, unexpired request to accepted or declined. It
// reports false when the request was no longer pending at now, so of two
// concurrent responses only one wins.
func RespondSwap(ctx context.Context, q Querier, id int64, status, message string, now time.Time) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE swap_requests
		 SET status = ?, response_message = ?, responded_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'pending' AND expires_at >= ?`,
		status, message, db.Time(now), db.Time(now), id, db.Time(now),
	)
	return rowsChanged(result, err, "responding to swap request")
}

// CompleteSwap moves an accepted request to completed. It reports false when
// the request was not accepted anymore.
func CompleteSwap(ctx context.Context, q Querier, id int64, pointsTransferred int, notes string, now time.Time) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE swap_requests
		 SET status = 'completed', is_active = 0, points_transferred = ?, completion_notes = ?,
		     completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'accepted'`,
		pointsTransferred, nullString(notes), db.Time(now), db.Time(now), id,
	)
	return rowsChanged(result, err, "completing swap request")
}

// CancelSwap moves a pending or accepted request to cancelled. An expired
// pending request cannot be cancelled. It reports false when nothing changed.
func CancelSwap(ctx context.Context, q Querier, id int64, now time.Time) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE swap_requests SET status = 'cancelled', is_active = 0, updated_at = ?
		 WHERE id = ? AND (status = 'accepted' OR (status = 'pending' AND expires_at >= ?))`,
		db.Time(now), id, db.Time(now),
	)
	return rowsChanged(result, err, "cancelling swap request")
}

// UpdateSwapMeeting replaces the meeting arrangement of an open request.
func UpdateSwapMeeting(ctx context.Context, q Querier, id int64, m model.Meeting, now time.Time) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE swap_requests
		 SET meeting_date = ?, meeting_location = ?, meeting_notes = ?, updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'accepted')`,
		nullTime(m.ProposedDate), nullString(m.Location), nullString(m.Notes), db.Time(now), id,
	)
	return rowsChanged(result, err, "updating swap meeting")
}

// ExpireSwaps persists the auto-decline of every pending request whose expiry
// is before now and returns the affected IDs. When itemID and requesterID are
// both non-zero only that pair is swept.
func ExpireSwaps(ctx context.Context, q Querier, now time.Time, itemID, requesterID int64) ([]int64, error) {
	query := `UPDATE swap_requests
		SET status = 'declined', is_active = 0, response_message = ?, responded_at = ?, updated_at = ?
		WHERE status = 'pending' AND expires_at < ?`
	args := []any{model.ExpiredMessage, db.Time(now), db.Time(now), db.Time(now)}
	if itemID != 0 && requesterID != 0 {
		query += ` AND item_id = ? AND requested_by = ?`
		args = append(args, itemID, requesterID)
	}

	rows, err := q.QueryContext(ctx, query+` RETURNING id`, args...)
	if err != nil {
		return nil, fmt.Errorf("expiring swap requests: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning expired swap request: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SwapCounts holds a user's request counts by effective status.
type SwapCounts struct {
	Sent      int
	Received  int
	Completed int
	Pending   int
}

// CountSwaps returns a user's swap request counts. Pending counts requests
// where the user is either party and that have not expired at now.
func CountSwaps(ctx context.Context, q Querier, userID int64, now time.Time) (*SwapCounts, error) {
	c := &SwapCounts{}
	err := q.QueryRowContext(ctx,
		`SELECT
		   COALESCE(SUM(CASE WHEN requested_by = ? THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN item_owner = ? THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN status = 'pending' AND expires_at >= ? THEN 1 ELSE 0 END), 0)
		 FROM swap_requests
		 WHERE requested_by = ? OR item_owner = ?`,
		userID, userID, db.Time(now), userID, userID,
	).Scan(&c.Sent, &c.Received, &c.Completed, &c.Pending)
	if err != nil {
		return nil, fmt.Errorf("counting swap requests: %w", err)
	}
	return c, nil
}

// CountAllSwaps returns platform-wide request counts by stored status.
func CountAllSwaps(ctx context.Context, q Querier) (map[string]int, error) {
	rows, err := q.QueryContext(ctx, `SELECT status, COUNT(*) FROM swap_requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting swap requests: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning swap count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
