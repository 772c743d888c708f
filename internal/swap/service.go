// Package swap implements the swap request lifecycle: creation, the owner's
// response, completion with its points and availability effects, cancellation
// and expiry.
package swap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/erazemk/rewear/internal/events"
	"github.com/erazemk/rewear/internal/model"
	"github.com/erazemk/rewear/internal/store"
)

// Default response and completion messages.
const (
	AcceptedMessage        = "Swap request accepted"
	DeclinedMessage        = "Swap request declined"
	PointsCompletedMessage = "Points transaction completed"
	SwapCompletedMessage   = "Item swap completed"
)

// Service runs swap request operations against the database.
type Service struct {
	DB     *sql.DB
	Events events.Publisher
	Log    zerolog.Logger
	// Now returns the current time. Tests replace it to cross expiry.
	Now func() time.Time
	// Expiry is how long a request stays pending.
	Expiry time.Duration
}

// NewService returns a service with the default expiry and the wall clock.
func NewService(db *sql.DB, pub events.Publisher, log zerolog.Logger) *Service {
	if pub == nil {
		pub = events.LogPublisher{Log: log}
	}
	return &Service{
		DB:     db,
		Events: pub,
		Log:    log,
		Now:    func() time.Time { return time.Now().UTC() },
		Expiry: model.DefaultSwapExpiry,
	}
}

// CreateInput is a new swap request as submitted by the requester.
type CreateInput struct {
	ItemID        int64         `json:"itemId"`
	Mode          string        `json:"mode"`
	Message       string        `json:"message"`
	OfferedItemID *int64        `json:"offeredItemId"`
	PointsOffered int           `json:"pointsOffered"`
	Meeting       model.Meeting `json:"meeting"`
}

func (in *CreateInput) validate() error {
	switch {
	case in.ItemID == 0:
		return fail(ErrValidation, "Item is required")
	case !model.ValidMode(in.Mode):
		return fail(ErrValidation, "Mode must be swap or points")
	case len(in.Message) > model.MaxMessageLength:
		return fail(ErrValidation, fmt.Sprintf("Message cannot be more than %d characters", model.MaxMessageLength))
	case in.Mode == model.ModeSwap && in.OfferedItemID == nil:
		return fail(ErrValidation, "Offered item is required for swap mode")
	case in.Mode == model.ModePoints && in.PointsOffered <= 0:
		return fail(ErrValidation, "Points offered must be positive")
	}
	if in.Mode == model.ModePoints {
		in.OfferedItemID = nil
	} else {
		in.PointsOffered = 0
	}
	return nil
}

// now is truncated to the precision timestamps are stored with, so expiry
// checks in Go and in SQL agree.
func (s *Service) now() time.Time {
	clock := time.Now
	if s.Now != nil {
		clock = s.Now
	}
	return clock().UTC().Truncate(time.Millisecond)
}

// activeUser loads a user that may take part in swaps.
func activeUser(ctx context.Context, q store.Querier, id int64) (*model.User, error) {
	u, err := store.GetUser(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.Active() {
		return nil, fail(ErrForbidden, "Account is not active")
	}
	return u, nil
}

func availableForSwap(it *model.Item) bool {
	return it.Approved && it.Availability == model.AvailabilityAvailable
}

// Create opens a new pending request from requesterID.
func (s *Service) Create(ctx context.Context, requesterID int64, in CreateInput) (*model.SwapRequest, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.now()

	var created *model.SwapRequest
	err := store.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		requester, err := activeUser(ctx, tx, requesterID)
		if err != nil {
			return err
		}

		item, err := store.GetItem(ctx, tx, in.ItemID)
		if err != nil {
			return err
		}
		if item == nil {
			return fail(ErrNotFound, "Item not found")
		}
		if item.UploaderID == requesterID {
			return fail(ErrForbidden, "You cannot request your own item")
		}
		if !availableForSwap(item) {
			return fail(ErrConflict, "Item is not available for swap")
		}

		if _, err := store.ExpireSwaps(ctx, tx, now, item.ID, requesterID); err != nil {
			return err
		}
		existing, err := store.FindPendingSwap(ctx, tx, item.ID, requesterID, now)
		if err != nil {
			return err
		}
		if existing != nil {
			return fail(ErrConflict, "You already have a pending request for this item")
		}

		switch in.Mode {
		case model.ModeSwap:
			offered, err := store.GetItem(ctx, tx, *in.OfferedItemID)
			if err != nil {
				return err
			}
			if offered == nil {
				return fail(ErrNotFound, "Offered item not found")
			}
			if offered.UploaderID != requesterID {
				return fail(ErrForbidden, "You can only offer your own items")
			}
			if !availableForSwap(offered) {
				return fail(ErrConflict, "Offered item is not available")
			}
		case model.ModePoints:
			if requester.Points < in.PointsOffered {
				return fail(ErrConflict, "Insufficient points")
			}
		}

		created, err = store.CreateSwapRequest(ctx, tx, &model.SwapRequest{
			ItemID:        item.ID,
			RequestedBy:   requesterID,
			ItemOwner:     item.UploaderID,
			Mode:          in.Mode,
			Message:       in.Message,
			OfferedItemID: in.OfferedItemID,
			PointsOffered: in.PointsOffered,
			Meeting:       in.Meeting,
			ExpiresAt:     now.Add(s.expiry()),
			CreatedAt:     now,
		})
		if errors.Is(err, store.ErrDuplicatePending) {
			return fail(ErrConflict, "You already have a pending request for this item")
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info().Int64("swap_id", created.ID).Int64("item_id", created.ItemID).
		Int64("requester_id", requesterID).Str("mode", created.Mode).Msg("swap request created")
	s.publish(ctx, events.SwapCreated, created, requesterID)
	return created, nil
}

func (s *Service) expiry() time.Duration {
	if s.Expiry <= 0 {
		return model.DefaultSwapExpiry
	}
	return s.Expiry
}

// Accept moves a pending request to accepted on behalf of the item owner.
func (s *Service) Accept(ctx context.Context, id, actorID int64, message string) (*model.SwapRequest, error) {
	if message == "" {
		message = AcceptedMessage
	}
	return s.respond(ctx, id, actorID, model.SwapAccepted, message)
}

// Decline moves a pending request to declined on behalf of the item owner.
func (s *Service) Decline(ctx context.Context, id, actorID int64, message string) (*model.SwapRequest, error) {
	if message == "" {
		message = DeclinedMessage
	}
	return s.respond(ctx, id, actorID, model.SwapDeclined, message)
}

func (s *Service) respond(ctx context.Context, id, actorID int64, status, message string) (*model.SwapRequest, error) {
	if len(message) > model.MaxMessageLength {
		return nil, fail(ErrValidation, fmt.Sprintf("Response message cannot be more than %d characters", model.MaxMessageLength))
	}
	now := s.now()

	var expired bool
	var req *model.SwapRequest
	err := store.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		var err error
		req, err = store.GetSwapRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if req == nil {
			return fail(ErrNotFound, "Swap request not found")
		}
		if req.ItemOwner != actorID {
			return fail(ErrForbidden, "Only the item owner can respond to this request")
		}
		if _, err := activeUser(ctx, tx, actorID); err != nil {
			return err
		}

		if req.Expired(now) {
			// Persisted before failing so the expiry sticks.
			expired = true
			_, err := store.ExpireSwaps(ctx, tx, now, req.ItemID, req.RequestedBy)
			return err
		}
		if req.Status != model.SwapPending {
			return fail(ErrInvalidState, "This request has already been responded to")
		}

		ok, err := store.RespondSwap(ctx, tx, id, status, message, now)
		if err != nil {
			return err
		}
		if !ok {
			return fail(ErrInvalidState, "This request has already been responded to")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if expired {
		req.ApplyExpiry(now)
		s.publish(ctx, events.SwapExpired, req, 0)
		return nil, fail(ErrInvalidState, "This request has expired")
	}

	updated, err := store.GetSwapRequest(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	typ := events.SwapAccepted
	if status == model.SwapDeclined {
		typ = events.SwapDeclined
	}
	s.Log.Info().Int64("swap_id", id).Int64("owner_id", actorID).Str("status", status).Msg("swap request answered")
	s.publish(ctx, typ, updated, actorID)
	return updated, nil
}

// Complete finishes an accepted request. Points move from the requester to
// the owner in points mode and every item involved is marked swapped, all in
// one transaction.
func (s *Service) Complete(ctx context.Context, id, actorID int64, notes string) (*model.SwapRequest, error) {
	if len(notes) > model.MaxMessageLength {
		return nil, fail(ErrValidation, fmt.Sprintf("Completion notes cannot be more than %d characters", model.MaxMessageLength))
	}
	now := s.now()

	err := store.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		req, err := store.GetSwapRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if req == nil {
			return fail(ErrNotFound, "Swap request not found")
		}
		if !req.IsParty(actorID) {
			return fail(ErrForbidden, "Only the parties of this request can complete it")
		}
		if _, err := activeUser(ctx, tx, actorID); err != nil {
			return err
		}
		if req.Status != model.SwapAccepted {
			return fail(ErrInvalidState, "Only accepted requests can be completed")
		}

		points := 0
		if req.Mode == model.ModePoints {
			points = req.PointsOffered
		}
		if notes == "" {
			notes = SwapCompletedMessage
			if points > 0 {
				notes = PointsCompletedMessage
			}
		}

		ok, err := store.CompleteSwap(ctx, tx, id, points, notes, now)
		if err != nil {
			return err
		}
		if !ok {
			return fail(ErrInvalidState, "Only accepted requests can be completed")
		}

		if points > 0 {
			err := store.TransferPoints(ctx, tx, req.RequestedBy, req.ItemOwner, points, id, now)
			if errors.Is(err, store.ErrInsufficientPoints) {
				return fail(ErrConflict, "Requester no longer has enough points")
			}
			if err != nil {
				return err
			}
		}

		if err := markSwapped(ctx, tx, req.ItemID, now); err != nil {
			return err
		}
		if req.Mode == model.ModeSwap && req.OfferedItemID != nil {
			if err := markSwapped(ctx, tx, *req.OfferedItemID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	completed, err := store.GetSwapRequest(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	s.Log.Info().Int64("swap_id", id).Int64("actor_id", actorID).
		Int("points", completed.Transaction.PointsTransferred).Msg("swap request completed")
	s.publish(ctx, events.SwapCompleted, completed, actorID)
	return completed, nil
}

func markSwapped(ctx context.Context, q store.Querier, itemID int64, now time.Time) error {
	err := store.MarkItemSwapped(ctx, q, itemID, now)
	if errors.Is(err, store.ErrItemUnavailable) {
		return fail(ErrConflict, "Item is no longer available")
	}
	return err
}

// Cancel withdraws a pending or accepted request on behalf of the requester.
// Nothing has moved before completion, so there is nothing to reverse.
func (s *Service) Cancel(ctx context.Context, id, actorID int64) (*model.SwapRequest, error) {
	now := s.now()

	var expired bool
	var req *model.SwapRequest
	err := store.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		var err error
		req, err = store.GetSwapRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if req == nil {
			return fail(ErrNotFound, "Swap request not found")
		}
		if req.RequestedBy != actorID {
			return fail(ErrForbidden, "Only the requester can cancel this request")
		}
		if req.Expired(now) {
			expired = true
			_, err := store.ExpireSwaps(ctx, tx, now, req.ItemID, req.RequestedBy)
			return err
		}
		if !req.CanCancel(actorID) {
			return fail(ErrInvalidState, "Only pending or accepted requests can be cancelled")
		}

		ok, err := store.CancelSwap(ctx, tx, id, now)
		if err != nil {
			return err
		}
		if !ok {
			return fail(ErrInvalidState, "Only pending or accepted requests can be cancelled")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if expired {
		req.ApplyExpiry(now)
		s.publish(ctx, events.SwapExpired, req, 0)
		return nil, fail(ErrInvalidState, "This request has expired")
	}

	cancelled, err := store.GetSwapRequest(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	s.Log.Info().Int64("swap_id", id).Int64("requester_id", actorID).Msg("swap request cancelled")
	s.publish(ctx, events.SwapCancelled, cancelled, actorID)
	return cancelled, nil
}

// UpdateMeeting replaces the hand-over arrangement of an open request. Either
// party may set it.
func (s *Service) UpdateMeeting(ctx context.Context, id, actorID int64, m model.Meeting) (*model.SwapRequest, error) {
	if len(m.Location) > model.MaxMessageLength || len(m.Notes) > model.MaxMessageLength {
		return nil, fail(ErrValidation, fmt.Sprintf("Meeting details cannot be more than %d characters", model.MaxMessageLength))
	}
	now := s.now()

	err := store.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		req, err := store.GetSwapRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if req == nil {
			return fail(ErrNotFound, "Swap request not found")
		}
		if !req.IsParty(actorID) {
			return fail(ErrForbidden, "You are not a party to this request")
		}
		if req.Expired(now) {
			return fail(ErrInvalidState, "This request has expired")
		}
		ok, err := store.UpdateSwapMeeting(ctx, tx, id, m, now)
		if err != nil {
			return err
		}
		if !ok {
			return fail(ErrInvalidState, "Meetings can only be arranged for open requests")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return store.GetSwapRequest(ctx, s.DB, id)
}

// Get returns a request as seen by actorID. Only the parties and admins may
// view it. The status reported is the effective one.
func (s *Service) Get(ctx context.Context, id, actorID int64, role string) (*model.SwapRequest, error) {
	req, err := store.GetSwapRequest(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fail(ErrNotFound, "Swap request not found")
	}
	if !req.IsParty(actorID) && !model.RoleAtLeast(role, model.RoleAdmin) {
		return nil, fail(ErrForbidden, "You are not a party to this request")
	}
	req.ApplyExpiry(s.now())
	return req, nil
}

// Filter selects a user's requests.
type Filter struct {
	// Type is sent, received or all (the default).
	Type   string
	Status string
	Page   int
	Limit  int
}

// List is one page of requests.
type List struct {
	Swaps []model.SwapRequest `json:"swaps"`
	Total int                 `json:"total"`
	Page  int                 `json:"page"`
	Pages int                 `json:"pages"`
	Limit int                 `json:"limit"`
}

// ListForUser returns a page of requests involving userID, newest first.
func (s *Service) ListForUser(ctx context.Context, userID int64, f Filter) (*List, error) {
	switch f.Type {
	case "", "all", store.SwapsSent, store.SwapsReceived:
	default:
		return nil, fail(ErrValidation, "Type must be sent, received or all")
	}
	if f.Status != "" && !model.ValidSwapStatus(f.Status) {
		return nil, fail(ErrValidation, "Unknown status")
	}

	now := s.now()
	page := store.NewPage(f.Page, f.Limit)
	swaps, total, err := store.ListSwapRequests(ctx, s.DB, store.SwapFilter{
		UserID: userID,
		Type:   f.Type,
		Status: f.Status,
		Now:    now,
		Page:   page,
	})
	if err != nil {
		return nil, err
	}
	for i := range swaps {
		swaps[i].ApplyExpiry(now)
	}

	return &List{
		Swaps: swaps,
		Total: total,
		Page:  page.Number,
		Pages: page.Pages(total),
		Limit: page.Limit,
	}, nil
}

// recentSwaps is how many requests Stats includes.
const recentSwaps = 5

// Stats summarizes a user's swap activity.
func (s *Service) Stats(ctx context.Context, userID int64) (*model.SwapStats, error) {
	now := s.now()
	counts, err := store.CountSwaps(ctx, s.DB, userID, now)
	if err != nil {
		return nil, err
	}
	earned, spent, err := store.PointsTotals(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	recent, err := s.ListForUser(ctx, userID, Filter{Page: 1, Limit: recentSwaps})
	if err != nil {
		return nil, err
	}

	return &model.SwapStats{
		SentRequests:     counts.Sent,
		ReceivedRequests: counts.Received,
		CompletedSwaps:   counts.Completed,
		PendingRequests:  counts.Pending,
		PointsEarned:     earned,
		PointsSpent:      spent,
		RecentSwaps:      recent.Swaps,
	}, nil
}

// SweepExpired persists the auto-decline of every expired pending request and
// returns how many were swept.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := store.ExpireSwaps(ctx, s.DB, now, 0, 0)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		e := events.New(events.SwapExpired, id, model.SwapDeclined, now)
		if err := s.Events.Publish(ctx, e); err != nil {
			s.Log.Warn().Err(err).Int64("swap_id", id).Msg("publishing swap event")
		}
	}
	return len(ids), nil
}

func (s *Service) publish(ctx context.Context, typ string, req *model.SwapRequest, actorID int64) {
	if s.Events == nil {
		return
	}
	e := events.New(typ, req.ID, req.Status, s.now())
	e.ItemID = req.ItemID
	e.ActorID = actorID
	e.Points = req.Transaction.PointsTransferred
	if err := s.Events.Publish(ctx, e); err != nil {
		s.Log.Warn().Err(err).Str("event", typ).Int64("swap_id", req.ID).Msg("publishing swap event")
	}
}
