package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/erazemk/rewear/internal/model"
	"github.com/erazemk/rewear/internal/store"
)

// DefaultApprovalPoints is awarded to an uploader when their item is approved.
const DefaultApprovalPoints = 10

// AdminHandler handles moderation and dashboard endpoints.
type AdminHandler struct {
	DB *sql.DB
	// ApprovalPoints is credited to the uploader of an approved item.
	ApprovalPoints int
}

type bulkRequest struct {
	ItemIDs []int64 `json:"itemIds"`
}

type bulkResponse struct {
	Modified int     `json:"modifiedCount"`
	ItemIDs  []int64 `json:"itemIds"`
}

type statsResponse struct {
	Users int               `json:"users"`
	Items *store.ItemCounts `json:"items"`
	Swaps map[string]int    `json:"swaps"`
}

// Pending handles GET /api/admin/items/pending.
func (h *AdminHandler) Pending(w http.ResponseWriter, r *http.Request) {
	approved := false
	p := pageFromQuery(r)

	items, total, err := store.ListItems(r.Context(), h.DB, store.ItemFilter{
		Approved:     &approved,
		Availability: model.AvailabilityAvailable,
		Page:         p,
	})
	if err != nil {
		serverError(w, r, err)
		return
	}
	jsonData(w, http.StatusOK, "", itemsResponse{Items: items, Pagination: newPage(p, total)})
}

// approvalAward is the number of points credited per approved item.
func (h *AdminHandler) approvalAward() int {
	if h.ApprovalPoints <= 0 {
		return DefaultApprovalPoints
	}
	return h.ApprovalPoints
}

// approve marks a pending item approved and credits its uploader through the
// ledger. It reports false when the item was already approved. q must be a
// transaction.
func approve(ctx context.Context, q store.Querier, it *model.Item, award int, at time.Time) (bool, error) {
	ok, err := store.ApproveItem(ctx, q, it.ID)
	if err != nil || !ok {
		return false, err
	}
	if _, err := store.AwardPoints(ctx, q, it.UploaderID, award, "Item approved", &it.ID, at); err != nil {
		return false, err
	}
	return true, nil
}

// Approve handles PATCH /api/admin/items/{id}/approve. The uploader is
// credited through the ledger in the same transaction, once per item.
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid item ID")
		return
	}
	award := h.approvalAward()

	var it *model.Item
	var approved bool
	err = store.WithTx(r.Context(), h.DB, func(tx *sql.Tx) error {
		var err error
		it, err = store.GetItem(r.Context(), tx, id)
		if err != nil || it == nil {
			return err
		}
		approved, err = approve(r.Context(), tx, it, award, time.Now().UTC())
		return err
	})
	if err != nil {
		serverError(w, r, err)
		return
	}
	if it == nil {
		jsonError(w, http.StatusNotFound, "Item not found")
		return
	}
	if !approved {
		jsonError(w, http.StatusBadRequest, "Item is already approved")
		return
	}

	updated, err := store.GetItem(r.Context(), h.DB, id)
	if err != nil {
		serverError(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().Int64("item_id", id).Int64("uploader_id", it.UploaderID).
		Int("points", award).Msg("item approved")
	jsonData(w, http.StatusOK, "Item approved", updated)
}

// Reject handles PATCH /api/admin/items/{id}/reject.
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid item ID")
		return
	}

	it, err := store.GetItem(r.Context(), h.DB, id)
	if err != nil {
		serverError(w, r, err)
		return
	}
	if it == nil {
		jsonError(w, http.StatusNotFound, "Item not found")
		return
	}
	if it.Availability == model.AvailabilitySwapped {
		jsonError(w, http.StatusBadRequest, "Swapped items cannot be rejected")
		return
	}

	if err := store.RejectItem(r.Context(), h.DB, id); err != nil {
		serverError(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Int64("item_id", id).Msg("item rejected")
	jsonData(w, http.StatusOK, "Item rejected", nil)
}

// Stats handles GET /api/admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	users, err := store.CountUsers(r.Context(), h.DB)
	if err != nil {
		serverError(w, r, err)
		return
	}
	items, err := store.CountItems(r.Context(), h.DB)
	if err != nil {
		serverError(w, r, err)
		return
	}
	swaps, err := store.CountAllSwaps(r.Context(), h.DB)
	if err != nil {
		serverError(w, r, err)
		return
	}
	jsonData(w, http.StatusOK, "", statsResponse{Users: users, Items: items, Swaps: swaps})
}

// AllItems handles GET /api/admin/items?approved=&availability=&category=&q=.
// Unlike the public listing it includes pending, hidden and swapped items.
func (h *AdminHandler) AllItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ItemFilter{
		Category:     q.Get("category"),
		Availability: q.Get("availability"),
		Search:       q.Get("q"),
		Page:         pageFromQuery(r),
	}
	if f.Availability != "" && !model.ValidAvailability(f.Availability) {
		jsonError(w, http.StatusBadRequest, "Invalid availability")
		return
	}
	if v := q.Get("approved"); v != "" {
		approved, err := strconv.ParseBool(v)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "approved must be true or false")
			return
		}
		f.Approved = &approved
	}

	items, total, err := store.ListItems(r.Context(), h.DB, f)
	if err != nil {
		serverError(w, r, err)
		return
	}
	jsonData(w, http.StatusOK, "", itemsResponse{Items: items, Pagination: newPage(f.Page, total)})
}

// decodeBulk reads the item ID list of a bulk moderation request, writing a
// 400 when it is empty or too long.
func decodeBulk(w http.ResponseWriter, r *http.Request) ([]int64, bool) {
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	if len(req.ItemIDs) == 0 {
		jsonError(w, http.StatusBadRequest, "Please provide an array of item IDs")
		return nil, false
	}
	if len(req.ItemIDs) > store.MaxPageSize {
		jsonError(w, http.StatusBadRequest, fmt.Sprintf("At most %d items can be moderated at once", store.MaxPageSize))
		return nil, false
	}
	return req.ItemIDs, true
}

// BulkApprove handles PATCH /api/admin/items/bulk-approve. Every pending item
// in the list is approved and its uploader credited, all in one transaction.
// Missing and already approved items are skipped.
func (h *AdminHandler) BulkApprove(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeBulk(w, r)
	if !ok {
		return
	}
	award := h.approvalAward()
	now := time.Now().UTC()

	approved := []int64{}
	err := store.WithTx(r.Context(), h.DB, func(tx *sql.Tx) error {
		for _, id := range ids {
			it, err := store.GetItem(r.Context(), tx, id)
			if err != nil {
				return err
			}
			if it == nil {
				continue
			}
			ok, err := approve(r.Context(), tx, it, award, now)
			if err != nil {
				return err
			}
			if ok {
				approved = append(approved, id)
			}
		}
		return nil
	})
	if err != nil {
		serverError(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Ints64("item_ids", approved).Int("points", award).Msg("items approved")
	jsonData(w, http.StatusOK, fmt.Sprintf("%d items approved successfully", len(approved)),
		bulkResponse{Modified: len(approved), ItemIDs: approved})
}

// BulkReject handles PATCH /api/admin/items/bulk-reject. Only items still
// awaiting moderation are rejected.
func (h *AdminHandler) BulkReject(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeBulk(w, r)
	if !ok {
		return
	}

	rejected := []int64{}
	err := store.WithTx(r.Context(), h.DB, func(tx *sql.Tx) error {
		for _, id := range ids {
			ok, err := store.RejectPendingItem(r.Context(), tx, id)
			if err != nil {
				return err
			}
			if ok {
				rejected = append(rejected, id)
			}
		}
		return nil
	})
	if err != nil {
		serverError(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Ints64("item_ids", rejected).Msg("items rejected")
	jsonData(w, http.StatusOK, fmt.Sprintf("%d items rejected successfully", len(rejected)),
		bulkResponse{Modified: len(rejected), ItemIDs: rejected})
}
