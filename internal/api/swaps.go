package api

import (
	"context"
	"net/http"

	"github.com/erazemk/rewear/internal/model"
	"github.com/erazemk/rewear/internal/swap"
)

// SwapsHandler exposes the swap request lifecycle.
type SwapsHandler struct {
	Swaps *swap.Service
}

type respondRequest struct {
	ResponseMessage string `json:"responseMessage"`
}

type completeRequest struct {
	CompletionNotes string `json:"completionNotes"`
}

type swapsResponse struct {
	Swaps      []model.SwapRequest `json:"swaps"`
	Pagination page                `json:"pagination"`
}

// swapID parses the {id} parameter, writing a 400 when it is malformed.
func swapID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid swap request ID")
		return 0, false
	}
	return id, true
}

// Create handles POST /api/swaps.
func (h *SwapsHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var in swap.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req, err := h.Swaps.Create(r.Context(), claims.UserID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonData(w, http.StatusCreated, "Swap request created successfully", req)
}

// List handles GET /api/swaps/user?type=&status=&page=&limit=.
func (h *SwapsHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	q := r.URL.Query()

	list, err := h.Swaps.ListForUser(r.Context(), claims.UserID, swap.Filter{
		Type:   q.Get("type"),
		Status: q.Get("status"),
		Page:   queryInt(r, "page"),
		Limit:  queryInt(r, "limit"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonData(w, http.StatusOK, "", swapsResponse{
		Swaps: list.Swaps,
		Pagination: page{
			Total: list.Total,
			Page:  list.Page,
			Pages: list.Pages,
			Limit: list.Limit,
		},
	})
}

// Stats handles GET /api/swaps/stats.
func (h *SwapsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Swaps.Stats(r.Context(), GetClaims(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonData(w, http.StatusOK, "", stats)
}

// Get handles GET /api/swaps/{id}.
func (h *SwapsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := swapID(w, r)
	if !ok {
		return
	}
	claims := GetClaims(r.Context())

	req, err := h.Swaps.Get(r.Context(), id, claims.UserID, claims.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonData(w, http.StatusOK, "", req)
}

// Accept handles PATCH /api/swaps/{id}/accept.
func (h *SwapsHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.Swaps.Accept, "Swap request accepted successfully")
}

// Decline handles PATCH /api/swaps/{id}/decline.
func (h *SwapsHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.Swaps.Decline, "Swap request declined successfully")
}

type respondFunc func(ctx context.Context, id, actorID int64, message string) (*model.SwapRequest, error)

func (h *SwapsHandler) respond(w http.ResponseWriter, r *http.Request, fn respondFunc, message string) {
	id, ok := swapID(w, r)
	if !ok {
		return
	}
	var body respondRequest
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req, err := fn(r.Context(), id, GetClaims(r.Context()).UserID, body.ResponseMessage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonData(w, http.StatusOK, message, req)
}

// Complete handles PATCH /api/swaps/{id}/complete.
func (h *SwapsHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := swapID(w, r)
	if !ok {
		return
	}
	var body completeRequest
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req, err := h.Swaps.Complete(r.Context(), id, GetClaims(r.Context()).UserID, body.CompletionNotes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonData(w, http.StatusOK, "Swap completed successfully", req)
}

// Cancel handles PATCH /api/swaps/{id}/cancel.
func (h *SwapsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := swapID(w, r)
	if !ok {
		return
	}

	req, err := h.Swaps.Cancel(r.Context(), id, GetClaims(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonData(w, http.StatusOK, "Swap request cancelled successfully", req)
}

// Meeting handles PATCH /api/swaps/{id}/meeting.
func (h *SwapsHandler) Meeting(w http.ResponseWriter, r *http.Request) {
	id, ok := swapID(w, r)
	if !ok {
		return
	}
	var body model.Meeting
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req, err := h.Swaps.UpdateMeeting(r.Context(), id, GetClaims(r.Context()).UserID, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonData(w, http.StatusOK, "Meeting details updated", req)
}
