package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/rewear/internal/auth"
	"github.com/erazemk/rewear/internal/model"
	"github.com/erazemk/rewear/internal/store"
)

// UsersHandler handles profile and user management endpoints.
type UsersHandler struct {
	DB *sql.DB
}

// profile is a user together with the level derived from their points.
type profile struct {
	*model.User
	Level string `json:"level"`
}

func newProfile(u *model.User) profile {
	return profile{User: u, Level: model.Level(u.Points)}
}

type updateProfileRequest struct {
	Name string `json:"name"`
}

type updateUserRequest struct {
	Role string `json:"role"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type resetPasswordRequest struct {
	TemporaryPassword string `json:"temporaryPassword"`
}

type resetPasswordResponse struct {
	UserID            int64  `json:"userId"`
	TemporaryPassword string `json:"temporaryPassword"`
}

type ledgerResponse struct {
	Entries        []model.LedgerEntry   `json:"entries"`
	Reconciliation *model.Reconciliation `json:"reconciliation"`
	Pagination     page                  `json:"pagination"`
}

type usersResponse struct {
	Users      []profile `json:"users"`
	Pagination page      `json:"pagination"`
}

// Me handles GET /api/users/me.
func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	user, err := store.GetUser(r.Context(), h.DB, claims.UserID)
	if err != nil {
		serverError(w, r, err)
		return
	}
	if user == nil {
		jsonError(w, http.StatusNotFound, "User not found")
		return
	}
	jsonData(w, http.StatusOK, "", newProfile(user))
}

// UpdateMe handles PUT /api/users/me.
func (h *UsersHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !validName(req.Name) {
		jsonError(w, http.StatusBadRequest, "Name must be between 2 and 50 characters")
		return
	}

	if err := store.UpdateUserProfile(r.Context(), h.DB, claims.UserID, req.Name); err != nil {
		serverError(w, r, err)
		return
	}
	h.Me(w, r)
}

// Ledger handles GET /api/users/me/ledger. The response carries a
// reconciliation of the cached balance against the ledger.
func (h *UsersHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	p := pageFromQuery(r)

	entries, total, err := store.ListLedger(r.Context(), h.DB, claims.UserID, p)
	if err != nil {
		serverError(w, r, err)
		return
	}
	rec, err := store.ReconcileBalance(r.Context(), h.DB, claims.UserID, false)
	if err != nil {
		serverError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	if !rec.InSync {
		hlog.FromRequest(r).Warn().Int64("user_id", claims.UserID).
			Int("cached", rec.Cached).Int("ledger", rec.Ledger).Msg("points balance out of sync")
	}

	jsonData(w, http.StatusOK, "", ledgerResponse{
		Entries:        entries,
		Reconciliation: rec,
		Pagination:     newPage(p, total),
	})
}

// List handles GET /api/users.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	p := pageFromQuery(r)
	users, total, err := store.ListUsers(r.Context(), h.DB, p)
	if err != nil {
		serverError(w, r, err)
		return
	}
	profiles := make([]profile, len(users))
	for i := range users {
		profiles[i] = newProfile(&users[i])
	}
	jsonData(w, http.StatusOK, "", usersResponse{Users: profiles, Pagination: newPage(p, total)})
}

// Get handles GET /api/users/{id}.
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	user, err := store.GetUser(r.Context(), h.DB, id)
	if err != nil {
		serverError(w, r, err)
		return
	}
	if user == nil {
		jsonError(w, http.StatusNotFound, "User not found")
		return
	}
	jsonData(w, http.StatusOK, "", newProfile(user))
}

// target loads the user named by the {id} parameter for an admin action. The
// caller cannot target themselves.
func (h *UsersHandler) target(w http.ResponseWriter, r *http.Request) *model.User {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid user ID")
		return nil
	}
	if GetClaims(r.Context()).UserID == id {
		jsonError(w, http.StatusBadRequest, "You cannot change your own account")
		return nil
	}

	user, err := store.GetUser(r.Context(), h.DB, id)
	if err != nil {
		serverError(w, r, err)
		return nil
	}
	if user == nil || user.DeletedAt != nil {
		jsonError(w, http.StatusNotFound, "User not found")
		return nil
	}
	return user
}

// Update handles PUT /api/users/{id}.
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !model.ValidRole(req.Role) {
		jsonError(w, http.StatusBadRequest, "Invalid role")
		return
	}

	user := h.target(w, r)
	if user == nil {
		return
	}
	if err := store.UpdateUserRole(r.Context(), h.DB, user.ID, req.Role); err != nil {
		serverError(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Int64("target_id", user.ID).Str("role", req.Role).Msg("user role changed")
	h.Get(w, r)
}

// UpdateStatus handles PUT /api/users/{id}/status.
func (h *UsersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Status != model.UserStatusActive && req.Status != model.UserStatusSuspended {
		jsonError(w, http.StatusBadRequest, "Status must be active or suspended")
		return
	}

	user := h.target(w, r)
	if user == nil {
		return
	}
	if err := store.UpdateUserStatus(r.Context(), h.DB, user.ID, req.Status); err != nil {
		serverError(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Int64("target_id", user.ID).Str("status", req.Status).Msg("user status changed")
	h.Get(w, r)
}

// Delete handles DELETE /api/users/{id}.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := h.target(w, r)
	if user == nil {
		return
	}
	if err := store.DeleteUser(r.Context(), h.DB, user.ID); err != nil {
		serverError(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Int64("target_id", user.ID).Msg("user deleted")
	w.WriteHeader(http.StatusNoContent)
}

// Reconcile handles POST /api/users/{id}/reconcile. With ?fix=true the cached
// balance is rewritten from the ledger.
func (h *UsersHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	fix := r.URL.Query().Get("fix") == "true"

	var rec *model.Reconciliation
	err = store.WithTx(r.Context(), h.DB, func(tx *sql.Tx) error {
		user, err := store.GetUser(r.Context(), tx, id)
		if err != nil || user == nil {
			return err
		}
		rec, err = store.ReconcileBalance(r.Context(), tx, id, fix)
		return err
	})
	if err != nil {
		serverError(w, r, err)
		return
	}
	if rec == nil {
		jsonError(w, http.StatusNotFound, "User not found")
		return
	}

	if fix && !rec.InSync {
		hlog.FromRequest(r).Warn().Int64("target_id", id).
			Int("cached", rec.Cached).Int("ledger", rec.Ledger).Msg("points balance repaired")
	}
	jsonData(w, http.StatusOK, "", rec)
}

// Stats handles GET /api/admin/users/stats. Registrations cover the last
// twelve months.
func (h *UsersHandler) Stats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().AddDate(-1, 0, 0)
	stats, err := store.GetUserStats(r.Context(), h.DB, since, 10)
	if err != nil {
		serverError(w, r, err)
		return
	}
	jsonData(w, http.StatusOK, "", stats)
}

// ResetPassword handles PATCH /api/admin/users/{id}/reset-password. A random
// temporary password is generated unless one is given, and returned once.
func (h *UsersHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	password := req.TemporaryPassword
	if password != "" {
		if err := model.ValidatePassword(password); err != nil {
			jsonError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	user := h.target(w, r)
	if user == nil {
		return
	}

	if password == "" {
		var err error
		if password, err = auth.GeneratePassword(12); err != nil {
			serverError(w, r, err)
			return
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		serverError(w, r, err)
		return
	}
	if err := store.UpdateUserPassword(r.Context(), h.DB, user.ID, string(hash)); err != nil {
		serverError(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Int64("target_id", user.ID).Msg("password reset")
	jsonData(w, http.StatusOK, "Password reset successfully",
		resetPasswordResponse{UserID: user.ID, TemporaryPassword: password})
}
