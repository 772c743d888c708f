package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/erazemk/rewear/internal/imaging"
	"github.com/erazemk/rewear/internal/media"
	"github.com/erazemk/rewear/internal/model"
	"github.com/erazemk/rewear/internal/store"
)

// DefaultMaxUploadBytes bounds image uploads when no limit is configured.
const DefaultMaxUploadBytes = 10 << 20

// ItemsHandler handles item listing and management endpoints.
type ItemsHandler struct {
	DB        *sql.DB
	Images    media.Store
	Processor *imaging.Processor
	// MaxUploadBytes bounds the multipart body of an image upload.
	MaxUploadBytes int64
}

type itemRequest struct {
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Category     string        `json:"category"`
	Type         string        `json:"type"`
	Size         string        `json:"size"`
	Condition    string        `json:"condition"`
	Brand        string        `json:"brand"`
	Tags         []string      `json:"tags"`
	Points       int           `json:"points"`
	Images       []model.Image `json:"images"`
	Availability string        `json:"availability"`
}

type itemsResponse struct {
	Items      []model.Item `json:"items"`
	Pagination page         `json:"pagination"`
}

type likeResponse struct {
	Liked     bool `json:"liked"`
	LikeCount int  `json:"likeCount"`
}

// List handles GET /api/items. Only approved, available items are listed.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	approved := true
	p := pageFromQuery(r)

	items, total, err := store.ListItems(r.Context(), h.DB, store.ItemFilter{
		Category:     q.Get("category"),
		Size:         q.Get("size"),
		Condition:    q.Get("condition"),
		Search:       q.Get("q"),
		Availability: model.AvailabilityAvailable,
		Approved:     &approved,
		Page:         p,
	})
	if err != nil {
		serverError(w, r, err)
		return
	}
	jsonData(w, http.StatusOK, "", itemsResponse{Items: items, Pagination: newPage(p, total)})
}

// Mine handles GET /api/items/mine.
func (h *ItemsHandler) Mine(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	availability := r.URL.Query().Get("availability")

	items, err := store.ListItemsByOwner(r.Context(), h.DB, claims.UserID, availability)
	if err != nil {
		serverError(w, r, err)
		return
	}
	jsonData(w, http.StatusOK, "", items)
}

// recentWindow is how far back the dashboard counts recently listed items.
const recentWindow = 30 * 24 * time.Hour

type dashboardResponse struct {
	*store.ItemDashboard
	UserPoints int `json:"userPoints"`
}

// Dashboard handles GET /api/items/dashboard/stats.
func (h *ItemsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
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

	d, err := store.GetItemDashboard(r.Context(), h.DB, user.ID, time.Now().UTC().Add(-recentWindow))
	if err != nil {
		serverError(w, r, err)
		return
	}
	jsonData(w, http.StatusOK, "", dashboardResponse{ItemDashboard: d, UserPoints: user.Points})
}

// Create handles POST /api/items. Items listed by admins skip moderation.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := store.GetUser(r.Context(), h.DB, claims.UserID)
	if err != nil {
		serverError(w, r, err)
		return
	}
	if user == nil || !user.Active() {
		jsonError(w, http.StatusForbidden, "Account is not active")
		return
	}

	it := &model.Item{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Type:        req.Type,
		Size:        req.Size,
		Condition:   req.Condition,
		Brand:       req.Brand,
		Tags:        req.Tags,
		Points:      req.Points,
		Images:      req.Images,
		UploaderID:  user.ID,
		Approved:    model.RoleAtLeast(user.Role, model.RoleAdmin),
	}
	if err := it.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	var created *model.Item
	err = store.WithTx(r.Context(), h.DB, func(tx *sql.Tx) error {
		var err error
		created, err = store.CreateItem(r.Context(), tx, it)
		return err
	})
	if err != nil {
		serverError(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Int64("item_id", created.ID).Bool("approved", created.Approved).Msg("item created")
	message := "Item submitted for approval"
	if created.Approved {
		message = "Item created"
	}
	jsonData(w, http.StatusCreated, message, created)
}

// Get handles GET /api/items/{id}. Unapproved and hidden items are only
// visible to their uploader and admins. Views by others are counted.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	it := h.load(w, r)
	if it == nil {
		return
	}

	claims := GetClaims(r.Context())
	privileged := claims != nil && (claims.UserID == it.UploaderID || model.RoleAtLeast(claims.Role, model.RoleAdmin))
	if !privileged && (!it.Approved || it.Availability == model.AvailabilityHidden) {
		jsonError(w, http.StatusNotFound, "Item not found")
		return
	}

	if claims == nil || claims.UserID != it.UploaderID {
		if err := store.IncrementItemViews(r.Context(), h.DB, it.ID); err != nil {
			serverError(w, r, err)
			return
		}
		it.Views++
	}
	jsonData(w, http.StatusOK, "", it)
}

// Update handles PUT /api/items/{id}.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	it := h.loadOwned(w, r)
	if it == nil {
		return
	}

	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	it.Title = req.Title
	it.Description = req.Description
	it.Category = req.Category
	it.Type = req.Type
	it.Size = req.Size
	it.Condition = req.Condition
	it.Brand = req.Brand
	it.Tags = req.Tags
	it.Points = req.Points
	switch req.Availability {
	case "":
	case model.AvailabilityAvailable, model.AvailabilityHidden:
		it.Availability = req.Availability
	default:
		jsonError(w, http.StatusBadRequest, "Availability must be available or hidden")
		return
	}
	if err := it.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := store.UpdateItem(r.Context(), h.DB, it)
	if errors.Is(err, store.ErrItemUnavailable) {
		jsonError(w, http.StatusBadRequest, "Swapped items cannot be edited")
		return
	}
	if err != nil {
		serverError(w, r, err)
		return
	}

	updated, err := store.GetItem(r.Context(), h.DB, it.ID)
	if err != nil {
		serverError(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().Int64("item_id", it.ID).Msg("item updated")
	jsonData(w, http.StatusOK, "Item updated", updated)
}

// Delete handles DELETE /api/items/{id}.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	it := h.loadOwned(w, r)
	if it == nil {
		return
	}

	err := store.WithTx(r.Context(), h.DB, func(tx *sql.Tx) error {
		return store.DeleteItem(r.Context(), tx, it.ID)
	})
	if err != nil {
		serverError(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Int64("item_id", it.ID).Msg("item removed")
	jsonData(w, http.StatusOK, "Item removed", nil)
}

// UploadImage handles POST /api/items/{id}/images. The upload is re-encoded
// as JPEG before it is stored. Form fields: image, alt, primary.
func (h *ItemsHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	it := h.loadOwned(w, r)
	if it == nil {
		return
	}

	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		jsonError(w, http.StatusBadRequest, "File too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "Image file required")
		return
	}
	defer file.Close()

	processor := h.Processor
	if processor == nil {
		processor = imaging.NewProcessor()
	}
	processed, err := processor.Process(file)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	url, err := h.Images.Put(r.Context(), media.NewKey(it.ID), processed.Data, processed.MIME)
	if err != nil {
		serverError(w, r, err)
		return
	}

	primary, _ := strconv.ParseBool(r.FormValue("primary"))
	var img *model.Image
	err = store.WithTx(r.Context(), h.DB, func(tx *sql.Tx) error {
		var err error
		img, err = store.AddItemImage(r.Context(), tx, it.ID, model.Image{
			URL:       url,
			Alt:       r.FormValue("alt"),
			IsPrimary: primary,
		})
		return err
	})
	if err != nil {
		serverError(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Int64("item_id", it.ID).Str("url", url).
		Int("width", processed.Width).Int("height", processed.Height).Msg("item image uploaded")
	jsonData(w, http.StatusCreated, "Image uploaded", img)
}

// SetPrimaryImage handles PUT /api/items/{id}/images/{imageID}/primary.
func (h *ItemsHandler) SetPrimaryImage(w http.ResponseWriter, r *http.Request) {
	it := h.loadOwned(w, r)
	if it == nil {
		return
	}
	imageID, err := pathID(r, "imageID")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid image ID")
		return
	}

	var ok bool
	err = store.WithTx(r.Context(), h.DB, func(tx *sql.Tx) error {
		var err error
		ok, err = store.SetPrimaryImage(r.Context(), tx, it.ID, imageID)
		return err
	})
	if err != nil {
		serverError(w, r, err)
		return
	}
	if !ok {
		jsonError(w, http.StatusNotFound, "Image not found")
		return
	}

	images, err := store.ListItemImages(r.Context(), h.DB, it.ID)
	if err != nil {
		serverError(w, r, err)
		return
	}
	jsonData(w, http.StatusOK, "Primary image updated", images)
}

// Like handles POST /api/items/{id}/like, toggling the caller's like.
func (h *ItemsHandler) Like(w http.ResponseWriter, r *http.Request) {
	it := h.load(w, r)
	if it == nil {
		return
	}
	claims := GetClaims(r.Context())

	liked, err := store.ToggleItemLike(r.Context(), h.DB, it.ID, claims.UserID)
	if err != nil {
		serverError(w, r, err)
		return
	}

	count := it.LikeCount + 1
	if !liked {
		count = it.LikeCount - 1
	}
	jsonData(w, http.StatusOK, "", likeResponse{Liked: liked, LikeCount: count})
}

// Image handles GET /api/images/*, serving images kept in the database.
func (h *ItemsHandler) Image(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	data, mime, err := store.GetImageBlob(r.Context(), h.DB, key)
	if err != nil {
		serverError(w, r, err)
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "Image not found")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// load fetches the item named by the {id} parameter, writing a 400 or 404
// when it cannot.
func (h *ItemsHandler) load(w http.ResponseWriter, r *http.Request) *model.Item {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid item ID")
		return nil
	}
	it, err := store.GetItem(r.Context(), h.DB, id)
	if err != nil {
		serverError(w, r, err)
		return nil
	}
	if it == nil {
		jsonError(w, http.StatusNotFound, "Item not found")
		return nil
	}
	return it
}

// loadOwned is load restricted to the uploader and admins.
func (h *ItemsHandler) loadOwned(w http.ResponseWriter, r *http.Request) *model.Item {
	it := h.load(w, r)
	if it == nil {
		return nil
	}
	claims := GetClaims(r.Context())
	if claims.UserID != it.UploaderID && !model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		jsonError(w, http.StatusForbidden, "Not authorized to modify this item")
		return nil
	}
	return it
}
