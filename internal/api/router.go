// Package api exposes ReWear over HTTP.
package api

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/erazemk/rewear/internal/imaging"
	"github.com/erazemk/rewear/internal/media"
	"github.com/erazemk/rewear/internal/model"
	"github.com/erazemk/rewear/internal/swap"
)

// Options wires the router's dependencies.
type Options struct {
	DB        *sql.DB
	JWTSecret string
	Log       zerolog.Logger
	Swaps     *swap.Service
	// Images defaults to keeping uploads in the database.
	Images         media.Store
	Processor      *imaging.Processor
	MaxUploadBytes int64
	ApprovalPoints int
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(opts Options) http.Handler {
	images := opts.Images
	if images == nil {
		images = &media.DBStore{DB: opts.DB}
	}
	swaps := opts.Swaps
	if swaps == nil {
		swaps = swap.NewService(opts.DB, nil, opts.Log)
	}

	authn := &Authenticator{DB: opts.DB, JWTSecret: opts.JWTSecret}
	authHandler := &AuthHandler{DB: opts.DB, JWTSecret: opts.JWTSecret}
	usersHandler := &UsersHandler{DB: opts.DB}
	itemsHandler := &ItemsHandler{
		DB:             opts.DB,
		Images:         images,
		Processor:      opts.Processor,
		MaxUploadBytes: opts.MaxUploadBytes,
	}
	adminHandler := &AdminHandler{DB: opts.DB, ApprovalPoints: opts.ApprovalPoints}
	swapsHandler := &SwapsHandler{Swaps: swaps}

	requireAdmin := RequireRole(model.RoleAdmin)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(opts.Log))
	r.Use(requestID)
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		// Public.
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Get("/images/*", itemsHandler.Image)

		// Public, personalised when signed in.
		r.Group(func(r chi.Router) {
			r.Use(authn.Optional)
			r.Get("/items", itemsHandler.List)
			r.Get("/items/{id}", itemsHandler.Get)
		})

		// Authenticated.
		r.Group(func(r chi.Router) {
			r.Use(authn.Required)

			r.Post("/auth/logout", authHandler.Logout)
			r.Put("/auth/password", authHandler.ChangePassword)

			r.Get("/users/me", usersHandler.Me)
			r.Put("/users/me", usersHandler.UpdateMe)
			r.Get("/users/me/ledger", usersHandler.Ledger)

			r.Post("/items", itemsHandler.Create)
			r.Get("/items/mine", itemsHandler.Mine)
			r.Get("/items/dashboard/stats", itemsHandler.Dashboard)
			r.Put("/items/{id}", itemsHandler.Update)
			r.Delete("/items/{id}", itemsHandler.Delete)
			r.Post("/items/{id}/images", itemsHandler.UploadImage)
			r.Put("/items/{id}/images/{imageID}/primary", itemsHandler.SetPrimaryImage)
			r.Post("/items/{id}/like", itemsHandler.Like)

			r.Route("/swaps", func(r chi.Router) {
				r.Post("/", swapsHandler.Create)
				r.Get("/user", swapsHandler.List)
				r.Get("/stats", swapsHandler.Stats)
				r.Get("/{id}", swapsHandler.Get)
				r.Patch("/{id}/accept", swapsHandler.Accept)
				r.Patch("/{id}/decline", swapsHandler.Decline)
				r.Patch("/{id}/complete", swapsHandler.Complete)
				r.Patch("/{id}/cancel", swapsHandler.Cancel)
				r.Patch("/{id}/meeting", swapsHandler.Meeting)
			})

			// Admin only.
			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)

				r.Get("/users", usersHandler.List)
				r.Get("/users/{id}", usersHandler.Get)
				r.Put("/users/{id}", usersHandler.Update)
				r.Put("/users/{id}/status", usersHandler.UpdateStatus)
				r.Delete("/users/{id}", usersHandler.Delete)
				r.Post("/users/{id}/reconcile", usersHandler.Reconcile)

				r.Get("/admin/users/stats", usersHandler.Stats)
				r.Patch("/admin/users/{id}/reset-password", usersHandler.ResetPassword)

				r.Get("/admin/items", adminHandler.AllItems)
				r.Get("/admin/items/pending", adminHandler.Pending)
				r.Patch("/admin/items/bulk-approve", adminHandler.BulkApprove)
				r.Patch("/admin/items/bulk-reject", adminHandler.BulkReject)
				r.Patch("/admin/items/{id}/approve", adminHandler.Approve)
				r.Patch("/admin/items/{id}/reject", adminHandler.Reject)
				r.Get("/admin/stats", adminHandler.Stats)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonError(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		jsonError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}
