package api

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/erazemk/rewear/internal/auth"
	"github.com/erazemk/rewear/internal/model"
	"github.com/erazemk/rewear/internal/store"
)

type contextKey string

const claimsKey contextKey = "claims"

// Authenticator validates bearer tokens. A token is rejected once its JTI is
// revoked or its user is deleted.
type Authenticator struct {
	DB        *sql.DB
	JWTSecret string
}

// authenticate returns the claims of a valid token, or a client-facing reason
// it was refused.
func (a *Authenticator) authenticate(r *http.Request) (*auth.Claims, string, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, "Not authorized, no token", nil
	}

	claims, err := auth.ValidateToken(a.JWTSecret, strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return nil, "Not authorized, token failed", nil
	}

	revoked, err := store.IsTokenRevoked(r.Context(), a.DB, claims.ID)
	if err != nil {
		return nil, "", err
	}
	if revoked {
		return nil, "Not authorized, token revoked", nil
	}

	user, err := store.GetUser(r.Context(), a.DB, claims.UserID)
	if err != nil {
		return nil, "", err
	}
	if user == nil || user.DeletedAt != nil {
		return nil, "Not authorized, user not found", nil
	}
	// Role changes apply without a new login.
	claims.Role = user.Role
	return claims, "", nil
}

// Required rejects requests without a valid token and adds claims to context.
func (a *Authenticator) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, reason, err := a.authenticate(r)
		if err != nil {
			serverError(w, r, err)
			return
		}
		if claims == nil {
			jsonError(w, http.StatusUnauthorized, reason)
			return
		}
		next.ServeHTTP(w, withClaims(r, claims))
	})
}

// Optional adds claims to context when a valid token is present and lets the
// request through either way.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, _, err := a.authenticate(r)
		if err != nil {
			serverError(w, r, err)
			return
		}
		if claims != nil {
			r = withClaims(r, claims)
		}
		next.ServeHTTP(w, r)
	})
}

func withClaims(r *http.Request, claims *auth.Claims) *http.Request {
	hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Int64("user_id", claims.UserID)
	})
	return r.WithContext(context.WithValue(r.Context(), claimsKey, claims))
}

// RequireRole returns middleware that checks if the user has at least the given role.
func RequireRole(minimum string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				jsonError(w, http.StatusUnauthorized, "Not authorized")
				return
			}
			if !model.RoleAtLeast(claims.Role, minimum) {
				jsonError(w, http.StatusForbidden, "Access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClaims retrieves the JWT claims from the context.
func GetClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// requestID tags the request logger with chi's request id.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

// accessLog logs HTTP requests with method, path, status, and duration.
func accessLog(r *http.Request, status, size int, duration time.Duration) {
	event := hlog.FromRequest(r).Info()
	if status >= http.StatusInternalServerError {
		event = hlog.FromRequest(r).Error()
	}
	event.
		Str("method", r.Method).
		Str("path", r.URL.RequestURI()).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration.Round(time.Millisecond)).
		Msg("request")
}
