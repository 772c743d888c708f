package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/erazemk/rewear/internal/store"
	"github.com/erazemk/rewear/internal/swap"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// page is the pagination block of list responses.
type page struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Pages int `json:"pages"`
	Limit int `json:"limit"`
}

func newPage(p store.Page, total int) page {
	return page{Total: total, Page: p.Number, Pages: p.Pages(total), Limit: p.Limit}
}

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Warn().Err(err).Msg("encoding response")
		}
	}
}

// jsonData writes a successful response carrying data.
func jsonData(w http.ResponseWriter, status int, message string, data any) {
	jsonResponse(w, status, envelope{Success: true, Message: message, Data: data})
}

// jsonError writes a failed response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, envelope{Success: false, Message: message})
}

// serverError logs err against the request and writes a generic 500.
func serverError(w http.ResponseWriter, r *http.Request, err error) {
	hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	jsonError(w, http.StatusInternalServerError, "server error")
}

// writeError maps a swap service error to its HTTP status. Conflicting and
// invalid states are 400 like validation failures. Anything that is not a
// rejected operation is a server error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var serr *swap.Error
	if !errors.As(err, &serr) {
		serverError(w, r, err)
		return
	}
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, swap.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, swap.ErrForbidden):
		status = http.StatusForbidden
	}
	jsonError(w, status, serr.Message)
}

// decodeJSON decodes a JSON request body into the given target. An empty body
// leaves target untouched.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// pathID parses a numeric URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

// queryInt parses an optional integer query parameter. Malformed values read
// as zero so store.NewPage falls back to its defaults.
func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

// pageFromQuery reads page and limit from the query string.
func pageFromQuery(r *http.Request) store.Page {
	return store.NewPage(queryInt(r, "page"), queryInt(r, "limit"))
}
