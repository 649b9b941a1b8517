package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"postfeed/internal/feed"
)

// writeJSON sends data as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError sends {"ok":false,"error":msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

// writeFeedError maps a feed error to its status code. Server-side failures
// are logged; their details are not sent to the client.
func writeFeedError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *feed.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"ok": false, "error": ve.Message, "field": ve.Field})
	case errors.Is(err, feed.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, feed.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "not signed in")
	case errors.Is(err, feed.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "you can only change your own posts")
	case errors.Is(err, feed.ErrNotFound):
		writeError(w, http.StatusNotFound, "post not found")
	case errors.Is(err, feed.ErrTransport):
		slog.Error("feed backend error", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, "feed backend unavailable, try again")
	default:
		slog.Error("feed request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
