// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"postfeed/internal/feed"
	"postfeed/internal/imaging"
	"postfeed/internal/middleware"
	"postfeed/internal/models"
)

// maxFormMemory bounds the request body of post create and update: the
// largest accepted image plus room for the text fields.
const maxFormMemory = imaging.MaxBytes + 1<<20

// Controllers hands out the feed controller of a session.
type Controllers interface {
	Get(ctx context.Context, sessionID string) (*feed.Controller, error)
}

// Feed groups the feed and post handlers.
type Feed struct {
	feeds Controllers
}

// NewFeed creates a new Feed handler group.
func NewFeed(feeds Controllers) *Feed {
	return &Feed{feeds: feeds}
}

// controller resolves the session's controller, writing the error response
// itself when that fails.
func (h *Feed) controller(w http.ResponseWriter, r *http.Request) (*feed.Controller, bool) {
	id := middleware.SessionIDFromCtx(r.Context())
	if id == "" {
		writeError(w, http.StatusUnauthorized, "not signed in")
		return nil, false
	}
	c, err := h.feeds.Get(r.Context(), id)
	if err != nil {
		writeFeedError(w, r, err)
		return nil, false
	}
	return c, true
}

// List loads the feed for ?category= (a category name or "all").
func (h *Feed) List(w http.ResponseWriter, r *http.Request) {
	filter, ok := models.ParseFilter(r.URL.Query().Get("category"))
	if !ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"ok": false, "error": "unknown category", "field": "category"})
		return
	}
	c, ok := h.controller(w, r)
	if !ok {
		return
	}

	view, err := c.LoadFeed(r.Context(), filter)
	if err != nil {
		writeFeedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "feed": view})
}

// Create stores a new post from a multipart form with title, content,
// category and an optional image file.
func (h *Feed) Create(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	draft, img, ok := readDraft(w, r)
	if !ok {
		return
	}

	post, err := c.CreatePost(r.Context(), draft, img)
	if err != nil {
		writeFeedError(w, r, err)
		return
	}

	resp := map[string]any{"ok": true, "post": post}
	if img != nil && !post.HasImage() {
		resp["warning"] = "post saved without its image"
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Show returns the full post from the session's current feed.
func (h *Feed) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	c, ok := h.controller(w, r)
	if !ok {
		return
	}

	detail, found := c.Detail(id)
	if !found {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "post": detail})
}

// Update replaces a post's fields from a multipart form. Without a new
// image file the current image is kept.
func (h *Feed) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	draft, img, ok := readDraft(w, r)
	if !ok {
		return
	}

	if err := c.UpdatePost(r.Context(), id, draft, img); err != nil {
		writeFeedError(w, r, err)
		return
	}

	resp := map[string]any{"ok": true}
	if p, found := c.GetPostByID(id); found {
		resp["post"] = p
		if img != nil && !p.HasImage() {
			resp["warning"] = "post saved without its image"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Delete removes a post. The client must pass confirm=yes.
func (h *Feed) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("confirm") != "yes" {
		writeError(w, http.StatusBadRequest, "deleting a post must be confirmed with confirm=yes")
		return
	}
	c, ok := h.controller(w, r)
	if !ok {
		return
	}

	if err := c.DeletePost(r.Context(), id); err != nil {
		writeFeedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// BeginEdit puts one of the user's posts into edit mode and returns it for
// the form.
func (h *Feed) BeginEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	c, ok := h.controller(w, r)
	if !ok {
		return
	}

	p, err := c.BeginEdit(r.Context(), id)
	if err != nil {
		writeFeedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "post": p})
}

// CancelEdit leaves edit mode.
func (h *Feed) CancelEdit(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	c.CancelEdit()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func postID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "post not found")
		return uuid.Nil, false
	}
	return id, true
}

// readDraft parses the post form. Multipart and URL-encoded bodies are both
// accepted; only multipart can carry an image.
func readDraft(w http.ResponseWriter, r *http.Request) (feed.Draft, *models.Image, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormMemory)
	err := r.ParseMultipartForm(maxFormMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image is too large")
			return feed.Draft{}, nil, false
		}
		writeError(w, http.StatusBadRequest, "could not read the form")
		return feed.Draft{}, nil, false
	}

	draft := feed.Draft{
		Title:    r.FormValue("title"),
		Content:  r.FormValue("content"),
		Category: models.Category(r.FormValue("category")),
	}

	if r.MultipartForm == nil {
		return draft, nil, true
	}
	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return draft, nil, true
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read the image")
		return feed.Draft{}, nil, false
	}
	defer file.Close()
	if header.Filename == "" && header.Size == 0 {
		return draft, nil, true
	}

	data, err := io.ReadAll(file)
	if err != nil {
		slog.Warn("image read failed", "filename", header.Filename, "error", err)
		writeError(w, http.StatusBadRequest, "could not read the image")
		return feed.Draft{}, nil, false
	}
	return draft, &models.Image{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, true
}
