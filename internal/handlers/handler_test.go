// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// handler_test.go provides shared test infrastructure: in-memory identity
// and post stores behind a real feed registry, plus request helpers.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"postfeed/internal/feed"
	"postfeed/internal/middleware"
	"postfeed/internal/models"
	"postfeed/internal/store"
)

var errBackend = errors.New("connection refused")

// sessionIdentity resolves a session ID against the env's session table.
type sessionIdentity struct {
	env *testEnv
	id  string
}

func (s *sessionIdentity) CurrentUser(context.Context) (*models.User, error) {
	s.env.mu.Lock()
	defer s.env.mu.Unlock()
	u, ok := s.env.sessions[s.id]
	if !ok {
		return nil, nil
	}
	return u, nil
}

func (s *sessionIdentity) SignOut(context.Context) error {
	s.env.mu.Lock()
	defer s.env.mu.Unlock()
	delete(s.env.sessions, s.id)
	return nil
}

// memPosts is an in-memory feed.RecordStore.
type memPosts struct {
	mu       sync.Mutex
	posts    []models.Post
	queryErr error
}

func (m *memPosts) Query(_ context.Context, filter models.Filter) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	out := []models.Post{}
	for _, p := range m.posts {
		if c, ok := filter.Category(); ok && p.Category != c {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memPosts) Insert(_ context.Context, p *models.Post) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := *p
	created.ID = uuid.New()
	created.CreatedAt = time.Now()
	created.UpdatedAt = created.CreatedAt
	m.posts = append(m.posts, created)
	return &created, nil
}

func (m *memPosts) owned(id, ownerID uuid.UUID) (int, error) {
	for i := range m.posts {
		if m.posts[i].ID != id {
			continue
		}
		if m.posts[i].AuthorID != ownerID {
			return -1, store.ErrNotOwner
		}
		return i, nil
	}
	return -1, store.ErrNotFound
}

func (m *memPosts) Update(_ context.Context, id, ownerID uuid.UUID, patch models.PostPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.owned(id, ownerID)
	if err != nil {
		return err
	}
	p := &m.posts[i]
	p.Title, p.Content, p.Category = patch.Title, patch.Content, patch.Category
	if patch.ImageURL != nil {
		p.ImageURL = patch.ImageURL
	}
	return nil
}

func (m *memPosts) Delete(_ context.Context, id, ownerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.owned(id, ownerID)
	if err != nil {
		return err
	}
	m.posts = append(m.posts[:i], m.posts[i+1:]...)
	return nil
}

func (m *memPosts) add(author *models.User, title string, c models.Category) models.Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := models.Post{
		ID:         uuid.New(),
		AuthorID:   author.ID,
		AuthorName: author.Name(),
		Title:      title,
		Content:    title + " body",
		Category:   c,
		CreatedAt:  time.Now().Add(-time.Duration(len(m.posts)+1) * time.Minute),
	}
	m.posts = append(m.posts, p)
	return p
}

// testEnv holds the dependencies for handler tests.
type testEnv struct {
	mu       sync.Mutex
	sessions map[string]*models.User
	posts    *memPosts
	registry *feed.Registry
	feed     *Feed
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		sessions: make(map[string]*models.User),
		posts:    &memPosts{},
	}
	env.registry = feed.NewRegistry(func(sessionID string) *feed.Controller {
		return feed.NewController(&sessionIdentity{env: env, id: sessionID}, env.posts, nil, nil)
	})
	env.feed = NewFeed(env.registry)
	t.Cleanup(env.registry.Close)
	return env
}

// signIn registers a session for a new user and returns both.
func (env *testEnv) signIn(name string) (string, *models.User) {
	env.mu.Lock()
	defer env.mu.Unlock()
	u := &models.User{ID: uuid.New(), Email: strings.ToLower(name) + "@example.com", DisplayName: name}
	id := "sess-" + uuid.NewString()
	env.sessions[id] = u
	return id, u
}

// withSession marks the request as belonging to sessionID.
func withSession(r *http.Request, sessionID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), middleware.SessionIDKey, sessionID))
}

// withChiURLParam adds a chi URL parameter to a request.
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func formRequest(method, target string, values url.Values) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(values.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func multipartRequest(t *testing.T, method, target string, fields map[string]string, filename string, file []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("image", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		fw.Write(file)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	r := httptest.NewRequest(method, target, &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return body
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{G: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
