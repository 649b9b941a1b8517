package feed

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"postfeed/internal/changefeed"
	"postfeed/internal/models"
	"postfeed/internal/store"
)

var errBackend = errors.New("connection refused")

type fakeIdentity struct {
	mu        sync.Mutex
	user      *models.User
	err       error
	signedOut bool
}

func (f *fakeIdentity) CurrentUser(context.Context) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.signedOut || f.user == nil {
		return nil, nil
	}
	u := *f.user
	return &u, nil
}

func (f *fakeIdentity) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signedOut = true
	return nil
}

// fakeStore is an in-memory RecordStore. A gate registered for a filter
// blocks Query for that filter until the gate is closed.
type fakeStore struct {
	mu       sync.Mutex
	posts    []models.Post
	queryErr error
	writeErr error
	queries  []models.Filter
	inserts  int
	gates    map[models.Filter]chan struct{}
	started  chan models.Filter
	clock    time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		gates:   make(map[models.Filter]chan struct{}),
		started: make(chan models.Filter, 16),
		clock:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *fakeStore) gate(f models.Filter) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.gates[f] = ch
	return ch
}

func (s *fakeStore) Query(ctx context.Context, filter models.Filter) ([]models.Post, error) {
	s.mu.Lock()
	s.queries = append(s.queries, filter)
	gate := s.gates[filter]
	delete(s.gates, filter)
	err := s.queryErr
	var out []models.Post
	for _, p := range s.posts {
		if c, ok := filter.Category(); ok && p.Category != c {
			continue
		}
		out = append(out, p)
	}
	s.mu.Unlock()

	select {
	case s.started <- filter:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if out == nil {
		out = []models.Post{}
	}
	return out, nil
}

func (s *fakeStore) Insert(_ context.Context, p *models.Post) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	s.inserts++
	s.clock = s.clock.Add(time.Minute)
	created := *p
	created.ID = uuid.New()
	created.CreatedAt = s.clock
	created.UpdatedAt = s.clock
	s.posts = append(s.posts, created)
	return &created, nil
}

func (s *fakeStore) find(id uuid.UUID) int {
	for i := range s.posts {
		if s.posts[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *fakeStore) Update(_ context.Context, id, ownerID uuid.UUID, patch models.PostPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	i := s.find(id)
	if i < 0 {
		return store.ErrNotFound
	}
	if s.posts[i].AuthorID != ownerID {
		return store.ErrNotOwner
	}
	p := &s.posts[i]
	p.Title, p.Content, p.Category = patch.Title, patch.Content, patch.Category
	if patch.ImageURL != nil {
		p.ImageURL = patch.ImageURL
	}
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id, ownerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	i := s.find(id)
	if i < 0 {
		return store.ErrNotFound
	}
	if s.posts[i].AuthorID != ownerID {
		return store.ErrNotOwner
	}
	s.posts = append(s.posts[:i], s.posts[i+1:]...)
	return nil
}

func (s *fakeStore) post(id uuid.UUID) (models.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.find(id); i >= 0 {
		return s.posts[i], true
	}
	return models.Post{}, false
}

func (s *fakeStore) seed(author *models.User, title string, c models.Category, age time.Duration) models.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := models.Post{
		ID:         uuid.New(),
		AuthorID:   author.ID,
		AuthorName: author.Name(),
		Title:      title,
		Content:    title + " body",
		Category:   c,
		CreatedAt:  s.clock.Add(-age),
	}
	s.posts = append(s.posts, p)
	return p
}

type fakeBlobs struct {
	mu      sync.Mutex
	err     error
	objects map[string][]byte
	deleted []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (b *fakeBlobs) Upload(_ context.Context, key, _ string, body io.Reader, _ int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.objects[key] = data
	return nil
}

func (b *fakeBlobs) PublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func (b *fakeBlobs) DeleteURL(_ context.Context, rawURL string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, rawURL)
	return nil
}

// fakeFeed records subscriptions and lets tests emit events synchronously.
type fakeFeed struct {
	mu        sync.Mutex
	handlers  map[int]func(changefeed.Event)
	next      int
	cancelled int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{handlers: make(map[int]func(changefeed.Event))}
}

func (f *fakeFeed) Subscribe(collection string, onEvent func(changefeed.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.handlers[id] = onEvent
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.handlers[id]; ok {
			delete(f.handlers, id)
			f.cancelled++
		}
	}
}

func (f *fakeFeed) emit(ev changefeed.Event) {
	f.mu.Lock()
	hs := make([]func(changefeed.Event), 0, len(f.handlers))
	for _, h := range f.handlers {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeFeed) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

type harness struct {
	ctrl     *Controller
	identity *fakeIdentity
	store    *fakeStore
	blobs    *fakeBlobs
	feed     *fakeFeed
	user     *models.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	user := &models.User{ID: uuid.New(), Email: "ana@example.com", DisplayName: "Ana"}
	h := &harness{
		identity: &fakeIdentity{user: user},
		store:    newFakeStore(),
		blobs:    newFakeBlobs(),
		feed:     newFakeFeed(),
		user:     user,
	}
	h.ctrl = NewController(h.identity, h.store, h.blobs, h.feed)
	now := h.store.clock.Add(time.Hour)
	h.ctrl.now = func() time.Time { return now }
	t.Cleanup(h.ctrl.Close)
	return h
}

// drainStarted discards Query start notifications collected so far.
func (h *harness) drainStarted() {
	for {
		select {
		case <-h.store.started:
		default:
			return
		}
	}
}

func validDraft() Draft {
	return Draft{Title: "Ramen night", Content: "Best bowl in town.", Category: models.CategoryFood}
}

func pngImage(t *testing.T) *models.Image {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return &models.Image{Filename: "Bowl Photo.PNG", ContentType: "image/png", Data: buf.Bytes()}
}
