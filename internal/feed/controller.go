// Package feed holds the per-session feed controller: it owns the client's
// view of the posts feed, runs mutations against the record and blob stores
// and keeps the view consistent with remote changes.
package feed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"postfeed/internal/changefeed"
	"postfeed/internal/imaging"
	"postfeed/internal/models"
	"postfeed/internal/storage"
)

// IdentityService resolves the user behind the current session.
type IdentityService interface {
	// CurrentUser returns nil, nil when nobody is signed in.
	CurrentUser(ctx context.Context) (*models.User, error)
	SignOut(ctx context.Context) error
}

// RecordStore persists posts. Update and Delete are scoped to ownerID and
// report store.ErrNotOwner or store.ErrNotFound when no row matches.
type RecordStore interface {
	Query(ctx context.Context, filter models.Filter) ([]models.Post, error)
	Insert(ctx context.Context, p *models.Post) (*models.Post, error)
	Update(ctx context.Context, id, ownerID uuid.UUID, patch models.PostPatch) error
	Delete(ctx context.Context, id, ownerID uuid.UUID) error
}

// BlobStore holds uploaded images under public URLs.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	PublicURL(key string) string
}

// blobRemover is implemented by blob stores that can drop an object by its
// public URL.
type blobRemover interface {
	DeleteURL(ctx context.Context, rawURL string) error
}

// ChangeFeed delivers change notifications for a collection.
type ChangeFeed interface {
	Subscribe(collection string, onEvent func(changefeed.Event)) (cancel func())
}

// PostsCollection is the change feed collection carrying post events.
const PostsCollection = "posts"

type viewState struct {
	allPosts   []models.Post
	selected   models.Filter
	editingID  uuid.UUID
	editing    bool
	loaded     bool
	appliedSeq uint64
	issuedSeq  uint64
}

// Controller is the feed state for one session. All methods are safe for
// concurrent use.
type Controller struct {
	identity IdentityService
	posts    RecordStore
	blobs    BlobStore
	changes  ChangeFeed
	now      func() time.Time
	log      *slog.Logger

	mu          sync.Mutex
	state       viewState
	viewer      *models.User
	watchers    map[chan struct{}]struct{}
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	closed      bool
	closeErr    error
}

// NewController creates a controller. blobs and changes may be nil: without
// blobs every image upload degrades to a post without image, without changes
// the view only refreshes after local mutations.
func NewController(identity IdentityService, posts RecordStore, blobs BlobStore, changes ChangeFeed) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		identity: identity,
		posts:    posts,
		blobs:    blobs,
		changes:  changes,
		now:      time.Now,
		log:      slog.Default(),
		state:    viewState{selected: models.FilterAll},
		watchers: make(map[chan struct{}]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start checks that a user is signed in, subscribes to post changes and
// performs the initial load of all posts. ErrNotAuthenticated means the
// controller must not be used.
func (c *Controller) Start(ctx context.Context) error {
	user, err := c.currentUser(ctx)
	if err != nil {
		return err
	}
	c.log.Debug("feed controller started", "user_id", user.ID)

	if c.changes != nil {
		cancel := c.changes.Subscribe(PostsCollection, func(ev changefeed.Event) {
			c.OnRemoteChange(c.ctx, ev)
		})
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			cancel()
			return nil
		}
		c.unsubscribe = cancel
		c.mu.Unlock()
	}

	_, err = c.LoadFeed(ctx, models.FilterAll)
	return err
}

// Close stops change delivery and releases watchers. It is idempotent.
func (c *Controller) Close() {
	c.closeWith(ErrClosed)
}

// closeWith closes the controller, recording reason for Err. Only the first
// call has any effect.
func (c *Controller) closeWith(reason error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = reason
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	for ch := range c.watchers {
		close(ch)
	}
	c.watchers = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.cancel()
}

// Err returns nil while the controller is open. Afterwards it returns why
// it was closed: ErrSignedOut, ErrNotAuthenticated when the session
// expired, or ErrClosed.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// SignOut ends the session and closes the controller.
func (c *Controller) SignOut(ctx context.Context) error {
	defer c.closeWith(ErrSignedOut)
	if err := c.identity.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w: %w", ErrTransport, err)
	}
	return nil
}

// Watch returns a channel that receives a value whenever a newer feed
// result is applied. Signals coalesce; the channel is closed on stop or when
// the controller closes.
func (c *Controller) Watch() (updates <-chan struct{}, stop func()) {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.watchers[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.watchers[ch]; ok {
				delete(c.watchers, ch)
				close(ch)
			}
		})
	}
}

// notifyLocked signals every watcher without blocking. c.mu must be held.
func (c *Controller) notifyLocked() {
	for ch := range c.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// LoadFeed fetches the posts matching filter and replaces the feed with
// them, newest first. A result is applied only if no fetch issued later has
// already been applied; an older result arriving late is discarded. The
// returned view reflects the state after this call either way.
func (c *Controller) LoadFeed(ctx context.Context, filter models.Filter) (View, error) {
	return c.load(ctx, &filter)
}

// Refresh reloads the feed with the currently selected filter.
func (c *Controller) Refresh(ctx context.Context) (View, error) {
	return c.load(ctx, nil)
}

// load issues a fetch for filter, or for the selected filter when filter is
// nil. Choosing the filter and taking the sequence number happen under one
// lock so a concurrent filter change cannot slip in between.
func (c *Controller) load(ctx context.Context, filter *models.Filter) (View, error) {
	c.mu.Lock()
	previous := c.state.selected
	if filter != nil {
		c.state.selected = *filter
	}
	f := c.state.selected
	c.state.issuedSeq++
	seq := c.state.issuedSeq
	c.mu.Unlock()

	posts, err := c.posts.Query(ctx, f)
	if err != nil {
		fetches.WithLabelValues("error").Inc()
		c.log.Warn("feed load failed", "filter", f, "seq", seq, "error", err)
		c.mu.Lock()
		// The shown posts still belong to the previous filter.
		if seq == c.state.issuedSeq {
			c.state.selected = previous
		}
		v := c.renderLocked()
		c.mu.Unlock()
		return v, fmt.Errorf("load feed: %w: %w", ErrTransport, err)
	}

	c.mu.Lock()
	if seq > c.state.appliedSeq {
		c.state.allPosts = posts
		c.state.appliedSeq = seq
		c.state.loaded = true
		if c.state.editing && !containsPost(posts, c.state.editingID) {
			c.state.editing = false
		}
		c.notifyLocked()
		fetches.WithLabelValues("applied").Inc()
	} else {
		fetches.WithLabelValues("stale").Inc()
		c.log.Debug("stale feed result discarded", "filter", f, "seq", seq, "applied_seq", c.state.appliedSeq)
	}
	v := c.renderLocked()
	c.mu.Unlock()
	return v, nil
}

// OnRemoteChange reacts to a change made anywhere by reloading the feed with
// the current filter. Failures are logged.
func (c *Controller) OnRemoteChange(ctx context.Context, ev changefeed.Event) {
	if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
		c.log.Warn("feed refresh after remote change failed", "op", ev.Op, "post_id", ev.ID, "error", err)
	}
}

// refreshAfter reloads after a successful local mutation. The mutation has
// already succeeded, so a failed reload is only logged.
func (c *Controller) refreshAfter(ctx context.Context, op string) {
	if _, err := c.Refresh(ctx); err != nil {
		c.log.Warn("feed refresh after mutation failed", "op", op, "error", err)
	}
}

// CreatePost validates the draft, uploads the optional image and stores the
// post under the signed-in user. An image that cannot be processed or
// uploaded is dropped and the post is stored without one.
func (c *Controller) CreatePost(ctx context.Context, draft Draft, img *models.Image) (*models.Post, error) {
	draft, err := prepare(draft)
	if err != nil {
		mutations.WithLabelValues("create", "invalid").Inc()
		return nil, err
	}

	user, err := c.currentUser(ctx)
	if err != nil {
		mutations.WithLabelValues("create", "denied").Inc()
		return nil, err
	}

	post := &models.Post{
		AuthorID:   user.ID,
		AuthorName: user.Name(),
		Title:      draft.Title,
		Content:    draft.Content,
		Category:   draft.Category,
		ImageURL:   c.uploadImage(ctx, user.ID, img),
	}

	created, err := c.posts.Insert(ctx, post)
	if err != nil {
		mutations.WithLabelValues("create", "error").Inc()
		return nil, storeError("create post", err)
	}
	mutations.WithLabelValues("create", "ok").Inc()
	c.log.Info("post created", "post_id", created.ID, "user_id", user.ID, "has_image", created.HasImage())

	c.refreshAfter(ctx, "create")
	return created, nil
}

// UpdatePost replaces the title, content and category of a post the user
// owns. The image is replaced only when a new one uploads successfully.
func (c *Controller) UpdatePost(ctx context.Context, id uuid.UUID, draft Draft, img *models.Image) error {
	draft, err := prepare(draft)
	if err != nil {
		mutations.WithLabelValues("update", "invalid").Inc()
		return err
	}

	user, err := c.currentUser(ctx)
	if err != nil {
		mutations.WithLabelValues("update", "denied").Inc()
		return err
	}

	previous, _ := c.GetPostByID(id)
	patch := models.PostPatch{
		Title:    draft.Title,
		Content:  draft.Content,
		Category: draft.Category,
		ImageURL: c.uploadImage(ctx, user.ID, img),
	}

	if err := c.posts.Update(ctx, id, user.ID, patch); err != nil {
		mutations.WithLabelValues("update", "error").Inc()
		if patch.ImageURL != nil {
			c.removeBlob(ctx, *patch.ImageURL)
		}
		return storeError("update post", err)
	}
	mutations.WithLabelValues("update", "ok").Inc()
	c.log.Info("post updated", "post_id", id, "user_id", user.ID, "new_image", patch.ImageURL != nil)

	if patch.ImageURL != nil && previous != nil && previous.HasImage() {
		c.removeBlob(ctx, *previous.ImageURL)
	}

	c.mu.Lock()
	c.state.editing = false
	c.mu.Unlock()

	c.refreshAfter(ctx, "update")
	return nil
}

// DeletePost removes a post the user owns.
func (c *Controller) DeletePost(ctx context.Context, id uuid.UUID) error {
	user, err := c.currentUser(ctx)
	if err != nil {
		mutations.WithLabelValues("delete", "denied").Inc()
		return err
	}

	previous, _ := c.GetPostByID(id)
	if err := c.posts.Delete(ctx, id, user.ID); err != nil {
		mutations.WithLabelValues("delete", "error").Inc()
		return storeError("delete post", err)
	}
	mutations.WithLabelValues("delete", "ok").Inc()
	c.log.Info("post deleted", "post_id", id, "user_id", user.ID)

	if previous != nil && previous.HasImage() {
		c.removeBlob(ctx, *previous.ImageURL)
	}

	c.mu.Lock()
	if c.state.editing && c.state.editingID == id {
		c.state.editing = false
	}
	c.mu.Unlock()

	c.refreshAfter(ctx, "delete")
	return nil
}

// GetPostByID returns a copy of the post from the current feed snapshot,
// without a network call.
func (c *Controller) GetPostByID(id uuid.UUID) (*models.Post, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := lo.Find(c.state.allPosts, func(p models.Post) bool { return p.ID == id })
	if !ok {
		return nil, false
	}
	return &p, true
}

// BeginEdit marks a post of the current user as being edited and returns it
// for pre-filling the form.
func (c *Controller) BeginEdit(ctx context.Context, id uuid.UUID) (*models.Post, error) {
	user, err := c.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := c.GetPostByID(id)
	if !ok {
		return nil, fmt.Errorf("edit post: %w", ErrNotFound)
	}
	if !p.OwnedBy(user.ID) {
		return nil, fmt.Errorf("edit post: %w", ErrNotAuthorized)
	}

	c.mu.Lock()
	c.state.editingID = id
	c.state.editing = true
	c.mu.Unlock()
	return p, nil
}

// CancelEdit leaves edit mode without saving.
func (c *Controller) CancelEdit() {
	c.mu.Lock()
	c.state.editing = false
	c.mu.Unlock()
}

// SelectedCategory returns the filter of the most recently issued load. A
// load that fails restores the filter that was selected before it.
func (c *Controller) SelectedCategory() models.Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.selected
}

// View renders the current state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renderLocked()
}

// Detail renders the full content of one post from the current snapshot.
func (c *Controller) Detail(id uuid.UUID) (PostDetail, bool) {
	p, ok := c.GetPostByID(id)
	if !ok {
		return PostDetail{}, false
	}
	c.mu.Lock()
	viewer := c.viewerIDLocked()
	c.mu.Unlock()
	return RenderDetail(*p, viewer, c.now()), true
}

func (c *Controller) renderLocked() View {
	s := Snapshot{
		Posts:    c.state.allPosts,
		Category: c.state.selected,
		Loaded:   c.state.loaded,
		Viewer:   c.viewerIDLocked(),
	}
	if c.state.editing {
		id := c.state.editingID
		s.EditingID = &id
	}
	return Render(s, c.now())
}

func (c *Controller) viewerIDLocked() uuid.UUID {
	if c.viewer == nil {
		return uuid.Nil
	}
	return c.viewer.ID
}

// currentUser asks the identity service for the signed-in user and
// remembers it for rendering ownership.
func (c *Controller) currentUser(ctx context.Context) (*models.User, error) {
	user, err := c.identity.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("current user: %w: %w", ErrTransport, err)
	}
	c.mu.Lock()
	c.viewer = user
	c.mu.Unlock()
	if user == nil {
		return nil, ErrNotAuthenticated
	}
	return user, nil
}

// uploadImage normalizes and stores img, returning its public URL. Any
// failure is logged and yields nil.
func (c *Controller) uploadImage(ctx context.Context, userID uuid.UUID, img *models.Image) *string {
	if img == nil {
		return nil
	}
	if c.blobs == nil {
		imageUploadFailures.WithLabelValues("disabled").Inc()
		c.log.Warn("image dropped, blob storage not configured", "user_id", userID, "filename", img.Filename)
		return nil
	}

	out, err := imaging.Normalize(img)
	if err != nil {
		imageUploadFailures.WithLabelValues("process").Inc()
		c.log.Warn("image dropped, processing failed", "user_id", userID, "filename", img.Filename, "error", err)
		return nil
	}

	key := storage.ObjectKey(userID, out.Filename, c.now())
	if err := c.blobs.Upload(ctx, key, out.ContentType, bytes.NewReader(out.Data), out.Size()); err != nil {
		imageUploadFailures.WithLabelValues("upload").Inc()
		c.log.Warn("image dropped, upload failed", "user_id", userID, "key", key, "error", err)
		return nil
	}

	url := c.blobs.PublicURL(key)
	c.log.Debug("image uploaded", "key", key, "size", out.HumanSize())
	return &url
}

// removeBlob deletes an image that no post references any more, if the blob
// store supports it.
func (c *Controller) removeBlob(ctx context.Context, url string) {
	r, ok := c.blobs.(blobRemover)
	if !ok {
		return
	}
	if err := r.DeleteURL(ctx, url); err != nil {
		c.log.Warn("orphaned image not removed", "url", url, "error", err)
	}
}

func containsPost(posts []models.Post, id uuid.UUID) bool {
	return lo.ContainsBy(posts, func(p models.Post) bool { return p.ID == id })
}
