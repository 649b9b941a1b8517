package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ControllerFactory builds an unstarted controller for a session ID.
type ControllerFactory func(sessionID string) *Controller

// Registry holds one controller per session.
type Registry struct {
	newController ControllerFactory

	mu    sync.Mutex
	ctrls map[string]*Controller
}

// NewRegistry creates an empty registry.
func NewRegistry(factory ControllerFactory) *Registry {
	return &Registry{
		newController: factory,
		ctrls:         make(map[string]*Controller),
	}
}

// Get returns the controller for sessionID, creating and starting it on
// first use. A failed initial load keeps the controller; the next request
// or change event reloads. ErrNotAuthenticated is returned as is.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Controller, error) {
	r.mu.Lock()
	c, ok := r.ctrls[sessionID]
	r.mu.Unlock()
	if ok {
		return c, nil
	}

	c = r.newController(sessionID)
	if err := c.Start(ctx); err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			c.Close()
			return nil, err
		}
		slog.Warn("feed controller initial load failed", "error", err)
	}

	r.mu.Lock()
	if existing, ok := r.ctrls[sessionID]; ok {
		r.mu.Unlock()
		c.Close()
		return existing, nil
	}
	r.ctrls[sessionID] = c
	activeControllers.Set(float64(len(r.ctrls)))
	r.mu.Unlock()
	return c, nil
}

// Drop closes and forgets the controller for sessionID, if any.
func (r *Registry) Drop(sessionID string) {
	if c, ok := r.remove(sessionID); ok {
		c.Close()
	}
}

func (r *Registry) remove(sessionID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.ctrls[sessionID]
	delete(r.ctrls, sessionID)
	activeControllers.Set(float64(len(r.ctrls)))
	return c, ok
}

// SignOut ends the session through its live controller, if there is one,
// and forgets the controller.
func (r *Registry) SignOut(ctx context.Context, sessionID string) error {
	c, ok := r.remove(sessionID)
	if !ok {
		return nil
	}
	return c.SignOut(ctx)
}

// Len returns the number of live controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ctrls)
}

// Sweep drops controllers whose session no longer resolves to a user.
// Controllers whose identity lookup fails are kept.
func (r *Registry) Sweep(ctx context.Context) int {
	r.mu.Lock()
	snapshot := make(map[string]*Controller, len(r.ctrls))
	for id, c := range r.ctrls {
		snapshot[id] = c
	}
	r.mu.Unlock()

	dropped := 0
	for id, c := range snapshot {
		user, err := c.identity.CurrentUser(ctx)
		if err != nil || user != nil {
			continue
		}
		if cur, ok := r.remove(id); ok {
			cur.closeWith(ErrNotAuthenticated)
			dropped++
		}
	}
	if dropped > 0 {
		slog.Info("expired feed controllers dropped", "count", dropped)
	}
	return dropped
}

// RunJanitor sweeps every interval until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Close closes every controller.
func (r *Registry) Close() {
	r.mu.Lock()
	ctrls := r.ctrls
	r.ctrls = make(map[string]*Controller)
	activeControllers.Set(0)
	r.mu.Unlock()
	for _, c := range ctrls {
		c.Close()
	}
}
