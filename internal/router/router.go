// Package router sets up all HTTP routes and middleware chains for the
// postfeed API. It organizes routes into public auth endpoints and the
// session-protected feed group.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"postfeed/internal/handlers"
	"postfeed/internal/middleware"
)

// New creates and returns the configured Chi router with all middleware
// and route groups wired up. authLimiter throttles sign-up and login per
// client IP; it may be nil.
func New(sessions middleware.SessionLoader, auth *handlers.Auth, posts *handlers.Feed, authLimiter *middleware.RateLimiter) chi.Router {
	r := chi.NewRouter()

	// Global middleware, applied to every request.
	r.Use(chimw.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.LoadSession(sessions))

	r.Get("/health", healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if authLimiter != nil {
				r.Use(authLimiter.Middleware)
			}
			r.Post("/signup", auth.Signup)
			r.Post("/login", auth.Login)
		})
		r.Post("/logout", auth.Logout)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth)

		r.Get("/feed", posts.List)
		r.Get("/feed/live", posts.Live)

		r.Route("/posts", func(r chi.Router) {
			r.Post("/", posts.Create)
			r.Delete("/edit", posts.CancelEdit)
			r.Get("/{id}", posts.Show)
			r.Put("/{id}", posts.Update)
			r.Delete("/{id}", posts.Delete)
			r.Post("/{id}/edit", posts.BeginEdit)
		})
	})

	return r
}

// healthHandler returns a simple JSON health check response.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
