// Package api exposes the participant and researcher HTTP surface.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kfilewski/conversbot/internal/logger"
	"github.com/kfilewski/conversbot/internal/middleware"
	"github.com/kfilewski/conversbot/internal/rowstore"
	"github.com/kfilewski/conversbot/internal/study"
)

// Router bundles the handlers with their dependencies.
type Router struct {
	log      *logger.Logger
	sessions *study.SessionService
	auth     *study.AuthService
	store    rowstore.RowStore
}

func NewRouter(log *logger.Logger, sessions *study.SessionService, auth *study.AuthService, store rowstore.RowStore) *Router {
	return &Router{log: log.With("component", "api"), sessions: sessions, auth: auth, store: store}
}

// Handler builds the route tree. Participant endpoints are open; the export
// endpoint requires a researcher token.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS)
	r.Use(middleware.WithAuth)

	r.Get("/health", rt.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", rt.handleCreateSession)
			r.Get("/{id}", rt.handleGetSession)
			r.Post("/{id}/advance", rt.handleAdvance)
			r.Post("/{id}/messages", rt.handleMessage)
			r.Get("/{id}/timer", rt.handleTimer)
			r.Post("/{id}/turns/{index}/reveal", rt.handleReveal)
		})
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", rt.handleRegister)
			r.Post("/login", rt.handleLogin)
		})
		r.With(middleware.RequireAuth).Get("/export", rt.handleExport)
	})
	return r
}
