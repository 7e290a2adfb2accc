package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/micro-nova/simcontacts/internal/auth"
	"github.com/micro-nova/simcontacts/internal/models"
)

// NewRouter creates and returns the main HTTP router.
func NewRouter(ctrl Controller, contacts Contacts, bus EventBus, info models.Info, authSvc *auth.Service) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(middleware.CleanPath)
	r.Use(middleware.GetHead)

	h := &Handlers{ctrl: ctrl, contacts: contacts, events: bus, info: info}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, models.ErrNotFound("no route for "+r.URL.Path))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(authSvc.Middleware)

		// Contacts
		r.Get("/contacts", h.getContacts)
		r.Get("/contacts.vcf", h.getContactsFile)

		// Import state
		r.Get("/modems", h.getModems)
		r.Get("/campaign", h.getCampaign)
		r.Post("/refresh", h.refresh)

		// System
		r.Get("/info", h.getInfo)

		// SSE
		r.Get("/subscribe", h.sseEvents)
	})

	return r
}

// corsMiddleware adds permissive CORS headers for local network access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, api-key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
