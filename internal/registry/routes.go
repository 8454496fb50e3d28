package registry

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SetupRoutes mounts the registry API. writeLimit, when set, guards the
// endpoints that trigger outbound probes.
func SetupRoutes(h *Handler, writeLimit func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", h.Health)
	r.Get("/instances", h.ListInstances)
	r.Get("/registrations", h.RegistrationStatus)
	r.Delete("/registrations", h.Deregister)

	r.Group(func(r chi.Router) {
		if writeLimit != nil {
			r.Use(writeLimit)
		}
		r.Post("/registrations", h.Register)
		r.Post("/registrations/refresh", h.Refresh)
	})

	return r
}
