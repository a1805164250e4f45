// internal/app/features/hooks/routes.go
package hooks

import "github.com/go-chi/chi/v5"

// Routes returns the inbound event routes, mounted under /hooks. They are
// authenticated by signature, not session.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/identity-created", h.IdentityCreated)
	return r
}
