// internal/app/features/invites/routes.go
package invites

import "github.com/go-chi/chi/v5"

// Routes returns the invite acceptance routes, mounted under /invites.
// These are reachable without a session: the recipient may not have an
// account yet.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/{inviteID}/accept", h.Accept)
	return r
}
