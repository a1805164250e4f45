// internal/app/features/members/routes.go
package members

import "github.com/go-chi/chi/v5"

// Routes returns the membership routes, mounted under /threads/{threadID}/members.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/invites", h.Invite)
	r.Post("/quit", h.Quit)
	r.Put("/{userID}", h.UpdateRole)
	r.Delete("/{userID}", h.Kick)
	return r
}
