// internal/app/features/threads/routes.go
package threads

import "github.com/go-chi/chi/v5"

// Routes returns the thread lifecycle routes, mounted under /threads.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{threadID}", h.Get)
	r.Put("/{threadID}/title", h.Rename)
	r.Delete("/{threadID}", h.Delete)
	r.Post("/{threadID}/pin", h.Pin)
	r.Post("/{threadID}/transfer", h.Transfer)
	return r
}
