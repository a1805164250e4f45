// internal/app/features/messages/routes.go
package messages

import "github.com/go-chi/chi/v5"

// Routes returns the message routes, mounted under /threads/{threadID}/messages.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Send)
	r.Post("/paste", h.Paste)
	r.Put("/{messageID}", h.Edit)
	r.Delete("/{messageID}", h.Delete)
	r.Post("/{messageID}/lock", h.Lock)
	r.Delete("/{messageID}/lock", h.Unlock)
	return r
}
