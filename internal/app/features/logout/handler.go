// internal/app/features/logout/handler.go
package logout

import (
	"net/http"

	"github.com/arborhq/arbor/internal/app/system/auth"
	"github.com/arborhq/arbor/internal/app/system/respond"
	"go.uber.org/zap"
)

type Handler struct {
	Log        *zap.Logger
	SessionMgr *auth.SessionManager
}

func NewHandler(sessionMgr *auth.SessionManager, logger *zap.Logger) *Handler {
	return &Handler{
		Log:        logger,
		SessionMgr: sessionMgr,
	}
}

// ServeLogout handles POST /logout.
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.SessionMgr.SignOut(w, r); err != nil {
		h.Log.Error("logout: clear session failed", zap.Error(err))
		respond.Dependency(w)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"ok": true})
}
