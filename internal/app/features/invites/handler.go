// Package invites serves the invite acceptance link sent by email. The link
// carries the invite id and the plaintext token whose bcrypt hash we stored;
// a valid pair creates (or finds) the user profile and joins them to the
// thread with the invite's stored role, atomically.
package invites

import (
	"context"
	"net/http"
	"strings"

	invitestore "github.com/arborhq/arbor/internal/app/store/invites"
	membershipstore "github.com/arborhq/arbor/internal/app/store/memberships"
	userstore "github.com/arborhq/arbor/internal/app/store/users"
	"github.com/arborhq/arbor/internal/app/system/respond"
	"github.com/arborhq/arbor/internal/app/system/timeouts"
	"github.com/arborhq/arbor/internal/app/system/txn"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type Handler struct {
	DB          *mongo.Database
	Invites     *invitestore.Store
	Users       *userstore.Store
	Memberships *membershipstore.Store
	Log         *zap.Logger
}

func NewHandler(db *mongo.Database, logger *zap.Logger) *Handler {
	return &Handler{
		DB:          db,
		Invites:     invitestore.New(db),
		Users:       userstore.New(db),
		Memberships: membershipstore.New(db),
		Log:         logger,
	}
}

// Accept handles GET /invites/{inviteID}/accept?token=…
//
// Token verification happens before any mutation. A reused link answers 409
// so the recipient can tell "already a member" from "bad link".
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	inviteID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "inviteID"))
	if err != nil {
		respond.Invalid(w, "invalid invite id")
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		respond.Invalid(w, "token is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	inv, err := h.Invites.VerifyToken(ctx, inviteID, token)
	if err != nil {
		switch err {
		case invitestore.ErrNotFound:
			respond.NotFound(w, "invite not found")
		case invitestore.ErrInvalidToken:
			respond.Forbidden(w, "invalid invite token")
		case invitestore.ErrAlreadyAccepted:
			respond.Conflict(w, "this invite was already accepted")
		default:
			h.Log.Error("invite verification failed", zap.Error(err))
			respond.Dependency(w)
		}
		return
	}

	err = txn.WithTransaction(ctx, h.DB.Client(), func(sessCtx mongo.SessionContext) error {
		if err := h.Invites.MarkAccepted(sessCtx, inv.ID); err != nil {
			return err
		}
		u, err := h.Users.UpsertByEmail(sessCtx, inv.Email, nameFromEmail(inv.Email), "invite")
		if err != nil {
			return err
		}
		return h.Memberships.Upsert(sessCtx, inv.ThreadID, u.ID, inv.Role)
	})
	if err != nil {
		if err == invitestore.ErrAlreadyAccepted {
			respond.Conflict(w, "this invite was already accepted")
			return
		}
		if txn.IsNotSupported(err) {
			h.Log.Error("invite acceptance requires a replica set; refusing non-atomic fallback", zap.Error(err))
		} else {
			h.Log.Error("invite acceptance failed", zap.Error(err))
		}
		respond.Dependency(w)
		return
	}

	respond.JSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"thread_id": inv.ThreadID.Hex(),
		"role":      inv.Role,
	})
}

// nameFromEmail gives a placeholder display name until the person fills in
// a profile.
func nameFromEmail(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
