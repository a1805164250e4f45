// Package hooks receives events from the external identity provider. The
// one event we care about is identity-created: an invited person finished
// signup, so their pending invite (if any) should be accepted.
//
// Events are authenticated with an HMAC-SHA256 signature over the raw body,
// keyed by a shared secret, carried in X-Arbor-Signature as hex.
package hooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	invitestore "github.com/arborhq/arbor/internal/app/store/invites"
	membershipstore "github.com/arborhq/arbor/internal/app/store/memberships"
	userstore "github.com/arborhq/arbor/internal/app/store/users"
	"github.com/arborhq/arbor/internal/app/system/normalize"
	"github.com/arborhq/arbor/internal/app/system/respond"
	"github.com/arborhq/arbor/internal/app/system/timeouts"
	"github.com/arborhq/arbor/internal/app/system/txn"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const signatureHeader = "X-Arbor-Signature"

// maxBodySize caps hook payloads; identity events are tiny.
const maxBodySize = 64 << 10

type Handler struct {
	DB          *mongo.Database
	Invites     *invitestore.Store
	Users       *userstore.Store
	Memberships *membershipstore.Store
	Secret      []byte
	Log         *zap.Logger
}

func NewHandler(db *mongo.Database, secret string, logger *zap.Logger) *Handler {
	return &Handler{
		DB:          db,
		Invites:     invitestore.New(db),
		Users:       userstore.New(db),
		Memberships: membershipstore.New(db),
		Secret:      []byte(secret),
		Log:         logger,
	}
}

// IdentityCreated handles POST /hooks/identity-created.
//
// The flow mirrors §membership acceptance: find the most recent unaccepted
// invite for (email, thread); if none, the event is a no-op and still
// answers 200 so the sender stops retrying. Otherwise mark it accepted,
// upsert the profile, and join the thread with the invite's stored role as
// one atomic unit.
func (h *Handler) IdentityCreated(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		respond.Invalid(w, "unreadable body")
		return
	}
	if !h.verify(r.Header.Get(signatureHeader), body) {
		respond.Forbidden(w, "bad signature")
		return
	}

	var ev struct {
		Email    string `json:"email"`
		FullName string `json:"full_name,omitempty"`
		ThreadID string `json:"thread_id"`
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		respond.Invalid(w, "invalid request body")
		return
	}
	ev.Email = normalize.Email(ev.Email)
	if ev.Email == "" {
		respond.Invalid(w, "email is required")
		return
	}
	threadID, err := primitive.ObjectIDFromHex(ev.ThreadID)
	if err != nil {
		respond.Invalid(w, "invalid thread id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	inv, err := h.Invites.LatestUnaccepted(ctx, ev.Email, threadID)
	if err == invitestore.ErrNotFound {
		// Nothing pending for this pair; the event is stale or duplicated.
		respond.JSON(w, http.StatusOK, map[string]any{"ok": true, "accepted": false})
		return
	}
	if err != nil {
		h.Log.Error("invite lookup failed", zap.Error(err))
		respond.Dependency(w)
		return
	}

	name := ev.FullName
	if name == "" {
		name = ev.Email
	}
	err = txn.WithTransaction(ctx, h.DB.Client(), func(sessCtx mongo.SessionContext) error {
		if err := h.Invites.MarkAccepted(sessCtx, inv.ID); err != nil {
			return err
		}
		u, err := h.Users.UpsertByEmail(sessCtx, ev.Email, name, "invite")
		if err != nil {
			return err
		}
		return h.Memberships.Upsert(sessCtx, inv.ThreadID, u.ID, inv.Role)
	})
	if err != nil {
		if err == invitestore.ErrAlreadyAccepted {
			// A concurrent acceptance won; the outcome the sender wanted holds.
			respond.JSON(w, http.StatusOK, map[string]any{"ok": true, "accepted": false})
			return
		}
		if txn.IsNotSupported(err) {
			h.Log.Error("invite acceptance requires a replica set; refusing non-atomic fallback", zap.Error(err))
		} else {
			h.Log.Error("identity-created handling failed", zap.Error(err))
		}
		respond.Dependency(w)
		return
	}

	h.Log.Info("invite accepted via identity event",
		zap.String("thread_id", inv.ThreadID.Hex()),
		zap.String("role", inv.Role))
	respond.JSON(w, http.StatusOK, map[string]any{"ok": true, "accepted": true})
}

func (h *Handler) verify(signature string, body []byte) bool {
	if len(h.Secret) == 0 || signature == "" {
		return false
	}
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.Secret)
	mac.Write(body)
	return hmac.Equal(want, mac.Sum(nil))
}
