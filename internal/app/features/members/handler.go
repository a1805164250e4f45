// Package members manages thread membership: listing, batch invitations,
// role changes, kicks, and voluntary leave.
//
// Owner-role rows get extra protection beyond the rank gate: only the
// thread's creator may grant, change, or remove an owner membership, and the
// creator can never be kicked at all.
package members

import (
	"context"
	"fmt"
	"net/http"

	"github.com/arborhq/arbor/internal/app/policy/threadpolicy"
	invitestore "github.com/arborhq/arbor/internal/app/store/invites"
	membershipstore "github.com/arborhq/arbor/internal/app/store/memberships"
	threadstore "github.com/arborhq/arbor/internal/app/store/threads"
	userstore "github.com/arborhq/arbor/internal/app/store/users"
	"github.com/arborhq/arbor/internal/app/system/authz"
	"github.com/arborhq/arbor/internal/app/system/mailer"
	"github.com/arborhq/arbor/internal/app/system/normalize"
	"github.com/arborhq/arbor/internal/app/system/respond"
	"github.com/arborhq/arbor/internal/app/system/timeouts"
	"github.com/arborhq/arbor/internal/app/system/txn"
	"github.com/arborhq/arbor/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type Handler struct {
	DB          *mongo.Database
	Threads     *threadstore.Store
	Memberships *membershipstore.Store
	Users       *userstore.Store
	Invites     *invitestore.Store
	Mailer      *mailer.Mailer // nil when outbound mail is not configured
	BaseURL     string
	SiteName    string
	Log         *zap.Logger
}

func NewHandler(db *mongo.Database, m *mailer.Mailer, baseURL, siteName string, logger *zap.Logger) *Handler {
	return &Handler{
		DB:          db,
		Threads:     threadstore.New(db),
		Memberships: membershipstore.New(db),
		Users:       userstore.New(db),
		Invites:     invitestore.New(db),
		Mailer:      m,
		BaseURL:     baseURL,
		SiteName:    siteName,
		Log:         logger,
	}
}

// memberView joins a membership row with its user profile.
type memberView struct {
	UserID    string `json:"user_id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	IsCreator bool   `json:"is_creator"`
}

// List handles GET /threads/{threadID}/members.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := authz.UserCtx(r)
	if !ok {
		respond.Unauthorized(w)
		return
	}
	threadID, ok := h.threadID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	if !h.gate(ctx, w, userID, threadID, threadpolicy.OpViewMessage) {
		return
	}

	th, err := h.Threads.Get(ctx, threadID)
	if err != nil {
		h.writeThreadError(w, err)
		return
	}
	mems, err := h.Memberships.ListByThread(ctx, threadID)
	if err != nil {
		h.Log.Error("list memberships failed", zap.Error(err))
		respond.Dependency(w)
		return
	}

	views := make([]memberView, 0, len(mems))
	for _, m := range mems {
		v := memberView{
			UserID:    m.UserID.Hex(),
			Role:      m.Role,
			IsCreator: m.UserID == th.CreatorID,
		}
		if u, err := h.Users.GetByID(ctx, m.UserID); err == nil {
			v.FullName = u.FullName
			v.Email = u.Email
		}
		views = append(views, v)
	}
	respond.JSON(w, http.StatusOK, map[string]any{"members": views})
}

// inviteEntry is one (email, role) pair of an invite batch.
type inviteEntry struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// inviteResult reports what happened to one entry.
type inviteResult struct {
	Email  string `json:"email"`
	Role   string `json:"role"`
	Status string `json:"status"` // "joined" for existing profiles, "invited" otherwise
}

// Invite handles POST /threads/{threadID}/members/invites. Each entry
// records an immutable invite; addresses with an existing profile join
// immediately, the rest get an out-of-band invitation. All store writes for
// the batch commit as one transaction; mail dispatch happens after commit
// and its failures never fail the request.
func (h *Handler) Invite(w http.ResponseWriter, r *http.Request) {
	inviterName, userID, ok := authz.UserCtx(r)
	if !ok {
		respond.Unauthorized(w)
		return
	}
	threadID, ok := h.threadID(w, r)
	if !ok {
		return
	}

	var req struct {
		Invites []inviteEntry `json:"invites"`
	}
	if err := respond.Decode(r, &req); err != nil || len(req.Invites) == 0 {
		respond.Invalid(w, "at least one invite entry is required")
		return
	}
	for i := range req.Invites {
		req.Invites[i].Email = normalize.Email(req.Invites[i].Email)
		if req.Invites[i].Email == "" {
			respond.Invalid(w, "every invite needs an email")
			return
		}
		if req.Invites[i].Role == "" {
			req.Invites[i].Role = models.RoleViewer
		} else {
			req.Invites[i].Role = normalize.Role(req.Invites[i].Role)
		}
		if !models.IsValidRole(req.Invites[i].Role) {
			respond.Invalid(w, fmt.Sprintf("unknown role %q", req.Invites[i].Role))
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	if !h.gate(ctx, w, userID, threadID, threadpolicy.OpInviteMember) {
		return
	}

	th, err := h.Threads.Get(ctx, threadID)
	if err != nil {
		h.writeThreadError(w, err)
		return
	}

	// Owner grants go through the same creator-only rule as role updates.
	for _, e := range req.Invites {
		if e.Role == models.RoleOwner && userID != th.CreatorID {
			respond.Forbidden(w, "only the thread creator can grant the owner role")
			return
		}
	}

	var results []inviteResult
	var outbound []mailer.Email
	err = txn.WithTransaction(ctx, h.DB.Client(), func(sessCtx mongo.SessionContext) error {
		results = results[:0]
		outbound = outbound[:0]
		for _, e := range req.Invites {
			created, err := h.Invites.Create(sessCtx, threadID, e.Email, e.Role, userID)
			if err != nil {
				return err
			}

			u, err := h.Users.GetByEmail(sessCtx, e.Email)
			if err == nil {
				if err := h.Memberships.Upsert(sessCtx, threadID, u.ID, e.Role); err != nil {
					return err
				}
				if err := h.Invites.MarkAccepted(sessCtx, created.Invite.ID); err != nil {
					return err
				}
				results = append(results, inviteResult{Email: e.Email, Role: e.Role, Status: "joined"})
				continue
			}
			if err != userstore.ErrNotFound {
				return err
			}

			outbound = append(outbound, mailer.BuildInviteEmail(e.Email, mailer.InviteEmailData{
				SiteName:    h.SiteName,
				InviterName: inviterName,
				ThreadTitle: th.Title,
				Role:        e.Role,
				AcceptLink: fmt.Sprintf("%s/invites/%s/accept?token=%s",
					h.BaseURL, created.Invite.ID.Hex(), created.Token),
			}))
			results = append(results, inviteResult{Email: e.Email, Role: e.Role, Status: "invited"})
		}
		return nil
	})
	if err != nil {
		if txn.IsNotSupported(err) {
			h.Log.Error("invite batch requires a replica set; refusing non-atomic fallback", zap.Error(err))
		} else {
			h.Log.Error("invite batch failed", zap.Error(err))
		}
		respond.Dependency(w)
		return
	}

	if len(outbound) > 0 {
		if h.Mailer != nil {
			// Fire-and-forget after commit; per-recipient failures are
			// logged inside the batch, never surfaced to the inviter.
			go h.Mailer.SendInviteBatch(outbound)
		} else {
			h.Log.Warn("mailer not configured, skipping invite dispatch",
				zap.Int("count", len(outbound)))
		}
	}
	respond.JSON(w, http.StatusOK, map[string]any{"results": results})
}

// UpdateRole handles PUT /threads/{threadID}/members/{userID}.
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := authz.UserCtx(r)
	if !ok {
		respond.Unauthorized(w)
		return
	}
	threadID, ok := h.threadID(w, r)
	if !ok {
		return
	}
	targetID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "userID"))
	if err != nil {
		respond.Invalid(w, "invalid user id")
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.Invalid(w, "invalid request body")
		return
	}
	req.Role = normalize.Role(req.Role)
	if !models.IsValidRole(req.Role) {
		respond.Invalid(w, fmt.Sprintf("unknown role %q", req.Role))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	if !h.gate(ctx, w, userID, threadID, threadpolicy.OpInviteMember) {
		return
	}

	existing, err := h.Memberships.Get(ctx, threadID, targetID)
	if err != nil {
		if err == membershipstore.ErrNotFound {
			respond.NotFound(w, "membership not found")
			return
		}
		h.Log.Error("membership lookup failed", zap.Error(err))
		respond.Dependency(w)
		return
	}

	// Touching an owner row in either direction is creator-only.
	if existing.Role == models.RoleOwner || req.Role == models.RoleOwner {
		creator, err := threadpolicy.IsCreator(ctx, h.DB, userID, threadID)
		if err != nil {
			h.Log.Error("creator check failed", zap.Error(err))
			respond.Dependency(w)
			return
		}
		if !creator {
			respond.Forbidden(w, "only the thread creator can change owner memberships")
			return
		}
	}

	if err := h.Memberships.UpdateRole(ctx, threadID, targetID, req.Role); err != nil {
		h.Log.Error("update role failed", zap.Error(err))
		respond.Dependency(w)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"ok": true, "role": req.Role})
}

// Kick handles DELETE /threads/{threadID}/members/{userID}. The creator can
// never be removed this way.
func (h *Handler) Kick(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := authz.UserCtx(r)
	if !ok {
		respond.Unauthorized(w)
		return
	}
	threadID, ok := h.threadID(w, r)
	if !ok {
		return
	}
	targetID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "userID"))
	if err != nil {
		respond.Invalid(w, "invalid user id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	if !h.gate(ctx, w, userID, threadID, threadpolicy.OpKickMember) {
		return
	}

	th, err := h.Threads.Get(ctx, threadID)
	if err != nil {
		h.writeThreadError(w, err)
		return
	}
	if targetID == th.CreatorID {
		respond.Forbidden(w, "the thread creator cannot be removed")
		return
	}

	existing, err := h.Memberships.Get(ctx, threadID, targetID)
	if err != nil {
		if err == membershipstore.ErrNotFound {
			respond.NotFound(w, "membership not found")
			return
		}
		h.Log.Error("membership lookup failed", zap.Error(err))
		respond.Dependency(w)
		return
	}
	if existing.Role == models.RoleOwner && userID != th.CreatorID {
		respond.Forbidden(w, "only the thread creator can remove an owner")
		return
	}

	if err := h.Memberships.Remove(ctx, threadID, targetID); err != nil {
		h.Log.Error("kick failed", zap.Error(err))
		respond.Dependency(w)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Quit handles POST /threads/{threadID}/members/quit: the caller removes
// their own membership. The creator cannot quit; they transfer ownership
// first or delete the thread.
func (h *Handler) Quit(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := authz.UserCtx(r)
	if !ok {
		respond.Unauthorized(w)
		return
	}
	threadID, ok := h.threadID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	if !h.gate(ctx, w, userID, threadID, threadpolicy.OpQuitThread) {
		return
	}

	th, err := h.Threads.Get(ctx, threadID)
	if err != nil {
		h.writeThreadError(w, err)
		return
	}
	if th.CreatorID == userID {
		respond.Forbidden(w, "the thread creator cannot quit; transfer ownership first")
		return
	}

	if err := h.Memberships.Remove(ctx, threadID, userID); err != nil {
		h.Log.Error("quit failed", zap.Error(err))
		respond.Dependency(w)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) threadID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "threadID"))
	if err != nil {
		respond.Invalid(w, "invalid thread id")
		return primitive.NilObjectID, false
	}
	return id, true
}

func (h *Handler) gate(ctx context.Context, w http.ResponseWriter, userID, threadID primitive.ObjectID, op string) bool {
	allowed, err := threadpolicy.Allowed(ctx, h.DB, userID, threadID, op)
	if err != nil {
		h.Log.Error("gate check failed", zap.String("op", op), zap.Error(err))
		respond.Dependency(w)
		return false
	}
	if !allowed {
		respond.Forbidden(w, "")
		return false
	}
	return true
}

func (h *Handler) writeThreadError(w http.ResponseWriter, err error) {
	if err == threadstore.ErrNotFound {
		respond.NotFound(w, "thread not found")
		return
	}
	h.Log.Error("thread lookup failed", zap.Error(err))
	respond.Dependency(w)
}
