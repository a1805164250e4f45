// Package threads exposes thread lifecycle endpoints: create, list, rename,
// delete, pin, and ownership transfer.
package threads

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/arborhq/arbor/internal/app/policy/threadpolicy"
	membershipstore "github.com/arborhq/arbor/internal/app/store/memberships"
	messagestore "github.com/arborhq/arbor/internal/app/store/messages"
	threadstore "github.com/arborhq/arbor/internal/app/store/threads"
	"github.com/arborhq/arbor/internal/app/system/authz"
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
	Messages    *messagestore.Store
	Log         *zap.Logger
}

func NewHandler(db *mongo.Database, logger *zap.Logger) *Handler {
	return &Handler{
		DB:          db,
		Threads:     threadstore.New(db),
		Memberships: membershipstore.New(db),
		Messages:    messagestore.New(db),
		Log:         logger,
	}
}

// threadView is a thread plus the caller's relationship to it.
type threadView struct {
	models.Thread
	Rank   int  `json:"rank"`
	Pinned bool `json:"pinned"`
}

// Create handles POST /threads. The creator gets an explicit owner
// membership row alongside their implicit creator rank, so member listings
// include them.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := authz.UserCtx(r)
	if !ok {
		respond.Unauthorized(w)
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.Invalid(w, "invalid request body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		respond.Invalid(w, "title is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	th, err := h.Threads.Create(ctx, req.Title, userID)
	if err != nil {
		h.Log.Error("create thread failed", zap.Error(err))
		respond.Dependency(w)
		return
	}
	if err := h.Memberships.Upsert(ctx, th.ID, userID, models.RoleOwner); err != nil {
		h.Log.Error("create thread: creator membership failed",
			zap.String("thread_id", th.ID.Hex()), zap.Error(err))
		respond.Dependency(w)
		return
	}

	respond.JSON(w, http.StatusCreated, threadView{Thread: th, Rank: threadpolicy.RankCreator})
}

// List handles GET /threads: every thread the caller belongs to.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := authz.UserCtx(r)
	if !ok {
		respond.Unauthorized(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	mems, err := h.Memberships.ListByUser(ctx, userID)
	if err != nil {
		h.Log.Error("list memberships failed", zap.Error(err))
		respond.Dependency(w)
		return
	}

	ids := make([]primitive.ObjectID, 0, len(mems))
	byThread := make(map[primitive.ObjectID]models.ThreadMembership, len(mems))
	for _, m := range mems {
		ids = append(ids, m.ThreadID)
		byThread[m.ThreadID] = m
	}

	threads, err := h.Threads.ListByIDs(ctx, ids)
	if err != nil {
		h.Log.Error("list threads failed", zap.Error(err))
		respond.Dependency(w)
		return
	}

	// Creator status is independent of membership rows, so the listing is
	// the union of both: a creator whose explicit row is gone still sees
	// their thread.
	created, err := h.Threads.ListByCreator(ctx, userID)
	if err != nil {
		h.Log.Error("list created threads failed", zap.Error(err))
		respond.Dependency(w)
		return
	}
	seen := make(map[primitive.ObjectID]bool, len(threads))
	for _, th := range threads {
		seen[th.ID] = true
	}
	for _, th := range created {
		if !seen[th.ID] {
			threads = append(threads, th)
		}
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].CreatedAt.After(threads[j].CreatedAt)
	})

	views := make([]threadView, 0, len(threads))
	for _, th := range threads {
		mem := byThread[th.ID]
		rank := roleRank(mem.Role)
		if th.CreatorID == userID {
			rank = threadpolicy.RankCreator
		}
		views = append(views, threadView{Thread: th, Rank: rank, Pinned: mem.Pinned})
	}
	respond.JSON(w, http.StatusOK, map[string]any{"threads": views})
}

func roleRank(role string) int {
	switch role {
	case models.RoleOwner:
		return threadpolicy.RankOwner
	case models.RoleEditor:
		return threadpolicy.RankEditor
	case models.RoleViewer:
		return threadpolicy.RankViewer
	default:
		return threadpolicy.RankNone
	}
}

// Get handles GET /threads/{threadID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := authz.UserCtx(r)
	if !ok {
		respond.Unauthorized(w)
		return
	}
	threadID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "threadID"))
	if err != nil {
		respond.Invalid(w, "invalid thread id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	th, err := h.Threads.Get(ctx, threadID)
	if err == threadstore.ErrNotFound {
		respond.NotFound(w, "thread not found")
		return
	}
	if err != nil {
		h.Log.Error("get thread failed", zap.Error(err))
		respond.Dependency(w)
		return
	}

	rank, err := threadpolicy.Rank(ctx, h.DB, userID, threadID)
	if err != nil {
		h.Log.Error("rank check failed", zap.Error(err))
		respond.Dependency(w)
		return
	}
	if rank < threadpolicy.RankViewer {
		respond.Forbidden(w, "")
		return
	}

	pinned := false
	if mem, err := h.Memberships.Get(ctx, threadID, userID); err == nil {
		pinned = mem.Pinned
	}
	respond.JSON(w, http.StatusOK, threadView{Thread: *th, Rank: rank, Pinned: pinned})
}

// Rename handles PUT /threads/{threadID}/title. Creator only.
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := authz.UserCtx(r)
	if !ok {
		respond.Unauthorized(w)
		return
	}
	threadID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "threadID"))
	if err != nil {
		respond.Invalid(w, "invalid thread id")
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.Invalid(w, "invalid request body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		respond.Invalid(w, "title is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	if !h.gate(ctx, w, userID, threadID, threadpolicy.OpEditTitle) {
		return
	}

	if err := h.Threads.Rename(ctx, threadID, req.Title); err != nil {
		if err == threadstore.ErrNotFound {
			respond.NotFound(w, "thread not found")
			return
		}
		h.Log.Error("rename thread failed", zap.Error(err))
		respond.Dependency(w)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Delete handles DELETE /threads/{threadID}. Creator only; removal is
// logical, so messages and memberships stay behind the deleted flag.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := authz.UserCtx(r)
	if !ok {
		respond.Unauthorized(w)
		return
	}
	threadID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "threadID"))
	if err != nil {
		respond.Invalid(w, "invalid thread id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	if !h.gate(ctx, w, userID, threadID, threadpolicy.OpDeleteThread) {
		return
	}

	if err := h.Threads.SoftDelete(ctx, threadID); err != nil {
		if err == threadstore.ErrNotFound {
			respond.NotFound(w, "thread not found")
			return
		}
		h.Log.Error("delete thread failed", zap.Error(err))
		respond.Dependency(w)
		return
	}
	// Cascade: a deleted thread's messages are unreachable through the
	// gate, but marking them keeps the message queries honest too.
	if err := h.Messages.DeleteByThread(ctx, threadID); err != nil {
		h.Log.Error("cascade message delete failed", zap.Error(err))
		respond.Dependency(w)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Pin handles POST /threads/{threadID}/pin. Any member may pin or unpin a
// thread in their own listing.
func (h *Handler) Pin(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := authz.UserCtx(r)
	if !ok {
		respond.Unauthorized(w)
		return
	}
	threadID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "threadID"))
	if err != nil {
		respond.Invalid(w, "invalid thread id")
		return
	}

	var req struct {
		Pinned bool `json:"pinned"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.Invalid(w, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if err := h.Memberships.SetPinned(ctx, threadID, userID, req.Pinned); err != nil {
		if err == membershipstore.ErrNotFound {
			respond.NotFound(w, "membership not found")
			return
		}
		h.Log.Error("pin thread failed", zap.Error(err))
		respond.Dependency(w)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Transfer handles POST /threads/{threadID}/transfer. Only the current
// creator may call it; the target must already be a member. Reassigning the
// creator, promoting the target, and demoting the old creator to an explicit
// owner row commit as one transaction.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := authz.UserCtx(r)
	if !ok {
		respond.Unauthorized(w)
		return
	}
	threadID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "threadID"))
	if err != nil {
		respond.Invalid(w, "invalid thread id")
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.Invalid(w, "invalid request body")
		return
	}
	targetID, err := primitive.ObjectIDFromHex(req.UserID)
	if err != nil {
		respond.Invalid(w, "invalid user id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	creator, err := threadpolicy.IsCreator(ctx, h.DB, userID, threadID)
	if err != nil {
		h.Log.Error("transfer: creator check failed", zap.Error(err))
		respond.Dependency(w)
		return
	}
	if !creator {
		respond.Forbidden(w, "only the thread creator can transfer ownership")
		return
	}
	if targetID == userID {
		respond.Invalid(w, "cannot transfer a thread to yourself")
		return
	}
	if _, err := h.Memberships.Get(ctx, threadID, targetID); err != nil {
		if err == membershipstore.ErrNotFound {
			respond.NotFound(w, "target user is not a member of this thread")
			return
		}
		h.Log.Error("transfer: membership lookup failed", zap.Error(err))
		respond.Dependency(w)
		return
	}

	err = txn.WithTransaction(ctx, h.DB.Client(), func(sessCtx mongo.SessionContext) error {
		if err := h.Threads.SetCreator(sessCtx, threadID, targetID); err != nil {
			return err
		}
		if err := h.Memberships.UpdateRole(sessCtx, threadID, targetID, models.RoleOwner); err != nil {
			return err
		}
		// The old creator drops from implicit rank to an explicit owner row.
		if err := h.Memberships.Upsert(sessCtx, threadID, userID, models.RoleOwner); err != nil {
			return err
		}
		return h.Memberships.UpdateRole(sessCtx, threadID, userID, models.RoleOwner)
	})
	if err != nil {
		if txn.IsNotSupported(err) {
			h.Log.Error("transfer requires a replica set; refusing non-atomic fallback", zap.Error(err))
		} else {
			h.Log.Error("transfer failed", zap.Error(err))
		}
		respond.Dependency(w)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"ok": true, "creator_id": targetID.Hex()})
}

// gate runs the operation gate and writes the denial response itself.
// Returns true when the caller may proceed.
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
