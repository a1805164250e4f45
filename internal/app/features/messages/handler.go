// Package messages exposes the message endpoints of a thread: tree reads,
// single sends, subtree paste, content edits, deletion, and the edit lock.
package messages

import (
	"context"
	"net/http"

	"github.com/arborhq/arbor/internal/app/policy/threadpolicy"
	messagestore "github.com/arborhq/arbor/internal/app/store/messages"
	"github.com/arborhq/arbor/internal/app/system/authz"
	"github.com/arborhq/arbor/internal/app/system/metrics"
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
	DB       *mongo.Database
	Messages *messagestore.Store
	Log      *zap.Logger
}

func NewHandler(db *mongo.Database, logger *zap.Logger) *Handler {
	return &Handler{
		DB:       db,
		Messages: messagestore.New(db),
		Log:      logger,
	}
}

// List handles GET /threads/{threadID}/messages. The flat list is
// reconstructed into reply trees; messages whose parent is missing are
// returned separately as orphans and logged, never silently dropped.
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

	msgs, err := h.Messages.ListByThread(ctx, threadID)
	if err != nil {
		h.Log.Error("list messages failed", zap.Error(err))
		respond.Dependency(w)
		return
	}

	roots, orphans, err := messagestore.BuildTree(msgs)
	if err != nil {
		h.Log.Error("message tree is corrupt",
			zap.String("thread_id", threadID.Hex()), zap.Error(err))
		respond.Dependency(w)
		return
	}
	if len(orphans) > 0 {
		h.Log.Warn("thread has orphaned messages",
			zap.String("thread_id", threadID.Hex()),
			zap.Int("orphans", len(orphans)))
	}

	respond.JSON(w, http.StatusOK, map[string]any{
		"roots":   roots,
		"orphans": orphans,
	})
}

// Send handles POST /threads/{threadID}/messages. Human sends require
// send rank; publisher "ai" bypasses the gate because system-authored
// content is privileged, and carries no author id.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := authz.UserCtx(r)
	if !ok {
		respond.Unauthorized(w)
		return
	}
	threadID, ok := h.threadID(w, r)
	if !ok {
		return
	}

	req, err := decodeSendRequest(r)
	if err != nil {
		respond.Invalid(w, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	in := messagestore.CreateInput{
		ThreadID:    threadID,
		ParentID:    req.parentID,
		Publisher:   req.publisher,
		Blocks:      req.blocks,
		ModelConfig: req.modelConfig,
	}
	if req.publisher == models.PublisherAI {
		// Gate bypass: the caller still has to be in the thread at all.
		if !h.gate(ctx, w, userID, threadID, threadpolicy.OpViewMessage) {
			return
		}
	} else {
		if !h.gate(ctx, w, userID, threadID, threadpolicy.OpSendMessage) {
			return
		}
		in.UserID = &userID
	}

	m, err := h.Messages.Create(ctx, in)
	if err != nil {
		if err == messagestore.ErrParentNotFound {
			respond.NotFound(w, "parent message not found in this thread")
			return
		}
		h.Log.Error("send message failed", zap.Error(err))
		respond.Dependency(w)
		return
	}
	respond.JSON(w, http.StatusCreated, m)
}

// Paste handles POST /threads/{threadID}/messages/paste: a whole subtree is
// inserted under one gate check, all-or-nothing.
func (h *Handler) Paste(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := authz.UserCtx(r)
	if !ok {
		respond.Unauthorized(w)
		return
	}
	threadID, ok := h.threadID(w, r)
	if !ok {
		return
	}

	parentID, root, err := decodePasteRequest(r)
	if err != nil {
		respond.Invalid(w, err.Error())
		return
	}

	inputs, err := messagestore.FlattenPaste(threadID, parentID, root)
	if err != nil {
		respond.Invalid(w, err.Error())
		return
	}
	// Pasted human content is attributed to the paster; AI nodes stay
	// authorless.
	for i := range inputs {
		if inputs[i].Publisher == models.PublisherUser {
			inputs[i].UserID = &userID
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	if !h.gate(ctx, w, userID, threadID, threadpolicy.OpSendMessage) {
		return
	}

	var inserted []models.Message
	err = txn.WithTransaction(ctx, h.DB.Client(), func(sessCtx mongo.SessionContext) error {
		var err error
		inserted, err = h.Messages.InsertTree(sessCtx, inputs)
		return err
	})
	if err != nil {
		if err == messagestore.ErrParentNotFound {
			respond.NotFound(w, "parent message not found in this thread")
			return
		}
		if txn.IsNotSupported(err) {
			h.Log.Error("paste requires a replica set; refusing non-atomic fallback", zap.Error(err))
		} else {
			h.Log.Error("paste failed", zap.Error(err))
		}
		respond.Dependency(w)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]any{"messages": inserted})
}

// Edit handles PUT /threads/{threadID}/messages/{messageID}. Content is
// replaced wholesale and the edit lock cleared in the same write.
// AI-authored messages are editable without a rank check, mirroring the
// send-gate bypass.
func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := authz.UserCtx(r)
	if !ok {
		respond.Unauthorized(w)
		return
	}
	threadID, messageID, ok := h.messageIDs(w, r)
	if !ok {
		return
	}

	req, err := decodeEditRequest(r)
	if err != nil {
		respond.Invalid(w, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	m, err := h.Messages.Get(ctx, threadID, messageID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	// The bypass waives rank, not membership: the caller still needs to be
	// in the thread at all.
	if m.Publisher == models.PublisherAI {
		if !h.gate(ctx, w, userID, threadID, threadpolicy.OpViewMessage) {
			return
		}
	} else if !h.gate(ctx, w, userID, threadID, threadpolicy.OpEditMessage) {
		return
	}
	if m.Locked() && !m.LockedBy(userID) {
		respond.Conflict(w, "message is being edited by another user")
		return
	}

	if err := h.Messages.EditContent(ctx, threadID, messageID, req.blocks); err != nil {
		h.writeStoreError(w, err)
		return
	}

	updated, err := h.Messages.Get(ctx, threadID, messageID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /threads/{threadID}/messages/{messageID}?policy=…
// The policy parameter picks one of subtree, clear-children, or
// keep-children; anything else falls back to keep-children.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := authz.UserCtx(r)
	if !ok {
		respond.Unauthorized(w)
		return
	}
	threadID, messageID, ok := h.messageIDs(w, r)
	if !ok {
		return
	}
	policy := messagestore.ParseDeletePolicy(r.URL.Query().Get("policy"))

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	if !h.gate(ctx, w, userID, threadID, threadpolicy.OpDeleteMessage) {
		return
	}

	err := txn.WithTransaction(ctx, h.DB.Client(), func(sessCtx mongo.SessionContext) error {
		return h.Messages.Delete(sessCtx, threadID, messageID, policy)
	})
	if err != nil {
		if err == messagestore.ErrNotFound {
			respond.NotFound(w, "message not found")
			return
		}
		if txn.IsNotSupported(err) {
			h.Log.Error("delete requires a replica set; refusing non-atomic fallback", zap.Error(err))
		} else {
			h.Log.Error("delete message failed", zap.Error(err))
		}
		respond.Dependency(w)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"ok": true, "policy": string(policy)})
}

// Lock handles POST /threads/{threadID}/messages/{messageID}/lock. A held
// lock answers 409 so clients can retry with backoff, which is never the
// right response to a 403.
func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := authz.UserCtx(r)
	if !ok {
		respond.Unauthorized(w)
		return
	}
	threadID, messageID, ok := h.messageIDs(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if !h.gate(ctx, w, userID, threadID, threadpolicy.OpEditMessage) {
		return
	}

	m, err := h.Messages.AcquireEditLock(ctx, threadID, messageID, userID)
	if err == messagestore.ErrLockHeld {
		metrics.LockConflicts.Inc()
		respond.Conflict(w, "message is being edited by another user")
		return
	}
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	metrics.LockAcquires.Inc()
	respond.JSON(w, http.StatusOK, m)
}

// Unlock handles DELETE /threads/{threadID}/messages/{messageID}/lock.
// Unlocking a message someone else holds is a no-op, so stale unlock
// requests after an edit completes are harmless.
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := authz.UserCtx(r)
	if !ok {
		respond.Unauthorized(w)
		return
	}
	threadID, messageID, ok := h.messageIDs(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if !h.gate(ctx, w, userID, threadID, threadpolicy.OpEditMessage) {
		return
	}

	if err := h.Messages.ReleaseEditLock(ctx, threadID, messageID, userID); err != nil {
		h.writeStoreError(w, err)
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

func (h *Handler) messageIDs(w http.ResponseWriter, r *http.Request) (threadID, messageID primitive.ObjectID, ok bool) {
	threadID, ok = h.threadID(w, r)
	if !ok {
		return
	}
	messageID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "messageID"))
	if err != nil {
		respond.Invalid(w, "invalid message id")
		return primitive.NilObjectID, primitive.NilObjectID, false
	}
	return threadID, messageID, true
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

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	if err == messagestore.ErrNotFound {
		respond.NotFound(w, "message not found")
		return
	}
	h.Log.Error("message store error", zap.Error(err))
	respond.Dependency(w)
}
