// Package threadpolicy resolves a user's rank within a thread and gates
// every thread operation on it.
//
// Rank tiers:
//   - 4: the thread's creator, regardless of any stored membership
//   - 3: a member with role owner
//   - 2: a member with role editor
//   - 1: a member with role viewer
//   - 0: everyone else, and any user of a missing or deleted thread
//
// Ranks are recomputed from the store on every check; membership and
// creator status can change between requests, so nothing here is cached.
package threadpolicy

import (
	"context"

	"github.com/arborhq/arbor/internal/app/system/metrics"
	"github.com/arborhq/arbor/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Rank tiers. RankCreator outranks RankOwner so creator-only rules hold
// even against owner-role members.
const (
	RankNone    = 0
	RankViewer  = 1
	RankEditor  = 2
	RankOwner   = 3
	RankCreator = 4
)

// Operations gated by rank.
const (
	OpViewMessage   = "view_message"
	OpSendMessage   = "send_message"
	OpEditMessage   = "edit_message"
	OpDeleteMessage = "delete_message"
	OpQuitThread    = "quit_thread"
	OpInviteMember  = "invite_member"
	OpKickMember    = "kick_member"
	OpEditTitle     = "edit_title"
	OpDeleteThread  = "delete_thread"
)

// minRank is the authoritative operation table. Operations absent from it
// are denied at any rank.
var minRank = map[string]int{
	OpViewMessage:   RankViewer,
	OpQuitThread:    RankViewer,
	OpSendMessage:   RankEditor,
	OpEditMessage:   RankEditor,
	OpDeleteMessage: RankEditor,
	OpInviteMember:  RankOwner,
	OpKickMember:    RankOwner,
	OpEditTitle:     RankCreator,
	OpDeleteThread:  RankCreator,
}

// roleRank maps stored membership roles to rank. Unknown roles rank 0.
var roleRank = map[string]int{
	models.RoleViewer: RankViewer,
	models.RoleEditor: RankEditor,
	models.RoleOwner:  RankOwner,
}

// Rank resolves userID's rank in threadID. A missing or deleted thread
// yields 0, never an error; store failures are surfaced so callers fail
// closed rather than guess.
func Rank(ctx context.Context, db *mongo.Database, userID, threadID primitive.ObjectID) (int, error) {
	var th struct {
		CreatorID primitive.ObjectID `bson:"creator_id"`
	}
	err := db.Collection("threads").FindOne(ctx,
		bson.M{"_id": threadID, "is_deleted": false},
		options.FindOne().SetProjection(bson.M{"creator_id": 1}),
	).Decode(&th)
	if err == mongo.ErrNoDocuments {
		return RankNone, nil
	}
	if err != nil {
		return RankNone, err
	}

	if th.CreatorID == userID {
		return RankCreator, nil
	}

	var mem struct {
		Role string `bson:"role"`
	}
	err = db.Collection("thread_memberships").FindOne(ctx,
		bson.M{"thread_id": threadID, "user_id": userID},
		options.FindOne().SetProjection(bson.M{"role": 1}),
	).Decode(&mem)
	if err == mongo.ErrNoDocuments {
		return RankNone, nil
	}
	if err != nil {
		return RankNone, err
	}
	return roleRank[mem.Role], nil
}

// Allowed reports whether userID may perform op on threadID. Unknown
// operations are always denied.
func Allowed(ctx context.Context, db *mongo.Database, userID, threadID primitive.ObjectID, op string) (bool, error) {
	min, known := minRank[op]
	if !known {
		metrics.GateDenials.WithLabelValues(op).Inc()
		return false, nil
	}
	rank, err := Rank(ctx, db, userID, threadID)
	if err != nil {
		return false, err
	}
	if rank < min {
		metrics.GateDenials.WithLabelValues(op).Inc()
		return false, nil
	}
	return true, nil
}

// IsCreator reports whether userID is the creator of a live thread. Used
// for the rules rank alone cannot express: owner-role changes, owner
// removal, and ownership transfer are creator-only.
func IsCreator(ctx context.Context, db *mongo.Database, userID, threadID primitive.ObjectID) (bool, error) {
	rank, err := Rank(ctx, db, userID, threadID)
	if err != nil {
		return false, err
	}
	return rank == RankCreator, nil
}
