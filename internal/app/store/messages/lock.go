// internal/app/store/messages/lock.go
package messagestore

import (
	"context"
	"time"

	"github.com/arborhq/arbor/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AcquireEditLock claims the edit lock on a message for userID. The claim is
// a single conditional update: it succeeds only when the lock is free or
// already held by the same user (re-acquire refreshes the timestamp). Locks
// have no TTL; they are released explicitly or cleared by a content commit.
func (s *Store) AcquireEditLock(ctx context.Context, threadID, id, userID primitive.ObjectID) (*models.Message, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m models.Message
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{
			"_id":        id,
			"thread_id":  threadID,
			"is_deleted": false,
			"$or": bson.A{
				bson.M{"editing_by": nil},
				bson.M{"editing_by": userID},
			},
		},
		bson.M{"$set": bson.M{"editing_by": userID, "editing_at": time.Now().UTC()}},
		opts,
	).Decode(&m)
	if err == nil {
		return &m, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, err
	}

	// The filter missed: either the message is gone or someone else holds
	// the lock. A second read tells them apart.
	if _, gerr := s.Get(ctx, threadID, id); gerr != nil {
		return nil, gerr
	}
	return nil, ErrLockHeld
}

// ReleaseEditLock drops the edit lock if userID holds it. Releasing a lock
// held by someone else, or no lock at all, is a harmless no-op.
func (s *Store) ReleaseEditLock(ctx context.Context, threadID, id, userID primitive.ObjectID) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{
			"_id":        id,
			"thread_id":  threadID,
			"is_deleted": false,
			"editing_by": userID,
		},
		bson.M{"$unset": bson.M{"editing_by": "", "editing_at": ""}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}
	// Nothing matched: no-op if the message exists, not-found otherwise.
	_, err = s.Get(ctx, threadID, id)
	return err
}
