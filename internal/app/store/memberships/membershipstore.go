// internal/app/store/memberships/membershipstore.go
package membershipstore

import (
	"context"
	"errors"
	"time"

	"github.com/arborhq/arbor/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrNotFound is returned when no membership row exists for (thread, user).
	ErrNotFound = errors.New("membership not found")

	errBadRole = errors.New(`role must be "viewer", "editor" or "owner"`)
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("thread_memberships")}
}

// Get loads the membership row for (threadID, userID).
func (s *Store) Get(ctx context.Context, threadID, userID primitive.ObjectID) (*models.ThreadMembership, error) {
	var m models.ThreadMembership
	err := s.c.FindOne(ctx, bson.M{"thread_id": threadID, "user_id": userID}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Upsert creates or updates the membership for (threadID, userID) with role.
// "Already a member" is success, not an error: invite acceptance and repeat
// invites of existing users both land here and must be idempotent.
func (s *Store) Upsert(ctx context.Context, threadID, userID primitive.ObjectID, role string) error {
	if !models.IsValidRole(role) {
		return errBadRole
	}

	update := bson.M{
		"$set": bson.M{"role": role},
		"$setOnInsert": bson.M{
			"thread_id":  threadID,
			"user_id":    userID,
			"pinned":     false,
			"created_at": time.Now().UTC(),
		},
	}
	opts := options.Update().SetUpsert(true)
	_, err := s.c.UpdateOne(ctx, bson.M{"thread_id": threadID, "user_id": userID}, update, opts)
	if err != nil && wafflemongo.IsDup(err) {
		// Lost an upsert race against an identical insert; the row exists.
		return nil
	}
	return err
}

// UpdateRole changes an existing membership's role.
func (s *Store) UpdateRole(ctx context.Context, threadID, userID primitive.ObjectID, role string) error {
	if !models.IsValidRole(role) {
		return errBadRole
	}
	res, err := s.c.UpdateOne(ctx,
		bson.M{"thread_id": threadID, "user_id": userID},
		bson.M{"$set": bson.M{"role": role}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove deletes the membership row for (threadID, userID).
// Removing a row that does not exist is a no-op.
func (s *Store) Remove(ctx context.Context, threadID, userID primitive.ObjectID) error {
	_, err := s.c.DeleteOne(ctx, bson.M{"thread_id": threadID, "user_id": userID})
	return err
}

// SetPinned flips the pinned flag on the caller's own membership.
func (s *Store) SetPinned(ctx context.Context, threadID, userID primitive.ObjectID, pinned bool) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"thread_id": threadID, "user_id": userID},
		bson.M{"$set": bson.M{"pinned": pinned}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByThread returns all memberships of a thread, oldest first.
func (s *Store) ListByThread(ctx context.Context, threadID primitive.ObjectID) ([]models.ThreadMembership, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.c.Find(ctx, bson.M{"thread_id": threadID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var memberships []models.ThreadMembership
	if err := cur.All(ctx, &memberships); err != nil {
		return nil, err
	}
	return memberships, nil
}

// ListByUser returns all memberships held by userID.
func (s *Store) ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.ThreadMembership, error) {
	cur, err := s.c.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var memberships []models.ThreadMembership
	if err := cur.All(ctx, &memberships); err != nil {
		return nil, err
	}
	return memberships, nil
}

// DeleteByThread removes all memberships for a thread.
// Returns the number of documents deleted.
func (s *Store) DeleteByThread(ctx context.Context, threadID primitive.ObjectID) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"thread_id": threadID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
