// internal/app/store/threads/threadstore.go
package threadstore

import (
	"context"
	"errors"
	"time"

	"github.com/arborhq/arbor/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned when a thread does not exist or is soft-deleted.
var ErrNotFound = errors.New("thread not found")

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("threads")}
}

// Create inserts a new thread owned by creatorID. The creator holds implicit
// top rank and gets no membership row.
func (s *Store) Create(ctx context.Context, title string, creatorID primitive.ObjectID) (models.Thread, error) {
	now := time.Now().UTC()
	t := models.Thread{
		ID:        primitive.NewObjectID(),
		Title:     title,
		TitleCI:   text.Fold(title),
		CreatorID: creatorID,
		IsDeleted: false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.c.InsertOne(ctx, t); err != nil {
		return models.Thread{}, err
	}
	return t, nil
}

// Get loads a thread by id. Soft-deleted threads are reported as ErrNotFound.
func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (*models.Thread, error) {
	var t models.Thread
	err := s.c.FindOne(ctx, bson.M{"_id": id, "is_deleted": false}).Decode(&t)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Rename updates the thread title.
func (s *Store) Rename(ctx context.Context, id primitive.ObjectID, title string) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "is_deleted": false},
		bson.M{"$set": bson.M{
			"title":      title,
			"title_ci":   text.Fold(title),
			"updated_at": time.Now().UTC(),
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete marks the thread deleted. The document and its messages are
// retained; reads filter on is_deleted.
func (s *Store) SoftDelete(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "is_deleted": false},
		bson.M{"$set": bson.M{"is_deleted": true, "updated_at": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCreator reassigns the thread creator. Used only inside the ownership
// transfer transaction; callers pass the session context.
func (s *Store) SetCreator(ctx context.Context, id, creatorID primitive.ObjectID) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "is_deleted": false},
		bson.M{"$set": bson.M{"creator_id": creatorID, "updated_at": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByIDs loads the non-deleted threads among ids, newest first.
func (s *Store) ListByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Thread, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}, "is_deleted": false}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var threads []models.Thread
	if err := cur.All(ctx, &threads); err != nil {
		return nil, err
	}
	return threads, nil
}

// ListByCreator returns the non-deleted threads created by userID, newest first.
func (s *Store) ListByCreator(ctx context.Context, userID primitive.ObjectID) ([]models.Thread, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.c.Find(ctx, bson.M{"creator_id": userID, "is_deleted": false}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var threads []models.Thread
	if err := cur.All(ctx, &threads); err != nil {
		return nil, err
	}
	return threads, nil
}
