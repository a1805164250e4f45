// internal/app/store/messages/messagestore.go
package messagestore

import (
	"context"
	"errors"
	"time"

	"github.com/arborhq/arbor/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrNotFound is returned when a message does not exist (or is deleted).
	ErrNotFound = errors.New("message not found")
	// ErrParentNotFound is returned when a parent reference does not resolve
	// to a live message in the same thread.
	ErrParentNotFound = errors.New("parent message not found in thread")
	// ErrLockHeld is returned when another user holds the edit lock.
	ErrLockHeld = errors.New("message is being edited by another user")
	// ErrCycle is returned when stored parent links form a loop. This means
	// corrupted data; walks refuse to follow it rather than spin.
	ErrCycle = errors.New("parent references form a cycle")

	errBadPublisher = errors.New(`publisher must be "user" or "ai"`)
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("messages")}
}

// CreateInput carries one message to insert. A zero ID means "generate one";
// subtree paste supplies caller-chosen ids that must be preserved.
type CreateInput struct {
	ID          primitive.ObjectID
	ThreadID    primitive.ObjectID
	ParentID    *primitive.ObjectID
	Publisher   string
	UserID      *primitive.ObjectID
	Blocks      []models.ContentBlock
	ModelConfig bson.M
}

// Create inserts a single message. The parent, when given, must be a live
// message in the same thread; cross-thread parenting is rejected.
func (s *Store) Create(ctx context.Context, in CreateInput) (models.Message, error) {
	return s.insert(ctx, in, true)
}

// InsertTree inserts a pre-flattened subtree in depth-first order. The first
// input is the subtree root; every later input's parent is earlier in the
// slice, so only the root's parent needs a store lookup. Callers wrap this
// in a transaction: a failure on any node must abort the whole paste.
func (s *Store) InsertTree(ctx context.Context, inputs []CreateInput) ([]models.Message, error) {
	inserted := make([]models.Message, 0, len(inputs))
	for i, in := range inputs {
		m, err := s.insert(ctx, in, i == 0)
		if err != nil {
			return nil, err
		}
		inserted = append(inserted, m)
	}
	return inserted, nil
}

func (s *Store) insert(ctx context.Context, in CreateInput, checkParent bool) (models.Message, error) {
	if in.Publisher != models.PublisherUser && in.Publisher != models.PublisherAI {
		return models.Message{}, errBadPublisher
	}

	if checkParent && in.ParentID != nil {
		err := s.c.FindOne(ctx, bson.M{
			"_id":        *in.ParentID,
			"thread_id":  in.ThreadID,
			"is_deleted": false,
		}).Err()
		if err == mongo.ErrNoDocuments {
			return models.Message{}, ErrParentNotFound
		}
		if err != nil {
			return models.Message{}, err
		}
	}

	id := in.ID
	if id.IsZero() {
		id = primitive.NewObjectID()
	}

	now := time.Now().UTC()
	m := models.Message{
		ID:          id,
		ThreadID:    in.ThreadID,
		ParentID:    in.ParentID,
		Publisher:   in.Publisher,
		UserID:      in.UserID,
		Blocks:      in.Blocks,
		ModelConfig: in.ModelConfig,
		IsDeleted:   false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.c.InsertOne(ctx, m); err != nil {
		return models.Message{}, err
	}
	return m, nil
}

// Get loads a live message by id within a thread.
func (s *Store) Get(ctx context.Context, threadID, id primitive.ObjectID) (*models.Message, error) {
	var m models.Message
	err := s.c.FindOne(ctx, bson.M{
		"_id":        id,
		"thread_id":  threadID,
		"is_deleted": false,
	}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// EditContent replaces the message's blocks wholesale and clears the edit
// lock in the same write: committing new content ends the editing session
// no matter who held the lock.
func (s *Store) EditContent(ctx context.Context, threadID, id primitive.ObjectID, blocks []models.ContentBlock) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "thread_id": threadID, "is_deleted": false},
		bson.M{
			"$set":   bson.M{"blocks": blocks, "updated_at": time.Now().UTC()},
			"$unset": bson.M{"editing_by": "", "editing_at": ""},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByThread returns all live messages of a thread ordered by creation
// time. Tree reconstruction happens in BuildTree.
func (s *Store) ListByThread(ctx context.Context, threadID primitive.ObjectID) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.c.Find(ctx, bson.M{"thread_id": threadID, "is_deleted": false}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var msgs []models.Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
