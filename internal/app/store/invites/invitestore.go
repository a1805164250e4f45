// internal/app/store/invites/invitestore.go
package invitestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arborhq/arbor/internal/app/system/normalize"
	"github.com/arborhq/arbor/internal/domain/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"
)

// BcryptCost for hashing invite link tokens.
const BcryptCost = 10

var (
	// ErrNotFound is returned when no matching invite exists.
	ErrNotFound = errors.New("invite not found")
	// ErrInvalidToken is returned when the link token does not match.
	ErrInvalidToken = errors.New("invalid invite token")
	// ErrAlreadyAccepted is returned when the invite was redeemed before.
	ErrAlreadyAccepted = errors.New("invite already accepted")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("thread_invites")}
}

// CreateResult carries the invite record plus the plaintext link token.
// Only the bcrypt hash is persisted; the token goes out in the email link.
type CreateResult struct {
	Invite models.ThreadInvite
	Token  string
}

// Create records an immutable invitation. Multiple unaccepted invites for the
// same (email, thread) may coexist; acceptance resolves the newest one.
func (s *Store) Create(ctx context.Context, threadID primitive.ObjectID, email, role string, inviterID primitive.ObjectID) (*CreateResult, error) {
	token := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash invite token: %w", err)
	}

	inv := models.ThreadInvite{
		ID:        primitive.NewObjectID(),
		ThreadID:  threadID,
		Email:     normalize.Email(email),
		Role:      role,
		InviterID: inviterID,
		TokenHash: string(hash),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.c.InsertOne(ctx, inv); err != nil {
		return nil, fmt.Errorf("insert invite: %w", err)
	}
	return &CreateResult{Invite: inv, Token: token}, nil
}

// Get loads an invite by id.
func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (*models.ThreadInvite, error) {
	var inv models.ThreadInvite
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&inv)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// LatestUnaccepted returns the most recent unaccepted invite for
// (email, threadID). This is the authoritative invite when an external
// signup callback arrives for the address.
func (s *Store) LatestUnaccepted(ctx context.Context, email string, threadID primitive.ObjectID) (*models.ThreadInvite, error) {
	filter := bson.M{
		"thread_id":   threadID,
		"email":       normalize.Email(email),
		"accepted_at": nil,
	}
	opts := options.FindOne().SetSort(bson.D{
		{Key: "created_at", Value: -1},
		{Key: "_id", Value: -1},
	})

	var inv models.ThreadInvite
	err := s.c.FindOne(ctx, filter, opts).Decode(&inv)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// MarkAccepted stamps accepted_at exactly once. The conditional filter makes
// double-acceptance a visible error instead of a silent overwrite.
func (s *Store) MarkAccepted(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "accepted_at": nil},
		bson.M{"$set": bson.M{"accepted_at": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Either missing or already accepted; look once to tell them apart.
		err := s.c.FindOne(ctx, bson.M{"_id": id}).Err()
		if err == mongo.ErrNoDocuments {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrAlreadyAccepted
	}
	return nil
}

// VerifyToken checks a link token against the stored hash for invite id.
// The invite must still be unaccepted.
func (s *Store) VerifyToken(ctx context.Context, id primitive.ObjectID, token string) (*models.ThreadInvite, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Accepted() {
		return nil, ErrAlreadyAccepted
	}
	if err := bcrypt.CompareHashAndPassword([]byte(inv.TokenHash), []byte(token)); err != nil {
		return nil, ErrInvalidToken
	}
	return inv, nil
}

// ListByThread returns all invites for a thread, newest first.
func (s *Store) ListByThread(ctx context.Context, threadID primitive.ObjectID) ([]models.ThreadInvite, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.c.Find(ctx, bson.M{"thread_id": threadID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var invites []models.ThreadInvite
	if err := cur.All(ctx, &invites); err != nil {
		return nil, err
	}
	return invites, nil
}
