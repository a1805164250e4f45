package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/arborhq/arbor/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// WithChiURLParam adds a chi URL parameter to the request context.
// Use this in handler tests that need to access chi.URLParam values.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateUser creates an active user with the given name and email.
func (f *Fixtures) CreateUser(ctx context.Context, name, email string) models.User {
	f.t.Helper()

	now := time.Now().UTC()
	u := models.User{
		ID:         primitive.NewObjectID(),
		FullName:   name,
		FullNameCI: text.Fold(name),
		Email:      email,
		EmailCI:    text.Fold(email),
		AuthMethod: "google",
		Status:     "active",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := f.db.Collection("users").InsertOne(ctx, u); err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}
	return u
}

// CreateThread creates a thread and the creator's owner membership, the same
// shape thread creation produces in production.
func (f *Fixtures) CreateThread(ctx context.Context, title string, creatorID primitive.ObjectID) models.Thread {
	f.t.Helper()

	now := time.Now().UTC()
	th := models.Thread{
		ID:        primitive.NewObjectID(),
		Title:     title,
		TitleCI:   text.Fold(title),
		CreatorID: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := f.db.Collection("threads").InsertOne(ctx, th); err != nil {
		f.t.Fatalf("failed to create test thread: %v", err)
	}
	f.CreateMembership(ctx, th.ID, creatorID, models.RoleOwner)
	return th
}

// CreateMembership adds a user to a thread with the given role.
func (f *Fixtures) CreateMembership(ctx context.Context, threadID, userID primitive.ObjectID, role string) models.ThreadMembership {
	f.t.Helper()

	m := models.ThreadMembership{
		ID:        primitive.NewObjectID(),
		ThreadID:  threadID,
		UserID:    userID,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := f.db.Collection("thread_memberships").InsertOne(ctx, m); err != nil {
		f.t.Fatalf("failed to create test membership: %v", err)
	}
	return m
}

// CreateMessage inserts a user message with a single text block. Pass a nil
// parent for a root message.
func (f *Fixtures) CreateMessage(ctx context.Context, threadID primitive.ObjectID, parentID *primitive.ObjectID, authorID primitive.ObjectID, body string) models.Message {
	f.t.Helper()

	now := time.Now().UTC()
	m := models.Message{
		ID:        primitive.NewObjectID(),
		ThreadID:  threadID,
		ParentID:  parentID,
		Publisher: models.PublisherUser,
		UserID:    &authorID,
		Blocks:    []models.ContentBlock{{Type: "text", Text: body}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := f.db.Collection("messages").InsertOne(ctx, m); err != nil {
		f.t.Fatalf("failed to create test message: %v", err)
	}
	return m
}
