// internal/domain/models/threadmembership.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Membership roles, ordered weakest to strongest. The thread creator sits
// above "owner" and is resolved from Thread.CreatorID, never stored here.
const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleOwner  = "owner"
)

// IsValidRole reports whether role is one of the three membership roles.
func IsValidRole(role string) bool {
	return role == RoleViewer || role == RoleEditor || role == RoleOwner
}

// ThreadMembership is the authoritative join between users and threads.
// Exactly one document per (thread_id, user_id); role is a scalar.
// Membership rows are deleted outright on leave or kick, never soft-deleted.
type ThreadMembership struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ThreadID primitive.ObjectID `bson:"thread_id" json:"thread_id"`
	UserID   primitive.ObjectID `bson:"user_id" json:"user_id"`
	Role     string             `bson:"role" json:"role"` // "viewer" | "editor" | "owner"
	Pinned   bool               `bson:"pinned" json:"pinned"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
