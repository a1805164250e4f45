// internal/domain/models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User represents an account that can create threads, hold memberships,
// and author messages.
//
// NOTE:
//   - Thread membership is not embedded on User.
//     Use the thread_memberships collection to discover a user's threads.
type User struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FullName   string             `bson:"full_name" json:"full_name"`
	FullNameCI string             `bson:"full_name_ci" json:"-"` // lowercase, diacritics-stripped
	Email      string             `bson:"email" json:"email"`
	EmailCI    string             `bson:"email_ci" json:"-"`
	AuthMethod string             `bson:"auth_method,omitempty" json:"auth_method,omitempty"` // "google" | "invite"
	Status     string             `bson:"status,omitempty" json:"status,omitempty"`           // "active" | "disabled"

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
