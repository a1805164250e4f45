// internal/domain/models/thread.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Thread is the root scope for a message tree and a set of memberships.
//
// CreatorID identifies exactly one creator. It changes only through an
// explicit ownership transfer; the creator outranks every stored membership
// and need not hold a membership row at all.
type Thread struct {
	ID        primitive.ObjectID `bson:"_id" json:"id"`
	Title     string             `bson:"title" json:"title"`
	TitleCI   string             `bson:"title_ci" json:"-"`
	CreatorID primitive.ObjectID `bson:"creator_id" json:"creator_id"`
	IsDeleted bool               `bson:"is_deleted" json:"is_deleted"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
