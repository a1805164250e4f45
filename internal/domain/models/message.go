// internal/domain/models/message.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message publishers.
const (
	PublisherUser = "user"
	PublisherAI   = "ai"
)

// ContentBlock is one unit of message content. Content is always an ordered
// sequence of typed blocks; a bare string arriving at the API boundary is
// wrapped into a single text block before it reaches any store code.
type ContentBlock struct {
	Type string `bson:"type" json:"type"` // "text" | "image" | "tool"
	Text string `bson:"text,omitempty" json:"text,omitempty"`
	Meta bson.M `bson:"meta,omitempty" json:"meta,omitempty"`
}

// Message is one node in a thread's reply tree.
//
// ParentID is nil for tree roots and otherwise must reference a message in
// the same thread. UserID is nil when the publisher is "ai". ModelConfig is
// an opaque snapshot attached at creation and immutable afterward.
//
// EditingBy/EditingAt form the edit-lock pair: both set while a user holds
// the message for editing, both nil otherwise. Locks never expire on their
// own; see the messages store for the acquire/release protocol.
type Message struct {
	ID        primitive.ObjectID  `bson:"_id" json:"id"`
	ThreadID  primitive.ObjectID  `bson:"thread_id" json:"thread_id"`
	ParentID  *primitive.ObjectID `bson:"parent_id,omitempty" json:"parent_id,omitempty"`
	Publisher string              `bson:"publisher" json:"publisher"` // "user" | "ai"
	UserID    *primitive.ObjectID `bson:"user_id,omitempty" json:"user_id,omitempty"`

	Blocks      []ContentBlock `bson:"blocks" json:"blocks"`
	ModelConfig bson.M         `bson:"model_config,omitempty" json:"model_config,omitempty"`
	IsDeleted   bool           `bson:"is_deleted" json:"is_deleted"`

	EditingBy *primitive.ObjectID `bson:"editing_by,omitempty" json:"editing_by,omitempty"`
	EditingAt *time.Time          `bson:"editing_at,omitempty" json:"editing_at,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Locked reports whether an edit lock is currently held on the message.
func (m Message) Locked() bool {
	return m.EditingBy != nil
}

// LockedBy reports whether userID currently holds the edit lock.
func (m Message) LockedBy(userID primitive.ObjectID) bool {
	return m.EditingBy != nil && *m.EditingBy == userID
}
