// internal/domain/models/threadinvite.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ThreadInvite records an email-addressed invitation to a thread.
//
// Invites are immutable once written, except for AcceptedAt which is set
// exactly once. Several unaccepted invites may exist for the same
// (email, thread); acceptance always resolves the most recent one.
type ThreadInvite struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ThreadID  primitive.ObjectID `bson:"thread_id" json:"thread_id"`
	Email     string             `bson:"email" json:"email"` // normalized lowercase
	Role      string             `bson:"role" json:"role"`   // proposed membership role
	InviterID primitive.ObjectID `bson:"inviter_id" json:"inviter_id"`
	TokenHash string             `bson:"token_hash" json:"-"` // bcrypt hash of the invite link token

	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
	AcceptedAt *time.Time `bson:"accepted_at,omitempty" json:"accepted_at,omitempty"`
}

// Accepted reports whether the invite has already been redeemed.
func (i ThreadInvite) Accepted() bool {
	return i.AcceptedAt != nil
}
