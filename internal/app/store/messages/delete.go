// internal/app/store/messages/delete.go
package messagestore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DeletePolicy selects what happens to a message's descendants on delete.
type DeletePolicy string

const (
	// DeleteSubtree removes the target and every descendant.
	DeleteSubtree DeletePolicy = "subtree"
	// DeleteClearChildren keeps the target but removes every descendant.
	DeleteClearChildren DeletePolicy = "clear-children"
	// DeleteKeepChildren removes only the target; direct children are
	// re-parented to the target's former parent.
	DeleteKeepChildren DeletePolicy = "keep-children"
)

// ParseDeletePolicy maps a request value to a policy. Unrecognized values
// deliberately resolve to keep-children, the documented default.
func ParseDeletePolicy(v string) DeletePolicy {
	switch DeletePolicy(v) {
	case DeleteSubtree, DeleteClearChildren:
		return DeletePolicy(v)
	default:
		return DeleteKeepChildren
	}
}

// Delete applies one of the three removal policies to a message. Removal is
// logical (is_deleted) so the record survives for audit. Policies that touch
// more than one document should run inside a transaction; callers own that
// boundary.
func (s *Store) Delete(ctx context.Context, threadID, id primitive.ObjectID, policy DeletePolicy) error {
	target, err := s.Get(ctx, threadID, id)
	if err != nil {
		return err
	}

	switch policy {
	case DeleteSubtree, DeleteClearChildren:
		msgs, err := s.ListByThread(ctx, threadID)
		if err != nil {
			return err
		}
		ids := descendants(msgs, id)
		if policy == DeleteSubtree {
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return nil
		}
		_, err = s.c.UpdateMany(ctx,
			bson.M{"_id": bson.M{"$in": ids}},
			bson.M{
				"$set":   bson.M{"is_deleted": true, "updated_at": time.Now().UTC()},
				"$unset": bson.M{"editing_by": "", "editing_at": ""},
			})
		return err

	default: // keep-children
		_, err := s.c.UpdateMany(ctx,
			bson.M{"thread_id": threadID, "parent_id": id, "is_deleted": false},
			bson.M{"$set": bson.M{"parent_id": target.ParentID, "updated_at": time.Now().UTC()}})
		if err != nil {
			return err
		}
		_, err = s.c.UpdateOne(ctx,
			bson.M{"_id": id},
			bson.M{
				"$set":   bson.M{"is_deleted": true, "updated_at": time.Now().UTC()},
				"$unset": bson.M{"editing_by": "", "editing_at": ""},
			})
		return err
	}
}

// DeleteByThread marks every message of a thread deleted. Used when the
// thread itself is removed.
func (s *Store) DeleteByThread(ctx context.Context, threadID primitive.ObjectID) error {
	_, err := s.c.UpdateMany(ctx,
		bson.M{"thread_id": threadID, "is_deleted": false},
		bson.M{
			"$set":   bson.M{"is_deleted": true, "updated_at": time.Now().UTC()},
			"$unset": bson.M{"editing_by": "", "editing_at": ""},
		})
	return err
}
