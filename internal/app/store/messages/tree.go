// internal/app/store/messages/tree.go
package messagestore

import (
	"errors"

	"github.com/arborhq/arbor/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrDuplicateID is returned when a pasted subtree reuses a message id.
var ErrDuplicateID = errors.New("duplicate message id in subtree")

// Node is one message with its replies resolved, ordered by creation time.
type Node struct {
	Message models.Message `json:"message"`
	Replies []*Node        `json:"replies"`
}

// BuildTree links a flat message list into reply trees. Messages whose
// parent is missing or deleted are returned as orphans with their own
// subtrees intact, so a pruned branch still renders. Input order (creation
// time) is preserved among siblings. Parent links that loop back on
// themselves are corrupt data and yield ErrCycle.
func BuildTree(msgs []models.Message) (roots, orphans []*Node, err error) {
	nodes := make(map[primitive.ObjectID]*Node, len(msgs))
	for i := range msgs {
		nodes[msgs[i].ID] = &Node{Message: msgs[i]}
	}

	roots = []*Node{}
	orphans = []*Node{}
	for i := range msgs {
		n := nodes[msgs[i].ID]
		switch {
		case msgs[i].ParentID == nil:
			roots = append(roots, n)
		default:
			parent, ok := nodes[*msgs[i].ParentID]
			if !ok {
				orphans = append(orphans, n)
				continue
			}
			parent.Replies = append(parent.Replies, n)
		}
	}

	// Every node must be reachable from a root or an orphan; anything left
	// over sits on a parent loop.
	seen := 0
	stack := make([]*Node, 0, len(nodes))
	stack = append(stack, roots...)
	stack = append(stack, orphans...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		seen++
		stack = append(stack, n.Replies...)
	}
	if seen != len(nodes) {
		return nil, nil, ErrCycle
	}
	return roots, orphans, nil
}

// PasteNode is one node of a subtree being pasted into a thread. IDs are
// caller-supplied so cross-references survive the copy; a zero ID means
// "generate one".
type PasteNode struct {
	ID          primitive.ObjectID
	Publisher   string
	UserID      *primitive.ObjectID
	Blocks      []models.ContentBlock
	ModelConfig bson.M
	Replies     []PasteNode
}

// FlattenPaste turns a nested paste payload into insert inputs in
// depth-first order, so each node's parent precedes it in the result. The
// root attaches under parentID (nil for a new top-level branch). Duplicate
// ids within the subtree are rejected.
func FlattenPaste(threadID primitive.ObjectID, parentID *primitive.ObjectID, root PasteNode) ([]CreateInput, error) {
	type frame struct {
		node   PasteNode
		parent *primitive.ObjectID
	}

	seen := make(map[primitive.ObjectID]struct{})
	var out []CreateInput

	stack := []frame{{node: root, parent: parentID}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		id := f.node.ID
		if id.IsZero() {
			id = primitive.NewObjectID()
		}
		if _, dup := seen[id]; dup {
			return nil, ErrDuplicateID
		}
		seen[id] = struct{}{}

		out = append(out, CreateInput{
			ID:          id,
			ThreadID:    threadID,
			ParentID:    f.parent,
			Publisher:   f.node.Publisher,
			UserID:      f.node.UserID,
			Blocks:      f.node.Blocks,
			ModelConfig: f.node.ModelConfig,
		})

		// Push replies in reverse so they pop in payload order.
		pid := id
		for i := len(f.node.Replies) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: f.node.Replies[i], parent: &pid})
		}
	}
	return out, nil
}

// descendants collects the ids of every live message below rootID, root
// excluded, walking a children index breadth-first.
func descendants(msgs []models.Message, rootID primitive.ObjectID) []primitive.ObjectID {
	children := make(map[primitive.ObjectID][]primitive.ObjectID, len(msgs))
	for i := range msgs {
		if msgs[i].ParentID != nil {
			children[*msgs[i].ParentID] = append(children[*msgs[i].ParentID], msgs[i].ID)
		}
	}

	var out []primitive.ObjectID
	seen := map[primitive.ObjectID]struct{}{rootID: {}}
	queue := append([]primitive.ObjectID{}, children[rootID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		queue = append(queue, children[id]...)
	}
	return out
}
