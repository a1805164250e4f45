// internal/app/features/messages/requests.go
//
// Request decoding and content normalization. Content arrives either as a
// bare string or as an array of typed blocks; the shape is decided here,
// once, and everything past this file only ever sees []models.ContentBlock.
package messages

import (
	"encoding/json"
	"errors"
	"net/http"

	messagestore "github.com/arborhq/arbor/internal/app/store/messages"
	"github.com/arborhq/arbor/internal/app/system/htmlsanitize"
	"github.com/arborhq/arbor/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	errNoContent    = errors.New("content is required")
	errBadContent   = errors.New("content must be a string or an array of blocks")
	errBadBlockType = errors.New(`block type must be "text", "image", or "tool"`)
	errBadPublisher = errors.New(`publisher must be "user" or "ai"`)
	errBadParentID  = errors.New("invalid parent id")
	errBadNodeID    = errors.New("invalid message id in subtree")
	errBadBody      = errors.New("invalid request body")
)

// normalizeContent accepts `"hello"` or `[{"type":"text","text":"hello"}]`
// and returns a non-empty block sequence. Text is sanitized here so nothing
// downstream ever stores markup we would not render back out.
func normalizeContent(raw json.RawMessage) ([]models.ContentBlock, error) {
	if len(raw) == 0 {
		return nil, errNoContent
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, errNoContent
		}
		return []models.ContentBlock{{Type: "text", Text: htmlsanitize.Sanitize(s)}}, nil
	}

	var blocks []models.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, errBadContent
	}
	if len(blocks) == 0 {
		return nil, errNoContent
	}
	for i := range blocks {
		switch blocks[i].Type {
		case "text", "image", "tool":
		default:
			return nil, errBadBlockType
		}
		blocks[i].Text = htmlsanitize.Sanitize(blocks[i].Text)
	}
	return blocks, nil
}

type sendRequest struct {
	parentID    *primitive.ObjectID
	publisher   string
	blocks      []models.ContentBlock
	modelConfig bson.M
}

func decodeSendRequest(r *http.Request) (*sendRequest, error) {
	var body struct {
		ParentID    string          `json:"parent_id,omitempty"`
		Publisher   string          `json:"publisher,omitempty"`
		Content     json.RawMessage `json:"content"`
		ModelConfig bson.M          `json:"model_config,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, errBadBody
	}

	out := &sendRequest{publisher: body.Publisher, modelConfig: body.ModelConfig}
	if out.publisher == "" {
		out.publisher = models.PublisherUser
	}
	if out.publisher != models.PublisherUser && out.publisher != models.PublisherAI {
		return nil, errBadPublisher
	}

	if body.ParentID != "" {
		pid, err := primitive.ObjectIDFromHex(body.ParentID)
		if err != nil {
			return nil, errBadParentID
		}
		out.parentID = &pid
	}

	blocks, err := normalizeContent(body.Content)
	if err != nil {
		return nil, err
	}
	out.blocks = blocks
	return out, nil
}

type editRequest struct {
	blocks []models.ContentBlock
}

func decodeEditRequest(r *http.Request) (*editRequest, error) {
	var body struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, errBadBody
	}
	blocks, err := normalizeContent(body.Content)
	if err != nil {
		return nil, err
	}
	return &editRequest{blocks: blocks}, nil
}

// pasteNodeBody is the wire form of one subtree node. IDs are optional; when
// present they are kept so references into the copied subtree stay valid.
type pasteNodeBody struct {
	ID          string          `json:"id,omitempty"`
	Publisher   string          `json:"publisher,omitempty"`
	Content     json.RawMessage `json:"content"`
	ModelConfig bson.M          `json:"model_config,omitempty"`
	Replies     []pasteNodeBody `json:"replies,omitempty"`
}

func decodePasteRequest(r *http.Request) (*primitive.ObjectID, messagestore.PasteNode, error) {
	var body struct {
		ParentID string        `json:"parent_id,omitempty"`
		Root     pasteNodeBody `json:"root"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, messagestore.PasteNode{}, errBadBody
	}

	var parentID *primitive.ObjectID
	if body.ParentID != "" {
		pid, err := primitive.ObjectIDFromHex(body.ParentID)
		if err != nil {
			return nil, messagestore.PasteNode{}, errBadParentID
		}
		parentID = &pid
	}

	root, err := toPasteNode(body.Root)
	if err != nil {
		return nil, messagestore.PasteNode{}, err
	}
	return parentID, root, nil
}

// toPasteNode converts the wire tree to store inputs. The nesting depth is
// bounded by the JSON decoder, so plain recursion is safe here; the
// duplicate and parent checks happen in FlattenPaste.
func toPasteNode(b pasteNodeBody) (messagestore.PasteNode, error) {
	n := messagestore.PasteNode{
		Publisher:   b.Publisher,
		ModelConfig: b.ModelConfig,
	}
	if n.Publisher == "" {
		n.Publisher = models.PublisherUser
	}
	if n.Publisher != models.PublisherUser && n.Publisher != models.PublisherAI {
		return messagestore.PasteNode{}, errBadPublisher
	}
	if b.ID != "" {
		id, err := primitive.ObjectIDFromHex(b.ID)
		if err != nil {
			return messagestore.PasteNode{}, errBadNodeID
		}
		n.ID = id
	}

	blocks, err := normalizeContent(b.Content)
	if err != nil {
		return messagestore.PasteNode{}, err
	}
	n.Blocks = blocks

	for _, reply := range b.Replies {
		child, err := toPasteNode(reply)
		if err != nil {
			return messagestore.PasteNode{}, err
		}
		n.Replies = append(n.Replies, child)
	}
	return n, nil
}
