package messages_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/arborhq/arbor/internal/app/features/messages"
	"github.com/arborhq/arbor/internal/app/system/txn"
	"github.com/arborhq/arbor/internal/domain/models"
	"github.com/arborhq/arbor/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T) (*messages.Handler, *testutil.Fixtures) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	handler := messages.NewHandler(db, zap.NewNop())
	fixtures := testutil.NewFixtures(t, db)
	return handler, fixtures
}

func messageRequest(method, target, body string, user testutil.TestUser, threadID primitive.ObjectID) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req = testutil.WithUser(req, user)
	return testutil.WithChiURLParam(req, "threadID", threadID.Hex())
}

func withMessageID(r *http.Request, threadID, messageID primitive.ObjectID) *http.Request {
	r = testutil.WithChiURLParam(r, "threadID", threadID.Hex())
	return testutil.WithChiURLParam(r, "messageID", messageID.Hex())
}

func TestSend(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	th := fixtures.CreateThread(ctx, "Planning", creator.ID)
	user := testutil.UserWithID(creator.ID, creator.FullName, creator.Email)

	req := messageRequest("POST", "/threads/"+th.ID.Hex()+"/messages",
		`{"content":"hello world"}`, user, th.ID)

	rec := httptest.NewRecorder()
	handler.Send(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var m models.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if m.Publisher != models.PublisherUser {
		t.Errorf("Publisher: got %q, want %q", m.Publisher, models.PublisherUser)
	}
	if m.UserID == nil || *m.UserID != creator.ID {
		t.Error("expected message attributed to sender")
	}
	if len(m.Blocks) != 1 || m.Blocks[0].Text != "hello world" {
		t.Errorf("unexpected blocks: %+v", m.Blocks)
	}
	if m.ParentID != nil {
		t.Error("expected root message to have no parent")
	}
}

func TestSend_ViewerDenied(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	viewer := fixtures.CreateUser(ctx, "Grace Hopper", "grace@example.com")
	th := fixtures.CreateThread(ctx, "Planning", creator.ID)
	fixtures.CreateMembership(ctx, th.ID, viewer.ID, models.RoleViewer)

	req := messageRequest("POST", "/threads/"+th.ID.Hex()+"/messages",
		`{"content":"hi"}`, testutil.UserWithID(viewer.ID, viewer.FullName, viewer.Email), th.ID)

	rec := httptest.NewRecorder()
	handler.Send(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected viewer send to be denied, got %d", rec.Code)
	}
}

func TestSend_AIPublisherBypassesSendGate(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	viewer := fixtures.CreateUser(ctx, "Grace Hopper", "grace@example.com")
	outsider := fixtures.CreateUser(ctx, "Mallory", "mallory@example.com")
	th := fixtures.CreateThread(ctx, "Planning", creator.ID)
	fixtures.CreateMembership(ctx, th.ID, viewer.ID, models.RoleViewer)

	body := `{"publisher":"ai","content":"model reply","model_config":{"model":"m-1","temperature":0.2}}`

	// A viewer can relay AI output even though they cannot send themselves.
	req := messageRequest("POST", "/threads/"+th.ID.Hex()+"/messages",
		body, testutil.UserWithID(viewer.ID, viewer.FullName, viewer.Email), th.ID)

	rec := httptest.NewRecorder()
	handler.Send(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected AI send by viewer to succeed, got %d: %s", rec.Code, rec.Body.String())
	}

	var m models.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if m.Publisher != models.PublisherAI {
		t.Errorf("Publisher: got %q, want %q", m.Publisher, models.PublisherAI)
	}
	if m.UserID != nil {
		t.Error("expected AI message to carry no author id")
	}

	// Outsiders stay locked out regardless of publisher.
	req = messageRequest("POST", "/threads/"+th.ID.Hex()+"/messages",
		body, testutil.UserWithID(outsider.ID, outsider.FullName, outsider.Email), th.ID)

	rec = httptest.NewRecorder()
	handler.Send(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected outsider AI send to be denied, got %d", rec.Code)
	}
}

func TestSend_MissingParent(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	th := fixtures.CreateThread(ctx, "Planning", creator.ID)

	body := `{"content":"reply","parent_id":"` + primitive.NewObjectID().Hex() + `"}`
	req := messageRequest("POST", "/threads/"+th.ID.Hex()+"/messages",
		body, testutil.UserWithID(creator.ID, creator.FullName, creator.Email), th.ID)

	rec := httptest.NewRecorder()
	handler.Send(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected missing parent to 404, got %d", rec.Code)
	}
}

func TestList_ReturnsTree(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	th := fixtures.CreateThread(ctx, "Planning", creator.ID)
	root := fixtures.CreateMessage(ctx, th.ID, nil, creator.ID, "root")
	fixtures.CreateMessage(ctx, th.ID, &root.ID, creator.ID, "reply one")
	fixtures.CreateMessage(ctx, th.ID, &root.ID, creator.ID, "reply two")

	req := messageRequest("GET", "/threads/"+th.ID.Hex()+"/messages", "",
		testutil.UserWithID(creator.ID, creator.FullName, creator.Email), th.ID)

	rec := httptest.NewRecorder()
	handler.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var resp struct {
		Roots []struct {
			ID      string `json:"id"`
			Replies []struct {
				ID string `json:"id"`
			} `json:"replies"`
		} `json:"roots"`
		Orphans []any `json:"orphans"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Roots) != 1 {
		t.Fatalf("expected 1 root, got %d", len(resp.Roots))
	}
	if resp.Roots[0].ID != root.ID.Hex() {
		t.Errorf("root id: got %s, want %s", resp.Roots[0].ID, root.ID.Hex())
	}
	if len(resp.Roots[0].Replies) != 2 {
		t.Errorf("expected 2 replies under root, got %d", len(resp.Roots[0].Replies))
	}
	if len(resp.Orphans) != 0 {
		t.Errorf("expected no orphans, got %d", len(resp.Orphans))
	}
}

func TestEdit_ReplacesContent(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	th := fixtures.CreateThread(ctx, "Planning", creator.ID)
	msg := fixtures.CreateMessage(ctx, th.ID, nil, creator.ID, "draft")

	req := httptest.NewRequest("PUT", "/threads/"+th.ID.Hex()+"/messages/"+msg.ID.Hex(),
		strings.NewReader(`{"content":"final"}`))
	req = testutil.WithUser(req, testutil.UserWithID(creator.ID, creator.FullName, creator.Email))
	req = withMessageID(req, th.ID, msg.ID)

	rec := httptest.NewRecorder()
	handler.Edit(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var m models.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(m.Blocks) != 1 || m.Blocks[0].Text != "final" {
		t.Errorf("unexpected blocks after edit: %+v", m.Blocks)
	}
}

func TestEdit_AIMessageBypassesEditGate(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	viewer := fixtures.CreateUser(ctx, "Grace Hopper", "grace@example.com")
	outsider := fixtures.CreateUser(ctx, "Mallory", "mallory@example.com")
	th := fixtures.CreateThread(ctx, "Planning", creator.ID)
	fixtures.CreateMembership(ctx, th.ID, viewer.ID, models.RoleViewer)

	sendBody := `{"publisher":"ai","content":"model reply","model_config":{"model":"m-1"}}`
	req := messageRequest("POST", "/threads/"+th.ID.Hex()+"/messages",
		sendBody, testutil.UserWithID(viewer.ID, viewer.FullName, viewer.Email), th.ID)
	rec := httptest.NewRecorder()
	handler.Send(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("seed AI message: got %d: %s", rec.Code, rec.Body.String())
	}
	var m models.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	// A viewer may rewrite AI output even without editor rank.
	req = httptest.NewRequest("PUT", "/threads/"+th.ID.Hex()+"/messages/"+m.ID.Hex(),
		strings.NewReader(`{"content":"regenerated"}`))
	req = testutil.WithUser(req, testutil.UserWithID(viewer.ID, viewer.FullName, viewer.Email))
	req = withMessageID(req, th.ID, m.ID)

	rec = httptest.NewRecorder()
	handler.Edit(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected viewer AI edit to succeed, got %d: %s", rec.Code, rec.Body.String())
	}

	// Non-members stay locked out regardless of publisher.
	req = httptest.NewRequest("PUT", "/threads/"+th.ID.Hex()+"/messages/"+m.ID.Hex(),
		strings.NewReader(`{"content":"hijacked"}`))
	req = testutil.WithUser(req, testutil.UserWithID(outsider.ID, outsider.FullName, outsider.Email))
	req = withMessageID(req, th.ID, m.ID)

	rec = httptest.NewRecorder()
	handler.Edit(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected outsider AI edit to be denied, got %d", rec.Code)
	}
}

func TestEditLock_Lifecycle(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	editor := fixtures.CreateUser(ctx, "Grace Hopper", "grace@example.com")
	th := fixtures.CreateThread(ctx, "Planning", creator.ID)
	fixtures.CreateMembership(ctx, th.ID, editor.ID, models.RoleEditor)
	msg := fixtures.CreateMessage(ctx, th.ID, nil, creator.ID, "contested")

	holder := testutil.UserWithID(creator.ID, creator.FullName, creator.Email)
	rival := testutil.UserWithID(editor.ID, editor.FullName, editor.Email)
	lockPath := "/threads/" + th.ID.Hex() + "/messages/" + msg.ID.Hex() + "/lock"

	// First user takes the lock.
	req := withMessageID(testutil.WithUser(testutil.NewRequest("POST", lockPath), holder), th.ID, msg.ID)
	rec := httptest.NewRecorder()
	handler.Lock(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected lock acquire to succeed, got %d: %s", rec.Code, rec.Body.String())
	}

	// A rival editor gets a conflict, not a denial.
	req = withMessageID(testutil.WithUser(testutil.NewRequest("POST", lockPath), rival), th.ID, msg.ID)
	rec = httptest.NewRecorder()
	handler.Lock(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected rival lock to 409, got %d", rec.Code)
	}

	// Editing while someone else holds the lock is also a conflict.
	editReq := httptest.NewRequest("PUT", "/threads/"+th.ID.Hex()+"/messages/"+msg.ID.Hex(),
		strings.NewReader(`{"content":"sneaky"}`))
	editReq = withMessageID(testutil.WithUser(editReq, rival), th.ID, msg.ID)
	rec = httptest.NewRecorder()
	handler.Edit(rec, editReq)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected locked edit to 409, got %d", rec.Code)
	}

	// Holder releases; the rival can now acquire.
	req = withMessageID(testutil.WithUser(testutil.NewRequest("DELETE", lockPath), holder), th.ID, msg.ID)
	rec = httptest.NewRecorder()
	handler.Unlock(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected unlock to succeed, got %d", rec.Code)
	}

	req = withMessageID(testutil.WithUser(testutil.NewRequest("POST", lockPath), rival), th.ID, msg.ID)
	rec = httptest.NewRecorder()
	handler.Lock(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected rival lock after release to succeed, got %d", rec.Code)
	}
}

func TestLock_ViewerDenied(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	viewer := fixtures.CreateUser(ctx, "Grace Hopper", "grace@example.com")
	th := fixtures.CreateThread(ctx, "Planning", creator.ID)
	fixtures.CreateMembership(ctx, th.ID, viewer.ID, models.RoleViewer)
	msg := fixtures.CreateMessage(ctx, th.ID, nil, creator.ID, "hands off")

	req := testutil.NewRequest("POST", "/lock")
	req = testutil.WithUser(req, testutil.UserWithID(viewer.ID, viewer.FullName, viewer.Email))
	req = withMessageID(req, th.ID, msg.ID)

	rec := httptest.NewRecorder()
	handler.Lock(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected viewer lock to be denied with 403, got %d", rec.Code)
	}
}

func TestDelete_PolicyFallsBackToKeepChildren(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	th := fixtures.CreateThread(ctx, "Planning", creator.ID)
	root := fixtures.CreateMessage(ctx, th.ID, nil, creator.ID, "root")
	target := fixtures.CreateMessage(ctx, th.ID, &root.ID, creator.ID, "target")
	child := fixtures.CreateMessage(ctx, th.ID, &target.ID, creator.ID, "grandchild")

	req := testutil.NewRequest("DELETE",
		"/threads/"+th.ID.Hex()+"/messages/"+target.ID.Hex()+"?policy=bogus")
	req = testutil.WithUser(req, testutil.UserWithID(creator.ID, creator.FullName, creator.Email))
	req = withMessageID(req, th.ID, target.ID)

	rec := httptest.NewRecorder()
	handler.Delete(rec, req)
	if rec.Code == http.StatusBadGateway {
		t.Skip("transactions unavailable on this MongoDB deployment")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected delete to succeed, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Policy string `json:"policy"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Policy != "keep-children" {
		t.Errorf("expected fallback policy keep-children, got %q", resp.Policy)
	}

	// The grandchild is promoted onto the deleted message's parent.
	var doc bson.M
	if err := fixtures.DB().Collection("messages").FindOne(ctx, bson.M{"_id": child.ID}).Decode(&doc); err != nil {
		t.Fatalf("load child: %v", err)
	}
	if doc["parent_id"] != root.ID {
		t.Errorf("child parent: got %v, want %v", doc["parent_id"], root.ID)
	}
}

func TestPaste_Subtree(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	th := fixtures.CreateThread(ctx, "Planning", creator.ID)
	anchor := fixtures.CreateMessage(ctx, th.ID, nil, creator.ID, "anchor")

	body := `{"parent_id":"` + anchor.ID.Hex() + `","root":{"content":"copied root","replies":[{"publisher":"ai","content":"copied reply"}]}}`
	req := messageRequest("POST", "/threads/"+th.ID.Hex()+"/messages/paste",
		body, testutil.UserWithID(creator.ID, creator.FullName, creator.Email), th.ID)

	rec := httptest.NewRecorder()
	handler.Paste(rec, req)
	if rec.Code == http.StatusBadGateway {
		t.Skip("transactions unavailable on this MongoDB deployment")
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected paste to succeed, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("expected 2 pasted messages, got %d", len(resp.Messages))
	}
	pastedRoot := resp.Messages[0]
	if pastedRoot.ParentID == nil || *pastedRoot.ParentID != anchor.ID {
		t.Error("expected pasted root to hang off the anchor")
	}
	if pastedRoot.UserID == nil || *pastedRoot.UserID != creator.ID {
		t.Error("expected pasted user content attributed to the paster")
	}
	if resp.Messages[1].UserID != nil {
		t.Error("expected pasted AI reply to stay authorless")
	}
}

func TestPaste_MidTreeFailureRollsBackAll(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := txn.WithTransaction(ctx, fixtures.DB().Client(), func(sessCtx mongo.SessionContext) error {
		return nil
	}); txn.IsNotSupported(err) {
		t.Skip("transactions unavailable on this MongoDB deployment")
	}

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	th := fixtures.CreateThread(ctx, "Planning", creator.ID)
	anchor := fixtures.CreateMessage(ctx, th.ID, nil, creator.ID, "anchor")
	existing := fixtures.CreateMessage(ctx, th.ID, nil, creator.ID, "already here")

	// The last node reuses an existing message id, so its insert fails
	// after the first two nodes have already gone in.
	body := `{"parent_id":"` + anchor.ID.Hex() + `","root":{"content":"copied root","replies":[` +
		`{"content":"fine reply"},` +
		`{"id":"` + existing.ID.Hex() + `","content":"colliding reply"}]}}`
	req := messageRequest("POST", "/threads/"+th.ID.Hex()+"/messages/paste",
		body, testutil.UserWithID(creator.ID, creator.FullName, creator.Email), th.ID)

	rec := httptest.NewRecorder()
	handler.Paste(rec, req)
	if rec.Code == http.StatusCreated {
		t.Fatalf("expected paste with colliding id to fail, got %d: %s", rec.Code, rec.Body.String())
	}

	// All-or-nothing: the two good nodes must not survive the failure.
	count, err := fixtures.DB().Collection("messages").
		CountDocuments(ctx, bson.M{"thread_id": th.ID})
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected only the 2 pre-existing messages, found %d", count)
	}
}
