package threads_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/arborhq/arbor/internal/app/features/threads"
	"github.com/arborhq/arbor/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T) (*threads.Handler, *testutil.Fixtures) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	handler := threads.NewHandler(db, zap.NewNop())
	fixtures := testutil.NewFixtures(t, db)
	return handler, fixtures
}

func TestCreate(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")

	req := httptest.NewRequest("POST", "/threads", strings.NewReader(`{"title":"Planning Notes"}`))
	req = testutil.WithUser(req, testutil.UserWithID(creator.ID, creator.FullName, creator.Email))

	rec := httptest.NewRecorder()
	handler.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var resp struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Rank  int    `json:"rank"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Title != "Planning Notes" {
		t.Errorf("Title: got %q, want %q", resp.Title, "Planning Notes")
	}
	if resp.Rank != 4 {
		t.Errorf("expected creator rank 4, got %d", resp.Rank)
	}

	// The creator also gets an explicit owner membership row.
	count, err := fixtures.DB().Collection("thread_memberships").CountDocuments(ctx,
		bson.M{"user_id": creator.ID, "role": "owner"})
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 owner membership for creator, got %d", count)
	}
}

func TestCreate_EmptyTitle(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")

	req := httptest.NewRequest("POST", "/threads", strings.NewReader(`{"title":"   "}`))
	req = testutil.WithUser(req, testutil.UserWithID(creator.ID, creator.FullName, creator.Email))

	rec := httptest.NewRecorder()
	handler.Create(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestList_ScopedToMember(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	member := fixtures.CreateUser(ctx, "Grace Hopper", "grace@example.com")
	mine := fixtures.CreateThread(ctx, "Shared", creator.ID)
	fixtures.CreateThread(ctx, "Private", creator.ID)
	fixtures.CreateMembership(ctx, mine.ID, member.ID, "viewer")

	req := testutil.NewRequest("GET", "/threads")
	req = testutil.WithUser(req, testutil.UserWithID(member.ID, member.FullName, member.Email))

	rec := httptest.NewRecorder()
	handler.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var resp struct {
		Threads []struct {
			Title string `json:"title"`
			Rank  int    `json:"rank"`
		} `json:"threads"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Threads) != 1 {
		t.Fatalf("expected 1 thread for member, got %d", len(resp.Threads))
	}
	if resp.Threads[0].Title != "Shared" {
		t.Errorf("Title: got %q, want %q", resp.Threads[0].Title, "Shared")
	}
	if resp.Threads[0].Rank != 1 {
		t.Errorf("expected viewer rank 1, got %d", resp.Threads[0].Rank)
	}
}

func TestList_IncludesCreatedWithoutMembershipRow(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	th := fixtures.CreateThread(ctx, "Orphaned", creator.ID)

	// Drop the creator's explicit row; creator status alone keeps the
	// thread visible.
	if _, err := fixtures.DB().Collection("thread_memberships").
		DeleteMany(ctx, bson.M{"thread_id": th.ID, "user_id": creator.ID}); err != nil {
		t.Fatalf("DeleteMany failed: %v", err)
	}

	req := testutil.NewRequest("GET", "/threads")
	req = testutil.WithUser(req, testutil.UserWithID(creator.ID, creator.FullName, creator.Email))

	rec := httptest.NewRecorder()
	handler.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var resp struct {
		Threads []struct {
			Title string `json:"title"`
			Rank  int    `json:"rank"`
		} `json:"threads"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Threads) != 1 {
		t.Fatalf("expected 1 thread for creator, got %d", len(resp.Threads))
	}
	if resp.Threads[0].Title != "Orphaned" {
		t.Errorf("Title: got %q, want %q", resp.Threads[0].Title, "Orphaned")
	}
	if resp.Threads[0].Rank != 4 {
		t.Errorf("expected creator rank 4, got %d", resp.Threads[0].Rank)
	}
}

func TestGet_NonMemberForbidden(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	outsider := fixtures.CreateUser(ctx, "Mallory", "mallory@example.com")
	th := fixtures.CreateThread(ctx, "Private", creator.ID)

	req := testutil.NewRequest("GET", "/threads/"+th.ID.Hex())
	req = testutil.WithUser(req, testutil.UserWithID(outsider.ID, outsider.FullName, outsider.Email))
	req = testutil.WithChiURLParam(req, "threadID", th.ID.Hex())

	rec := httptest.NewRecorder()
	handler.Get(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected status %d, got %d", http.StatusForbidden, rec.Code)
	}
}

func TestRename_RequiresCreator(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	owner := fixtures.CreateUser(ctx, "Grace Hopper", "grace@example.com")
	th := fixtures.CreateThread(ctx, "Old Title", creator.ID)
	fixtures.CreateMembership(ctx, th.ID, owner.ID, "owner")

	// An explicit owner row is rank 3; renaming needs the creator's rank 4.
	req := httptest.NewRequest("PUT", "/threads/"+th.ID.Hex()+"/title",
		strings.NewReader(`{"title":"New Title"}`))
	req = testutil.WithUser(req, testutil.UserWithID(owner.ID, owner.FullName, owner.Email))
	req = testutil.WithChiURLParam(req, "threadID", th.ID.Hex())

	rec := httptest.NewRecorder()
	handler.Rename(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected owner to be denied with %d, got %d", http.StatusForbidden, rec.Code)
	}

	req = httptest.NewRequest("PUT", "/threads/"+th.ID.Hex()+"/title",
		strings.NewReader(`{"title":"New Title"}`))
	req = testutil.WithUser(req, testutil.UserWithID(creator.ID, creator.FullName, creator.Email))
	req = testutil.WithChiURLParam(req, "threadID", th.ID.Hex())

	rec = httptest.NewRecorder()
	handler.Rename(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected creator rename to succeed, got %d: %s", rec.Code, rec.Body.String())
	}

	var th2 bson.M
	if err := fixtures.DB().Collection("threads").FindOne(ctx, bson.M{"_id": th.ID}).Decode(&th2); err != nil {
		t.Fatalf("load thread: %v", err)
	}
	if th2["title"] != "New Title" {
		t.Errorf("title: got %v, want %q", th2["title"], "New Title")
	}
}

func TestDelete_RequiresCreator(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	editor := fixtures.CreateUser(ctx, "Grace Hopper", "grace@example.com")
	th := fixtures.CreateThread(ctx, "Doomed", creator.ID)
	fixtures.CreateMembership(ctx, th.ID, editor.ID, "editor")
	root := fixtures.CreateMessage(ctx, th.ID, nil, creator.ID, "root")
	fixtures.CreateMessage(ctx, th.ID, &root.ID, editor.ID, "reply")

	req := testutil.NewRequest("DELETE", "/threads/"+th.ID.Hex())
	req = testutil.WithUser(req, testutil.UserWithID(editor.ID, editor.FullName, editor.Email))
	req = testutil.WithChiURLParam(req, "threadID", th.ID.Hex())

	rec := httptest.NewRecorder()
	handler.Delete(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected editor delete to be denied, got %d", rec.Code)
	}

	req = testutil.NewRequest("DELETE", "/threads/"+th.ID.Hex())
	req = testutil.WithUser(req, testutil.UserWithID(creator.ID, creator.FullName, creator.Email))
	req = testutil.WithChiURLParam(req, "threadID", th.ID.Hex())

	rec = httptest.NewRecorder()
	handler.Delete(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected creator delete to succeed, got %d: %s", rec.Code, rec.Body.String())
	}

	var th2 bson.M
	if err := fixtures.DB().Collection("threads").FindOne(ctx, bson.M{"_id": th.ID}).Decode(&th2); err != nil {
		t.Fatalf("load thread: %v", err)
	}
	if th2["is_deleted"] != true {
		t.Error("expected thread to be soft-deleted")
	}

	// Message cascade.
	live, err := fixtures.DB().Collection("messages").
		CountDocuments(ctx, bson.M{"thread_id": th.ID, "is_deleted": false})
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if live != 0 {
		t.Errorf("expected all messages soft-deleted with the thread, %d still live", live)
	}
}

func TestPin(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	th := fixtures.CreateThread(ctx, "Pinnable", creator.ID)

	req := httptest.NewRequest("POST", "/threads/"+th.ID.Hex()+"/pin",
		strings.NewReader(`{"pinned":true}`))
	req = testutil.WithUser(req, testutil.UserWithID(creator.ID, creator.FullName, creator.Email))
	req = testutil.WithChiURLParam(req, "threadID", th.ID.Hex())

	rec := httptest.NewRecorder()
	handler.Pin(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected pin to succeed, got %d: %s", rec.Code, rec.Body.String())
	}

	var mem bson.M
	err := fixtures.DB().Collection("thread_memberships").
		FindOne(ctx, bson.M{"thread_id": th.ID, "user_id": creator.ID}).Decode(&mem)
	if err != nil {
		t.Fatalf("load membership: %v", err)
	}
	if mem["pinned"] != true {
		t.Error("expected membership to be pinned")
	}
}

func TestTransfer(t *testing.T) {
	handler, fixtures := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := fixtures.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	heir := fixtures.CreateUser(ctx, "Grace Hopper", "grace@example.com")
	outsider := fixtures.CreateUser(ctx, "Mallory", "mallory@example.com")
	th := fixtures.CreateThread(ctx, "Handover", creator.ID)
	fixtures.CreateMembership(ctx, th.ID, heir.ID, "viewer")

	// Only the creator may transfer.
	req := httptest.NewRequest("POST", "/threads/"+th.ID.Hex()+"/transfer",
		strings.NewReader(`{"user_id":"`+creator.ID.Hex()+`"}`))
	req = testutil.WithUser(req, testutil.UserWithID(heir.ID, heir.FullName, heir.Email))
	req = testutil.WithChiURLParam(req, "threadID", th.ID.Hex())

	rec := httptest.NewRecorder()
	handler.Transfer(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected non-creator transfer to be denied, got %d", rec.Code)
	}

	// The target must already be a member.
	req = httptest.NewRequest("POST", "/threads/"+th.ID.Hex()+"/transfer",
		strings.NewReader(`{"user_id":"`+outsider.ID.Hex()+`"}`))
	req = testutil.WithUser(req, testutil.UserWithID(creator.ID, creator.FullName, creator.Email))
	req = testutil.WithChiURLParam(req, "threadID", th.ID.Hex())

	rec = httptest.NewRecorder()
	handler.Transfer(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected transfer to non-member to 404, got %d", rec.Code)
	}

	// Self-transfer is rejected.
	req = httptest.NewRequest("POST", "/threads/"+th.ID.Hex()+"/transfer",
		strings.NewReader(`{"user_id":"`+creator.ID.Hex()+`"}`))
	req = testutil.WithUser(req, testutil.UserWithID(creator.ID, creator.FullName, creator.Email))
	req = testutil.WithChiURLParam(req, "threadID", th.ID.Hex())

	rec = httptest.NewRecorder()
	handler.Transfer(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected self-transfer to be rejected, got %d", rec.Code)
	}

	// The real transfer. Requires a replica set; skip when unsupported.
	req = httptest.NewRequest("POST", "/threads/"+th.ID.Hex()+"/transfer",
		strings.NewReader(`{"user_id":"`+heir.ID.Hex()+`"}`))
	req = testutil.WithUser(req, testutil.UserWithID(creator.ID, creator.FullName, creator.Email))
	req = testutil.WithChiURLParam(req, "threadID", th.ID.Hex())

	rec = httptest.NewRecorder()
	handler.Transfer(rec, req)
	if rec.Code == http.StatusBadGateway {
		t.Skip("transactions unavailable on this MongoDB deployment")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected transfer to succeed, got %d: %s", rec.Code, rec.Body.String())
	}

	var th2 bson.M
	if err := fixtures.DB().Collection("threads").FindOne(ctx, bson.M{"_id": th.ID}).Decode(&th2); err != nil {
		t.Fatalf("load thread: %v", err)
	}
	if th2["creator_id"] != heir.ID {
		t.Errorf("creator_id: got %v, want %v", th2["creator_id"], heir.ID)
	}

	// The old creator keeps access through an explicit owner row.
	var mem bson.M
	err := fixtures.DB().Collection("thread_memberships").
		FindOne(ctx, bson.M{"thread_id": th.ID, "user_id": creator.ID}).Decode(&mem)
	if err != nil {
		t.Fatalf("load old creator membership: %v", err)
	}
	if mem["role"] != "owner" {
		t.Errorf("old creator role: got %v, want owner", mem["role"])
	}
}
