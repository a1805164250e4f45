package messagestore_test

import (
	"testing"

	messagestore "github.com/arborhq/arbor/internal/app/store/messages"
	"github.com/arborhq/arbor/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func lockFixture(t *testing.T) (*messagestore.Store, *mongo.Database, primitive.ObjectID, primitive.ObjectID) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	fx := testutil.NewFixtures(t, db)
	owner := fx.CreateUser(ctx, "Ada Lovelace", "ada@example.com")
	th := fx.CreateThread(ctx, "Engines", owner.ID)
	m := fx.CreateMessage(ctx, th.ID, nil, owner.ID, "draft")
	return messagestore.New(db), db, th.ID, m.ID
}

func TestAcquireEditLock(t *testing.T) {
	store, _, threadID, msgID := lockFixture(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	alice := primitive.NewObjectID()
	bob := primitive.NewObjectID()

	m, err := store.AcquireEditLock(ctx, threadID, msgID, alice)
	if err != nil {
		t.Fatalf("AcquireEditLock() error = %v", err)
	}
	if !m.LockedBy(alice) {
		t.Error("lock holder not recorded")
	}

	// Re-acquire by the holder refreshes, never conflicts.
	if _, err := store.AcquireEditLock(ctx, threadID, msgID, alice); err != nil {
		t.Fatalf("re-acquire by holder: error = %v", err)
	}

	// A second user is refused while the lock is held.
	if _, err := store.AcquireEditLock(ctx, threadID, msgID, bob); err != messagestore.ErrLockHeld {
		t.Fatalf("acquire by other: error = %v, want ErrLockHeld", err)
	}

	// After release the lock is free for anyone.
	if err := store.ReleaseEditLock(ctx, threadID, msgID, alice); err != nil {
		t.Fatalf("ReleaseEditLock() error = %v", err)
	}
	if _, err := store.AcquireEditLock(ctx, threadID, msgID, bob); err != nil {
		t.Fatalf("acquire after release: error = %v", err)
	}
}

func TestAcquireEditLock_NotFound(t *testing.T) {
	store, _, threadID, _ := lockFixture(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := store.AcquireEditLock(ctx, threadID, primitive.NewObjectID(), primitive.NewObjectID())
	if err != messagestore.ErrNotFound {
		t.Fatalf("AcquireEditLock() error = %v, want ErrNotFound", err)
	}
}

func TestReleaseEditLock_NonHolderNoop(t *testing.T) {
	store, _, threadID, msgID := lockFixture(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	alice := primitive.NewObjectID()
	bob := primitive.NewObjectID()

	if _, err := store.AcquireEditLock(ctx, threadID, msgID, alice); err != nil {
		t.Fatalf("AcquireEditLock() error = %v", err)
	}

	// Bob never held the lock; release must succeed without effect.
	if err := store.ReleaseEditLock(ctx, threadID, msgID, bob); err != nil {
		t.Fatalf("release by non-holder: error = %v", err)
	}

	m, err := store.Get(ctx, threadID, msgID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !m.LockedBy(alice) {
		t.Error("non-holder release must not drop the lock")
	}

	// Releasing an unlocked message is also a no-op.
	if err := store.ReleaseEditLock(ctx, threadID, msgID, alice); err != nil {
		t.Fatalf("ReleaseEditLock() error = %v", err)
	}
	if err := store.ReleaseEditLock(ctx, threadID, msgID, alice); err != nil {
		t.Fatalf("double release: error = %v", err)
	}

	if err := store.ReleaseEditLock(ctx, threadID, primitive.NewObjectID(), alice); err != messagestore.ErrNotFound {
		t.Fatalf("release on missing message: error = %v, want ErrNotFound", err)
	}
}
