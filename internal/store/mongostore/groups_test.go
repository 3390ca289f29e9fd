package mongostore_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/Tyrowin/groupchat/internal/domain"
	"github.com/Tyrowin/groupchat/internal/membership"
	"github.com/Tyrowin/groupchat/internal/store/mongostore"
)

// setupTestDB connects to MONGO_TEST_URI and returns a throwaway database.
// Tests are skipped when no server is configured.
func setupTestDB(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := mongostore.Connect(ctx, uri, zap.NewNop())
	require.NoError(t, err)

	db := client.Database("groupchat_test_" + uuid.NewString()[:8])
	require.NoError(t, mongostore.EnsureIndexes(ctx, db))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return db
}

func TestGroups_InsertAndFind(t *testing.T) {
	db := setupTestDB(t)
	repo := mongostore.NewGroups(db)
	ctx := context.Background()

	g, err := repo.Insert(ctx, domain.NewGroup("admin", "Eng", "engineering", true))
	require.NoError(t, err)
	require.NotEmpty(t, g.ID)

	got, err := repo.FindByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Eng", got.Name)
	assert.Equal(t, []string{"admin"}, got.Members)

	secure, err := repo.FindSecureByAdmin(ctx, "admin")
	require.NoError(t, err)
	assert.Len(t, secure, 1)

	_, err = repo.FindByID(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)
}

func TestGroups_ConcurrentApproveSucceedsOnce(t *testing.T) {
	db := setupTestDB(t)
	repo := mongostore.NewGroups(db)
	store := membership.NewStore(repo)
	ctx := context.Background()

	g, err := repo.Insert(ctx, domain.NewGroup("admin", "Eng", "", true))
	require.NoError(t, err)
	_, err = store.AddPending(ctx, g.ID, "bob")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	wg.Add(4)
	for i := 0; i < 4; i++ {
		go func() {
			defer wg.Done()
			_, _, err := store.ResolvePending(ctx, g.ID, "bob", domain.Approve)
			if err == nil {
				successes.Add(1)
				return
			}
			if !errors.Is(err, domain.ErrNoSuchRequest) && !errors.Is(err, mongostore.ErrConcurrentUpdate) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	got, err := repo.FindByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "bob"}, got.Members)
	assert.Empty(t, got.PendingRequests)
}

func TestUsers_DuplicateEmail(t *testing.T) {
	db := setupTestDB(t)
	users := mongostore.NewUsers(db)
	ctx := context.Background()

	_, err := users.Insert(ctx, domain.User{Username: "ann", Email: "Ann@Example.com"})
	require.NoError(t, err)
	_, err = users.Insert(ctx, domain.User{Username: "ann2", Email: "ann@example.com"})
	assert.ErrorIs(t, err, domain.ErrUserExists)

	u, err := users.FindByEmail(ctx, "ANN@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ann", u.Username)
}
