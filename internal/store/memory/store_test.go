package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hiroki-koketsu/go-tasksync/internal/model"
	"github.com/hiroki-koketsu/go-tasksync/internal/store"
	"github.com/hiroki-koketsu/go-tasksync/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}

func TestStore_ServerClock(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(WithClock(func() time.Time { return at }))
	defer s.Close()

	ctx := context.Background()
	_, err := s.Create(ctx, store.DefaultCollection, model.Task{Title: "t", OwnerID: "alice", CreatedAt: at.Add(-time.Hour)})
	require.NoError(t, err)

	sub, err := s.Subscribe(ctx, store.Query{Collection: store.DefaultCollection, OwnerID: "alice"})
	require.NoError(t, err)
	defer sub.Cancel()

	tasks := storetest.Await(t, sub, storetest.Len(1))
	assert.Equal(t, at, tasks[0].CreatedAt)
	assert.Equal(t, at, tasks[0].UpdatedAt)
	assert.EqualValues(t, 1, s.Count())
}

func TestStore_FailWrites(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	id, err := s.Create(ctx, store.DefaultCollection, model.Task{Title: "t", OwnerID: "alice"})
	require.NoError(t, err)

	boom := errors.New("boom")
	s.FailWrites(boom)
	alice := store.Query{Collection: store.DefaultCollection, OwnerID: "alice"}

	_, err = s.Create(ctx, store.DefaultCollection, model.Task{Title: "u", OwnerID: "alice"})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.Patch(ctx, alice, id, model.TaskPatch{}), boom)
	assert.ErrorIs(t, s.Delete(ctx, alice, id), boom)

	s.FailWrites(nil)
	assert.NoError(t, s.Delete(ctx, alice, id))
}

func TestStore_FailSubscription(t *testing.T) {
	s := New()
	defer s.Close()

	sub, err := s.Subscribe(context.Background(), store.Query{Collection: store.DefaultCollection, OwnerID: "alice"})
	require.NoError(t, err)
	defer sub.Cancel()
	storetest.Await(t, sub, storetest.Len(0))

	denied := errors.New("permission denied")
	s.FailSubscription("alice", denied)

	select {
	case err := <-sub.Errors():
		assert.ErrorIs(t, err, denied)
	case <-time.After(time.Second):
		t.Fatal("no subscription error")
	}
	require.Eventually(t, func() bool { return s.Listeners("alice") == 0 }, time.Second, 5*time.Millisecond)
}

func TestStore_CloseEndsSubscriptions(t *testing.T) {
	s := New()

	sub, err := s.Subscribe(context.Background(), store.Query{Collection: store.DefaultCollection, OwnerID: "alice"})
	require.NoError(t, err)
	storetest.Await(t, sub, storetest.Len(0))

	require.NoError(t, s.Close())
	select {
	case err := <-sub.Errors():
		assert.ErrorIs(t, err, store.ErrSubscriptionClosed)
	case <-time.After(time.Second):
		t.Fatal("subscription ended without an error")
	}
	sub.Cancel()
	assert.Zero(t, s.Listeners("alice"))
}
