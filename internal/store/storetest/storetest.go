// Package storetest checks that a store.Store implementation honours the
// live query and write contract.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/hiroki-koketsu/go-tasksync/internal/model"
	"github.com/hiroki-koketsu/go-tasksync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run runs the contract suite.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"InitialSnapshot", testInitialSnapshot},
		{"CreateAssignsIDAndTimestamps", testCreate},
		{"NewestFirst", testNewestFirst},
		{"PatchWritesSuppliedFields", testPatch},
		{"PatchClearsOptionalFields", testPatchClear},
		{"PatchMissing", testPatchMissing},
		{"Delete", testDelete},
		{"DeleteMissing", testDeleteMissing},
		{"OwnerScope", testOwnerScope},
		{"WritesScopedToOwner", testWritesScopedToOwner},
		{"CollectionScope", testCollectionScope},
		{"CancelStopsDelivery", testCancel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func scope(owner string) store.Query {
	return store.Query{Collection: store.DefaultCollection, OwnerID: owner}
}

func subscribe(t *testing.T, s store.Store, owner string) store.Subscription {
	t.Helper()
	sub, err := s.Subscribe(context.Background(), scope(owner))
	require.NoError(t, err)
	t.Cleanup(sub.Cancel)
	return sub
}

// Await reads snapshots until one satisfies cond.
func Await(t *testing.T, sub store.Subscription, cond func([]model.Task) bool) []model.Task {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case snap := <-sub.Snapshots():
			if cond(snap.Tasks) {
				return snap.Tasks
			}
		case err := <-sub.Errors():
			t.Fatalf("subscription failed: %v", err)
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

// Len matches a snapshot of n tasks.
func Len(n int) func([]model.Task) bool {
	return func(tasks []model.Task) bool { return len(tasks) == n }
}

func create(t *testing.T, s store.Store, owner, title string) string {
	t.Helper()
	id, err := s.Create(context.Background(), store.DefaultCollection, model.Task{Title: title, OwnerID: owner})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func ptr[T any](v T) *T { return &v }

func testInitialSnapshot(t *testing.T, s store.Store) {
	sub := subscribe(t, s, "alice")
	tasks := Await(t, sub, func([]model.Task) bool { return true })
	assert.Empty(t, tasks)
}

func testCreate(t *testing.T, s store.Store) {
	sub := subscribe(t, s, "alice")
	Await(t, sub, Len(0))

	before := time.Now().Add(-time.Second)
	due := model.Date{Year: 2026, Month: time.May, Day: 1}
	id, err := s.Create(context.Background(), store.DefaultCollection, model.Task{
		Title:       "write report",
		Description: ptr("quarterly"),
		DueDate:     &due,
		DueTime:     ptr("09:30"),
		OwnerID:     "alice",
	})
	require.NoError(t, err)

	tasks := Await(t, sub, Len(1))
	got := tasks[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "write report", got.Title)
	assert.False(t, got.Completed)
	assert.Equal(t, "alice", got.OwnerID)
	require.NotNil(t, got.Description)
	assert.Equal(t, "quarterly", *got.Description)
	require.NotNil(t, got.DueDate)
	assert.Equal(t, due, *got.DueDate)
	require.NotNil(t, got.DueTime)
	assert.Equal(t, "09:30", *got.DueTime)
	assert.True(t, got.CreatedAt.After(before))
	assert.True(t, got.CreatedAt.Equal(got.UpdatedAt))
}

func testNewestFirst(t *testing.T, s store.Store) {
	var ids []string
	for _, title := range []string{"one", "two", "three"} {
		ids = append(ids, create(t, s, "alice", title))
		time.Sleep(2 * time.Millisecond)
	}

	sub := subscribe(t, s, "alice")
	tasks := Await(t, sub, Len(3))
	assert.Equal(t, ids[2], tasks[0].ID)
	assert.Equal(t, ids[1], tasks[1].ID)
	assert.Equal(t, ids[0], tasks[2].ID)
}

func testPatch(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.Create(ctx, store.DefaultCollection, model.Task{
		Title:       "draft",
		Description: ptr("keep"),
		OwnerID:     "alice",
	})
	require.NoError(t, err)

	sub := subscribe(t, s, "alice")
	created := Await(t, sub, Len(1))[0]

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Patch(ctx, scope("alice"), id, model.TaskPatch{
		Title:     ptr("final"),
		Completed: ptr(true),
	}))

	got := Await(t, sub, func(tasks []model.Task) bool {
		return len(tasks) == 1 && tasks[0].Title == "final"
	})[0]
	assert.True(t, got.Completed)
	require.NotNil(t, got.Description)
	assert.Equal(t, "keep", *got.Description)
	assert.Equal(t, "alice", got.OwnerID)
	assert.True(t, got.CreatedAt.Equal(created.CreatedAt))
	assert.True(t, got.UpdatedAt.After(created.UpdatedAt))
}

func testPatchClear(t *testing.T, s store.Store) {
	ctx := context.Background()
	due := model.Date{Year: 2026, Month: time.June, Day: 2}
	id, err := s.Create(ctx, store.DefaultCollection, model.Task{
		Title:       "dated",
		Description: ptr("note"),
		DueDate:     &due,
		DueTime:     ptr("10:00"),
		OwnerID:     "alice",
	})
	require.NoError(t, err)

	require.NoError(t, s.Patch(ctx, scope("alice"), id, model.TaskPatch{
		ClearDescription: true,
		ClearDueDate:     true,
		ClearDueTime:     true,
	}))

	sub := subscribe(t, s, "alice")
	got := Await(t, sub, Len(1))[0]
	assert.Nil(t, got.Description)
	assert.Nil(t, got.DueDate)
	assert.Nil(t, got.DueTime)
	assert.Equal(t, "dated", got.Title)
}

func testPatchMissing(t *testing.T, s store.Store) {
	err := s.Patch(context.Background(), scope("alice"), "missing", model.TaskPatch{Title: ptr("x")})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testDelete(t *testing.T, s store.Store) {
	keep := create(t, s, "alice", "keep")
	drop := create(t, s, "alice", "drop")

	sub := subscribe(t, s, "alice")
	Await(t, sub, Len(2))

	require.NoError(t, s.Delete(context.Background(), scope("alice"), drop))

	tasks := Await(t, sub, Len(1))
	assert.Equal(t, keep, tasks[0].ID)

	err := s.Delete(context.Background(), scope("alice"), drop)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testDeleteMissing(t *testing.T, s store.Store) {
	err := s.Delete(context.Background(), scope("alice"), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testOwnerScope(t *testing.T, s store.Store) {
	sub := subscribe(t, s, "alice")
	Await(t, sub, Len(0))

	create(t, s, "bob", "not yours")
	id := create(t, s, "alice", "yours")

	tasks := Await(t, sub, Len(1))
	assert.Equal(t, id, tasks[0].ID)
	assert.Equal(t, "alice", tasks[0].OwnerID)
}

func testWritesScopedToOwner(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := create(t, s, "bob", "bob's")

	err := s.Patch(ctx, scope("alice"), id, model.TaskPatch{Title: ptr("taken")})
	assert.ErrorIs(t, err, model.ErrNotFound)
	err = s.Delete(ctx, scope("alice"), id)
	assert.ErrorIs(t, err, model.ErrNotFound)

	sub := subscribe(t, s, "bob")
	tasks := Await(t, sub, Len(1))
	assert.Equal(t, "bob's", tasks[0].Title)
}

func testCollectionScope(t *testing.T, s store.Store) {
	_, err := s.Create(context.Background(), "archive", model.Task{Title: "archived", OwnerID: "alice"})
	require.NoError(t, err)

	sub := subscribe(t, s, "alice")
	tasks := Await(t, sub, func([]model.Task) bool { return true })
	assert.Empty(t, tasks)
}

func testCancel(t *testing.T, s store.Store) {
	sub := subscribe(t, s, "alice")
	Await(t, sub, Len(0))

	sub.Cancel()
	sub.Cancel()
	create(t, s, "alice", "after cancel")

	select {
	case snap := <-sub.Snapshots():
		t.Fatalf("snapshot after cancel: %+v", snap)
	case err := <-sub.Errors():
		t.Fatalf("error after cancel: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}
