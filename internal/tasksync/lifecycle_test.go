package tasksync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hiroki-koketsu/go-tasksync/internal/model"
	"github.com/hiroki-koketsu/go-tasksync/internal/notify"
	"github.com/hiroki-koketsu/go-tasksync/internal/session"
	"github.com/hiroki-koketsu/go-tasksync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_InitialViewIsLoading(t *testing.T) {
	svc := New(&fakeStore{}, session.NewProvider(), &recorder{})

	v := svc.View()
	assert.Equal(t, StateUnsubscribed, v.State)
	assert.Empty(t, v.Tasks)
	assert.True(t, v.Loading)
}

func TestService_ResolvingKeepsLoading(t *testing.T) {
	st := &fakeStore{}
	p := session.NewProvider()
	svc, _ := startService(t, st, p)

	// Give the loop a chance to consume the initial resolving state.
	time.Sleep(20 * time.Millisecond)

	v := svc.View()
	assert.Equal(t, StateUnsubscribed, v.State)
	assert.True(t, v.Loading)
	assert.Zero(t, st.subCount())
}

func TestService_SignedOutSettlesUnsubscribed(t *testing.T) {
	st := &fakeStore{}
	p := session.NewProvider()
	svc, _ := startService(t, st, p)

	p.Resolve(nil)

	v := waitView(t, svc, func(v View) bool { return !v.Loading })
	assert.Equal(t, StateUnsubscribed, v.State)
	assert.Empty(t, v.Tasks)
	assert.Zero(t, st.subCount())
}

func TestService_LoadingThenLive(t *testing.T) {
	st := &fakeStore{}
	p := session.NewProvider()
	svc, _ := startService(t, st, p)

	p.Resolve(&session.Identity{UserID: "alice"})
	sub := st.waitSub(t, 1)
	assert.Equal(t, "alice", sub.owner)

	v := waitView(t, svc, func(v View) bool { return v.State == StateLoading })
	assert.True(t, v.Loading)
	assert.Empty(t, v.Tasks)
	assert.Equal(t, "alice", v.UserID)

	now := time.Now()
	sub.snaps <- store.Snapshot{Tasks: []model.Task{
		task("2", "alice", now),
		task("1", "alice", now.Add(-time.Minute)),
	}}

	v = waitView(t, svc, isLive("alice", 2))
	assert.False(t, v.Loading)
	assert.Equal(t, "2", v.Tasks[0].ID)
	assert.Equal(t, "1", v.Tasks[1].ID)
}

func TestService_SnapshotReplacesList(t *testing.T) {
	st := &fakeStore{}
	p := session.NewProvider()
	svc, _ := startService(t, st, p)

	p.SignIn(session.Identity{UserID: "alice"})
	sub := st.waitSub(t, 1)

	now := time.Now()
	sub.snaps <- store.Snapshot{Tasks: []model.Task{
		task("b", "alice", now),
		task("a", "alice", now.Add(-time.Minute)),
	}}
	waitView(t, svc, isLive("alice", 2))

	sub.snaps <- store.Snapshot{Tasks: []model.Task{task("c", "alice", now.Add(time.Minute))}}

	v := waitView(t, svc, isLive("alice", 1))
	assert.Equal(t, "c", v.Tasks[0].ID)
}

func TestService_IdentitySwitchCancelsPreviousSubscription(t *testing.T) {
	st := &fakeStore{}
	p := session.NewProvider()
	svc, _ := startService(t, st, p)

	p.SignIn(session.Identity{UserID: "alice"})
	subA := st.waitSub(t, 1)
	subA.snaps <- store.Snapshot{Tasks: []model.Task{task("a1", "alice", time.Now())}}
	waitView(t, svc, isLive("alice", 1))

	p.SignIn(session.Identity{UserID: "bob"})
	subB := st.waitSub(t, 2)
	assert.True(t, subA.cancelled.Load(), "previous subscription must be cancelled before the next opens")

	v := waitView(t, svc, func(v View) bool { return v.UserID == "bob" })
	assert.Equal(t, StateLoading, v.State)
	assert.True(t, v.Loading)
	assert.Empty(t, v.Tasks)

	// A late delivery on the old subscription never reaches the view.
	subA.snaps <- store.Snapshot{Tasks: []model.Task{task("a2", "alice", time.Now())}}
	subB.snaps <- store.Snapshot{Tasks: []model.Task{task("b1", "bob", time.Now())}}

	v = waitView(t, svc, isLive("bob", 1))
	assert.Equal(t, "b1", v.Tasks[0].ID)

	time.Sleep(20 * time.Millisecond)
	for _, tk := range svc.View().Tasks {
		assert.Equal(t, "bob", tk.OwnerID)
	}
}

func TestService_ViewFollowsSessionBeforeLoopCatchesUp(t *testing.T) {
	st := &fakeStore{}
	p := session.NewProvider()
	ids := &laggingSession{Provider: p}
	svc, _ := startService(t, st, ids)

	p.SignIn(session.Identity{UserID: "alice"})
	sub := st.waitSub(t, 1)
	sub.snaps <- store.Snapshot{Tasks: []model.Task{task("a1", "alice", time.Now())}}
	waitView(t, svc, isLive("alice", 1))

	ids.switchTo(session.State{Identity: &session.Identity{UserID: "bob"}})

	want := View{State: StateLoading, Tasks: []model.Task{}, Loading: true, UserID: "bob"}
	assert.Equal(t, want, svc.View())

	views, cancel := svc.Watch()
	defer cancel()
	assert.Equal(t, want, <-views)

	ids.switchTo(session.State{})
	assert.Equal(t, View{State: StateUnsubscribed, Tasks: []model.Task{}}, svc.View())
}

func TestService_ViewEmptyRightAfterSwitch(t *testing.T) {
	st := &fakeStore{}
	p := session.NewProvider()
	svc, _ := startService(t, st, p)

	p.SignIn(session.Identity{UserID: "alice"})
	sub := st.waitSub(t, 1)
	sub.snaps <- store.Snapshot{Tasks: []model.Task{task("a1", "alice", time.Now())}}
	waitView(t, svc, isLive("alice", 1))

	p.SignIn(session.Identity{UserID: "bob"})
	v := svc.View()
	assert.Equal(t, "bob", v.UserID)
	assert.Equal(t, StateLoading, v.State)
	assert.True(t, v.Loading)
	assert.Empty(t, v.Tasks)
}

func TestService_SignOutClearsList(t *testing.T) {
	st := &fakeStore{}
	p := session.NewProvider()
	svc, _ := startService(t, st, p)

	p.SignIn(session.Identity{UserID: "alice"})
	sub := st.waitSub(t, 1)
	sub.snaps <- store.Snapshot{Tasks: []model.Task{task("a1", "alice", time.Now())}}
	waitView(t, svc, isLive("alice", 1))

	p.SignOut()

	v := waitView(t, svc, func(v View) bool { return v.State == StateUnsubscribed })
	assert.Empty(t, v.Tasks)
	assert.False(t, v.Loading)
	assert.Empty(t, v.UserID)
	assert.True(t, sub.cancelled.Load())
}

func TestService_SameIdentityKeepsSubscription(t *testing.T) {
	st := &fakeStore{}
	p := session.NewProvider()
	svc, _ := startService(t, st, p)

	p.SignIn(session.Identity{UserID: "alice"})
	sub := st.waitSub(t, 1)
	sub.snaps <- store.Snapshot{Tasks: []model.Task{task("a1", "alice", time.Now())}}
	waitView(t, svc, isLive("alice", 1))

	p.SignIn(session.Identity{UserID: "alice", Email: "alice@example.com"})
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, st.subCount())
	assert.False(t, sub.cancelled.Load())
	assert.Equal(t, StateLive, svc.View().State)
}

func TestService_SubscriptionErrorKeepsList(t *testing.T) {
	st := &fakeStore{}
	p := session.NewProvider()
	svc, rec := startService(t, st, p)

	p.SignIn(session.Identity{UserID: "alice"})
	sub := st.waitSub(t, 1)
	sub.snaps <- store.Snapshot{Tasks: []model.Task{
		task("a2", "alice", time.Now()),
		task("a1", "alice", time.Now().Add(-time.Minute)),
	}}
	before := waitView(t, svc, isLive("alice", 2))

	sub.errs <- errors.New("permission denied")

	require.Eventually(t, func() bool { return rec.count(notify.LevelError) == 1 }, waitTimeout, 5*time.Millisecond)
	v := svc.View()
	assert.Equal(t, StateLive, v.State)
	assert.False(t, v.Loading)
	assert.Equal(t, before.Tasks, v.Tasks)
	assert.True(t, sub.cancelled.Load())

	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, notify.MsgLoadFailed, got[0].Message)
	assert.Equal(t, notify.OpLoad, got[0].Op)

	// No retry.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, st.subCount())
}

func TestService_SubscribeFailureStopsLoading(t *testing.T) {
	st := &fakeStore{subscribeErr: errors.New("unavailable")}
	p := session.NewProvider()
	svc, rec := startService(t, st, p)

	p.SignIn(session.Identity{UserID: "alice"})

	v := waitView(t, svc, func(v View) bool { return v.UserID == "alice" && !v.Loading })
	assert.Equal(t, StateLoading, v.State)
	assert.Empty(t, v.Tasks)
	assert.Equal(t, 1, rec.count(notify.LevelError))
}

func TestService_RunTwice(t *testing.T) {
	svc, _ := startService(t, &fakeStore{}, session.NewProvider())

	require.Eventually(t, func() bool {
		svc.runMu.Lock()
		defer svc.runMu.Unlock()
		return svc.running
	}, waitTimeout, 5*time.Millisecond)

	assert.ErrorIs(t, svc.Run(context.Background()), ErrAlreadyRunning)
}

func TestService_CloseReleasesSubscription(t *testing.T) {
	st := &fakeStore{}
	p := session.NewProvider()
	svc := New(st, p, &recorder{}, WithLogger(discardLogger()))

	errc := make(chan error, 1)
	go func() { errc <- svc.Run(context.Background()) }()

	p.SignIn(session.Identity{UserID: "alice"})
	sub := st.waitSub(t, 1)

	svc.Close()
	require.NoError(t, <-errc)
	assert.True(t, sub.cancelled.Load())
}

func TestService_WatchDeliversLatestView(t *testing.T) {
	st := &fakeStore{}
	p := session.NewProvider()
	svc, _ := startService(t, st, p)

	views, cancel := svc.Watch()
	defer cancel()

	first := <-views
	assert.True(t, first.Loading)

	p.SignIn(session.Identity{UserID: "alice"})
	sub := st.waitSub(t, 1)
	sub.snaps <- store.Snapshot{Tasks: []model.Task{task("a1", "alice", time.Now())}}

	require.Eventually(t, func() bool {
		select {
		case v := <-views:
			return v.State == StateLive && len(v.Tasks) == 1
		default:
			return false
		}
	}, waitTimeout, 5*time.Millisecond)
}
