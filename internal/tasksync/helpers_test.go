package tasksync

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hiroki-koketsu/go-tasksync/internal/model"
	"github.com/hiroki-koketsu/go-tasksync/internal/notify"
	"github.com/hiroki-koketsu/go-tasksync/internal/session"
	"github.com/hiroki-koketsu/go-tasksync/internal/store"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder collects notifications.
type recorder struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recorder) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Notification, len(r.got))
	copy(out, r.got)
	return out
}

func (r *recorder) count(level notify.Level) int {
	n := 0
	for _, got := range r.all() {
		if got.Level == level {
			n++
		}
	}
	return n
}

// startService runs a Service until the test ends.
func startService(t *testing.T, st store.Store, ids Identities) (*Service, *recorder) {
	t.Helper()

	rec := &recorder{}
	svc := New(st, ids, rec, WithLogger(discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- svc.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		svc.Close()
		require.NoError(t, <-errc)
	})
	return svc, rec
}

// laggingSession reports a session the Run loop has not been told about yet.
type laggingSession struct {
	*session.Provider

	mu    sync.Mutex
	ahead *session.State
}

func (l *laggingSession) Current() session.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ahead != nil {
		return *l.ahead
	}
	return l.Provider.Current()
}

func (l *laggingSession) switchTo(st session.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ahead = &st
}

// waitView waits until the view satisfies cond and returns it.
func waitView(t *testing.T, svc *Service, cond func(View) bool) View {
	t.Helper()

	var last View
	require.Eventually(t, func() bool {
		last = svc.View()
		return cond(last)
	}, waitTimeout, 5*time.Millisecond)
	return last
}

func isLive(user string, n int) func(View) bool {
	return func(v View) bool {
		return v.State == StateLive && v.UserID == user && len(v.Tasks) == n
	}
}

// fakeSub is a Subscription the test feeds by hand.
type fakeSub struct {
	owner     string
	snaps     chan store.Snapshot
	errs      chan error
	cancelled atomic.Bool
}

func (s *fakeSub) Snapshots() <-chan store.Snapshot { return s.snaps }
func (s *fakeSub) Errors() <-chan error             { return s.errs }
func (s *fakeSub) Cancel()                          { s.cancelled.Store(true) }

// fakeStore hands out fakeSubs and counts writes.
type fakeStore struct {
	mu           sync.Mutex
	subs         []*fakeSub
	subscribeErr error
	writes       atomic.Int32
}

func (f *fakeStore) Subscribe(_ context.Context, q store.Query) (store.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := &fakeSub{
		owner: q.OwnerID,
		snaps: make(chan store.Snapshot, 1),
		errs:  make(chan error, 1),
	}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeStore) Create(context.Context, string, model.Task) (string, error) {
	f.writes.Add(1)
	return "id", nil
}

func (f *fakeStore) Patch(context.Context, store.Query, string, model.TaskPatch) error {
	f.writes.Add(1)
	return nil
}

func (f *fakeStore) Delete(context.Context, store.Query, string) error {
	f.writes.Add(1)
	return nil
}

func (f *fakeStore) Close() error { return nil }

// waitSub waits for the n-th subscription (1-based) to be opened.
func (f *fakeStore) waitSub(t *testing.T, n int) *fakeSub {
	t.Helper()

	var sub *fakeSub
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.subs) < n {
			return false
		}
		sub = f.subs[n-1]
		return true
	}, waitTimeout, 5*time.Millisecond)
	return sub
}

func (f *fakeStore) subCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func task(id, owner string, created time.Time) model.Task {
	return model.Task{ID: id, Title: "task " + id, OwnerID: owner, CreatedAt: created, UpdatedAt: created}
}
