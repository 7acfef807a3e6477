package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hiroki-koketsu/go-tasksync/internal/model"
)

// ErrSubscriptionClosed is reported on Errors when the store ends a live query
// that was not cancelled, for example because the store was closed.
var ErrSubscriptionClosed = errors.New("store: subscription closed")

// Loader reads the full, ordered result set for a query.
type Loader func(ctx context.Context) ([]model.Task, error)

// Live is a Subscription driven by change signals: every signal triggers a
// full re-read through the Loader. Backends embed it so they only need to
// provide a signal source.
type Live struct {
	snapshots chan Snapshot
	errs      chan error

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartLive runs the query once immediately and again after each value on
// changes. A closed changes channel or a Loader error ends the subscription
// and is reported on Errors. stop is called when the loop exits.
func StartLive(ctx context.Context, changes <-chan struct{}, load Loader, clock func() time.Time, stop func()) *Live {
	ctx, cancel := context.WithCancel(ctx)
	l := &Live{
		snapshots: make(chan Snapshot, 1),
		errs:      make(chan error, 1),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go l.run(ctx, changes, load, clock, stop)
	return l
}

func (l *Live) run(ctx context.Context, changes <-chan struct{}, load Loader, clock func() time.Time, stop func()) {
	defer close(l.done)
	if stop != nil {
		defer stop()
	}

	emit := func() bool {
		tasks, err := load(ctx)
		if err != nil {
			if ctx.Err() == nil {
				l.report(err)
			}
			return false
		}
		l.offer(ctx, Snapshot{Tasks: tasks, ReadAt: clock()})
		return true
	}

	if !emit() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				if ctx.Err() == nil {
					l.report(ErrSubscriptionClosed)
				}
				return
			}
			if !emit() {
				return
			}
		}
	}
}

func (l *Live) report(err error) {
	select {
	case l.errs <- err:
	default:
	}
}

// offer replaces any unread snapshot with snap; a newer full result set
// supersedes an older one.
func (l *Live) offer(ctx context.Context, snap Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case l.snapshots <- snap:
			return
		default:
		}
		select {
		case <-l.snapshots:
		default:
		}
	}
}

func (l *Live) Snapshots() <-chan Snapshot { return l.snapshots }

func (l *Live) Errors() <-chan error { return l.errs }

// Cancel stops the loop and waits for it, then drains anything left buffered.
func (l *Live) Cancel() {
	l.once.Do(func() {
		l.cancel()
		<-l.done
		for {
			select {
			case <-l.snapshots:
			case <-l.errs:
			default:
				return
			}
		}
	})
}

// SortNewestFirst orders tasks by CreatedAt descending, breaking ties by ID so
// snapshots are deterministic.
func SortNewestFirst(tasks []model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID > tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}
