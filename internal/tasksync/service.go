// Package tasksync keeps a live, ordered view of the signed-in user's tasks
// and turns user intents into store writes.
//
// A single goroutine (Run) owns the subscription lifecycle. It reacts to
// identity changes from the session provider and to snapshots from the
// current live query. Mutations go straight to the store and never touch the
// list; the list changes only when the live query delivers the next snapshot.
package tasksync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hiroki-koketsu/go-tasksync/internal/model"
	"github.com/hiroki-koketsu/go-tasksync/internal/notify"
	"github.com/hiroki-koketsu/go-tasksync/internal/session"
	"github.com/hiroki-koketsu/go-tasksync/internal/store"
	"github.com/hiroki-koketsu/go-tasksync/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/go-tasksync/internal/tasksync")

// ErrAlreadyRunning is returned by Run when the loop is already running.
var ErrAlreadyRunning = errors.New("tasksync: already running")

// Identities is the source of the current session.
type Identities interface {
	Current() session.State
	Watch() (<-chan session.State, func())
}

// Service is the task synchronization service.
type Service struct {
	store      store.Store
	identities Identities
	notifier   notify.Notifier
	collection string
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	now        func() time.Time

	mu       sync.RWMutex
	view     View
	watchers map[uint64]chan View
	nextID   uint64

	runMu   sync.Mutex
	running bool
	closing chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Option configures a Service.
type Option func(*Service)

// WithCollection sets the store collection tasks are kept in.
func WithCollection(name string) Option {
	return func(s *Service) { s.collection = name }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the clock used for filtering and call timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service. It does nothing until Run is called, and its view
// starts out empty and loading.
func New(st store.Store, ids Identities, n notify.Notifier, opts ...Option) *Service {
	s := &Service{
		store:      st,
		identities: ids,
		notifier:   n,
		collection: store.DefaultCollection,
		logger:     slog.Default(),
		now:        time.Now,
		view:       View{State: StateUnsubscribed, Tasks: []model.Task{}, Loading: true},
		watchers:   make(map[uint64]chan View),
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives the service until ctx is cancelled or Close is called. The live
// subscription, if any, is released before Run returns.
func (s *Service) Run(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.runMu.Unlock()
	defer close(s.done)

	ids, stopWatch := s.identities.Watch()
	defer stopWatch()

	l := &loop{svc: s}
	defer l.release()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closing:
			return nil
		case st := <-ids:
			l.identityChanged(ctx, st)
		case snap := <-l.snapshots:
			l.snapshot(ctx, snap)
		case err := <-l.errs:
			l.failed(ctx, err)
		}
	}
}

// Close stops Run and waits for it to release the live subscription.
func (s *Service) Close() {
	s.once.Do(func() { close(s.closing) })

	s.runMu.Lock()
	running := s.running
	s.runMu.Unlock()
	if running {
		<-s.done
	}
}

// loop is the state owned by the Run goroutine.
type loop struct {
	svc *Service

	sub       store.Subscription
	owner     string
	snapshots <-chan store.Snapshot
	errs      <-chan error
}

// release cancels the current subscription. Cancel is synchronous, so nothing
// from it can be received once release returns; the nil channels also take it
// out of the select.
func (l *loop) release() {
	if l.sub == nil {
		return
	}
	l.sub.Cancel()
	l.sub = nil
	l.snapshots = nil
	l.errs = nil
}

func (l *loop) identityChanged(ctx context.Context, st session.State) {
	s := l.svc
	user := st.UserID()

	if !st.Resolving && user != "" && user == l.owner && l.sub != nil {
		return
	}

	l.release()
	l.owner = user

	switch {
	case st.Resolving:
		s.setView(View{State: StateUnsubscribed, Tasks: []model.Task{}, Loading: true})
	case user == "":
		s.logger.InfoContext(ctx, "session ended, tasks unsubscribed")
		s.setView(View{State: StateUnsubscribed, Tasks: []model.Task{}})
	default:
		s.setView(View{State: StateLoading, Tasks: []model.Task{}, Loading: true, UserID: user})
		l.subscribe(ctx, user)
	}
}

func (l *loop) subscribe(ctx context.Context, user string) {
	s := l.svc

	spanCtx, span := tracer.Start(ctx, "Service.Subscribe")
	span.SetAttributes(attribute.String("task.owner_id", user))
	defer span.End()

	sub, err := s.store.Subscribe(ctx, s.scope(user))
	if err != nil {
		span.RecordError(err)
		l.failed(spanCtx, err)
		return
	}
	l.sub = sub
	l.snapshots = sub.Snapshots()
	l.errs = sub.Errors()
	s.logger.InfoContext(spanCtx, "tasks subscribed", slog.String("owner_id", user))
}

func (l *loop) snapshot(ctx context.Context, snap store.Snapshot) {
	s := l.svc
	tasks := cloneTasks(snap.Tasks)

	s.setView(View{
		State:    StateLive,
		Tasks:    tasks,
		UserID:   l.owner,
		SyncedAt: snap.ReadAt,
	})
	s.metrics.RecordSnapshot(ctx, len(tasks))
	s.logger.DebugContext(ctx, "snapshot applied",
		slog.String("owner_id", l.owner),
		slog.Int("count", len(tasks)),
	)
}

// failed handles a subscription failure: loading stops, the last list stays,
// the user is told once and the subscription is not retried.
func (l *loop) failed(ctx context.Context, err error) {
	s := l.svc
	l.release()

	subErr := &model.SubscriptionError{OwnerID: l.owner, Err: err}
	s.logger.ErrorContext(ctx, "task subscription failed", slog.Any("error", subErr))

	s.mu.Lock()
	v := s.view
	v.Loading = false
	s.mu.Unlock()
	s.setView(v)

	s.notify(ctx, notify.LevelError, notify.OpLoad, notify.MsgLoadFailed)
}

func (s *Service) notify(ctx context.Context, level notify.Level, op, msg string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, notify.Notification{
		Level:   level,
		Message: msg,
		Op:      op,
		At:      s.now(),
	})
}

func cloneTasks(tasks []model.Task) []model.Task {
	out := make([]model.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}
