// Package memory is an in-process document store with live queries. It backs
// development runs and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hiroki-koketsu/go-tasksync/internal/model"
	"github.com/hiroki-koketsu/go-tasksync/internal/store"
	"github.com/hiroki-koketsu/go-tasksync/internal/store/feed"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/go-tasksync/internal/store/memory")

var _ store.Store = (*Store)(nil)

// Store keeps task documents per collection in memory.
type Store struct {
	mu   sync.RWMutex
	docs map[string]map[string]*model.Task // collection -> id -> task
	feed *feed.Feed
	now  func() time.Time

	writeErr error
	subErrs  map[string]error // owner -> error injected into its live queries
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the server clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		docs:    make(map[string]map[string]*model.Task),
		feed:    feed.New(),
		now:     time.Now,
		subErrs: make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailWrites makes every subsequent write fail with err; nil restores normal
// behaviour.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// FailSubscription makes the live queries of owner fail with err on their
// next read. Existing queries are signalled so they observe it promptly.
func (s *Store) FailSubscription(owner string, err error) {
	s.mu.Lock()
	if err == nil {
		delete(s.subErrs, owner)
	} else {
		s.subErrs[owner] = err
	}
	s.mu.Unlock()
	s.feed.Publish(owner)
}

// Listeners returns how many live queries currently watch owner.
func (s *Store) Listeners(owner string) int {
	return s.feed.Listeners(owner)
}

// Subscribe opens a live query scoped to q.OwnerID.
func (s *Store) Subscribe(ctx context.Context, q store.Query) (store.Subscription, error) {
	_, span := tracer.Start(ctx, "Store.Subscribe",
		trace.WithAttributes(attribute.String("task.owner_id", q.OwnerID)),
	)
	defer span.End()

	changes, stop := s.feed.Subscribe(q.OwnerID)
	return store.StartLive(ctx, changes, func(ctx context.Context) ([]model.Task, error) {
		return s.list(ctx, q)
	}, s.now, stop), nil
}

func (s *Store) list(ctx context.Context, q store.Query) ([]model.Task, error) {
	_, span := tracer.Start(ctx, "Store.List",
		trace.WithAttributes(attribute.String("task.owner_id", q.OwnerID)),
	)
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.subErrs[q.OwnerID]; err != nil {
		return nil, err
	}

	tasks := make([]model.Task, 0)
	for _, t := range s.docs[q.Collection] {
		if t.OwnerID == q.OwnerID {
			tasks = append(tasks, t.Clone())
		}
	}
	store.SortNewestFirst(tasks)

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	return tasks, nil
}

// Create adds a new document and returns its assigned id.
func (s *Store) Create(ctx context.Context, collection string, doc model.Task) (string, error) {
	_, span := tracer.Start(ctx, "Store.Create",
		trace.WithAttributes(attribute.String("task.title", doc.Title)),
	)
	defer span.End()

	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return "", err
	}

	now := s.now()
	task := doc.Clone()
	task.ID = uuid.New().String()
	task.CreatedAt = now
	task.UpdatedAt = now

	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]*model.Task)
	}
	s.docs[collection][task.ID] = &task
	s.mu.Unlock()

	s.feed.Publish(task.OwnerID)
	span.SetAttributes(attribute.String("task.id", task.ID))
	return task.ID, nil
}

// Patch writes the supplied fields of an existing document.
func (s *Store) Patch(ctx context.Context, q store.Query, id string, patch model.TaskPatch) error {
	_, span := tracer.Start(ctx, "Store.Patch",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return err
	}
	task, ok := s.docs[q.Collection][id]
	if !ok || task.OwnerID != q.OwnerID {
		s.mu.Unlock()
		span.SetAttributes(attribute.Bool("task.found", false))
		return model.ErrNotFound
	}
	patch.Apply(task)
	task.UpdatedAt = s.now()
	owner := task.OwnerID
	s.mu.Unlock()

	s.feed.Publish(owner)
	span.SetAttributes(attribute.Bool("task.found", true))
	return nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, q store.Query, id string) error {
	_, span := tracer.Start(ctx, "Store.Delete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return err
	}
	task, ok := s.docs[q.Collection][id]
	if !ok || task.OwnerID != q.OwnerID {
		s.mu.Unlock()
		span.SetAttributes(attribute.Bool("task.found", false))
		return model.ErrNotFound
	}
	delete(s.docs[q.Collection], id)
	s.mu.Unlock()

	s.feed.Publish(task.OwnerID)
	span.SetAttributes(attribute.Bool("task.found", true))
	return nil
}

// Count returns the number of documents across all collections.
func (s *Store) Count() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, docs := range s.docs {
		n += int64(len(docs))
	}
	return n
}

// Close releases every live query.
func (s *Store) Close() error {
	s.feed.Close()
	return nil
}
