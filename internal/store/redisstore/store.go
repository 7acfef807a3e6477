// Package redisstore keeps task documents in Redis. Each owner has a sorted
// set index scored by creation time and a pub/sub channel that is published
// on every write, so live queries work across processes.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hiroki-koketsu/go-tasksync/internal/model"
	"github.com/hiroki-koketsu/go-tasksync/internal/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/go-tasksync/internal/store/redisstore")

var _ store.Store = (*Store)(nil)

// maxPatchRetries bounds optimistic-lock retries when a document changes
// between WATCH and EXEC.
const maxPatchRetries = 5

// Store is a Redis-backed document store.
type Store struct {
	rdb *redis.Client
}

// New wraps an existing client. The Store owns it from then on.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Dial connects to Redis and checks the connection.
func Dial(ctx context.Context, opts *redis.Options) (*Store, error) {
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb), nil
}

func docKey(collection, id string) string { return collection + ":doc:" + id }

func ownerKey(collection, owner string) string { return collection + ":owner:" + owner }

func changesChannel(collection, owner string) string { return collection + ":changes:" + owner }

// Subscribe opens a live query scoped to q.OwnerID. The pub/sub subscription
// is confirmed before the initial read so no write can fall between them.
func (s *Store) Subscribe(ctx context.Context, q store.Query) (store.Subscription, error) {
	ctx, span := tracer.Start(ctx, "Store.Subscribe",
		trace.WithAttributes(attribute.String("task.owner_id", q.OwnerID)),
	)
	defer span.End()

	ps := s.rdb.Subscribe(ctx, changesChannel(q.Collection, q.OwnerID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	changes := make(chan struct{}, 1)
	go func() {
		defer close(changes)
		for range ps.Channel() {
			select {
			case changes <- struct{}{}:
			default:
			}
		}
	}()

	return store.StartLive(ctx, changes, func(ctx context.Context) ([]model.Task, error) {
		return s.list(ctx, q)
	}, time.Now, func() { _ = ps.Close() }), nil
}

func (s *Store) list(ctx context.Context, q store.Query) ([]model.Task, error) {
	ctx, span := tracer.Start(ctx, "Store.List",
		trace.WithAttributes(attribute.String("task.owner_id", q.OwnerID)),
	)
	defer span.End()

	ids, err := s.rdb.ZRevRange(ctx, ownerKey(q.Collection, q.OwnerID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis index read: %w", err)
	}
	tasks := make([]model.Task, 0, len(ids))
	if len(ids) == 0 {
		return tasks, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(q.Collection, id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis doc read: %w", err)
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue // removed between the index read and MGET
		}
		var t model.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("redis doc decode: %w", err)
		}
		tasks = append(tasks, t)
	}
	store.SortNewestFirst(tasks)

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	return tasks, nil
}

// serverTime returns the Redis server clock.
func (s *Store) serverTime(ctx context.Context) (time.Time, error) {
	t, err := s.rdb.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("redis time: %w", err)
	}
	return t.UTC(), nil
}

// Create writes a new document and its index entry atomically.
func (s *Store) Create(ctx context.Context, collection string, doc model.Task) (string, error) {
	ctx, span := tracer.Start(ctx, "Store.Create",
		trace.WithAttributes(attribute.String("task.title", doc.Title)),
	)
	defer span.End()

	now, err := s.serverTime(ctx)
	if err != nil {
		return "", err
	}
	doc.ID = uuid.New().String()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("redis doc encode: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, docKey(collection, doc.ID), b, 0)
		pipe.ZAdd(ctx, ownerKey(collection, doc.OwnerID), redis.Z{
			Score:  float64(now.UnixNano()),
			Member: doc.ID,
		})
		pipe.Publish(ctx, changesChannel(collection, doc.OwnerID), doc.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redis create: %w", err)
	}

	span.SetAttributes(attribute.String("task.id", doc.ID))
	return doc.ID, nil
}

// Patch applies the supplied fields under WATCH so concurrent writers to the
// same document do not interleave inside one read-modify-write.
func (s *Store) Patch(ctx context.Context, q store.Query, id string, patch model.TaskPatch) error {
	ctx, span := tracer.Start(ctx, "Store.Patch",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	key := docKey(q.Collection, id)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return model.ErrNotFound
		}
		if err != nil {
			return err
		}
		var t model.Task
		if err := json.Unmarshal(raw, &t); err != nil {
			return fmt.Errorf("redis doc decode: %w", err)
		}
		if t.OwnerID != q.OwnerID {
			return model.ErrNotFound
		}

		now, err := s.serverTime(ctx)
		if err != nil {
			return err
		}
		patch.Apply(&t)
		t.UpdatedAt = now

		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("redis doc encode: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			pipe.Publish(ctx, changesChannel(q.Collection, t.OwnerID), id)
			return nil
		})
		return err
	}

	for i := 0; i < maxPatchRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, model.ErrNotFound) {
			span.SetAttributes(attribute.Bool("task.found", false))
			return err
		}
		if err != nil {
			return fmt.Errorf("redis patch: %w", err)
		}
		span.SetAttributes(attribute.Bool("task.found", true))
		return nil
	}
	return fmt.Errorf("redis patch: %w", redis.TxFailedErr)
}

// Delete removes a document and its index entry.
func (s *Store) Delete(ctx context.Context, q store.Query, id string) error {
	ctx, span := tracer.Start(ctx, "Store.Delete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	key := docKey(q.Collection, id)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.Bool("task.found", false))
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	var t model.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("redis doc decode: %w", err)
	}
	if t.OwnerID != q.OwnerID {
		span.SetAttributes(attribute.Bool("task.found", false))
		return model.ErrNotFound
	}

	var deleted *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, key)
		pipe.ZRem(ctx, ownerKey(q.Collection, t.OwnerID), id)
		pipe.Publish(ctx, changesChannel(q.Collection, t.OwnerID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	if deleted.Val() == 0 {
		span.SetAttributes(attribute.Bool("task.found", false))
		return model.ErrNotFound
	}

	span.SetAttributes(attribute.Bool("task.found", true))
	return nil
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.rdb.Close()
}
