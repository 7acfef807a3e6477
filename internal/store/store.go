// Package store defines the contract of the remote document store the
// synchronization layer talks to: scoped live queries plus create, patch and
// delete of task documents.
package store

import (
	"context"
	"time"

	"github.com/hiroki-koketsu/go-tasksync/internal/model"
)

// DefaultCollection is the collection tasks live in.
const DefaultCollection = "tasks"

// Query scopes a live subscription to one owner's documents. Results are
// always ordered by CreatedAt descending.
type Query struct {
	Collection string
	OwnerID    string
}

// Snapshot is a complete, point-in-time result set for a Query.
type Snapshot struct {
	Tasks  []model.Task
	ReadAt time.Time
}

// Subscription is a live query. Snapshots delivers full result sets in the
// order the store produced them; Errors delivers at most one terminal failure.
// Cancel is synchronous and idempotent: once it returns, neither channel
// receives another value.
type Subscription interface {
	Snapshots() <-chan Snapshot
	Errors() <-chan error
	Cancel()
}

// Store is the remote document store client. Patch and Delete are scoped like
// a live query: a document outside q (another collection or another owner)
// reports model.ErrNotFound.
type Store interface {
	Subscribe(ctx context.Context, q Query) (Subscription, error)
	Create(ctx context.Context, collection string, doc model.Task) (string, error)
	Patch(ctx context.Context, q Query, id string, patch model.TaskPatch) error
	Delete(ctx context.Context, q Query, id string) error
	Close() error
}
