// Package sqlstore persists task documents in SQLite through GORM. Live
// queries re-read the owner's scoped result set whenever a write through this
// process touches that owner.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hiroki-koketsu/go-tasksync/internal/model"
	"github.com/hiroki-koketsu/go-tasksync/internal/store"
	"github.com/hiroki-koketsu/go-tasksync/internal/store/feed"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/go-tasksync/internal/store/sqlstore")

var _ store.Store = (*Store)(nil)

// Config holds the SQLite connection settings.
type Config struct {
	Path  string
	Debug bool
}

// Store is a GORM-backed document store.
type Store struct {
	db   *gorm.DB
	feed *feed.Feed
	now  func() time.Time
}

// Open connects to the database at cfg.Path and migrates the schema.
func Open(cfg Config) (*Store, error) {
	logLevel := logger.Silent
	if cfg.Debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&taskRow{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db, feed: feed.New(), now: time.Now}, nil
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
	ctx, span := tracer.Start(ctx, "Store.List",
		trace.WithAttributes(attribute.String("task.owner_id", q.OwnerID)),
	)
	defer span.End()

	var rows []taskRow
	err := s.db.WithContext(ctx).
		Where("collection = ? AND owner_id = ?", q.Collection, q.OwnerID).
		Order("created_at DESC").Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks := make([]model.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.toModel())
	}
	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	return tasks, nil
}

// Create inserts a new document and returns its assigned id.
func (s *Store) Create(ctx context.Context, collection string, doc model.Task) (string, error) {
	ctx, span := tracer.Start(ctx, "Store.Create",
		trace.WithAttributes(attribute.String("task.title", doc.Title)),
	)
	defer span.End()

	now := s.now().UTC()
	doc.ID = uuid.New().String()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	row := rowFromModel(collection, doc)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}

	s.feed.Publish(doc.OwnerID)
	span.SetAttributes(attribute.String("task.id", doc.ID))
	return doc.ID, nil
}

// Patch writes the supplied fields of an existing document.
func (s *Store) Patch(ctx context.Context, q store.Query, id string, patch model.TaskPatch) error {
	ctx, span := tracer.Start(ctx, "Store.Patch",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row taskRow
		if err := tx.First(&row, "collection = ? AND owner_id = ? AND id = ?", q.Collection, q.OwnerID, id).Error; err != nil {
			return err
		}

		updates := patchColumns(patch)
		updates["updated_at"] = s.now().UTC()
		return tx.Model(&taskRow{}).
			Where("collection = ? AND id = ?", q.Collection, id).
			Updates(updates).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetAttributes(attribute.Bool("task.found", false))
			return model.ErrNotFound
		}
		return fmt.Errorf("failed to update task: %w", err)
	}

	s.feed.Publish(q.OwnerID)
	span.SetAttributes(attribute.Bool("task.found", true))
	return nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, q store.Query, id string) error {
	ctx, span := tracer.Start(ctx, "Store.Delete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	result := s.db.WithContext(ctx).
		Where("collection = ? AND owner_id = ? AND id = ?", q.Collection, q.OwnerID, id).
		Delete(&taskRow{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		span.SetAttributes(attribute.Bool("task.found", false))
		return model.ErrNotFound
	}

	s.feed.Publish(q.OwnerID)
	span.SetAttributes(attribute.Bool("task.found", true))
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close releases live queries and the database connection.
func (s *Store) Close() error {
	s.feed.Close()
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
