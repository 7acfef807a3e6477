// Package notify delivers transient user-facing messages (toasts) about task
// mutations and load failures.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Operation names used in notifications.
const (
	OpAdd    = "add"
	OpUpdate = "update"
	OpToggle = "toggle"
	OpRemove = "remove"
	OpLoad   = "load"
)

// Messages shown to the user.
const (
	MsgAdded        = "Task added successfully!"
	MsgAddFailed    = "Failed to add task"
	MsgUpdated      = "Task updated successfully!"
	MsgUpdateFailed = "Failed to update task"
	MsgDeleted      = "Task deleted successfully!"
	MsgDeleteFailed = "Failed to delete task"
	MsgLoadFailed   = "Failed to load tasks"
)

// Notification is a single user-facing message.
type Notification struct {
	ID      string    `json:"id"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Op      string    `json:"op"`
	At      time.Time `json:"at"`
}

// Notifier receives notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Feed fans notifications out to subscribers and keeps the most recent ones.
type Feed struct {
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	recent []Notification
	limit  int
	nextID uint64
	subs   map[uint64]chan Notification
}

// NewFeed creates a Feed that remembers up to history notifications.
func NewFeed(logger *slog.Logger, history int) *Feed {
	if history <= 0 {
		history = 1
	}
	return &Feed{
		logger: logger,
		now:    time.Now,
		limit:  history,
		subs:   make(map[uint64]chan Notification),
	}
}

// Notify records n and delivers it to every subscriber. Subscribers that are
// not keeping up miss the message rather than block the sender.
func (f *Feed) Notify(ctx context.Context, n Notification) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.At.IsZero() {
		n.At = f.now()
	}

	attrs := []any{
		slog.String("notification.id", n.ID),
		slog.String("op", n.Op),
		slog.String("message", n.Message),
	}
	if n.Level == LevelError {
		f.logger.WarnContext(ctx, "notification", attrs...)
	} else {
		f.logger.InfoContext(ctx, "notification", attrs...)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.recent = append(f.recent, n)
	if over := len(f.recent) - f.limit; over > 0 {
		f.recent = append(f.recent[:0:0], f.recent[over:]...)
	}
	for _, ch := range f.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// Recent returns the remembered notifications, oldest first.
func (f *Feed) Recent() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Notification, len(f.recent))
	copy(out, f.recent)
	return out
}

// Subscribe returns a channel of notifications sent after the call and a
// function that unregisters it.
func (f *Feed) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, 16)

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}
