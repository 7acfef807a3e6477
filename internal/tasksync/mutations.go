package tasksync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hiroki-koketsu/go-tasksync/internal/model"
	"github.com/hiroki-koketsu/go-tasksync/internal/notify"
	"github.com/hiroki-koketsu/go-tasksync/internal/store"
	"github.com/hiroki-koketsu/go-tasksync/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Add creates a task owned by the signed-in user and returns its id. The list
// is not touched; the new task appears with the next snapshot.
func (s *Service) Add(ctx context.Context, in model.TaskInput) (string, error) {
	ctx, span := tracer.Start(ctx, "Service.Add",
		trace.WithAttributes(attribute.String("task.title", in.Title)),
	)
	defer span.End()

	if err := in.Validate(); err != nil {
		return "", s.fail(ctx, span, notify.OpAdd, notify.MsgAddFailed, err)
	}
	owner := s.identities.Current().UserID()
	if owner == "" {
		return "", s.fail(ctx, span, notify.OpAdd, notify.MsgAddFailed, model.ErrSessionAbsent)
	}

	id, err := s.store.Create(ctx, s.collection, model.NewTask(owner, in))
	if err != nil {
		return "", s.fail(ctx, span, notify.OpAdd, notify.MsgAddFailed, &model.StoreWriteError{Op: "create", Err: err})
	}

	span.SetAttributes(attribute.String("task.id", id))
	s.logger.InfoContext(ctx, "task added", slog.String("id", id), slog.String("owner_id", owner))
	s.succeed(ctx, notify.OpAdd, notify.MsgAdded)
	return id, nil
}

// Update writes only the supplied fields of a task.
func (s *Service) Update(ctx context.Context, id string, patch model.TaskPatch) error {
	return s.update(ctx, notify.OpUpdate, id, patch)
}

// Toggle flips completion relative to the caller's last-known value. Two
// toggles sent with the same stale value both write the same target state.
func (s *Service) Toggle(ctx context.Context, id string, current bool) error {
	completed := !current
	return s.update(ctx, notify.OpToggle, id, model.TaskPatch{Completed: &completed})
}

func (s *Service) update(ctx context.Context, op, id string, patch model.TaskPatch) error {
	ctx, span := tracer.Start(ctx, "Service.Update",
		trace.WithAttributes(
			attribute.String("task.id", id),
			attribute.String("task.op", op),
		),
	)
	defer span.End()

	if err := patch.Validate(); err != nil {
		return s.fail(ctx, span, op, notify.MsgUpdateFailed, err)
	}
	owner := s.identities.Current().UserID()
	if owner == "" {
		return s.fail(ctx, span, op, notify.MsgUpdateFailed, model.ErrSessionAbsent)
	}

	if err := s.store.Patch(ctx, s.scope(owner), id, patch); err != nil {
		return s.fail(ctx, span, op, notify.MsgUpdateFailed, classify("patch", err))
	}

	span.SetAttributes(attribute.Bool("task.found", true))
	s.logger.InfoContext(ctx, "task updated", slog.String("id", id), slog.String("op", op))
	s.succeed(ctx, op, notify.MsgUpdated)
	return nil
}

// Remove deletes a task.
func (s *Service) Remove(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Service.Remove",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	owner := s.identities.Current().UserID()
	if owner == "" {
		return s.fail(ctx, span, notify.OpRemove, notify.MsgDeleteFailed, model.ErrSessionAbsent)
	}

	if err := s.store.Delete(ctx, s.scope(owner), id); err != nil {
		return s.fail(ctx, span, notify.OpRemove, notify.MsgDeleteFailed, classify("delete", err))
	}

	span.SetAttributes(attribute.Bool("task.found", true))
	s.logger.InfoContext(ctx, "task removed", slog.String("id", id))
	s.succeed(ctx, notify.OpRemove, notify.MsgDeleted)
	return nil
}

func (s *Service) scope(owner string) store.Query {
	return store.Query{Collection: s.collection, OwnerID: owner}
}

// classify keeps NotFound as is and wraps everything else as a write error.
func classify(op string, err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return model.ErrNotFound
	}
	return &model.StoreWriteError{Op: op, Err: err}
}

func (s *Service) succeed(ctx context.Context, op, msg string) {
	s.metrics.RecordMutation(ctx, op, telemetry.OutcomeSuccess)
	s.notify(ctx, notify.LevelSuccess, op, msg)
}

// fail logs, traces, counts and notifies a failed mutation, then returns err.
func (s *Service) fail(ctx context.Context, span trace.Span, op, msg string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)

	var writeErr *model.StoreWriteError
	switch {
	case errors.Is(err, model.ErrNotFound):
		span.SetAttributes(attribute.Bool("task.found", false))
		s.logger.WarnContext(ctx, "task not found", slog.String("op", op), slog.Any("error", err))
	case errors.As(err, &writeErr):
		s.logger.ErrorContext(ctx, "task write rejected", slog.String("op", op), slog.Any("error", err))
	default:
		s.logger.WarnContext(ctx, "task mutation refused", slog.String("op", op), slog.Any("error", err))
	}

	s.metrics.RecordMutation(ctx, op, telemetry.OutcomeError)
	s.notify(ctx, notify.LevelError, op, msg)
	return err
}
