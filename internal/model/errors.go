package model

import "fmt"

// TaskError represents a domain error for tasks.
type TaskError struct {
	Message string
}

func (e TaskError) Error() string {
	return e.Message
}

var (
	ErrTaskNotFound   = TaskError{Message: "task not found"}
	ErrTitleRequired  = TaskError{Message: "title is required"}
	ErrInvalidDueTime = TaskError{Message: "due time must be HH:MM"}
	ErrEmptyPatch     = TaskError{Message: "no fields to update"}
	ErrSessionAbsent  = TaskError{Message: "no active session"}
)

// ErrNotFound is the name the store contract uses for a missing document.
var ErrNotFound = ErrTaskNotFound

// StoreWriteError wraps a rejected create, patch or delete.
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// SubscriptionError wraps a failure of the live query itself.
type SubscriptionError struct {
	OwnerID string
	Err     error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription for %s: %v", e.OwnerID, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
