package model

import (
	"strings"
	"time"
)

// Task represents a todo item owned by a single user.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	DueDate     *Date     `json:"due_date,omitempty"`
	DueTime     *string   `json:"due_time,omitempty"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Overdue reports whether the task has a due date before now and is still open.
func (t Task) Overdue(now time.Time) bool {
	return !t.Completed && t.DueDate != nil && t.DueDate.Before(now)
}

// Clone returns a deep copy so callers cannot alias optional fields.
func (t Task) Clone() Task {
	out := t
	if t.Description != nil {
		d := *t.Description
		out.Description = &d
	}
	if t.DueDate != nil {
		d := *t.DueDate
		out.DueDate = &d
	}
	if t.DueTime != nil {
		d := *t.DueTime
		out.DueTime = &d
	}
	return out
}

// TaskInput represents the fields collected by the create form.
type TaskInput struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	DueDate     *Date   `json:"due_date,omitempty"`
	DueTime     *string `json:"due_time,omitempty"`
}

// Validate checks if the TaskInput is valid.
func (in *TaskInput) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return ErrTitleRequired
	}
	if in.DueTime != nil {
		if _, err := time.Parse("15:04", *in.DueTime); err != nil {
			return ErrInvalidDueTime
		}
	}
	return nil
}

// TaskPatch carries a partial update. A nil pointer means "leave unchanged";
// the Clear* flags set an optional field back to absent.
type TaskPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
	DueDate     *Date   `json:"due_date,omitempty"`
	DueTime     *string `json:"due_time,omitempty"`

	ClearDescription bool `json:"clear_description,omitempty"`
	ClearDueDate     bool `json:"clear_due_date,omitempty"`
	ClearDueTime     bool `json:"clear_due_time,omitempty"`
}

// Empty reports whether the patch supplies no field at all.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Completed == nil &&
		p.DueDate == nil && p.DueTime == nil &&
		!p.ClearDescription && !p.ClearDueDate && !p.ClearDueTime
}

// Validate checks the supplied fields of the patch.
func (p *TaskPatch) Validate() error {
	if p.Empty() {
		return ErrEmptyPatch
	}
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return ErrTitleRequired
		}
		p.Title = &title
	}
	if p.DueTime != nil {
		if _, err := time.Parse("15:04", *p.DueTime); err != nil {
			return ErrInvalidDueTime
		}
	}
	return nil
}

// Apply writes the supplied fields onto t. OwnerID, CreatedAt and UpdatedAt
// are never touched; stores stamp UpdatedAt themselves.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.ClearDescription {
		t.Description = nil
	} else if p.Description != nil {
		d := *p.Description
		t.Description = &d
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.ClearDueDate {
		t.DueDate = nil
	} else if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	}
	if p.ClearDueTime {
		t.DueTime = nil
	} else if p.DueTime != nil {
		d := *p.DueTime
		t.DueTime = &d
	}
}

// NewTask builds the document written on add. Timestamps are left zero for
// the store to assign.
func NewTask(ownerID string, in TaskInput) Task {
	t := Task{
		Title:     in.Title,
		Completed: false,
		OwnerID:   ownerID,
	}
	TaskPatch{Description: in.Description, DueDate: in.DueDate, DueTime: in.DueTime}.Apply(&t)
	return t
}
