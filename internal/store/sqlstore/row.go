package sqlstore

import (
	"time"

	"github.com/hiroki-koketsu/go-tasksync/internal/model"
)

// taskRow is the GORM model for a task document.
type taskRow struct {
	ID          string    `gorm:"primarykey;size:36"`
	Collection  string    `gorm:"size:64;not null;index:idx_owner_created,priority:1"`
	OwnerID     string    `gorm:"size:128;not null;index:idx_owner_created,priority:2"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime:false;index:idx_owner_created,priority:3"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime:false"`
	Title       string    `gorm:"size:120;not null"`
	Description *string   `gorm:"size:1000"`
	Completed   bool      `gorm:"not null;default:false"`
	DueDate     *string   `gorm:"size:10"`
	DueTime     *string   `gorm:"size:5"`
}

// TableName returns the table name for taskRow.
func (taskRow) TableName() string {
	return "tasks"
}

func rowFromModel(collection string, t model.Task) taskRow {
	r := taskRow{
		ID:          t.ID,
		Collection:  collection,
		OwnerID:     t.OwnerID,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		DueTime:     t.DueTime,
	}
	if t.DueDate != nil {
		d := t.DueDate.String()
		r.DueDate = &d
	}
	return r
}

func (r taskRow) toModel() model.Task {
	t := model.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Completed:   r.Completed,
		DueTime:     r.DueTime,
		OwnerID:     r.OwnerID,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.DueDate != nil {
		// Rows are only written through rowFromModel, so the format is known.
		if d, err := model.ParseDate(*r.DueDate); err == nil {
			t.DueDate = &d
		}
	}
	return t
}

// patchColumns maps the supplied patch fields to column updates. A nil value
// writes NULL.
func patchColumns(p model.TaskPatch) map[string]any {
	cols := make(map[string]any)
	if p.Title != nil {
		cols["title"] = *p.Title
	}
	if p.ClearDescription {
		cols["description"] = nil
	} else if p.Description != nil {
		cols["description"] = *p.Description
	}
	if p.Completed != nil {
		cols["completed"] = *p.Completed
	}
	if p.ClearDueDate {
		cols["due_date"] = nil
	} else if p.DueDate != nil {
		cols["due_date"] = p.DueDate.String()
	}
	if p.ClearDueTime {
		cols["due_time"] = nil
	} else if p.DueTime != nil {
		cols["due_time"] = *p.DueTime
	}
	return cols
}
