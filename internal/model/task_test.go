package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskInput_Validate(t *testing.T) {
	in := TaskInput{Title: "  pay rent "}
	require.NoError(t, in.Validate())
	assert.Equal(t, "pay rent", in.Title)

	blank := TaskInput{Title: " \t"}
	assert.ErrorIs(t, blank.Validate(), ErrTitleRequired)

	badTime := TaskInput{Title: "x", DueTime: ptr("25:99")}
	assert.ErrorIs(t, badTime.Validate(), ErrInvalidDueTime)
}

func TestTaskPatch_Validate(t *testing.T) {
	empty := TaskPatch{}
	assert.True(t, empty.Empty())
	assert.ErrorIs(t, empty.Validate(), ErrEmptyPatch)

	blank := TaskPatch{Title: ptr("  ")}
	assert.ErrorIs(t, blank.Validate(), ErrTitleRequired)

	clearDue := TaskPatch{ClearDueDate: true}
	assert.False(t, clearDue.Empty())
	assert.NoError(t, clearDue.Validate())

	trimmed := TaskPatch{Title: ptr(" new ")}
	require.NoError(t, trimmed.Validate())
	assert.Equal(t, "new", *trimmed.Title)
}

func TestTaskPatch_ApplyLeavesOwnerAndTimestamps(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	due := Date{Year: 2026, Month: time.February, Day: 1}
	task := Task{
		ID:          "1",
		Title:       "old",
		Description: ptr("desc"),
		DueDate:     &due,
		OwnerID:     "alice",
		CreatedAt:   created,
		UpdatedAt:   created,
	}

	TaskPatch{Title: ptr("new"), Completed: ptr(true), ClearDueDate: true}.Apply(&task)

	assert.Equal(t, "new", task.Title)
	assert.True(t, task.Completed)
	assert.Nil(t, task.DueDate)
	require.NotNil(t, task.Description)
	assert.Equal(t, "desc", *task.Description)
	assert.Equal(t, "alice", task.OwnerID)
	assert.Equal(t, created, task.CreatedAt)
	assert.Equal(t, created, task.UpdatedAt)
}

func TestNewTask(t *testing.T) {
	due := Date{Year: 2026, Month: time.March, Day: 3}
	task := NewTask("alice", TaskInput{Title: "t", DueDate: &due, DueTime: ptr("08:00")})

	assert.Equal(t, "alice", task.OwnerID)
	assert.False(t, task.Completed)
	assert.Empty(t, task.ID)
	assert.True(t, task.CreatedAt.IsZero())
	require.NotNil(t, task.DueDate)
	assert.Equal(t, due, *task.DueDate)
	assert.Nil(t, task.Description)
}

func TestTask_CloneDoesNotAlias(t *testing.T) {
	orig := Task{Description: ptr("a"), DueTime: ptr("09:00")}
	cp := orig.Clone()
	*cp.Description = "b"
	*cp.DueTime = "10:00"

	assert.Equal(t, "a", *orig.Description)
	assert.Equal(t, "09:00", *orig.DueTime)
}

func TestDate_JSON(t *testing.T) {
	var got struct {
		Due *Date `json:"due_date"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"due_date":"2026-07-04"}`), &got))
	require.NotNil(t, got.Due)
	assert.Equal(t, Date{Year: 2026, Month: time.July, Day: 4}, *got.Due)

	b, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"due_date":"2026-07-04"}`, string(b))

	require.NoError(t, json.Unmarshal([]byte(`{"due_date":"2026-07-04T23:00:00+09:00"}`), &got))
	assert.Equal(t, "2026-07-04", got.Due.String())

	assert.Error(t, json.Unmarshal([]byte(`{"due_date":"July 4th"}`), &got))
}
