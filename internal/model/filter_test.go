package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestFilters_OverdueScenario(t *testing.T) {
	now := time.Date(2026, 4, 15, 9, 0, 0, 0, time.Local)
	past := Date{Year: 2026, Month: time.April, Day: 10}
	future := Date{Year: 2026, Month: time.April, Day: 20}

	tasks := []Task{
		{ID: "3", Title: "renew passport", DueDate: &past},
		{ID: "2", Title: "plan trip", DueDate: &future},
		{ID: "1", Title: "water plants"},
	}

	overdue := Apply(tasks, FilterOverdue, "", now)
	require.Len(t, overdue, 1)
	assert.Equal(t, "3", overdue[0].ID)

	assert.Empty(t, Apply(tasks, FilterCompleted, "", now))
	assert.Len(t, Apply(tasks, FilterActive, "", now), 3)
	assert.Len(t, Apply(tasks, FilterAll, "", now), 3)
}

func TestFilters_CompletedIsNeverOverdue(t *testing.T) {
	now := time.Date(2026, 4, 15, 9, 0, 0, 0, time.Local)
	past := Date{Year: 2026, Month: time.April, Day: 1}

	done := Task{ID: "1", Completed: true, DueDate: &past}
	assert.False(t, done.Overdue(now))
	assert.True(t, FilterCompleted.Match(done, now))
	assert.False(t, FilterActive.Match(done, now))
}

func TestFilters_DueTodayAfterMidnight(t *testing.T) {
	now := time.Date(2026, 4, 15, 0, 30, 0, 0, time.Local)
	today := DateOf(now)
	tomorrow := DateOf(now.AddDate(0, 0, 1))

	assert.True(t, Task{DueDate: &today}.Overdue(now))
	assert.False(t, Task{DueDate: &tomorrow}.Overdue(now))
}

func TestApply_SearchKeepsOrder(t *testing.T) {
	now := time.Now()
	tasks := []Task{
		{ID: "3", Title: "Email landlord"},
		{ID: "2", Title: "groceries", Description: ptr("milk, EGGS")},
		{ID: "1", Title: "eggs benedict recipe"},
	}

	got := Apply(tasks, FilterAll, "eggs", now)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "1", got[1].ID)

	assert.Len(t, Apply(tasks, FilterAll, "   ", now), 3)
	assert.Empty(t, Apply(tasks, FilterAll, "dentist", now))
}

func TestCountTasks(t *testing.T) {
	now := time.Date(2026, 4, 15, 9, 0, 0, 0, time.Local)
	past := Date{Year: 2026, Month: time.April, Day: 10}

	c := CountTasks([]Task{
		{Completed: true},
		{DueDate: &past},
		{},
		{Completed: true, DueDate: &past},
	}, now)

	assert.Equal(t, Counts{Total: 4, Active: 2, Completed: 2, Overdue: 1}, c)
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		in      string
		want    Filter
		wantErr bool
	}{
		{"", FilterAll, false},
		{"all", FilterAll, false},
		{"Active", FilterActive, false},
		{" completed ", FilterCompleted, false},
		{"overdue", FilterOverdue, false},
		{"someday", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFilter(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
