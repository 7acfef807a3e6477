package model

import (
	"fmt"
	"strings"
	"time"
)

// Filter selects a subset of the task list for display.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterActive    Filter = "active"
	FilterCompleted Filter = "completed"
	FilterOverdue   Filter = "overdue"
)

// ParseFilter maps a query-string value to a Filter. Empty means FilterAll.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterActive, FilterCompleted, FilterOverdue:
		return f, nil
	default:
		return "", fmt.Errorf("unknown filter %q", s)
	}
}

// Match reports whether t passes the filter. Overdue tasks are a subset of
// active ones.
func (f Filter) Match(t Task, now time.Time) bool {
	switch f {
	case FilterActive:
		return !t.Completed
	case FilterCompleted:
		return t.Completed
	case FilterOverdue:
		return t.Overdue(now)
	default:
		return true
	}
}

// MatchesSearch is a case-insensitive substring match on title or description.
func MatchesSearch(t Task, q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(t.Title), q) {
		return true
	}
	return t.Description != nil && strings.Contains(strings.ToLower(*t.Description), q)
}

// Apply returns the tasks that match both the search query and the filter,
// keeping their input order.
func Apply(tasks []Task, f Filter, q string, now time.Time) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if MatchesSearch(t, q) && f.Match(t, now) {
			out = append(out, t)
		}
	}
	return out
}

// Counts summarises a task list for the header and filter badges.
type Counts struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Overdue   int `json:"overdue"`
}

// CountTasks computes Counts over the unfiltered list.
func CountTasks(tasks []Task, now time.Time) Counts {
	c := Counts{Total: len(tasks)}
	for _, t := range tasks {
		if t.Completed {
			c.Completed++
		} else {
			c.Active++
		}
		if t.Overdue(now) {
			c.Overdue++
		}
	}
	return c
}
