package domain

import (
	"time"
)

// Task status values.
const (
	TaskStatusTodo       = "todo"
	TaskStatusInProgress = "in_progress"
	TaskStatusDone       = "done"
	TaskStatusCancelled  = "cancelled"
)

// Task priority levels.
const (
	PriorityLow    = 0
	PriorityMedium = 1
	PriorityHigh   = 2
)

// Task represents a unit of work assigned within a team.
type Task struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	StoryID        int64      `json:"story_id"`
	SprintID       *int64     `json:"sprint_id,omitempty"`
	TeamID         int64      `json:"team_id"`
	AssigneeID     *int64     `json:"assignee_id,omitempty"`
	Status         string     `json:"status"`
	Priority       int        `json:"priority"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	EstimatedHours int        `json:"estimated_hours"`
	EffortHours    *int       `json:"effort_hours,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsDone returns true if the task has been completed.
func (t *Task) IsDone() bool {
	return t.Status == TaskStatusDone
}

// IsOpen returns true if the task still counts as pending work.
// Tasks with no status are treated as open.
func (t *Task) IsOpen() bool {
	return t.Status != TaskStatusDone && t.Status != TaskStatusCancelled
}

// PriorityLabel returns a human-readable priority name.
func PriorityLabel(priority int) string {
	switch priority {
	case PriorityLow:
		return "Low"
	case PriorityHigh:
		return "High"
	default:
		return "Medium"
	}
}
