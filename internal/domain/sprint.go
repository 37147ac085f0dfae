package domain

import (
	"strings"
	"time"
)

// Sprint is a time-boxed iteration for a team.
type Sprint struct {
	ID        int64     `json:"id"`
	TeamID    int64     `json:"team_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// IsActive reports whether the sprint is currently running.
// Both "active" and "in_progress" are accepted as running states.
func (s *Sprint) IsActive() bool {
	status := strings.ToLower(s.Status)
	return status == "active" || status == "in_progress"
}
