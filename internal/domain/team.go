package domain

import (
	"time"
)

// Team groups users working on the same backlog.
type Team struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TeamMembership links a user to a team.
type TeamMembership struct {
	UserID   int64  `json:"user_id"`
	TeamID   int64  `json:"team_id"`
	TeamName string `json:"team_name"`
	Role     string `json:"role"`
}
