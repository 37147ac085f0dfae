// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/dcervantes/sprintbot/internal/domain"
)

// Repository defines the persistence operations consumed by the bot engine.
// Lookup methods return (nil, nil) when no matching row exists.
type Repository interface {
	// FindUserByName retrieves a user by exact username.
	FindUserByName(ctx context.Context, username string) (*domain.User, error)

	// FindUserByID retrieves a user by id.
	FindUserByID(ctx context.Context, id int64) (*domain.User, error)

	// SearchUsersByName finds users whose username or full name contains
	// the given fragment (case-insensitive).
	SearchUsersByName(ctx context.Context, fragment string) ([]*domain.User, error)

	// CreateUser inserts a new user and returns it with its id populated.
	CreateUser(ctx context.Context, user *domain.User) (*domain.User, error)

	// CreateTask inserts a new task and returns it with its id populated.
	CreateTask(ctx context.Context, task *domain.Task) (*domain.Task, error)

	// GetTasksForUser retrieves all tasks assigned to a user.
	GetTasksForUser(ctx context.Context, userID int64) ([]*domain.Task, error)

	// GetTasksForTeam retrieves all tasks belonging to a team.
	GetTasksForTeam(ctx context.Context, teamID int64) ([]*domain.Task, error)

	// GetTaskByID retrieves a task by id.
	GetTaskByID(ctx context.Context, id int64) (*domain.Task, error)

	// UpdateTaskStatus sets the status of a task.
	UpdateTaskStatus(ctx context.Context, id int64, status string) error

	// AssignTask sets the assignee of a task.
	AssignTask(ctx context.Context, id, userID int64) error

	// GetTeamMemberships retrieves the team memberships for a user.
	GetTeamMemberships(ctx context.Context, userID int64) ([]*domain.TeamMembership, error)

	// GetStoriesForTeam retrieves the user stories for a team.
	GetStoriesForTeam(ctx context.Context, teamID int64) ([]*domain.Story, error)

	// GetSprintsForTeam retrieves the sprints for a team.
	GetSprintsForTeam(ctx context.Context, teamID int64) ([]*domain.Sprint, error)

	// GetActiveSprint retrieves the currently running sprint, if any.
	GetActiveSprint(ctx context.Context) (*domain.Sprint, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
