package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dcervantes/sprintbot/internal/domain"
	"github.com/dcervantes/sprintbot/internal/identity"
)

// SeedDemoData populates an empty database with a demo team, sprint, story and
// two users so the bot can be exercised locally. It is a no-op when users
// already exist.
func (s *SQLiteStore) SeedDemoData(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	now := time.Now()

	res, err := s.db.ExecContext(ctx, `INSERT INTO teams (name, created_at) VALUES (?, ?)`,
		"Demo Team", now.Unix())
	if err != nil {
		return fmt.Errorf("seed team: %w", err)
	}
	teamID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("seed team id: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sprints (team_id, name, status, start_date, end_date) VALUES (?, ?, ?, ?, ?)`,
		teamID, "Sprint 1", "active", now.Unix(), now.Add(14*24*time.Hour).Unix())
	if err != nil {
		return fmt.Errorf("seed sprint: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stories (team_id, title, description, priority, created_at) VALUES (?, ?, ?, ?, ?)`,
		teamID, "General backlog", "Default story for conversational task creation", 1, now.Unix())
	if err != nil {
		return fmt.Errorf("seed story: %w", err)
	}

	for _, u := range []struct {
		username, fullName, password string
	}{
		{"alice", "Alice Johnson", "alice123"},
		{"bob", "Bob Martinez", "bob123"},
	} {
		hash, err := identity.HashPassword(u.password)
		if err != nil {
			return fmt.Errorf("hash seed password: %w", err)
		}
		user, err := s.CreateUser(ctx, &domain.User{
			Username:     u.username,
			FullName:     u.fullName,
			PasswordHash: hash,
			Status:       "active",
			Role:         "USER",
		})
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.username, err)
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO team_members (user_id, team_id, role) VALUES (?, ?, ?)`,
			user.ID, teamID, "developer")
		if err != nil {
			return fmt.Errorf("seed membership for %s: %w", u.username, err)
		}
	}

	slog.Info("Seeded demo data", "team_id", teamID)
	return nil
}
