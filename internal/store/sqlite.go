package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dcervantes/sprintbot/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		full_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		role TEXT NOT NULL DEFAULT 'USER',
		last_login_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS teams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS team_members (
		user_id INTEGER NOT NULL REFERENCES users(id),
		team_id INTEGER NOT NULL REFERENCES teams(id),
		role TEXT NOT NULL DEFAULT 'developer',
		PRIMARY KEY (user_id, team_id)
	);

	CREATE TABLE IF NOT EXISTS sprints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		team_id INTEGER NOT NULL REFERENCES teams(id),
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'planned',
		start_date INTEGER NOT NULL,
		end_date INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		team_id INTEGER NOT NULL REFERENCES teams(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		story_id INTEGER NOT NULL REFERENCES stories(id),
		sprint_id INTEGER REFERENCES sprints(id),
		team_id INTEGER NOT NULL REFERENCES teams(id),
		assignee_id INTEGER REFERENCES users(id),
		status TEXT NOT NULL DEFAULT 'todo',
		priority INTEGER NOT NULL DEFAULT 0,
		due_date INTEGER,
		start_date INTEGER,
		end_date INTEGER,
		estimated_hours INTEGER NOT NULL DEFAULT 0,
		effort_hours INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_team ON tasks(team_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const userColumns = `id, username, email, full_name, password_hash, status, role,
	last_login_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var user domain.User
	var lastLogin sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.FullName,
		&user.PasswordHash, &user.Status, &user.Role,
		&lastLogin, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastLogin.Valid {
		user.LastLoginAt = time.Unix(lastLogin.Int64, 0)
	}
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// FindUserByName retrieves a user by exact username.
func (s *SQLiteStore) FindUserByName(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// FindUserByID retrieves a user by id.
func (s *SQLiteStore) FindUserByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// SearchUsersByName finds users whose username or full name contains the fragment.
func (s *SQLiteStore) SearchUsersByName(ctx context.Context, fragment string) ([]*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE username LIKE ? COLLATE NOCASE OR full_name LIKE ? COLLATE NOCASE
		ORDER BY id`
	pattern := "%" + fragment + "%"

	rows, err := s.db.QueryContext(ctx, query, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// CreateUser inserts a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	now := time.Now()
	query := `
		INSERT INTO users (username, email, full_name, password_hash, status, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query,
		user.Username, user.Email, user.FullName, user.PasswordHash,
		user.Status, user.Role, now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user insert id: %w", err)
	}

	created := *user
	created.ID = id
	created.CreatedAt = now
	created.UpdatedAt = now
	return &created, nil
}

const taskColumns = `id, title, description, story_id, sprint_id, team_id, assignee_id,
	status, priority, due_date, start_date, end_date, estimated_hours, effort_hours,
	created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*domain.Task, error) {
	var task domain.Task
	var sprintID, assigneeID, dueDate, startDate, endDate, effortHours sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&task.ID, &task.Title, &task.Description, &task.StoryID,
		&sprintID, &task.TeamID, &assigneeID,
		&task.Status, &task.Priority, &dueDate, &startDate, &endDate,
		&task.EstimatedHours, &effortHours, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if sprintID.Valid {
		task.SprintID = &sprintID.Int64
	}
	if assigneeID.Valid {
		task.AssigneeID = &assigneeID.Int64
	}
	if dueDate.Valid {
		ts := time.Unix(dueDate.Int64, 0)
		task.DueDate = &ts
	}
	if startDate.Valid {
		ts := time.Unix(startDate.Int64, 0)
		task.StartDate = &ts
	}
	if endDate.Valid {
		ts := time.Unix(endDate.Int64, 0)
		task.EndDate = &ts
	}
	if effortHours.Valid {
		hours := int(effortHours.Int64)
		task.EffortHours = &hours
	}
	task.CreatedAt = time.Unix(createdAt, 0)
	task.UpdatedAt = time.Unix(updatedAt, 0)
	return &task, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

// CreateTask inserts a new task.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	now := time.Now()
	query := `
		INSERT INTO tasks (title, description, story_id, sprint_id, team_id, assignee_id,
			status, priority, due_date, start_date, end_date, estimated_hours, effort_hours,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var effort any
	if task.EffortHours != nil {
		effort = *task.EffortHours
	}

	res, err := s.db.ExecContext(ctx, query,
		task.Title, task.Description, task.StoryID,
		nullableInt64(task.SprintID), task.TeamID, nullableInt64(task.AssigneeID),
		task.Status, task.Priority,
		nullableTime(task.DueDate), nullableTime(task.StartDate), nullableTime(task.EndDate),
		task.EstimatedHours, effort,
		now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("task insert id: %w", err)
	}

	created := *task
	created.ID = id
	created.CreatedAt = now
	created.UpdatedAt = now
	return &created, nil
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// GetTasksForUser retrieves all tasks assigned to a user.
func (s *SQLiteStore) GetTasksForUser(ctx context.Context, userID int64) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE assignee_id = ? ORDER BY id`
	return s.queryTasks(ctx, query, userID)
}

// GetTasksForTeam retrieves all tasks belonging to a team.
func (s *SQLiteStore) GetTasksForTeam(ctx context.Context, teamID int64) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE team_id = ? ORDER BY id`
	return s.queryTasks(ctx, query, teamID)
}

// GetTaskByID retrieves a task by id.
func (s *SQLiteStore) GetTaskByID(ctx context.Context, id int64) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan task row: %w", err)
	}
	return task, nil
}

// UpdateTaskStatus sets the status of a task.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, status, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %d not found", id)
	}
	return nil
}

// AssignTask sets the assignee of a task.
func (s *SQLiteStore) AssignTask(ctx context.Context, id, userID int64) error {
	query := `UPDATE tasks SET assignee_id = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, userID, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("assign task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %d not found", id)
	}
	return nil
}

// GetTeamMemberships retrieves the team memberships for a user.
func (s *SQLiteStore) GetTeamMemberships(ctx context.Context, userID int64) ([]*domain.TeamMembership, error) {
	query := `
		SELECT tm.user_id, tm.team_id, t.name, tm.role
		FROM team_members tm JOIN teams t ON t.id = tm.team_id
		WHERE tm.user_id = ? ORDER BY tm.team_id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*domain.TeamMembership
	for rows.Next() {
		var m domain.TeamMembership
		if err := rows.Scan(&m.UserID, &m.TeamID, &m.TeamName, &m.Role); err != nil {
			return nil, fmt.Errorf("scan membership row: %w", err)
		}
		memberships = append(memberships, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return memberships, nil
}

// GetStoriesForTeam retrieves the user stories for a team.
func (s *SQLiteStore) GetStoriesForTeam(ctx context.Context, teamID int64) ([]*domain.Story, error) {
	query := `SELECT id, team_id, title, description, priority, created_at
		FROM stories WHERE team_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer rows.Close()

	var stories []*domain.Story
	for rows.Next() {
		var st domain.Story
		var createdAt int64
		if err := rows.Scan(&st.ID, &st.TeamID, &st.Title, &st.Description, &st.Priority, &createdAt); err != nil {
			return nil, fmt.Errorf("scan story row: %w", err)
		}
		st.CreatedAt = time.Unix(createdAt, 0)
		stories = append(stories, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return stories, nil
}

func scanSprint(row interface{ Scan(...any) error }) (*domain.Sprint, error) {
	var sp domain.Sprint
	var start, end int64
	if err := row.Scan(&sp.ID, &sp.TeamID, &sp.Name, &sp.Status, &start, &end); err != nil {
		return nil, err
	}
	sp.StartDate = time.Unix(start, 0)
	sp.EndDate = time.Unix(end, 0)
	return &sp, nil
}

// GetSprintsForTeam retrieves the sprints for a team.
func (s *SQLiteStore) GetSprintsForTeam(ctx context.Context, teamID int64) ([]*domain.Sprint, error) {
	query := `SELECT id, team_id, name, status, start_date, end_date
		FROM sprints WHERE team_id = ? ORDER BY start_date`

	rows, err := s.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("query sprints: %w", err)
	}
	defer rows.Close()

	var sprints []*domain.Sprint
	for rows.Next() {
		sp, err := scanSprint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sprint row: %w", err)
		}
		sprints = append(sprints, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sprints: %w", err)
	}
	return sprints, nil
}

// GetActiveSprint retrieves the currently running sprint, if any.
func (s *SQLiteStore) GetActiveSprint(ctx context.Context) (*domain.Sprint, error) {
	query := `SELECT id, team_id, name, status, start_date, end_date
		FROM sprints WHERE status IN ('active', 'in_progress')
		ORDER BY start_date DESC LIMIT 1`

	sp, err := scanSprint(s.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan sprint row: %w", err)
	}
	return sp, nil
}
