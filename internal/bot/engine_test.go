package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/dcervantes/sprintbot/internal/domain"
	"github.com/dcervantes/sprintbot/internal/identity"
	"github.com/dcervantes/sprintbot/internal/llm"
)

// fakeRepo is an in-memory Repository for engine tests.
type fakeRepo struct {
	mu          sync.Mutex
	users       []*domain.User
	memberships []*domain.TeamMembership
	stories     []*domain.Story
	sprint      *domain.Sprint
	tasks       []*domain.Task
	nextTaskID  int64

	failCreateTask bool
	failUserTasks  bool
	findUserErr    error
}

func (f *fakeRepo) FindUserByName(_ context.Context, username string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findUserErr != nil {
		return nil, f.findUserErr
	}
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) FindUserByID(_ context.Context, id int64) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) SearchUsersByName(_ context.Context, fragment string) ([]*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lower := strings.ToLower(fragment)
	var out []*domain.User
	for _, u := range f.users {
		if strings.Contains(strings.ToLower(u.Username), lower) ||
			strings.Contains(strings.ToLower(u.FullName), lower) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateUser(_ context.Context, user *domain.User) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.ID = int64(len(f.users) + 1)
	f.users = append(f.users, user)
	return user, nil
}

func (f *fakeRepo) CreateTask(_ context.Context, task *domain.Task) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateTask {
		return nil, errors.New("disk full")
	}
	f.nextTaskID++
	task.ID = f.nextTaskID
	f.tasks = append(f.tasks, task)
	return task, nil
}

func (f *fakeRepo) GetTasksForUser(_ context.Context, userID int64) ([]*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUserTasks {
		return nil, errors.New("db offline")
	}
	var out []*domain.Task
	for _, t := range f.tasks {
		if t.AssigneeID != nil && *t.AssigneeID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetTasksForTeam(_ context.Context, teamID int64) ([]*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Task
	for _, t := range f.tasks {
		if t.TeamID == teamID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetTaskByID(_ context.Context, id int64) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) UpdateTaskStatus(_ context.Context, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.ID == id {
			t.Status = status
			return nil
		}
	}
	return errors.New("task not found")
}

func (f *fakeRepo) AssignTask(_ context.Context, id, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.ID == id {
			t.AssigneeID = &userID
			return nil
		}
	}
	return errors.New("task not found")
}

func (f *fakeRepo) GetTeamMemberships(_ context.Context, userID int64) ([]*domain.TeamMembership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.TeamMembership
	for _, m := range f.memberships {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetStoriesForTeam(_ context.Context, teamID int64) ([]*domain.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Story
	for _, s := range f.stories {
		if s.TeamID == teamID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetSprintsForTeam(_ context.Context, teamID int64) ([]*domain.Sprint, error) {
	if f.sprint != nil && f.sprint.TeamID == teamID {
		return []*domain.Sprint{f.sprint}, nil
	}
	return nil, nil
}

func (f *fakeRepo) GetActiveSprint(_ context.Context) (*domain.Sprint, error) {
	return f.sprint, nil
}

func (f *fakeRepo) Ping(_ context.Context) error { return nil }
func (f *fakeRepo) Close() error                 { return nil }

// fakeSender records every reply.
type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *fakeSender) Send(_ context.Context, _ string, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
}

func (s *fakeSender) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return ""
	}
	return s.sent[len(s.sent)-1]
}

// fakeGateway delegates to a function so each test controls the model.
type fakeGateway struct {
	generate func(systemPrompt, userPrompt string) (string, error)
}

func (g *fakeGateway) Generate(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.generate(systemPrompt, userPrompt)
}

const testPassword = "alice123"

func newTestRepo(t *testing.T) *fakeRepo {
	t.Helper()
	hash, err := identity.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return &fakeRepo{
		users: []*domain.User{
			{ID: 1, Username: "alice", FullName: "Alice Johnson", PasswordHash: hash},
			{ID: 2, Username: "bob", FullName: "Bob Martinez", PasswordHash: hash},
		},
		memberships: []*domain.TeamMembership{
			{UserID: 1, TeamID: 1, TeamName: "Demo Team"},
			{UserID: 2, TeamID: 1, TeamName: "Demo Team"},
		},
		stories: []*domain.Story{
			{ID: 1, TeamID: 1, Title: "General backlog"},
		},
		sprint: &domain.Sprint{ID: 9, TeamID: 1, Name: "Sprint 12", Status: "active"},
	}
}

func newTestEngine(repo *fakeRepo, gateway *fakeGateway) (*Engine, *fakeSender) {
	sender := &fakeSender{}
	var gw llm.Gateway
	if gateway != nil {
		gw = gateway
	}
	e := NewEngine(repo, gw, sender, nil)
	return e, sender
}

func login(t *testing.T, e *Engine, sender *fakeSender, conv string) {
	t.Helper()
	ctx := context.Background()
	e.HandleMessage(ctx, conv, "hello")
	e.HandleMessage(ctx, conv, "alice")
	e.HandleMessage(ctx, conv, testPassword)
	if !strings.Contains(sender.last(), "Welcome") {
		t.Fatalf("login did not complete, last reply: %q", sender.last())
	}
}

func TestLoginFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, sender := newTestEngine(newTestRepo(t), nil)

	e.HandleMessage(ctx, "chat-1", "hi there")
	if !strings.Contains(sender.last(), "enter your username") {
		t.Fatalf("first message should ask for username, got %q", sender.last())
	}

	e.HandleMessage(ctx, "chat-1", "ghost")
	if !strings.Contains(sender.last(), "couldn't find a user") {
		t.Fatalf("unknown username should reprompt, got %q", sender.last())
	}

	e.HandleMessage(ctx, "chat-1", "alice")
	if !strings.Contains(sender.last(), "password") {
		t.Fatalf("known username should ask for password, got %q", sender.last())
	}

	e.HandleMessage(ctx, "chat-1", "wrong-password")
	if !strings.Contains(sender.last(), "Incorrect password") {
		t.Fatalf("bad password should restart login, got %q", sender.last())
	}

	// After a failed password the flow is back at the username step.
	e.HandleMessage(ctx, "chat-1", "alice")
	e.HandleMessage(ctx, "chat-1", testPassword)
	if !strings.Contains(sender.last(), "Welcome, Alice Johnson") {
		t.Fatalf("correct credentials should log in, got %q", sender.last())
	}
}

func TestLogout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, sender := newTestEngine(newTestRepo(t), nil)
	login(t, e, sender, "chat-1")

	e.HandleMessage(ctx, "chat-1", "logout")
	if !strings.Contains(sender.last(), "See you later") {
		t.Fatalf("logout should say goodbye, got %q", sender.last())
	}

	e.HandleMessage(ctx, "chat-1", "hello again")
	if !strings.Contains(sender.last(), "enter your username") {
		t.Fatalf("after logout the login flow should restart, got %q", sender.last())
	}
}

func TestLoginLookupErrorRetriesUsername(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepo(t)
	e, sender := newTestEngine(repo, nil)

	e.HandleMessage(ctx, "chat-1", "hi")
	repo.findUserErr = errors.New("db offline")
	e.HandleMessage(ctx, "chat-1", "alice")
	if !strings.Contains(sender.last(), "couldn't find a user") {
		t.Fatalf("lookup failure should read as not-found, got %q", sender.last())
	}

	// Still at the username step; once the store recovers, login proceeds.
	repo.findUserErr = nil
	e.HandleMessage(ctx, "chat-1", "alice")
	if !strings.Contains(sender.last(), "password") {
		t.Fatalf("retry after recovery should ask for password, got %q", sender.last())
	}
}

func TestLoginLookupErrorAtPasswordFailsClosed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepo(t)
	e, sender := newTestEngine(repo, nil)

	e.HandleMessage(ctx, "chat-1", "hi")
	e.HandleMessage(ctx, "chat-1", "alice")
	repo.findUserErr = errors.New("db offline")
	e.HandleMessage(ctx, "chat-1", testPassword)
	if !strings.Contains(sender.last(), "Incorrect password") {
		t.Fatalf("validation failure should read as wrong credentials, got %q", sender.last())
	}

	// The flow restarted from the username step with nothing pending.
	repo.findUserErr = nil
	e.HandleMessage(ctx, "chat-1", "alice")
	if !strings.Contains(sender.last(), "password") {
		t.Fatalf("flow should be back at the username step, got %q", sender.last())
	}
	e.HandleMessage(ctx, "chat-1", testPassword)
	if !strings.Contains(sender.last(), "Welcome, Alice Johnson") {
		t.Fatalf("login should succeed once the store recovers, got %q", sender.last())
	}
}

func TestLogoutDiscardsPendingProposal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepo(t)
	e, sender := newTestEngine(repo, nil)
	login(t, e, sender, "chat-1")

	e.HandleMessage(ctx, "chat-1", "create task: fix login bug")
	if !strings.HasSuffix(sender.last(), "Confirm? (yes/no)") {
		t.Fatalf("expected a pending proposal, got %q", sender.last())
	}

	e.HandleMessage(ctx, "chat-1", "logout")
	if !strings.Contains(sender.last(), "See you later") {
		t.Fatalf("logout should win over the pending proposal, got %q", sender.last())
	}

	// Logging back in and saying yes must not resurrect the old proposal.
	login(t, e, sender, "chat-1")
	e.HandleMessage(ctx, "chat-1", "yes")
	if len(repo.tasks) != 0 {
		t.Fatalf("proposal discarded at logout must never be created, got %d tasks", len(repo.tasks))
	}
}

func TestCreateTaskProposalAndConfirm(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepo(t)
	gw := &fakeGateway{generate: func(_, _ string) (string, error) {
		return `{"title":"Fix login bug","description":"Sessions expire early","estimatedHours":4,"priority":2,"suggestedDueDays":3}`, nil
	}}
	e, sender := newTestEngine(repo, gw)
	login(t, e, sender, "chat-1")

	e.HandleMessage(ctx, "chat-1", "create task: fix login bug")
	summary := sender.last()
	if !strings.HasSuffix(summary, "Confirm? (yes/no)") {
		t.Fatalf("proposal should end with confirmation question:\n%s", summary)
	}
	if !strings.Contains(summary, "Fix login bug") || !strings.Contains(summary, "TT-01-01") {
		t.Fatalf("proposal missing extracted fields:\n%s", summary)
	}
	if len(repo.tasks) != 0 {
		t.Fatal("nothing may be persisted before confirmation")
	}

	e.HandleMessage(ctx, "chat-1", "yes")
	if len(repo.tasks) != 1 {
		t.Fatalf("confirmation should create exactly one task, got %d", len(repo.tasks))
	}
	task := repo.tasks[0]
	if task.Title != "TT-01-01 - Fix login bug" {
		t.Errorf("task title = %q", task.Title)
	}
	if task.Status != domain.TaskStatusTodo {
		t.Errorf("new task status = %q, want todo", task.Status)
	}
	if task.AssigneeID == nil || *task.AssigneeID != 1 {
		t.Errorf("task should be assigned to the creator, got %v", task.AssigneeID)
	}
	if task.SprintID == nil || *task.SprintID != 9 {
		t.Errorf("task should join the active sprint, got %v", task.SprintID)
	}

	// A second "yes" has no proposal to act on and must not create another task.
	e.HandleMessage(ctx, "chat-1", "yes")
	if len(repo.tasks) != 1 {
		t.Fatalf("repeated confirmation created extra tasks: %d", len(repo.tasks))
	}
}

func TestProposalCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepo(t)
	e, sender := newTestEngine(repo, nil)
	login(t, e, sender, "chat-1")

	e.HandleMessage(ctx, "chat-1", "create task: fix login bug")
	e.HandleMessage(ctx, "chat-1", "cancelar")
	if !strings.Contains(sender.last(), "discarded") {
		t.Fatalf("cancellation should acknowledge the discard, got %q", sender.last())
	}
	if len(repo.tasks) != 0 {
		t.Fatal("cancelled proposal must not persist anything")
	}
}

func TestProposalClarification(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepo(t)
	e, sender := newTestEngine(repo, nil)
	login(t, e, sender, "chat-1")

	e.HandleMessage(ctx, "chat-1", "create task: fix login bug")
	e.HandleMessage(ctx, "chat-1", "interesting weather today")
	if !strings.Contains(sender.last(), "pending") {
		t.Fatalf("ambiguous reply should trigger clarification, got %q", sender.last())
	}
	if len(repo.tasks) != 0 {
		t.Fatal("clarification must not persist anything")
	}
}

func TestProposalModification(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepo(t)
	calls := 0
	gw := &fakeGateway{generate: func(_, _ string) (string, error) {
		calls++
		if calls == 1 {
			return `{"title":"Fix login bug","estimatedHours":4,"priority":1,"suggestedDueDays":3}`, nil
		}
		return `{"title": null, "description": null, "estimatedHours": 8, "priority": null}`, nil
	}}
	e, sender := newTestEngine(repo, gw)
	login(t, e, sender, "chat-1")

	e.HandleMessage(ctx, "chat-1", "create task: fix login bug")
	e.HandleMessage(ctx, "chat-1", "change the hours to 8")
	updated := sender.last()
	if !strings.Contains(updated, "Estimated hours: 8") {
		t.Fatalf("modification should update hours:\n%s", updated)
	}
	if !strings.HasSuffix(updated, "Confirm? (yes/no)") {
		t.Fatalf("updated proposal must re-ask for confirmation:\n%s", updated)
	}

	e.HandleMessage(ctx, "chat-1", "yes")
	if len(repo.tasks) != 1 || repo.tasks[0].EstimatedHours != 8 {
		t.Fatalf("confirmed task should carry the modified hours, got %+v", repo.tasks)
	}
}

func TestCreateTaskAsksForDescription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepo(t)
	e, sender := newTestEngine(repo, nil)
	login(t, e, sender, "chat-1")

	e.HandleMessage(ctx, "chat-1", "create a task")
	if !strings.Contains(sender.last(), "What does the task involve") {
		t.Fatalf("thin idea should ask for a description, got %q", sender.last())
	}

	// The follow-up is taken verbatim as the idea, bypassing the classifier.
	e.HandleMessage(ctx, "chat-1", "migrate the users table")
	summary := sender.last()
	if !strings.HasSuffix(summary, "Confirm? (yes/no)") {
		t.Fatalf("description follow-up should produce a proposal:\n%s", summary)
	}
	if !strings.Contains(summary, "migrate the users table") {
		t.Fatalf("proposal should use the given description:\n%s", summary)
	}
}

func TestProposalDefaultsWhenGatewayFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepo(t)
	gw := &fakeGateway{generate: func(_, _ string) (string, error) {
		return "", fmt.Errorf("model unavailable")
	}}
	e, sender := newTestEngine(repo, gw)
	login(t, e, sender, "chat-1")

	e.HandleMessage(ctx, "chat-1", "create task: fix login bug")
	summary := sender.last()
	if !strings.Contains(summary, "fix login bug") {
		t.Fatalf("defaults should use the raw idea as title:\n%s", summary)
	}
	if !strings.Contains(summary, "Estimated hours: 2") {
		t.Fatalf("defaults should apply when the model fails:\n%s", summary)
	}
}

func TestConfirmFailureDiscardsProposal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepo(t)
	repo.failCreateTask = true
	e, sender := newTestEngine(repo, nil)
	login(t, e, sender, "chat-1")

	e.HandleMessage(ctx, "chat-1", "create task: fix login bug")
	e.HandleMessage(ctx, "chat-1", "yes")
	if !strings.Contains(sender.last(), errCodeTaskCreate) {
		t.Fatalf("creation failure should surface %s, got %q", errCodeTaskCreate, sender.last())
	}

	// The proposal is gone; a retry is a fresh conversation turn.
	e.HandleMessage(ctx, "chat-1", "yes")
	if strings.Contains(sender.last(), errCodeTaskCreate) {
		t.Fatalf("failed proposal should be discarded, got %q", sender.last())
	}
}

func TestCompleteTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepo(t)
	assignee := int64(1)
	repo.tasks = []*domain.Task{
		{ID: 10, Title: "TT-01-02 - Run integration tests nightly", TeamID: 1,
			AssigneeID: &assignee, Status: domain.TaskStatusTodo},
	}
	repo.nextTaskID = 10
	e, sender := newTestEngine(repo, nil)
	login(t, e, sender, "chat-1")

	e.HandleMessage(ctx, "chat-1", "mark the integration tests as done")
	if repo.tasks[0].Status != domain.TaskStatusDone {
		t.Fatalf("task should be marked done, got %q", repo.tasks[0].Status)
	}
	if !strings.Contains(sender.last(), "Marked") {
		t.Fatalf("completion should be confirmed, got %q", sender.last())
	}
}

func TestCompleteTaskNoMatchListsPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepo(t)
	assignee := int64(1)
	repo.tasks = []*domain.Task{
		{ID: 10, Title: "TT-01-01 - Refactor parser", TeamID: 1,
			AssigneeID: &assignee, Status: domain.TaskStatusTodo},
	}
	e, sender := newTestEngine(repo, nil)
	login(t, e, sender, "chat-1")

	e.HandleMessage(ctx, "chat-1", "mark the billing export as done")
	reply := sender.last()
	if !strings.Contains(reply, "Refactor parser") {
		t.Fatalf("no-match reply should list pending tasks:\n%s", reply)
	}
	if repo.tasks[0].Status != domain.TaskStatusTodo {
		t.Fatal("no task may change status on a failed match")
	}
}

func TestAssignTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepo(t)
	repo.tasks = []*domain.Task{
		{ID: 10, Title: "TT-01-01 - Fix login bug", TeamID: 1, Status: domain.TaskStatusTodo},
	}
	e, sender := newTestEngine(repo, nil)
	login(t, e, sender, "chat-1")

	e.HandleMessage(ctx, "chat-1", `assign "fix login bug" to bob`)
	if repo.tasks[0].AssigneeID == nil || *repo.tasks[0].AssigneeID != 2 {
		t.Fatalf("task should be assigned to bob, got %v", repo.tasks[0].AssigneeID)
	}
	if !strings.Contains(sender.last(), "Bob Martinez") {
		t.Fatalf("assignment reply should name the assignee, got %q", sender.last())
	}
}

func TestAssignTaskUnknownAssignee(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepo(t)
	repo.tasks = []*domain.Task{
		{ID: 10, Title: "TT-01-01 - Fix login bug", TeamID: 1, Status: domain.TaskStatusTodo},
	}
	e, sender := newTestEngine(repo, nil)
	login(t, e, sender, "chat-1")

	e.HandleMessage(ctx, "chat-1", `assign "fix login bug" to zelda`)
	if repo.tasks[0].AssigneeID != nil {
		t.Fatal("unknown assignee must not change the task")
	}
	if !strings.Contains(sender.last(), "couldn't find anyone") {
		t.Fatalf("unknown assignee should be reported, got %q", sender.last())
	}
}

func TestGeneralConversationWithoutGateway(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, sender := newTestEngine(newTestRepo(t), nil)
	login(t, e, sender, "chat-1")

	e.HandleMessage(ctx, "chat-1", "what should I work on today?")
	reply := sender.last()
	if !strings.Contains(reply, "USER CONTEXT") {
		t.Fatalf("without a model the context block is shown directly:\n%s", reply)
	}
}

func TestGeneralConversationGatewayError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gw := &fakeGateway{generate: func(_, _ string) (string, error) {
		return "", fmt.Errorf("timeout")
	}}
	e, sender := newTestEngine(newTestRepo(t), gw)
	login(t, e, sender, "chat-1")

	e.HandleMessage(ctx, "chat-1", "how is my sprint going?")
	if !strings.Contains(sender.last(), errCodeLLMGeneral) {
		t.Fatalf("gateway failure should surface %s, got %q", errCodeLLMGeneral, sender.last())
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, sender := newTestEngine(newTestRepo(t), nil)
	login(t, e, sender, "chat-1")

	// A different conversation starts from scratch.
	e.HandleMessage(ctx, "chat-2", "what should I work on today?")
	if !strings.Contains(sender.last(), "enter your username") {
		t.Fatalf("new conversation must go through login, got %q", sender.last())
	}
}
