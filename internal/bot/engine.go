package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dcervantes/sprintbot/internal/domain"
	"github.com/dcervantes/sprintbot/internal/identity"
	"github.com/dcervantes/sprintbot/internal/llm"
	"github.com/dcervantes/sprintbot/internal/store"
)

// Sender delivers a reply to a conversation. Implementations are
// fire-and-forget: delivery failures are logged, never returned, so the
// engine's state transitions cannot be rolled back by a flaky transport.
type Sender interface {
	Send(ctx context.Context, conversationID, text string)
}

// Engine drives the conversational task-management flow. One engine serves
// all conversations; per-conversation state lives in the session store.
type Engine struct {
	repo     store.Repository
	gateway  llm.Gateway // nil when no API key is configured
	sender   Sender
	sessions *SessionStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an engine. gateway may be nil, in which case every
// AI-backed path degrades to its deterministic fallback.
func NewEngine(repo store.Repository, gateway llm.Gateway, sender Sender, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:     repo,
		gateway:  gateway,
		sender:   sender,
		sessions: NewSessionStore(),
		logger:   logger,
		now:      time.Now,
	}
}

// Sessions exposes the engine's session store for operational endpoints.
func (e *Engine) Sessions() *SessionStore {
	return e.sessions
}

// HandleMessage processes one inbound message for a conversation. It never
// returns an error: every failure ends in a tagged reply to the user.
func (e *Engine) HandleMessage(ctx context.Context, conversationID, text string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic while handling message", "conversation_id", conversationID, "panic", r)
			e.reply(ctx, conversationID, msgTaggedError(errCodeGlobal))
		}
	}()

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	sess := e.sessions.Get(conversationID)

	if sess.AuthState != StateAuthenticated {
		e.handleLogin(ctx, sess, text)
		return
	}

	intent := ClassifyIntent(text)
	e.logger.Debug("Classified message", "conversation_id", conversationID, "intent", intent.String())

	// Logout wins over everything, including a pending proposal.
	if intent == IntentLogout {
		e.handleLogout(ctx, sess)
		return
	}

	if sess.Proposal != nil {
		e.handleConfirmation(ctx, sess, text)
		return
	}

	if sess.AwaitingDescription {
		sess.AwaitingDescription = false
		e.buildProposal(ctx, sess, text)
		return
	}

	switch intent {
	case IntentCreateTask:
		e.handleCreateTask(ctx, sess, text)
	case IntentAssignTask:
		e.handleAssignTask(ctx, sess, text)
	case IntentCompleteTask:
		e.handleCompleteTask(ctx, sess, text)
	default:
		e.handleGeneral(ctx, sess, text)
	}
}

func (e *Engine) reply(ctx context.Context, conversationID, text string) {
	e.sender.Send(ctx, conversationID, text)
}

// --- login -----------------------------------------------------------------

func (e *Engine) handleLogin(ctx context.Context, sess *Session, text string) {
	switch sess.AuthState {
	case StateUnauthenticated:
		sess.AuthState = StateAwaitingUsername
		e.reply(ctx, sess.ConversationID, msgAskUsername)

	case StateAwaitingUsername:
		username := strings.TrimSpace(text)
		user, err := e.repo.FindUserByName(ctx, username)
		if err != nil {
			// Fail closed: a lookup error reads as "not found" and the user retries.
			e.logger.Error("User lookup failed", "error", err)
			user = nil
		}
		if user == nil {
			e.reply(ctx, sess.ConversationID, msgUserNotFound(username))
			return
		}
		sess.PendingUsername = user.Username
		sess.AuthState = StateAwaitingPassword
		e.reply(ctx, sess.ConversationID, msgAskPassword)

	case StateAwaitingPassword:
		user, err := e.repo.FindUserByName(ctx, sess.PendingUsername)
		if err != nil {
			// Fail closed: credentials cannot be validated, so treat them as wrong.
			e.logger.Error("User lookup failed", "error", err)
			user = nil
		}
		if user == nil || !identity.CheckPassword(text, user.PasswordHash) {
			sess.PendingUsername = ""
			sess.AuthState = StateAwaitingUsername
			e.reply(ctx, sess.ConversationID, msgLoginFailed)
			return
		}
		sess.User = user
		sess.PendingUsername = ""
		sess.AuthState = StateAuthenticated
		e.logger.Info("User logged in", "conversation_id", sess.ConversationID, "user_id", user.ID)
		e.reply(ctx, sess.ConversationID, msgWelcome(user.DisplayName()))
	}
}

func (e *Engine) handleLogout(ctx context.Context, sess *Session) {
	name := sess.User.DisplayName()
	e.logger.Info("User logged out", "conversation_id", sess.ConversationID, "user_id", sess.User.ID)
	sess.resetAuth()
	e.reply(ctx, sess.ConversationID, msgLogout(name))
}

// --- proposal flow ---------------------------------------------------------

var confirmWords = []string{"yes", "y", "sí", "si", "confirm", "confirmo", "ok", "okay", "create", "crear"}

var modifyTriggers = []string{
	"change", "modify", "update", "set", "make", "add", "remove",
	"title", "description", "hour", "priority",
	"cambia", "modifica", "pon", "agrega", "quita",
	"título", "titulo", "descripción", "descripcion", "hora", "prioridad",
}

func isCancellation(lower string) bool {
	return lower == "no" || strings.Contains(lower, "cancel") || strings.Contains(lower, "cancelar")
}

func isConfirmation(lower string) bool {
	for _, w := range confirmWords {
		if lower == w {
			return true
		}
	}
	return strings.Contains(lower, "confirm")
}

func wantsModification(lower string) bool {
	for _, w := range modifyTriggers {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func (e *Engine) handleConfirmation(ctx context.Context, sess *Session, text string) {
	lower := strings.ToLower(strings.TrimSpace(text))

	switch {
	case isCancellation(lower):
		sess.Proposal = nil
		e.reply(ctx, sess.ConversationID, msgProposalCancelled)
	case isConfirmation(lower):
		e.confirmProposal(ctx, sess)
	case wantsModification(lower):
		e.modifyProposal(ctx, sess, text)
	default:
		e.reply(ctx, sess.ConversationID, msgProposalClarify)
	}
}

// confirmProposal persists the pending proposal. The user and story are
// re-resolved at confirmation time; the world may have changed since the
// proposal was built.
func (e *Engine) confirmProposal(ctx context.Context, sess *Session) {
	p := sess.Proposal

	user, err := e.repo.FindUserByID(ctx, sess.User.ID)
	if err != nil || user == nil {
		e.logger.Error("Confirm: user re-resolution failed", "user_id", sess.User.ID, "error", err)
		sess.Proposal = nil
		e.reply(ctx, sess.ConversationID, msgTaggedError(errCodeTaskCreate))
		return
	}

	stories, err := e.repo.GetStoriesForTeam(ctx, p.TeamID)
	if err != nil {
		e.logger.Error("Confirm: story lookup failed", "team_id", p.TeamID, "error", err)
		sess.Proposal = nil
		e.reply(ctx, sess.ConversationID, msgTaggedError(errCodeTaskCreate))
		return
	}
	storyOK := false
	for _, s := range stories {
		if s.ID == p.StoryID {
			storyOK = true
			break
		}
	}
	if !storyOK {
		e.logger.Warn("Confirm: story no longer exists", "story_id", p.StoryID)
		sess.Proposal = nil
		e.reply(ctx, sess.ConversationID, msgTaggedError(errCodeTaskCreate))
		return
	}

	now := e.now()
	due := p.DueDate
	task := &domain.Task{
		Title:          p.HumanCode + " - " + p.Title,
		Description:    p.Description,
		StoryID:        p.StoryID,
		SprintID:       p.SprintID,
		TeamID:         p.TeamID,
		AssigneeID:     &user.ID,
		Status:         domain.TaskStatusTodo,
		Priority:       p.Priority,
		DueDate:        &due,
		StartDate:      &now,
		EstimatedHours: p.EstimatedHours,
	}

	created, err := e.repo.CreateTask(ctx, task)
	if err != nil {
		e.logger.Error("Task creation failed", "error", err)
		sess.Proposal = nil
		e.reply(ctx, sess.ConversationID, msgTaggedError(errCodeTaskCreate))
		return
	}

	sess.Proposal = nil
	e.logger.Info("Task created", "task_id", created.ID, "code", p.HumanCode, "user_id", user.ID)
	e.reply(ctx, sess.ConversationID, fmt.Sprintf(
		"✅ Task %s created: %s\nDue %s, assigned to %s.",
		p.HumanCode, p.Title, due.Format("2006-01-02"), user.DisplayName()))
}

func (e *Engine) modifyProposal(ctx context.Context, sess *Session, text string) {
	if e.gateway == nil {
		e.reply(ctx, sess.ConversationID, msgTaggedError(errCodeLLMModify))
		return
	}

	raw, err := e.gateway.Generate(ctx, extractionSystemPrompt, modificationPrompt(sess.Proposal, text))
	if err != nil {
		e.logger.Warn("Modification extraction failed", "code", errCodeLLMModify, "error", err)
		e.reply(ctx, sess.ConversationID, msgTaggedError(errCodeLLMModify))
		return
	}

	patch := ParseProposalPatch(raw)
	if !patch.Apply(sess.Proposal) {
		e.logger.Debug("Modification response had no usable changes", "code", errCodeParse)
		e.reply(ctx, sess.ConversationID, msgProposalClarify)
		return
	}
	e.reply(ctx, sess.ConversationID, "✏️ Updated proposal:\n\n"+sess.Proposal.Summary())
}

// --- create ----------------------------------------------------------------

func (e *Engine) handleCreateTask(ctx context.Context, sess *Session, text string) {
	idea := ExtractTaskIdea(text)
	if NeedsDescription(idea) {
		sess.AwaitingDescription = true
		e.reply(ctx, sess.ConversationID, msgAskDescription)
		return
	}
	e.buildProposal(ctx, sess, idea)
}

func (e *Engine) buildProposal(ctx context.Context, sess *Session, idea string) {
	user := sess.User

	memberships, err := e.repo.GetTeamMemberships(ctx, user.ID)
	if err != nil {
		e.logger.Error("Membership lookup failed", "user_id", user.ID, "error", err)
		e.reply(ctx, sess.ConversationID, msgTaggedError(errCodeProposal))
		return
	}
	if len(memberships) == 0 {
		e.reply(ctx, sess.ConversationID, "You aren't a member of any team yet, so I can't create tasks for you. Ask an admin to add you to a team first.")
		return
	}
	team := memberships[0]

	stories, err := e.repo.GetStoriesForTeam(ctx, team.TeamID)
	if err != nil {
		e.logger.Error("Story lookup failed", "team_id", team.TeamID, "error", err)
		e.reply(ctx, sess.ConversationID, msgTaggedError(errCodeProposal))
		return
	}
	if len(stories) == 0 {
		e.reply(ctx, sess.ConversationID, fmt.Sprintf("Your team %q has no user stories yet, and every task needs one. Ask an admin to create a story first.", team.TeamName))
		return
	}
	story := stories[0]

	sprint, err := e.repo.GetActiveSprint(ctx)
	if err != nil {
		// A missing sprint is fine; the task just stays out of any sprint.
		e.logger.Warn("Active sprint lookup failed", "code", errCodeSprint, "error", err)
		sprint = nil
	}

	teamTasks, err := e.repo.GetTasksForTeam(ctx, team.TeamID)
	if err != nil {
		e.logger.Error("Team task lookup failed", "team_id", team.TeamID, "error", err)
		e.reply(ctx, sess.ConversationID, msgTaggedError(errCodeProposal))
		return
	}
	code := NextHumanCode(team.TeamID, teamTasks)

	sprintName := ""
	if sprint != nil {
		sprintName = sprint.Name
	}

	fields := defaultProposalFields(idea)
	if e.gateway != nil {
		raw, err := e.gateway.Generate(ctx, extractionSystemPrompt, proposalPrompt(idea, sprintName))
		if err != nil {
			e.logger.Warn("Proposal extraction failed, using defaults", "code", errCodeLLMProposal, "error", err)
		} else {
			fields = ParseProposalFields(raw, idea)
		}
	}

	now := e.now()
	proposal := &TaskProposal{
		HumanCode:      code,
		Title:          fields.Title,
		Description:    fields.Description,
		EstimatedHours: fields.EstimatedHours,
		Priority:       fields.Priority,
		DueDate:        now.AddDate(0, 0, fields.SuggestedDueDays),
		TeamID:         team.TeamID,
		StoryID:        story.ID,
		AssigneeID:     user.ID,
		AssigneeName:   user.DisplayName(),
		CreatedAt:      now,
	}
	if sprint != nil {
		id := sprint.ID
		proposal.SprintID = &id
		proposal.SprintName = sprint.Name
	}

	sess.Proposal = proposal
	e.reply(ctx, sess.ConversationID, proposal.Summary())
}

// --- complete --------------------------------------------------------------

func (e *Engine) handleCompleteTask(ctx context.Context, sess *Session, text string) {
	user := sess.User

	tasks, err := e.repo.GetTasksForUser(ctx, user.ID)
	if err != nil {
		e.logger.Error("Task lookup failed", "user_id", user.ID, "error", err)
		e.reply(ctx, sess.ConversationID, msgTaggedError(errCodeTaskComplete))
		return
	}

	var open []*domain.Task
	for _, t := range tasks {
		if t.IsOpen() {
			open = append(open, t)
		}
	}
	if len(open) == 0 {
		e.reply(ctx, sess.ConversationID, msgNoPendingTasks)
		return
	}

	match := FindTaskByText(open, text)
	if match == nil {
		e.reply(ctx, sess.ConversationID, "I couldn't tell which task you mean. Your pending tasks:\n"+listTitles(open))
		return
	}

	if err := e.repo.UpdateTaskStatus(ctx, match.ID, domain.TaskStatusDone); err != nil {
		e.logger.Error("Task completion failed", "task_id", match.ID, "error", err)
		e.reply(ctx, sess.ConversationID, msgTaggedError(errCodeTaskComplete))
		return
	}
	e.logger.Info("Task completed", "task_id", match.ID, "user_id", user.ID)

	base := fmt.Sprintf("✅ Marked %q as done. Nice work!", match.Title)
	e.replyWithFlourish(ctx, sess, base, errCodeLLMComplete,
		eventPrompt("TASK_COMPLETED", user, "Task: "+match.Title))
}

// --- assign ----------------------------------------------------------------

func (e *Engine) handleAssignTask(ctx context.Context, sess *Session, text string) {
	taskRef, assigneeName, ok := ParseAssignment(text)
	if !ok {
		e.reply(ctx, sess.ConversationID, `To assign a task, say: assign "<task>" to <person>.`)
		return
	}

	user := sess.User
	memberships, err := e.repo.GetTeamMemberships(ctx, user.ID)
	if err != nil {
		e.logger.Error("Membership lookup failed", "user_id", user.ID, "error", err)
		e.reply(ctx, sess.ConversationID, msgTaggedError(errCodeTaskAssign))
		return
	}
	if len(memberships) == 0 {
		e.reply(ctx, sess.ConversationID, "You aren't a member of any team, so there are no team tasks to assign.")
		return
	}
	team := memberships[0]

	tasks, err := e.repo.GetTasksForTeam(ctx, team.TeamID)
	if err != nil {
		e.logger.Error("Team task lookup failed", "team_id", team.TeamID, "error", err)
		e.reply(ctx, sess.ConversationID, msgTaggedError(errCodeTaskAssign))
		return
	}
	var open []*domain.Task
	for _, t := range tasks {
		if t.IsOpen() {
			open = append(open, t)
		}
	}
	match := FindTaskByText(open, taskRef)
	if match == nil {
		if len(open) == 0 {
			e.reply(ctx, sess.ConversationID, "Your team has no open tasks to assign.")
			return
		}
		e.reply(ctx, sess.ConversationID, fmt.Sprintf("I couldn't find a task matching %q. Open tasks:\n%s", taskRef, listTitles(open)))
		return
	}

	candidates, err := e.repo.SearchUsersByName(ctx, assigneeName)
	if err != nil {
		e.logger.Error("Assignee lookup failed", "fragment", assigneeName, "error", err)
		e.reply(ctx, sess.ConversationID, msgTaggedError(errCodeTaskAssign))
		return
	}
	if len(candidates) == 0 {
		e.reply(ctx, sess.ConversationID, fmt.Sprintf("I couldn't find anyone named %q. Try their username or full name.", assigneeName))
		return
	}
	assignee := candidates[0]

	if err := e.repo.AssignTask(ctx, match.ID, assignee.ID); err != nil {
		e.logger.Error("Task assignment failed", "task_id", match.ID, "assignee_id", assignee.ID, "error", err)
		e.reply(ctx, sess.ConversationID, msgTaggedError(errCodeTaskAssign))
		return
	}
	e.logger.Info("Task assigned", "task_id", match.ID, "assignee_id", assignee.ID)

	base := fmt.Sprintf("✅ Assigned %q to %s.", match.Title, assignee.DisplayName())
	e.replyWithFlourish(ctx, sess, base, errCodeLLMAssign,
		eventPrompt("TASK_ASSIGNED", user, fmt.Sprintf("Task: %s\nNew assignee: %s", match.Title, assignee.DisplayName())))
}

// --- general conversation --------------------------------------------------

func (e *Engine) handleGeneral(ctx context.Context, sess *Session, text string) {
	user := sess.User
	contextBlock := e.userContext(ctx, user)

	if e.gateway == nil {
		e.reply(ctx, sess.ConversationID, "The AI assistant is not configured, but here is where you stand:\n\n"+contextBlock)
		return
	}

	answer, err := e.gateway.Generate(ctx, systemPrompt, contextBlock+"\n\nUser message: "+text)
	if err != nil {
		e.logger.Warn("Completion failed", "code", errCodeLLMGeneral, "error", err)
		e.reply(ctx, sess.ConversationID, msgTaggedError(errCodeLLMGeneral))
		return
	}
	e.reply(ctx, sess.ConversationID, answer)
}

// userContext loads the user's tasks and renders the context block, degrading
// to the minimal fallback when persistence fails.
func (e *Engine) userContext(ctx context.Context, user *domain.User) string {
	tasks, err := e.repo.GetTasksForUser(ctx, user.ID)
	if err != nil {
		e.logger.Warn("Context build failed, using fallback", "code", errCodeContext, "error", err)
		return FallbackContext(e.now(), user)
	}
	sprint, err := e.repo.GetActiveSprint(ctx)
	if err != nil {
		sprint = nil
	}
	return BuildContext(e.now(), user, tasks, sprint)
}

// replyWithFlourish lets the model phrase the confirmation when available,
// falling back to the deterministic base message on any gateway failure.
func (e *Engine) replyWithFlourish(ctx context.Context, sess *Session, base, errCode, prompt string) {
	if e.gateway == nil {
		e.reply(ctx, sess.ConversationID, base)
		return
	}
	answer, err := e.gateway.Generate(ctx, systemPrompt, prompt)
	if err != nil || strings.TrimSpace(answer) == "" {
		if err != nil {
			e.logger.Warn("Flourish completion failed", "code", errCode, "error", err)
		}
		e.reply(ctx, sess.ConversationID, base)
		return
	}
	e.reply(ctx, sess.ConversationID, answer)
}

func listTitles(tasks []*domain.Task) string {
	var b strings.Builder
	for i, t := range tasks {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}
