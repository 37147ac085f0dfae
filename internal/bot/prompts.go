package bot

import (
	"fmt"

	"github.com/dcervantes/sprintbot/internal/domain"
)

// systemPrompt frames every general-conversation completion. The user context
// block is appended by the caller.
const systemPrompt = `You are SprintBot, a friendly assistant for a software team's task management.
You help team members review their workload, track deadlines and stay on top of their sprint.
Answer in the user's language, be concise, and base every statement about tasks strictly on the context provided below.
If the context does not contain the information asked for, say so instead of inventing it.`

// extractionSystemPrompt keeps the model on a strict-JSON diet for the
// structured extraction calls.
const extractionSystemPrompt = `You are a project management assistant. Respond ONLY with a valid JSON object, no prose, no code fences.`

// proposalPrompt asks the model to turn a free-form idea into task attributes.
func proposalPrompt(idea, sprintName string) string {
	sprint := sprintName
	if sprint == "" {
		sprint = "no active sprint"
	}
	return fmt.Sprintf(`Turn this task idea into structured attributes.

Idea: %q
Current sprint: %s

Respond with a JSON object with exactly these fields:
{
  "title": "short imperative title, max 80 characters",
  "description": "one or two sentences describing the work",
  "estimatedHours": integer between 1 and 40,
  "priority": integer 0 (low), 1 (medium) or 2 (high),
  "suggestedDueDays": integer between 1 and 14
}`, idea, sprint)
}

// modificationPrompt asks the model which proposal fields a change request
// touches. Unchanged fields must come back as null.
func modificationPrompt(p *TaskProposal, request string) string {
	return fmt.Sprintf(`A task proposal is pending confirmation and the user asked for changes.

Current proposal:
  title: %q
  description: %q
  estimatedHours: %d
  priority: %d (0=low, 1=medium, 2=high)

User request: %q

Respond with a JSON object containing ONLY the fields the user wants changed,
with the other fields set to null:
{"title": string or null, "description": string or null, "estimatedHours": integer or null, "priority": integer or null}`,
		p.Title, p.Description, p.EstimatedHours, p.Priority, request)
}

// eventPrompt wraps an already-performed action so the model can phrase a
// natural confirmation for the user.
func eventPrompt(event string, user *domain.User, detail string) string {
	return fmt.Sprintf(`%s
User: %s
%s

Write one short, friendly confirmation message for the user about this. Do not add information that is not above.`,
		event, user.DisplayName(), detail)
}
