package bot

import "fmt"

// Tagged error codes surfaced to users. The tag lets support trace a report
// back to the failing stage without exposing internals.
const (
	errCodeGlobal       = "ERR_GLOBAL_001"
	errCodeLLMGeneral   = "ERR_LLM_001"
	errCodeLLMAssign    = "ERR_LLM_002"
	errCodeLLMComplete  = "ERR_LLM_003"
	errCodeLLMProposal  = "ERR_LLM_004"
	errCodeLLMModify    = "ERR_LLM_005"
	errCodeContext      = "ERR_CONTEXT_001"
	errCodeParse        = "ERR_PARSE_001"
	errCodeTaskComplete = "ERR_TASK_COMPLETE_001"
	errCodeTaskAssign   = "ERR_TASK_ASSIGN_001"
	errCodeProposal     = "ERR_TASK_PROPOSAL_001"
	errCodeTaskCreate   = "ERR_TASK_CREATE_001"
	errCodeSprint       = "ERR_SPRINT_001"
)

const (
	msgAskUsername = "👋 Hi! I'm SprintBot, your task assistant.\n\nPlease enter your username to get started."

	msgAskPassword = "Thanks! Now enter your password."

	msgLoginFailed = "❌ Incorrect password. Let's start over.\n\nPlease enter your username."

	msgAskDescription = "Sure! What does the task involve? Give me a short description."

	msgProposalClarify = "I have a task proposal pending. Reply \"yes\" to create it, \"no\" to discard it, or tell me what to change (for example: \"change the title to X\")."

	msgNoPendingTasks = "You have no pending tasks right now. 🎉"

	msgProposalCancelled = "Okay, I discarded the proposal. Nothing was created."
)

func msgUserNotFound(username string) string {
	return fmt.Sprintf("I couldn't find a user named %q. Please check the spelling and enter your username again.", username)
}

func msgWelcome(fullName string) string {
	return fmt.Sprintf(`✅ Welcome, %s!

I can help you with:
• Reviewing your pending tasks and deadlines
• Creating new tasks ("create a task to ...")
• Assigning tasks ("assign <task> to <person>")
• Completing tasks ("mark <task> as done")
• General questions about your sprint

What would you like to do?`, fullName)
}

func msgLogout(fullName string) string {
	return fmt.Sprintf("👋 See you later, %s! Your session is closed. Send any message to log in again.", fullName)
}

func msgTaggedError(code string) string {
	return fmt.Sprintf("⚠️ Something went wrong on my side (%s). Please try again in a moment.", code)
}
