package bot

import (
	"strings"
)

// Intent is the classified purpose of an authenticated user's message.
type Intent int

const (
	// IntentGeneral routes the message to the language model with context.
	IntentGeneral Intent = iota
	// IntentLogout ends the authenticated session.
	IntentLogout
	// IntentCreateTask starts the task-proposal flow.
	IntentCreateTask
	// IntentAssignTask reassigns an existing task to a team member.
	IntentAssignTask
	// IntentCompleteTask marks an existing task as done.
	IntentCompleteTask
)

// String returns the intent name for logging.
func (i Intent) String() string {
	switch i {
	case IntentLogout:
		return "logout"
	case IntentCreateTask:
		return "create_task"
	case IntentAssignTask:
		return "assign_task"
	case IntentCompleteTask:
		return "complete_task"
	default:
		return "general"
	}
}

// intentRule matches when, for every phrase group, at least one phrase is
// present in the message. Rules are checked in order; the first match wins,
// which encodes the priority Logout > CreateTask > AssignTask > CompleteTask.
type intentRule struct {
	intent Intent
	groups [][]string
}

var intentRules = []intentRule{
	{
		intent: IntentLogout,
		groups: [][]string{
			{"log out", "logout", "sign out", "log off", "cerrar sesión", "cerrar sesion", "desconectar"},
		},
	},
	{
		intent: IntentCreateTask,
		groups: [][]string{
			{"create", "new", "add", "register", "crear", "nueva", "agregar", "añadir", "dar de alta"},
			{"task", "tarea"},
		},
	},
	{
		intent: IntentAssignTask,
		groups: [][]string{
			{"assign", "asignar"},
			{"task", "tarea", " to ", " a ", " para "},
		},
	},
	{
		intent: IntentCompleteTask,
		groups: [][]string{
			{"complete", "completar", "finish", "finalizar", "terminar", "done", "hecha", "terminada"},
		},
	},
}

// ClassifyIntent inspects a lower-cased message and picks the behavior that
// applies. Anything that matches no rule falls through to IntentGeneral.
func ClassifyIntent(message string) Intent {
	lower := strings.ToLower(message)
	for _, rule := range intentRules {
		if matchesAllGroups(lower, rule.groups) {
			return rule.intent
		}
	}
	return IntentGeneral
}

func matchesAllGroups(lower string, groups [][]string) bool {
	for _, group := range groups {
		found := false
		for _, phrase := range group {
			if strings.Contains(lower, phrase) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
