package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dcervantes/sprintbot/internal/domain"
)

const (
	maxCompletedInContext = 5
	maxDeadlinesInContext = 3
	deadlineHorizonDays   = 3
)

// BuildContext renders the user's current workload as a plain-text block for
// the language model. It is deliberately side-effect free so it can be tested
// against fixed task lists.
func BuildContext(now time.Time, user *domain.User, tasks []*domain.Task, activeSprint *domain.Sprint) string {
	var b strings.Builder
	writeHeader(&b, now, user)

	var pending, completed []*domain.Task
	for _, t := range tasks {
		switch {
		case t.IsDone():
			completed = append(completed, t)
		case t.IsOpen():
			pending = append(pending, t)
		}
	}

	writePending(&b, pending, activeSprint)
	writeCompleted(&b, completed)
	writeKPIs(&b, completed, len(tasks))
	writeDeadlines(&b, now, pending)

	return b.String()
}

// FallbackContext is the minimal block used when task data cannot be loaded.
// The assistant still knows who it is talking to and what day it is.
func FallbackContext(now time.Time, user *domain.User) string {
	var b strings.Builder
	writeHeader(&b, now, user)
	b.WriteString("Task information is temporarily unavailable.\n")
	return b.String()
}

func writeHeader(b *strings.Builder, now time.Time, user *domain.User) {
	b.WriteString("USER CONTEXT\n")
	fmt.Fprintf(b, "Name: %s (%s)\n", user.DisplayName(), user.Username)
	fmt.Fprintf(b, "Date: %s\n\n", now.Format("Monday, 2006-01-02"))
}

func writePending(b *strings.Builder, pending []*domain.Task, activeSprint *domain.Sprint) {
	if len(pending) == 0 {
		b.WriteString("PENDING TASKS: none\n\n")
		return
	}
	fmt.Fprintf(b, "PENDING TASKS (%d):\n", len(pending))
	for i, t := range pending {
		fmt.Fprintf(b, "%d. [%s] %s", i+1, strings.ToUpper(t.Status), t.Title)
		if t.DueDate != nil {
			fmt.Fprintf(b, " (due %s)", t.DueDate.Format("2006-01-02"))
		}
		if t.EstimatedHours > 0 {
			fmt.Fprintf(b, " ~%dh", t.EstimatedHours)
		}
		if activeSprint != nil && t.SprintID != nil && *t.SprintID == activeSprint.ID {
			fmt.Fprintf(b, " [sprint: %s]", activeSprint.Name)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeCompleted(b *strings.Builder, completed []*domain.Task) {
	if len(completed) == 0 {
		return
	}
	fmt.Fprintf(b, "COMPLETED TASKS (%d):\n", len(completed))
	shown := completed
	if len(shown) > maxCompletedInContext {
		shown = shown[:maxCompletedInContext]
	}
	for _, t := range shown {
		fmt.Fprintf(b, "- %s\n", t.Title)
	}
	if extra := len(completed) - len(shown); extra > 0 {
		fmt.Fprintf(b, "(+%d more)\n", extra)
	}
	b.WriteString("\n")
}

func writeKPIs(b *strings.Builder, completed []*domain.Task, total int) {
	if total == 0 {
		return
	}
	estimated, effort := 0, 0
	for _, t := range completed {
		estimated += t.EstimatedHours
		if t.EffortHours != nil {
			effort += *t.EffortHours
		}
	}
	b.WriteString("KPIS:\n")
	fmt.Fprintf(b, "Completed: %d of %d tasks\n", len(completed), total)
	fmt.Fprintf(b, "Estimated hours (completed): %d | Actual effort hours: %d\n", estimated, effort)
	if effort > 0 {
		fmt.Fprintf(b, "Efficiency: %.0f%%\n", float64(estimated)/float64(effort)*100)
	}
	b.WriteString("\n")
}

func writeDeadlines(b *strings.Builder, now time.Time, pending []*domain.Task) {
	type dated struct {
		task *domain.Task
		days int
	}
	var soon []dated
	today := now.Truncate(24 * time.Hour)
	for _, t := range pending {
		if t.DueDate == nil {
			continue
		}
		days := int(t.DueDate.Truncate(24 * time.Hour).Sub(today).Hours() / 24)
		if days <= deadlineHorizonDays {
			soon = append(soon, dated{task: t, days: days})
		}
	}
	if len(soon) == 0 {
		return
	}
	sort.Slice(soon, func(i, j int) bool { return soon[i].days < soon[j].days })
	if len(soon) > maxDeadlinesInContext {
		soon = soon[:maxDeadlinesInContext]
	}

	b.WriteString("UPCOMING DEADLINES:\n")
	for _, d := range soon {
		switch {
		case d.days < 0:
			fmt.Fprintf(b, "- %s: OVERDUE by %d day(s)\n", d.task.Title, -d.days)
		case d.days == 0:
			fmt.Fprintf(b, "- %s: due TODAY\n", d.task.Title)
		default:
			fmt.Fprintf(b, "- %s: due in %d day(s)\n", d.task.Title, d.days)
		}
	}
	b.WriteString("\n")
}
