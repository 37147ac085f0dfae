package bot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dcervantes/sprintbot/internal/domain"
)

// TaskProposal is a draft task awaiting user confirmation. Nothing is
// persisted until the user confirms; cancelling simply discards the draft.
type TaskProposal struct {
	HumanCode      string
	Title          string
	Description    string
	EstimatedHours int
	Priority       int
	DueDate        time.Time
	TeamID         int64
	StoryID        int64
	SprintID       *int64
	SprintName     string
	AssigneeID     int64
	AssigneeName   string
	CreatedAt      time.Time
}

// Summary renders the proposal for the user. The trailing question is what the
// confirmation step keys on, so it always ends with "Confirm? (yes/no)".
func (p *TaskProposal) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 New task proposal %s\n\n", p.HumanCode)
	fmt.Fprintf(&b, "Title: %s\n", p.Title)
	fmt.Fprintf(&b, "Description: %s\n", p.Description)
	fmt.Fprintf(&b, "Estimated hours: %d\n", p.EstimatedHours)
	fmt.Fprintf(&b, "Priority: %s\n", domain.PriorityLabel(p.Priority))
	fmt.Fprintf(&b, "Due date: %s\n", p.DueDate.Format("2006-01-02"))
	if p.SprintName != "" {
		fmt.Fprintf(&b, "Sprint: %s\n", p.SprintName)
	} else {
		b.WriteString("Sprint: none active\n")
	}
	fmt.Fprintf(&b, "Assignee: %s\n", p.AssigneeName)
	b.WriteString("\nConfirm? (yes/no)")
	return b.String()
}

var humanCodeSeq = regexp.MustCompile(`^TT-\d+-(\d+)`)

// NextHumanCode derives the next short reference code for a team by scanning
// existing task titles for the highest sequence number already used.
func NextHumanCode(teamID int64, tasks []*domain.Task) string {
	maxSeq := 0
	for _, t := range tasks {
		m := humanCodeSeq.FindStringSubmatch(t.Title)
		if m == nil {
			continue
		}
		seq, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	return fmt.Sprintf("TT-%02d-%02d", teamID, maxSeq+1)
}
