package bot

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/dcervantes/sprintbot/internal/domain"
)

// Bounds applied to model-suggested values regardless of how they were parsed.
const (
	minEstimatedHours = 1
	maxEstimatedHours = 40
	minDueDays        = 1
	maxDueDays        = 14
)

// ProposalFields are the model-suggested attributes of a new task. Every field
// always carries a usable value; parsing failures degrade to defaults.
type ProposalFields struct {
	Title            string
	Description      string
	EstimatedHours   int
	Priority         int
	SuggestedDueDays int
}

// defaultProposalFields returns the values used when the model suggests
// nothing usable. The raw idea becomes the title.
func defaultProposalFields(idea string) ProposalFields {
	return ProposalFields{
		Title:            idea,
		Description:      "Task created via conversation",
		EstimatedHours:   2,
		Priority:         domain.PriorityMedium,
		SuggestedDueDays: 7,
	}
}

type proposalJSON struct {
	Title            *string `json:"title"`
	Description      *string `json:"description"`
	EstimatedHours   *int    `json:"estimatedHours"`
	Priority         *int    `json:"priority"`
	SuggestedDueDays *int    `json:"suggestedDueDays"`
}

// Field scrapers for when the model wraps its JSON in prose or emits
// something that is not quite valid JSON.
var (
	titleField       = regexp.MustCompile(`"title"\s*:\s*"([^"]*)"`)
	descriptionField = regexp.MustCompile(`"description"\s*:\s*"([^"]*)"`)
	hoursField       = regexp.MustCompile(`"estimatedHours"\s*:\s*(\d+)`)
	priorityField    = regexp.MustCompile(`"priority"\s*:\s*(\d+)`)
	dueDaysField     = regexp.MustCompile(`"suggestedDueDays"\s*:\s*(\d+)`)
	codeFence        = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
)

// stripCodeFence unwraps a fenced code block if the whole payload is one.
func stripCodeFence(raw string) string {
	if m := codeFence.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return raw
}

// ParseProposalFields turns raw model output into task attributes. It tries a
// strict JSON decode first, falls back to per-field scraping, and finally to
// defaults, so a garbage response still produces a complete proposal.
func ParseProposalFields(raw, idea string) ProposalFields {
	fields := defaultProposalFields(idea)
	raw = stripCodeFence(strings.TrimSpace(raw))

	var parsed proposalJSON
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		applyProposalJSON(&fields, parsed)
	} else {
		scrapeProposalFields(&fields, raw)
	}

	fields.EstimatedHours = clamp(fields.EstimatedHours, minEstimatedHours, maxEstimatedHours)
	fields.Priority = clamp(fields.Priority, domain.PriorityLow, domain.PriorityHigh)
	fields.SuggestedDueDays = clamp(fields.SuggestedDueDays, minDueDays, maxDueDays)
	if strings.TrimSpace(fields.Title) == "" {
		fields.Title = idea
	}
	if strings.TrimSpace(fields.Description) == "" {
		fields.Description = "Task created via conversation"
	}
	return fields
}

func applyProposalJSON(fields *ProposalFields, parsed proposalJSON) {
	if parsed.Title != nil && strings.TrimSpace(*parsed.Title) != "" {
		fields.Title = strings.TrimSpace(*parsed.Title)
	}
	if parsed.Description != nil && strings.TrimSpace(*parsed.Description) != "" {
		fields.Description = strings.TrimSpace(*parsed.Description)
	}
	if parsed.EstimatedHours != nil {
		fields.EstimatedHours = *parsed.EstimatedHours
	}
	if parsed.Priority != nil {
		fields.Priority = *parsed.Priority
	}
	if parsed.SuggestedDueDays != nil {
		fields.SuggestedDueDays = *parsed.SuggestedDueDays
	}
}

func scrapeProposalFields(fields *ProposalFields, raw string) {
	if m := titleField.FindStringSubmatch(raw); m != nil && strings.TrimSpace(m[1]) != "" {
		fields.Title = strings.TrimSpace(m[1])
	}
	if m := descriptionField.FindStringSubmatch(raw); m != nil && strings.TrimSpace(m[1]) != "" {
		fields.Description = strings.TrimSpace(m[1])
	}
	if m := hoursField.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			fields.EstimatedHours = v
		}
	}
	if m := priorityField.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			fields.Priority = v
		}
	}
	if m := dueDaysField.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			fields.SuggestedDueDays = v
		}
	}
}

// ProposalPatch carries only the attributes a modification request changed.
// Nil means "leave as is".
type ProposalPatch struct {
	Title          *string `json:"title"`
	Description    *string `json:"description"`
	EstimatedHours *int    `json:"estimatedHours"`
	Priority       *int    `json:"priority"`
}

// ParseProposalPatch decodes a modification response. The same strict-then-
// scrape strategy as ParseProposalFields applies, except absent fields stay
// absent instead of defaulting.
func ParseProposalPatch(raw string) ProposalPatch {
	var patch ProposalPatch
	raw = stripCodeFence(strings.TrimSpace(raw))

	if err := json.Unmarshal([]byte(raw), &patch); err == nil {
		return patch
	}

	if m := titleField.FindStringSubmatch(raw); m != nil && strings.TrimSpace(m[1]) != "" {
		v := strings.TrimSpace(m[1])
		patch.Title = &v
	}
	if m := descriptionField.FindStringSubmatch(raw); m != nil && strings.TrimSpace(m[1]) != "" {
		v := strings.TrimSpace(m[1])
		patch.Description = &v
	}
	if m := hoursField.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			patch.EstimatedHours = &v
		}
	}
	if m := priorityField.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			patch.Priority = &v
		}
	}
	return patch
}

// Apply writes the patch onto a proposal, clamping numeric fields, and
// reports whether anything actually changed.
func (p ProposalPatch) Apply(prop *TaskProposal) bool {
	changed := false
	if p.Title != nil && strings.TrimSpace(*p.Title) != "" && *p.Title != prop.Title {
		prop.Title = strings.TrimSpace(*p.Title)
		changed = true
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) != "" && *p.Description != prop.Description {
		prop.Description = strings.TrimSpace(*p.Description)
		changed = true
	}
	if p.EstimatedHours != nil {
		v := clamp(*p.EstimatedHours, minEstimatedHours, maxEstimatedHours)
		if v != prop.EstimatedHours {
			prop.EstimatedHours = v
			changed = true
		}
	}
	if p.Priority != nil {
		v := clamp(*p.Priority, domain.PriorityLow, domain.PriorityHigh)
		if v != prop.Priority {
			prop.Priority = v
			changed = true
		}
	}
	return changed
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Lead-in phrases that precede the actual task idea in a create request.
var ideaLeadIns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^.*?(?:create|add|register|make)\s+(?:a\s+|the\s+)?(?:new\s+)?task\s*(?:for|to|about|called|named|:)?\s*`),
	regexp.MustCompile(`(?i)^.*?new\s+task\s*(?:for|to|about|called|named|:)?\s*`),
	regexp.MustCompile(`(?i)^.*?(?:crear|agregar|añadir)\s+(?:una\s+|la\s+)?(?:nueva\s+)?tarea\s*(?:para|de|sobre|llamada|:)?\s*`),
	regexp.MustCompile(`(?i)^.*?nueva\s+tarea\s*(?:para|de|sobre|llamada|:)?\s*`),
}

var leadingArticle = regexp.MustCompile(`(?i)^(?:the|a|an|la|el|una|un)\s+`)

// ExtractTaskIdea strips the request phrasing off a create-task message,
// leaving just the idea text. An empty or near-empty result signals that the
// user has to be asked for a description.
func ExtractTaskIdea(message string) string {
	idea := strings.TrimSpace(message)
	for _, re := range ideaLeadIns {
		if loc := re.FindStringIndex(idea); loc != nil {
			idea = strings.TrimSpace(idea[loc[1]:])
			break
		}
	}
	idea = strings.Trim(idea, `"'`)
	idea = leadingArticle.ReplaceAllString(idea, "")
	return strings.TrimSpace(idea)
}

// NeedsDescription reports whether an extracted idea is too thin to propose
// a task from.
func NeedsDescription(idea string) bool {
	return len(strings.TrimSpace(idea)) < 5
}

var codePrefix = regexp.MustCompile(`(?i)^tt-\d+-\d+\s*-\s*`)

// MatchesTitle reports whether a free-form message refers to a task title,
// either by containing the whole title or by sharing enough significant words.
// The short reference code prefix is ignored; users rarely type it back.
func MatchesTitle(message, title string) bool {
	lowerMsg := strings.ToLower(message)
	lowerTitle := codePrefix.ReplaceAllString(strings.ToLower(title), "")
	if lowerTitle == "" {
		return false
	}
	if strings.Contains(lowerMsg, lowerTitle) {
		return true
	}
	return sharesSignificantWords(lowerMsg, lowerTitle)
}

// sharesSignificantWords compares the title's words longer than three
// characters against the message. Two hits, or more than half the words,
// count as a match.
func sharesSignificantWords(lowerMsg, lowerTitle string) bool {
	words := strings.Fields(lowerTitle)
	significant := 0
	matched := 0
	for _, w := range words {
		if len(w) <= 3 {
			continue
		}
		significant++
		if strings.Contains(lowerMsg, w) {
			matched++
		}
	}
	if significant == 0 {
		return false
	}
	return matched >= 2 || float64(matched)/float64(significant) > 0.5
}

// FindTaskByText returns the first task whose title the message refers to.
func FindTaskByText(tasks []*domain.Task, message string) *domain.Task {
	for _, t := range tasks {
		if MatchesTitle(message, t.Title) {
			return t
		}
	}
	return nil
}

var assignPattern = regexp.MustCompile(
	`(?i)(?:assign|asignar?)\s+(?:the\s+|la\s+|el\s+)?(?:task\s+|tarea\s+)?(?:of\s+|de\s+)?["']?(.+?)["']?\s+(?:to|for|a|para)\s+(.+)`)

// ParseAssignment pulls the task reference and the assignee name out of an
// assignment request. ok is false when the message doesn't follow the
// "assign <task> to <person>" shape.
func ParseAssignment(message string) (taskRef, assignee string, ok bool) {
	m := assignPattern.FindStringSubmatch(strings.TrimSpace(message))
	if m == nil {
		return "", "", false
	}
	taskRef = strings.TrimSpace(leadingArticle.ReplaceAllString(strings.TrimSpace(m[1]), ""))
	assignee = strings.TrimSpace(strings.Trim(strings.TrimSpace(m[2]), `"'.,!`))
	if taskRef == "" || assignee == "" {
		return "", "", false
	}
	return taskRef, assignee, true
}
