// Package assistant routes inbound chat messages to an action by keyword:
// save a link, list saved links, list pending reminders or create a
// reminder. Every outcome, including failures, is a text reply.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jholhewres/whatsassist/pkg/whatsassist/links"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/reminders"
)

// Intent is the action a message was routed to.
type Intent string

// Intents.
const (
	IntentSaveLink      Intent = "save_link"
	IntentListLinks     Intent = "list_links"
	IntentListReminders Intent = "list_reminders"
	IntentRemind        Intent = "remind"
	IntentGreeting      Intent = "greeting"
)

// Greeting is the reply to messages that match no intent.
const Greeting = "Hello! I'm your WhatsApp assistant. I can save links, retrieve saved links, " +
	"and set reminders for you. What would you like to do today?"

// defaultTimeText is used when a reminder request names no time.
const defaultTimeText = "tomorrow"

// defaultTask is used when a reminder request names no task.
const defaultTask = "your task"

var (
	reSaveWords     = regexp.MustCompile(`(?i)\b(save|store|keep)\b`)
	reLinksWord     = regexp.MustCompile(`(?i)\blinks\b`)
	reRetrieveWords = regexp.MustCompile(`(?i)\b(saved|show|get|retrieve)\b`)
	reListReminders = regexp.MustCompile(`(?i)\b(my|list|show|pending)\s+reminders\b`)
	reRemindWords   = regexp.MustCompile(`(?i)\b(remind|reminder|remember)`)

	clockExpr = `\d{1,2}(?:[:.]\d{2})?\s*(?:am|pm)|\d{1,2}[:.]\d{2}`
	reTime    = regexp.MustCompile(`(?i)\b(?:` +
		`(?:tomorrow|today)\s+(?:at\s+)?(?:` + clockExpr + `|morning|afternoon|evening|night)` +
		`|in\s+\d+\s+(?:minute|min|hour|day|week)s?` +
		`|at\s+(?:\d{3,4}|\d{1,2}(?:[:.]\d{2})?(?:\s*(?:am|pm))?)` +
		`|` + clockExpr +
		`|tomorrow|tonight|morning|afternoon|evening` +
		`)\b`)
	reTask = regexp.MustCompile(`(?i)\b(?:to|about)\s+(.+)`)

	// Parts of the day map to fixed clock times.
	dayParts = map[string]string{
		"morning":   "9am",
		"afternoon": "3pm",
		"evening":   "7pm",
		"night":     "7pm",
		"tonight":   "7pm",
	}

	// Site names users mention when asking for links, and the hosts they mean.
	// The first site mentioned in this order wins.
	siteKeywords = []struct {
		name  string
		hosts []string
	}{
		{"github", []string{"github.com"}},
		{"twitter", []string{"twitter.com", "x.com"}},
		{"x.com", []string{"twitter.com", "x.com"}},
		{"linkedin", []string{"linkedin.com"}},
		{"youtube", []string{"youtube.com", "youtu.be"}},
	}
)

// Assistant handles inbound messages.
type Assistant struct {
	reminders *reminders.Service
	links     *links.Store
	location  *time.Location
	logger    *slog.Logger
}

// New creates an Assistant. Reminder list times are shown in loc.
func New(svc *reminders.Service, linkStore *links.Store, loc *time.Location, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Assistant{
		reminders: svc,
		links:     linkStore,
		location:  loc,
		logger:    logger.With("component", "assistant"),
	}
}

// Classify returns the intent for body.
func Classify(body string) Intent {
	switch {
	case len(links.Extract(body)) > 0 && reSaveWords.MatchString(body):
		return IntentSaveLink
	case reLinksWord.MatchString(body) && reRetrieveWords.MatchString(body):
		return IntentListLinks
	case reListReminders.MatchString(body):
		return IntentListReminders
	case reRemindWords.MatchString(body):
		return IntentRemind
	default:
		return IntentGreeting
	}
}

// Handle produces the reply to a message from user from.
func (a *Assistant) Handle(ctx context.Context, from, body string) string {
	intent := Classify(body)
	a.logger.Info("message received", "from", from, "intent", intent)

	switch intent {
	case IntentSaveLink:
		return a.saveLink(ctx, from, body)
	case IntentListLinks:
		return a.listLinks(ctx, from, body)
	case IntentListReminders:
		return a.listReminders(ctx, from)
	case IntentRemind:
		timeText, task := ParseReminder(body)
		a.logger.Debug("reminder request parsed", "from", from, "time", timeText, "task", task)
		return a.reminders.Reply(ctx, from, timeText, task)
	default:
		return Greeting
	}
}

func (a *Assistant) saveLink(ctx context.Context, from, body string) string {
	link := links.Extract(body)[0]
	if _, err := a.links.Save(ctx, from, link); err != nil {
		a.logger.Error("failed to save link", "from", from, "error", err)
		return "Sorry, I couldn't save that link. Please try again."
	}
	return fmt.Sprintf("I've saved that link for you: %s", link)
}

func (a *Assistant) listLinks(ctx context.Context, from, body string) string {
	keywords := linkKeywords(body)
	list, err := a.links.List(ctx, from, keywords...)
	if err != nil {
		a.logger.Error("failed to list links", "from", from, "error", err)
		return "Sorry, I couldn't retrieve your links. Please try again."
	}
	if len(list) == 0 {
		if len(keywords) > 0 {
			return "I couldn't find any matching links for your request."
		}
		return "You don't have any saved links yet."
	}
	return links.FormatList(list)
}

func (a *Assistant) listReminders(ctx context.Context, from string) string {
	list, err := a.reminders.Pending(ctx, from)
	if err != nil {
		a.logger.Error("failed to list reminders", "from", from, "error", err)
		return "Sorry, I couldn't retrieve your reminders. Please try again."
	}
	return reminders.FormatList(list, a.location)
}

// ParseReminder pulls the time expression and the task out of a reminder
// request. Missing parts fall back to "tomorrow" and "your task".
func ParseReminder(body string) (timeText, task string) {
	timeText = defaultTimeText
	rest := body
	if loc := reTime.FindStringIndex(body); loc != nil {
		timeText = normalizeTime(body[loc[0]:loc[1]])
		rest = body[:loc[0]] + body[loc[1]:]
	}

	task = defaultTask
	if m := reTask.FindStringSubmatch(rest); m != nil {
		if t := cleanTask(m[1]); t != "" {
			task = t
		}
	}
	return timeText, task
}

// normalizeTime rewrites parts of the day into clock times and drops a
// leading "today".
func normalizeTime(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	for part, clock := range dayParts {
		if s == part {
			return clock
		}
		if strings.HasSuffix(s, " "+part) {
			s = strings.TrimSuffix(s, part) + clock
			break
		}
	}
	s = strings.TrimPrefix(s, "today at ")
	s = strings.TrimPrefix(s, "today ")
	return s
}

func cleanTask(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, " .!?")
}

func linkKeywords(body string) []string {
	lower := strings.ToLower(body)
	for _, site := range siteKeywords {
		if strings.Contains(lower, site.name) {
			return site.hosts
		}
	}
	return nil
}
