package slacknotify

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"casewatch/internal/gate"
)

const (
	DefaultAlertThreshold = 60.0
	defaultMaxListed      = 10
)

// API is the part of *slack.Client the notifier uses.
type API interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	GetUsers(options ...slack.GetUsersOption) ([]slack.User, error)
}

type Config struct {
	Token   string
	Channel string
	// AlertThreshold is the health score below which a run raises an alert.
	AlertThreshold float64
	// Contacts are mentioned on alerts and gate-2 escalations. Slack user IDs
	// or names.
	Contacts  []string
	MaxListed int
}

type Notifier struct {
	api       API
	channel   string
	threshold float64
	contacts  []string
	maxListed int
	users     userDirectory
	now       func() time.Time
}

func New(cfg Config, opts ...slack.Option) *Notifier {
	return NewWithAPI(slack.New(cfg.Token, opts...), cfg)
}

func NewWithAPI(api API, cfg Config) *Notifier {
	n := &Notifier{
		api:       api,
		channel:   cfg.Channel,
		threshold: cfg.AlertThreshold,
		contacts:  cfg.Contacts,
		maxListed: cfg.MaxListed,
		now:       time.Now,
	}
	if n.threshold <= 0 {
		n.threshold = DefaultAlertThreshold
	}
	if n.maxListed <= 0 {
		n.maxListed = defaultMaxListed
	}
	return n
}

// Message is a rendered run notification.
type Message struct {
	Text   string
	Blocks []slack.Block
	Alert  bool
}

// NeedsAlert reports whether the portfolio health warrants an alert.
func NeedsAlert(result gate.RunResult, threshold float64) bool {
	return result.Health.Score < threshold || result.Health.CriticalCases > 0
}

// NotifyRun posts the run outcome when it has escalations or the portfolio
// health needs attention. It reports whether a message was posted.
func (n *Notifier) NotifyRun(result gate.RunResult) (bool, error) {
	if len(result.Escalations) == 0 && !NeedsAlert(result, n.threshold) {
		log.Printf("slack notify run_id=%s nothing to report", result.RunID)
		return false, nil
	}

	var mentions []string
	if NeedsAlert(result, n.threshold) || len(result.NewlyEscalated(2)) > 0 {
		mentions, _ = n.resolveContacts()
	}
	msg := BuildRunMessage(result, n.threshold, n.maxListed, mentions)

	_, ts, err := n.api.PostMessage(n.channel,
		slack.MsgOptionText(msg.Text, false),
		slack.MsgOptionBlocks(msg.Blocks...),
	)
	if err != nil {
		return false, fmt.Errorf("post run summary to %s: %w", n.channel, err)
	}
	log.Printf("slack notify run_id=%s channel=%s ts=%s alert=%t escalations=%d", result.RunID, n.channel, ts, msg.Alert, len(result.Escalations))
	return true, nil
}

// BuildRunMessage renders the run summary. Text is the plain fallback and
// carries the same content as the blocks.
func BuildRunMessage(result gate.RunResult, threshold float64, maxListed int, mentions []string) Message {
	alert := NeedsAlert(result, threshold)
	title := "Case escalations"
	if alert {
		title = "Case health alert"
	}

	h := result.Health
	summary := fmt.Sprintf("Run `%s`: %d cases uploaded, gate 1 opened %d, gate 2 opened %d, timelines %d.",
		result.RunID, result.CasesInUpload, result.Gate1Opened, result.Gate2Opened, result.StageC.Succeeded)
	healthLine := fmt.Sprintf("Health *%.1f*/100 (base %.1f", h.Score, h.BaseScore)
	if h.Clustering.Detected {
		healthLine += fmt.Sprintf(", clustering -%.0f%%", h.Clustering.Penalty*100)
	}
	healthLine += fmt.Sprintf("), %d open, %d critical.", h.OpenCases, h.CriticalCases)
	if alert {
		healthLine = fmt.Sprintf(":rotating_light: %s Alert threshold %.0f.", healthLine, threshold)
	}
	if failures := result.OracleFailures(); failures > 0 {
		healthLine += fmt.Sprintf(" %d analysis calls failed and will be retried next run.", failures)
	}

	escalations := sortedEscalations(result.Escalations)
	var lines []string
	for i, e := range escalations {
		if i == maxListed {
			lines = append(lines, fmt.Sprintf("…and %d more", len(escalations)-maxListed))
			break
		}
		lines = append(lines, formatEscalation(e))
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, false, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, summary+"\n"+healthLine, false, false), nil, nil),
	}
	text := title + "\n" + summary + "\n" + healthLine
	if len(lines) > 0 {
		list := strings.Join(lines, "\n")
		blocks = append(blocks, slack.NewDividerBlock(),
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, list, false, false), nil, nil))
		text += "\n" + list
	}
	if len(mentions) > 0 {
		cc := "cc " + mentionList(mentions)
		blocks = append(blocks, slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, cc, false, false)))
		text += "\n" + cc
	}
	return Message{Text: text, Blocks: blocks, Alert: alert}
}

func sortedEscalations(in []gate.Escalation) []gate.Escalation {
	out := append([]gate.Escalation(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Gate != out[j].Gate {
			return out[i].Gate > out[j].Gate
		}
		return out[i].Criticality > out[j].Criticality
	})
	return out
}

func formatEscalation(e gate.Escalation) string {
	name := e.CustomerName
	if name == "" {
		name = "unknown customer"
	}
	label := "gate 1 (frustration)"
	if e.Gate == 2 {
		label = "gate 2 (criticality)"
	}
	return fmt.Sprintf("• *%s* %s (%s) %s, criticality %.0f, peak %.0f", e.Key, name, e.Severity, label, e.Criticality, e.Peak)
}
