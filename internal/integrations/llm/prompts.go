package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"casewatch/internal/domain"
)

const (
	maxMessageChars        = 2000
	quickScoreHistoryChars = 12000
	quickScoreHalfChars    = 6000
	highPeakThreshold      = 7.0
	timelineHistoryChars   = 300000
	summaryTimelineChars   = 25000
	promptDateLayout       = "Jan 02, 2006"
)

const scoringSystemPrompt = "You are analyzing customer support messages for frustration patterns. Evaluate EACH message independently for emotional signals, then identify overall patterns. Be precise and objective in scoring individual messages."

const quickScoreSystemPrompt = "You are analyzing customer support cases for prioritization. Focus on identifying patterns and risk levels efficiently. Maintain objective, factual language."

const timelineSystemPrompt = "You are an enterprise customer experience analyst providing objective assessments of support interactions. Your role is to identify patterns, assess relationship health, and provide actionable insights. Maintain a professional, analytical tone suitable for executive review."

const summarySystemPrompt = "You are an enterprise customer experience analyst providing executive insights. Identify patterns, assess relationship health, and provide actionable recommendations."

const frustrationSignals = `CRITICAL FRUSTRATION SIGNALS TO DETECT:
Watch for these HIGH PRIORITY signals that indicate significant frustration (score 7+):
- Executive mentions: "execs", "management", "leadership", "CEO", "CTO", "board"
- Replacement threats: "replace", "switch", "consider other options", "looking at alternatives"
- Impatience: "impatient", "frustrated", "unacceptable", "too long", "how much longer"
- Trust erosion: "losing confidence", "concerned about", "questioning", "disappointed"
- Business impact: "production", "downtime", "affecting operations", "costing us"
- Escalation: "escalate", "manager", "supervisor", "higher up"
- Ultimatums: "last chance", "final attempt", "if this doesn't work"`

func formatPromptDate(t time.Time) string {
	if t.IsZero() {
		return "Unknown"
	}
	return t.Format(promptDateLayout)
}

func truncateChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func orUnknown[T ~string](v T) string {
	if v == "" {
		return "Unknown"
	}
	return string(v)
}

func writeCaseHeader(b *strings.Builder, c CaseContext) {
	fmt.Fprintf(b, "Customer: %s\n", orUnknown(c.CustomerName))
	fmt.Fprintf(b, "Support Level: %s tier\n", orUnknown(c.SupportTier))
	fmt.Fprintf(b, "Case Duration: %d days\n", c.AgeDays)
	fmt.Fprintf(b, "Total Messages: %d\n", c.InteractionCount)
	fmt.Fprintf(b, "Severity: %s\n", orUnknown(c.Severity))
}

func writeGuidance(b *strings.Builder, guidance string) {
	guidance = strings.TrimSpace(guidance)
	if guidance == "" {
		return
	}
	b.WriteString("\nPRODUCT CONTEXT:\n")
	b.WriteString(guidance)
	b.WriteString("\n")
}

type scoringMessage struct {
	Index int    `json:"index"`
	Date  string `json:"date"`
	From  string `json:"from"`
	Text  string `json:"text"`
}

func buildScoringPrompt(c CaseContext, msgs []IndexedMessage, guidance string) (string, string) {
	payload := make([]scoringMessage, 0, len(msgs))
	for _, m := range msgs {
		payload = append(payload, scoringMessage{
			Index: m.Index,
			Date:  formatPromptDate(m.Date),
			From:  ownership(m.IsCustomer),
			Text:  truncateChars(strings.TrimSpace(m.Text), maxMessageChars),
		})
	}
	msgJSON, _ := json.MarshalIndent(payload, "", "  ")

	var b strings.Builder
	b.WriteString("Analyze EACH message in this support case individually for frustration level.\n\n")
	b.WriteString("CASE CONTEXT:\n")
	writeCaseHeader(&b, c)
	writeGuidance(&b, guidance)
	b.WriteString("\nMESSAGES TO ANALYZE:\n")
	b.Write(msgJSON)
	b.WriteString("\n\n")
	b.WriteString(frustrationSignals)
	b.WriteString(`

SCORING GUIDE (0-10):
- 0: Neutral/positive, thankful, satisfied
- 1-2: Minor concern, patient inquiry, polite follow-up
- 3-4: Some impatience, mild disappointment, timeline concerns
- 5-6: Clear disappointment, repeated issues, patience wearing thin
- 7-8: Frustration visible, executive involvement, questioning value, escalation threats
- 9-10: Extreme anger, trust broken, threats to leave, legal/contract mentions

Respond with a JSON array holding one object for EACH message, using the message index:
[
  {"msg": 1, "score": X, "reason": "brief reason"},
  {"msg": 2, "score": Y, "reason": "brief reason"}
]

Then provide overall assessment:
ISSUE_CLASS: [Systemic | Environmental | Component | Procedural]
- Systemic: Overall system not meeting performance/reliability expectations
- Environmental: Issues with how system fits in their environment (integration, compatibility)
- Component: Specific hardware/software component problem
- Procedural: Configuration issue, user error, or knowledge gap

RESOLUTION_OUTLOOK: [Challenging | Manageable | Straightforward]
KEY_PHRASE: [Most concerning customer statement, or "none"]`)
	return scoringSystemPrompt, b.String()
}

// plainHistory renders messages chronologically for the quick score call.
func plainHistory(msgs []domain.IncomingMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s %s\n\n", formatPromptDate(m.Date), ownership(m.IsCustomer), truncateChars(text, maxMessageChars))
	}
	return b.String()
}

// truncateHistory keeps the first quickScoreHistoryChars characters. For
// high-peak cases it keeps the head and the tail instead so the most recent
// escalation is not cut off.
func truncateHistory(history string, peak float64) string {
	if len(history) <= quickScoreHistoryChars {
		return history
	}
	if peak >= highPeakThreshold {
		return history[:quickScoreHalfChars] + "\n\n[...middle messages omitted...]\n\n" + history[len(history)-quickScoreHalfChars:]
	}
	return history[:quickScoreHistoryChars]
}

func buildQuickScorePrompt(req QuickScoreRequest, guidance string) (string, string) {
	history := truncateHistory(plainHistory(req.History), req.Peak)

	var b strings.Builder
	b.WriteString("Assess this customer support case for prioritization scoring.\n\n")
	b.WriteString("CASE OVERVIEW:\n")
	writeCaseHeader(&b, req.Case)
	fmt.Fprintf(&b, "Initial Frustration Score: %.0f/10\n", req.Headline)
	fmt.Fprintf(&b, "Peak Frustration Detected: %.0f/10\n", req.Peak)
	fmt.Fprintf(&b, "\nKEY PHRASE DETECTED BY INITIAL ANALYSIS:\n%q\n", req.KeyPhrase)
	writeGuidance(&b, guidance)
	b.WriteString(`
CRITICAL SIGNALS TO WATCH FOR:
- Executive involvement: "execs", "management", "CEO", "CTO", "board"
- Replacement threats: "replace", "switch", "consider alternatives"
- Trust erosion: "losing confidence", "disappointed", "concerned"
- Business impact: "production", "downtime", "costing us"

MESSAGE HISTORY (chronological):
`)
	b.WriteString(history)
	b.WriteString(`
SCORING ASSESSMENT:
Based on patterns in the messages AND the key phrase detected, provide:

FRUSTRATION_FREQUENCY: [What % of messages show customer frustration? 0-100]
RELATIONSHIP_DAMAGE_FREQUENCY: [What % of interactions damaged confidence? 0-100]
CUSTOMER_PRIORITY: [Critical/High/Medium/Low based on relationship risk]
JUSTIFICATION: [2-3 sentences explaining priority level]

IMPORTANT: If the key phrase mentions executives, replacement, or impatience, score FRUSTRATION_FREQUENCY at 20+ and mark as High/Critical priority.`)
	return quickScoreSystemPrompt, b.String()
}

func ownership(isCustomer bool) string {
	if isCustomer {
		return "[CUSTOMER]"
	}
	return "[SUPPORT]"
}

// taggedHistory renders messages with ownership tags and the delay since the
// previous message, attributed to whoever owed the reply.
func taggedHistory(msgs []domain.IncomingMessage) string {
	var b strings.Builder
	var prev *domain.IncomingMessage
	for i := range msgs {
		m := msgs[i]
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		delay := ""
		if prev != nil && !prev.Date.IsZero() && !m.Date.IsZero() {
			days := int(m.Date.Sub(prev.Date).Hours() / 24)
			if days > 0 {
				switch {
				case m.IsCustomer && !prev.IsCustomer:
					delay = fmt.Sprintf(" (%dd delay - CUSTOMER not responding)", days)
				case !m.IsCustomer && prev.IsCustomer:
					delay = fmt.Sprintf(" (%dd delay - SUPPORT responsible)", days)
				}
			}
		}
		fmt.Fprintf(&b, "%s [%s]%s\n%s\n\n", ownership(m.IsCustomer), formatPromptDate(m.Date), delay, truncateChars(text, maxMessageChars))
		prev = &msgs[i]
	}
	out := b.String()
	if len(out) > timelineHistoryChars {
		out = out[:timelineHistoryChars] + "\n\n[...additional messages truncated...]"
	}
	return out
}

const timelineEntryFormat = `For each timeline entry, use this format:

TIMELINE_ENTRY: [Messages X-Y - Date: MMM DD-DD, YYYY] OR [Message X - Date: MMM DD, YYYY]
SUMMARY: [Detailed factual description - include specific technical details and customer quotes]
CUSTOMER_TONE: [Observed tone]
FRUSTRATION_DETECTED: [Yes/No]
FRUSTRATION_DETAIL: [If yes: Include the EXACT customer quote in quotation marks]
POSITIVE_ACTION_DETECTED: [Yes/No]
POSITIVE_ACTION_DETAIL: [If yes: Include specific quote or action]
SUPPORT_QUALITY: [Assessment with specifics]
RELATIONSHIP_IMPACT: [Effect on customer confidence]
FAILURE_PATTERN_DETECTED: [Yes/No]
FAILURE_PATTERN_DETAIL: [If yes: Show the CHAIN/SEQUENCE of failures]
ANALYSIS: [For critical moments only - key insight about this interaction]

Base all statements strictly on what appears in the messages. Direct quotes must be verbatim.`

func buildTimelinePrompt(req TimelineRequest, guidance string) (string, string) {
	var b strings.Builder
	if req.Append {
		b.WriteString("Continue the existing relationship timeline for this customer support case with the NEW messages below.\n\n")
	} else {
		b.WriteString("Analyze this customer support case to assess relationship health and identify areas requiring attention.\n\n")
	}
	b.WriteString("CASE OVERVIEW:\n")
	writeCaseHeader(&b, req.Case)
	fmt.Fprintf(&b, "Case Status: %s\n", orUnknown(req.Case.Status))
	fmt.Fprintf(&b, "Initial Assessment: %.0f/10 frustration score\n", req.Headline)
	writeGuidance(&b, guidance)
	b.WriteString(`
RESPONSE OWNERSHIP CONTEXT (CRITICAL):
Each message below is marked with [CUSTOMER] or [SUPPORT] and includes delay attribution.
- "(Xd delay - SUPPORT responsible)" = customer sent the last message and support took X days to respond.
- "(Xd delay - CUSTOMER not responding)" = support sent the last message and the customer took X days to respond. Do NOT penalize support for customer non-responsiveness.
`)
	if req.Append && len(req.Prior) > 0 {
		b.WriteString("\nEXISTING TIMELINE (most recent entries, do not repeat them):\n")
		start := max(len(req.Prior)-3, 0)
		for _, e := range req.Prior[start:] {
			fmt.Fprintf(&b, "- %s: %s\n", e.Label, e.Summary)
		}
		b.WriteString("\nNEW MESSAGES (chronological with ownership):\n")
	} else {
		b.WriteString("\nCOMPLETE MESSAGE HISTORY (chronological with ownership):\n")
	}
	b.WriteString(taggedHistory(req.Messages))
	b.WriteString(`
ANALYSIS REQUIREMENTS:
Create a chronological timeline covering ALL messages listed above. Group routine messages in small batches (2-8 messages per group) and use single-message entries for critical moments: escalations, outages, frustration spikes, executive mentions, failures, resolutions.

`)
	b.WriteString(timelineEntryFormat)
	return timelineSystemPrompt, b.String()
}

func buildSummaryPrompt(c CaseContext, entries []domain.TimelineEntry) (string, string) {
	var tl strings.Builder
	for i, e := range entries {
		if i > 0 {
			tl.WriteString("\n\n")
		}
		fmt.Fprintf(&tl, "TIMELINE_ENTRY: %s\nSummary: %s\nCustomer Tone: %s\nFrustration: %s - %s\nFailure Pattern: %s - %s",
			e.Label, e.Summary, e.CustomerTone,
			yesNo(e.FrustrationDetected), e.FrustrationDetail,
			yesNo(e.FailurePatternDetected), e.FailurePatternDetail)
	}
	timeline := tl.String()
	if len(timeline) > summaryTimelineChars {
		timeline = timeline[:summaryTimelineChars] + "\n\n[...truncated...]"
	}

	var b strings.Builder
	b.WriteString("Based on the chronological timeline analysis of this support case, provide an executive summary.\n\n")
	b.WriteString("CASE CONTEXT:\n")
	writeCaseHeader(&b, c)
	fmt.Fprintf(&b, "Case Status: %s\n", orUnknown(c.Status))
	b.WriteString("\nTIMELINE ANALYSIS:\n")
	b.WriteString(timeline)
	b.WriteString(`

Provide executive summary using the exact format below:

EXECUTIVE_SUMMARY: [2-3 sentence synthesis for an executive with no context: What happened, current relationship state, and what needs to happen next.]
PAIN_POINTS: [Key customer concerns based on communication patterns - 2-3 sentences]
SENTIMENT_TREND: [Evolution of customer sentiment throughout interaction - 1-2 sentences]
CRITICAL_INFLECTION_POINTS: [2-3 specific moments where relationship trajectory changed]
CUSTOMER_PRIORITY: [Urgency level based on analysis: Critical/High/Medium/Low]
RECOMMENDED_ACTION: [Specific next action to advance or resolve the case - 1-2 sentences]`)
	return summarySystemPrompt, b.String()
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
