package llm

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"casewatch/internal/domain"
)

func stripCodeFences(responseText string) string {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	return strings.TrimSpace(responseText)
}

// cleanLine removes the markdown emphasis and heading markers models like
// to wrap around field labels.
func cleanLine(line string) string {
	line = strings.TrimSpace(line)
	for _, tok := range []string{"**", "###", "##", "---"} {
		line = strings.ReplaceAll(line, tok, "")
	}
	line = strings.TrimLeft(line, "#>-* ")
	return strings.TrimSpace(line)
}

// splitField splits "FIELD_NAME: value" into a normalized upper-case key
// with spaces instead of underscores, and the trimmed value.
func splitField(line string) (key, value string, ok bool) {
	before, after, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	key = strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(before, "_", " ")))
	if key == "" || len(key) > 40 {
		return "", "", false
	}
	return key, strings.TrimSpace(after), true
}

// firstJSONArray returns the first balanced [...] span in s that gjson
// accepts as an array of objects.
func firstJSONArray(s string) (string, bool) {
	for start := strings.IndexByte(s, '['); start >= 0; {
		if end, ok := matchBracket(s, start); ok {
			candidate := s[start : end+1]
			if gjson.Valid(candidate) {
				arr := gjson.Parse(candidate)
				if arr.IsArray() {
					first := arr.Get("0")
					if !first.Exists() || first.IsObject() {
						return candidate, true
					}
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '[')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBracket(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return i, c == ']'
			}
		}
	}
	return 0, false
}

func clampScore(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// parseMessageScoring reads the per-message score array and the case-level
// fields. Scores for indexes not in msgs are dropped. With no usable scores
// the result is unsuccessful and the error wraps ErrMalformedOutput.
func parseMessageScoring(responseText string, msgs []IndexedMessage) (MessageScoring, error) {
	out := MessageScoring{
		IssueClass:        domain.IssueUnparsed,
		ResolutionOutlook: domain.OutlookUnparsed,
	}
	known := make(map[int]bool, len(msgs))
	for _, m := range msgs {
		known[m.Index] = true
	}

	arr, ok := firstJSONArray(responseText)
	if !ok {
		return out, fmt.Errorf("%w: no score array in response", ErrMalformedOutput)
	}
	seen := make(map[int]bool)
	gjson.Parse(arr).ForEach(func(_, item gjson.Result) bool {
		idx := item.Get("msg")
		if !idx.Exists() {
			idx = item.Get("index")
		}
		score := item.Get("score")
		if !idx.Exists() || !score.Exists() {
			return true
		}
		n := int(idx.Int())
		if !known[n] || seen[n] {
			return true
		}
		seen[n] = true
		out.Scores = append(out.Scores, MessageScore{
			MessageIndex: n,
			Score:        clampScore(score.Float(), 0, 10),
			Reason:       strings.TrimSpace(item.Get("reason").String()),
		})
		return true
	})
	if len(out.Scores) == 0 && len(msgs) > 0 {
		return out, fmt.Errorf("%w: score array matched no messages", ErrMalformedOutput)
	}

	for _, raw := range strings.Split(responseText, "\n") {
		key, value, ok := splitField(cleanLine(raw))
		if !ok {
			continue
		}
		switch key {
		case "ISSUE CLASS":
			out.IssueClass = domain.ParseIssueClass(value)
		case "RESOLUTION OUTLOOK":
			out.ResolutionOutlook = domain.ParseResolutionOutlook(value)
		case "KEY PHRASE":
			phrase := strings.Trim(strings.TrimSpace(value), `"'`)
			if !strings.EqualFold(phrase, "none") {
				out.KeyPhrase = phrase
			}
		}
	}
	out.Successful = true
	return out, nil
}

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

func firstNumber(s string) (float64, bool) {
	m := numberPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	return v, err == nil
}

// parseQuickScore reads the four quick-score fields. Percentages are clamped
// to [0, 100]. A response with neither frequency field is malformed.
func parseQuickScore(responseText string) (domain.QuickScoreResult, error) {
	out := domain.QuickScoreResult{Priority: domain.PriorityUnparsed}
	found := 0
	var justification []string
	inJustification := false
	for _, raw := range strings.Split(responseText, "\n") {
		line := cleanLine(raw)
		if line == "" {
			continue
		}
		key, value, ok := splitField(line)
		if !ok {
			if inJustification {
				justification = append(justification, line)
			}
			continue
		}
		inJustification = false
		switch key {
		case "FRUSTRATION FREQUENCY":
			if v, ok := firstNumber(value); ok {
				out.FrustrationFrequency = clampScore(v, 0, 100)
				found++
			}
		case "RELATIONSHIP DAMAGE FREQUENCY", "DAMAGE FREQUENCY":
			if v, ok := firstNumber(value); ok {
				out.DamageFrequency = clampScore(v, 0, 100)
				found++
			}
		case "CUSTOMER PRIORITY", "PRIORITY":
			out.Priority = domain.ParsePriority(value)
		case "JUSTIFICATION":
			justification = []string{value}
			inJustification = true
		default:
			if inJustification {
				justification = append(justification, line)
			}
		}
	}
	if found == 0 {
		return out, fmt.Errorf("%w: no quick score fields in response", ErrMalformedOutput)
	}
	out.Justification = strings.TrimSpace(strings.Join(justification, " "))
	out.Successful = true
	return out, nil
}

type timelineField int

const (
	fieldNone timelineField = iota
	fieldSummary
	fieldTone
	fieldFrustrationDetected
	fieldFrustrationDetail
	fieldPositiveDetected
	fieldPositiveDetail
	fieldSupportQuality
	fieldRelationshipImpact
	fieldFailureDetected
	fieldFailureDetail
	fieldAnalysis
)

var timelineFields = map[string]timelineField{
	"SUMMARY":                  fieldSummary,
	"CUSTOMER TONE":            fieldTone,
	"FRUSTRATION DETECTED":     fieldFrustrationDetected,
	"FRUSTRATION DETAIL":       fieldFrustrationDetail,
	"POSITIVE ACTION DETECTED": fieldPositiveDetected,
	"POSITIVE ACTION DETAIL":   fieldPositiveDetail,
	"SUPPORT QUALITY":          fieldSupportQuality,
	"RELATIONSHIP IMPACT":      fieldRelationshipImpact,
	"FAILURE PATTERN DETECTED": fieldFailureDetected,
	"FAILURE PATTERN DETAIL":   fieldFailureDetail,
	"ANALYSIS":                 fieldAnalysis,
}

type entryBuilder struct {
	label  string
	fields map[timelineField]string
}

func (b *entryBuilder) append(f timelineField, text string) {
	if text == "" {
		return
	}
	if existing := b.fields[f]; existing != "" {
		b.fields[f] = existing + " " + text
		return
	}
	b.fields[f] = text
}

func (b *entryBuilder) build() domain.TimelineEntry {
	return domain.TimelineEntry{
		Label:                  b.label,
		Summary:                b.fields[fieldSummary],
		CustomerTone:           b.fields[fieldTone],
		FrustrationDetected:    isYes(b.fields[fieldFrustrationDetected]),
		FrustrationDetail:      b.fields[fieldFrustrationDetail],
		PositiveActionDetected: isYes(b.fields[fieldPositiveDetected]),
		PositiveActionDetail:   b.fields[fieldPositiveDetail],
		SupportQuality:         b.fields[fieldSupportQuality],
		RelationshipImpact:     b.fields[fieldRelationshipImpact],
		FailurePatternDetected: isYes(b.fields[fieldFailureDetected]),
		FailurePatternDetail:   b.fields[fieldFailureDetail],
		Analysis:               b.fields[fieldAnalysis],
	}
}

func isYes(s string) bool {
	s = strings.ToLower(strings.Trim(strings.TrimSpace(s), "[]()*\"'"))
	return strings.HasPrefix(s, "yes")
}

// parseTimelineEntries reads TIMELINE_ENTRY blocks. Field values may span
// several lines; continuation lines are joined with a space.
func parseTimelineEntries(responseText string) ([]domain.TimelineEntry, error) {
	var entries []domain.TimelineEntry
	var current *entryBuilder
	field := fieldNone

	flush := func() {
		if current != nil && current.label != "" {
			entries = append(entries, current.build())
		}
	}

	for _, raw := range strings.Split(responseText, "\n") {
		line := cleanLine(raw)
		if line == "" {
			continue
		}
		key, value, hasField := splitField(line)
		if strings.Contains(strings.ToUpper(strings.ReplaceAll(line, "_", " ")), "TIMELINE ENTRY") && (!hasField || key == "TIMELINE ENTRY") {
			flush()
			label := strings.TrimSpace(strings.Trim(value, "[] "))
			if label == "" {
				label = "Unknown"
			}
			current = &entryBuilder{label: label, fields: make(map[timelineField]string)}
			field = fieldNone
			continue
		}
		if current == nil {
			continue
		}
		if hasField {
			if f, ok := timelineFields[key]; ok {
				field = f
				current.fields[f] = ""
				current.append(f, value)
				continue
			}
		}
		if field != fieldNone {
			current.append(field, line)
		}
	}
	flush()

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no timeline entries in response", ErrMalformedOutput)
	}
	return entries, nil
}

// parseExecutiveSummary reads the executive summary fields. The priority
// field is single-line; the others accumulate continuation lines.
func parseExecutiveSummary(responseText string) (*domain.ExecutiveSummary, error) {
	s := &domain.ExecutiveSummary{CustomerPriority: domain.PriorityUnparsed}
	fields := map[string]*string{
		"EXECUTIVE SUMMARY":          &s.ExecutiveSummary,
		"PAIN POINTS":                &s.PainPoints,
		"SENTIMENT TREND":            &s.SentimentTrend,
		"CRITICAL INFLECTION POINTS": &s.CriticalInflectionPoints,
		"RECOMMENDED ACTION":         &s.RecommendedAction,
	}
	var current *string
	found := 0
	for _, raw := range strings.Split(responseText, "\n") {
		line := cleanLine(raw)
		if line == "" {
			continue
		}
		if key, value, ok := splitField(line); ok {
			if key == "CUSTOMER PRIORITY" {
				s.CustomerPriority = domain.ParsePriority(value)
				current = nil
				found++
				continue
			}
			if dst, ok := fields[key]; ok {
				*dst = value
				current = dst
				found++
				continue
			}
		}
		if current != nil {
			if *current == "" {
				*current = line
			} else {
				*current += " " + line
			}
		}
	}
	if found == 0 {
		return nil, fmt.Errorf("%w: no executive summary fields in response", ErrMalformedOutput)
	}
	return s, nil
}
