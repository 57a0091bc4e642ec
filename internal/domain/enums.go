package domain

import "strings"

// Categorical values arrive as free text from uploads and oracle output.
// Every parser returns either a known value or the Unparsed variant of its
// type; raw text never becomes a trusted category.

type CaseStatus string

const (
	StatusOpen   CaseStatus = "Open"
	StatusClosed CaseStatus = "Closed"
)

type Severity string

const (
	SeverityS1       Severity = "S1"
	SeverityS2       Severity = "S2"
	SeverityS3       Severity = "S3"
	SeverityS4       Severity = "S4"
	SeverityUnparsed Severity = "Unparsed"
)

type SupportTier string

const (
	TierGold     SupportTier = "Gold"
	TierSilver   SupportTier = "Silver"
	TierBronze   SupportTier = "Bronze"
	TierUnparsed SupportTier = "Unparsed"
)

type IssueClass string

const (
	IssueSystemic      IssueClass = "Systemic"
	IssueEnvironmental IssueClass = "Environmental"
	IssueComponent     IssueClass = "Component"
	IssueProcedural    IssueClass = "Procedural"
	IssueUnparsed      IssueClass = "Unparsed"
)

type ResolutionOutlook string

const (
	OutlookChallenging     ResolutionOutlook = "Challenging"
	OutlookManageable      ResolutionOutlook = "Manageable"
	OutlookStraightforward ResolutionOutlook = "Straightforward"
	OutlookUnparsed        ResolutionOutlook = "Unparsed"
)

type Priority string

const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
	PriorityMedium   Priority = "Medium"
	PriorityLow      Priority = "Low"
	PriorityUnparsed Priority = "Unparsed"
)

// leadingWord returns the first alphanumeric run of s, stripped of the
// brackets, quotes and markdown emphasis oracle output tends to carry.
func leadingWord(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "[]()*\"'` ")
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			end++
			continue
		}
		break
	}
	return s[:end]
}

func ParseSeverity(raw string) Severity {
	word := strings.ToUpper(leadingWord(raw))
	switch word {
	case "S1", "1":
		return SeverityS1
	case "S2", "2":
		return SeverityS2
	case "S3", "3":
		return SeverityS3
	case "S4", "4":
		return SeverityS4
	}
	return SeverityUnparsed
}

func ParseSupportTier(raw string) SupportTier {
	switch strings.ToLower(leadingWord(raw)) {
	case "gold":
		return TierGold
	case "silver":
		return TierSilver
	case "bronze":
		return TierBronze
	}
	return TierUnparsed
}

func ParseIssueClass(raw string) IssueClass {
	switch strings.ToLower(leadingWord(raw)) {
	case "systemic":
		return IssueSystemic
	case "environmental":
		return IssueEnvironmental
	case "component":
		return IssueComponent
	case "procedural":
		return IssueProcedural
	}
	return IssueUnparsed
}

func ParseResolutionOutlook(raw string) ResolutionOutlook {
	switch strings.ToLower(leadingWord(raw)) {
	case "challenging":
		return OutlookChallenging
	case "manageable":
		return OutlookManageable
	case "straightforward":
		return OutlookStraightforward
	}
	return OutlookUnparsed
}

func ParsePriority(raw string) Priority {
	switch strings.ToLower(leadingWord(raw)) {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "medium":
		return PriorityMedium
	case "low":
		return PriorityLow
	}
	return PriorityUnparsed
}
