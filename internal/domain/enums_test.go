package domain

import (
	"testing"
	"time"
)

func TestParseIssueClass(t *testing.T) {
	tests := []struct {
		in   string
		want IssueClass
	}{
		{"Systemic", IssueSystemic},
		{"  systemic - overall system not meeting expectations", IssueSystemic},
		{"[Environmental]", IssueEnvironmental},
		{"**Component**", IssueComponent},
		{"Procedural", IssueProcedural},
		{"", IssueUnparsed},
		{"Unknown", IssueUnparsed},
		{"Mostly systemic", IssueUnparsed},
	}
	for _, tt := range tests {
		if got := ParseIssueClass(tt.in); got != tt.want {
			t.Errorf("ParseIssueClass(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseSeverityAndTier(t *testing.T) {
	if got := ParseSeverity("S1 - Critical"); got != SeverityS1 {
		t.Fatalf("ParseSeverity = %q, want S1", got)
	}
	if got := ParseSeverity("3"); got != SeverityS3 {
		t.Fatalf("ParseSeverity(3) = %q, want S3", got)
	}
	if got := ParseSeverity("S9"); got != SeverityUnparsed {
		t.Fatalf("ParseSeverity(S9) = %q, want Unparsed", got)
	}
	if got := ParseSupportTier("gold"); got != TierGold {
		t.Fatalf("ParseSupportTier = %q, want Gold", got)
	}
	if got := ParseSupportTier("Platinum"); got != TierUnparsed {
		t.Fatalf("ParseSupportTier(Platinum) = %q, want Unparsed", got)
	}
}

func TestParsePriorityAndOutlook(t *testing.T) {
	if got := ParsePriority("High - executive involvement"); got != PriorityHigh {
		t.Fatalf("ParsePriority = %q, want High", got)
	}
	if got := ParsePriority("urgent"); got != PriorityUnparsed {
		t.Fatalf("ParsePriority(urgent) = %q, want Unparsed", got)
	}
	if got := ParseResolutionOutlook("Challenging"); got != OutlookChallenging {
		t.Fatalf("ParseResolutionOutlook = %q, want Challenging", got)
	}
}

func TestRecomputeFrustrationUsesCustomerMessagesOnly(t *testing.T) {
	score := func(v float64) *float64 { return &v }
	rec := &CaseRecord{Messages: []MessageEntry{
		{Date: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), FrustrationScore: score(2), IsCustomer: true},
		{Date: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), FrustrationScore: score(9), IsCustomer: false},
		{Date: time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC), FrustrationScore: score(6), IsCustomer: true},
		{Date: time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC), IsCustomer: true},
	}}
	rec.RecomputeFrustration()
	if rec.RunningFrustration.Avg != 4 || rec.RunningFrustration.Peak != 6 || rec.RunningFrustration.ScoredCount != 2 {
		t.Fatalf("unexpected running frustration: %+v", rec.RunningFrustration)
	}
	latest := rec.LatestMessageDate()
	if latest == nil || latest.Day() != 4 {
		t.Fatalf("LatestMessageDate = %v, want Jan 4", latest)
	}
}

func TestStageProgression(t *testing.T) {
	rec := &CaseRecord{}
	if rec.Stage() != StageCold {
		t.Fatalf("expected cold, got %s", rec.Stage())
	}
	rec.Gate1.Passed = true
	if rec.Stage() != StageGate1Open {
		t.Fatalf("expected gate1_open, got %s", rec.Stage())
	}
	rec.Gate2.Passed = true
	if rec.Stage() != StageGate2Open {
		t.Fatalf("expected gate2_open, got %s", rec.Stage())
	}
	rec.Timeline = &Timeline{}
	if rec.Stage() != StageTimelineActive {
		t.Fatalf("expected timeline_active, got %s", rec.Stage())
	}
}
