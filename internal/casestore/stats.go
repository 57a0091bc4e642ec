package casestore

import (
	"time"

	"casewatch/internal/domain"
)

type Stats struct {
	Total            int                  `json:"total"`
	Open             int                  `json:"open"`
	Closed           int                  `json:"closed"`
	Messages         int                  `json:"messages"`
	ScoredMessages   int                  `json:"scored_messages"`
	Stages           map[domain.Stage]int `json:"stages"`
	QuickScored      int                  `json:"quick_scored"`
	Timelines        int                  `json:"timelines"`
	TimelineEntries  int                  `json:"timeline_entries"`
	LastOpenUpload   *time.Time           `json:"last_open_upload,omitempty"`
	LastClosedUpload *time.Time           `json:"last_closed_upload,omitempty"`
}

func (s *Store) Stats() Stats {
	md := s.Metadata()
	st := Stats{
		Total:            md.TotalCases,
		Open:             md.OpenCases,
		Closed:           md.ClosedCases,
		Stages:           map[domain.Stage]int{},
		LastOpenUpload:   md.LastOpenUpload,
		LastClosedUpload: md.LastClosedUpload,
	}
	for _, rec := range s.cache.Cases {
		st.Messages += len(rec.Messages)
		st.ScoredMessages += len(rec.CustomerScores())
		if rec.IsOpen() {
			st.Stages[rec.Stage()]++
		}
		if rec.QuickScore != nil {
			st.QuickScored++
		}
		if rec.Timeline != nil {
			st.Timelines++
			st.TimelineEntries += len(rec.Timeline.Entries)
		}
	}
	return st
}

// Diagnostics lists records that look inconsistent or incomplete.
type Diagnostics struct {
	LastLoad          LoadReport `json:"last_load"`
	NonCanonicalKeys  []string   `json:"non_canonical_keys,omitempty"`
	WithoutMessages   []string   `json:"without_messages,omitempty"`
	WithoutAnalysis   []string   `json:"without_analysis,omitempty"`
	UndatedActivity   []string   `json:"undated_activity,omitempty"`
	Gate2WithoutGate1 []string   `json:"gate2_without_gate1,omitempty"`
}

func (s *Store) Diagnostics() Diagnostics {
	d := Diagnostics{LastLoad: s.lastLoad}
	for _, rec := range s.All(true) {
		if NormalizeKey(rec.Key) != rec.Key {
			d.NonCanonicalKeys = append(d.NonCanonicalKeys, rec.Key)
		}
		if len(rec.Messages) == 0 {
			d.WithoutMessages = append(d.WithoutMessages, rec.Key)
		}
		if rec.Analysis == nil {
			d.WithoutAnalysis = append(d.WithoutAnalysis, rec.Key)
		}
		if rec.LastActivity() == nil {
			d.UndatedActivity = append(d.UndatedActivity, rec.Key)
		}
		if rec.Gate2.Passed && !rec.Gate1.Passed {
			d.Gate2WithoutGate1 = append(d.Gate2WithoutGate1, rec.Key)
		}
	}
	return d
}
