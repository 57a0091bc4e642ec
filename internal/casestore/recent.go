package casestore

import (
	"math"
	"sort"
	"time"

	"casewatch/internal/domain"
)

const (
	DefaultRecentWindow = 14 * 24 * time.Hour
	TrendThreshold      = 1.5
)

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

type RecentMetrics struct {
	Key                   string  `json:"key"`
	CustomerName          string  `json:"customer_name"`
	RecentFrustration     float64 `json:"recent_frustration"`
	HistoricalFrustration float64 `json:"historical_frustration"`
	Trend                 Trend   `json:"trend"`
	HasRecentActivity     bool    `json:"has_recent_activity"`
	DaysSinceLastMessage  *int    `json:"days_since_last_message,omitempty"`
	RecentMessages        int     `json:"recent_messages"`
	TotalMessages         int     `json:"total_messages"`
}

// ComputeRecentMetrics compares customer frustration inside the window with
// the scores before it. Higher recent frustration means a declining
// relationship.
func ComputeRecentMetrics(rec *domain.CaseRecord, window time.Duration, now time.Time) RecentMetrics {
	m := RecentMetrics{
		Key:           rec.Key,
		CustomerName:  rec.Meta.CustomerName,
		Trend:         TrendStable,
		TotalMessages: len(rec.Messages),
	}
	cutoff := now.Add(-window)

	var recent, historical []float64
	for _, msg := range rec.Messages {
		if !msg.Dated() {
			continue
		}
		isRecent := !msg.Date.Before(cutoff)
		if isRecent {
			m.RecentMessages++
		}
		if !msg.IsCustomer || msg.FrustrationScore == nil {
			continue
		}
		if isRecent {
			recent = append(recent, *msg.FrustrationScore)
		} else {
			historical = append(historical, *msg.FrustrationScore)
		}
	}
	if latest := rec.LatestMessageDate(); latest != nil {
		days := int(now.Sub(*latest) / (24 * time.Hour))
		if days < 0 {
			days = 0
		}
		m.DaysSinceLastMessage = &days
	}
	m.HasRecentActivity = m.RecentMessages > 0

	m.RecentFrustration = mean(recent)
	if len(historical) > 0 {
		m.HistoricalFrustration = mean(historical)
	} else {
		m.HistoricalFrustration = m.RecentFrustration
	}
	if len(recent) > 0 {
		switch {
		case m.RecentFrustration > m.HistoricalFrustration+TrendThreshold:
			m.Trend = TrendDeclining
		case m.RecentFrustration < m.HistoricalFrustration-TrendThreshold:
			m.Trend = TrendImproving
		}
	}
	m.RecentFrustration = round1(m.RecentFrustration)
	m.HistoricalFrustration = round1(m.HistoricalFrustration)
	return m
}

func (s *Store) RecentMetrics(key string, window time.Duration) (RecentMetrics, error) {
	rec, err := s.mustGet(key)
	if err != nil {
		return RecentMetrics{}, err
	}
	return ComputeRecentMetrics(rec, window, s.now()), nil
}

// CasesNeedingAttention returns open cases with recent activity whose recent
// frustration reaches minRecent, or whose trend is declining when
// includeDeclining is set. Highest recent frustration first.
func (s *Store) CasesNeedingAttention(window time.Duration, minRecent float64, includeDeclining bool) []RecentMetrics {
	now := s.now()
	var out []RecentMetrics
	for _, rec := range s.All(false) {
		m := ComputeRecentMetrics(rec, window, now)
		if !m.HasRecentActivity {
			continue
		}
		if m.RecentFrustration >= minRecent || (includeDeclining && m.Trend == TrendDeclining) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecentFrustration > out[j].RecentFrustration })
	return out
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
