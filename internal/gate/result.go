package gate

import (
	"fmt"
	"time"

	"casewatch/internal/domain"
	"casewatch/internal/health"
)

type StageStats struct {
	// Candidates are cases eligible for the stage this run.
	Candidates int `json:"candidates"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	// Malformed and RateLimited are subsets of Failed.
	Malformed   int `json:"malformed"`
	RateLimited int `json:"rate_limited"`
	// Deferred are eligible cases left for a later run: over the cap, or
	// not present in this upload.
	Deferred  int `json:"deferred"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
}

func (s StageStats) Processed() int { return s.Succeeded + s.Failed }

func (s StageStats) String() string {
	return fmt.Sprintf("%d/%d ok failed=%d deferred=%d", s.Succeeded, s.Candidates, s.Failed, s.Deferred)
}

// Escalation records a gate opening during a run.
type Escalation struct {
	Key          string          `json:"key"`
	CustomerName string          `json:"customer_name"`
	Severity     domain.Severity `json:"severity"`
	Gate         int             `json:"gate"`
	Criticality  float64         `json:"criticality"`
	Peak         float64         `json:"peak"`
}

type RunResult struct {
	RunID         string        `json:"run_id"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	CasesInUpload int           `json:"cases_in_upload"`
	NewCases      int           `json:"new_cases"`
	StageA        StageStats    `json:"stage_a"`
	Gate1Opened   int           `json:"gate1_opened"`
	StageB        StageStats    `json:"stage_b"`
	Gate2Opened   int           `json:"gate2_opened"`
	StageC        StageStats    `json:"stage_c"`
	Escalations   []Escalation  `json:"escalations"`
	Health        health.Report `json:"health"`
}

// OracleFailures counts failed oracle calls across all stages.
func (r RunResult) OracleFailures() int {
	return r.StageA.Failed + r.StageB.Failed + r.StageC.Failed
}

// NewlyEscalated returns the escalations that reached the given gate.
func (r RunResult) NewlyEscalated(gate int) []Escalation {
	var out []Escalation
	for _, e := range r.Escalations {
		if e.Gate == gate {
			out = append(out, e)
		}
	}
	return out
}
