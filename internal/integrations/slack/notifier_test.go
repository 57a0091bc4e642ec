package slacknotify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casewatch/internal/domain"
	"casewatch/internal/gate"
	"casewatch/internal/health"
)

type mockSlack struct {
	posts     int
	lastText  string
	lastChan  string
	userLists int
}

func newMockSlackAPI(t *testing.T) (*slack.Client, *mockSlack) {
	t.Helper()

	m := &mockSlack{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/")
		switch path {
		case "chat.postMessage":
			_ = r.ParseForm()
			m.posts++
			m.lastText = r.Form.Get("text")
			m.lastChan = r.Form.Get("channel")
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": m.lastChan, "ts": "1.23"})
		case "users.list":
			m.userLists++
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"members": []map[string]any{
					{
						"id":        "U_ONCALL",
						"name":      "oncall",
						"real_name": "Dana Oncall",
						"profile":   map[string]any{"display_name": "dana"},
					},
				},
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		}
	}))
	t.Cleanup(server.Close)

	return slack.New("xoxb-test", slack.OptionAPIURL(server.URL+"/api/")), m
}

func healthyRun() gate.RunResult {
	return gate.RunResult{
		RunID:         "run-1",
		CasesInUpload: 12,
		Health:        health.Report{Score: 88, BaseScore: 88, OpenCases: 12},
	}
}

func TestNotifyRunSkipsQuietRuns(t *testing.T) {
	api, m := newMockSlackAPI(t)
	n := NewWithAPI(api, Config{Channel: "C_ALERTS"})

	posted, err := n.NotifyRun(healthyRun())
	require.NoError(t, err)
	assert.False(t, posted)
	assert.Zero(t, m.posts)
}

func TestNotifyRunPostsEscalations(t *testing.T) {
	api, m := newMockSlackAPI(t)
	n := NewWithAPI(api, Config{Channel: "C_ALERTS", Contacts: []string{"Dana", "UABCDEFGH1"}})

	result := healthyRun()
	result.Gate1Opened = 1
	result.Escalations = []gate.Escalation{
		{Key: "90406", CustomerName: "Acme", Severity: domain.SeverityS2, Gate: 1, Criticality: 120, Peak: 7},
	}
	posted, err := n.NotifyRun(result)
	require.NoError(t, err)
	assert.True(t, posted)
	assert.Equal(t, 1, m.posts)
	assert.Equal(t, "C_ALERTS", m.lastChan)
	assert.Contains(t, m.lastText, "*90406* Acme (S2) gate 1")
	assert.NotContains(t, m.lastText, "cc ", "gate-1 escalations on a healthy portfolio mention nobody")
	assert.Zero(t, m.userLists)
}

func TestNotifyRunAlertMentionsContacts(t *testing.T) {
	api, m := newMockSlackAPI(t)
	n := NewWithAPI(api, Config{Channel: "C_ALERTS", Contacts: []string{"Dana", "UABCDEFGH1", "nobody"}})

	result := healthyRun()
	result.Health.Score = 41.5
	result.Health.CriticalCases = 2
	posted, err := n.NotifyRun(result)
	require.NoError(t, err)
	assert.True(t, posted)
	assert.Contains(t, m.lastText, "Case health alert")
	assert.Contains(t, m.lastText, "<@UABCDEFGH1> <@U_ONCALL>")
	assert.Equal(t, 1, m.userLists)

	_, err = n.NotifyRun(result)
	require.NoError(t, err)
	assert.Equal(t, 1, m.userLists, "user list is cached between runs")
}

func TestBuildRunMessage(t *testing.T) {
	result := healthyRun()
	result.Health.CriticalCases = 1
	result.Health.Clustering = health.Clustering{Detected: true, Penalty: 0.15}
	result.StageA.Failed = 2
	for i := 0; i < 4; i++ {
		result.Escalations = append(result.Escalations, gate.Escalation{Key: string(rune('a' + i)), Gate: 1, Criticality: float64(100 + i)})
	}
	result.Escalations = append(result.Escalations, gate.Escalation{Key: "hot", CustomerName: "Acme", Gate: 2, Criticality: 250})

	msg := BuildRunMessage(result, DefaultAlertThreshold, 3, nil)
	assert.True(t, msg.Alert, "a critical case raises an alert even on a healthy score")
	assert.Contains(t, msg.Text, "clustering -15%")
	assert.Contains(t, msg.Text, "2 analysis calls failed")

	lines := strings.Split(msg.Text, "\n")
	var listed []string
	for _, l := range lines {
		if strings.HasPrefix(l, "•") || strings.HasPrefix(l, "…") {
			listed = append(listed, l)
		}
	}
	require.Len(t, listed, 4)
	assert.Contains(t, listed[0], "*hot* Acme")
	assert.Contains(t, listed[0], "gate 2")
	assert.Contains(t, listed[1], "*d* unknown customer")
	assert.Equal(t, "…and 2 more", listed[3])
	assert.Len(t, msg.Blocks, 4)
}

func TestIsLikelySlackID(t *testing.T) {
	assert.True(t, isLikelySlackID("U0123ABCD"))
	assert.True(t, isLikelySlackID("W0123ABCD"))
	assert.False(t, isLikelySlackID("dana"))
	assert.False(t, isLikelySlackID("C0123ABCD"))
}
