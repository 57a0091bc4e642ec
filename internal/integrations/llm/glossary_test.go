package llm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGlossary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glossary.yaml")
	data := `floors:
  - phrase: "  Execs "
    min_score: 7
  - phrase: replace
    min_score: 7
  - phrase: legal action
    min_score: 9
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	g, err := LoadGlossary(path)
	require.NoError(t, err)
	require.Len(t, g.Floors, 3)
	assert.Equal(t, "execs", g.Floors[0].Phrase)

	floor, phrase, ok := g.Floor("Our EXECS mention legal action next week")
	assert.True(t, ok)
	assert.Equal(t, 9.0, floor)
	assert.Equal(t, "legal action", phrase)

	_, _, ok = g.Floor("the replacement drive shipped")
	assert.False(t, ok, "phrases match on word boundaries only")
}

func TestLoadGlossaryMissingFile(t *testing.T) {
	_, err := LoadGlossary(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyGlossaryFloors(t *testing.T) {
	g := &Glossary{Floors: []GlossaryFloor{{Phrase: "execs", MinScore: 7}}}
	msgs := []IndexedMessage{
		{Index: 1, Text: "our execs are watching", IsCustomer: true},
		{Index: 2, Text: "I told the execs we are on it", IsCustomer: false},
		{Index: 3, Text: "execs again", IsCustomer: true},
	}
	scoring := MessageScoring{Scores: []MessageScore{
		{MessageIndex: 1, Score: 3, Reason: "mild"},
		{MessageIndex: 2, Score: 1},
		{MessageIndex: 3, Score: 9},
	}}

	raised := applyGlossaryFloors(&scoring, msgs, g)
	assert.Equal(t, 1, raised)
	assert.Equal(t, 7.0, scoring.Scores[0].Score)
	assert.Contains(t, scoring.Scores[0].Reason, `glossary floor "execs"`)
	assert.Equal(t, 1.0, scoring.Scores[1].Score, "support messages are not floored")
	assert.Equal(t, 9.0, scoring.Scores[2].Score, "higher scores are kept")

	assert.Zero(t, applyGlossaryFloors(&scoring, msgs, nil))
}
