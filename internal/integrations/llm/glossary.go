package llm

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Glossary lists phrases that force a minimum score on any customer
// message containing them, e.g. executive mentions or replacement threats.
type Glossary struct {
	Floors []GlossaryFloor `yaml:"floors"`
}

type GlossaryFloor struct {
	Phrase   string  `yaml:"phrase"`
	MinScore float64 `yaml:"min_score"`
}

func LoadGlossary(path string) (*Glossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read glossary: %w", err)
	}
	var g Glossary
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse glossary yaml: %w", err)
	}
	for i := range g.Floors {
		g.Floors[i].Phrase = normalizeTextToken(g.Floors[i].Phrase)
	}
	return &g, nil
}

func normalizeTextToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Floor returns the highest floor among phrases found in text and the
// phrase that set it. ok is false when nothing matched.
func (g *Glossary) Floor(text string) (floor float64, phrase string, ok bool) {
	if g == nil {
		return 0, "", false
	}
	lower := strings.ToLower(text)
	for _, f := range g.Floors {
		if f.Phrase == "" || !containsPhrase(lower, f.Phrase) {
			continue
		}
		if !ok || f.MinScore > floor {
			floor, phrase, ok = f.MinScore, f.Phrase, true
		}
	}
	return floor, phrase, ok
}

// containsPhrase reports whether phrase occurs in text on word boundaries.
func containsPhrase(text, phrase string) bool {
	for start := 0; start <= len(text)-len(phrase); {
		idx := strings.Index(text[start:], phrase)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(phrase)
		if boundaryBefore(text, idx) && boundaryAfter(text, end) {
			return true
		}
		start = idx + 1
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r := rune(s[i-1])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// applyGlossaryFloors raises scores of customer messages that mention a
// glossary phrase. It returns how many scores were raised.
func applyGlossaryFloors(scoring *MessageScoring, msgs []IndexedMessage, g *Glossary) int {
	if g == nil || len(g.Floors) == 0 {
		return 0
	}
	byIndex := make(map[int]IndexedMessage, len(msgs))
	for _, m := range msgs {
		byIndex[m.Index] = m
	}
	raised := 0
	for i := range scoring.Scores {
		sc := &scoring.Scores[i]
		m, ok := byIndex[sc.MessageIndex]
		if !ok || !m.IsCustomer {
			continue
		}
		floor, phrase, ok := g.Floor(m.Text)
		if !ok || sc.Score >= floor {
			continue
		}
		sc.Score = floor
		sc.Reason = strings.TrimSpace(sc.Reason + fmt.Sprintf(" [glossary floor %q]", phrase))
		raised++
	}
	return raised
}
