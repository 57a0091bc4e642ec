package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"casewatch/internal/casestore"
	"casewatch/internal/domain"
	"casewatch/internal/gate"
)

var ErrInvalidUpload = errors.New("invalid upload")

const defaultCustomerName = "Unknown Customer"

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006 3:04 PM",
	"01/02/2006",
	"Jan 2, 2006 3:04 PM",
}

type openFile struct {
	Cases []openRow `json:"cases"`
}

type openRow struct {
	CaseNumber       any          `json:"case_number"`
	CustomerName     string       `json:"customer_name"`
	Severity         string       `json:"severity"`
	SupportLevel     string       `json:"support_level"`
	Status           string       `json:"status"`
	CaseAgeDays      *json.Number `json:"case_age_days"`
	EngagementRatio  *json.Number `json:"engagement_ratio"`
	CreatedDate      string       `json:"created_date"`
	LastModifiedDate string       `json:"last_modified_date"`
	Messages         []messageRow `json:"messages"`
}

type messageRow struct {
	Date         string `json:"date"`
	Text         string `json:"text"`
	FromCustomer *bool  `json:"from_customer"`
}

// OpenUpload is a decoded open-case upload.
type OpenUpload struct {
	Cases []gate.CaseInput
	// Skipped counts rows without a usable case number.
	Skipped int
	// Undated counts messages whose date could not be parsed. They are kept
	// with a zero date.
	Undated int
	// Closed lists rows the upstream export already marks closed.
	Closed []string
}

// LoadOpen reads an open-case upload from path. now is used to derive case
// age when the upload does not carry one.
func LoadOpen(path string, now time.Time) (OpenUpload, error) {
	f, err := os.Open(path)
	if err != nil {
		return OpenUpload{}, fmt.Errorf("open upload %s: %w", path, err)
	}
	defer f.Close()
	return ReadOpen(f, now)
}

func ReadOpen(r io.Reader, now time.Time) (OpenUpload, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc openFile
	if err := dec.Decode(&doc); err != nil {
		return OpenUpload{}, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}

	var out OpenUpload
	for i, row := range doc.Cases {
		key := casestore.NormalizeKey(row.CaseNumber)
		if key == "" {
			log.Printf("WARNING: ingest open row=%d has no case number, skipping", i)
			out.Skipped++
			continue
		}
		in, undated := row.toInput(key, now)
		out.Undated += undated
		out.Cases = append(out.Cases, in)
		if strings.Contains(strings.ToLower(row.Status), "closed") {
			out.Closed = append(out.Closed, key)
		}
	}
	log.Printf("ingest open rows=%d cases=%d skipped=%d undated_messages=%d", len(doc.Cases), len(out.Cases), out.Skipped, out.Undated)
	return out, nil
}

func (row openRow) toInput(key string, now time.Time) (gate.CaseInput, int) {
	meta := domain.CaseMeta{
		CustomerName:     strings.TrimSpace(row.CustomerName),
		Severity:         parseSeverity(row.Severity),
		SupportTier:      domain.ParseSupportTier(row.SupportLevel),
		InteractionCount: len(row.Messages),
		CreatedDate:      parseDatePtr(row.CreatedDate),
		LastModified:     parseDatePtr(row.LastModifiedDate),
	}
	if meta.CustomerName == "" {
		meta.CustomerName = defaultCustomerName
	}
	if row.CaseAgeDays != nil {
		if v, err := row.CaseAgeDays.Float64(); err == nil && v > 0 {
			meta.AgeDays = int(v)
		}
	} else if meta.CreatedDate != nil && now.After(*meta.CreatedDate) {
		meta.AgeDays = int(now.Sub(*meta.CreatedDate).Hours() / 24)
	}
	if row.EngagementRatio != nil {
		if v, err := row.EngagementRatio.Float64(); err == nil {
			meta.EngagementRatio = &v
		}
	}

	in := gate.CaseInput{Key: key, Meta: meta}
	undated := 0
	for _, m := range row.Messages {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		date, ok := parseDate(m.Date)
		if !ok {
			undated++
		}
		in.Messages = append(in.Messages, domain.IncomingMessage{
			Date:       date,
			Text:       text,
			IsCustomer: m.FromCustomer == nil || *m.FromCustomer,
		})
	}
	return in, undated
}

// parseSeverity treats a missing severity as S4. Present but unrecognised
// values stay Unparsed.
func parseSeverity(raw string) domain.Severity {
	if strings.TrimSpace(raw) == "" {
		return domain.SeverityS4
	}
	return domain.ParseSeverity(raw)
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func parseDatePtr(raw string) *time.Time {
	t, ok := parseDate(raw)
	if !ok {
		return nil
	}
	return &t
}

// LoadClosed reads a closed-case upload from path.
func LoadClosed(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read closed upload %s: %w", path, err)
	}
	return ParseClosed(data)
}

// ParseClosed accepts {"case_numbers": [...]}, a bare JSON array, or one
// case number per line. Keys come back normalized and deduplicated in input
// order.
func ParseClosed(data []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(data)
	var raw []any
	switch {
	case len(trimmed) == 0:
		return nil, nil
	case trimmed[0] == '{':
		var doc struct {
			CaseNumbers []any `json:"case_numbers"`
		}
		if err := decodeNumbers(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
		}
		raw = doc.CaseNumbers
	case trimmed[0] == '[':
		if err := decodeNumbers(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
		}
	default:
		sc := bufio.NewScanner(bytes.NewReader(trimmed))
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			raw = append(raw, line)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
		}
	}

	seen := make(map[string]bool, len(raw))
	var keys []string
	for _, v := range raw {
		key := casestore.NormalizeKey(v)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys, nil
}

func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
