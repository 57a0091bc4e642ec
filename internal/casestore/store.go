package casestore

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"casewatch/internal/domain"
)

// Store is the single owner of the case cache for the duration of a run.
// It is not safe for concurrent writers.
type Store struct {
	persister Persister
	cache     *domain.Cache
	now       func() time.Time
	lastLoad  LoadReport
}

type LoadReport struct {
	RawRecords int      `json:"raw_records"`
	Merged     int      `json:"merged"`
	MergedKeys []string `json:"merged_keys,omitempty"`
	Dropped    int      `json:"dropped"`
	Recovered  bool     `json:"recovered"`
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open checks the persistence target and loads the cache from it.
func Open(p Persister, opts ...Option) (*Store, error) {
	s := &Store{persister: p, cache: domain.NewCache(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := p.Check(); err != nil {
		return nil, err
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Location() string { return s.persister.Location() }

func (s *Store) Load() error {
	raw, err := s.persister.Read()
	if errors.Is(err, ErrCorruptDocument) {
		log.Printf("WARNING: casestore load failed: %v; starting from an empty cache", err)
		s.cache = domain.NewCache()
		s.lastLoad = LoadReport{Recovered: true}
		return nil
	}
	if err != nil {
		return err
	}
	s.cache, s.lastLoad = canonicalize(raw)
	if s.lastLoad.Merged > 0 {
		log.Printf("casestore load merged=%d duplicate keys=%v", s.lastLoad.Merged, s.lastLoad.MergedKeys)
	}
	if s.lastLoad.Dropped > 0 {
		log.Printf("WARNING: casestore load dropped=%d records with empty keys", s.lastLoad.Dropped)
	}
	log.Printf("casestore loaded cases=%d from=%s", len(s.cache.Cases), s.persister.Location())
	return nil
}

// canonicalize re-keys every record through NormalizeKey. When two raw keys
// collide the record with the later LastUpdated wins.
func canonicalize(raw *domain.Cache) (*domain.Cache, LoadReport) {
	out := domain.NewCache()
	out.Metadata = raw.Metadata
	report := LoadReport{RawRecords: len(raw.Cases)}

	rawKeys := make([]string, 0, len(raw.Cases))
	for k := range raw.Cases {
		rawKeys = append(rawKeys, k)
	}
	sort.Strings(rawKeys)

	for _, rawKey := range rawKeys {
		rec := raw.Cases[rawKey]
		if rec == nil {
			report.Dropped++
			continue
		}
		key := NormalizeKey(rawKey)
		if key == "" {
			key = NormalizeKey(rec.Key)
		}
		if key == "" {
			report.Dropped++
			continue
		}
		rec.Key = key
		if rec.Status == "" {
			rec.Status = domain.StatusOpen
		}
		existing, ok := out.Cases[key]
		if !ok {
			out.Cases[key] = rec
			continue
		}
		report.Merged++
		report.MergedKeys = append(report.MergedKeys, key)
		if rec.LastUpdated.After(existing.LastUpdated) {
			out.Cases[key] = rec
		}
	}
	return out, report
}

// Save recomputes the metadata counts and rewrites the whole document.
func (s *Store) Save() error {
	s.recomputeMetadata()
	if err := s.persister.Write(s.cache); err != nil {
		return err
	}
	log.Printf("casestore saved cases=%d open=%d closed=%d to=%s",
		s.cache.Metadata.TotalCases, s.cache.Metadata.OpenCases, s.cache.Metadata.ClosedCases, s.persister.Location())
	return nil
}

func (s *Store) recomputeMetadata() {
	md := &s.cache.Metadata
	md.TotalCases = len(s.cache.Cases)
	md.OpenCases = 0
	md.ClosedCases = 0
	for _, rec := range s.cache.Cases {
		if rec.IsOpen() {
			md.OpenCases++
		} else {
			md.ClosedCases++
		}
	}
}

func (s *Store) Metadata() domain.Metadata {
	s.recomputeMetadata()
	return s.cache.Metadata
}

func (s *Store) LastLoad() LoadReport { return s.lastLoad }

func (s *Store) Get(key string) (*domain.CaseRecord, bool) {
	rec, ok := s.cache.Cases[NormalizeKey(key)]
	return rec, ok
}

func (s *Store) mustGet(key string) (*domain.CaseRecord, error) {
	rec, ok := s.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCaseNotFound, key)
	}
	return rec, nil
}

// All returns records sorted by key.
func (s *Store) All(includeClosed bool) []*domain.CaseRecord {
	out := make([]*domain.CaseRecord, 0, len(s.cache.Cases))
	for _, rec := range s.cache.Cases {
		if includeClosed || rec.IsOpen() {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Upsert creates the record on first encounter and refreshes its upstream
// metadata otherwise. Status is left alone: only MarkClosed changes it.
func (s *Store) Upsert(key string, meta domain.CaseMeta) (*domain.CaseRecord, bool) {
	k := NormalizeKey(key)
	now := s.now()
	rec, ok := s.cache.Cases[k]
	if !ok {
		rec = &domain.CaseRecord{
			Key:       k,
			Status:    domain.StatusOpen,
			FirstSeen: now,
		}
		s.cache.Cases[k] = rec
	}
	rec.Meta = meta
	rec.LastUpdated = now
	return rec, !ok
}

func (s *Store) MarkOpenUpload() {
	now := s.now()
	s.cache.Metadata.LastOpenUpload = &now
}

// MarkClosed flips exactly the given keys to Closed and returns how many
// records changed.
func (s *Store) MarkClosed(keys []string) int {
	now := s.now()
	changed := 0
	for _, raw := range keys {
		rec, ok := s.Get(raw)
		if !ok || rec.Status == domain.StatusClosed {
			continue
		}
		rec.Status = domain.StatusClosed
		rec.LastUpdated = now
		changed++
	}
	s.cache.Metadata.LastClosedUpload = &now
	log.Printf("casestore closed requested=%d changed=%d", len(keys), changed)
	return changed
}

// NewMessagesSince returns the candidates dated strictly after the newest
// cached message. Unknown cases, and cases with no dated message, get every
// candidate back. Undated candidates are only returned in that situation.
func (s *Store) NewMessagesSince(key string, candidates []domain.IncomingMessage) []domain.IncomingMessage {
	rec, ok := s.Get(key)
	if !ok {
		return append([]domain.IncomingMessage(nil), candidates...)
	}
	latest := rec.LatestMessageDate()
	if latest == nil {
		seen := make(map[dateKey]bool, len(rec.Messages))
		for _, m := range rec.Messages {
			seen[keyOf(m.Date)] = true
		}
		var out []domain.IncomingMessage
		for _, c := range candidates {
			if !seen[keyOf(c.Date)] {
				out = append(out, c)
			}
		}
		return out
	}
	var out []domain.IncomingMessage
	for _, c := range candidates {
		if !c.Date.IsZero() && c.Date.After(*latest) {
			out = append(out, c)
		}
	}
	return out
}

// AppendMessages adds scored entries, skipping dated entries whose date is
// already cached, and refreshes the running frustration aggregate. Undated
// entries are always added; NewMessagesSince only offers them once.
func (s *Store) AppendMessages(key string, entries []domain.MessageEntry) (int, error) {
	rec, err := s.mustGet(key)
	if err != nil {
		return 0, err
	}
	seen := make(map[dateKey]bool, len(rec.Messages))
	for _, m := range rec.Messages {
		seen[keyOf(m.Date)] = true
	}
	added := 0
	for _, e := range entries {
		if e.Dated() {
			k := keyOf(e.Date)
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		rec.Messages = append(rec.Messages, e)
		added++
	}
	if added > 0 {
		rec.SortMessages()
		rec.RecomputeFrustration()
		rec.LastUpdated = s.now()
	}
	return added, nil
}

func (s *Store) SetAnalysis(key string, a domain.MessageAnalysis) error {
	rec, err := s.mustGet(key)
	if err != nil {
		return err
	}
	rec.Analysis = &a
	rec.LastUpdated = s.now()
	return nil
}

// OpenGate1 reports whether the gate was newly opened. An open gate is never
// closed here.
func (s *Store) OpenGate1(key string) (bool, error) {
	rec, err := s.mustGet(key)
	if err != nil {
		return false, err
	}
	return s.openGate(rec, &rec.Gate1), nil
}

func (s *Store) OpenGate2(key string) (bool, error) {
	rec, err := s.mustGet(key)
	if err != nil {
		return false, err
	}
	return s.openGate(rec, &rec.Gate2), nil
}

func (s *Store) openGate(rec *domain.CaseRecord, g *domain.GateState) bool {
	if g.Passed {
		return false
	}
	now := s.now()
	g.Passed = true
	g.PassedAt = &now
	rec.LastUpdated = now
	return true
}

// SetQuickScore replaces any previous quick score.
func (s *Store) SetQuickScore(key string, q domain.QuickScoreResult) error {
	rec, err := s.mustGet(key)
	if err != nil {
		return err
	}
	rec.QuickScore = &q
	rec.LastUpdated = s.now()
	return nil
}

func (s *Store) SetCriticality(key string, b domain.CriticalityBreakdown) error {
	rec, err := s.mustGet(key)
	if err != nil {
		return err
	}
	rec.Breakdown = b
	rec.CriticalityScore = b.Total
	return nil
}

func (s *Store) CreateTimeline(key string, entries []domain.TimelineEntry, lastEntryDate *time.Time, summary *domain.ExecutiveSummary) error {
	rec, err := s.mustGet(key)
	if err != nil {
		return err
	}
	if rec.Timeline != nil {
		return fmt.Errorf("%w: %s", ErrTimelineExists, rec.Key)
	}
	now := s.now()
	rec.Timeline = &domain.Timeline{
		Entries:       append([]domain.TimelineEntry(nil), entries...),
		LastEntryDate: copyTime(lastEntryDate),
		Summary:       summary,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	rec.LastUpdated = now
	return nil
}

// AppendTimelineEntries appends to an existing timeline. LastEntryDate only
// ever moves forward.
func (s *Store) AppendTimelineEntries(key string, entries []domain.TimelineEntry, lastEntryDate *time.Time) error {
	rec, err := s.mustGet(key)
	if err != nil {
		return err
	}
	if rec.Timeline == nil {
		return s.CreateTimeline(key, entries, lastEntryDate, nil)
	}
	tl := rec.Timeline
	tl.Entries = append(tl.Entries, entries...)
	if lastEntryDate != nil && (tl.LastEntryDate == nil || lastEntryDate.After(*tl.LastEntryDate)) {
		tl.LastEntryDate = copyTime(lastEntryDate)
	}
	now := s.now()
	tl.UpdatedAt = now
	rec.LastUpdated = now
	return nil
}

// NewMessagesForTimeline returns cached messages dated after the timeline's
// LastEntryDate, or every message when there is no timeline yet. A timeline
// built only from undated messages has no LastEntryDate; every dated message
// is new to it.
func (s *Store) NewMessagesForTimeline(key string) []domain.MessageEntry {
	rec, ok := s.Get(key)
	if !ok {
		return nil
	}
	if rec.Timeline == nil {
		return append([]domain.MessageEntry(nil), rec.Messages...)
	}
	var out []domain.MessageEntry
	for _, m := range rec.Messages {
		if m.Dated() && (rec.Timeline.LastEntryDate == nil || m.Date.After(*rec.Timeline.LastEntryDate)) {
			out = append(out, m)
		}
	}
	return out
}

// ResetGates is the manual escape hatch: both gates, the quick score and the
// timeline are dropped and the case starts again from cold.
func (s *Store) ResetGates(key string) error {
	rec, err := s.mustGet(key)
	if err != nil {
		return err
	}
	rec.Gate1 = domain.GateState{}
	rec.Gate2 = domain.GateState{}
	rec.QuickScore = nil
	rec.Timeline = nil
	rec.LastUpdated = s.now()
	log.Printf("casestore reset gates case=%s", rec.Key)
	return nil
}

func (s *Store) ClearCase(key string) error {
	rec, err := s.mustGet(key)
	if err != nil {
		return err
	}
	delete(s.cache.Cases, rec.Key)
	log.Printf("casestore cleared case=%s", rec.Key)
	return nil
}

func (s *Store) ClearAll() int {
	n := len(s.cache.Cases)
	s.cache = domain.NewCache()
	log.Printf("casestore cleared all cases=%d", n)
	return n
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type dateKey struct {
	sec  int64
	nsec int
}

func keyOf(t time.Time) dateKey {
	return dateKey{sec: t.Unix(), nsec: t.Nanosecond()}
}
