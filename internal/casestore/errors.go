package casestore

import "errors"

var (
	// ErrStoreUnavailable means the persistence target cannot be read or
	// written at all. It is fatal for a run.
	ErrStoreUnavailable = errors.New("case store unavailable")
	// ErrCorruptDocument means the persisted document exists but cannot be
	// decoded. Load recovers from it with an empty cache.
	ErrCorruptDocument = errors.New("case store document corrupt")
	ErrCaseNotFound    = errors.New("case not found")
	ErrTimelineExists  = errors.New("timeline already exists")
)
