package casestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"casewatch/internal/domain"
)

// Persister reads and writes the whole cache document. Read returns records
// under their raw stored keys; the Store canonicalises them.
type Persister interface {
	Check() error
	Read() (*domain.Cache, error)
	Write(cache *domain.Cache) error
	Location() string
}

// FilePersister keeps the cache as one JSON document on disk.
type FilePersister struct {
	Path string
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{Path: path}
}

func (p *FilePersister) Location() string { return p.Path }

// Check verifies the target directory exists and is writable.
func (p *FilePersister) Check() error {
	dir := filepath.Dir(p.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrStoreUnavailable, dir, err)
	}
	if info, err := os.Stat(p.Path); err == nil && info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrStoreUnavailable, p.Path)
	}
	probe, err := os.CreateTemp(dir, ".casewatch-probe-*")
	if err != nil {
		return fmt.Errorf("%w: %s not writable: %v", ErrStoreUnavailable, dir, err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return nil
}

func (p *FilePersister) Read() (*domain.Cache, error) {
	data, err := os.ReadFile(p.Path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.NewCache(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrStoreUnavailable, p.Path, err)
	}
	cache := domain.NewCache()
	if err := json.Unmarshal(data, cache); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptDocument, p.Path, err)
	}
	if cache.Cases == nil {
		cache.Cases = make(map[string]*domain.CaseRecord)
	}
	return cache, nil
}

// Write replaces the document atomically via a temp file and rename.
func (p *FilePersister) Write(cache *domain.Cache) error {
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	tmp := p.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStoreUnavailable, tmp, err)
	}
	if err := os.Rename(tmp, p.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %v", ErrStoreUnavailable, tmp, err)
	}
	return nil
}
