// Package history persists the bounded, newest-first log of completed test
// results.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/m-lab/go/warnonerror"

	"github.com/gaugelab/speedboard/data"
)

// Limit is the maximum number of entries kept, on disk and in memory.
const Limit = 10

// ErrCorrupt reports that the history file exists but could not be read or
// parsed. Callers should treat the history as empty and carry on.
var ErrCorrupt = errors.New("history file is corrupt")

// ErrPersist reports that the updated history could not be written. The
// in-memory view is still valid.
var ErrPersist = errors.New("history file write failed")

// Entry is one persisted result. Ordinal is the entry's position in the
// newest-first sequence and is restamped on every persist, so the most
// recent run is always ordinal 0.
type Entry struct {
	data.TestResult
	Ordinal int `json:"ordinal"`
}

// Store keeps the last Limit results in memory and mirrors them to a JSON
// file. It is safe for concurrent use; the dashboard appends to it while
// the debug listener snapshots it.
type Store struct {
	path string

	mu      sync.Mutex
	entries []Entry
}

// New creates a store backed by the given file. Nothing is read until Load.
func New(path string) *Store {
	return &Store{path: path}
}

// DefaultPath returns the history file location used when no explicit path
// is configured.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".speedboard_history.json"
	}
	return filepath.Join(home, ".speedboard_history.json")
}

// Load reads the history file into memory. A missing file is an empty
// history and not an error. A file that cannot be read or parsed resets
// the history and returns an error wrapping ErrCorrupt; the store remains
// usable either way.
func (s *Store) Load() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(entries) > Limit {
		entries = entries[:Limit]
	}
	for i := range entries {
		entries[i].Ordinal = i
	}
	s.entries = entries
	return s.snapshotLocked(), nil
}

// Append inserts r at the head, evicts anything beyond Limit, restamps the
// ordinals and persists the whole history atomically. The updated
// in-memory view is returned even when persistence fails; in that case the
// error wraps ErrPersist.
func (s *Store) Append(r data.TestResult) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]Entry, 0, len(s.entries)+1)
	entries = append(entries, Entry{TestResult: r})
	entries = append(entries, s.entries...)
	if len(entries) > Limit {
		entries = entries[:Limit]
	}
	for i := range entries {
		entries[i].Ordinal = i
	}
	s.entries = entries
	if err := s.persistLocked(); err != nil {
		return s.snapshotLocked(), fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return s.snapshotLocked(), nil
}

// Snapshot returns a copy of the current in-memory view, newest first.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// persistLocked writes the whole history to a temporary file in the same
// directory and renames it over the canonical path, so a crash mid-write
// never truncates the previous file.
func (s *Store) persistLocked() error {
	buf, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".speedboard_history-*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		warnonerror.Close(tmp, "Could not close temp history file")
		os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		warnonerror.Close(tmp, "Could not close temp history file")
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, s.path)
}

// exportEnvelope wraps exported history so consumers can tell when the
// snapshot was taken.
type exportEnvelope struct {
	ExportedAt time.Time `json:"exported_at"`
	Results    []Entry   `json:"results"`
}

// Export writes the current in-memory history to path as a standalone JSON
// document with an exported_at timestamp.
func (s *Store) Export(path string) error {
	s.mu.Lock()
	entries := s.snapshotLocked()
	s.mu.Unlock()
	buf, err := json.MarshalIndent(exportEnvelope{
		ExportedAt: time.Now().UTC(),
		Results:    entries,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0644)
}
