// Package journal keeps an append-only JSONL audit trail of pipeline runs.
// The broker remains the system of record for orders; the journal exists so
// skips and outcomes can be reviewed after the fact.
package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry types written by the pipeline.
const (
	TypeSignal    = "signal"
	TypeSkip      = "skip"
	TypeOrder     = "order"
	TypeOutcome   = "outcome"
	TypeConverted = "converted"
)

type Entry struct {
	Type string         `json:"type"`
	At   time.Time      `json:"at"`
	Run  string         `json:"run"`
	Data map[string]any `json:"data,omitempty"`
}

type Journal struct {
	mu   sync.Mutex
	path string
}

func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	return &Journal{path: path}, nil
}

// Record appends one entry. Append failures are returned but callers treat
// the journal as best-effort.
func (j *Journal) Record(runID, entryType string, data map[string]any) error {
	entry := Entry{Type: entryType, At: time.Now().UTC(), Run: runID, Data: data}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("journal marshal: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal open: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	return nil
}

// Read returns all entries, oldest first. Used by tests and ops tooling.
func (j *Journal) Read() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	b, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	dec := json.NewDecoder(bytes.NewReader(b))
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return entries, fmt.Errorf("journal decode: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
