// Package symbols maps alerted company names to exchange trading symbols,
// learning new resolutions as they are confirmed.
package symbols

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Normalize canonicalizes a company name or symbol for use as a store key.
func Normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Store is the persistent name -> trading-symbol map. The on-disk format is
// a flat JSON object so the seed utility and hand edits stay trivial.
// Entries are only ever added or overwritten, never deleted, and every
// change is flushed with a write-to-temp-then-rename so a crash mid-save
// cannot corrupt the file.
type Store struct {
	mu      sync.Mutex
	path    string
	entries map[string]string
}

// Open loads the symbol map at path. A missing file yields an empty store;
// the file is created on the first Learn.
func Open(path string) (*Store, error) {
	s := &Store{path: path, entries: map[string]string{}}

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read symbol map: %w", err)
	}
	if err := json.Unmarshal(b, &s.entries); err != nil {
		return nil, fmt.Errorf("parse symbol map %s: %w", path, err)
	}
	return s, nil
}

// Lookup returns the trading symbol for a (raw or normalized) name.
func (s *Store) Lookup(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sym, ok := s.entries[Normalize(name)]
	return sym, ok
}

// Learn upserts a resolution and persists it immediately. A write that
// changes nothing is skipped so repeated resolutions stay silent.
func (s *Store) Learn(name, symbol string) error {
	key := Normalize(name)
	sym := Normalize(symbol)
	if key == "" || sym == "" {
		return fmt.Errorf("symbol store: empty key or symbol")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[key]; ok && existing == sym {
		return nil
	}
	s.entries[key] = sym
	return s.saveLocked()
}

// Len reports the number of learned entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Keys returns a snapshot of all normalized keys, for fuzzy matching.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

func (s *Store) saveLocked() error {
	b, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal symbol map: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create symbol map dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".symbol_map-*.json")
	if err != nil {
		return fmt.Errorf("create temp symbol map: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp symbol map: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp symbol map: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace symbol map: %w", err)
	}
	return nil
}
