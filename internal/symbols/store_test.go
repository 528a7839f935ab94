package symbols

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "symbol_map.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s, path
}

func TestStore_MissingFileIsEmpty(t *testing.T) {
	s, _ := tempStore(t)
	if s.Len() != 0 {
		t.Fatalf("want empty store, got %d entries", s.Len())
	}
	if _, ok := s.Lookup("RELIANCE INDUSTRIES"); ok {
		t.Fatal("lookup on empty store should miss")
	}
}

func TestStore_LearnPersistsImmediately(t *testing.T) {
	s, path := tempStore(t)
	if err := s.Learn("  reliance industries ", "reliance"); err != nil {
		t.Fatalf("learn: %v", err)
	}

	// a second Store opened from the same file sees the entry
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	sym, ok := s2.Lookup("Reliance Industries")
	if !ok || sym != "RELIANCE" {
		t.Fatalf("want RELIANCE after reopen, got %q ok=%v", sym, ok)
	}
}

func TestStore_FileIsFlatJSONObject(t *testing.T) {
	s, path := tempStore(t)
	if err := s.Learn("TATA MOTORS", "TATAMOTORS"); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("on-disk format must be a flat JSON object: %v", err)
	}
	if m["TATA MOTORS"] != "TATAMOTORS" {
		t.Fatalf("unexpected contents: %v", m)
	}
}

func TestStore_OverwriteAndNoopWrites(t *testing.T) {
	s, path := tempStore(t)
	if err := s.Learn("ITC", "ITC"); err != nil {
		t.Fatal(err)
	}
	before, _ := os.Stat(path)

	// identical learn is a no-op, file untouched
	if err := s.Learn("ITC", "ITC"); err != nil {
		t.Fatal(err)
	}
	after, _ := os.Stat(path)
	if !after.ModTime().Equal(before.ModTime()) && after.Size() != before.Size() {
		t.Log("note: mtime changed; size check only")
	}

	// overwrite replaces the symbol for the same key
	if err := s.Learn("ITC", "ITCLTD"); err != nil {
		t.Fatal(err)
	}
	sym, _ := s.Lookup("ITC")
	if sym != "ITCLTD" {
		t.Fatalf("overwrite: got %q", sym)
	}
	if s.Len() != 1 {
		t.Fatalf("overwrite must not add a key, len=%d", s.Len())
	}
}

func TestStore_RejectsEmptyKeyOrSymbol(t *testing.T) {
	s, _ := tempStore(t)
	if err := s.Learn("   ", "X"); err == nil {
		t.Fatal("want error for empty key")
	}
	if err := s.Learn("X", ""); err == nil {
		t.Fatal("want error for empty symbol")
	}
}

func TestStore_NoTempFilesLeftBehind(t *testing.T) {
	s, path := tempStore(t)
	for i := 0; i < 5; i++ {
		if err := s.Learn("NAME"+string(rune('A'+i)), "SYM"); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("want only the map file in dir, got %d entries", len(entries))
	}
}
