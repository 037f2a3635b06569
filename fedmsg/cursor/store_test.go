package cursor

import (
	"path/filepath"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	var s MemoryStore

	if got := s.Get("hub"); got != 0 {
		t.Errorf("unset cursor should be 0, got %d", got)
	}

	s.Set("hub", 42)
	if got := s.Get("hub"); got != 42 {
		t.Errorf("cursor = %d, want 42", got)
	}

	s.Set("hub", 43)
	if got := s.Get("hub"); got != 43 {
		t.Errorf("cursor should be overwritten, got %d", got)
	}

	if got := s.Get("other"); got != 0 {
		t.Errorf("cursors should be per source, got %d", got)
	}
}

func TestSqliteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cursor.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	if got := s.Get("hub"); got != 0 {
		t.Errorf("unset cursor should be 0, got %d", got)
	}

	s.Set("hub", 42)
	if got := s.Get("hub"); got != 42 {
		t.Errorf("cursor = %d, want 42", got)
	}

	s.Set("hub", 43)
	if got := s.Get("hub"); got != 43 {
		t.Errorf("cursor should be overwritten, got %d", got)
	}
}

func TestSqliteStoreCustomTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.db")
	s, err := NewSQLiteStore(path, WithTableName("bus_cursors"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	s.Set("hub", 7)
	if got := s.Get("hub"); got != 7 {
		t.Errorf("cursor = %d, want 7", got)
	}
}
