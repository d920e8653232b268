package dialoglog

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := New("claude", dir, true)
	defer l.Close()

	if err := l.LogRequest("/chat", map[string]string{"q": "hi"}, "sess1", "h1", "t1"); err != nil {
		t.Fatalf("log request: %v", err)
	}
	if err := l.LogResponse("/chat", 200, map[string]string{"a": "hello"}, "sess1", "h1", "t1"); err != nil {
		t.Fatalf("log response: %v", err)
	}
	if err := l.LogError("/chat", "boom", "sess2", "", ""); err != nil {
		t.Fatalf("log error: %v", err)
	}

	entries, err := Read(dir, "claude", Filter{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// Newest-line-first within the file.
	if entries[0].Type != "error" || entries[2].Type != "request" {
		t.Errorf("expected newest-first ordering, got %s..%s", entries[0].Type, entries[2].Type)
	}
}

func TestReadFilters(t *testing.T) {
	dir := t.TempDir()
	l := New("claude", dir, true)
	defer l.Close()

	_ = l.LogRequest("/chat", nil, "sess1", "h1", "")
	_ = l.LogRequest("/chat", nil, "sess2", "h2", "")
	_ = l.LogResponse("/chat", 200, nil, "sess1", "h1", "")

	bySession, _ := Read(dir, "claude", Filter{SessionID: "sess1"})
	if len(bySession) != 2 {
		t.Errorf("expected 2 entries for sess1, got %d", len(bySession))
	}

	byHeinzel, _ := Read(dir, "claude", Filter{HeinzelID: "h2"})
	if len(byHeinzel) != 1 {
		t.Errorf("expected 1 entry for h2, got %d", len(byHeinzel))
	}

	byType, _ := Read(dir, "claude", Filter{EntryType: "response"})
	if len(byType) != 1 || byType[0].Type != "response" {
		t.Errorf("expected 1 response entry, got %d", len(byType))
	}

	limited, _ := Read(dir, "claude", Filter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected limit to cap at 1, got %d", len(limited))
	}

	future := time.Now().UTC().Add(time.Hour)
	sinceFuture, _ := Read(dir, "claude", Filter{Since: &future})
	if len(sinceFuture) != 0 {
		t.Errorf("expected no entries newer than one hour from now, got %d", len(sinceFuture))
	}

	past := time.Now().UTC().Add(-time.Hour)
	sincePast, _ := Read(dir, "claude", Filter{Since: &past})
	if len(sincePast) != 3 {
		t.Errorf("expected all entries newer than one hour ago, got %d", len(sincePast))
	}
}

func TestDisabledLoggerNeverOpensFile(t *testing.T) {
	dir := t.TempDir()
	l := New("claude", dir, false)
	defer l.Close()

	if err := l.LogRequest("/chat", nil, "s", "", ""); err != nil {
		t.Fatalf("disabled logger should be a no-op, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "claude.jsonl")); !os.IsNotExist(err) {
		t.Fatal("expected no log file for a disabled logger")
	}
}

func TestSetEnabledTogglesAtRuntime(t *testing.T) {
	dir := t.TempDir()
	l := New("claude", dir, false)
	defer l.Close()

	l.SetEnabled(true)
	if !l.Enabled() {
		t.Fatal("expected logger enabled after SetEnabled(true)")
	}
	_ = l.LogRequest("/chat", nil, "s", "", "")

	entries, _ := Read(dir, "claude", Filter{})
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after enabling, got %d", len(entries))
	}
}

func TestRotationShiftsBackups(t *testing.T) {
	dir := t.TempDir()
	l := New("claude", dir, true)
	defer l.Close()

	_ = l.LogRequest("/chat", nil, "s", "", "")
	l.mu.Lock()
	// Force the next write over the rotation threshold.
	l.size = maxBytes
	l.mu.Unlock()
	_ = l.LogRequest("/chat", nil, "s", "", "")

	if _, err := os.Stat(filepath.Join(dir, "claude.jsonl.1")); err != nil {
		t.Fatalf("expected rotated backup claude.jsonl.1: %v", err)
	}
	entries, _ := Read(dir, "claude", Filter{})
	if len(entries) != 2 {
		t.Fatalf("expected reader to see entries across rotations, got %d", len(entries))
	}
}

func TestTimestampIsRFC3339UTC(t *testing.T) {
	dir := t.TempDir()
	l := New("claude", dir, true)
	defer l.Close()

	_ = l.LogRequest("/chat", nil, "s", "", "")
	entries, _ := Read(dir, "claude", Filter{})
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ts, err := time.Parse(time.RFC3339Nano, entries[0].Timestamp)
	if err != nil {
		t.Fatalf("timestamp %q not RFC 3339: %v", entries[0].Timestamp, err)
	}
	if ts.Location() != time.UTC {
		t.Errorf("expected UTC timestamp, got %v", ts.Location())
	}
}
