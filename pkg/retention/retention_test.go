package retention

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeAged(t *testing.T, dir, name string, content []byte, ageDays int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Now().AddDate(0, 0, -ageDays)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSweepLogs_CompressesAgedFiles(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`{"type":"request"}` + "\n")
	old := writeAged(t, dir, "claude.jsonl.1", content, 40)
	fresh := writeAged(t, dir, "claude.jsonl", content, 5)

	res, err := SweepLogs(dir, 30, 0, true)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Compressed != 1 || res.Deleted != 0 {
		t.Fatalf("expected 1 compressed / 0 deleted, got %+v", res)
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("expected aged original removed after compression")
	}
	gz, err := os.Open(old + ".gz")
	if err != nil {
		t.Fatalf("expected %s.gz: %v", old, err)
	}
	defer gz.Close()
	zr, err := gzip.NewReader(gz)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	decompressed, _ := io.ReadAll(zr)
	if !bytes.Equal(decompressed, content) {
		t.Error("expected compressed file to round-trip original content")
	}

	if _, err := os.Stat(fresh); err != nil {
		t.Error("expected 5-day-old file untouched")
	}
}

func TestSweepLogs_DeletesWhenCompressDisabled(t *testing.T) {
	dir := t.TempDir()
	old := writeAged(t, dir, "claude.jsonl.1", []byte("x"), 40)

	res, err := SweepLogs(dir, 30, 0, false)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Deleted != 1 || res.Compressed != 0 {
		t.Fatalf("expected 1 deleted, got %+v", res)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("expected aged file removed")
	}
	if _, err := os.Stat(old + ".gz"); !os.IsNotExist(err) {
		t.Error("expected no .gz when compression is off")
	}
}

func TestSweepLogs_SizeBudgetDeletesOldestFirst(t *testing.T) {
	dir := t.TempDir()
	big := bytes.Repeat([]byte("a"), 1024*1024)
	oldest := writeAged(t, dir, "claude.jsonl.2", big, 3)
	middle := writeAged(t, dir, "claude.jsonl.1", big, 2)
	newest := writeAged(t, dir, "claude.jsonl", big, 1)

	res, err := SweepLogs(dir, 30, 2, false)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Deleted != 1 {
		t.Fatalf("expected exactly the oldest file deleted, got %+v", res)
	}
	if _, err := os.Stat(oldest); !os.IsNotExist(err) {
		t.Error("expected oldest file gone")
	}
	for _, p := range []string{middle, newest} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s kept: %v", p, err)
		}
	}
}

func TestSweepLogs_SkipsAlreadyCompressed(t *testing.T) {
	dir := t.TempDir()
	gzPath := writeAged(t, dir, "claude.jsonl.1.gz", []byte("gz"), 90)

	res, err := SweepLogs(dir, 30, 0, true)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Compressed != 0 || res.Deleted != 0 {
		t.Fatalf("expected .gz files untouched, got %+v", res)
	}
	if _, err := os.Stat(gzPath); err != nil {
		t.Errorf("expected %s kept: %v", gzPath, err)
	}
}
