package coststore

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s := Connect(context.Background(), SQLite, filepath.Join(t.TempDir(), "costs.db"))
	if s.db == nil {
		t.Fatal("expected a live sqlite store")
	}
	t.Cleanup(func() { _ = s.Disconnect() })
	return s
}

func TestResolveURL(t *testing.T) {
	cases := []struct {
		url     string
		dialect Dialect
		dsn     string
	}{
		{"postgresql://user@host/db", PostgreSQL, "postgresql://user@host/db"},
		{"postgres://user@host/db", PostgreSQL, "postgres://user@host/db"},
		{"sqlite:///costs.db", SQLite, "/data/costs.db"},
		{"sqlite:////var/lib/costs.db", SQLite, "/var/lib/costs.db"},
		{"costs.db", SQLite, "/data/costs.db"},
	}
	for _, c := range cases {
		dialect, dsn := ResolveURL(c.url, "/data")
		if dialect != c.dialect || dsn != c.dsn {
			t.Errorf("ResolveURL(%q) = (%s, %s), want (%s, %s)", c.url, dialect, dsn, c.dialect, c.dsn)
		}
	}
}

func TestLogRequestAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.LogRequest(ctx, CostRow{
		Provider: "claude", Model: "claude-3", InputTokens: 10, OutputTokens: 5,
		LatencyMS: 120, SessionID: "sess1", Status: "success",
	})
	s.LogRequest(ctx, CostRow{
		Provider: "claude", Model: "claude-3", InputTokens: 20, OutputTokens: 8,
		LatencyMS: 90, SessionID: "sess2", Status: "error", ErrorMessage: "boom",
	})

	rows, err := s.Query(ctx, QueryFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	bySession, _ := s.Query(ctx, QueryFilter{SessionID: "sess1"})
	if len(bySession) != 1 || bySession[0].InputTokens != 10 {
		t.Fatalf("expected sess1 row, got %+v", bySession)
	}

	byStatus, _ := s.Query(ctx, QueryFilter{Status: "error"})
	if len(byStatus) != 1 || byStatus[0].ErrorMessage != "boom" {
		t.Fatalf("expected error row, got %+v", byStatus)
	}
}

func TestSummarize(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.LogRequest(ctx, CostRow{Provider: "claude", Model: "m", InputTokens: 100, OutputTokens: 50, LatencyMS: 200, Status: "success"})
	s.LogRequest(ctx, CostRow{Provider: "claude", Model: "m", InputTokens: 200, OutputTokens: 80, LatencyMS: 300, Status: "success"})
	s.LogRequest(ctx, CostRow{Provider: "claude", Model: "m", InputTokens: 0, OutputTokens: 0, LatencyMS: 50, Status: "error"})

	sum, err := s.Summarize(ctx, QueryFilter{})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.TotalRequests != 3 {
		t.Errorf("total_requests = %d, want 3", sum.TotalRequests)
	}
	if sum.TotalInputTokens != 300 {
		t.Errorf("total_input_tokens = %d, want 300", sum.TotalInputTokens)
	}
	if sum.TotalOutputTokens != 130 {
		t.Errorf("total_output_tokens = %d, want 130", sum.TotalOutputTokens)
	}
	if sum.ErrorCount != 1 {
		t.Errorf("error_count = %d, want 1", sum.ErrorCount)
	}
	wantAvg := float64(200+300+50) / 3
	if sum.AvgLatencyMS < wantAvg-0.01 || sum.AvgLatencyMS > wantAvg+0.01 {
		t.Errorf("avg_latency_ms = %f, want %f", sum.AvgLatencyMS, wantAvg)
	}
}

func TestInertStoreIsNoOp(t *testing.T) {
	s := &Store{}
	ctx := context.Background()

	s.LogRequest(ctx, CostRow{Provider: "claude", Model: "m"})
	rows, err := s.Query(ctx, QueryFilter{})
	if err != nil || rows != nil {
		t.Fatalf("expected inert query to return nothing, got %v / %v", rows, err)
	}
	if _, err := s.Summarize(ctx, QueryFilter{}); err != nil {
		t.Fatalf("expected inert summarize to be a no-op, got %v", err)
	}
	if n, err := s.DeleteOlderThan(ctx, time.Now()); n != 0 || err != nil {
		t.Fatalf("expected inert delete to be a no-op, got %d / %v", n, err)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.LogRequest(ctx, CostRow{Provider: "claude", Model: "m", Status: "success"})

	// Rows default ts to now; a cutoff in the past deletes nothing, one in
	// the future deletes everything.
	n, err := s.DeleteOlderThan(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("expected no deletions for past cutoff, got %d / %v", n, err)
	}
	n, err = s.DeleteOlderThan(ctx, time.Now().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 deletion for future cutoff, got %d / %v", n, err)
	}
}
