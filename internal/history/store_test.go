package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	runs := []Run{
		{CycleID: "c1", IssueKey: "PROJ-1", Label: "ai-investigate", Status: "succeeded", CostUSD: 0.25,
			StartedAt: base, FinishedAt: base.Add(time.Minute)},
		{CycleID: "c1", IssueKey: "PROJ-2", Label: "ai-fix", Status: "failed", ErrorKind: "agent_timeout",
			StartedAt: base.Add(2 * time.Minute), FinishedAt: base.Add(12 * time.Minute)},
		{CycleID: "c2", IssueKey: "PROJ-3", Label: "ai-fix", Status: "succeeded", CostUSD: 1.5,
			PRURL: "https://github.com/acme/app/pull/9", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + time.Minute)},
	}
	for _, r := range runs {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].IssueKey != "PROJ-3" || got[1].IssueKey != "PROJ-2" {
		t.Errorf("order = %s, %s", got[0].IssueKey, got[1].IssueKey)
	}
	if got[0].ID == "" {
		t.Error("ID not assigned")
	}
	if got[0].PRURL != "https://github.com/acme/app/pull/9" || got[0].CostUSD != 1.5 {
		t.Errorf("run = %+v", got[0])
	}
	if got[1].ErrorKind != "agent_timeout" || got[1].Duration() != 10*time.Minute {
		t.Errorf("run = %+v (duration %s)", got[1], got[1].Duration())
	}

	total, err := s.TotalCost(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("TotalCost: %v", err)
	}
	if total != 1.5 {
		t.Errorf("TotalCost = %v, want 1.5", total)
	}
}

func TestTotalCost_Empty(t *testing.T) {
	s := newTestStore(t)
	total, err := s.TotalCost(context.Background(), time.Time{})
	if err != nil || total != 0 {
		t.Errorf("TotalCost() = %v, %v", total, err)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Now()
	if err := s.Record(context.Background(), Run{ID: "fixed", IssueKey: "PROJ-1", Label: "ai-impact",
		Status: "blocked", StartedAt: now, FinishedAt: now}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	_ = s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s.Close() }()
	got, err := s.Recent(context.Background(), 0)
	if err != nil || len(got) != 1 || got[0].ID != "fixed" {
		t.Errorf("Recent() = %+v, %v", got, err)
	}
}
