package meta

import (
	"path/filepath"
	"testing"
	"time"
)

func TestHistoryAppendAndList(t *testing.T) {
	p := filepath.Join(t.TempDir(), "history.db")
	h, err := OpenHistory(p)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	if err := h.Append(Record{RunID: "r1", RemotePath: "/a", Outcome: "success", FinishedAt: now}); err != nil {
		t.Fatalf("append: %v", err)
	}
	err = h.AppendBatch([]Record{
		{RunID: "r2", RemotePath: "/b", Outcome: "exists", FinishedAt: now.Add(time.Minute)},
		{RunID: "r2", RemotePath: "/c", Outcome: "failed", Error: "timeout", FinishedAt: now.Add(2 * time.Minute)},
	})
	if err != nil {
		t.Fatalf("append batch: %v", err)
	}

	all, err := h.List(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].RemotePath != "/c" || all[2].RemotePath != "/a" {
		t.Fatalf("unexpected order: %+v", all)
	}
	if all[0].Error != "timeout" {
		t.Fatalf("error not stored: %+v", all[0])
	}

	latest, err := h.List(2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(latest) != 2 || latest[1].RemotePath != "/b" {
		t.Fatalf("limit not applied: %+v", latest)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// 重新打开后记录仍在，序号继续递增
	h, err = OpenHistory(p)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer h.Close()
	if err := h.Append(Record{RunID: "r3", RemotePath: "/d", FinishedAt: now}); err != nil {
		t.Fatalf("append: %v", err)
	}
	latest, err = h.List(1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(latest) != 1 || latest[0].RemotePath != "/d" {
		t.Fatalf("latest = %+v", latest)
	}
}
