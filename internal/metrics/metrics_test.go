package metrics

import (
	"testing"
	"time"
)

func TestRecorderSnapshot(t *testing.T) {
	r := NewRecorder()
	for i := 1; i <= 100; i++ {
		r.Record("prompt.list", time.Duration(i)*time.Millisecond, i == 100)
	}
	r.Record("collection.list", 0, false)

	stats := r.Snapshot()
	if len(stats) != 2 {
		t.Fatalf("expected 2 series, got %d", len(stats))
	}
	if stats[0].Name != "collection.list" || stats[1].Name != "prompt.list" {
		t.Fatalf("snapshot not sorted: %+v", stats)
	}

	p := stats[1]
	if p.Count != 100 || p.Errors != 1 {
		t.Fatalf("unexpected counts %+v", p)
	}
	if p.P50Ms < 49 || p.P50Ms > 51 {
		t.Fatalf("p50 out of range: %v", p.P50Ms)
	}
	if p.MaxMs < 99.9 || p.MaxMs > 100.1 {
		t.Fatalf("max out of range: %v", p.MaxMs)
	}
	if stats[0].Count != 1 {
		t.Fatalf("zero duration should still be recorded")
	}
}

func TestRecorderReset(t *testing.T) {
	r := NewRecorder()
	r.Record("x", time.Millisecond, false)
	r.Reset()
	if len(r.Snapshot()) != 0 {
		t.Fatal("expected empty snapshot after reset")
	}
}
