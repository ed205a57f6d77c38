// internal/perf/tracker_test.go
package perf

import (
	"testing"
	"time"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestTracker_Percentiles(t *testing.T) {
	tr := NewTracker(100)

	// 1..100ms gives exact nearest-rank percentiles.
	for i := 1; i <= 100; i++ {
		tr.Record("example.com", "intelligence", true, Timing{Total: ms(i)})
	}

	stats := tr.DomainStats("example.com")
	if stats.Count != 100 {
		t.Fatalf("count = %d, want 100", stats.Count)
	}
	if stats.P50 != ms(50) {
		t.Errorf("p50 = %v, want %v", stats.P50, ms(50))
	}
	if stats.P95 != ms(95) {
		t.Errorf("p95 = %v, want %v", stats.P95, ms(95))
	}
	if stats.P99 != ms(99) {
		t.Errorf("p99 = %v, want %v", stats.P99, ms(99))
	}
	if stats.Min != ms(1) || stats.Max != ms(100) {
		t.Errorf("min/max = %v/%v, want 1ms/100ms", stats.Min, stats.Max)
	}

	system := tr.SystemStats()
	if system.Count != 100 {
		t.Errorf("system count = %d, want 100", system.Count)
	}
}

func TestTracker_WindowSlides(t *testing.T) {
	tr := NewTracker(10)

	for i := 0; i < 25; i++ {
		tr.Record("example.com", "intelligence", true, Timing{Total: ms(i)})
	}

	stats := tr.DomainStats("example.com")
	if stats.Count != 10 {
		t.Fatalf("count = %d, want 10 (window size)", stats.Count)
	}
	// Oldest retained sample is 15ms after 25 records into a 10-slot window.
	if stats.Min != ms(15) {
		t.Errorf("min = %v, want %v", stats.Min, ms(15))
	}
}

func TestTracker_PreferredTier(t *testing.T) {
	tr := NewTracker(100)

	for i := 0; i < 5; i++ {
		tr.Record("example.com", "lightweight", true, Timing{Total: ms(100)})
	}
	for i := 0; i < 3; i++ {
		tr.Record("example.com", "intelligence", true, Timing{Total: ms(50)})
	}
	// Failures never count toward preference.
	for i := 0; i < 10; i++ {
		tr.Record("example.com", "browser", false, Timing{Total: ms(900)})
	}

	if got := tr.PreferredTier("example.com"); got != "lightweight" {
		t.Errorf("PreferredTier = %q, want lightweight", got)
	}
	if got := tr.PreferredTier("unknown.com"); got != "" {
		t.Errorf("PreferredTier for unseen domain = %q, want empty", got)
	}
}

func TestTracker_Rankings(t *testing.T) {
	tr := NewTracker(100)

	tr.Record("slow.com", "browser", true, Timing{Total: ms(900)})
	tr.Record("fast.com", "intelligence", true, Timing{Total: ms(10)})
	tr.Record("mid.com", "lightweight", true, Timing{Total: ms(200)})

	fastest := tr.FastestDomains(2)
	if len(fastest) != 2 || fastest[0].Domain != "fast.com" {
		t.Errorf("FastestDomains = %+v, want fast.com first", fastest)
	}
	slowest := tr.SlowestDomains(1)
	if len(slowest) != 1 || slowest[0].Domain != "slow.com" {
		t.Errorf("SlowestDomains = %+v, want slow.com", slowest)
	}
}

func TestTracker_ComponentBreakdown(t *testing.T) {
	tr := NewTracker(100)

	tr.Record("example.com", "intelligence", true, Timing{
		Total: ms(100), Network: ms(60), Parsing: ms(20), Extraction: ms(20),
	})
	tr.Record("example.com", "intelligence", true, Timing{
		Total: ms(200), Network: ms(120), Parsing: ms(40), Extraction: ms(40),
	})

	breakdown := tr.ComponentBreakdown("example.com")
	if breakdown["network"] != ms(90) {
		t.Errorf("network avg = %v, want %v", breakdown["network"], ms(90))
	}
	if breakdown["parsing"] != ms(30) {
		t.Errorf("parsing avg = %v, want %v", breakdown["parsing"], ms(30))
	}
	if breakdown["js_execution"] != 0 {
		t.Errorf("js avg = %v, want 0", breakdown["js_execution"])
	}
}

func TestTracker_EmptyStats(t *testing.T) {
	tr := NewTracker(0)

	if stats := tr.DomainStats("nothing.com"); stats.Count != 0 {
		t.Errorf("empty domain stats count = %d", stats.Count)
	}
	if stats := tr.SystemStats(); stats.Count != 0 {
		t.Errorf("empty system stats count = %d", stats.Count)
	}
}
