package stats

import (
	"strings"
	"testing"
	"time"
)

func TestCountersSummary(t *testing.T) {
	c := NewCounters()
	c.IncLinesParsed()
	c.IncLinesParsed()
	c.IncHitsRecorded()
	c.AddIgnoredHostname("a.example.com")
	c.AddIgnoredHostname("a.example.com")
	c.AddIgnoredHostname("b.example.com")

	out := c.Summary(2 * time.Second)
	if !strings.Contains(out, "2 lines parsed") {
		t.Fatalf("summary missing lines parsed: %q", out)
	}
	if !strings.Contains(out, "1 hits recorded") {
		t.Fatalf("summary missing hits recorded: %q", out)
	}
	if !strings.Contains(out, "2 distinct hostnames excluded") {
		t.Fatalf("summary should dedupe hostnames: %q", out)
	}
}

func TestWriteTableFallsBackToSummaryWhenNotATerminal(t *testing.T) {
	c := NewCounters()
	c.IncLinesParsed()

	var b strings.Builder
	// fd 99 is never a terminal in a test process
	if err := c.WriteTable(time.Second, &b, 99); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	if !strings.Contains(b.String(), "lines parsed") {
		t.Fatalf("expected plain summary fallback, got %q", b.String())
	}
}
