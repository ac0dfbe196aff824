package hit

import "testing"

func TestVisitorKeyFallsBackToIP(t *testing.T) {
	h := New("f", 1)
	h.IP = "1.2.3.4"
	if got := h.VisitorKey(false); got != "1.2.3.4" {
		t.Fatalf("VisitorKey = %q", got)
	}
}

func TestVisitorKeyReplayPrefersUID(t *testing.T) {
	h := New("f", 1)
	h.IP = "1.2.3.4"
	h.Args["uid"] = "visitor-42"
	if got := h.VisitorKey(true); got != "visitor-42" {
		t.Fatalf("VisitorKey = %q", got)
	}
}

func TestAddPageCustomVar(t *testing.T) {
	h := New("f", 1)
	h.AddPageCustomVar("k1", "v1")
	h.AddPageCustomVar("k2", "v2")

	cvars, ok := h.Args["cvar"].(map[string]any)
	if !ok {
		t.Fatalf("cvar = %#v", h.Args["cvar"])
	}
	if len(cvars) != 2 {
		t.Fatalf("expected 2 custom vars, got %d", len(cvars))
	}
	pair, ok := cvars["1"].([]any)
	if !ok || pair[0] != "k1" || pair[1] != "v1" {
		t.Fatalf("cvars[1] = %#v", cvars["1"])
	}
}
