package reqbuilder

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nekrassov01/hitreplay/internal/hit"
)

func TestFlattenDeepArray(t *testing.T) {
	out := make(map[string]any)
	assignDeepArray(out, "a", []string{"b", "c", ""}, "v1")
	assignDeepArray(out, "a", []string{"b", "c", ""}, "v2")

	want := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": []any{"v1", "v2"},
			},
		},
	}
	got := map[string]any{"a": collapseLists(out["a"])}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("flatten mismatch (-want +got):\n%s", diff)
	}
}

func TestCollapseListsLeavesCustomVarsAlone(t *testing.T) {
	// cvar entries are keyed from "1" (internal/hit), so a contiguous-from-0
	// list conversion must never touch them.
	in := map[string]any{
		"1": []any{"key1", "val1"},
		"2": []any{"key2", "val2"},
	}
	got := collapseLists(in)
	if _, ok := got.(map[string]any); !ok {
		t.Fatalf("expected a cvar-shaped map keyed from 1 to stay a map, got %T", got)
	}
}

func TestSplitDeepArrayKey(t *testing.T) {
	root, path, ok := splitDeepArrayKey("a[b][c][]")
	if !ok || root != "a" {
		t.Fatalf("root = %q, ok = %v", root, ok)
	}
	want := []string{"b", "c", ""}
	for i, p := range want {
		if path[i] != p {
			t.Fatalf("path[%d] = %q, want %q", i, path[i], p)
		}
	}
}

func TestSplitDeepArrayKeyPlainScalar(t *testing.T) {
	_, _, ok := splitDeepArrayKey("idsite")
	if ok {
		t.Fatal("expected a plain key to not be treated as a deep array")
	}
}

func TestErrorOrRedirectRule(t *testing.T) {
	cfg := &Config{}
	rule := errorOrRedirectRule(cfg)

	h := hit.New("f", 1)
	h.IsRedirect = true
	h.Status = "301"
	args := map[string]any{"url": "/old"}
	rule(h, "", args)

	if args["action_name"] != "301/URL = %2Fold" {
		t.Fatalf("action_name = %v", args["action_name"])
	}
}

func TestErrorOrRedirectRuleIncludesFrom(t *testing.T) {
	cfg := &Config{}
	rule := errorOrRedirectRule(cfg)

	h := hit.New("f", 1)
	h.IsError = true
	h.Status = "404"
	args := map[string]any{"url": "/missing", "urlref": "/from here"}
	rule(h, "", args)

	want := "404/URL = %2Fmissing/From = %2Ffrom%20here"
	if args["action_name"] != want {
		t.Fatalf("action_name = %v, want %v", args["action_name"], want)
	}
}

func TestErrorOrRedirectRuleNeitherSet(t *testing.T) {
	rule := errorOrRedirectRule(&Config{})
	h := hit.New("f", 1)
	args := map[string]any{}
	rule(h, "", args)
	if _, ok := args["action_name"]; ok {
		t.Fatal("action_name should not be set when neither is_error nor is_redirect")
	}
}

func TestBuildNonReplay(t *testing.T) {
	b := New(&Config{Replay: false})
	h := hit.New("f", 1)
	h.FullPath = "/x"
	h.UserAgent = "UA"
	h.IP = "1.2.3.4"
	h.Host = "example.com"

	args := b.Build(h, "https://example.com")
	if args["url"] != "https://example.com/x" {
		t.Fatalf("url = %v", args["url"])
	}
	if args["rec"] != "1" {
		t.Fatalf("rec = %v", args["rec"])
	}
	if args["dp"] != "1" {
		t.Fatalf("dp = %v, want 1 (reverse dns disabled)", args["dp"])
	}
	if args["queuedtracking"] != "0" {
		t.Fatalf("queuedtracking = %v", args["queuedtracking"])
	}
	if args["ts_n"] != trackingClientName || args["ts_v"] != trackingClientVersion {
		t.Fatalf("ts_n/ts_v = %v/%v", args["ts_n"], args["ts_v"])
	}
}

func TestBuildReplaySetsRecZero(t *testing.T) {
	b := New(&Config{Replay: true})
	h := hit.New("f", 1)
	h.Args["idsite"] = "7"

	args := b.Build(h, "")
	if args["rec"] != "0" {
		t.Fatalf("rec = %v, want 0 in replay mode", args["rec"])
	}
	if _, ok := args["ts_n"]; ok {
		t.Fatal("ts_n must not be set in replay mode")
	}
}

func TestBuildReverseDNSSetsDPZero(t *testing.T) {
	b := New(&Config{ReverseDNSEnabled: true})
	h := hit.New("f", 1)
	args := b.Build(h, "")
	if args["dp"] != "0" {
		t.Fatalf("dp = %v, want 0 when reverse dns is enabled", args["dp"])
	}
}

func TestBuildSerializesCustomVars(t *testing.T) {
	b := New(&Config{})
	h := hit.New("f", 1)
	h.AddPageCustomVar("k1", "v1")

	args := b.Build(h, "")
	cvar, ok := args["cvar"].(string)
	if !ok {
		t.Fatalf("expected cvar to be serialized to a JSON string, got %T", args["cvar"])
	}
	if cvar == "" {
		t.Fatal("expected a non-empty serialized cvar")
	}
}

func TestBuildBotsOnlyWhenEnabled(t *testing.T) {
	h := hit.New("f", 1)

	args := New(&Config{EnableBots: false}).Build(h, "")
	if _, ok := args["bots"]; ok {
		t.Fatal("bots must not be set when bot tracking is disabled")
	}

	args = New(&Config{EnableBots: true}).Build(h, "")
	if args["bots"] != "1" {
		t.Fatalf("bots = %v, want 1 when bot tracking is enabled", args["bots"])
	}
}
