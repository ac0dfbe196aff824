package resolver

import (
	"context"
	"testing"
)

func TestStaticAlwaysResolves(t *testing.T) {
	r := NewStatic("42", nil)
	id, mainURL, ok, err := r.Resolve(context.Background(), "anything.example.com")
	if err != nil || !ok || id != "42" || mainURL != "" {
		t.Fatalf("id=%q mainURL=%q ok=%v err=%v", id, mainURL, ok, err)
	}
}

func TestStaticFetchesMainURLOnce(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context, siteID string) (string, error) {
		calls++
		return "https://example.com", nil
	}
	r := NewStatic("42", fetch)
	for i := 0; i < 3; i++ {
		_, mainURL, ok, err := r.Resolve(context.Background(), "host")
		if err != nil || !ok || mainURL != "https://example.com" {
			t.Fatalf("mainURL=%q ok=%v err=%v", mainURL, ok, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected the main url fetch to happen once, got %d calls", calls)
	}
}

func TestDynamicCachesHits(t *testing.T) {
	calls := 0
	lookup := func(ctx context.Context, host string) (string, string, bool, error) {
		calls++
		return "site-" + host, "https://" + host, true, nil
	}
	r := NewDynamic(lookup)

	for i := 0; i < 3; i++ {
		id, mainURL, ok, err := r.Resolve(context.Background(), "example.com")
		if err != nil || !ok || id != "site-example.com" || mainURL != "https://example.com" {
			t.Fatalf("id=%q mainURL=%q ok=%v err=%v", id, mainURL, ok, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected exactly one lookup for a repeated host, got %d", calls)
	}
}

func TestDynamicCachesMisses(t *testing.T) {
	calls := 0
	lookup := func(ctx context.Context, host string) (string, string, bool, error) {
		calls++
		return "", "", false, nil
	}
	r := NewDynamic(lookup)

	for i := 0; i < 3; i++ {
		_, _, ok, err := r.Resolve(context.Background(), "unknown.example.com")
		if err != nil || ok {
			t.Fatalf("expected a cached miss, ok=%v err=%v", ok, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected the miss to be cached after the first lookup, got %d calls", calls)
	}
}

func TestDynamicNormalizesHost(t *testing.T) {
	var seen string
	lookup := func(ctx context.Context, host string) (string, string, bool, error) {
		seen = host
		return "1", "https://example.com", true, nil
	}
	r := NewDynamic(lookup)
	if _, _, _, err := r.Resolve(context.Background(), "EXAMPLE.COM."); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if seen != "example.com" {
		t.Fatalf("expected a lowercased, trailing-dot-stripped host, got %q", seen)
	}
}

func TestDynamicEmptyHostUsesSentinel(t *testing.T) {
	var seen string
	lookup := func(ctx context.Context, host string) (string, string, bool, error) {
		seen = host
		return "1", "", true, nil
	}
	r := NewDynamic(lookup)
	if _, _, _, err := r.Resolve(context.Background(), ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if seen != "no-hostname-found-in-log" {
		t.Fatalf("expected the no-hostname sentinel, got %q", seen)
	}
}

func TestReplayResolveFails(t *testing.T) {
	r := NewReplay()
	if _, _, _, err := r.Resolve(context.Background(), "example.com"); err == nil {
		t.Fatal("expected Replay.Resolve to always fail")
	}
}
