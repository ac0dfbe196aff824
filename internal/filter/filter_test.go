package filter

import (
	"testing"
	"time"

	"github.com/nekrassov01/hitreplay/internal/hit"
)

func TestHostnameFilter(t *testing.T) {
	cfg := &Config{Hostnames: []string{"example.com"}}
	f := HostnameFilter(cfg)

	h := hit.New("f", 1)
	h.Host = "other.com"
	if r := f(h); r != ReasonHostname {
		t.Fatalf("expected rejection, got %q", r)
	}

	h.Host = "Example.com"
	if r := f(h); r != ReasonNone {
		t.Fatalf("expected case-insensitive allow, got %q", r)
	}
}

func TestStaticFilterRejectsWithoutTagging(t *testing.T) {
	cfg := &Config{EnableStatic: false}
	f := StaticFilter(cfg)

	h := hit.New("f", 1)
	h.Path = "/logo.png"
	if r := f(h); r != ReasonStatic {
		t.Fatalf("expected static rejection, got %q", r)
	}
	if h.IsDownload {
		t.Fatal("expected a rejected static hit not to be tagged as a download")
	}
}

func TestStaticFilterEnabled(t *testing.T) {
	cfg := &Config{EnableStatic: true}
	f := StaticFilter(cfg)
	h := hit.New("f", 1)
	h.Path = "/logo.png"
	if r := f(h); r != ReasonNone {
		t.Fatalf("expected pass-through when static is enabled, got %q", r)
	}
}

func TestUserAgentFilterBot(t *testing.T) {
	cfg := &Config{EnableBots: false}
	f := UserAgentFilter(cfg)
	h := hit.New("f", 1)
	h.UserAgent = "Googlebot/2.1"
	if r := f(h); r != ReasonBot {
		t.Fatalf("expected bot rejection, got %q", r)
	}
	if !h.IsRobot {
		t.Fatal("expected IsRobot to be tagged")
	}
}

func TestHTTPErrorFilter(t *testing.T) {
	cfg := &Config{EnableHTTPErrors: false}
	f := HTTPErrorFilter(cfg)
	h := hit.New("f", 1)
	h.Status = "404"
	if r := f(h); r != ReasonError {
		t.Fatalf("expected error rejection, got %q", r)
	}
	if !h.IsError {
		t.Fatal("expected IsError to be tagged")
	}
}

func TestHTTPRedirectFilter(t *testing.T) {
	cfg := &Config{EnableHTTPRedirects: false}
	f := HTTPRedirectFilter(cfg)
	h := hit.New("f", 1)
	h.Status = "302"
	if r := f(h); r != ReasonRedirect {
		t.Fatalf("expected redirect rejection, got %q", r)
	}
}

func TestHTTPRedirectFilterExempts304(t *testing.T) {
	cfg := &Config{EnableHTTPRedirects: false}
	f := HTTPRedirectFilter(cfg)
	h := hit.New("f", 1)
	h.Status = "304"
	if r := f(h); r != ReasonNone {
		t.Fatalf("expected 304 to pass through untouched, got %q", r)
	}
	if h.IsRedirect {
		t.Fatal("304 must not be tagged as a redirect")
	}
}

func TestHTTPErrorFilterReplayBypass(t *testing.T) {
	cfg := &Config{Replay: true, EnableHTTPErrors: false}
	f := HTTPErrorFilter(cfg)
	h := hit.New("f", 1)
	h.Status = "500"
	if r := f(h); r != ReasonNone {
		t.Fatalf("expected replay mode to keep http errors, got %q", r)
	}
	if !h.IsError {
		t.Fatal("expected IsError to still be tagged")
	}
}

func TestDownloadFilterWhitelistedExtension(t *testing.T) {
	cfg := &Config{}
	f := DownloadFilter(cfg)
	h := hit.New("f", 1)
	h.Path = "/file.zip"
	if r := f(h); r != ReasonNone {
		t.Fatalf("expected a known download extension to pass by default, got %q", r)
	}
	if !h.IsDownload {
		t.Fatal("expected IsDownload to be tagged")
	}
}

func TestDownloadFilterRestrictedWhitelist(t *testing.T) {
	cfg := &Config{DownloadExtensions: []string{"pdf"}}
	f := DownloadFilter(cfg)
	h := hit.New("f", 1)
	h.Path = "/file.zip"
	if r := f(h); r != ReasonDownload {
		t.Fatalf("expected a non-whitelisted known download extension to be rejected, got %q", r)
	}
}

func TestStaticFilterDistinctFromDownload(t *testing.T) {
	cfg := &Config{EnableStatic: true}
	f := StaticFilter(cfg)
	h := hit.New("f", 1)
	h.Path = "/archive.zip"
	if r := f(h); r != ReasonNone {
		t.Fatalf("expected a download-only extension to pass the static stage untouched, got %q", r)
	}
	if h.IsDownload {
		t.Fatal("the static stage must not tag a non-static extension as a download")
	}
}

func TestStaticFilterRobotsTxt(t *testing.T) {
	cfg := &Config{EnableStatic: false}
	f := StaticFilter(cfg)
	h := hit.New("f", 1)
	h.Path = "/robots.txt"
	if r := f(h); r != ReasonStatic {
		t.Fatalf("expected robots.txt to be rejected when static tracking is disabled, got %q", r)
	}
}

func TestDateAndHostFilterWindow(t *testing.T) {
	cfg := &Config{
		ExcludeOlderThan: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f := DateAndHostFilter(cfg)
	h := hit.New("f", 1)
	h.Date = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	if r := f(h); r != ReasonDateOutOfRange {
		t.Fatalf("expected date rejection, got %q", r)
	}
}

func TestChainStopsAtFirstRejection(t *testing.T) {
	cfg := &Config{Hostnames: []string{"example.com"}, EnableStatic: false}
	chain := NewChain(cfg)
	h := hit.New("f", 1)
	h.Host = "other.com"
	h.Path = "/logo.png"
	if r := chain.Run(h); r != ReasonHostname {
		t.Fatalf("expected the hostname stage to reject first, got %q", r)
	}
	if h.IsDownload {
		t.Fatal("later stages must not run once an earlier stage rejects")
	}
}
