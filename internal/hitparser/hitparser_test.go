package hitparser

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nekrassov01/hitreplay/internal/filter"
	"github.com/nekrassov01/hitreplay/internal/format"
	"github.com/sirupsen/logrus"
)

// TestParseReaderNormalizesTimezone exercises spec.md §8 boundary
// scenario 1 / invariant 7: the stored instant subtracts the log's own
// UTC offset from the naive wall-clock value.
func TestParseReaderNormalizesTimezone(t *testing.T) {
	f := format.NewCommon()
	chain := filter.NewChain(&filter.Config{EnableStatic: true})
	p := New(f, Config{}, chain, logrus.NewEntry(logrus.New()))

	r := strings.NewReader(`127.0.0.1 - frank [10/Oct/2000:13:55:36 -0700] "GET /apache_pb.gif HTTP/1.0" 200 2326` + "\n")

	var got []Line
	err := p.ParseReader(context.Background(), "test.log", r, func(l Line) bool {
		got = append(got, l)
		return true
	})
	if err != nil {
		t.Fatalf("ParseReader: %v", err)
	}
	if len(got) != 1 || got[0].Outcome != OutcomeRecorded {
		t.Fatalf("expected a recorded line, got %#v", got)
	}
	want := time.Date(2000, 10, 10, 20, 55, 36, 0, time.UTC)
	if !got[0].Hit.Date.Equal(want) {
		t.Fatalf("date = %v, want %v", got[0].Hit.Date, want)
	}
}

// TestParseReaderAppliesSecondsToAddToDate covers the seconds_to_add_to_date shift.
func TestParseReaderAppliesSecondsToAddToDate(t *testing.T) {
	f := format.NewCommon()
	chain := filter.NewChain(&filter.Config{EnableStatic: true})
	p := New(f, Config{SecondsToAddToDate: 3600}, chain, logrus.NewEntry(logrus.New()))

	r := strings.NewReader(`127.0.0.1 - frank [10/Oct/2000:13:55:36 -0700] "GET /apache_pb.gif HTTP/1.0" 200 2326` + "\n")

	var got []Line
	err := p.ParseReader(context.Background(), "test.log", r, func(l Line) bool {
		got = append(got, l)
		return true
	})
	if err != nil {
		t.Fatalf("ParseReader: %v", err)
	}
	want := time.Date(2000, 10, 10, 21, 55, 36, 0, time.UTC)
	if !got[0].Hit.Date.Equal(want) {
		t.Fatalf("date = %v, want %v", got[0].Hit.Date, want)
	}
}

func TestParseReaderRecordsCommonLogLine(t *testing.T) {
	f := format.NewCommon()
	chain := filter.NewChain(&filter.Config{EnableStatic: true, EnableBots: true, EnableHTTPErrors: true, EnableHTTPRedirects: true})
	p := New(f, Config{}, chain, logrus.NewEntry(logrus.New()))

	r := strings.NewReader(`127.0.0.1 - frank [10/Oct/2020:13:55:36 -0700] "GET /index.html HTTP/1.0" 200 2326` + "\n")

	var got []Line
	err := p.ParseReader(context.Background(), "test.log", r, func(l Line) bool {
		got = append(got, l)
		return true
	})
	if err != nil {
		t.Fatalf("ParseReader: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 line, got %d", len(got))
	}
	if got[0].Outcome != OutcomeRecorded {
		t.Fatalf("expected OutcomeRecorded, got %v (err=%v)", got[0].Outcome, got[0].Err)
	}
	if got[0].Hit.Path != "/index.html" {
		t.Fatalf("path = %q", got[0].Hit.Path)
	}
	if got[0].Hit.IP != "127.0.0.1" {
		t.Fatalf("ip = %q", got[0].Hit.IP)
	}
}

func TestParseReaderInvalidLine(t *testing.T) {
	f := format.NewCommon()
	p := New(f, Config{}, nil, logrus.NewEntry(logrus.New()))

	r := strings.NewReader("this does not match common log format\n")
	var got []Line
	err := p.ParseReader(context.Background(), "test.log", r, func(l Line) bool {
		got = append(got, l)
		return true
	})
	if err != nil {
		t.Fatalf("ParseReader: %v", err)
	}
	if len(got) != 1 || got[0].Outcome != OutcomeInvalid {
		t.Fatalf("expected a single invalid line, got %#v", got)
	}
}

func TestParseReaderRespectsDebugRequestLimit(t *testing.T) {
	f := format.NewCommon()
	chain := filter.NewChain(&filter.Config{EnableStatic: true, EnableBots: true, EnableHTTPErrors: true, EnableHTTPRedirects: true})
	p := New(f, Config{DebugRequestLimit: 1}, chain, logrus.NewEntry(logrus.New()))

	line := `127.0.0.1 - frank [10/Oct/2020:13:55:36 -0700] "GET /a HTTP/1.0" 200 1` + "\n"
	r := strings.NewReader(line + line + line)

	count := 0
	err := p.ParseReader(context.Background(), "test.log", r, func(l Line) bool {
		count++
		return true
	})
	if err != nil {
		t.Fatalf("ParseReader: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected scan to stop after the debug request limit, got %d lines", count)
	}
}
