// Package stats implements the run's counters and final summary,
// following the same shape as the teacher's parser_result.go: plain
// exported fields plus an optional terminal-aware table rendering.
package stats

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/nekrassov01/mintab"
)

// Counters holds every eventually-consistent run counter, each a plain
// int64 updated with atomic.AddInt64 (spec.md §4.8's "lock-free"
// requirement) — readers may observe a slightly stale total while a
// recorder worker is mid-increment, which is acceptable for a progress
// monitor and the final summary alike.
type Counters struct {
	LinesParsed       int64
	LinesInvalid      int64
	LinesFiltered     int64
	HitsRecorded      int64
	HitsDownload      int64
	HitsBot           int64
	HitsError         int64
	HitsRedirect      int64
	RequestsSent      int64
	RequestsRetried   int64

	ignoredHostnames syncSet
}

// syncSet is a tiny concurrent string set used to track distinct
// excluded hostnames for the summary, guarded by a mutex since it's
// updated far less often than the atomic counters above.
type syncSet struct {
	mu sync.Mutex
	m  map[string]struct{}
}

// NewCounters returns a ready-to-use Counters.
func NewCounters() *Counters {
	return &Counters{ignoredHostnames: syncSet{m: make(map[string]struct{})}}
}

func (c *Counters) IncLinesParsed()   { atomic.AddInt64(&c.LinesParsed, 1) }
func (c *Counters) IncLinesInvalid()  { atomic.AddInt64(&c.LinesInvalid, 1) }
func (c *Counters) IncLinesFiltered() { atomic.AddInt64(&c.LinesFiltered, 1) }
func (c *Counters) IncHitsRecorded()  { atomic.AddInt64(&c.HitsRecorded, 1) }
func (c *Counters) IncHitsDownload()  { atomic.AddInt64(&c.HitsDownload, 1) }
func (c *Counters) IncHitsBot()       { atomic.AddInt64(&c.HitsBot, 1) }
func (c *Counters) IncHitsError()     { atomic.AddInt64(&c.HitsError, 1) }
func (c *Counters) IncHitsRedirect()  { atomic.AddInt64(&c.HitsRedirect, 1) }
func (c *Counters) IncRequestsSent()  { atomic.AddInt64(&c.RequestsSent, 1) }
func (c *Counters) IncRequestsRetried() {
	atomic.AddInt64(&c.RequestsRetried, 1)
}

// AddIgnoredHostname records host as a distinct excluded hostname, for
// the final summary's "N distinct hostnames excluded" line.
func (c *Counters) AddIgnoredHostname(host string) {
	c.ignoredHostnames.mu.Lock()
	defer c.ignoredHostnames.mu.Unlock()
	c.ignoredHostnames.m[host] = struct{}{}
}

func (c *Counters) distinctIgnoredHostnames() int {
	c.ignoredHostnames.mu.Lock()
	defer c.ignoredHostnames.mu.Unlock()
	return len(c.ignoredHostnames.m)
}

// snapshot is an immutable copy of Counters suitable for rendering.
type snapshot struct {
	LinesParsed, LinesInvalid, LinesFiltered int64
	HitsRecorded, HitsDownload, HitsBot      int64
	HitsError, HitsRedirect                  int64
	RequestsSent, RequestsRetried            int64
	DistinctIgnoredHostnames                 int
	Elapsed                                  time.Duration
}

func (c *Counters) snapshot(elapsed time.Duration) snapshot {
	return snapshot{
		LinesParsed:              atomic.LoadInt64(&c.LinesParsed),
		LinesInvalid:             atomic.LoadInt64(&c.LinesInvalid),
		LinesFiltered:            atomic.LoadInt64(&c.LinesFiltered),
		HitsRecorded:             atomic.LoadInt64(&c.HitsRecorded),
		HitsDownload:             atomic.LoadInt64(&c.HitsDownload),
		HitsBot:                  atomic.LoadInt64(&c.HitsBot),
		HitsError:                atomic.LoadInt64(&c.HitsError),
		HitsRedirect:             atomic.LoadInt64(&c.HitsRedirect),
		RequestsSent:             atomic.LoadInt64(&c.RequestsSent),
		RequestsRetried:          atomic.LoadInt64(&c.RequestsRetried),
		DistinctIgnoredHostnames: c.distinctIgnoredHostnames(),
		Elapsed:                  elapsed,
	}
}

// Summary renders the final plain-text report (spec.md §4.8).
func (c *Counters) Summary(elapsed time.Duration) string {
	s := c.snapshot(elapsed)
	var b strings.Builder
	fmt.Fprintf(&b, "%d lines parsed, %d invalid, %d filtered\n", s.LinesParsed, s.LinesInvalid, s.LinesFiltered)
	fmt.Fprintf(&b, "%d hits recorded (%d downloads, %d bots, %d errors, %d redirects)\n",
		s.HitsRecorded, s.HitsDownload, s.HitsBot, s.HitsError, s.HitsRedirect)
	fmt.Fprintf(&b, "%d requests sent, %d retried\n", s.RequestsSent, s.RequestsRetried)
	fmt.Fprintf(&b, "%d distinct hostnames excluded\n", s.DistinctIgnoredHostnames)
	fmt.Fprintf(&b, "elapsed: %s\n", s.Elapsed.Round(time.Millisecond))
	return b.String()
}

// summaryRow is the struct mintab.Table.Load reflects over to build the
// summary table, one row per run (mirrors the teacher's Result struct).
type summaryRow struct {
	LinesParsed              int64  `json:"linesParsed"`
	LinesInvalid             int64  `json:"linesInvalid"`
	LinesFiltered            int64  `json:"linesFiltered"`
	HitsRecorded             int64  `json:"hitsRecorded"`
	HitsDownload             int64  `json:"hitsDownload"`
	HitsBot                  int64  `json:"hitsBot"`
	HitsError                int64  `json:"hitsError"`
	HitsRedirect             int64  `json:"hitsRedirect"`
	RequestsSent             int64  `json:"requestsSent"`
	RequestsRetried          int64  `json:"requestsRetried"`
	DistinctIgnoredHostnames int    `json:"distinctIgnoredHostnames"`
	Elapsed                  string `json:"elapsed"`
}

// WriteTable writes the run's figures to w, as an aligned mintab table
// when fd is a terminal (the same gating parser_result.go applies via
// isatty), falling back to Summary's plain text otherwise.
func (c *Counters) WriteTable(elapsed time.Duration, w io.Writer, fd uintptr) error {
	s := c.snapshot(elapsed)
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		_, err := io.WriteString(w, c.Summary(elapsed))
		return err
	}

	row := summaryRow{
		LinesParsed:              s.LinesParsed,
		LinesInvalid:             s.LinesInvalid,
		LinesFiltered:            s.LinesFiltered,
		HitsRecorded:             s.HitsRecorded,
		HitsDownload:             s.HitsDownload,
		HitsBot:                  s.HitsBot,
		HitsError:                s.HitsError,
		HitsRedirect:             s.HitsRedirect,
		RequestsSent:             s.RequestsSent,
		RequestsRetried:          s.RequestsRetried,
		DistinctIgnoredHostnames: s.DistinctIgnoredHostnames,
		Elapsed:                  s.Elapsed.Round(time.Millisecond).String(),
	}

	table := mintab.New(w, mintab.WithFormat(mintab.FormatText))
	if err := table.Load(&row); err != nil {
		return fmt.Errorf("stats: render summary table: %w", err)
	}
	table.Out()
	return nil
}
