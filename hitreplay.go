package hitreplay

import (
	"context"
	"io"

	"github.com/nekrassov01/hitreplay/internal/stats"
	"github.com/nekrassov01/hitreplay/internal/trackconfig"
	"github.com/nekrassov01/hitreplay/internal/trackctx"
	"github.com/sirupsen/logrus"
)

// Config is the configuration surface a caller populates before
// starting a run. See trackconfig.Config's field docs for every option.
type Config = trackconfig.Config

// Runner drives one log-replay run end to end.
type Runner struct {
	ctx *trackctx.Context
}

// New validates cfg, detects the log format from detectLines/headerLines
// (sample lines the caller has already read — opening the underlying
// file or stream is the caller's responsibility), and returns a Runner
// ready to process input via Run. Pass a non-nil logger to receive
// structured diagnostics; nil uses logrus's default logger.
func New(cfg *Config, detectLines, headerLines []string, logger *logrus.Logger) (*Runner, error) {
	c, err := trackctx.New(cfg, detectLines, headerLines, logger)
	if err != nil {
		return nil, err
	}
	return &Runner{ctx: c}, nil
}

// Run scans r, an already-open reader over one log source, replaying
// every surviving hit against the configured tracker. It returns the
// first fatal error encountered.
func (r *Runner) Run(ctx context.Context, filename string, src io.Reader) error {
	return r.ctx.Run(ctx, filename, src)
}

// Counters exposes the run's live statistics.
func (r *Runner) Counters() *stats.Counters { return r.ctx.Counters }

// RunID returns the correlation id stamped on this run's log output.
func (r *Runner) RunID() string { return r.ctx.RunID }
