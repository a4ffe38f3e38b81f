// Package collector runs diagnostic commands against a MySQL server and
// returns their output as the text the mysql client prints in batch mode.
// It is the only package that talks to a server; everything downstream
// works on the captured text.
package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
	"github.com/dmitriimaksimovdevelop/myscope/internal/parser"
)

// Runner abstracts statement execution for testability.
type Runner interface {
	// Run executes query and reads the whole result set.
	Run(ctx context.Context, query string) (*ResultSet, error)
}

// Config controls one host's collection.
type Config struct {
	// Host labels every RawText produced.
	Host string

	// Parallel caps concurrently running commands (default 4).
	Parallel int

	// CommandTimeout bounds each command (default 30s).
	CommandTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Parallel:       4,
		CommandTimeout: 30 * time.Second,
	}
}

// Collector captures command output from one host.
type Collector struct {
	runner Runner
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
}

// New returns a Collector over runner. A nil logger uses slog.Default().
func New(runner Runner, cfg Config, logger *slog.Logger) *Collector {
	def := DefaultConfig()
	if cfg.Parallel <= 0 {
		cfg.Parallel = def.Parallel
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{runner: runner, cfg: cfg, log: logger.With("host", cfg.Host), now: time.Now}
}

// Collect runs every command and returns one CapturedCommand per command,
// in input order. A failed command is reported in its CapturedCommand and
// never aborts the others; the returned error is only set when ctx ends.
func (c *Collector) Collect(ctx context.Context, commands []string) ([]parser.CapturedCommand, error) {
	out := make([]parser.CapturedCommand, len(commands))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Parallel)
	for i, cmd := range commands {
		g.Go(func() error {
			out[i] = c.capture(gctx, cmd)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return out, errors.Wrapf(err, "collect %s", c.cfg.Host)
	}
	return out, nil
}

// Capture runs commands and renders the combined capture document.
func (c *Collector) Capture(ctx context.Context, commands []string) (string, error) {
	started := c.now()
	cmds, err := c.Collect(ctx, commands)
	return parser.FormatCapture(c.cfg.Host, started, cmds), err
}

func (c *Collector) capture(ctx context.Context, command string) parser.CapturedCommand {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()

	start := c.now()
	rs, used, err := c.runWithAliases(ctx, command)
	res := parser.CapturedCommand{
		Raw: model.RawText{
			Command:    command,
			Host:       c.cfg.Host,
			CapturedAt: start.UTC(),
		},
		Duration: c.now().Sub(start),
	}
	if err != nil {
		c.log.Warn("command failed", "command", command, "error", err)
		res.Err = err.Error()
		return res
	}
	if used != command {
		c.log.Debug("used alias", "command", command, "alias", used)
	}
	res.Raw.Text = RenderBatch(rs)
	c.log.Debug("command done", "command", command, "rows", len(rs.Rows), "duration", res.Duration)
	return res
}

// runWithAliases retries a statement the server rejects as a syntax error
// with the registry's older spellings, e.g. SHOW SLAVE STATUS on servers
// that predate SHOW REPLICA STATUS.
func (c *Collector) runWithAliases(ctx context.Context, command string) (*ResultSet, string, error) {
	if err := CheckStatement(command); err != nil {
		return nil, command, err
	}
	rs, err := c.runner.Run(ctx, command)
	if err == nil || !IsSyntaxError(err) {
		return rs, command, err
	}
	spec, ok := parser.Lookup(command)
	if !ok {
		return nil, command, err
	}
	for _, alias := range spec.Aliases {
		if ars, aerr := c.runner.Run(ctx, alias); aerr == nil {
			return ars, alias, nil
		}
	}
	return nil, command, err
}
