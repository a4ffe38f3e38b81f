// Package orchestrator runs collections across many hosts in parallel with
// timeouts and graceful signal handling, then parses and classifies every
// capture.
package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitriimaksimovdevelop/myscope/internal/collector"
	"github.com/dmitriimaksimovdevelop/myscope/internal/health"
	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
	"github.com/dmitriimaksimovdevelop/myscope/internal/parser"
)

// Dialer opens a statement runner for one target. The closer releases it.
type Dialer func(ctx context.Context, t collector.Target) (collector.Runner, io.Closer, error)

// SQLDialer connects with the MySQL driver, keeping at most maxConns
// connections per host.
func SQLDialer(maxConns int) Dialer {
	return func(ctx context.Context, t collector.Target) (collector.Runner, io.Closer, error) {
		db, err := collector.Open(ctx, t, maxConns)
		if err != nil {
			return nil, nil, err
		}
		return &collector.SQLRunner{DB: db}, db, nil
	}
}

// Sink receives every parsed snapshot of a job.
type Sink interface {
	Save(ctx context.Context, jobID string, snap model.Snapshot) error
}

// Config controls a job.
type Config struct {
	Profile    string
	Workers    int // hosts collected concurrently (default 4)
	Parallel   int // commands per host run concurrently (default 4)
	Classifier *health.Classifier
	Sink       Sink
	Logger     *slog.Logger
}

// CommandError records a command that produced no snapshot.
type CommandError struct {
	Command string `json:"command"`
	Error   string `json:"error"`
}

// HostResult is everything learned about one host.
type HostResult struct {
	Host            string                 `json:"host"`
	Error           string                 `json:"error,omitempty"`
	Snapshots       []model.Snapshot       `json:"snapshots"`
	Failures        []CommandError         `json:"failures,omitempty"`
	Verdicts        []model.HealthVerdict  `json:"verdicts"`
	Summary         model.HealthSummary    `json:"summary"`
	Recommendations []model.Recommendation `json:"recommendations,omitempty"`
	Capture         string                 `json:"-"`
}

// Job is the result of one run over a set of hosts.
type Job struct {
	ID            string       `json:"id"`
	SchemaVersion string       `json:"schema_version"`
	Profile       string       `json:"profile"`
	Started       time.Time    `json:"started"`
	Finished      time.Time    `json:"finished"`
	Interrupted   bool         `json:"interrupted,omitempty"`
	Hosts         []HostResult `json:"hosts"`
}

// Orchestrator coordinates collection, parsing and classification.
type Orchestrator struct {
	dial Dialer
	cfg  Config
	log  *slog.Logger
}

// New creates an Orchestrator. A nil dialer uses SQLDialer.
func New(dial Dialer, cfg Config) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 4
	}
	if cfg.Profile == "" {
		cfg.Profile = "standard"
	}
	if cfg.Classifier == nil {
		cfg.Classifier = health.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if dial == nil {
		dial = SQLDialer(cfg.Parallel)
	}
	return &Orchestrator{dial: dial, cfg: cfg, log: cfg.Logger}
}

// Run collects every target. A failed host is recorded in its HostResult
// and never fails the job. Returns a partial job if interrupted
// (SIGINT/SIGTERM).
func (o *Orchestrator) Run(ctx context.Context, targets []collector.Target) (*Job, error) {
	if len(targets) == 0 {
		return nil, errors.New("no hosts to collect")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	profile := GetProfile(o.cfg.Profile)
	commands := profile.Commands()

	// Signal handling starts after the context derivations above.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	interrupted := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			o.log.Warn("received signal, finishing with partial results", "signal", sig.String())
			close(interrupted)
			cancel()
		case <-ctx.Done():
		}
	}()
	defer signal.Stop(sigCh)

	job := &Job{
		ID:            uuid.NewString(),
		SchemaVersion: model.SchemaVersion,
		Profile:       o.cfg.Profile,
		Started:       time.Now().UTC(),
		Hosts:         make([]HostResult, len(targets)),
	}
	o.log.Info("starting collection", "job", job.ID, "profile", o.cfg.Profile,
		"hosts", len(targets), "commands", len(commands))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i, t := range targets {
		g.Go(func() error {
			job.Hosts[i] = o.collectHost(gctx, job.ID, t, commands, profile.Timeout)
			return nil
		})
	}
	_ = g.Wait()

	job.Finished = time.Now().UTC()
	select {
	case <-interrupted:
		job.Interrupted = true
	default:
	}
	o.log.Info("collection complete", "job", job.ID, "duration", job.Finished.Sub(job.Started).Round(time.Millisecond))
	return job, nil
}

func (o *Orchestrator) collectHost(ctx context.Context, jobID string, t collector.Target, commands []string, timeout time.Duration) HostResult {
	label := t.Label()
	log := o.log.With("host", label)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	runner, closer, err := o.dial(ctx, t)
	if err != nil {
		log.Error("connect failed", "error", err)
		return HostResult{Host: label, Error: err.Error(), Summary: model.Summarize(nil)}
	}
	defer closer.Close()

	c := collector.New(runner, collector.Config{Host: label, Parallel: o.cfg.Parallel}, log)
	cmds, err := c.Collect(ctx, commands)
	if err != nil {
		log.Warn("collection interrupted", "error", err)
	}

	res := o.Analyze(label, cmds)
	res.Capture = parser.FormatCapture(label, start, cmds)
	if o.cfg.Sink != nil {
		for _, snap := range res.Snapshots {
			if err := o.cfg.Sink.Save(ctx, jobID, snap); err != nil {
				log.Error("store snapshot", "kind", snap.Kind(), "error", err)
			}
		}
	}
	log.Info("host done", "snapshots", len(res.Snapshots), "failures", len(res.Failures),
		"score", res.Summary.Score, "duration", time.Since(start).Round(time.Millisecond))
	return res
}

// Analyze parses and classifies already captured output, e.g. a capture
// file split with parser.SplitCapture. It performs no I/O.
func (o *Orchestrator) Analyze(host string, cmds []parser.CapturedCommand) HostResult {
	res := HostResult{Host: host}
	for _, c := range cmds {
		if c.Failed() {
			res.Failures = append(res.Failures, CommandError{Command: c.Raw.Command, Error: c.Err})
			continue
		}
		raw := c.Raw
		if raw.Host == "" {
			raw.Host = host
		}
		snap, err := parser.Parse(raw)
		if err != nil {
			o.log.Debug("parse failed", "host", host, "command", raw.Command, "error", err)
			res.Failures = append(res.Failures, CommandError{Command: raw.Command, Error: err.Error()})
			continue
		}
		res.Snapshots = append(res.Snapshots, snap)
	}
	res.Verdicts = Classify(o.cfg.Classifier, res.Snapshots)
	res.Summary = model.Summarize(res.Verdicts)
	res.Recommendations = model.GenerateRecommendations(res.Verdicts)
	return res
}

// Classify classifies each snapshot with the host's other key/value
// snapshots as context, so variables see the status counters they are
// judged against.
func Classify(c *health.Classifier, snaps []model.Snapshot) []model.HealthVerdict {
	return ClassifyWithContext(c, snaps, nil)
}

// ClassifyWithContext is Classify with extra snapshots that only serve as
// rule context; their own keys are not classified.
func ClassifyWithContext(c *health.Classifier, snaps, extra []model.Snapshot) []model.HealthVerdict {
	var related []*model.KeyValueSnapshot
	for _, group := range [][]model.Snapshot{snaps, extra} {
		for _, s := range group {
			if s.KeyValue != nil {
				related = append(related, s.KeyValue)
			}
		}
	}
	var out []model.HealthVerdict
	for _, s := range snaps {
		out = append(out, c.ClassifySnapshot(s, related...)...)
	}
	return out
}
