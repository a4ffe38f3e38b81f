// myscope parses, compares and health-checks MySQL diagnostic output.
//
// It reads what the mysql client prints for SHOW ENGINE INNODB STATUS,
// SHOW GLOBAL STATUS and VARIABLES, SHOW FULL PROCESSLIST and the
// replication status commands, either from files or by collecting it from
// live servers, and keeps snapshots in SQLite for later comparison.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/dmitriimaksimovdevelop/myscope/internal/config"
	diffpkg "github.com/dmitriimaksimovdevelop/myscope/internal/diff"
	"github.com/dmitriimaksimovdevelop/myscope/internal/health"
	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
	"github.com/dmitriimaksimovdevelop/myscope/internal/orchestrator"
	"github.com/dmitriimaksimovdevelop/myscope/internal/output"
	"github.com/dmitriimaksimovdevelop/myscope/internal/parser"
	"github.com/dmitriimaksimovdevelop/myscope/internal/store"
)

var (
	version = "0.1.0"
)

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	dbPath     string
	rulesFile  string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:   "myscope",
		Short: "MySQL diagnostic parser, differ and health checker",
		Long: `myscope turns the text output of MySQL diagnostic commands into
structured snapshots, compares snapshots taken at different times and
classifies every key as nominal, warning or critical.

Supported commands: SHOW ENGINE INNODB STATUS, SHOW GLOBAL STATUS,
SHOW GLOBAL VARIABLES, SHOW FULL PROCESSLIST, SHOW REPLICA STATUS,
SHOW MASTER STATUS.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(cmd.ErrOrStderr(), g.verbose)
		},
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", os.Getenv("MYSCOPE_CONFIG"), "Config file (YAML)")
	pf.StringVar(&g.dbPath, "db", "", "Snapshot database path (overrides config)")
	pf.StringVar(&g.rulesFile, "rules", "", "Health rule table (YAML, replaces the built-in rules)")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newParseCmd(g),
		newDiffCmd(g),
		newHealthCmd(g),
		newCollectCmd(g),
		newHistoryCmd(g),
		newRulesCmd(g),
		newMCPCmd(g),
	)
	return rootCmd
}

func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// loadConfig loads the config file and applies flag overrides.
func (g *globals) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.dbPath != "" {
		cfg.DBPath = g.dbPath
	}
	if g.rulesFile != "" {
		cfg.RulesFile = g.rulesFile
	}
	return cfg, nil
}

func (g *globals) classifier() (*health.Classifier, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.Classifier()
}

func (g *globals) openStore() (*store.Store, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.DBPath)
}

// --- parse command ---

func newParseCmd(g *globals) *cobra.Command {
	var (
		command string
		host    string
		asJSON  bool
		outPath string
		save    bool
	)
	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse command output into snapshots",
		Long: `Parse the output of one diagnostic command, or a capture file produced by
'myscope collect', into structured snapshots. Use - to read stdin.

--command accepts the SQL text or a kind (innodb, status, variables,
processlist, replica, primary); without it the kind is detected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snaps, err := parseInput(cmd, args[0], command, host)
			if err != nil {
				return err
			}
			if save {
				st, err := g.openStore()
				if err != nil {
					return err
				}
				defer st.Close()
				for _, s := range snaps {
					if err := st.Save(cmd.Context(), "", s); err != nil {
						return err
					}
					slog.Info("snapshot stored", "id", s.Meta().ID, "kind", s.Kind())
				}
			}
			if asJSON || outPath != "" {
				if len(snaps) == 1 {
					return writeJSON(cmd, snaps[0], outPath)
				}
				return writeJSON(cmd, snaps, outPath)
			}
			for _, s := range snaps {
				output.WriteSnapshot(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&command, "command", "", "Command or kind that produced the output")
	cmd.Flags().StringVar(&command, "kind", "", "Alias of --command")
	cmd.Flags().StringVar(&host, "host", "", "Host label for the snapshot")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of tables")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Write JSON to this file")
	cmd.Flags().BoolVar(&save, "save", false, "Store the snapshots in the database")
	return cmd
}

// parseInput parses a file. Capture files yield one snapshot per
// successful command; failed or unparsable commands are logged.
func parseInput(cmd *cobra.Command, path, hint, host string) ([]model.Snapshot, error) {
	text, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	if captured := parser.SplitCapture(text); len(captured) > 0 {
		var snaps []model.Snapshot
		for _, c := range captured {
			if c.Failed() {
				slog.Warn("command failed during capture", "command", c.Raw.Command, "error", c.Err)
				continue
			}
			if host != "" {
				c.Raw.Host = host
			}
			snap, err := parser.Parse(c.Raw)
			if err != nil {
				slog.Warn("skipping command", "command", c.Raw.Command, "error", err)
				continue
			}
			snaps = append(snaps, snap)
		}
		if len(snaps) == 0 {
			return nil, errors.Newf("%s: no command in the capture could be parsed", path)
		}
		return snaps, nil
	}

	snap, err := parser.ParseDump(text, hint)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	if host != "" {
		setHost(&snap, host)
	}
	return []model.Snapshot{snap}, nil
}

func setHost(snap *model.Snapshot, host string) {
	switch {
	case snap.KeyValue != nil:
		snap.KeyValue.Host = host
	case snap.Tabular != nil:
		snap.Tabular.Host = host
	case snap.InnoDB != nil:
		snap.InnoDB.Host = host
	}
}

// --- diff command ---

func newDiffCmd(g *globals) *cobra.Command {
	var (
		command string
		only    string
		jobs    []string
		asJSON  bool
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "diff <before> <after> | --job <before> --job <after>",
		Short: "Compare two snapshots",
		Long: `Compare two snapshots of the same kind. Each argument is a command output
file, a snapshot JSON file or the id of a stored snapshot (see 'history').
Counters whose growth signals a problem are classified.

With --job twice, compare two stored collection runs: every host both runs
captured is compared kind by kind.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(jobs) > 0 {
				if len(jobs) != 2 {
					return errors.Newf("--job needs exactly two job ids, got %d", len(jobs))
				}
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := diffpkg.Options{}
			if only != "" {
				opts.Only = strings.Split(only, ",")
			}
			if len(jobs) == 2 {
				return diffJobs(cmd, g, jobs[0], jobs[1], opts, asJSON, outPath)
			}

			var st *store.Store
			resolve := func(arg, hint string) (model.Snapshot, error) {
				if _, err := os.Stat(arg); err == nil || arg == "-" {
					return loadSnapshot(cmd, arg, hint)
				}
				if st == nil {
					var err error
					if st, err = g.openStore(); err != nil {
						return model.Snapshot{}, err
					}
				}
				return st.Get(cmd.Context(), arg)
			}
			defer func() {
				if st != nil {
					st.Close()
				}
			}()

			before, err := resolve(args[0], command)
			if err != nil {
				return errors.Wrap(err, "load before")
			}
			hint := command
			if hint == "" {
				hint = string(before.Kind())
			}
			after, err := resolve(args[1], hint)
			if err != nil {
				return errors.Wrap(err, "load after")
			}

			result, err := diffpkg.CompareWith(before, after, opts)
			if err != nil {
				return err
			}

			c, err := g.classifier()
			if err != nil {
				return err
			}
			verdicts := c.ClassifyDiff(result)

			if asJSON || outPath != "" {
				return writeJSON(cmd, struct {
					Diff     *model.DiffResult     `json:"diff"`
					Summary  diffpkg.Summary       `json:"summary"`
					Verdicts []model.HealthVerdict `json:"verdicts"`
				}{result, diffpkg.Summarize(result), verdicts}, outPath)
			}
			w := cmd.OutOrStdout()
			fmt.Fprint(w, diffpkg.FormatDiff(result))
			if len(verdicts) > 0 {
				fmt.Fprintln(w)
				output.WriteVerdicts(w, verdicts)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&command, "command", "", "Command or kind of text inputs")
	cmd.Flags().StringVar(&only, "only", "", "Compare only these keys (comma-separated, globs allowed)")
	cmd.Flags().StringSliceVar(&jobs, "job", nil, "Compare two stored collection runs (give twice)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of text")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Write JSON to this file")
	return cmd
}

// diffJobs compares two stored collection runs host by host.
func diffJobs(cmd *cobra.Command, g *globals, beforeID, afterID string, opts diffpkg.Options, asJSON bool, outPath string) error {
	st, err := g.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	before, err := st.Job(cmd.Context(), beforeID)
	if err != nil {
		return err
	}
	after, err := st.Job(cmd.Context(), afterID)
	if err != nil {
		return err
	}
	jd, err := diffpkg.CompareJobs(before, after, opts)
	if err != nil {
		return err
	}
	jd.BeforeJob, jd.AfterJob = beforeID, afterID

	c, err := g.classifier()
	if err != nil {
		return err
	}
	for i := range jd.Hosts {
		jd.Hosts[i].Verdicts = c.ClassifyDiff(jd.Hosts[i].Diff)
	}
	slog.Debug("compared jobs", "before", beforeID, "after", afterID,
		"common", len(jd.CommonHosts), "diffs", len(jd.Hosts))

	if asJSON || outPath != "" {
		return writeJSON(cmd, jd, outPath)
	}
	w := cmd.OutOrStdout()
	fmt.Fprint(w, diffpkg.FormatJobDiff(jd))
	for _, h := range jd.Hosts {
		if len(h.Verdicts) > 0 {
			fmt.Fprintf(w, "\n%s (%s):\n", h.Host, h.Kind)
			output.WriteVerdicts(w, h.Verdicts)
		}
	}
	return nil
}

// loadSnapshot reads a snapshot JSON document or parses command output.
func loadSnapshot(cmd *cobra.Command, path, hint string) (model.Snapshot, error) {
	if path != "-" {
		if head, err := peek(path); err == nil && strings.HasPrefix(strings.TrimSpace(head), "{") {
			return diffpkg.LoadSnapshot(path)
		}
	}
	text, err := readInput(cmd, path)
	if err != nil {
		return model.Snapshot{}, err
	}
	snap, err := parser.ParseDump(text, hint)
	return snap, errors.Wrapf(err, "%s", path)
}

// --- health command ---

func newHealthCmd(g *globals) *cobra.Command {
	var (
		command     string
		contextPath string
		asJSON      bool
		outPath     string
		aiPrompt    bool
	)
	cmd := &cobra.Command{
		Use:   "health <file>",
		Short: "Classify a snapshot against the health rules",
		Long: `Classify every key of a command output or capture file as nominal,
warning or critical and print recommendations for what is flagged.

Rules that compare a variable with a counter (max_connections against
Threads_connected, table_open_cache against Open_tables) need both: pass
a capture file, or --context with the status or variables output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.classifier()
			if err != nil {
				return err
			}
			snaps, err := parseInput(cmd, args[0], command, "")
			if err != nil {
				return err
			}
			var extra []model.Snapshot
			if contextPath != "" {
				if extra, err = parseInput(cmd, contextPath, "", ""); err != nil {
					return errors.Wrap(err, "context")
				}
				for _, s := range extra {
					if s.KeyValue == nil {
						return errors.Newf("context %s: want status or variables output, got %s", contextPath, s.Kind())
					}
				}
			}
			verdicts := orchestrator.ClassifyWithContext(c, snaps, extra)

			summary := model.Summarize(verdicts)
			recs := model.GenerateRecommendations(verdicts)
			var aiCtx *output.AIContext
			if aiPrompt {
				aiCtx = output.GenerateAIPrompt(output.PromptInput{
					Host:            snaps[0].Meta().Host,
					Verdicts:        verdicts,
					Recommendations: recs,
					LongRunning:     output.LongRunning(snaps),
				})
			}

			if asJSON || outPath != "" {
				return writeJSON(cmd, struct {
					Summary         model.HealthSummary    `json:"summary"`
					Verdicts        []model.HealthVerdict  `json:"verdicts"`
					Recommendations []model.Recommendation `json:"recommendations,omitempty"`
					AIContext       *output.AIContext      `json:"ai_context,omitempty"`
				}{summary, verdicts, recs, aiCtx}, outPath)
			}
			w := cmd.OutOrStdout()
			output.WriteVerdicts(w, verdicts)
			output.WriteRecommendations(w, recs)
			if aiCtx != nil {
				fmt.Fprintf(w, "\n%s", aiCtx.Prompt)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&command, "command", "", "Command or kind that produced the output")
	cmd.Flags().StringVar(&contextPath, "context", "", "Status or variables output from the same server")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of tables")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Write JSON to this file")
	cmd.Flags().BoolVar(&aiPrompt, "ai-prompt", false, "Include an AI analysis prompt")
	return cmd
}

// --- rules command ---

func newRulesCmd(g *globals) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Print the active health rules",
		Long:  "Print the rule table in evaluation order. --yaml prints a file that --rules accepts.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.classifier()
			if err != nil {
				return err
			}
			if asYAML {
				data, err := health.MarshalRules(c.Rules())
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			output.WriteRules(cmd.OutOrStdout(), c.Rules())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print the rules as YAML")
	return cmd
}

func readInput(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", errors.Wrapf(err, "read %s", path)
	}
	return string(data), nil
}

func peek(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return string(buf[:n]), nil
}

// writeJSON prints v to the command output, or to path when set.
func writeJSON(cmd *cobra.Command, v any, path string) error {
	if path == "" || path == "-" {
		return output.EncodeJSON(cmd.OutOrStdout(), v)
	}
	return output.WriteJSON(v, path)
}
