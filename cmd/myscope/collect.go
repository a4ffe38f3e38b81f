package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/dmitriimaksimovdevelop/myscope/internal/collector"
	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
	"github.com/dmitriimaksimovdevelop/myscope/internal/orchestrator"
	"github.com/dmitriimaksimovdevelop/myscope/internal/output"
)

// --- collect command ---

func newCollectCmd(g *globals) *cobra.Command {
	var (
		profile    string
		hosts      []string
		user       string
		passEnv    string
		workers    int
		noStore    bool
		asJSON     bool
		outPath    string
		captureDir string
		aiPrompt   bool
	)
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect diagnostics from MySQL servers",
		Long: `Run the profile's commands on every configured host, parse and classify
the output and store the snapshots.

Profiles: quick (status, processlist), standard (+ innodb, variables),
deep (+ replica, primary).

Hosts come from the config file; --host adds ad-hoc targets
(host[:port] or a socket path) that use --user and --password-env.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if profile != "" {
				if !orchestrator.ValidProfile(profile) {
					return errors.Newf("unknown profile %q (want one of %v)", profile, orchestrator.ProfileNames())
				}
				cfg.Profile = profile
			}
			if workers > 0 {
				cfg.Workers = workers
			}
			targets := cfg.Targets()
			for _, h := range hosts {
				t, err := parseTarget(h)
				if err != nil {
					return err
				}
				t.User = user
				if passEnv != "" {
					t.Password = os.Getenv(passEnv)
				}
				targets = append(targets, t)
			}
			if len(targets) == 0 {
				return errors.New("no hosts: add them to the config file or pass --host")
			}

			c, err := cfg.Classifier()
			if err != nil {
				return err
			}
			ocfg := orchestrator.Config{
				Profile:    cfg.Profile,
				Workers:    cfg.Workers,
				Parallel:   cfg.Parallel,
				Classifier: c,
				Logger:     slog.Default(),
			}
			if !noStore {
				st, err := g.openStore()
				if err != nil {
					return err
				}
				defer st.Close()
				ocfg.Sink = st
				if cfg.Retention > 0 {
					if n, err := st.Prune(cmd.Context(), time.Now().Add(-cfg.Retention)); err != nil {
						slog.Warn("prune failed", "error", err)
					} else if n > 0 {
						slog.Info("pruned old snapshots", "count", n, "retention", cfg.Retention)
					}
				}
			}

			orch := orchestrator.New(orchestrator.SQLDialer(ocfg.Parallel), ocfg)
			job, err := orch.Run(cmd.Context(), targets)
			if err != nil {
				return err
			}

			if captureDir != "" {
				if err := writeCaptures(captureDir, job); err != nil {
					return err
				}
			}

			var prompts map[string]*output.AIContext
			if aiPrompt {
				prompts = make(map[string]*output.AIContext, len(job.Hosts))
				for _, h := range job.Hosts {
					prompts[h.Host] = output.GenerateAIPrompt(promptInput(job.Profile, h))
				}
			}

			if asJSON || outPath != "" {
				return writeJSON(cmd, struct {
					*orchestrator.Job
					AIContext map[string]*output.AIContext `json:"ai_context,omitempty"`
				}{job, prompts}, outPath)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Job %s (profile %s)\n", job.ID, job.Profile)
			if job.Interrupted {
				fmt.Fprintln(w, "Interrupted: results are partial.")
			}
			for _, h := range job.Hosts {
				fmt.Fprintf(w, "\n### %s\n", h.Host)
				if h.Error != "" {
					fmt.Fprintf(w, "error: %s\n", h.Error)
					continue
				}
				for _, f := range h.Failures {
					fmt.Fprintf(w, "failed: %s: %s\n", f.Command, f.Error)
				}
				output.WriteVerdicts(w, h.Verdicts)
				output.WriteRecommendations(w, h.Recommendations)
				if p, ok := prompts[h.Host]; ok {
					fmt.Fprintf(w, "\n%s", p.Prompt)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&profile, "profile", "p", "", "Collection profile: quick, standard, deep (default from config)")
	cmd.Flags().StringSliceVar(&hosts, "host", nil, "Additional host[:port] or socket path (repeatable)")
	cmd.Flags().StringVarP(&user, "user", "u", "root", "User for --host targets")
	cmd.Flags().StringVar(&passEnv, "password-env", "MYSQL_PWD", "Environment variable holding the password for --host targets")
	cmd.Flags().IntVar(&workers, "workers", 0, "Hosts collected concurrently (default from config)")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Do not store snapshots")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the job as JSON")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Write the job JSON to this file")
	cmd.Flags().StringVar(&captureDir, "capture-dir", "", "Write each host's raw capture to this directory")
	cmd.Flags().BoolVar(&aiPrompt, "ai-prompt", false, "Include an AI analysis prompt per host")
	return cmd
}

// parseTarget reads host[:port] or an absolute socket path.
func parseTarget(s string) (collector.Target, error) {
	if strings.HasPrefix(s, "/") {
		return collector.Target{Socket: s}, nil
	}
	host, port, found := strings.Cut(s, ":")
	t := collector.Target{Host: host}
	if found {
		if _, err := fmt.Sscanf(port, "%d", &t.Port); err != nil || t.Port <= 0 || t.Port > 65535 {
			return collector.Target{}, errors.Newf("invalid port in %q", s)
		}
	}
	if host == "" {
		return collector.Target{}, errors.Newf("invalid host %q", s)
	}
	return t, nil
}

func promptInput(profile string, h orchestrator.HostResult) output.PromptInput {
	in := output.PromptInput{
		Host:            h.Host,
		Profile:         profile,
		Verdicts:        h.Verdicts,
		Recommendations: h.Recommendations,
		LongRunning:     output.LongRunning(h.Snapshots),
	}
	for _, f := range h.Failures {
		in.Failures = append(in.Failures, f.Command+": "+f.Error)
	}
	return in
}

// writeCaptures saves each host's capture as <dir>/<host>-<time>.txt.
func writeCaptures(dir string, job *orchestrator.Job) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create capture dir")
	}
	stamp := job.Started.Format("20060102-150405")
	for _, h := range job.Hosts {
		if h.Capture == "" {
			continue
		}
		name := fmt.Sprintf("%s-%s.txt", safeName(h.Host), stamp)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(h.Capture), 0o644); err != nil {
			return errors.Wrapf(err, "write capture %s", path)
		}
		slog.Info("capture written", "host", h.Host, "path", path)
	}
	return nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, strings.Trim(s, "/"))
}

// --- history command ---

func newHistoryCmd(g *globals) *cobra.Command {
	var (
		kind   string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history [host]",
		Short: "List stored snapshots",
		Long:  "List stored snapshots of a host, newest first. Without a host, list the hosts that have snapshots.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := g.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			w := cmd.OutOrStdout()
			if len(args) == 0 {
				hosts, err := st.Hosts(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					if hosts == nil {
						hosts = []string{}
					}
					return writeJSON(cmd, hosts, "")
				}
				for _, h := range hosts {
					fmt.Fprintln(w, h)
				}
				return nil
			}

			if kind != "" && model.Kind(kind).Shape() == model.ShapeUnknown {
				return errors.Newf("unknown kind %q (want one of %v)", kind, model.Kinds())
			}
			records, err := st.History(cmd.Context(), args[0], model.Kind(kind), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, records, "")
			}
			output.WriteRecords(w, records)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Only snapshots of this kind")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
