package output

import (
	"fmt"
	"strings"

	"github.com/dmitriimaksimovdevelop/myscope/internal/diff"
	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
)

// AIContext is a prompt ready to hand to a language model together with
// the reference material it was built from.
type AIContext struct {
	Prompt        string   `json:"prompt"`
	Methodology   string   `json:"methodology"`
	KnownPatterns []string `json:"known_patterns"`
}

// PromptInput is what one analysis knows about a server.
type PromptInput struct {
	Host            string
	Profile         string
	Verdicts        []model.HealthVerdict
	Recommendations []model.Recommendation
	Diffs           []model.DiffResult
	Failures        []string
	LongRunning     []model.ProcessRow
}

// GenerateAIPrompt creates a context-aware prompt for analysing a MySQL
// server from its classified snapshots and diffs.
func GenerateAIPrompt(in PromptInput) *AIContext {
	ctx := &AIContext{
		Methodology:   "Configuration vs. workload check: compare limits with the counters they bound, then read counter deltas over the interval",
		KnownPatterns: knownAntiPatterns(),
	}

	var sb strings.Builder
	sb.WriteString("You are a MySQL performance and operations expert. ")
	sb.WriteString("Analyze the following diagnostics and provide:\n")
	sb.WriteString("1. Root cause analysis for every critical and warning verdict\n")
	sb.WriteString("2. Tuning recommendations with exact SET GLOBAL statements and my.cnf lines\n")
	sb.WriteString("3. Risk assessment for applying each change on a production server\n")
	sb.WriteString("4. Investigation priorities ordered by impact\n\n")

	host := in.Host
	if host == "" {
		host = "unknown"
	}
	sb.WriteString(fmt.Sprintf("Server: %s", host))
	if in.Profile != "" {
		sb.WriteString(fmt.Sprintf(", Profile: %s", in.Profile))
	}
	sb.WriteString("\n")

	s := model.Summarize(in.Verdicts)
	sb.WriteString(fmt.Sprintf("Health Score: %d/100 (critical %d, warning %d, nominal %d)\n",
		s.Score, s.Critical, s.Warning, s.Nominal))

	var flagged []model.HealthVerdict
	for _, level := range []model.Verdict{model.Critical, model.Warning} {
		for _, v := range in.Verdicts {
			if v.Verdict == level {
				flagged = append(flagged, v)
			}
		}
	}
	if len(flagged) > 0 {
		sb.WriteString(fmt.Sprintf("\nFlagged Keys (%d):\n", len(flagged)))
		for _, v := range flagged {
			sb.WriteString(fmt.Sprintf("  [%s] %s = %s (rule: %s)", strings.ToUpper(string(v.Verdict)), v.Key, v.Observed.Human(), v.Rule))
			if v.Reason != "" {
				sb.WriteString(": " + v.Reason)
			}
			sb.WriteString("\n")
		}
	}

	for _, d := range in.Diffs {
		changed := d.Select(model.Changed)
		if len(changed) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("\nChanged %s values between %s and %s:\n", d.Kind, d.BeforeID, d.AfterID))
		for _, e := range changed {
			sb.WriteString(fmt.Sprintf("  %s: %s -> %s", e.Key, e.Before.Human(), e.After.Human()))
			if e.Delta != nil {
				sb.WriteString(fmt.Sprintf(" (delta %s)", e.Delta.Human()))
			}
			sb.WriteString("\n")
		}
	}

	if len(in.LongRunning) > 0 {
		sb.WriteString(fmt.Sprintf("\nLong-running sessions (%d):\n", len(in.LongRunning)))
		for _, r := range in.LongRunning {
			sb.WriteString(fmt.Sprintf("  id=%d user=%s time=%ds state=%s: %s\n",
				r.ID, r.User, r.Time, deref(r.State), oneLine(deref(r.Info), 120)))
		}
		sb.WriteString("Check whether these sessions hold locks the others wait on.\n")
	}

	if len(in.Failures) > 0 {
		sb.WriteString("\nCommands that produced no data: ")
		sb.WriteString(strings.Join(in.Failures, "; "))
		sb.WriteString("\nDo not draw conclusions from their absence.\n")
	}

	if len(in.Recommendations) > 0 {
		sb.WriteString("\nRule-based recommendations already generated:\n")
		for _, r := range in.Recommendations {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", r.Priority, r.Title))
		}
		sb.WriteString("Confirm or refute each before adding your own.\n")
	}

	sb.WriteString("\nProvide actionable, specific statements. ")
	sb.WriteString("Cite the MySQL reference manual section for each variable you change.\n")

	ctx.Prompt = sb.String()
	return ctx
}

// LongRunning collects the sessions of every process list in snaps that
// have run longer than diff.DefaultLongRunning seconds.
func LongRunning(snaps []model.Snapshot) []model.ProcessRow {
	var out []model.ProcessRow
	for _, s := range snaps {
		if s.Tabular != nil {
			out = append(out, s.Tabular.Filter(model.ProcessFilter{MinTime: diff.DefaultLongRunning + 1})...)
		}
	}
	return out
}

// knownAntiPatterns returns common MySQL misconfigurations and their
// symptoms.
func knownAntiPatterns() []string {
	return []string{
		"M1: Connection exhaustion (Threads_connected near max_connections -> 'Too many connections' errors)",
		"M2: On-disk temporary tables (tmp_table_size or max_heap_table_size too small -> Created_tmp_disk_tables grows)",
		"M3: Mismatched tmp limits (max_heap_table_size < tmp_table_size caps in-memory temp tables at the smaller value)",
		"M4: Table cache thrashing (table_open_cache below Open_tables -> Table_open_cache_overflows)",
		"M5: Thread churn (thread_cache_size too small -> Threads_created climbs with every connection)",
		"M6: Undersized redo log (innodb_log_file_size too small -> checkpoint age pressure and write stalls)",
		"M7: Buffer pool misses (hit rate below 99% -> reads go to disk)",
		"M8: Free page waits (Innodb_buffer_pool_wait_free > 0 -> LRU flushing cannot keep up)",
		"M9: Purge lag (history list length in the hundreds of thousands -> undo growth, slower reads)",
		"M10: Lock pile-up (Innodb_row_lock_waits rising with long-running writers)",
		"M11: Deadlock loops (repeated LATEST DETECTED DEADLOCK on the same rows -> inconsistent lock order)",
		"M12: Relaxed durability (innodb_flush_log_at_trx_commit != 1 or sync_binlog != 1 -> data loss on crash)",
		"M13: Stopped replication (Replica_IO_Running or Replica_SQL_Running != Yes)",
		"M14: Replication lag (Seconds_Behind_Source growing -> stale reads on replicas)",
		"M15: Idle connection hoarding (wait_timeout at 28800 -> sleeping sessions hold slots)",
		"M16: Aborted connections (Aborted_connects rising -> auth failures or network drops)",
		"M17: Slow query growth (Slow_queries delta > 0 -> missing indexes or plan regressions)",
	}
}
