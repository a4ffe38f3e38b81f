package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/dmitriimaksimovdevelop/myscope/internal/health"
	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
	"github.com/dmitriimaksimovdevelop/myscope/internal/store"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader(header)
	return table
}

// WriteSnapshot prints a snapshot as a table followed by its diagnostics.
func WriteSnapshot(w io.Writer, snap model.Snapshot) {
	meta := snap.Meta()
	fmt.Fprintf(w, "=== %s", meta.Kind)
	if meta.Host != "" {
		fmt.Fprintf(w, " @ %s", meta.Host)
	}
	fmt.Fprintf(w, " (%s) ===\n", meta.ID)

	switch {
	case snap.KeyValue != nil:
		table := newTable(w, "Key", "Value")
		for _, e := range snap.KeyValue.Entries {
			table.Append([]string{e.Key, e.Value.Human()})
		}
		table.Render()
	case snap.InnoDB != nil:
		table := newTable(w, "Section", "Fact", "Value")
		for _, f := range snap.InnoDB.Facts {
			table.Append([]string{f.Section, f.Name, f.Value.Human()})
		}
		table.Render()
		if n := len(snap.InnoDB.Transactions); n > 0 {
			fmt.Fprintf(w, "Transactions: %d excerpts\n", n)
		}
		if snap.InnoDB.Deadlock != "" {
			fmt.Fprintln(w, "Latest deadlock recorded.")
		}
	case snap.Tabular != nil:
		WriteProcessRows(w, snap.Tabular.Rows)
	}
	WriteDiagnostics(w, snap.Diagnostics())
}

// WriteProcessRows prints sessions; long queries are cut to one line.
func WriteProcessRows(w io.Writer, rows []model.ProcessRow) {
	table := newTable(w, "Id", "User", "Host", "db", "Command", "Time", "State", "Info")
	for _, r := range rows {
		table.Append([]string{
			strconv.FormatInt(r.ID, 10), r.User, r.Host, deref(r.DB), r.Command,
			strconv.FormatInt(r.Time, 10), deref(r.State), oneLine(deref(r.Info), 60),
		})
	}
	table.Render()
}

// WriteDiagnostics prints what a parser skipped; nothing for a clean parse.
func WriteDiagnostics(w io.Writer, d model.Diagnostics) {
	if d.Clean() {
		return
	}
	fmt.Fprintln(w, "Diagnostics:")
	if d.SkippedLines > 0 {
		fmt.Fprintf(w, "  skipped lines: %d\n", d.SkippedLines)
	}
	if d.MalformedRows > 0 {
		fmt.Fprintf(w, "  malformed rows: %d\n", d.MalformedRows)
	}
	if len(d.DuplicateKeys) > 0 {
		fmt.Fprintf(w, "  duplicate keys: %s\n", strings.Join(d.DuplicateKeys, ", "))
	}
	if len(d.UnrecognizedSections) > 0 {
		fmt.Fprintf(w, "  unrecognized sections: %s\n", strings.Join(d.UnrecognizedSections, ", "))
	}
	for _, n := range d.Notes {
		fmt.Fprintf(w, "  note: %s\n", n)
	}
}

// WriteVerdicts prints verdicts worst first, then the summary line.
func WriteVerdicts(w io.Writer, verdicts []model.HealthVerdict) {
	table := newTable(w, "Verdict", "Key", "Observed", "Rule", "Reason")
	for _, level := range []model.Verdict{model.Critical, model.Warning, model.Nominal} {
		for _, v := range verdicts {
			if v.Verdict == level {
				table.Append([]string{strings.ToUpper(string(v.Verdict)), v.Key, v.Observed.Human(), v.Rule, v.Reason})
			}
		}
	}
	table.Render()
	s := model.Summarize(verdicts)
	fmt.Fprintf(w, "Health: %d/100 (critical %d, warning %d, nominal %d)\n", s.Score, s.Critical, s.Warning, s.Nominal)
}

// WriteRecommendations prints each recommendation with its commands.
func WriteRecommendations(w io.Writer, recs []model.Recommendation) {
	if len(recs) == 0 {
		return
	}
	fmt.Fprintln(w, "\nRecommendations:")
	for _, r := range recs {
		fmt.Fprintf(w, "%d. %s\n   evidence: %s\n   impact:   %s\n", r.Priority, r.Title, r.Evidence, r.ExpectedImpact)
		for _, c := range r.Commands {
			fmt.Fprintf(w, "   $ %s\n", c)
		}
		for _, p := range r.Persistent {
			fmt.Fprintf(w, "   my.cnf: %s\n", strings.ReplaceAll(p, "\n", " "))
		}
	}
}

// WriteRules prints a rule table in evaluation order.
func WriteRules(w io.Writer, rules []health.Rule) {
	table := newTable(w, "#", "Condition", "Verdict", "Reason")
	for i, r := range rules {
		table.Append([]string{strconv.Itoa(i + 1), r.String(), string(r.Verdict), r.Reason})
	}
	table.Render()
}

// WriteRecords prints stored snapshot records.
func WriteRecords(w io.Writer, records []store.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No snapshots stored.")
		return
	}
	table := newTable(w, "Id", "Kind", "Captured", "Job", "Degraded")
	for _, r := range records {
		degraded := ""
		if r.Degraded {
			degraded = "yes"
		}
		table.Append([]string{r.ID, string(r.Kind), r.CapturedAt.Format("2006-01-02 15:04:05"), r.JobID, degraded})
	}
	table.Render()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
